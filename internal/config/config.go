// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package config implements spec.md §6's enumerated Configuration list and
// the ambient logging setup §7 requires: flags/ini parsing is
// github.com/jessevdk/go-flags, CLI long/short flag shape
// (--datadir/-b) matching the teacher's own exccd.conf convention,
// and leveled subsystem loggers (NODE, CHAN, MPOL, NSYN, PEER, DISC; see
// log.go) backed by github.com/decred/slog and rotated to disk by
// github.com/jrick/logrotate.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/aix-network/aixd/blockchain/validation"
	"github.com/aix-network/aixd/chaincfg"
	"github.com/aix-network/aixd/crypto"
	"github.com/aix-network/aixd/errs"
	"github.com/decred/dcrd/dcrutil/v4"
	"github.com/decred/go-socks/socks"
	"github.com/decred/slog"
	"github.com/jessevdk/go-flags"
	"github.com/jrick/logrotate/rotator"
)

// defaultDataDir, defaultConfigFile, and defaultLogFilename mirror the
// teacher's own top-level layout (an application data directory holding
// the config file, chain.dat, and logs/ side by side).
const (
	defaultDataDirName  = "aixd"
	defaultConfigName   = "aixd.conf"
	defaultLogFilename  = "aixd.log"
	defaultListenAddr   = ":9966"
	defaultMaxLogRolls  = 3
	defaultLogFileBytes = 10 * 1024 * 1024
	defaultRPCCertName  = "aixd.cert"
	defaultRPCKeyName   = "aixd.key"
)

// Config is the flattened set of every option spec.md §6 enumerates, plus
// the handful of ambient options (listen address, log level, config file
// path) every long-running daemon needs regardless of domain. go-flags
// struct tags supply the long/short flag names and ini section mapping.
// The parsed *chaincfg.Params and genesis premine values are not fields
// here; Load resolves them into Loaded after flag parsing.
type Config struct {
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir    string `short:"b" long:"datadir" description:"Directory to store chain.dat, backups, and checkpoints"`
	LogDir     string `long:"logdir" description:"Directory to log output to"`

	Network string `long:"network" description:"Network to connect to" choice:"mainnet" choice:"testnet" choice:"devnet"`

	Listen         string   `long:"listen" description:"Address to listen for inbound peer connections on"`
	ConnectPeers   []string `long:"connect" description:"Connect only to the specified peers at startup"`
	NodeURL        string   `long:"nodeurl" description:"This node's own externally reachable URL, advertised in handshakes"`
	GenesisFile    string   `long:"genesisfile" description:"Path to a JSON file naming the premine recipient/amount for a first run"`
	SyncPeerFanout int      `long:"syncfanout" description:"Number of peers (k) to query in parallel during header sync"`
	HeadersPerReq  uint32   `long:"headersperreq" description:"Headers requested per get_headers call during sync"`

	Proxy     string `long:"proxy" description:"Route outbound peer connections through this SOCKS5 proxy (host:port)"`
	ProxyUser string `long:"proxyuser" description:"Username for proxy server"`
	ProxyPass string `long:"proxypass" description:"Password for proxy server"`

	RPCCert string `long:"rpccert" description:"File containing the TLS certificate for the peer listener"`
	RPCKey  string `long:"rpckey" description:"File containing the TLS key for the peer listener"`

	MinerAddress string `long:"mineraddress" description:"Address to pay block rewards to; mining starts automatically if set"`

	GovernancePubKey   string   `long:"governancepubkey" description:"Hex-encoded secp256k1 public key authorized to sign governance/protected transactions"`
	ProtectedAddresses []string `long:"protectedaddress" description:"Address exempt from ordinary spends, requiring a governance co-signature"`

	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical}"`

	// Consensus/economic overrides. Zero value means "use the network
	// preset unchanged" (Load only overwrites a *Params field when the
	// corresponding flag was explicitly supplied).
	InitialDifficulty int     `long:"initialdifficulty"`
	TargetInterval    int64   `long:"targetinterval" description:"Target seconds between blocks"`
	RetargetInterval  uint64  `long:"retargetinterval"`
	RetargetClamp     float64 `long:"retargetclamp"`
	MaxClockSkew      int64   `long:"maxclockskew" description:"Max accepted clock skew in seconds"`
	InitialReward     uint64  `long:"initialreward"`
	HalvingInterval   uint64  `long:"halvinginterval"`
	MaxSupply         uint64  `long:"maxsupply"`
	MinFee            uint64  `long:"minfee"`

	MaxBlockSize  int    `long:"maxblocksize"`
	MaxBlockTxs   int    `long:"maxblocktxs"`
	MaxTxSize     int    `long:"maxtxsize"`
	MaxMempool    int    `long:"maxmempool"`
	MaxReorgDepth uint64 `long:"maxreorgdepth"`

	MaxPeersTotal     int     `long:"maxpeerstotal"`
	MaxPeersPerIP     int     `long:"maxpeersperip"`
	MaxPeersPerSubnet int     `long:"maxpeerspersubnet"`
	MinDiversePeers   int     `long:"mindiversepeers"`
	TargetPeers       int     `long:"targetpeers"`
	DiscoveryInterval int64   `long:"discoveryinterval" description:"Seconds between discovery ticks"`
	PeerMaxIdle       int64   `long:"peermaxidle" description:"Seconds of inactivity before a peer is evicted"`
	PeerIOTimeout     int64   `long:"peeriotimeout" description:"Seconds before a peer I/O call times out"`
	BanDuration       int64   `long:"banduration" description:"Seconds a banned peer stays banned"`
	RateLimitRPS      float64 `long:"ratelimitrps"`
	DedupCapacity     int     `long:"dedupcapacity"`
	MaxPeerQueue      int     `long:"maxpeerqueue"`
	MaxInflightBlocks int     `long:"maxinflightblocks"`

	CheckpointInterval uint64 `long:"checkpointinterval"`
	MaxBackups         int    `long:"maxbackups"`
	BackupOnSave       bool   `long:"backuponsave"`
}

// GenesisManifest is the shape of the optional -genesisfile JSON document
// naming the one-time premine recipient/amount, consulted only when no
// chain.dat exists yet (internal/node.LoadOrInit's fresh-genesis path).
// A plain JSON document rather than go-flags/ini: it's a one-shot,
// rarely-hand-edited artifact (a wallet address and a number), not a
// day-to-day operator knob, so stdlib encoding/json is the boundary
// format rather than an ecosystem config library.
type GenesisManifest struct {
	PremineRecipient string `json:"premine_recipient"`
	PremineAmount    uint64 `json:"premine_amount"`
}

// Loaded is everything a fully parsed configuration resolves to: the
// chosen network's tuned *chaincfg.Params (with any CLI overrides
// applied), plus the handful of values cmd/aixd needs that aren't part of
// Params itself.
type Loaded struct {
	Cfg              *Config
	Params           *chaincfg.Params
	PremineRecipient crypto.Address
	PremineAmount    uint64
	MinerAddress     crypto.Address
	HasMinerAddress  bool
	Proxy            *socks.Proxy // nil unless -proxy was supplied
	Gov              validation.GovernanceSigner
	Prot             validation.ProtectedAddressPredicate
	Log              slog.Logger
	Loggers          *SubsystemLoggers
	LogRotator       *rotator.Rotator
}

// defaultConfig returns a Config pre-populated with the teacher-style
// default paths, before ini/flag parsing overlays operator-supplied
// values on top.
func defaultConfig() *Config {
	dataDir := defaultAppDataDir()
	return &Config{
		ConfigFile:     filepath.Join(dataDir, defaultConfigName),
		DataDir:        dataDir,
		LogDir:         filepath.Join(dataDir, "logs"),
		Network:        "mainnet",
		Listen:         defaultListenAddr,
		SyncPeerFanout: 3,
		HeadersPerReq:  2000,
		DebugLevel:     "info",
		RPCCert:        filepath.Join(dataDir, defaultRPCCertName),
		RPCKey:         filepath.Join(dataDir, defaultRPCKeyName),
	}
}

// defaultAppDataDir resolves the per-OS application data directory the same
// way every decred-family daemon does (dcrd, dcrwallet, exccd all call
// dcrutil.AppDataDir with roaming=false in their own config.go), rather than
// hand-rolling the Windows/macOS/XDG distinctions dcrutil already handles.
func defaultAppDataDir() string {
	return dcrutil.AppDataDir(defaultDataDirName, false)
}

// Load parses args against the ini config file (if present) and then CLI
// flags (which take precedence), resolves the chosen network's Params with
// any overrides applied, loads an optional genesis manifest, and stands up
// the logging backend. Modeled on the teacher's own two-pass
// (pre-parse-for-configfile, then ini, then flags) config.go shape.
func Load(args []string) (*Loaded, error) {
	cfg := defaultConfig()

	preParser := flags.NewParser(cfg, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := preParser.ParseArgs(args); err != nil {
		if flags.WroteHelp(err) {
			return nil, err
		}
		return nil, errs.New(errs.Config, errs.ReasonInvalidConfig, "parse command line: %v", err)
	}

	if fileExists(cfg.ConfigFile) {
		parser := flags.NewIniParser(flags.NewParser(cfg, flags.Default))
		if err := parser.ParseFile(cfg.ConfigFile); err != nil {
			return nil, errs.New(errs.Config, errs.ReasonInvalidConfig, "parse config file %s: %v", cfg.ConfigFile, err)
		}
	}

	finalParser := flags.NewParser(cfg, flags.Default)
	if _, err := finalParser.ParseArgs(args); err != nil {
		if flags.WroteHelp(err) {
			return nil, err
		}
		return nil, errs.New(errs.Config, errs.ReasonInvalidConfig, "parse command line: %v", err)
	}

	params, err := chaincfg.ByName(cfg.Network)
	if err != nil {
		return nil, errs.New(errs.Config, errs.ReasonInvalidConfig, "%v", err)
	}
	resolved := *params
	applyOverrides(cfg, &resolved)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, errs.New(errs.Config, errs.ReasonInvalidConfig, "create data dir %s: %v", cfg.DataDir, err)
	}

	loggers, rot, err := NewSubsystemLoggers(cfg.LogDir, cfg.DebugLevel)
	if err != nil {
		return nil, err
	}

	loaded := &Loaded{Cfg: cfg, Params: &resolved, Log: loggers.Node, Loggers: loggers, LogRotator: rot}

	if cfg.GenesisFile != "" {
		recipient, amount, err := loadGenesisManifest(cfg.GenesisFile)
		if err != nil {
			return nil, err
		}
		loaded.PremineRecipient = recipient
		loaded.PremineAmount = amount
	}

	if cfg.MinerAddress != "" {
		addr, err := crypto.DecodeAddress(cfg.MinerAddress)
		if err != nil {
			return nil, errs.New(errs.Config, errs.ReasonInvalidConfig, "invalid -mineraddress %q: %v", cfg.MinerAddress, err)
		}
		loaded.MinerAddress = addr
		loaded.HasMinerAddress = true
	}

	if cfg.Proxy != "" {
		loaded.Proxy = &socks.Proxy{Addr: cfg.Proxy, Username: cfg.ProxyUser, Password: cfg.ProxyPass}
	}

	gov, err := newGovernanceSigner(cfg)
	if err != nil {
		return nil, err
	}
	if gov == nil {
		loaded.Gov, loaded.Prot = validation.NoGovernance{}, validation.NoGovernance{}
	} else {
		loaded.Gov, loaded.Prot = gov, gov
	}

	return loaded, nil
}

// applyOverrides copies every explicitly non-zero CLI/ini field from cfg
// onto p, leaving the network preset's own value in place wherever an
// option was left at its Go zero value (meaning "not specified").
func applyOverrides(cfg *Config, p *chaincfg.Params) {
	if cfg.InitialDifficulty != 0 {
		p.InitialDifficulty = cfg.InitialDifficulty
	}
	if cfg.TargetInterval != 0 {
		p.TargetInterval = secondsToDuration(cfg.TargetInterval)
	}
	if cfg.RetargetInterval != 0 {
		p.RetargetInterval = cfg.RetargetInterval
	}
	if cfg.RetargetClamp != 0 {
		p.RetargetClamp = cfg.RetargetClamp
	}
	if cfg.MaxClockSkew != 0 {
		p.MaxClockSkew = secondsToDuration(cfg.MaxClockSkew)
	}
	if cfg.InitialReward != 0 {
		p.InitialReward = cfg.InitialReward
	}
	if cfg.HalvingInterval != 0 {
		p.HalvingInterval = cfg.HalvingInterval
	}
	if cfg.MaxSupply != 0 {
		p.MaxSupply = cfg.MaxSupply
	}
	if cfg.MinFee != 0 {
		p.MinFee = cfg.MinFee
	}
	if cfg.MaxBlockSize != 0 {
		p.MaxBlockSize = cfg.MaxBlockSize
	}
	if cfg.MaxBlockTxs != 0 {
		p.MaxBlockTxs = cfg.MaxBlockTxs
	}
	if cfg.MaxTxSize != 0 {
		p.MaxTxSize = cfg.MaxTxSize
	}
	if cfg.MaxMempool != 0 {
		p.MaxMempool = cfg.MaxMempool
	}
	if cfg.MaxReorgDepth != 0 {
		p.MaxReorgDepth = cfg.MaxReorgDepth
	}
	if cfg.MaxPeersTotal != 0 {
		p.MaxPeersTotal = cfg.MaxPeersTotal
	}
	if cfg.MaxPeersPerIP != 0 {
		p.MaxPeersPerIP = cfg.MaxPeersPerIP
	}
	if cfg.MaxPeersPerSubnet != 0 {
		p.MaxPeersPerSubnet = cfg.MaxPeersPerSubnet
	}
	if cfg.MinDiversePeers != 0 {
		p.MinDiversePeers = cfg.MinDiversePeers
	}
	if cfg.TargetPeers != 0 {
		p.TargetPeers = cfg.TargetPeers
	}
	if cfg.DiscoveryInterval != 0 {
		p.DiscoveryInterval = secondsToDuration(cfg.DiscoveryInterval)
	}
	if cfg.PeerMaxIdle != 0 {
		p.PeerMaxIdle = secondsToDuration(cfg.PeerMaxIdle)
	}
	if cfg.PeerIOTimeout != 0 {
		p.PeerIOTimeout = secondsToDuration(cfg.PeerIOTimeout)
	}
	if cfg.BanDuration != 0 {
		p.BanDuration = secondsToDuration(cfg.BanDuration)
	}
	if cfg.RateLimitRPS != 0 {
		p.RateLimitRPS = cfg.RateLimitRPS
	}
	if cfg.DedupCapacity != 0 {
		p.DedupCapacity = cfg.DedupCapacity
	}
	if cfg.MaxPeerQueue != 0 {
		p.MaxPeerQueue = cfg.MaxPeerQueue
	}
	if cfg.MaxInflightBlocks != 0 {
		p.MaxInflightBlocks = cfg.MaxInflightBlocks
	}
	if cfg.CheckpointInterval != 0 {
		p.CheckpointInterval = cfg.CheckpointInterval
	}
	if cfg.MaxBackups != 0 {
		p.MaxBackups = cfg.MaxBackups
	}
	if cfg.BackupOnSave {
		p.BackupOnSave = true
	}
}

func secondsToDuration(s int64) time.Duration { return time.Duration(s) * time.Second }

func loadGenesisManifest(path string) (crypto.Address, uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return crypto.Address{}, 0, errs.New(errs.Config, errs.ReasonInvalidConfig, "open genesis file %s: %v", path, err)
	}
	defer f.Close()

	var manifest GenesisManifest
	if err := json.NewDecoder(f).Decode(&manifest); err != nil {
		return crypto.Address{}, 0, errs.New(errs.Config, errs.ReasonInvalidConfig, "parse genesis file %s: %v", path, err)
	}
	addr, err := crypto.DecodeAddress(manifest.PremineRecipient)
	if err != nil {
		return crypto.Address{}, 0, errs.New(errs.Config, errs.ReasonInvalidConfig, "genesis file %s: invalid premine_recipient: %v", path, err)
	}
	return addr, manifest.PremineAmount, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Close releases the logging backend's rotator, flushing buffered writes.
// Called by cmd/aixd on shutdown.
func (l *Loaded) Close() {
	if l.LogRotator != nil {
		l.LogRotator.Close()
	}
}
