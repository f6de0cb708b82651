// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command aixd assembles and runs the full node: it parses configuration
// (internal/config), loads or initializes the chain store
// (internal/node.LoadOrInit), wires every collaborator into a Node
// (internal/node.New), and then drives the three loops that keep it
// current — inbound connection acceptance, periodic sync, and peer
// discovery — until an operator interrupt. Grounded on the teacher's own
// network-selection shape (params.go) and the standard decred-family
// daemon main package: parse, open store, assemble, serve, wait for
// signal, shut down in reverse order.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aix-network/aixd/addrmgr"
	"github.com/aix-network/aixd/blockchain/validation"
	"github.com/aix-network/aixd/connmgr"
	"github.com/aix-network/aixd/database"
	"github.com/aix-network/aixd/internal/config"
	"github.com/aix-network/aixd/internal/node"
	"github.com/aix-network/aixd/mempool"
	"github.com/decred/dcrd/certgen"
	"github.com/gorilla/websocket"
	"github.com/jessevdk/go-flags"
)

// sigCacheMaxEntries mirrors btcd/dcrd's own SigCacheMaxEntries default: a
// generous cap on concurrently-verified signatures, not one of spec.md
// §6's enumerated options since it bounds an internal cache rather than any
// observable behavior.
const sigCacheMaxEntries = 100_000

// syncPollInterval is how often the periodic sync loop drives a
// netsync.Syncer pass against currently connected peers. Not spec-exposed
// (spec.md §4.12 describes sync's mechanics, not its polling cadence), so
// it's a plain implementation constant like node.cmdQueueDepth.
const syncPollInterval = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	loaded, err := config.Load(os.Args[1:])
	if err != nil {
		if flags.WroteHelp(err) {
			return nil
		}
		return err
	}
	defer loaded.Close()

	store, err := database.Open(loaded.Cfg.DataDir, loaded.Params, loaded.Loggers.Chain)
	if err != nil {
		return fmt.Errorf("open chain store: %w", err)
	}

	chain, pending, recoveredFrom, err := node.LoadOrInit(store, loaded.Params, loaded.PremineRecipient, loaded.PremineAmount)
	if err != nil {
		return fmt.Errorf("load chain: %w", err)
	}
	loaded.Log.Infof("chain loaded from %s, height %d", recoveredFrom, chain.Height())

	cache := validation.NewSigCache(sigCacheMaxEntries)
	pool := mempool.New(loaded.Params, chain.UTxOView(), cache, loaded.Gov, loaded.Prot)
	for _, tx := range pending {
		if err := pool.Admit(tx, tx.Timestamp); err != nil {
			loaded.Log.Warnf("dropping persisted pending tx %s on reload: %v", tx.TxID(), err)
		}
	}

	registry := addrmgr.New(registryCandidateCap(loaded))
	connMgr := connmgr.New(connmgr.Config{
		MaxPeersTotal:     loaded.Params.MaxPeersTotal,
		MaxPeersPerIP:     loaded.Params.MaxPeersPerIP,
		MaxPeersPerSubnet: loaded.Params.MaxPeersPerSubnet,
		MinDiversePeers:   loaded.Params.MinDiversePeers,
		RateLimitRPS:      loaded.Params.RateLimitRPS,
		BanDuration:       loaded.Params.BanDuration,
	}, registry)

	n := node.New(node.Deps{
		Params:        loaded.Params,
		Log:           loaded.Loggers.Node,
		Chain:         chain,
		Pool:          pool,
		Store:         store,
		Cache:         cache,
		Gov:           loaded.Gov,
		Prot:          loaded.Prot,
		Registry:      registry,
		ConnMgr:       connMgr,
		NodeURL:       resolveNodeURL(loaded.Cfg.NodeURL, loaded.Cfg.Listen),
		K:             loaded.Cfg.SyncPeerFanout,
		HeadersPerReq: loaded.Cfg.HeadersPerReq,
		Proxy:         loaded.Proxy,
	})
	n.Start()

	if err := ensureCertPair(loaded.Cfg.RPCCert, loaded.Cfg.RPCKey); err != nil {
		n.Stop()
		return fmt.Errorf("prepare TLS cert pair: %w", err)
	}
	server := newPeerServer(n, loaded)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErrs := make(chan error, 1)
	go func() {
		if err := server.ListenAndServeTLS(loaded.Cfg.RPCCert, loaded.Cfg.RPCKey); err != nil && err != http.ErrServerClosed {
			serverErrs <- err
		}
	}()

	if len(loaded.Cfg.ConnectPeers) > 0 {
		for _, peerURL := range loaded.Cfg.ConnectPeers {
			if err := n.Connect(peerURL); err != nil {
				loaded.Log.Warnf("connect to %s: %v", peerURL, err)
			}
		}
	} else {
		go n.Bootstrap(ctx, time.Now().Unix())
		go n.RunDiscovery(ctx, func() int64 { return time.Now().Unix() })
	}
	go runSyncLoop(ctx, n)

	if loaded.HasMinerAddress {
		if result := n.RequestMiningStart(loaded.MinerAddress); result.Status != node.StatusAccepted {
			loaded.Log.Warnf("mining auto-start: %s", result.Description)
		}
	}

	select {
	case <-ctx.Done():
		loaded.Log.Infof("shutting down")
	case err := <-serverErrs:
		loaded.Log.Errorf("peer listener: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
	n.Stop()
	return nil
}

// newPeerServer builds the inbound websocket listener cmd/aixd fronts with
// the TLS cert pair ensureCertPair prepares, upgrading every accepted
// connection straight into Node.HandleInboundConn.
func newPeerServer(n *node.Node, loaded *config.Loaded) *http.Server {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			loaded.Log.Warnf("upgrade inbound connection from %s: %v", r.RemoteAddr, err)
			return
		}
		if err := n.HandleInboundConn(conn, remoteIP(r.RemoteAddr)); err != nil {
			loaded.Log.Warnf("inbound connection from %s: %v", r.RemoteAddr, err)
		}
	})

	return &http.Server{Addr: loaded.Cfg.Listen, Handler: mux}
}

// runSyncLoop drives node.Node.RunSync against whatever peers are
// currently connected, on a fixed poll interval, until ctx is cancelled.
func runSyncLoop(ctx context.Context, n *node.Node) {
	ticker := time.NewTicker(syncPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			peers := n.GetPeers()
			if len(peers) == 0 {
				continue
			}
			urls := make([]string, 0, len(peers))
			for _, p := range peers {
				urls = append(urls, p.URL)
			}
			n.RunSync(urls)
		}
	}
}

// ensureCertPair generates a self-signed TLS certificate/key pair the
// first time the node runs, the same on-demand generation dcrd/btcd's
// rpcserver.go performs for their own listener (certgen.NewTLSCertPair),
// here fronting the peer protocol listener instead of a JSON-RPC one.
func ensureCertPair(certFile, keyFile string) error {
	if fileExists(certFile) && fileExists(keyFile) {
		return nil
	}
	validUntil := time.Now().Add(10 * 365 * 24 * time.Hour)
	cert, key, err := certgen.NewTLSCertPair("aixd autogenerated cert", validUntil, nil)
	if err != nil {
		return fmt.Errorf("generate TLS cert pair: %w", err)
	}
	if err := os.WriteFile(certFile, cert, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", certFile, err)
	}
	if err := os.WriteFile(keyFile, key, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", keyFile, err)
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// resolveNodeURL defaults an unset -nodeurl to a loopback URL derived from
// the listen address, so handshakes always carry a well-formed URL even
// for an operator who never set one explicitly (typical for a
// single-machine devnet run).
func resolveNodeURL(nodeURL, listen string) string {
	if nodeURL != "" {
		return nodeURL
	}
	return fmt.Sprintf("ws://127.0.0.1%s", listen)
}

// registryCandidateCap sizes addrmgr.Registry generously relative to the
// configured peer targets, rather than hardcoding a single constant
// regardless of network.
func registryCandidateCap(loaded *config.Loaded) uint32 {
	size := uint32(loaded.Params.MaxPeersTotal) * 16
	if size < 1024 {
		size = 1024
	}
	return size
}

func remoteIP(addr string) net.IP {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip
	}
	return net.IPv4zero
}
