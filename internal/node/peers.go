// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package node

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/aix-network/aixd/addrmgr"
	"github.com/aix-network/aixd/chainutil"
	"github.com/aix-network/aixd/errs"
	"github.com/aix-network/aixd/peer"
	"github.com/aix-network/aixd/wire"
	"github.com/gorilla/websocket"
)

// peerTable is the live set of handshaked connections, separate from
// addrmgr.Registry (which tracks every peer ever seen, connected or not)
// and connmgr.Manager (which tracks admission bookkeeping without holding
// an actual *peer.Peer). Implements relay.PeerSet.
type peerTable struct {
	mu    sync.Mutex
	byURL map[string]*peer.Peer
}

func newPeerTable() *peerTable {
	return &peerTable{byURL: make(map[string]*peer.Peer)}
}

func (t *peerTable) add(p *peer.Peer) {
	t.mu.Lock()
	t.byURL[p.URL] = p
	t.mu.Unlock()
}

func (t *peerTable) remove(url string) {
	t.mu.Lock()
	delete(t.byURL, url)
	t.mu.Unlock()
}

func (t *peerTable) get(url string) *peer.Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byURL[url]
}

func (t *peerTable) all() []*peer.Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*peer.Peer, 0, len(t.byURL))
	for _, p := range t.byURL {
		out = append(out, p)
	}
	return out
}

// ConnectedPeers implements relay.PeerSet.
func (t *peerTable) ConnectedPeers() []*peer.Peer {
	return t.all()
}

// ConnectedPeers implements internal/discovery.ConnectionManager, reporting
// the registry's record for every live connection.
func (n *Node) ConnectedPeers() []*addrmgr.PeerRecord {
	live := n.peers.all()
	out := make([]*addrmgr.PeerRecord, 0, len(live))
	for _, p := range live {
		if rec := n.registry.Get(p.URL); rec != nil {
			out = append(out, rec)
		}
	}
	return out
}

// Connect implements internal/discovery.ConnectionManager's outbound dial
// side: handshake, admission, and registration as a live peer with its own
// sender and session goroutines.
func (n *Node) Connect(peerURL string) error {
	if n.peers.get(peerURL) != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.params.PeerIOTimeout)
	defer cancel()
	conn, err := n.dial(ctx, peerURL)
	if err != nil {
		n.registry.RecordFailure(peerURL)
		return err
	}

	ip := parseHostIP(peerURL)
	if err := n.connMgr.Admit(peerURL, ip, "", time.Now().Unix()); err != nil {
		conn.Close()
		return err
	}

	p := peer.New(peerURL, conn, n.params.DedupCapacity, n.params.MaxPeerQueue, n.registry, n.log)
	p.MarkHandshaked(1, 0, time.Now().Unix())
	n.registry.RecordSuccess(peerURL, 0, time.Now().Unix())
	n.peers.add(p)

	go p.RunSender(websocket.BinaryMessage)
	go n.sessionLoop(p, conn)
	return nil
}

// Disconnect implements internal/discovery.ConnectionManager.
func (n *Node) Disconnect(peerURL string) {
	if p := n.peers.get(peerURL); p != nil {
		p.Close()
		n.peers.remove(peerURL)
	}
	n.connMgr.Disconnect(peerURL)
}

// HandleInboundConn services a freshly accepted inbound websocket
// connection: reads the opening handshake, replies with this node's own,
// registers the remote as a live peer, and runs the same session loop an
// outbound Connect uses. Wired to an http.Server + websocket.Upgrader by
// cmd/aixd; kept here rather than in transport.go since it shares
// sessionLoop and peerTable with the outbound path.
func (n *Node) HandleInboundConn(conn *websocket.Conn, remoteIP net.IP) error {
	_, req, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return errs.New(errs.Network, errs.ReasonMalformedMessage, "read inbound handshake: %v", err)
	}
	kind, msg, err := wire.Unmarshal(req)
	if err != nil || kind != wire.KindHandshake {
		conn.Close()
		return errs.New(errs.Network, errs.ReasonMalformedMessage, "expected handshake, got kind %d", kind)
	}
	remote := msg.(*wire.Handshake)
	if remote.Nonce == n.selfNonce {
		conn.Close()
		return errs.New(errs.Network, errs.ReasonMalformedMessage, "refusing self-connect")
	}
	if remote.NetworkID != n.params.NetworkID {
		conn.Close()
		return errs.New(errs.Validation, errs.ReasonMalformedMessage, "network id mismatch from %s", remote.NodeURL)
	}

	reply := &wire.Handshake{Version: 1, NetworkID: n.params.NetworkID, NodeURL: n.nodeURL, ChainHeight: n.chain.Height(), Nonce: n.selfNonce}
	if err := conn.WriteMessage(websocket.BinaryMessage, wire.Marshal(wire.KindHandshake, reply)); err != nil {
		conn.Close()
		return errs.New(errs.Network, errs.ReasonMalformedMessage, "reply handshake: %v", err)
	}

	peerURL := remote.NodeURL
	if err := n.connMgr.Admit(peerURL, remoteIP, "", time.Now().Unix()); err != nil {
		conn.Close()
		return err
	}

	p := peer.New(peerURL, conn, n.params.DedupCapacity, n.params.MaxPeerQueue, n.registry, n.log)
	p.MarkHandshaked(remote.Version, remote.ChainHeight, time.Now().Unix())
	n.registry.Upsert(peerURL, remoteIP, false, time.Now().Unix())
	n.peers.add(p)

	go p.RunSender(websocket.BinaryMessage)
	n.sessionLoop(p, conn)
	return nil
}

// sessionLoop services one handshaked connection for its lifetime,
// satisfying both halves of spec.md §4.13's message set: it relays
// gossiped tx/block/inv traffic into the single-writer boundary, and it
// answers any get_peers/get_headers/get_block/announce_peer request the
// remote sends over the same connection. Runs until the connection errors
// or is closed.
func (n *Node) sessionLoop(p *peer.Peer, conn *websocket.Conn) {
	defer func() {
		p.Close()
		n.peers.remove(p.URL)
		n.connMgr.Disconnect(p.URL)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		p.Touch(time.Now().Unix())
		kind, msg, err := wire.Unmarshal(data)
		if err != nil {
			if n.log != nil {
				n.log.Warnf("peer %s: malformed message: %v", p.URL, err)
			}
			continue
		}
		n.handleSessionMessage(p, conn, kind, msg)
	}
}

func (n *Node) handleSessionMessage(p *peer.Peer, conn *websocket.Conn, kind wire.Kind, msg interface{}) {
	ctx := context.Background()
	switch m := msg.(type) {
	case *wire.Tx:
		n.SubmitTxFromPeer(ctx, m.Transaction, p.URL)

	case *wire.Block:
		n.SubmitBlockFromPeer(ctx, m.Block, p.URL)

	case *wire.Inv:
		var want []wire.InvItem
		for _, item := range m.Items {
			if item.Kind == wire.InvTx && !n.pool.Has(item.Hash) {
				want = append(want, item)
			} else if item.Kind == wire.InvBlock && n.chain.BlockByHash(item.Hash) == nil {
				want = append(want, item)
			}
		}
		if len(want) > 0 {
			conn.WriteMessage(websocket.BinaryMessage, wire.Marshal(wire.KindGetData, &wire.GetData{Items: want}))
		}

	case *wire.GetData:
		for _, item := range m.Items {
			if item.Kind == wire.InvTx {
				for _, tx := range n.pool.All() {
					if tx.TxID() == item.Hash {
						conn.WriteMessage(websocket.BinaryMessage, wire.Marshal(wire.KindTx, &wire.Tx{Transaction: tx}))
						break
					}
				}
			} else {
				if block := n.chain.BlockByHash(item.Hash); block != nil {
					conn.WriteMessage(websocket.BinaryMessage, wire.Marshal(wire.KindBlock, &wire.Block{Block: block}))
				}
			}
		}

	case *wire.GetPeers:
		candidates := n.registry.PickCandidates(64, map[string]bool{p.URL: true}, time.Now().Unix())
		addrs := make([]wire.PeerAddr, 0, len(candidates))
		for _, c := range candidates {
			addrs = append(addrs, wire.PeerAddr{URL: c.URL})
		}
		conn.WriteMessage(websocket.BinaryMessage, wire.Marshal(wire.KindPeers, &wire.Peers{Peers: addrs}))

	case *wire.AnnouncePeer:
		n.registry.Upsert(m.Peer.URL, parseHostIP(m.Peer.URL), m.Peer.IsBootstrap, time.Now().Unix())

	case *wire.GetHeaders:
		var headers []*chainutil.Block
		for h := m.StartHeight + 1; h <= n.chain.Height() && uint32(len(headers)) < m.Count; h++ {
			if block := n.chain.BlockAt(h); block != nil {
				header := *block
				header.Transactions = nil
				headers = append(headers, &header)
			}
		}
		conn.WriteMessage(websocket.BinaryMessage, wire.Marshal(wire.KindHeaders, &wire.Headers{Headers: headers}))

	case *wire.GetBlock:
		if block := n.chain.BlockByHash(m.Hash); block != nil {
			conn.WriteMessage(websocket.BinaryMessage, wire.Marshal(wire.KindBlock, &wire.Block{Block: block}))
		}

	default:
		if n.log != nil {
			n.log.Warnf("peer %s: unexpected message kind %d in session", p.URL, kind)
		}
	}
}

// SubmitTxFromPeer is SubmitTx's peer-sourced counterpart: sourceURL is
// excluded from the post-admission relay fan-out.
func (n *Node) SubmitTxFromPeer(ctx context.Context, tx *chainutil.Transaction, sourceURL string) Result {
	return n.send(command{kind: cmdSubmitTx, tx: tx, sourceURL: sourceURL})
}

func parseHostIP(peerURL string) net.IP {
	u, err := url.Parse(peerURL)
	if err != nil {
		return net.IPv4zero
	}
	if ip := net.ParseIP(u.Hostname()); ip != nil {
		return ip
	}
	return net.IPv4zero
}
