// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package node

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"net"
	"net/url"
	"time"

	"github.com/aix-network/aixd/addrmgr"
	"github.com/aix-network/aixd/chainutil"
	"github.com/aix-network/aixd/crypto"
	"github.com/aix-network/aixd/errs"
	"github.com/aix-network/aixd/wire"
	"github.com/gorilla/websocket"
)

// randomNonce returns a process-lifetime-unique value sent in every
// handshake so a node can recognize (and refuse) a connection back to
// itself, e.g. a bootstrap peer entry that happens to be this node's own
// advertised URL.
func randomNonce() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint64(b[:])
}

// dial opens a websocket connection to url and performs the
// handshake, per spec.md §4.13. Used both for persistent peer connections
// (Connect) and one-shot request/response calls (requestResponse).
func (n *Node) dial(ctx context.Context, peerURL string) (*websocket.Conn, error) {
	dialer := websocket.DefaultDialer
	if n.proxy != nil {
		dialer = &websocket.Dialer{
			NetDial:          n.proxy.Dial,
			HandshakeTimeout: websocket.DefaultDialer.HandshakeTimeout,
		}
	}
	conn, _, err := dialer.DialContext(ctx, peerURL, nil)
	if err != nil {
		return nil, errs.New(errs.Network, errs.ReasonMalformedMessage, "dial %s: %v", peerURL, err)
	}
	hs := &wire.Handshake{
		Version:     1,
		NetworkID:   n.params.NetworkID,
		NodeURL:     n.nodeURL,
		ChainHeight: n.chain.Height(),
		Nonce:       n.selfNonce,
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, wire.Marshal(wire.KindHandshake, hs)); err != nil {
		conn.Close()
		return nil, errs.New(errs.Network, errs.ReasonMalformedMessage, "handshake with %s: %v", peerURL, err)
	}
	_, resp, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, errs.New(errs.Network, errs.ReasonMalformedMessage, "handshake reply from %s: %v", peerURL, err)
	}
	kind, msg, err := wire.Unmarshal(resp)
	if err != nil || kind != wire.KindHandshake {
		conn.Close()
		return nil, errs.New(errs.Network, errs.ReasonMalformedMessage, "unexpected handshake reply from %s", peerURL)
	}
	if remote := msg.(*wire.Handshake); remote.Nonce == n.selfNonce {
		conn.Close()
		return nil, errs.New(errs.Network, errs.ReasonMalformedMessage, "refusing self-connect to %s", peerURL)
	}
	return conn, nil
}

// requestResponse dials url, sends one request message, reads exactly one
// reply, and closes the connection — the shape every boundary-layer
// request/response exchange (get_peers, get_headers, get_block) uses
// rather than threading correlation IDs through a shared persistent
// connection.
func (n *Node) requestResponse(ctx context.Context, peerURL string, kind wire.Kind, payload interface{ MarshalFor() []byte }) (wire.Kind, interface{}, error) {
	conn, err := n.dial(ctx, peerURL)
	if err != nil {
		return 0, nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
		conn.SetReadDeadline(deadline)
	} else {
		conn.SetWriteDeadline(time.Now().Add(n.params.PeerIOTimeout))
		conn.SetReadDeadline(time.Now().Add(n.params.PeerIOTimeout))
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, payload.MarshalFor()); err != nil {
		return 0, nil, errs.New(errs.Network, errs.ReasonMalformedMessage, "write to %s: %v", peerURL, err)
	}
	_, resp, err := conn.ReadMessage()
	if err != nil {
		return 0, nil, errs.New(errs.Network, errs.ReasonMalformedMessage, "read from %s: %v", peerURL, err)
	}
	respKind, msg, err := wire.Unmarshal(resp)
	if err != nil {
		return 0, nil, err
	}
	return respKind, msg, nil
}

// RequestPeerList implements internal/discovery.PeerLister, the gossip
// pull side of spec.md §4.10's /peers/list.
func (n *Node) RequestPeerList(ctx context.Context, peerURL string) ([]addrmgr.Candidate, error) {
	kind, msg, err := n.requestResponse(ctx, peerURL, wire.KindGetPeers, marshalGetPeers{})
	if err != nil {
		return nil, err
	}
	if kind != wire.KindPeers {
		return nil, errs.New(errs.Network, errs.ReasonMalformedMessage, "expected peers reply from %s, got kind %d", peerURL, kind)
	}
	peers := msg.(*wire.Peers)
	out := make([]addrmgr.Candidate, 0, len(peers.Peers))
	for _, p := range peers.Peers {
		out = append(out, addrmgr.Candidate{URL: p.URL, IP: hostOf(p.URL), IsBootstrap: p.IsBootstrap})
	}
	return out, nil
}

// AnnouncePeer implements internal/discovery.PeerLister's push side,
// spec.md §4.10's /peers/announce. The announcement is fire-and-forget:
// any reply the remote sends back is ignored.
func (n *Node) AnnouncePeer(ctx context.Context, peerURL, newPeerURL string) error {
	conn, err := n.dial(ctx, peerURL)
	if err != nil {
		return err
	}
	defer conn.Close()
	msg := &wire.AnnouncePeer{Peer: wire.PeerAddr{URL: newPeerURL}}
	return conn.WriteMessage(websocket.BinaryMessage, wire.Marshal(wire.KindAnnouncePeer, msg))
}

// RequestHeaders implements netsync.PeerClient's header-phase fetch.
// count headers starting just after (startHeight, startHash) are
// requested as header-only blocks (spec.md §4.12).
func (n *Node) RequestHeaders(ctx context.Context, peerURL string, startHeight uint64, startHash crypto.Hash, count uint32) ([]*chainutil.Block, error) {
	req := &wire.GetHeaders{StartHeight: startHeight, StartHash: startHash, Count: count}
	kind, msg, err := n.requestResponse(ctx, peerURL, wire.KindGetHeaders, marshalGetHeaders{req})
	if err != nil {
		return nil, err
	}
	if kind != wire.KindHeaders {
		return nil, errs.New(errs.Network, errs.ReasonMalformedMessage, "expected headers reply from %s, got kind %d", peerURL, kind)
	}
	return msg.(*wire.Headers).Headers, nil
}

// RequestBlock implements netsync.PeerClient's block-download phase.
func (n *Node) RequestBlock(ctx context.Context, peerURL string, hash crypto.Hash) (*chainutil.Block, error) {
	req := &wire.GetBlock{Hash: hash}
	kind, msg, err := n.requestResponse(ctx, peerURL, wire.KindGetBlock, marshalGetBlock{req})
	if err != nil {
		return nil, err
	}
	if kind != wire.KindBlock {
		return nil, errs.New(errs.Network, errs.ReasonMalformedMessage, "expected block reply from %s, got kind %d", peerURL, kind)
	}
	return msg.(*wire.Block).Block, nil
}

// Quality implements netsync.PeerClient, letting the sync engine weight
// which peers to query by the registry's existing reliability score.
func (n *Node) Quality(peerURL string) int {
	return n.registry.Score(peerURL)
}

// hostOf extracts the bare host (no port) from a ws://host:port URL, used
// to derive the IP addrmgr needs for subnet bucketing from a gossiped peer
// URL. Returns the whole string unchanged if it doesn't parse, which
// SubnetBucket's net.ParseIP failure path already handles as a single
// unbucketable entry.
func hostOf(peerURL string) string {
	u, err := url.Parse(peerURL)
	if err != nil {
		return peerURL
	}
	host := u.Hostname()
	if host == "" {
		return peerURL
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return host
}

// marshalGetPeers/marshalGetHeaders/marshalGetBlock adapt wire's concrete
// request types to requestResponse's MarshalFor seam, since wire.Marshal
// itself takes an unexported-method interface only types inside package
// wire can implement directly.
type marshalGetPeers struct{}

func (marshalGetPeers) MarshalFor() []byte { return wire.Marshal(wire.KindGetPeers, &wire.GetPeers{}) }

type marshalGetHeaders struct{ req *wire.GetHeaders }

func (m marshalGetHeaders) MarshalFor() []byte { return wire.Marshal(wire.KindGetHeaders, m.req) }

type marshalGetBlock struct{ req *wire.GetBlock }

func (m marshalGetBlock) MarshalFor() []byte { return wire.Marshal(wire.KindGetBlock, m.req) }
