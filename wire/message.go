// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"github.com/aix-network/aixd/chainutil"
	"github.com/aix-network/aixd/crypto"
	"github.com/aix-network/aixd/errs"
)

// Kind identifies a message's payload type, the first byte of every
// framed message per spec.md §4.13's message set.
type Kind byte

const (
	KindHandshake Kind = iota + 1
	KindGetPeers
	KindPeers
	KindAnnouncePeer
	KindInv
	KindGetData
	KindTx
	KindBlock
	KindGetHeaders
	KindHeaders
	KindGetBlock
)

// InvKind distinguishes the two kinds of content an Inv/GetData message can
// reference.
type InvKind byte

const (
	InvTx InvKind = iota
	InvBlock
)

// Handshake is the first message exchanged on a new connection: protocol
// version, network identity, and enough chain state for the peer to
// decide whether to sync, per spec.md §4.13.
type Handshake struct {
	Version     uint32
	NetworkID   uint32
	NodeURL     string
	ChainHeight uint64
	Nonce       uint64 // self-connect detection
}

func (m *Handshake) encode() []byte {
	w := &writer{}
	w.putUint32(m.Version)
	w.putUint32(m.NetworkID)
	w.putString(m.NodeURL)
	w.putUint64(m.ChainHeight)
	w.putUint64(m.Nonce)
	return w.bytes()
}

func (m *Handshake) decode(b []byte) error {
	r := newReader(b)
	var err error
	if m.Version, err = r.getUint32(); err != nil {
		return err
	}
	if m.NetworkID, err = r.getUint32(); err != nil {
		return err
	}
	if m.NodeURL, err = r.getString(); err != nil {
		return err
	}
	if m.ChainHeight, err = r.getUint64(); err != nil {
		return err
	}
	if m.Nonce, err = r.getUint64(); err != nil {
		return err
	}
	return nil
}

// PeerAddr is one entry in a Peers response, per spec.md §4.10's
// /peers/list gossip.
type PeerAddr struct {
	URL         string
	IsBootstrap bool
}

// GetPeers requests the responder's known-peer list. It carries no fields.
type GetPeers struct{}

func (m *GetPeers) encode() []byte    { return nil }
func (m *GetPeers) decode([]byte) error { return nil }

// Peers answers GetPeers.
type Peers struct {
	Peers []PeerAddr
}

func (m *Peers) encode() []byte {
	w := &writer{}
	w.putUint32(uint32(len(m.Peers)))
	for _, p := range m.Peers {
		w.putString(p.URL)
		if p.IsBootstrap {
			w.putByte(1)
		} else {
			w.putByte(0)
		}
	}
	return w.bytes()
}

func (m *Peers) decode(b []byte) error {
	r := newReader(b)
	n, err := r.getUint32()
	if err != nil {
		return err
	}
	m.Peers = make([]PeerAddr, 0, n)
	for i := uint32(0); i < n; i++ {
		url, err := r.getString()
		if err != nil {
			return err
		}
		flag, err := r.getByte()
		if err != nil {
			return err
		}
		m.Peers = append(m.Peers, PeerAddr{URL: url, IsBootstrap: flag != 0})
	}
	return nil
}

// AnnouncePeer pushes a single newly discovered peer to another peer, the
// counterpart of GetPeers/Peers for unsolicited gossip (spec.md §4.10's
// /peers/announce).
type AnnouncePeer struct {
	Peer PeerAddr
}

func (m *AnnouncePeer) encode() []byte {
	w := &writer{}
	w.putString(m.Peer.URL)
	if m.Peer.IsBootstrap {
		w.putByte(1)
	} else {
		w.putByte(0)
	}
	return w.bytes()
}

func (m *AnnouncePeer) decode(b []byte) error {
	r := newReader(b)
	url, err := r.getString()
	if err != nil {
		return err
	}
	flag, err := r.getByte()
	if err != nil {
		return err
	}
	m.Peer = PeerAddr{URL: url, IsBootstrap: flag != 0}
	return nil
}

// InvItem references one piece of content by kind and hash, for Inv and
// GetData.
type InvItem struct {
	Kind InvKind
	Hash crypto.Hash
}

// Inv announces newly seen content without sending its body, the
// announce-then-fetch optimization of spec.md §4.13.
type Inv struct {
	Items []InvItem
}

func encodeInvItems(w *writer, items []InvItem) {
	w.putUint32(uint32(len(items)))
	for _, item := range items {
		w.putByte(byte(item.Kind))
		w.putFixed(item.Hash[:])
	}
}

func decodeInvItems(r *reader) ([]InvItem, error) {
	n, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	items := make([]InvItem, 0, n)
	for i := uint32(0); i < n; i++ {
		kindByte, err := r.getByte()
		if err != nil {
			return nil, err
		}
		hashBytes, err := r.getFixed(crypto.HashSize)
		if err != nil {
			return nil, err
		}
		var h crypto.Hash
		copy(h[:], hashBytes)
		items = append(items, InvItem{Kind: InvKind(kindByte), Hash: h})
	}
	return items, nil
}

func (m *Inv) encode() []byte {
	w := &writer{}
	encodeInvItems(w, m.Items)
	return w.bytes()
}

func (m *Inv) decode(b []byte) error {
	items, err := decodeInvItems(newReader(b))
	if err != nil {
		return err
	}
	m.Items = items
	return nil
}

// GetData requests the bodies for a set of previously announced items.
type GetData struct {
	Items []InvItem
}

func (m *GetData) encode() []byte {
	w := &writer{}
	encodeInvItems(w, m.Items)
	return w.bytes()
}

func (m *GetData) decode(b []byte) error {
	items, err := decodeInvItems(newReader(b))
	if err != nil {
		return err
	}
	m.Items = items
	return nil
}

// Tx carries a single transaction body.
type Tx struct {
	Transaction *chainutil.Transaction
}

func (m *Tx) encode() []byte {
	b, err := m.Transaction.MarshalBinary()
	if err != nil {
		return nil
	}
	return b
}

func (m *Tx) decode(b []byte) error {
	tx := &chainutil.Transaction{}
	if err := tx.UnmarshalBinary(b); err != nil {
		return err
	}
	m.Transaction = tx
	return nil
}

// Block carries a single full block body.
type Block struct {
	Block *chainutil.Block
}

func (m *Block) encode() []byte {
	b, err := m.Block.MarshalBinary()
	if err != nil {
		return nil
	}
	return b
}

func (m *Block) decode(b []byte) error {
	blk := &chainutil.Block{}
	if err := blk.UnmarshalBinary(b); err != nil {
		return err
	}
	m.Block = blk
	return nil
}

// GetHeaders requests a contiguous header range starting just after
// StartHeight/StartHash, per spec.md §4.12's header-first sync phase.
type GetHeaders struct {
	StartHeight uint64
	StartHash   crypto.Hash
	Count       uint32
}

func (m *GetHeaders) encode() []byte {
	w := &writer{}
	w.putUint64(m.StartHeight)
	w.putFixed(m.StartHash[:])
	w.putUint32(m.Count)
	return w.bytes()
}

func (m *GetHeaders) decode(b []byte) error {
	r := newReader(b)
	var err error
	if m.StartHeight, err = r.getUint64(); err != nil {
		return err
	}
	hashBytes, err := r.getFixed(crypto.HashSize)
	if err != nil {
		return err
	}
	copy(m.StartHash[:], hashBytes)
	if m.Count, err = r.getUint32(); err != nil {
		return err
	}
	return nil
}

// Headers answers GetHeaders with a contiguous run of block headers. Each
// header is carried as a *chainutil.Block with Transactions left empty:
// Block.Hash() depends only on the header fields (spec.md §3), so the
// identical encode/decode round trip used for full blocks works unchanged
// here at the cost of a few unused zero-length transaction lists.
type Headers struct {
	Headers []*chainutil.Block
}

func (m *Headers) encode() []byte {
	w := &writer{}
	w.putUint32(uint32(len(m.Headers)))
	for _, h := range m.Headers {
		hb, err := h.MarshalBinary()
		if err != nil {
			return nil
		}
		w.putBytes(hb)
	}
	return w.bytes()
}

func (m *Headers) decode(b []byte) error {
	r := newReader(b)
	n, err := r.getUint32()
	if err != nil {
		return err
	}
	m.Headers = make([]*chainutil.Block, 0, n)
	for i := uint32(0); i < n; i++ {
		hb, err := r.getBytes()
		if err != nil {
			return err
		}
		h := &chainutil.Block{}
		if err := h.UnmarshalBinary(hb); err != nil {
			return err
		}
		m.Headers = append(m.Headers, h)
	}
	return nil
}

// GetBlock requests one full block body by hash, used in the block
// download phase once a header chain has been chosen.
type GetBlock struct {
	Hash crypto.Hash
}

func (m *GetBlock) encode() []byte {
	w := &writer{}
	w.putFixed(m.Hash[:])
	return w.bytes()
}

func (m *GetBlock) decode(b []byte) error {
	r := newReader(b)
	hashBytes, err := r.getFixed(crypto.HashSize)
	if err != nil {
		return err
	}
	copy(m.Hash[:], hashBytes)
	return nil
}

// Marshal frames a Kind byte ahead of the payload, the unit transmitted
// as one gorilla/websocket binary message.
func Marshal(kind Kind, payload interface{ encode() []byte }) []byte {
	body := payload.encode()
	out := make([]byte, 1+len(body))
	out[0] = byte(kind)
	copy(out[1:], body)
	return out
}

// Unmarshal reads the leading Kind byte and decodes the remainder into a
// freshly allocated message of the matching type.
func Unmarshal(data []byte) (Kind, interface{}, error) {
	if len(data) < 1 {
		return 0, nil, errs.New(errs.Network, errs.ReasonMalformedMessage, "wire: empty message")
	}
	kind := Kind(data[0])
	body := data[1:]

	var msg interface {
		decode([]byte) error
	}
	switch kind {
	case KindHandshake:
		msg = &Handshake{}
	case KindGetPeers:
		msg = &GetPeers{}
	case KindPeers:
		msg = &Peers{}
	case KindAnnouncePeer:
		msg = &AnnouncePeer{}
	case KindInv:
		msg = &Inv{}
	case KindGetData:
		msg = &GetData{}
	case KindTx:
		msg = &Tx{}
	case KindBlock:
		msg = &Block{}
	case KindGetHeaders:
		msg = &GetHeaders{}
	case KindHeaders:
		msg = &Headers{}
	case KindGetBlock:
		msg = &GetBlock{}
	default:
		return 0, nil, errs.New(errs.Network, errs.ReasonMalformedMessage, "wire: unknown message kind %d", kind)
	}
	if err := msg.decode(body); err != nil {
		return 0, nil, err
	}
	return kind, msg, nil
}
