// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wire defines the node's peer-to-peer message set (handshake,
// peer exchange, inventory announcement, transaction/block relay, header
// and block sync) and their binary framing, transported as discrete
// gorilla/websocket messages. No ecosystem RPC/serialization framework is
// used for the payload encoding, mirroring chainutil's own reasoning
// (encoding.go): every message here is a small, spec-fixed record, the
// same case the teacher and chainutil both reach for a hand-rolled
// fixed-width/length-prefixed encoder over rather than protobuf or gob.
package wire

import (
	"bytes"
	"encoding/binary"
	"io"
)

type writer struct {
	buf bytes.Buffer
}

func (w *writer) putUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) putInt64(v int64) { w.putUint64(uint64(v)) }

func (w *writer) putUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) putByte(v byte) { w.buf.WriteByte(v) }

func (w *writer) putFixed(b []byte) { w.buf.Write(b) }

func (w *writer) putBytes(b []byte) {
	w.putUint32(uint32(len(b)))
	w.buf.Write(b)
}

func (w *writer) putString(s string) { w.putBytes([]byte(s)) }

func (w *writer) bytes() []byte { return w.buf.Bytes() }

type reader struct {
	buf *bytes.Reader
}

func newReader(b []byte) *reader { return &reader{buf: bytes.NewReader(b)} }

func (r *reader) getUint64() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r.buf, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func (r *reader) getInt64() (int64, error) {
	v, err := r.getUint64()
	return int64(v), err
}

func (r *reader) getUint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r.buf, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (r *reader) getByte() (byte, error) { return r.buf.ReadByte() }

func (r *reader) getFixed(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r.buf, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *reader) getBytes() ([]byte, error) {
	n, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return r.getFixed(int(n))
}

func (r *reader) getString() (string, error) {
	b, err := r.getBytes()
	return string(b), err
}
