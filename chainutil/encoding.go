// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainutil implements the node's entity model: transactions,
// blocks, and headers, along with the canonical byte encoding spec.md §4.2
// requires for hashing and signing ("stable field order, no whitespace,
// integer encodings fixed-width in the hashed preimage").
//
// Grounded on the teacher's chaincfg/mainnetparams.go genesis-block
// construction (field layout a hash is computed over) and
// blockchain/blockindex_test.go's header reconstruction shape. No
// ecosystem serialization library is used for the canonical preimage: the
// format is spec-defined and fixed-width, which is exactly the case the
// standard library's encoding/binary exists for — a general-purpose codec
// (protobuf, gob) would impose its own framing on a format the spec already
// pins byte-for-byte.
package chainutil

import (
	"bytes"
	"encoding/binary"
	"io"
)

// canonicalWriter accumulates a canonical preimage using fixed-width,
// length-prefixed fields so that the same encoder can serialize both
// fixed-size and variable-size fields without ambiguity.
type canonicalWriter struct {
	buf bytes.Buffer
}

func (w *canonicalWriter) putUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *canonicalWriter) putInt64(v int64) {
	w.putUint64(uint64(v))
}

func (w *canonicalWriter) putUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *canonicalWriter) putByte(v byte) {
	w.buf.WriteByte(v)
}

func (w *canonicalWriter) putFixed(b []byte) {
	w.buf.Write(b)
}

// putBytes writes a length-prefixed variable-size field.
func (w *canonicalWriter) putBytes(b []byte) {
	w.putUint32(uint32(len(b)))
	w.buf.Write(b)
}

func (w *canonicalWriter) bytes() []byte {
	return w.buf.Bytes()
}

// canonicalReader is the counterpart to canonicalWriter, used by
// MarshalBinary/UnmarshalBinary round trips for wire transmission and
// persistence. It mirrors the writer's field order and width exactly.
type canonicalReader struct {
	buf *bytes.Reader
}

func newCanonicalReader(b []byte) *canonicalReader {
	return &canonicalReader{buf: bytes.NewReader(b)}
}

func (r *canonicalReader) getUint64() (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r.buf, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func (r *canonicalReader) getInt64() (int64, error) {
	v, err := r.getUint64()
	return int64(v), err
}

func (r *canonicalReader) getUint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r.buf, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func (r *canonicalReader) getByte() (byte, error) {
	return r.buf.ReadByte()
}

func (r *canonicalReader) getFixed(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(r.buf, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *canonicalReader) getBytes() ([]byte, error) {
	n, err := r.getUint32()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return r.getFixed(int(n))
}
