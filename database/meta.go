// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package database

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/aix-network/aixd/crypto"
)

// encodeMeta serializes m alone, for chain.meta: "a copy of meta for quick
// probing" (spec.md §4.7), in the same layout as the header prefix of a
// full Record so decodeMeta can share field order with DecodeRecord.
func encodeMeta(m Meta) []byte {
	var buf bytes.Buffer
	var b8 [8]byte
	binary.BigEndian.PutUint64(b8[:], uint64(m.Timestamp))
	buf.Write(b8[:])
	binary.BigEndian.PutUint64(b8[:], m.Height)
	buf.Write(b8[:])
	buf.Write(m.Checksum[:])
	var b4 [4]byte
	binary.BigEndian.PutUint32(b4[:], m.Version)
	buf.Write(b4[:])
	return buf.Bytes()
}

func decodeMeta(data []byte) (Meta, error) {
	want := 8 + 8 + crypto.HashSize + 4
	if len(data) != want {
		return Meta{}, fmt.Errorf("chain.meta has %d bytes, want %d", len(data), want)
	}
	r := bytes.NewReader(data)
	var b8 [8]byte
	if _, err := readFull(r, b8[:]); err != nil {
		return Meta{}, err
	}
	timestamp := int64(binary.BigEndian.Uint64(b8[:]))
	if _, err := readFull(r, b8[:]); err != nil {
		return Meta{}, err
	}
	height := binary.BigEndian.Uint64(b8[:])
	var checksum crypto.Hash
	if _, err := readFull(r, checksum[:]); err != nil {
		return Meta{}, err
	}
	var b4 [4]byte
	if _, err := readFull(r, b4[:]); err != nil {
		return Meta{}, err
	}
	version := binary.BigEndian.Uint32(b4[:])
	return Meta{Timestamp: timestamp, Height: height, Checksum: checksum, Version: version}, nil
}
