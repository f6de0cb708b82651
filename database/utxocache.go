// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package database

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	"github.com/aix-network/aixd/blockchain"
	"github.com/aix-network/aixd/blockchain/utxo"
	"github.com/aix-network/aixd/chaincfg"
	"github.com/aix-network/aixd/chainutil"
	"github.com/aix-network/aixd/crypto"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// UTxOCache holds a balance/nonce index in a goleveldb-backed key/value
// store (SPEC_FULL.md's §4.7 supplement): a rebuildable cache, never the
// source of truth. Grounded on daglabs-btcd's
// database/ffldb/ldb cursor wrapper for the iterator/prefix-scan shape,
// adapted here to a flat two-prefix (balance/nonce) keyspace instead of a
// general block-store schema, since this spec has no block-index tables of
// its own to keep in leveldb (chain.dat already is that index).
type UTxOCache struct {
	ldb *leveldb.DB
}

const (
	balancePrefix byte = 0x01
	noncePrefix   byte = 0x02
)

func balanceKey(addr crypto.Address) []byte {
	return append([]byte{balancePrefix}, addressKeyBytes(addr)...)
}

func nonceKey(addr crypto.Address) []byte {
	return append([]byte{noncePrefix}, addressKeyBytes(addr)...)
}

func addressKeyBytes(addr crypto.Address) []byte {
	b := make([]byte, 1+crypto.AddressSize)
	b[0] = byte(addr.Network)
	copy(b[1:], addr.Payload[:])
	return b
}

// OpenUTxOCache opens (creating if absent) the leveldb store at
// <dir>/utxo.ldb.
func OpenUTxOCache(dir string) (*UTxOCache, error) {
	db, err := leveldb.OpenFile(filepath.Join(dir, "utxo.ldb"), nil)
	if err != nil {
		return nil, fmt.Errorf("open utxo.ldb: %w", err)
	}
	return &UTxOCache{ldb: db}, nil
}

// Close releases the underlying leveldb handle.
func (c *UTxOCache) Close() error {
	return c.ldb.Close()
}

// Balance returns addr's cached balance, or 0 if absent.
func (c *UTxOCache) Balance(addr crypto.Address) uint64 {
	v, err := c.ldb.Get(balanceKey(addr), nil)
	if err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

// NextNonce returns addr's cached next nonce, or 0 if absent.
func (c *UTxOCache) NextNonce(addr crypto.Address) uint64 {
	v, err := c.ldb.Get(nonceKey(addr), nil)
	if err != nil {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

// Rebuild wipes the cache and repopulates it by replaying blocks from
// genesis through params' subsidy schedule, and returns the resulting
// utxo.Index.
func (c *UTxOCache) Rebuild(params *chaincfg.Params, blocks []*chainutil.Block) (*utxo.Index, error) {
	if err := c.wipe(); err != nil {
		return nil, err
	}

	idx := utxo.New()
	var circulating uint64
	for height, blk := range blocks {
		reward := blockchain.CalcBlockSubsidy(params, uint64(height), circulating)
		if _, err := idx.ApplyBlock(blk, reward); err != nil {
			return nil, fmt.Errorf("replay block %d: %w", height, err)
		}
		circulating += reward
	}

	balances, nonces := idx.Snapshot()
	batch := new(leveldb.Batch)
	for addr, bal := range balances {
		var v [8]byte
		binary.BigEndian.PutUint64(v[:], bal)
		batch.Put(balanceKey(addr), v[:])
	}
	for addr, nonce := range nonces {
		var v [8]byte
		binary.BigEndian.PutUint64(v[:], nonce)
		batch.Put(nonceKey(addr), v[:])
	}
	if err := c.ldb.Write(batch, nil); err != nil {
		return nil, fmt.Errorf("write rebuilt cache: %w", err)
	}

	return idx, nil
}

func (c *UTxOCache) wipe() error {
	it := c.ldb.NewIterator(util.BytesPrefix(nil), nil)
	defer it.Release()
	batch := new(leveldb.Batch)
	for it.Next() {
		batch.Delete(cloneBytes(it.Key()))
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("iterate utxo.ldb for wipe: %w", err)
	}
	return c.ldb.Write(batch, nil)
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
