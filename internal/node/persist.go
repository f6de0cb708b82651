// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package node

import (
	"time"

	"github.com/aix-network/aixd/blockchain"
	"github.com/aix-network/aixd/chaincfg"
	"github.com/aix-network/aixd/chainutil"
	"github.com/aix-network/aixd/crypto"
	"github.com/aix-network/aixd/database"
	"github.com/aix-network/aixd/errs"
)

// persistLocked snapshots the chain and mempool and writes them through
// n.store, per spec.md §4.7. Called only from the writer goroutine, after
// every accepted mutation that changes the best chain.
func (n *Node) persistLocked() error {
	height := n.chain.Height()
	chain := make([]*chainutil.Block, 0, height+1)
	for i := uint64(0); i <= height; i++ {
		chain = append(chain, n.chain.BlockAt(i))
	}

	rec := &database.Record{
		Meta: database.Meta{
			Timestamp: time.Now().Unix(),
			Height:    height,
		},
		Payload: database.Payload{
			Chain:      chain,
			Pending:    n.pool.All(),
			Difficulty: n.chain.NextDifficulty(),
			DiffLevel:  n.chain.DiffLevel(),
			Stats:      database.Stats{CirculatingSupply: n.chain.CirculatingSupply()},
		},
	}
	return n.store.Save(rec)
}

// LoadOrInit implements spec.md §4.7's startup sequence: if chain.dat (or
// a usable backup/checkpoint) exists, rebuild the chain store by replaying
// every persisted block through TryExtend and return every persisted
// pending transaction for the caller to re-admit into its mempool;
// otherwise seed a fresh BlockChain from the
// network's genesis block. Either way the UTxO index and mempool view are
// rebuilt by replay rather than ever trusting the persisted Stats, per
// §4.7's "advisory, not authoritative" rule.
//
// Called once by cmd/aixd before constructing a Node, since the chain
// store and mempool it builds are two of Node's own Deps. premineRecipient
// and premineAmount are only consulted on a first run (no persisted
// chain.dat yet); an existing chain always wins over static genesis
// configuration.
func LoadOrInit(store *database.Store, params *chaincfg.Params, premineRecipient crypto.Address, premineAmount uint64) (*blockchain.BlockChain, []*chainutil.Transaction, string, error) {
	if !store.Exists() {
		genesis := params.NewGenesisBlock(premineRecipient, premineAmount)
		return blockchain.New(params, genesis), nil, "genesis", nil
	}

	rec, recoveredFrom, err := store.Load()
	if err != nil {
		return nil, nil, "", err
	}
	if len(rec.Payload.Chain) == 0 {
		return nil, nil, "", errs.New(errs.State, errs.ReasonUnrecoverable, "persisted record has no genesis block")
	}

	chain := blockchain.New(params, rec.Payload.Chain[0])
	for i := 1; i < len(rec.Payload.Chain); i++ {
		if err := chain.TryExtend(rec.Payload.Chain[i], nil, nil, nil); err != nil {
			return nil, nil, "", errs.New(errs.State, errs.ReasonUnrecoverable,
				"replay persisted block at height %d: %v", rec.Payload.Chain[i].Index, err)
		}
	}

	return chain, rec.Payload.Pending, recoveredFrom, nil
}
