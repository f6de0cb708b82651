// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package blockchain

import (
	"github.com/aix-network/aixd/chaincfg"
	"github.com/aix-network/aixd/chainutil"
	"github.com/aix-network/aixd/crypto"
)

// testParams mirrors spec.md §8 scenario 1's literal configuration:
// initial_reward=50, min_fee=1, initial_difficulty=1.
func testParams() *chaincfg.Params {
	return &chaincfg.Params{
		Name:              "test",
		Network:           crypto.Testnet,
		GenesisTimestamp:  1_700_000_000,
		InitialDifficulty: 1,
		TargetInterval:    10_000_000_000, // 10s, as a time.Duration literal in nanoseconds.
		RetargetInterval:  2016,
		RetargetClamp:     4,
		MaxClockSkew:      2 * 60 * 1_000_000_000,
		InitialReward:     50,
		HalvingInterval:   1_000_000,
		MaxSupply:         21_000_000,
		MinFee:            1,
		MaxBlockSize:      1 << 20,
		MaxBlockTxs:       5000,
		MaxTxSize:         16 << 10,
		MaxMempool:        10000,
		MaxReorgDepth:     100,
	}
}

func mustKeyPair() *crypto.KeyPair {
	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		panic(err)
	}
	return kp
}

func signedTx(kp *crypto.KeyPair, sender, recipient crypto.Address, amount, fee, nonce uint64, ts int64) *chainutil.Transaction {
	tx := &chainutil.Transaction{
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Fee:       fee,
		Nonce:     nonce,
		Timestamp: ts,
		Kind:      chainutil.KindNormal,
		PublicKey: crypto.SerializePublicKey(kp.Public),
	}
	tx.Sign(kp.Private)
	return tx
}

func governanceTx(gov *crypto.KeyPair, sender crypto.Address, nonce uint64, data []byte, ts int64) *chainutil.Transaction {
	tx := &chainutil.Transaction{
		Sender:    sender,
		Recipient: sender,
		Nonce:     nonce,
		Timestamp: ts,
		Kind:      chainutil.KindGovernance,
		Data:      data,
	}
	tx.Signature = crypto.Sign(gov.Private, tx.Data)
	return tx
}

func coinbaseTx(recipient crypto.Address, amount uint64, ts int64) *chainutil.Transaction {
	return &chainutil.Transaction{
		Recipient: recipient,
		Amount:    amount,
		Timestamp: ts,
		Kind:      chainutil.KindCoinbase,
	}
}

func mineBlock(t testingT, params *chaincfg.Params, bc *BlockChain, txs []*chainutil.Transaction, minerAddr crypto.Address, ts int64) *chainutil.Block {
	t.Helper()

	parent := bc.Tip()
	difficulty := bc.NextDifficulty()
	reward := bc.NextReward()

	var fees uint64
	for _, tx := range txs {
		if tx.Kind != chainutil.KindGovernance {
			fees += tx.Fee
		}
	}
	all := append([]*chainutil.Transaction{coinbaseTx(minerAddr, reward+fees, ts)}, txs...)

	block := &chainutil.Block{
		Index:        parent.Index + 1,
		Timestamp:    ts,
		PreviousHash: parent.Hash(),
		Transactions: all,
		Difficulty:   difficulty,
	}
	block.MerkleRoot = block.ComputeMerkleRoot()

	// A real miner searches Nonce for a hash satisfying Difficulty; tests
	// use difficulty 1 against addresses that happen to already satisfy it
	// most of the time, so just search a small range deterministically.
	for nonce := uint64(0); nonce < 1_000_000; nonce++ {
		block.Nonce = nonce
		block.ResetHash()
		if block.Hash().LeadingHexZeros() >= difficulty {
			return block
		}
	}
	t.Fatalf("failed to find a valid nonce for difficulty %d", difficulty)
	return nil
}

// testingT is the subset of *testing.T that mineBlock uses, so this shared
// helper file needs no "testing" import of its own; it is only ever called
// from this package's _test.go files.
type testingT interface {
	Helper()
	Fatalf(format string, args ...interface{})
}
