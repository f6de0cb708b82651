// Copyright (c) 2024 The aixd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainutil

import (
	"fmt"

	"github.com/aix-network/aixd/crypto"
)

// MarshalBinary encodes tx in full (including Signature, unlike the
// signing/txid preimages) for wire transmission and persistence.
func (tx *Transaction) MarshalBinary() ([]byte, error) {
	w := &canonicalWriter{}
	w.putFixed(tx.Sender.Payload[:])
	w.putByte(byte(tx.Sender.Network))
	w.putFixed(tx.Recipient.Payload[:])
	w.putByte(byte(tx.Recipient.Network))
	w.putUint64(tx.Amount)
	w.putUint64(tx.Fee)
	w.putUint64(tx.Nonce)
	w.putInt64(tx.Timestamp)
	w.putByte(byte(tx.Kind))
	w.putBytes(tx.PublicKey)
	w.putBytes(tx.Signature)
	w.putBytes(tx.Data)
	return w.bytes(), nil
}

// UnmarshalBinary decodes a Transaction previously produced by
// MarshalBinary. The txid cache is left empty, so TxID recomputes the id
// from the decoded fields on first use.
func (tx *Transaction) UnmarshalBinary(data []byte) error {
	r := newCanonicalReader(data)
	senderPayload, err := r.getFixed(crypto.AddressSize)
	if err != nil {
		return fmt.Errorf("decode tx sender: %w", err)
	}
	senderNet, err := r.getByte()
	if err != nil {
		return fmt.Errorf("decode tx sender network: %w", err)
	}
	recipientPayload, err := r.getFixed(crypto.AddressSize)
	if err != nil {
		return fmt.Errorf("decode tx recipient: %w", err)
	}
	recipientNet, err := r.getByte()
	if err != nil {
		return fmt.Errorf("decode tx recipient network: %w", err)
	}
	amount, err := r.getUint64()
	if err != nil {
		return fmt.Errorf("decode tx amount: %w", err)
	}
	fee, err := r.getUint64()
	if err != nil {
		return fmt.Errorf("decode tx fee: %w", err)
	}
	nonce, err := r.getUint64()
	if err != nil {
		return fmt.Errorf("decode tx nonce: %w", err)
	}
	ts, err := r.getInt64()
	if err != nil {
		return fmt.Errorf("decode tx timestamp: %w", err)
	}
	kind, err := r.getByte()
	if err != nil {
		return fmt.Errorf("decode tx kind: %w", err)
	}
	pubKey, err := r.getBytes()
	if err != nil {
		return fmt.Errorf("decode tx public key: %w", err)
	}
	sig, err := r.getBytes()
	if err != nil {
		return fmt.Errorf("decode tx signature: %w", err)
	}
	data, err := r.getBytes()
	if err != nil {
		return fmt.Errorf("decode tx data: %w", err)
	}

	*tx = Transaction{
		Sender:    crypto.Address{Network: crypto.Network(senderNet)},
		Recipient: crypto.Address{Network: crypto.Network(recipientNet)},
		Amount:    amount,
		Fee:       fee,
		Nonce:     nonce,
		Timestamp: ts,
		Kind:      Kind(kind),
		PublicKey: pubKey,
		Signature: sig,
		Data:      data,
	}
	copy(tx.Sender.Payload[:], senderPayload)
	copy(tx.Recipient.Payload[:], recipientPayload)
	return nil
}

// MarshalBinary encodes b (header fields plus every transaction) for wire
// transmission and persistence.
func (b *Block) MarshalBinary() ([]byte, error) {
	w := &canonicalWriter{}
	w.putFixed(b.headerPreimage())
	w.putUint32(uint32(len(b.Transactions)))
	for _, tx := range b.Transactions {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return nil, err
		}
		w.putBytes(raw)
	}
	return w.bytes(), nil
}

// headerPreimageSize is the fixed encoded length of headerPreimage's
// output: 8 (index) + 8 (timestamp) + 32 (prev hash) + 32 (merkle root) + 8
// (nonce) + 4 (difficulty).
const headerPreimageSize = 8 + 8 + crypto.HashSize + crypto.HashSize + 8 + 4

// UnmarshalBinary decodes a Block previously produced by MarshalBinary.
func (b *Block) UnmarshalBinary(data []byte) error {
	r := newCanonicalReader(data)
	header, err := r.getFixed(headerPreimageSize)
	if err != nil {
		return fmt.Errorf("decode block header: %w", err)
	}
	hr := newCanonicalReader(header)
	index, err := hr.getUint64()
	if err != nil {
		return fmt.Errorf("decode block index: %w", err)
	}
	ts, err := hr.getInt64()
	if err != nil {
		return fmt.Errorf("decode block timestamp: %w", err)
	}
	prevHash, err := hr.getFixed(crypto.HashSize)
	if err != nil {
		return fmt.Errorf("decode block previous hash: %w", err)
	}
	merkleRoot, err := hr.getFixed(crypto.HashSize)
	if err != nil {
		return fmt.Errorf("decode block merkle root: %w", err)
	}
	nonce, err := hr.getUint64()
	if err != nil {
		return fmt.Errorf("decode block nonce: %w", err)
	}
	difficulty, err := hr.getUint32()
	if err != nil {
		return fmt.Errorf("decode block difficulty: %w", err)
	}

	count, err := r.getUint32()
	if err != nil {
		return fmt.Errorf("decode block tx count: %w", err)
	}
	txs := make([]*Transaction, count)
	for i := range txs {
		raw, err := r.getBytes()
		if err != nil {
			return fmt.Errorf("decode block tx %d: %w", i, err)
		}
		tx := &Transaction{}
		if err := tx.UnmarshalBinary(raw); err != nil {
			return fmt.Errorf("decode block tx %d: %w", i, err)
		}
		txs[i] = tx
	}

	*b = Block{
		Index:        index,
		Timestamp:    ts,
		Transactions: txs,
		Nonce:        nonce,
		Difficulty:   int(difficulty),
	}
	copy(b.PreviousHash[:], prevHash)
	copy(b.MerkleRoot[:], merkleRoot)
	return nil
}
