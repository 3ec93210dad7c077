// Copyright (C) 2023-2026, Tree Ledger, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package merkletree builds and serializes per-block merkle trees. A tree is
// immutable once built and is shared by pointer.
package merkletree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"

	"github.com/treeledger/merkletreestore/ids"
	"github.com/treeledger/merkletreestore/utils/hashing"
)

const (
	checksumLen = 8

	// maxTxCount bounds the leaf count read from untrusted bytes before any
	// allocation happens.
	maxTxCount = 1 << 32
)

var (
	ErrNoTxs       = errors.New("merkle tree requires at least one transaction")
	ErrBadChecksum = errors.New("merkle tree bytes failed checksum")
	ErrTooManyTxs  = fmt.Errorf("merkle tree exceeds %d transactions", maxTxCount)
	ErrTruncated   = errors.New("merkle tree bytes truncated")
)

// Tree is a merkle tree over the transaction ids of one block. Only the
// leaves are serialized; interior levels are recomputed when the tree is
// parsed back.
type Tree struct {
	txIDs []ids.ID
	root  ids.ID

	// The canonical serialized form, computed once at construction. Disk and
	// cache size accounting both use its length.
	serialized []byte
}

// Build computes the merkle tree over [txIDs]. Nodes are paired with
// double-sha256 and an odd node at any level is paired with itself, the
// pairing used by bitcoin-derived chains.
func Build(txIDs []ids.ID) (*Tree, error) {
	if len(txIDs) == 0 {
		return nil, ErrNoTxs
	}

	leaves := make([]ids.ID, len(txIDs))
	copy(leaves, txIDs)

	return &Tree{
		txIDs:      leaves,
		root:       computeRoot(leaves),
		serialized: serialize(leaves),
	}, nil
}

// Parse is the inverse of Tree.Bytes.
func Parse(b []byte) (*Tree, error) {
	return Read(bytes.NewReader(b))
}

// Read decodes one serialized tree from [r]. The encoding is
// self-delimiting: exactly the record's bytes are consumed, which allows
// records to be read back from any offset of a data file.
func Read(r io.ByteReader) (*Tree, error) {
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTruncated, err)
	}
	if count == 0 {
		return nil, ErrNoTxs
	}
	if count > maxTxCount {
		return nil, ErrTooManyTxs
	}

	header := make([]byte, binary.MaxVarintLen64)
	headerLen := binary.PutUvarint(header, count)

	body := make([]byte, headerLen+int(count)*ids.IDLen+checksumLen)
	copy(body, header[:headerLen])
	for i := headerLen; i < len(body); i++ {
		b, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTruncated, err)
		}
		body[i] = b
	}

	payload := body[:len(body)-checksumLen]
	checksum := binary.LittleEndian.Uint64(body[len(body)-checksumLen:])
	if xxhash.Sum64(payload) != checksum {
		return nil, ErrBadChecksum
	}

	txIDs := make([]ids.ID, count)
	for i := range txIDs {
		copy(txIDs[i][:], payload[headerLen+i*ids.IDLen:])
	}

	return &Tree{
		txIDs:      txIDs,
		root:       computeRoot(txIDs),
		serialized: body,
	}, nil
}

// Root returns the merkle root of the tree.
func (t *Tree) Root() ids.ID {
	return t.root
}

// TxCount returns the number of leaves.
func (t *Tree) TxCount() int {
	return len(t.txIDs)
}

// TxIDs returns the tree's leaves. The returned slice must not be modified.
func (t *Tree) TxIDs() []ids.ID {
	return t.txIDs
}

// Bytes returns the canonical serialized form: a uvarint leaf count, the
// leaves, and a little-endian xxhash64 of everything before it. The returned
// slice must not be modified.
func (t *Tree) Bytes() []byte {
	return t.serialized
}

// SerializedSize returns len(t.Bytes()) without materializing anything.
func (t *Tree) SerializedSize() int {
	return len(t.serialized)
}

func serialize(txIDs []ids.ID) []byte {
	header := make([]byte, binary.MaxVarintLen64)
	headerLen := binary.PutUvarint(header, uint64(len(txIDs)))

	bytes := make([]byte, headerLen+len(txIDs)*ids.IDLen+checksumLen)
	copy(bytes, header[:headerLen])
	for i, txID := range txIDs {
		copy(bytes[headerLen+i*ids.IDLen:], txID[:])
	}

	payload := bytes[:len(bytes)-checksumLen]
	binary.LittleEndian.PutUint64(bytes[len(bytes)-checksumLen:], xxhash.Sum64(payload))
	return bytes
}

func computeRoot(level []ids.ID) ids.ID {
	if len(level) == 1 {
		return level[0]
	}

	next := make([]ids.ID, (len(level)+1)/2)
	var pair [2 * ids.IDLen]byte
	for i := range next {
		left := level[2*i]
		right := left
		if 2*i+1 < len(level) {
			right = level[2*i+1]
		}
		copy(pair[:], left[:])
		copy(pair[ids.IDLen:], right[:])
		next[i] = ids.ID(hashing.ComputeDoubleHash256Array(pair[:]))
	}
	return computeRoot(next)
}
