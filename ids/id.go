// Copyright (C) 2023-2026, Tree Ledger, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ids

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/treeledger/merkletreestore/utils/hashing"
)

const IDLen = 32

var (
	// Empty is a useful all-zero value
	Empty = ID{}

	ErrBadIDLength = fmt.Errorf("expected %d bytes", IDLen)
)

// ID is a 256-bit block identifier. IDs are comparable and therefore
// usable as map keys directly.
type ID [IDLen]byte

// ToID attempts to convert a byte slice into an id
func ToID(bytes []byte) (ID, error) {
	if len(bytes) != IDLen {
		return Empty, fmt.Errorf("%w but got %d", ErrBadIDLength, len(bytes))
	}
	var id ID
	copy(id[:], bytes)
	return id, nil
}

// FromString is the inverse of ID.String()
func FromString(idStr string) (ID, error) {
	bytes, err := hex.DecodeString(idStr)
	if err != nil {
		return Empty, err
	}
	return ToID(bytes)
}

// ComputeID returns the ID of the provided preimage.
func ComputeID(bytes []byte) ID {
	return ID(hashing.ComputeHash256Array(bytes))
}

// Prefix this id to create a more selective id. This can be used to store
// multiple values under the same key with different prefixes.
func (id ID) Prefix(prefixes ...uint64) ID {
	packed := make([]byte, 8*len(prefixes)+IDLen)
	for i, prefix := range prefixes {
		binary.BigEndian.PutUint64(packed[8*i:], prefix)
	}
	copy(packed[8*len(prefixes):], id[:])
	return ComputeID(packed)
}

// Hash64 returns a stable non-cryptographic 64-bit digest of the ID.
// It is cheaper than using the ID itself where only a short fingerprint
// is needed, such as sampled log lines.
func (id ID) Hash64() uint64 {
	return xxhash.Sum64(id[:])
}

func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := FromString(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
