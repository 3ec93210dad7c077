// Copyright (C) 2023-2026, Tree Ledger, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package treestore

import (
	"errors"
	"fmt"

	"github.com/treeledger/merkletreestore/database"
	"github.com/treeledger/merkletreestore/ids"
)

// Index key families. Single byte prefixes keep the three families apart in
// one ordered keyspace; they are stable across releases.
const (
	positionKeyPrefix = byte('p') // + 32-byte block hash -> DiskPosition
	fileInfoKeyPrefix = byte('f') // + u32 suffix big-endian -> FileInfo
	nextPositionByte  = byte('n') // -> DiskPosition
)

var (
	nextPositionKey = []byte{nextPositionByte}

	// ErrCorruptIndex is returned by indexDB.Load when the persisted
	// keyspace cannot be decoded.
	ErrCorruptIndex = errors.New("corrupt merkle tree index")
)

func positionKey(blockHash ids.ID) []byte {
	key := make([]byte, 1+ids.IDLen)
	key[0] = positionKeyPrefix
	copy(key[1:], blockHash[:])
	return key
}

func fileInfoKey(suffix uint32) []byte {
	// Big-endian so that iteration visits files in ascending suffix order.
	return []byte{
		fileInfoKeyPrefix,
		byte(suffix >> 24),
		byte(suffix >> 16),
		byte(suffix >> 8),
		byte(suffix),
	}
}

func parseFileInfoKey(key []byte) (uint32, error) {
	if len(key) != 5 {
		return 0, fmt.Errorf("%w: expected 5 bytes but got %d", errWrongEncodedLen, len(key))
	}
	return uint32(key[1])<<24 | uint32(key[2])<<16 | uint32(key[3])<<8 | uint32(key[4]), nil
}

// indexChanges is the full delta of one state-changing store operation. It is
// committed as a single atomic batch so that no intermediate state can be
// observed after a crash.
type indexChanges struct {
	addedPositions   map[ids.ID]DiskPosition
	removedPositions []ids.ID
	updatedFileInfos map[uint32]FileInfo
	removedFileInfos []uint32
	nextPosition     DiskPosition
}

func newIndexChanges() *indexChanges {
	return &indexChanges{
		addedPositions:   make(map[ids.ID]DiskPosition),
		updatedFileInfos: make(map[uint32]FileInfo),
	}
}

// indexState is the in-memory mirror reconstructed from the keyspace.
type indexState struct {
	positions    map[ids.ID]DiskPosition
	fileInfos    map[uint32]FileInfo
	nextPosition DiskPosition
}

// indexDB mirrors the store's position map, file info map, and next write
// position to a durable ordered key-value store.
type indexDB struct {
	db database.Database
}

func newIndexDB(db database.Database) *indexDB {
	return &indexDB{db: db}
}

// Commit writes [changes] as one atomic batch.
func (idb *indexDB) Commit(changes *indexChanges) error {
	batch := idb.db.NewBatch()

	for blockHash, position := range changes.addedPositions {
		if err := batch.Put(positionKey(blockHash), position.Bytes()); err != nil {
			return err
		}
	}
	for _, blockHash := range changes.removedPositions {
		if err := batch.Delete(positionKey(blockHash)); err != nil {
			return err
		}
	}
	for suffix, info := range changes.updatedFileInfos {
		if err := batch.Put(fileInfoKey(suffix), info.Bytes()); err != nil {
			return err
		}
	}
	for _, suffix := range changes.removedFileInfos {
		if err := batch.Delete(fileInfoKey(suffix)); err != nil {
			return err
		}
	}
	if err := batch.Put(nextPositionKey, changes.nextPosition.Bytes()); err != nil {
		return err
	}

	return batch.Write()
}

// Load scans the entire keyspace and reconstructs the in-memory state.
// Returns ErrCorruptIndex if any entry fails to decode; the caller is
// expected to reset to an empty state.
func (idb *indexDB) Load() (*indexState, error) {
	state := &indexState{
		positions: make(map[ids.ID]DiskPosition),
		fileInfos: make(map[uint32]FileInfo),
	}

	it := idb.db.NewIterator()
	defer it.Release()

	for it.Next() {
		key := it.Key()
		if len(key) == 0 {
			return nil, fmt.Errorf("%w: empty key", ErrCorruptIndex)
		}
		switch key[0] {
		case positionKeyPrefix:
			blockHash, err := ids.ToID(key[1:])
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCorruptIndex, err)
			}
			position, err := ParseDiskPosition(it.Value())
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCorruptIndex, err)
			}
			state.positions[blockHash] = position
		case fileInfoKeyPrefix:
			suffix, err := parseFileInfoKey(key)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCorruptIndex, err)
			}
			info, err := ParseFileInfo(it.Value())
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCorruptIndex, err)
			}
			state.fileInfos[suffix] = info
		case nextPositionByte:
			position, err := ParseDiskPosition(it.Value())
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrCorruptIndex, err)
			}
			state.nextPosition = position
		default:
			return nil, fmt.Errorf("%w: unknown key prefix 0x%02x", ErrCorruptIndex, key[0])
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}

	return state, nil
}

// Clear removes every index entry in one batch, returning the keyspace to
// its initial empty state.
func (idb *indexDB) Clear() error {
	batch := idb.db.NewBatch()

	it := idb.db.NewIterator()
	defer it.Release()

	for it.Next() {
		if err := batch.Delete(it.Key()); err != nil {
			return err
		}
	}
	if err := it.Error(); err != nil {
		return err
	}

	return batch.Write()
}
