// Copyright (C) 2023-2026, Tree Ledger, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package treestore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/treeledger/merkletreestore/database/memdb"
	"github.com/treeledger/merkletreestore/ids"
)

func TestIndexRoundTrip(t *testing.T) {
	require := require.New(t)

	idb := newIndexDB(memdb.New())

	first := ids.GenerateTestID()
	second := ids.GenerateTestID()

	changes := newIndexChanges()
	changes.addedPositions[first] = DiskPosition{File: 0, Offset: 0}
	changes.addedPositions[second] = DiskPosition{File: 0, Offset: 300}
	changes.updatedFileInfos[0] = FileInfo{Size: 600, GreatestHeight: 2}
	changes.nextPosition = DiskPosition{File: 0, Offset: 600}
	require.NoError(idb.Commit(changes))

	state, err := idb.Load()
	require.NoError(err)
	require.Equal(map[ids.ID]DiskPosition{
		first:  {File: 0, Offset: 0},
		second: {File: 0, Offset: 300},
	}, state.positions)
	require.Equal(map[uint32]FileInfo{
		0: {Size: 600, GreatestHeight: 2},
	}, state.fileInfos)
	require.Equal(DiskPosition{File: 0, Offset: 600}, state.nextPosition)
}

func TestIndexCommitIsOneBatch(t *testing.T) {
	require := require.New(t)

	db := memdb.New()
	idb := newIndexDB(db)

	first := ids.GenerateTestID()
	second := ids.GenerateTestID()

	changes := newIndexChanges()
	changes.addedPositions[first] = DiskPosition{File: 0, Offset: 0}
	changes.addedPositions[second] = DiskPosition{File: 1, Offset: 0}
	changes.updatedFileInfos[0] = FileInfo{Size: 100, GreatestHeight: 1}
	changes.updatedFileInfos[1] = FileInfo{Size: 100, GreatestHeight: 2}
	changes.nextPosition = DiskPosition{File: 1, Offset: 100}
	require.NoError(idb.Commit(changes))

	// A prune delta removes and updates in the same commit.
	prune := newIndexChanges()
	prune.removedPositions = append(prune.removedPositions, first)
	prune.removedFileInfos = append(prune.removedFileInfos, 0)
	prune.nextPosition = DiskPosition{File: 1, Offset: 100}
	require.NoError(idb.Commit(prune))

	state, err := idb.Load()
	require.NoError(err)
	require.NotContains(state.positions, first)
	require.Contains(state.positions, second)
	require.NotContains(state.fileInfos, uint32(0))
	require.Contains(state.fileInfos, uint32(1))
}

func TestIndexLoadCorruption(t *testing.T) {
	tests := []struct {
		name  string
		key   []byte
		value []byte
	}{
		{
			name:  "unknown prefix",
			key:   []byte{'z'},
			value: []byte{},
		},
		{
			name:  "short position key",
			key:   []byte{positionKeyPrefix, 1, 2, 3},
			value: DiskPosition{}.Bytes(),
		},
		{
			name:  "short position value",
			key:   positionKey(ids.GenerateTestID()),
			value: []byte{1, 2, 3},
		},
		{
			name:  "short file info value",
			key:   fileInfoKey(0),
			value: []byte{1, 2, 3},
		},
		{
			name:  "short next position value",
			key:   nextPositionKey,
			value: []byte{1, 2, 3},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require := require.New(t)

			db := memdb.New()
			idb := newIndexDB(db)
			require.NoError(db.Put(test.key, test.value))

			_, err := idb.Load()
			require.ErrorIs(err, ErrCorruptIndex)
		})
	}
}

func TestIndexClear(t *testing.T) {
	require := require.New(t)

	db := memdb.New()
	idb := newIndexDB(db)

	changes := newIndexChanges()
	changes.addedPositions[ids.GenerateTestID()] = DiskPosition{}
	changes.updatedFileInfos[0] = FileInfo{Size: 100, GreatestHeight: 1}
	require.NoError(idb.Commit(changes))

	require.NoError(idb.Clear())

	state, err := idb.Load()
	require.NoError(err)
	require.Empty(state.positions)
	require.Empty(state.fileInfos)
	require.Equal(DiskPosition{}, state.nextPosition)
}

func TestFileInfoKeyOrdering(t *testing.T) {
	require := require.New(t)

	// Big-endian suffix encoding keeps iteration in ascending file order.
	prev := fileInfoKey(0)
	for _, suffix := range []uint32{1, 255, 256, 1 << 16, 1 << 24} {
		key := fileInfoKey(suffix)
		require.Greater(string(key), string(prev))
		parsed, err := parseFileInfoKey(key)
		require.NoError(err)
		require.Equal(suffix, parsed)
		prev = key
	}
}

func TestPositionEncodingRoundTrip(t *testing.T) {
	for _, position := range []DiskPosition{
		{},
		{File: 1, Offset: 2},
		{File: 1<<32 - 1, Offset: 1<<64 - 1},
	} {
		parsed, err := ParseDiskPosition(position.Bytes())
		require.NoError(t, err)
		require.Equal(t, position, parsed)
	}

	for _, info := range []FileInfo{
		{},
		{Size: 300, GreatestHeight: 12},
		{Size: 1<<64 - 1, GreatestHeight: -1},
	} {
		parsed, err := ParseFileInfo(info.Bytes())
		require.NoError(t, err)
		require.Equal(t, info, parsed)
	}
}
