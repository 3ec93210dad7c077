// Copyright (C) 2023-2026, Tree Ledger, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package treestore

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/treeledger/merkletreestore/database/memdb"
	"github.com/treeledger/merkletreestore/ids"
	"github.com/treeledger/merkletreestore/utils/logging"
)

var errBlockUnavailable = errors.New("block unavailable")

// testBlockSource serves transaction ids from a map and counts reads.
type testBlockSource struct {
	lock   sync.Mutex
	blocks map[ids.ID][]ids.ID
	reads  atomic.Int64

	// gate, when set, blocks every read until it is closed.
	gate chan struct{}
}

func newTestBlockSource() *testBlockSource {
	return &testBlockSource{blocks: make(map[ids.ID][]ids.ID)}
}

func (s *testBlockSource) addBlock(height int) BlockIndex {
	txIDs := make([]ids.ID, 4)
	for i := range txIDs {
		txIDs[i] = ids.GenerateTestID()
	}
	blockHash := ids.GenerateTestID()

	s.lock.Lock()
	s.blocks[blockHash] = txIDs
	s.lock.Unlock()

	return BlockIndex{Hash: blockHash, Height: int32(height)}
}

func (s *testBlockSource) BlockTxIDs(blockHash ids.ID) ([]ids.ID, error) {
	s.reads.Add(1)
	if gate := s.gate; gate != nil {
		<-gate
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	txIDs, ok := s.blocks[blockHash]
	if !ok {
		return nil, errBlockUnavailable
	}
	return txIDs, nil
}

func newTestFactory(t *testing.T, blocks BlockSource, config Config) *Factory {
	t.Helper()

	factory, err := NewFactory(t.TempDir(), memdb.New(), blocks, logging.NoLog{}, nil, config)
	require.NoError(t, err)
	return factory
}

func TestFactoryComputesOnMiss(t *testing.T) {
	require := require.New(t)

	source := newTestBlockSource()
	factory := newTestFactory(t, source, DefaultConfig())

	blockIndex := source.addBlock(1)
	tree, err := factory.GetMerkleTree(blockIndex, 1)
	require.NoError(err)
	require.NotNil(tree)

	// The computed tree was persisted.
	stored, err := factory.Store().GetTree(blockIndex.Hash)
	require.NoError(err)
	require.Equal(tree.Bytes(), stored.Bytes())
}

func TestFactoryServesFromCache(t *testing.T) {
	require := require.New(t)

	source := newTestBlockSource()
	factory := newTestFactory(t, source, DefaultConfig())

	blockIndex := source.addBlock(1)
	first, err := factory.GetMerkleTree(blockIndex, 1)
	require.NoError(err)
	require.Equal(int64(1), source.reads.Load())

	// The second request is served from memory: same shared tree, no block
	// read, no disk read.
	second, err := factory.GetMerkleTree(blockIndex, 1)
	require.NoError(err)
	require.Same(first, second)
	require.Equal(int64(1), source.reads.Load())
}

func TestFactoryServesFromDisk(t *testing.T) {
	require := require.New(t)

	source := newTestBlockSource()
	db := memdb.New()
	dir := t.TempDir()

	factory, err := NewFactory(dir, db, source, logging.NoLog{}, nil, DefaultConfig())
	require.NoError(err)

	blockIndex := source.addBlock(1)
	tree, err := factory.GetMerkleTree(blockIndex, 1)
	require.NoError(err)

	// A fresh factory over the same directory has a cold cache; the tree
	// comes back from disk without touching the block source.
	reopened, err := NewFactory(dir, db, source, logging.NoLog{}, nil, DefaultConfig())
	require.NoError(err)

	reads := source.reads.Load()
	read, err := reopened.GetMerkleTree(blockIndex, 1)
	require.NoError(err)
	require.Equal(tree.Bytes(), read.Bytes())
	require.Equal(reads, source.reads.Load())
}

func TestFactoryMissingBlock(t *testing.T) {
	require := require.New(t)

	source := newTestBlockSource()
	factory := newTestFactory(t, source, DefaultConfig())

	blockIndex := BlockIndex{Hash: ids.GenerateTestID(), Height: 1}
	_, err := factory.GetMerkleTree(blockIndex, 1)
	require.ErrorIs(err, errBlockUnavailable)
}

func TestFactoryReturnsTreeWhenStoreFull(t *testing.T) {
	require := require.New(t)

	source := newTestBlockSource()
	config := DefaultConfig()
	config.MaxDiskSpace = 1 // nothing fits
	factory := newTestFactory(t, source, config)

	// Persistence fails with no space; the computed tree is still served.
	blockIndex := source.addBlock(1)
	tree, err := factory.GetMerkleTree(blockIndex, 1)
	require.NoError(err)
	require.NotNil(tree)
	require.Zero(factory.Store().DiskUsage())

	// And it is cached despite not being on disk.
	again, err := factory.GetMerkleTree(blockIndex, 1)
	require.NoError(err)
	require.Same(tree, again)
}

func TestFactorySingleFlight(t *testing.T) {
	require := require.New(t)

	source := newTestBlockSource()
	source.gate = make(chan struct{})
	factory := newTestFactory(t, source, DefaultConfig())

	blockIndex := source.addBlock(1)

	const callers = 10
	var (
		wg    sync.WaitGroup
		trees [callers]any
		errs  [callers]error
	)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			trees[i], errs[i] = factory.GetMerkleTree(blockIndex, 1)
		}(i)
	}

	// Release the block read once every caller is either parked on the
	// in-flight computation or still on its way in.
	close(source.gate)
	wg.Wait()

	// All callers share one tree from a single block read.
	require.Equal(int64(1), source.reads.Load())
	for i := 0; i < callers; i++ {
		require.NoError(errs[i])
		require.Same(trees[0], trees[i])
	}
}

// corruptDataFile overwrites four bytes inside the first record of a data
// file with 0xff.
func corruptDataFile(t *testing.T, store *DiskStore, suffix uint32) {
	t.Helper()

	f, err := os.OpenFile(dataFilePath(store.dir, suffix), os.O_WRONLY, 0o640)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xff, 0xff, 0xff, 0xff}, 4)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestFactoryRecomputesCorruptRecord(t *testing.T) {
	require := require.New(t)

	source := newTestBlockSource()
	db := memdb.New()
	dir := t.TempDir()

	factory, err := NewFactory(dir, db, source, logging.NoLog{}, nil, DefaultConfig())
	require.NoError(err)

	blockIndex := source.addBlock(1)
	tree, err := factory.GetMerkleTree(blockIndex, 1)
	require.NoError(err)

	// Corrupt the stored record, then force the disk path with a cold
	// cache. The factory falls back to recomputation.
	corruptDataFile(t, factory.Store(), 0)

	reopened, err := NewFactory(dir, db, source, logging.NoLog{}, nil, DefaultConfig())
	require.NoError(err)
	recomputed, err := reopened.GetMerkleTree(blockIndex, 1)
	require.NoError(err)
	require.Equal(tree.Root(), recomputed.Root())
}
