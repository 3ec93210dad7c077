// Copyright (C) 2023-2026, Tree Ledger, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package treestore

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/treeledger/merkletreestore/cache"
	"github.com/treeledger/merkletreestore/database"
	"github.com/treeledger/merkletreestore/ids"
	"github.com/treeledger/merkletreestore/merkletree"
	"github.com/treeledger/merkletreestore/utils/logging"
)

// BlockSource provides the transaction ids of a block on request. It is the
// store's view of the surrounding block database.
type BlockSource interface {
	// BlockTxIDs returns the transaction ids of the block with [blockHash],
	// in block order. Returns an error if the block is unavailable.
	BlockTxIDs(blockHash ids.ID) ([]ids.ID, error)
}

// BlockIndex identifies the block a tree is requested for.
type BlockIndex struct {
	Hash   ids.ID
	Height int32
}

// Factory serves merkle trees from a byte-bounded memory cache, falling back
// to the disk store and, as a last resort, recomputing the tree from block
// data. Computed trees are persisted and cached best-effort.
//
// Construct exactly one Factory per store directory and share the handle.
type Factory struct {
	log     logging.Logger
	metrics *metrics
	store   *DiskStore
	blocks  BlockSource

	trees cache.Cacher[ids.ID, *merkletree.Tree]

	// flight collapses concurrent requests for the same block into one
	// disk read or computation.
	flight singleflight.Group

	// computePool bounds the number of tree computations running at once.
	// Distinct blocks compute in parallel; a single request occupies one
	// slot.
	computePool *semaphore.Weighted
}

// NewFactory opens the disk store rooted at [dir] with its index in [db] and
// returns a factory serving trees from it. [blocks] supplies block data for
// recomputation.
func NewFactory(
	dir string,
	db database.Database,
	blocks BlockSource,
	log logging.Logger,
	registerer prometheus.Registerer,
	config Config,
) (*Factory, error) {
	m, err := newMetrics(metricsNamespace, registerer)
	if err != nil {
		return nil, err
	}

	store, err := newDiskStore(dir, db, log, m, config)
	if err != nil {
		return nil, err
	}

	poolSize := config.ComputePoolThreads
	if poolSize <= 0 {
		poolSize = 1
	}

	return &Factory{
		log:     log,
		metrics: m,
		store:   store,
		blocks:  blocks,
		trees: cache.NewSizedFIFO[ids.ID, *merkletree.Tree](
			config.MaxMemCacheSize,
			(*merkletree.Tree).SerializedSize,
		),
		computePool: semaphore.NewWeighted(int64(poolSize)),
	}, nil
}

// Store returns the disk store backing the factory.
func (f *Factory) Store() *DiskStore {
	return f.store
}

// GetMerkleTree returns the merkle tree of the block identified by
// [blockIndex]. [chainHeight] must be the current chain tip height; it
// guards pruning when a computed tree is persisted.
//
// Returns an error only if the tree is neither stored nor computable from
// block data. A failure to persist or cache a computed tree is logged and
// the tree is still returned.
func (f *Factory) GetMerkleTree(blockIndex BlockIndex, chainHeight int32) (*merkletree.Tree, error) {
	blockHash := blockIndex.Hash

	if tree, ok := f.trees.Get(blockHash); ok {
		f.metrics.cacheHit.Inc()
		return tree, nil
	}
	f.metrics.cacheMiss.Inc()

	// Concurrent misses for the same block share one load or computation.
	// The winner inserts into the cache before releasing the followers.
	treeIntf, err, _ := f.flight.Do(string(blockHash[:]), func() (interface{}, error) {
		if tree, ok := f.trees.Get(blockHash); ok {
			return tree, nil
		}
		tree, err := f.load(blockIndex, chainHeight)
		if err != nil {
			return nil, err
		}
		f.trees.Put(blockHash, tree)
		return tree, nil
	})
	if err != nil {
		return nil, err
	}
	return treeIntf.(*merkletree.Tree), nil
}

// load reads the tree from disk or computes and persists it.
func (f *Factory) load(blockIndex BlockIndex, chainHeight int32) (*merkletree.Tree, error) {
	tree, err := f.store.GetTree(blockIndex.Hash)
	switch {
	case err == nil:
		return tree, nil
	case !errors.Is(err, database.ErrNotFound):
		// A broken record is recoverable: the tree can be recomputed from
		// block data below.
		f.log.Warn("failed to read stored merkle tree",
			zap.Stringer("blockHash", blockIndex.Hash),
			zap.Error(err),
		)
	}

	txIDs, err := f.blocks.BlockTxIDs(blockIndex.Hash)
	if err != nil {
		return nil, fmt.Errorf("failed to read block %s: %w", blockIndex.Hash, err)
	}

	if err := f.computePool.Acquire(context.Background(), 1); err != nil {
		return nil, err
	}
	tree, err = merkletree.Build(txIDs)
	f.computePool.Release(1)
	if err != nil {
		return nil, fmt.Errorf("failed to compute merkle tree for block %s: %w", blockIndex.Hash, err)
	}
	f.metrics.treesComputed.Inc()

	// Persistence is best-effort for this request; the computed tree is
	// returned regardless.
	err = f.store.StoreTree(blockIndex.Hash, blockIndex.Height, tree, chainHeight)
	switch {
	case err == nil, errors.Is(err, ErrAlreadyPresent):
	case errors.Is(err, ErrNoSpace):
		f.log.Warn("not persisting merkle tree",
			zap.Stringer("blockHash", blockIndex.Hash),
			zap.Error(err),
		)
	default:
		f.log.Error("failed to persist merkle tree",
			zap.Stringer("blockHash", blockIndex.Hash),
			zap.Error(err),
		)
	}

	return tree, nil
}
