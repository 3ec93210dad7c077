// Copyright (C) 2023-2026, Tree Ledger, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package treestore

import (
	"runtime"

	"github.com/treeledger/merkletreestore/utils/units"
)

const (
	// DefaultPreferredFileSize is the soft cap above which the store rolls
	// over to a new data file.
	DefaultPreferredFileSize = 32 * units.MiB

	// DefaultMaxDiskSpace is the hard cap on the total size of all data
	// files.
	DefaultMaxDiskSpace = 2 * units.GiB

	// DefaultMaxMemCacheSize is the hard cap on the aggregate serialized
	// size of cached trees.
	DefaultMaxMemCacheSize = 32 * units.MiB

	// DefaultMinBlocksToKeep is the retention window: data files holding a
	// tree within this many heights of the chain tip are never pruned.
	DefaultMinBlocksToKeep = 288
)

// Config carries the numeric limits of the store and factory.
type Config struct {
	// PreferredFileSize is a soft cap; a single record larger than it is
	// written whole into its own file.
	PreferredFileSize uint64

	// MaxDiskSpace bounds the sum of all data file sizes.
	MaxDiskSpace uint64

	// MaxMemCacheSize bounds the aggregate serialized size of trees held in
	// memory.
	MaxMemCacheSize int

	// MinBlocksToKeep is the pruning height guard.
	MinBlocksToKeep int32

	// ComputePoolThreads bounds the number of merkle tree computations that
	// run in parallel.
	ComputePoolThreads int
}

// DefaultConfig returns the limits used when the operator configures
// nothing.
func DefaultConfig() Config {
	return Config{
		PreferredFileSize:  DefaultPreferredFileSize,
		MaxDiskSpace:       DefaultMaxDiskSpace,
		MaxMemCacheSize:    DefaultMaxMemCacheSize,
		MinBlocksToKeep:    DefaultMinBlocksToKeep,
		ComputePoolThreads: runtime.NumCPU(),
	}
}
