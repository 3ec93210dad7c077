// Copyright (C) 2023-2026, Tree Ledger, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

// Flag and config file keys
const (
	StoreDirKey           = "store-dir"
	PreferredFileSizeKey  = "preferred-file-size"
	MaxDiskSpaceKey       = "max-disk-space"
	MaxMemCacheSizeKey    = "max-mem-cache-size"
	MinBlocksToKeepKey    = "min-blocks-to-keep"
	IndexCacheSizeKey     = "index-cache-size"
	ComputePoolThreadsKey = "compute-pool-threads"
	LogLevelKey           = "log-level"
)
