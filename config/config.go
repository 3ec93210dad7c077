// Copyright (C) 2023-2026, Tree Ledger, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config builds the store configuration from command line flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/treeledger/merkletreestore/database/leveldb"
	"github.com/treeledger/merkletreestore/treestore"
	"github.com/treeledger/merkletreestore/utils/logging"
)

var (
	homeDir         = os.ExpandEnv("$HOME")
	defaultStoreDir = filepath.Join(homeDir, ".merkletreestore")
)

// Config is the parsed configuration of a store process.
type Config struct {
	// StoreDir is the directory holding the data files and the index.
	StoreDir string

	// IndexCacheSize is the index engine's internal block cache, in bytes.
	IndexCacheSize int

	// LogLevel filters emitted log entries.
	LogLevel logging.Level

	// Store carries the numeric limits of the store and factory.
	Store treestore.Config
}

// BuildFlagSet returns the complete set of flags for the store.
func BuildFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	defaults := treestore.DefaultConfig()

	fs.String(StoreDirKey, defaultStoreDir, "Directory for merkle tree data files and index")
	fs.Uint64(PreferredFileSizeKey, defaults.PreferredFileSize, "Soft cap in bytes above which a new data file is started")
	fs.Uint64(MaxDiskSpaceKey, defaults.MaxDiskSpace, "Hard cap in bytes on the total size of all data files")
	fs.Int(MaxMemCacheSizeKey, defaults.MaxMemCacheSize, "Hard cap in bytes on aggregate cached tree bytes")
	fs.Int32(MinBlocksToKeepKey, defaults.MinBlocksToKeep, "Data files holding a tree within this many heights of the tip are never pruned")
	fs.Int(IndexCacheSizeKey, leveldb.DefaultBlockCacheSize, "Index database internal cache size in bytes")
	fs.Int(ComputePoolThreadsKey, defaults.ComputePoolThreads, "Maximum number of merkle tree computations running in parallel")
	fs.String(LogLevelKey, logging.Info.String(), "The log level. Should be one of {verbo, debug, info, warn, error, fatal, off}")
	return fs
}

// New parses [args] against [fs] and returns the resulting configuration.
func New(fs *pflag.FlagSet, args []string) (Config, error) {
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return Config{}, err
	}

	logLevel, err := logging.ToLevel(v.GetString(LogLevelKey))
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", LogLevelKey, err)
	}

	config := Config{
		StoreDir:       v.GetString(StoreDirKey),
		IndexCacheSize: v.GetInt(IndexCacheSizeKey),
		LogLevel:       logLevel,
		Store: treestore.Config{
			PreferredFileSize:  v.GetUint64(PreferredFileSizeKey),
			MaxDiskSpace:       v.GetUint64(MaxDiskSpaceKey),
			MaxMemCacheSize:    v.GetInt(MaxMemCacheSizeKey),
			MinBlocksToKeep:    v.GetInt32(MinBlocksToKeepKey),
			ComputePoolThreads: v.GetInt(ComputePoolThreadsKey),
		},
	}

	if config.Store.PreferredFileSize == 0 {
		return Config{}, fmt.Errorf("%s must be positive", PreferredFileSizeKey)
	}
	if config.Store.MaxDiskSpace < config.Store.PreferredFileSize {
		return Config{}, fmt.Errorf("%s must be at least %s", MaxDiskSpaceKey, PreferredFileSizeKey)
	}
	return config, nil
}
