// Copyright (C) 2023-2026, Tree Ledger, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/treeledger/merkletreestore/treestore"
	"github.com/treeledger/merkletreestore/utils/logging"
)

func TestNewDefaults(t *testing.T) {
	require := require.New(t)

	config, err := New(BuildFlagSet(t.Name()), nil)
	require.NoError(err)
	require.Equal(defaultStoreDir, config.StoreDir)
	require.Equal(treestore.DefaultConfig().PreferredFileSize, config.Store.PreferredFileSize)
	require.Equal(treestore.DefaultConfig().MaxDiskSpace, config.Store.MaxDiskSpace)
	require.Equal(int32(treestore.DefaultMinBlocksToKeep), config.Store.MinBlocksToKeep)
	require.Equal(logging.Info, config.LogLevel)
}

func TestNewOverrides(t *testing.T) {
	require := require.New(t)

	config, err := New(BuildFlagSet(t.Name()), []string{
		"--store-dir=/tmp/trees",
		"--preferred-file-size=1048576",
		"--max-disk-space=10485760",
		"--min-blocks-to-keep=3",
		"--log-level=debug",
	})
	require.NoError(err)
	require.Equal("/tmp/trees", config.StoreDir)
	require.Equal(uint64(1048576), config.Store.PreferredFileSize)
	require.Equal(uint64(10485760), config.Store.MaxDiskSpace)
	require.Equal(int32(3), config.Store.MinBlocksToKeep)
	require.Equal(logging.Debug, config.LogLevel)
}

func TestNewRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{
			name: "zero preferred file size",
			args: []string{"--preferred-file-size=0"},
		},
		{
			name: "disk budget below one file",
			args: []string{"--preferred-file-size=1048576", "--max-disk-space=1024"},
		},
		{
			name: "unknown log level",
			args: []string{"--log-level=shout"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := New(BuildFlagSet(t.Name()), test.args)
			require.Error(t, err)
		})
	}
}
