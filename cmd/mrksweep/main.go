// Copyright (C) 2023-2026, Tree Ledger, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// mrksweep removes merkle tree data files that the index no longer
// references. An index reset never deletes data files, so a store that went
// through a reset leaves orphans behind; this tool sweeps them out of band.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/treeledger/merkletreestore/config"
	"github.com/treeledger/merkletreestore/database/leveldb"
	"github.com/treeledger/merkletreestore/treestore"
	"github.com/treeledger/merkletreestore/utils/logging"
)

const indexDirName = "index"

func main() {
	fs := config.BuildFlagSet("mrksweep")
	dryRun := fs.Bool("dry-run", false, "List orphaned data files without removing them")

	cfg, err := config.New(fs, os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse config: %s\n", err)
		os.Exit(1)
	}

	log := logging.NewDefaultLogger("mrksweep", cfg.LogLevel)

	err = sweep(cfg, log, *dryRun)
	if err != nil {
		log.Fatal("sweep failed", zap.Error(err))
	}
	log.Stop()
	if err != nil {
		os.Exit(1)
	}
}

func sweep(cfg config.Config, log logging.Logger, dryRun bool) error {
	db, err := leveldb.New(
		filepath.Join(cfg.StoreDir, indexDirName),
		log,
		cfg.IndexCacheSize,
		0,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to open index database: %w", err)
	}
	defer db.Close()

	store, err := treestore.NewDiskStore(cfg.StoreDir, db, log, nil, cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	live := make(map[uint32]struct{})
	for _, suffix := range store.LiveFiles() {
		live[suffix] = struct{}{}
	}

	entries, err := os.ReadDir(cfg.StoreDir)
	if err != nil {
		return fmt.Errorf("failed to list store directory: %w", err)
	}

	var eg errgroup.Group
	orphans := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		suffix, ok := treestore.ParseDataFileName(entry.Name())
		if !ok {
			continue
		}
		if _, ok := live[suffix]; ok {
			continue
		}

		orphans++
		path := filepath.Join(cfg.StoreDir, entry.Name())
		if dryRun {
			log.Info("orphaned data file", zap.String("path", path))
			continue
		}
		eg.Go(func() error {
			if err := os.Remove(path); err != nil {
				return err
			}
			log.Info("removed orphaned data file", zap.String("path", path))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	log.Info("sweep complete",
		zap.Int("orphans", orphans),
		zap.Int("live", len(live)),
		zap.Bool("dryRun", dryRun),
	)
	return nil
}
