// Copyright (C) 2023-2026, Tree Ledger, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package treestore persists per-block merkle trees into append-oriented
// data files, mirrors their positions to a durable index, prunes whole files
// under a disk budget, and serves reads through a byte-bounded memory cache.
package treestore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/treeledger/merkletreestore/database"
	"github.com/treeledger/merkletreestore/ids"
	"github.com/treeledger/merkletreestore/merkletree"
	"github.com/treeledger/merkletreestore/utils/logging"
	"github.com/treeledger/merkletreestore/utils/perms"
)

var (
	// ErrAlreadyPresent is returned when storing a tree whose block hash is
	// already indexed. The existing record is authoritative.
	ErrAlreadyPresent = errors.New("merkle tree already stored")

	// ErrNoSpace is returned when pruning cannot free enough room without
	// removing one of the most recent trees.
	ErrNoSpace = errors.New("insufficient disk space for merkle tree")
)

// DiskStore appends serialized merkle trees to data files under a directory
// and keeps the position of every tree, per-file metadata, and the next write
// position mirrored to a durable index.
//
// A single DiskStore owns all mutations of its directory. Reads may run
// concurrently with each other and with writes; positions are published only
// after a successful append, so a reader never observes a partially written
// record.
type DiskStore struct {
	log     logging.Logger
	metrics *metrics
	dir     string
	index   *indexDB

	preferredFileSize uint64
	maxDiskSpace      uint64
	minBlocksToKeep   int32

	// lock guards the maps below. It is held across the file append to keep
	// appends linear within a file, and across the index batch commit so the
	// mirror never observably diverges from memory.
	lock      sync.Mutex
	positions map[ids.ID]DiskPosition
	fileInfos map[uint32]FileInfo
	next      DiskPosition
	diskUsage uint64
}

// NewDiskStore opens (or creates) a store rooted at [dir] whose index is
// mirrored to [db]. A corrupt index is reset to empty and logged; the data
// files already on disk are left alone and simply become unreferenced.
func NewDiskStore(
	dir string,
	db database.Database,
	log logging.Logger,
	registerer prometheus.Registerer,
	config Config,
) (*DiskStore, error) {
	m, err := newMetrics(metricsNamespace, registerer)
	if err != nil {
		return nil, err
	}
	return newDiskStore(dir, db, log, m, config)
}

func newDiskStore(
	dir string,
	db database.Database,
	log logging.Logger,
	metrics *metrics,
	config Config,
) (*DiskStore, error) {
	if err := os.MkdirAll(dir, perms.ReadWriteExecute); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &DiskStore{
		log:               log,
		metrics:           metrics,
		dir:               dir,
		index:             newIndexDB(db),
		preferredFileSize: config.PreferredFileSize,
		maxDiskSpace:      config.MaxDiskSpace,
		minBlocksToKeep:   config.MinBlocksToKeep,
	}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// StoreTree appends [tree] to the current data file and commits the index
// delta atomically. [chainHeight] guards pruning: data files holding one of
// the [minBlocksToKeep] most recent trees are never reclaimed.
//
// Returns ErrAlreadyPresent if [blockHash] is already stored and ErrNoSpace
// if the disk budget cannot be met; both leave all state unchanged.
func (s *DiskStore) StoreTree(
	blockHash ids.ID,
	blockHeight int32,
	tree *merkletree.Tree,
	chainHeight int32,
) error {
	bytes := tree.Bytes()
	recordLen := uint64(len(bytes))

	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.positions[blockHash]; ok {
		return ErrAlreadyPresent
	}

	pruned, err := s.pruneLocked(recordLen, chainHeight)
	if err != nil {
		return err
	}
	if !pruned {
		return ErrNoSpace
	}

	// Roll over to a fresh file once the append would push the current file
	// past the preferred size. A record larger than the preferred size is
	// still written whole into its own file. Suffixes that survived a prune
	// of the current write file are skipped over, never overwritten.
	writePos := s.next
	if writePos.Offset > 0 && writePos.Offset+recordLen > s.preferredFileSize {
		writePos = DiskPosition{File: s.nextFreeSuffix(writePos.File + 1)}
	}

	if err := s.appendRecord(writePos, bytes); err != nil {
		return fmt.Errorf("failed to append merkle tree record: %w", err)
	}

	info, existed := s.fileInfos[writePos.File]
	if !existed || blockHeight > info.GreatestHeight {
		info.GreatestHeight = blockHeight
	}
	info.Size += recordLen

	changes := newIndexChanges()
	changes.addedPositions[blockHash] = writePos
	changes.updatedFileInfos[writePos.File] = info
	changes.nextPosition = DiskPosition{
		File:   writePos.File,
		Offset: writePos.Offset + recordLen,
	}
	if err := s.index.Commit(changes); err != nil {
		// The in-memory state was not touched yet and the appended bytes are
		// unreferenced, so the next store targeting this offset overwrites
		// them.
		return fmt.Errorf("failed to commit merkle tree index: %w", err)
	}

	s.positions[blockHash] = writePos
	s.fileInfos[writePos.File] = info
	s.next = changes.nextPosition
	s.diskUsage += recordLen

	s.metrics.treesStored.Inc()
	s.metrics.diskUsage.Set(float64(s.diskUsage))
	s.log.Debug("stored merkle tree",
		zap.Stringer("blockHash", blockHash),
		zap.Int32("blockHeight", blockHeight),
		zap.Uint32("file", writePos.File),
		zap.Uint64("offset", writePos.Offset),
		zap.Uint64("bytes", recordLen),
	)
	return nil
}

// GetTree reads the tree stored for [blockHash] back from its data file.
// Returns database.ErrNotFound if the block hash is not indexed.
func (s *DiskStore) GetTree(blockHash ids.ID) (*merkletree.Tree, error) {
	s.lock.Lock()
	position, ok := s.positions[blockHash]
	s.lock.Unlock()

	if !ok {
		return nil, database.ErrNotFound
	}

	f, err := os.Open(dataFilePath(s.dir, position.File))
	if err != nil {
		return nil, fmt.Errorf("failed to open merkle tree data file: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(int64(position.Offset), io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek merkle tree record: %w", err)
	}
	tree, err := merkletree.Read(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("failed to read merkle tree at file %d offset %d: %w",
			position.File, position.Offset, err)
	}

	s.metrics.treesRead.Inc()
	return tree, nil
}

// DiskUsage returns the total bytes of all live data files.
func (s *DiskStore) DiskUsage() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.diskUsage
}

// LiveFiles returns the suffixes of the currently live data files in
// ascending order.
func (s *DiskStore) LiveFiles() []uint32 {
	s.lock.Lock()
	defer s.lock.Unlock()

	return sortedSuffixes(s.fileInfos)
}

// appendRecord writes [bytes] at [position] and syncs the file. The file is
// created on the first write of a new suffix.
func (s *DiskStore) appendRecord(position DiskPosition, bytes []byte) error {
	f, err := os.OpenFile(dataFilePath(s.dir, position.File), os.O_WRONLY|os.O_CREATE, perms.ReadWrite)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(bytes, int64(position.Offset)); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// pruneLocked frees room for [addBytes] more bytes by removing whole data
// files oldest-first, skipping any file that still holds a tree within
// [minBlocksToKeep] of [chainHeight]. Returns false without changing any
// state if the budget cannot be met.
func (s *DiskStore) pruneLocked(addBytes uint64, chainHeight int32) (bool, error) {
	if s.diskUsage+addBytes <= s.maxDiskSpace {
		return true, nil
	}

	pruneableBelow := chainHeight - s.minBlocksToKeep

	var (
		victims   []uint32
		remaining = s.diskUsage
	)
	for _, suffix := range sortedSuffixes(s.fileInfos) {
		if remaining+addBytes <= s.maxDiskSpace {
			break
		}
		info := s.fileInfos[suffix]
		if info.GreatestHeight > pruneableBelow {
			continue
		}
		victims = append(victims, suffix)
		remaining -= info.Size
	}
	if remaining+addBytes > s.maxDiskSpace {
		return false, nil
	}

	victimSet := make(map[uint32]struct{}, len(victims))
	for _, suffix := range victims {
		victimSet[suffix] = struct{}{}
	}

	changes := newIndexChanges()
	changes.removedFileInfos = victims
	for blockHash, position := range s.positions {
		if _, removed := victimSet[position.File]; removed {
			changes.removedPositions = append(changes.removedPositions, blockHash)
		}
	}

	// If the current write file is removed, restart at the smallest free
	// suffix after the purge.
	changes.nextPosition = s.next
	if _, removed := victimSet[s.next.File]; removed {
		freeSuffix := uint32(0)
		for {
			_, live := s.fileInfos[freeSuffix]
			_, victim := victimSet[freeSuffix]
			if !live || victim {
				break
			}
			freeSuffix++
		}
		changes.nextPosition = DiskPosition{File: freeSuffix}
	}

	for _, suffix := range victims {
		if err := os.Remove(dataFilePath(s.dir, suffix)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("failed to remove merkle tree data file: %w", err)
		}
	}

	if err := s.index.Commit(changes); err != nil {
		return false, fmt.Errorf("failed to commit merkle tree index: %w", err)
	}

	var freed uint64
	for _, blockHash := range changes.removedPositions {
		delete(s.positions, blockHash)
	}
	for _, suffix := range victims {
		freed += s.fileInfos[suffix].Size
		delete(s.fileInfos, suffix)
	}
	s.next = changes.nextPosition
	s.diskUsage -= freed

	s.metrics.pruneRuns.Inc()
	s.metrics.filesPruned.Add(float64(len(victims)))
	s.metrics.diskUsage.Set(float64(s.diskUsage))
	s.log.Info("pruned merkle tree data files",
		zap.Int("files", len(victims)),
		zap.Uint64("freedBytes", freed),
		zap.Int32("chainHeight", chainHeight),
	)
	return true, nil
}

// loadIndex reconstructs the in-memory state from the index keyspace. Any
// corruption resets both the memory and the keyspace to empty; data files on
// disk are never deleted by a reset and are swept out of band.
func (s *DiskStore) loadIndex() error {
	state, err := s.index.Load()
	if err != nil {
		if !errors.Is(err, ErrCorruptIndex) {
			return err
		}
		s.log.Warn("resetting merkle tree index", zap.Error(err))
		return s.resetState()
	}
	if err := validateState(state); err != nil {
		s.log.Warn("resetting merkle tree index", zap.Error(err))
		return s.resetState()
	}

	s.positions = state.positions
	s.fileInfos = state.fileInfos
	s.next = state.nextPosition
	s.diskUsage = 0
	for _, info := range s.fileInfos {
		s.diskUsage += info.Size
	}
	s.metrics.diskUsage.Set(float64(s.diskUsage))
	return nil
}

// validateState cross-checks the decoded index before adopting it.
func validateState(state *indexState) error {
	for blockHash, position := range state.positions {
		info, ok := state.fileInfos[position.File]
		if !ok {
			return fmt.Errorf("%w: position of %s references missing file %d",
				ErrCorruptIndex, blockHash, position.File)
		}
		if position.Offset >= info.Size {
			return fmt.Errorf("%w: position of %s is past the end of file %d",
				ErrCorruptIndex, blockHash, position.File)
		}
	}

	// The next write position either appends to a live file or starts a
	// fresh suffix at offset zero.
	if info, ok := state.fileInfos[state.nextPosition.File]; ok {
		if state.nextPosition.Offset != info.Size {
			return fmt.Errorf("%w: next write position disagrees with size of file %d",
				ErrCorruptIndex, state.nextPosition.File)
		}
	} else if state.nextPosition.Offset != 0 {
		return fmt.Errorf("%w: next write position starts fresh file %d at nonzero offset",
			ErrCorruptIndex, state.nextPosition.File)
	}
	return nil
}

// resetState returns the store to its initial empty state in one batch.
// Orphaned data files are intentionally left on disk for operators to sweep.
func (s *DiskStore) resetState() error {
	if err := s.index.Clear(); err != nil {
		return err
	}
	s.positions = make(map[ids.ID]DiskPosition)
	s.fileInfos = make(map[uint32]FileInfo)
	s.next = DiskPosition{}
	s.diskUsage = 0
	s.metrics.diskUsage.Set(0)
	return nil
}

// nextFreeSuffix returns the smallest suffix >= [from] with no live file.
func (s *DiskStore) nextFreeSuffix(from uint32) uint32 {
	for {
		if _, ok := s.fileInfos[from]; !ok {
			return from
		}
		from++
	}
}

func sortedSuffixes(fileInfos map[uint32]FileInfo) []uint32 {
	suffixes := make([]uint32, 0, len(fileInfos))
	for suffix := range fileInfos {
		suffixes = append(suffixes, suffix)
	}
	slices.Sort(suffixes)
	return suffixes
}
