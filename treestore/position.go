// Copyright (C) 2023-2026, Tree Ledger, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package treestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
)

// dataFileFormat names the data files inside the store directory. The width
// is fixed so names sort in suffix order and must never change across
// releases.
const dataFileFormat = "mrk%08d.dat"

var errWrongEncodedLen = errors.New("wrong encoded length")

// DiskPosition addresses the start of one serialized tree record inside a
// data file.
type DiskPosition struct {
	// File is the numeric suffix of the data file.
	File uint32

	// Offset is the byte offset of the record inside the file.
	Offset uint64
}

// Bytes returns the 12-byte encoded form: u32 file little-endian followed by
// u64 offset little-endian.
func (p DiskPosition) Bytes() []byte {
	bytes := make([]byte, 12)
	binary.LittleEndian.PutUint32(bytes, p.File)
	binary.LittleEndian.PutUint64(bytes[4:], p.Offset)
	return bytes
}

func ParseDiskPosition(bytes []byte) (DiskPosition, error) {
	if len(bytes) != 12 {
		return DiskPosition{}, fmt.Errorf("%w: expected 12 bytes but got %d", errWrongEncodedLen, len(bytes))
	}
	return DiskPosition{
		File:   binary.LittleEndian.Uint32(bytes),
		Offset: binary.LittleEndian.Uint64(bytes[4:]),
	}, nil
}

// FileInfo tracks one live data file.
type FileInfo struct {
	// Size is the total bytes written into the file.
	Size uint64

	// GreatestHeight is the maximum block height of any tree stored in the
	// file. It guards the file against pruning while recent.
	GreatestHeight int32
}

// Bytes returns the 12-byte encoded form: u64 size little-endian followed by
// i32 greatest height little-endian.
func (fi FileInfo) Bytes() []byte {
	bytes := make([]byte, 12)
	binary.LittleEndian.PutUint64(bytes, fi.Size)
	binary.LittleEndian.PutUint32(bytes[8:], uint32(fi.GreatestHeight))
	return bytes
}

func ParseFileInfo(bytes []byte) (FileInfo, error) {
	if len(bytes) != 12 {
		return FileInfo{}, fmt.Errorf("%w: expected 12 bytes but got %d", errWrongEncodedLen, len(bytes))
	}
	return FileInfo{
		Size:           binary.LittleEndian.Uint64(bytes),
		GreatestHeight: int32(binary.LittleEndian.Uint32(bytes[8:])),
	}, nil
}

// dataFilePath returns the path of the data file with the given suffix. It
// does not check that the file exists.
func dataFilePath(dir string, suffix uint32) string {
	return filepath.Join(dir, fmt.Sprintf(dataFileFormat, suffix))
}

// ParseDataFileName extracts the suffix from a data file name. Returns false
// for names that are not data files, such as the index directory.
func ParseDataFileName(name string) (uint32, bool) {
	var suffix uint32
	if _, err := fmt.Sscanf(name, dataFileFormat, &suffix); err != nil {
		return 0, false
	}
	// Reject names that parse but do not round-trip, e.g. a truncated or
	// overlong digit run.
	if fmt.Sprintf(dataFileFormat, suffix) != name {
		return 0, false
	}
	return suffix, true
}
