// Copyright (C) 2023-2026, Tree Ledger, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package leveldb provides a database.Database backed by goleveldb. It is the
// production engine for the merkle tree index.
package leveldb

import (
	"bytes"
	"context"
	"slices"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"go.uber.org/zap"

	"github.com/treeledger/merkletreestore/database"
	"github.com/treeledger/merkletreestore/utils/logging"
	"github.com/treeledger/merkletreestore/utils/units"
)

const (
	// Name is the name of this database for database switches
	Name = "leveldb"

	// DefaultBlockCacheSize is the number of bytes to use for block caching in
	// leveldb.
	DefaultBlockCacheSize = 8 * units.MiB

	// DefaultWriteBufferSize is the number of bytes to use for buffers in
	// leveldb.
	DefaultWriteBufferSize = 6 * units.MiB

	// DefaultHandleCap is the number of files descriptors to cap levelDB to
	// use.
	DefaultHandleCap = 64

	// DefaultBitsPerKey is the number of bits to add to the bloom filter per
	// key.
	DefaultBitsPerKey = 10
)

var (
	_ database.Database = (*Database)(nil)
	_ database.Batch    = (*batch)(nil)
	_ database.Iterator = (*iter)(nil)
)

// Database is a persistent key-value store. Apart from basic data storage
// functionality it also supports batch writes and iterating over the keyspace
// in binary-alphabetical order.
type Database struct {
	db  *leveldb.DB
	log logging.Logger
}

// New returns a wrapped LevelDB object.
func New(file string, log logging.Logger, blockCacheSize, writeBufferSize, handleCap int) (*Database, error) {
	if blockCacheSize <= 0 {
		blockCacheSize = DefaultBlockCacheSize
	}
	if writeBufferSize <= 0 {
		writeBufferSize = DefaultWriteBufferSize
	}
	if handleCap <= 0 {
		handleCap = DefaultHandleCap
	}

	// Open the db and recover any potential corruptions
	// goleveldb keeps two write buffers of the configured size in memory, so
	// halve the requested value here.
	db, err := leveldb.OpenFile(file, &opt.Options{
		BlockCacheCapacity:     blockCacheSize,
		WriteBuffer:            writeBufferSize / 2,
		OpenFilesCacheCapacity: handleCap,
		Filter:                 filter.NewBloomFilter(DefaultBitsPerKey),
	})
	if _, corrupted := err.(*errors.ErrCorrupted); corrupted {
		log.Warn("recovering corrupted leveldb",
			zap.String("file", file),
			zap.Error(err),
		)
		db, err = leveldb.RecoverFile(file, nil)
	}
	if err != nil {
		return nil, err
	}

	return &Database{
		db:  db,
		log: log,
	}, nil
}

func (db *Database) Has(key []byte) (bool, error) {
	has, err := db.db.Has(key, nil)
	return has, updateError(err)
}

func (db *Database) Get(key []byte) ([]byte, error) {
	value, err := db.db.Get(key, nil)
	return value, updateError(err)
}

func (db *Database) Put(key []byte, value []byte) error {
	return updateError(db.db.Put(key, value, nil))
}

func (db *Database) Delete(key []byte) error {
	return updateError(db.db.Delete(key, nil))
}

func (db *Database) NewBatch() database.Batch {
	return &batch{db: db}
}

func (db *Database) NewIterator() database.Iterator {
	return db.NewIteratorWithStartAndPrefix(nil, nil)
}

func (db *Database) NewIteratorWithStart(start []byte) database.Iterator {
	return db.NewIteratorWithStartAndPrefix(start, nil)
}

func (db *Database) NewIteratorWithPrefix(prefix []byte) database.Iterator {
	return db.NewIteratorWithStartAndPrefix(nil, prefix)
}

func (db *Database) NewIteratorWithStartAndPrefix(start, prefix []byte) database.Iterator {
	return &iter{
		iterator: db.db.NewIterator(bytesPrefixRange(start, prefix), nil),
	}
}

func (db *Database) Compact(start []byte, limit []byte) error {
	return updateError(db.db.CompactRange(util.Range{Start: start, Limit: limit}))
}

func (db *Database) HealthCheck(context.Context) (interface{}, error) {
	// Has errors iff the database is closed.
	if _, err := db.db.Has([]byte{}, nil); err == leveldb.ErrClosed {
		return nil, database.ErrClosed
	}
	return nil, nil
}

func (db *Database) Close() error {
	return updateError(db.db.Close())
}

// batch is a wrapper around a levelDB batch to contain sizes.
type batch struct {
	batch leveldb.Batch
	db    *Database
	size  int
}

func (b *batch) Put(key, value []byte) error {
	b.batch.Put(key, value)
	b.size += len(key) + len(value)
	return nil
}

func (b *batch) Delete(key []byte) error {
	b.batch.Delete(key)
	b.size += len(key)
	return nil
}

func (b *batch) Size() int {
	return b.size
}

func (b *batch) Write() error {
	return updateError(b.db.db.Write(&b.batch, nil))
}

func (b *batch) Reset() {
	b.batch.Reset()
	b.size = 0
}

// Replay the batch contents.
func (b *batch) Replay(w database.KeyValueWriterDeleter) error {
	replay := &replayer{writerDeleter: w}
	if err := b.batch.Replay(replay); err != nil {
		// Return the error that occurred inside of the replay, not the error
		// leveldb wrapped it with.
		return replay.err
	}
	return replay.err
}

func (b *batch) Inner() database.Batch {
	return b
}

type replayer struct {
	writerDeleter database.KeyValueWriterDeleter
	err           error
}

func (r *replayer) Put(key, value []byte) {
	if r.err != nil {
		return
	}
	r.err = r.writerDeleter.Put(key, value)
}

func (r *replayer) Delete(key []byte) {
	if r.err != nil {
		return
	}
	r.err = r.writerDeleter.Delete(key)
}

type iter struct {
	iterator iterator.Iterator

	key, val []byte
	err      error
}

func (it *iter) Next() bool {
	hasNext := it.iterator.Next()
	if hasNext {
		// Copy the key and value, as goleveldb reuses the underlying buffers
		// on the next call to Next.
		it.key = slices.Clone(it.iterator.Key())
		it.val = slices.Clone(it.iterator.Value())
	} else {
		it.key = nil
		it.val = nil
		it.err = updateError(it.iterator.Error())
	}
	return hasNext
}

func (it *iter) Error() error {
	return it.err
}

func (it *iter) Key() []byte {
	return it.key
}

func (it *iter) Value() []byte {
	return it.val
}

func (it *iter) Release() {
	it.iterator.Release()
}

// updateError casts leveldb specific errors to errors that the database
// interfaces expects.
func updateError(err error) error {
	switch err {
	case leveldb.ErrClosed:
		return database.ErrClosed
	case leveldb.ErrNotFound:
		return database.ErrNotFound
	default:
		return err
	}
}

// bytesPrefixRange returns a key range that satisfies both a prefix and a
// start position.
func bytesPrefixRange(start, prefix []byte) *util.Range {
	r := util.BytesPrefix(prefix)
	if bytes.Compare(start, r.Start) > 0 {
		r.Start = start
	}
	return r
}
