// Copyright (C) 2023-2026, Tree Ledger, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Tests is a list of all database tests
var Tests = []func(t *testing.T, db Database){
	TestSimpleKeyValue,
	TestOverwriteKeyValue,
	TestEmptyKey,
	TestKeyEmptyValue,
	TestBatchPut,
	TestBatchDelete,
	TestBatchReset,
	TestBatchReplay,
	TestIterator,
	TestIteratorStart,
	TestIteratorPrefix,
	TestIteratorClosed,
	TestCompactNoPanic,
	TestClosedOperations,
}

func TestSimpleKeyValue(t *testing.T, db Database) {
	require := require.New(t)

	key := []byte("hello")
	value := []byte("world")

	has, err := db.Has(key)
	require.NoError(err)
	require.False(has)

	_, err = db.Get(key)
	require.ErrorIs(err, ErrNotFound)

	require.NoError(db.Put(key, value))

	has, err = db.Has(key)
	require.NoError(err)
	require.True(has)

	v, err := db.Get(key)
	require.NoError(err)
	require.Equal(value, v)

	require.NoError(db.Delete(key))

	has, err = db.Has(key)
	require.NoError(err)
	require.False(has)
}

func TestOverwriteKeyValue(t *testing.T, db Database) {
	require := require.New(t)

	key := []byte("hello")
	value1 := []byte("world1")
	value2 := []byte("world2")

	require.NoError(db.Put(key, value1))
	require.NoError(db.Put(key, value2))

	v, err := db.Get(key)
	require.NoError(err)
	require.Equal(value2, v)
}

func TestEmptyKey(t *testing.T, db Database) {
	require := require.New(t)

	var nilKey []byte
	value := []byte("value")

	require.NoError(db.Put(nilKey, value))

	v, err := db.Get(nil)
	require.NoError(err)
	require.Equal(value, v)

	v, err = db.Get([]byte{})
	require.NoError(err)
	require.Equal(value, v)
}

func TestKeyEmptyValue(t *testing.T, db Database) {
	require := require.New(t)

	key := []byte("hello")

	require.NoError(db.Put(key, nil))

	value, err := db.Get(key)
	require.NoError(err)
	require.Empty(value)
}

func TestBatchPut(t *testing.T, db Database) {
	require := require.New(t)

	key := []byte("hello")
	value := []byte("world")

	batch := db.NewBatch()
	require.NotNil(batch)

	require.NoError(batch.Put(key, value))
	require.LessOrEqual(len(key)+len(value), batch.Size())

	// The batch must not be committed before Write is called
	has, err := db.Has(key)
	require.NoError(err)
	require.False(has)

	require.NoError(batch.Write())

	v, err := db.Get(key)
	require.NoError(err)
	require.Equal(value, v)
}

func TestBatchDelete(t *testing.T, db Database) {
	require := require.New(t)

	key := []byte("hello")
	value := []byte("world")

	require.NoError(db.Put(key, value))

	batch := db.NewBatch()
	require.NoError(batch.Delete(key))
	require.NoError(batch.Write())

	has, err := db.Has(key)
	require.NoError(err)
	require.False(has)
}

func TestBatchReset(t *testing.T, db Database) {
	require := require.New(t)

	key := []byte("hello")
	value := []byte("world")

	batch := db.NewBatch()
	require.NoError(batch.Put(key, value))
	batch.Reset()
	require.Zero(batch.Size())
	require.NoError(batch.Write())

	has, err := db.Has(key)
	require.NoError(err)
	require.False(has)
}

func TestBatchReplay(t *testing.T, db Database) {
	require := require.New(t)

	key1 := []byte("hello1")
	value1 := []byte("world1")
	key2 := []byte("hello2")
	value2 := []byte("world2")

	batch := db.NewBatch()
	require.NoError(batch.Put(key1, value1))
	require.NoError(batch.Put(key2, value2))
	require.NoError(batch.Delete(key1))

	secondBatch := db.NewBatch()
	require.NoError(batch.Replay(secondBatch))
	require.NoError(secondBatch.Write())

	_, err := db.Get(key1)
	require.ErrorIs(err, ErrNotFound)

	v, err := db.Get(key2)
	require.NoError(err)
	require.Equal(value2, v)
}

func TestIterator(t *testing.T, db Database) {
	require := require.New(t)

	require.NoError(db.Put([]byte("hello1"), []byte("world1")))
	require.NoError(db.Put([]byte("hello2"), []byte("world2")))

	iterator := db.NewIterator()
	require.NotNil(iterator)
	defer iterator.Release()

	require.True(iterator.Next())
	require.Equal([]byte("hello1"), iterator.Key())
	require.Equal([]byte("world1"), iterator.Value())

	require.True(iterator.Next())
	require.Equal([]byte("hello2"), iterator.Key())
	require.Equal([]byte("world2"), iterator.Value())

	require.False(iterator.Next())
	require.Nil(iterator.Key())
	require.Nil(iterator.Value())
	require.NoError(iterator.Error())
}

func TestIteratorStart(t *testing.T, db Database) {
	require := require.New(t)

	require.NoError(db.Put([]byte("hello1"), []byte("world1")))
	require.NoError(db.Put([]byte("hello2"), []byte("world2")))

	iterator := db.NewIteratorWithStart([]byte("hello2"))
	require.NotNil(iterator)
	defer iterator.Release()

	require.True(iterator.Next())
	require.Equal([]byte("hello2"), iterator.Key())
	require.Equal([]byte("world2"), iterator.Value())
	require.False(iterator.Next())
}

func TestIteratorPrefix(t *testing.T, db Database) {
	require := require.New(t)

	require.NoError(db.Put([]byte("hello"), []byte("world")))
	require.NoError(db.Put([]byte("goodbye"), []byte("world")))
	require.NoError(db.Put([]byte("joy"), []byte("world")))

	iterator := db.NewIteratorWithPrefix([]byte("h"))
	require.NotNil(iterator)
	defer iterator.Release()

	require.True(iterator.Next())
	require.Equal([]byte("hello"), iterator.Key())
	require.Equal([]byte("world"), iterator.Value())
	require.False(iterator.Next())
}

func TestIteratorClosed(t *testing.T, db Database) {
	require := require.New(t)

	require.NoError(db.Put([]byte("hello1"), []byte("world1")))
	require.NoError(db.Close())

	iterator := db.NewIterator()
	require.NotNil(iterator)
	defer iterator.Release()

	require.False(iterator.Next())
	require.Nil(iterator.Key())
	require.Nil(iterator.Value())
	require.ErrorIs(iterator.Error(), ErrClosed)
}

func TestCompactNoPanic(t *testing.T, db Database) {
	require := require.New(t)

	require.NoError(db.Put([]byte("hello1"), []byte("world1")))
	require.NoError(db.Put([]byte("hello2"), []byte("world2")))
	require.NoError(db.Compact(nil, nil))

	require.NoError(db.Close())
	err := db.Compact(nil, nil)
	require.ErrorIs(err, ErrClosed)
}

func TestClosedOperations(t *testing.T, db Database) {
	require := require.New(t)

	key := []byte("hello")
	value := []byte("world")

	require.NoError(db.Put(key, value))
	require.NoError(db.Close())

	_, err := db.Has(key)
	require.ErrorIs(err, ErrClosed)

	_, err = db.Get(key)
	require.ErrorIs(err, ErrClosed)

	err = db.Put(key, value)
	require.ErrorIs(err, ErrClosed)

	err = db.Delete(key)
	require.ErrorIs(err, ErrClosed)

	err = db.Close()
	require.ErrorIs(err, ErrClosed)
}
