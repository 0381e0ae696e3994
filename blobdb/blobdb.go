// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package blobdb is the content-addressed byte store backing file
// versions and delta chunks.
package blobdb

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Options options for creating a blob db instance.
type Options struct {
	CacheSize              int
	OpenFilesCacheCapacity int
}

var writeOpt = opt.WriteOptions{}
var readOpt = opt.ReadOptions{}

// BlobDB wraps level db impls.
type BlobDB struct {
	db *leveldb.DB
}

// New create a persistent blob db instance.
// Create an empty one if not exists, or open if already there.
func New(path string, opts Options) (*BlobDB, error) {
	stg, err := storage.OpenFile(path, false)
	if err != nil {
		return nil, errors.Wrap(err, "new persistent blob db")
	}
	return openBlobDB(stg, opts.CacheSize, opts.OpenFilesCacheCapacity)
}

// NewMem create a blob db in memory.
func NewMem() (*BlobDB, error) {
	return openBlobDB(storage.NewMemStorage(), 0, 0)
}

func openBlobDB(stg storage.Storage, cacheSize, openFilesCacheCapacity int) (*BlobDB, error) {
	if cacheSize < 16 {
		cacheSize = 16
	}

	if openFilesCacheCapacity < 16 {
		openFilesCacheCapacity = 16
	}

	db, err := leveldb.Open(stg, &opt.Options{
		OpenFilesCacheCapacity: openFilesCacheCapacity,
		BlockCacheCapacity:     cacheSize / 2 * opt.MiB,
		WriteBuffer:            cacheSize / 4 * opt.MiB, // Two of these are used internally
		Filter:                 filter.NewBloomFilter(10),
	})

	if err != nil {
		return nil, errors.Wrap(err, "open blob db")
	}
	return &BlobDB{db: db}, nil
}

// IsNotFound to check if the error returned by Get indicates key not found.
func (bdb *BlobDB) IsNotFound(err error) bool {
	return err == leveldb.ErrNotFound
}

// Get retrieve value for given key.
// It returns an error if key not found. The error can be checked via IsNotFound.
func (bdb *BlobDB) Get(key []byte) (value []byte, err error) {
	return bdb.db.Get(key, &readOpt)
}

// Has returns whether a key exists.
func (bdb *BlobDB) Has(key []byte) (bool, error) {
	return bdb.db.Has(key, &readOpt)
}

// Put save value for given key.
func (bdb *BlobDB) Put(key, value []byte) error {
	return bdb.db.Put(key, value, &writeOpt)
}

// Delete deletes the given key and its value.
func (bdb *BlobDB) Delete(key []byte) error {
	return bdb.db.Delete(key, &writeOpt)
}

// Close close the blob db.
// Later operations will all fail.
func (bdb *BlobDB) Close() error {
	return bdb.db.Close()
}

// NewBatch create a batch for writing ops.
func (bdb *BlobDB) NewBatch() *Batch {
	return &Batch{
		bdb.db,
		&leveldb.Batch{},
	}
}

// NewPrefixIterator create an iterator over all keys with the prefix.
func (bdb *BlobDB) NewPrefixIterator(prefix []byte) iterator.Iterator {
	return bdb.db.NewIterator(util.BytesPrefix(prefix), &readOpt)
}

//////

// Batch wraps batch operations.
type Batch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
}

// Put adds a put operation.
func (b *Batch) Put(key, value []byte) {
	b.batch.Put(key, value)
}

// Delete adds a delete operation.
func (b *Batch) Delete(key []byte) {
	b.batch.Delete(key)
}

// Len returns ops in the batch.
func (b *Batch) Len() int {
	return b.batch.Len()
}

// Write perform all ops in this batch.
func (b *Batch) Write() error {
	return b.db.Write(b.batch, &writeOpt)
}
