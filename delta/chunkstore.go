// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package delta

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/syncfleet/syncfleet/blobdb"
	"github.com/syncfleet/syncfleet/model"
)

var (
	chunkDataPrefix = []byte("cd/")
	chunkRefPrefix  = []byte("cr/")
)

// ChunkStore persists chunks content-addressed and refcounted. Storing
// the same chunk twice bumps its refcount instead of duplicating bytes.
type ChunkStore struct {
	db *blobdb.BlobDB
}

// NewChunkStore create a chunk store on top of db.
func NewChunkStore(db *blobdb.BlobDB) *ChunkStore {
	return &ChunkStore{db: db}
}

func dataKey(hash string) []byte {
	return append(append([]byte(nil), chunkDataPrefix...), hash...)
}

func refKey(hash string) []byte {
	return append(append([]byte(nil), chunkRefPrefix...), hash...)
}

// Put stores the chunk and takes a reference on it.
func (s *ChunkStore) Put(data []byte) (string, error) {
	hash := StrongHash(data)
	refs, err := s.refCount(hash)
	if err != nil {
		return "", err
	}

	batch := s.db.NewBatch()
	if refs == 0 {
		batch.Put(dataKey(hash), data)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], refs+1)
	batch.Put(refKey(hash), buf[:])
	if err := batch.Write(); err != nil {
		return "", errors.WithMessage(model.ErrStorageUnavailable, err.Error())
	}
	return hash, nil
}

// Get retrieves a chunk by hash.
func (s *ChunkStore) Get(hash string) ([]byte, error) {
	data, err := s.db.Get(dataKey(hash))
	if err != nil {
		if s.db.IsNotFound(err) {
			return nil, errors.WithMessagef(model.ErrNotFound, "chunk %s", hash)
		}
		return nil, errors.WithMessage(model.ErrStorageUnavailable, err.Error())
	}
	return data, nil
}

// Has reports whether a chunk is stored.
func (s *ChunkStore) Has(hash string) (bool, error) {
	ok, err := s.db.Has(dataKey(hash))
	if err != nil {
		return false, errors.WithMessage(model.ErrStorageUnavailable, err.Error())
	}
	return ok, nil
}

// Release drops one reference. The chunk itself stays until GC runs.
func (s *ChunkStore) Release(hash string) error {
	refs, err := s.refCount(hash)
	if err != nil {
		return err
	}
	if refs == 0 {
		return nil
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], refs-1)
	if err := s.db.Put(refKey(hash), buf[:]); err != nil {
		return errors.WithMessage(model.ErrStorageUnavailable, err.Error())
	}
	return nil
}

// GC deletes every chunk whose refcount reached zero and returns how
// many were collected.
func (s *ChunkStore) GC() (int, error) {
	it := s.db.NewPrefixIterator(chunkRefPrefix)
	defer it.Release()

	batch := s.db.NewBatch()
	collected := 0
	for it.Next() {
		if binary.BigEndian.Uint64(it.Value()) != 0 {
			continue
		}
		hash := string(it.Key()[len(chunkRefPrefix):])
		batch.Delete(dataKey(hash))
		batch.Delete(refKey(hash))
		collected++
	}
	if err := it.Error(); err != nil {
		return 0, errors.WithMessage(model.ErrStorageUnavailable, err.Error())
	}
	if err := batch.Write(); err != nil {
		return 0, errors.WithMessage(model.ErrStorageUnavailable, err.Error())
	}
	return collected, nil
}

func (s *ChunkStore) refCount(hash string) (uint64, error) {
	raw, err := s.db.Get(refKey(hash))
	if err != nil {
		if s.db.IsNotFound(err) {
			return 0, nil
		}
		return 0, errors.WithMessage(model.ErrStorageUnavailable, err.Error())
	}
	return binary.BigEndian.Uint64(raw), nil
}
