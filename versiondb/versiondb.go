// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package versiondb keeps the append-only version chains of files.
// Metadata lives in the blob db, content blobs go through the
// refcounted chunk store so identical versions share bytes.
package versiondb

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/syncfleet/syncfleet/blobdb"
	"github.com/syncfleet/syncfleet/delta"
	"github.com/syncfleet/syncfleet/model"
)

var versionPrefix = []byte("fv/")

// Store owns version chains. One writer at a time per store; reads are
// concurrent and duplicate content fetches are collapsed.
type Store struct {
	db     *blobdb.BlobDB
	chunks *delta.ChunkStore

	mu      sync.Mutex // serializes chain mutations
	loadSfg singleflight.Group
}

// NewStore create a version store sharing db with the chunk store.
func NewStore(db *blobdb.BlobDB) *Store {
	return &Store{
		db:     db,
		chunks: delta.NewChunkStore(db),
	}
}

func versionKey(fileID, versionID string) []byte {
	k := append([]byte(nil), versionPrefix...)
	k = append(k, fileID...)
	k = append(k, '/')
	return append(k, versionID...)
}

func filePrefix(fileID string) []byte {
	k := append([]byte(nil), versionPrefix...)
	k = append(k, fileID...)
	return append(k, '/')
}

// CreateVersion appends a version to the file's chain and makes it
// current. The version number is assigned here; the previous current
// version becomes the parent and loses its flag.
func (s *Store) CreateVersion(v model.FileVersion, content []byte) (*model.FileVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, err := s.versionsLocked(v.FileID)
	if err != nil {
		return nil, err
	}

	var maxNum int64
	var prev *model.FileVersion
	for i := range versions {
		if versions[i].VersionNumber > maxNum {
			maxNum = versions[i].VersionNumber
		}
		if versions[i].IsCurrent {
			prev = &versions[i]
		}
	}

	if v.VersionID == "" {
		v.VersionID = uuid.New()
	}
	v.VersionNumber = maxNum + 1
	v.IsCurrent = true
	v.Size = int64(len(content))
	v.ContentHash = delta.StrongHash(content)
	if prev != nil {
		v.ParentVersionID = prev.VersionID
	}

	batch := s.db.NewBatch()
	if prev != nil {
		prev.IsCurrent = false
		raw, err := json.Marshal(prev)
		if err != nil {
			return nil, errors.Wrap(err, "marshal version")
		}
		batch.Put(versionKey(prev.FileID, prev.VersionID), raw)
	}
	raw, err := json.Marshal(&v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal version")
	}
	batch.Put(versionKey(v.FileID, v.VersionID), raw)

	if _, err := s.chunks.Put(content); err != nil {
		return nil, err
	}
	if err := batch.Write(); err != nil {
		// the version record never landed, so the content ref taken
		// above must not outlive it
		_ = s.chunks.Release(v.ContentHash)
		return nil, errors.WithMessage(model.ErrStorageUnavailable, err.Error())
	}
	return &v, nil
}

// Version retrieves one version of a file.
func (s *Store) Version(fileID, versionID string) (*model.FileVersion, error) {
	raw, err := s.db.Get(versionKey(fileID, versionID))
	if err != nil {
		if s.db.IsNotFound(err) {
			return nil, errors.WithMessagef(model.ErrNotFound, "version %s of file %s", versionID, fileID)
		}
		return nil, errors.WithMessage(model.ErrStorageUnavailable, err.Error())
	}
	var v model.FileVersion
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Wrap(err, "unmarshal version")
	}
	return &v, nil
}

// Current returns the current version of the file's chain.
func (s *Store) Current(fileID string) (*model.FileVersion, error) {
	versions, err := s.Versions(fileID)
	if err != nil {
		return nil, err
	}
	for i := range versions {
		if versions[i].IsCurrent {
			return &versions[i], nil
		}
	}
	return nil, errors.WithMessagef(model.ErrNotFound, "no current version of file %s", fileID)
}

// Versions lists the file's chain ordered by version number.
func (s *Store) Versions(fileID string) ([]model.FileVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versionsLocked(fileID)
}

func (s *Store) versionsLocked(fileID string) ([]model.FileVersion, error) {
	it := s.db.NewPrefixIterator(filePrefix(fileID))
	defer it.Release()

	var versions []model.FileVersion
	for it.Next() {
		var v model.FileVersion
		if err := json.Unmarshal(it.Value(), &v); err != nil {
			return nil, errors.Wrap(err, "unmarshal version")
		}
		versions = append(versions, v)
	}
	if err := it.Error(); err != nil {
		return nil, errors.WithMessage(model.ErrStorageUnavailable, err.Error())
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].VersionNumber < versions[j].VersionNumber
	})
	return versions, nil
}

// Bytes fetches the content of a version. Concurrent fetches of the
// same version share one storage read.
func (s *Store) Bytes(fileID, versionID string) ([]byte, error) {
	v, err := s.Version(fileID, versionID)
	if err != nil {
		return nil, err
	}
	data, err, _ := s.loadSfg.Do(v.ContentHash, func() (interface{}, error) {
		return s.chunks.Get(v.ContentHash)
	})
	if err != nil {
		return nil, err
	}
	return data.([]byte), nil
}

// CurrentBytes fetches the content of the current version.
func (s *Store) CurrentBytes(fileID string) (*model.FileVersion, []byte, error) {
	v, err := s.Current(fileID)
	if err != nil {
		return nil, nil, err
	}
	data, err := s.Bytes(fileID, v.VersionID)
	if err != nil {
		return nil, nil, err
	}
	return v, data, nil
}

// DeleteVersion removes a version and releases its content. Deleting
// the current version promotes the highest-numbered remaining one;
// only the sole version of a file is protected.
func (s *Store) DeleteVersion(fileID, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteVersionLocked(fileID, versionID)
}

func (s *Store) deleteVersionLocked(fileID, versionID string) error {
	v, err := s.Version(fileID, versionID)
	if err != nil {
		return err
	}
	if v.IsCurrent {
		versions, err := s.versionsLocked(fileID)
		if err != nil {
			return err
		}
		if len(versions) == 1 {
			return errors.WithMessagef(model.ErrInvariantViolation,
				"version %s is the only version of file %s", versionID, fileID)
		}
		var heir *model.FileVersion
		for i := range versions {
			if versions[i].VersionID == versionID {
				continue
			}
			if heir == nil || versions[i].VersionNumber > heir.VersionNumber {
				heir = &versions[i]
			}
		}
		heir.IsCurrent = true
		raw, err := json.Marshal(heir)
		if err != nil {
			return errors.Wrap(err, "marshal version")
		}
		batch := s.db.NewBatch()
		batch.Put(versionKey(heir.FileID, heir.VersionID), raw)
		batch.Delete(versionKey(fileID, versionID))
		if err := batch.Write(); err != nil {
			return errors.WithMessage(model.ErrStorageUnavailable, err.Error())
		}
		return s.chunks.Release(v.ContentHash)
	}
	if err := s.db.Delete(versionKey(fileID, versionID)); err != nil {
		return errors.WithMessage(model.ErrStorageUnavailable, err.Error())
	}
	return s.chunks.Release(v.ContentHash)
}

// Cleanup trims the chain to its newest keep versions. The current
// version always survives. Returns how many versions were removed.
func (s *Store) Cleanup(fileID string, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	versions, err := s.versionsLocked(fileID)
	if err != nil {
		return 0, err
	}
	if len(versions) <= keep {
		return 0, nil
	}

	removed := 0
	for _, v := range versions[:len(versions)-keep] {
		if v.IsCurrent {
			continue
		}
		if err := s.deleteVersionLocked(v.FileID, v.VersionID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// DropFile removes the whole chain of a file, releasing all content.
func (s *Store) DropFile(fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, err := s.versionsLocked(fileID)
	if err != nil {
		return err
	}
	batch := s.db.NewBatch()
	for _, v := range versions {
		batch.Delete(versionKey(v.FileID, v.VersionID))
		if err := s.chunks.Release(v.ContentHash); err != nil {
			return err
		}
	}
	if err := batch.Write(); err != nil {
		return errors.WithMessage(model.ErrStorageUnavailable, err.Error())
	}
	return nil
}

// GC drops content blobs that no version references anymore.
func (s *Store) GC() (int, error) {
	return s.chunks.GC()
}
