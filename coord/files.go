// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package coord

import (
	"context"
	"path"
	"sort"
	"time"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"

	"github.com/syncfleet/syncfleet/delta"
	"github.com/syncfleet/syncfleet/model"
	"github.com/syncfleet/syncfleet/vclock"
)

// UploadMetadata describes the file an upload carries. A client may
// bring its own file id for a fresh file; hash and content type are
// optional.
type UploadMetadata struct {
	FileID      string `json:"file_id,omitempty"`
	Name        string `json:"name,omitempty"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	Hash        string `json:"hash,omitempty"`
	OwnerNode   string `json:"owner_node"`
	ContentType string `json:"content_type,omitempty"`
}

// UploadRequest carries one file upload or modification. Content
// travels chunked and is reassembled and validated on arrival.
type UploadRequest struct {
	Metadata     UploadMetadata    `json:"file_metadata"`
	Chunks       []model.FileChunk `json:"chunks"`
	VectorClock  vclock.Clock      `json:"vector_clock"`
	UseDeltaSync bool              `json:"use_delta_sync"`
}

// SingleChunk builds an upload request carrying content as one chunk,
// with delta sync enabled.
func SingleChunk(nodeID, filePath string, content []byte) *UploadRequest {
	return &UploadRequest{
		Metadata: UploadMetadata{
			Path:      filePath,
			Size:      int64(len(content)),
			OwnerNode: nodeID,
		},
		Chunks: []model.FileChunk{{
			Size: len(content),
			Data: model.Bytes(content),
		}},
		UseDeltaSync: true,
	}
}

// UploadResult reports a finished upload.
type UploadResult struct {
	File        *model.FileMetadata `json:"file"`
	VersionID   string              `json:"version_id"`
	SyncLatency float64             `json:"sync_latency"`
	Metrics     model.DeltaMetrics  `json:"delta_metrics"`
	VectorClock vclock.Clock        `json:"vector_clock"`
}

// Upload ingests file content from a node. A new path creates a file,
// a known path appends a version. The result's metrics describe the
// delta against the previous version.
func (c *Coordinator) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	meta := req.Metadata
	if meta.OwnerNode == "" || meta.Path == "" {
		return nil, errors.WithMessage(model.ErrBadRequest, "owner_node and path required")
	}
	if _, err := c.db.Node(ctx, meta.OwnerNode); err != nil {
		return nil, err
	}
	if meta.Name == "" {
		meta.Name = path.Base(meta.Path)
	}

	content, err := assembleChunks(req.Chunks, meta.Size)
	if err != nil {
		return nil, err
	}

	// an empty hash means "compute it for me"; a wrong one is rejected
	computed := delta.StrongHash(content)
	if meta.Hash != "" && meta.Hash != computed {
		return nil, errors.WithMessage(model.ErrBadRequest, "content hash mismatch")
	}
	meta.Hash = computed

	existing, err := c.db.FileByPath(ctx, meta.Path)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		return c.modifyFile(ctx, req, &meta, content, existing)
	}
	return c.createFile(ctx, req, &meta, content)
}

// assembleChunks rebuilds content from its chunks. Chunks must be
// contiguous from offset zero, carry as many bytes as they declare and
// sum up to the metadata size; a chunk hash, when present, must match.
func assembleChunks(chunks []model.FileChunk, declared int64) ([]byte, error) {
	content := make([]byte, 0, declared)
	var offset int64
	for i := range chunks {
		ch := &chunks[i]
		if len(ch.Data) != ch.Size {
			return nil, errors.WithMessagef(model.ErrBadRequest,
				"chunk %d carries %d bytes but declares %d", ch.Index, len(ch.Data), ch.Size)
		}
		if ch.Offset != offset {
			return nil, errors.WithMessagef(model.ErrBadRequest,
				"chunk %d starts at offset %d, expected %d", ch.Index, ch.Offset, offset)
		}
		if ch.Hash != "" && ch.Hash != delta.StrongHash(ch.Data) {
			return nil, errors.WithMessagef(model.ErrBadRequest, "chunk %d hash mismatch", ch.Index)
		}
		content = append(content, ch.Data...)
		offset += int64(ch.Size)
	}
	if int64(len(content)) != declared {
		return nil, errors.WithMessagef(model.ErrBadRequest,
			"assembled %d bytes, metadata declares %d", len(content), declared)
	}
	return content, nil
}

// uploadClock advances the owner's clock. A client that brings its own
// clock gets the receive merge, a bare upload is a local event.
func (c *Coordinator) uploadClock(owner string, remote vclock.Clock) vclock.Clock {
	if len(remote.Clocks) > 0 {
		return c.clocks.MergeOnReceive(owner, remote)
	}
	return c.clocks.IncrementLocal(owner)
}

func (c *Coordinator) createFile(ctx context.Context, req *UploadRequest, meta *UploadMetadata, content []byte) (*UploadResult, error) {
	fileID := meta.FileID
	if fileID == "" {
		fileID = uuid.New()
	}
	unlock := c.flocks.lock(fileID)
	defer unlock()

	started := time.Now()
	clock := c.uploadClock(meta.OwnerNode, req.VectorClock)

	version, err := c.versions.CreateVersion(model.FileVersion{
		FileID:      fileID,
		CreatedBy:   meta.OwnerNode,
		CreatedAt:   started,
		VectorClock: clock.Copy(),
	}, content)
	if err != nil {
		return nil, err
	}

	file := &model.FileMetadata{
		FileID:      fileID,
		Name:        meta.Name,
		Path:        meta.Path,
		Size:        int64(len(content)),
		ContentHash: meta.Hash,
		CreatedAt:   started,
		ModifiedAt:  started,
		OwnerNode:   meta.OwnerNode,
		Version:     version.VersionNumber,
		VectorClock: clock.Copy(),
		ContentType: meta.ContentType,
	}
	if err := c.db.SaveFile(ctx, file); err != nil {
		return nil, err
	}

	d := c.engine.Compute(fileID, nil, content)
	m := delta.Metrics(d, 0, time.Since(started).Seconds())
	c.stats.record(m)

	if err := c.publishFileEvent(ctx, model.FileCreated, meta.OwnerNode, file, version, &m, clock); err != nil {
		return nil, err
	}
	if err := c.recordTransfer(ctx, meta.OwnerNode, &m); err != nil {
		return nil, err
	}

	metricFilesUploaded().Add(1)
	c.replicate(ctx, file, version)
	return &UploadResult{
		File:        file,
		VersionID:   version.VersionID,
		SyncLatency: m.SyncTime,
		Metrics:     m,
		VectorClock: clock.Copy(),
	}, nil
}

func (c *Coordinator) modifyFile(ctx context.Context, req *UploadRequest, meta *UploadMetadata, content []byte, file *model.FileMetadata) (*UploadResult, error) {
	unlock := c.flocks.lock(file.FileID)
	defer unlock()

	started := time.Now()
	clock := c.uploadClock(meta.OwnerNode, req.VectorClock)

	// without delta sync the upload counts as a full transfer
	var old []byte
	if req.UseDeltaSync {
		if _, current, err := c.versions.CurrentBytes(file.FileID); err == nil {
			old = current
		} else if !errors.Is(err, model.ErrNotFound) {
			return nil, err
		}
	}

	d := c.engine.Compute(file.FileID, old, content)
	oldChunks := (len(old) + c.engine.ChunkSize() - 1) / c.engine.ChunkSize()

	version, err := c.versions.CreateVersion(model.FileVersion{
		FileID:      file.FileID,
		CreatedBy:   meta.OwnerNode,
		CreatedAt:   started,
		VectorClock: clock.Copy(),
	}, content)
	if err != nil {
		return nil, err
	}

	file.Size = int64(len(content))
	file.ContentHash = meta.Hash
	file.ModifiedAt = started
	file.Version = version.VersionNumber
	file.VectorClock.Merge(clock)
	file.IsDeleted = false
	if meta.ContentType != "" {
		file.ContentType = meta.ContentType
	}
	if err := c.db.SaveFile(ctx, file); err != nil {
		return nil, err
	}

	m := delta.Metrics(d, oldChunks, time.Since(started).Seconds())
	c.stats.record(m)
	metricBandwidthSaved().Add(m.BandwidthSaved)

	if err := c.publishFileEvent(ctx, model.FileModified, meta.OwnerNode, file, version, &m, clock); err != nil {
		return nil, err
	}
	if err := c.recordTransfer(ctx, meta.OwnerNode, &m); err != nil {
		return nil, err
	}
	if err := c.DetectConflicts(ctx, file.FileID); err != nil {
		log.Warn("conflict detection failed", "file", file.FileID, "err", err)
	}

	metricFilesUploaded().Add(1)
	c.replicate(ctx, file, version)
	return &UploadResult{
		File:        file,
		VersionID:   version.VersionID,
		SyncLatency: m.SyncTime,
		Metrics:     m,
		VectorClock: clock.Copy(),
	}, nil
}

func (c *Coordinator) replicate(ctx context.Context, file *model.FileMetadata, version *model.FileVersion) {
	peers, err := c.onlinePeers(ctx, file.OwnerNode)
	if err != nil {
		log.Warn("peer lookup failed", "file", file.FileID, "err", err)
		return
	}
	if len(peers) > 0 {
		// fan-out runs on the coordinator's own context; the request
		// context ends as soon as the response is written
		c.rep.Replicate(c.ctx, file, version, peers)
	}
}

func (c *Coordinator) publishFileEvent(ctx context.Context, kind model.EventKind, origin string, file *model.FileMetadata, version *model.FileVersion, m *model.DeltaMetrics, clock vclock.Clock) error {
	data, err := model.EncodeEventData(&model.FileChangeData{
		FileName:         file.Name,
		FileSize:         file.Size,
		FileHash:         file.ContentHash,
		VersionID:        version.VersionID,
		DeltaSyncUsed:    m.ChunksUnchanged > 0,
		BandwidthSaved:   m.BandwidthSaved,
		CompressionRatio: m.CompressionRatio,
		ChunksTotal:      m.ChunksTotal,
		ChunksUnchanged:  m.ChunksUnchanged,
	})
	if err != nil {
		return err
	}
	return c.bus.Publish(ctx, &model.Event{
		Kind:        kind,
		NodeID:      origin,
		FileID:      file.FileID,
		Timestamp:   time.Now(),
		VectorClock: clock,
		Data:        data,
	})
}

// recordTransfer appends a network metrics sample for the upload.
func (c *Coordinator) recordTransfer(ctx context.Context, nodeID string, m *model.DeltaMetrics) error {
	return c.db.SaveMetrics(ctx, &model.NetworkMetrics{
		NodeID:         nodeID,
		Timestamp:      time.Now(),
		BandwidthUsed:  m.CompressedSize,
		BandwidthSaved: m.BandwidthSaved,
		SyncTime:       m.SyncTime,
		FileCount:      1,
	})
}

// File retrieves file metadata.
func (c *Coordinator) File(ctx context.Context, fileID string) (*model.FileMetadata, error) {
	return c.db.File(ctx, fileID)
}

// Files lists file records.
func (c *Coordinator) Files(ctx context.Context, includeDeleted bool) ([]*model.FileMetadata, error) {
	return c.db.Files(ctx, includeDeleted)
}

// NodeFiles lists live files owned by a node.
func (c *Coordinator) NodeFiles(ctx context.Context, nodeID string) ([]*model.FileMetadata, error) {
	if _, err := c.db.Node(ctx, nodeID); err != nil {
		return nil, err
	}
	return c.db.FilesOwnedBy(ctx, nodeID)
}

// Chunks fingerprints the file's current content chunk by chunk, the
// signature a client needs to request a delta.
func (c *Coordinator) Chunks(ctx context.Context, fileID string) (delta.Signature, error) {
	_, content, err := c.Download(ctx, fileID)
	if err != nil {
		return nil, err
	}
	return c.engine.Signature(content), nil
}

// Download returns the metadata and content of the file's current
// version. Soft-deleted files are not downloadable.
func (c *Coordinator) Download(ctx context.Context, fileID string) (*model.FileMetadata, []byte, error) {
	file, err := c.db.File(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	if file.IsDeleted {
		return nil, nil, errors.WithMessagef(model.ErrNotFound, "file %s is deleted", fileID)
	}
	_, content, err := c.versions.CurrentBytes(fileID)
	if err != nil {
		return nil, nil, err
	}
	return file, content, nil
}

// DownloadVersion returns the content of a specific version, current
// or not, even of a soft-deleted file.
func (c *Coordinator) DownloadVersion(ctx context.Context, fileID, versionID string) (*model.FileVersion, []byte, error) {
	v, err := c.versions.Version(fileID, versionID)
	if err != nil {
		return nil, nil, err
	}
	content, err := c.versions.Bytes(fileID, versionID)
	if err != nil {
		return nil, nil, err
	}
	return v, content, nil
}

// Versions lists a file's version chain.
func (c *Coordinator) Versions(ctx context.Context, fileID string) ([]model.FileVersion, error) {
	if _, err := c.db.File(ctx, fileID); err != nil {
		return nil, err
	}
	return c.versions.Versions(fileID)
}

// CleanupVersions trims a file's chain to its newest keep versions.
func (c *Coordinator) CleanupVersions(ctx context.Context, fileID string, keep int) (int, error) {
	if _, err := c.db.File(ctx, fileID); err != nil {
		return 0, err
	}
	unlock := c.flocks.lock(fileID)
	defer unlock()

	removed, err := c.versions.Cleanup(fileID, keep)
	if err != nil {
		return removed, err
	}
	if _, err := c.versions.GC(); err != nil {
		return removed, err
	}
	return removed, nil
}

// Delete soft-deletes a file. Metadata and versions stay for restore.
func (c *Coordinator) Delete(ctx context.Context, fileID, nodeID string) error {
	unlock := c.flocks.lock(fileID)
	defer unlock()

	file, err := c.db.File(ctx, fileID)
	if err != nil {
		return err
	}
	if file.IsDeleted {
		return nil
	}

	clock := c.clocks.IncrementLocal(nodeID)
	file.IsDeleted = true
	file.ModifiedAt = time.Now()
	file.VectorClock.Merge(clock)
	if err := c.db.SaveFile(ctx, file); err != nil {
		return err
	}

	data, err := model.EncodeEventData(&model.FileChangeData{
		FileName:  file.Name,
		DeletedBy: nodeID,
	})
	if err != nil {
		return err
	}
	return c.bus.Publish(ctx, &model.Event{
		Kind:        model.FileDeleted,
		NodeID:      nodeID,
		FileID:      fileID,
		Timestamp:   time.Now(),
		VectorClock: clock,
		Data:        data,
	})
}

// Restore makes an old version current again by appending a new
// version with its content. The deletion flag only clears when
// undelete is set.
func (c *Coordinator) Restore(ctx context.Context, fileID, versionID, nodeID string, undelete bool) (*model.FileMetadata, error) {
	unlock := c.flocks.lock(fileID)
	defer unlock()

	file, err := c.db.File(ctx, fileID)
	if err != nil {
		return nil, err
	}
	content, err := c.versions.Bytes(fileID, versionID)
	if err != nil {
		return nil, err
	}

	clock := c.clocks.IncrementLocal(nodeID)
	version, err := c.versions.CreateVersion(model.FileVersion{
		FileID:      fileID,
		CreatedBy:   nodeID,
		CreatedAt:   time.Now(),
		VectorClock: clock.Copy(),
	}, content)
	if err != nil {
		return nil, err
	}

	file.Size = int64(len(content))
	file.ContentHash = version.ContentHash
	file.ModifiedAt = time.Now()
	file.Version = version.VersionNumber
	file.VectorClock.Merge(clock)
	if undelete {
		file.IsDeleted = false
	}
	if err := c.db.SaveFile(ctx, file); err != nil {
		return nil, err
	}

	data, err := model.EncodeEventData(&model.FileChangeData{
		FileName:  file.Name,
		FileSize:  file.Size,
		FileHash:  file.ContentHash,
		VersionID: version.VersionID,
		Restored:  true,
	})
	if err != nil {
		return nil, err
	}
	if err := c.bus.Publish(ctx, &model.Event{
		Kind:        model.FileModified,
		NodeID:      nodeID,
		FileID:      fileID,
		Timestamp:   time.Now(),
		VectorClock: clock,
		Data:        data,
	}); err != nil {
		return nil, err
	}
	return file, nil
}

// DeltaSyncRequest asks for the patch bringing a stale client copy up
// to the file's current version. The client describes its copy as
// chunks carrying data.
type DeltaSyncRequest struct {
	FileID         string            `json:"file_id"`
	CurrentVersion int64             `json:"current_version"`
	CurrentChunks  []model.FileChunk `json:"current_chunks"`
	VectorClock    vclock.Clock      `json:"vector_clock"`
}

// DeltaSyncResult carries the patch and the clock after the exchange.
type DeltaSyncResult struct {
	Delta       *delta.Delta       `json:"delta"`
	Metrics     model.DeltaMetrics `json:"metrics"`
	VectorClock vclock.Clock       `json:"vector_clock"`
}

// DeltaSync computes the delta that brings the client's copy up to the
// file's current version. A clock brought by the client is merged into
// its owning node's clock as a receive; without one the file's clock
// is returned untouched.
func (c *Coordinator) DeltaSync(ctx context.Context, req *DeltaSyncRequest) (*DeltaSyncResult, error) {
	file, err := c.db.File(ctx, req.FileID)
	if err != nil {
		return nil, err
	}
	if file.IsDeleted {
		return nil, errors.WithMessagef(model.ErrNotFound, "file %s is deleted", req.FileID)
	}
	_, current, err := c.versions.CurrentBytes(req.FileID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	clientContent := make([]byte, 0)
	for i := range req.CurrentChunks {
		clientContent = append(clientContent, req.CurrentChunks[i].Data...)
	}

	d := delta.Optimize(c.engine.Compute(req.FileID, clientContent, current))
	m := delta.Metrics(d, len(req.CurrentChunks), time.Since(started).Seconds())

	clock := file.VectorClock.Copy()
	if len(req.VectorClock.Clocks) > 0 {
		clock = c.clocks.MergeOnReceive(clockOwner(req.VectorClock), req.VectorClock)
	}
	return &DeltaSyncResult{Delta: d, Metrics: m, VectorClock: clock}, nil
}

// clockOwner picks the node a client clock belongs to; the smallest id
// keeps the choice deterministic.
func clockOwner(c vclock.Clock) string {
	ids := make([]string, 0, len(c.Clocks))
	for id := range c.Clocks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids[0]
}
