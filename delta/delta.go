// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package delta computes and applies chunk-level deltas between file
// contents, so that only changed chunks cross the wire.
package delta

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/syncfleet/syncfleet/model"
)

// DefaultChunkSize splits content into 4 KiB chunks.
const DefaultChunkSize = 4096

// adlerMod is the modulus of the rolling weak hash.
const adlerMod = 65521

// ChunkRef points a target chunk at a byte range of the source content.
type ChunkRef struct {
	Index        int   `json:"index"`
	TargetOffset int64 `json:"target_offset"`
	SourceOffset int64 `json:"source_offset"`
	Size         int   `json:"size"`
}

// Delta describes how to turn old content into new content. Unchanged
// chunks are referenced by source offset, added chunks carry data, and
// removed indexes name source chunks with no target anymore.
type Delta struct {
	FileID           string            `json:"file_id"`
	ChunksToAdd      []model.FileChunk `json:"chunks_to_add"`
	ChunksUnchanged  []ChunkRef        `json:"chunks_unchanged"`
	ChunksToRemove   []int             `json:"chunks_to_remove"`
	OldSize          int64             `json:"old_size"`
	NewSize          int64             `json:"new_size"`
	NewHash          string            `json:"new_hash"`
	BandwidthSaved   int64             `json:"bandwidth_saved"`
	CompressionRatio float64           `json:"compression_ratio"`
}

// TransferSize is the byte count that actually crosses the wire.
func (d *Delta) TransferSize() int64 {
	var n int64
	for _, c := range d.ChunksToAdd {
		n += int64(c.Size)
	}
	return n
}

// Signature is the per-chunk fingerprint list of one content buffer.
type Signature []model.FileChunk

// Options tune an Engine.
type Options struct {
	ChunkSize          int
	// Window bounds the weak-hash screen. Zero derives min(64, ChunkSize/4).
	Window             int
	SignatureCacheSize int
}

// Engine chunks content and derives deltas. Safe for concurrent use.
type Engine struct {
	chunkSize int
	window    int
	sigCache  *lru.Cache
}

// NewEngine create a delta engine. Zero options fall back to a 4 KiB
// chunk size and a 256-entry signature cache.
func NewEngine(opts Options) (*Engine, error) {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	window := opts.Window
	if window <= 0 {
		window = chunkSize / 4
		if window > 64 {
			window = 64
		}
		if window < 1 {
			window = 1
		}
	}
	cacheSize := opts.SignatureCacheSize
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "new delta engine")
	}
	return &Engine{chunkSize: chunkSize, window: window, sigCache: cache}, nil
}

// ChunkSize returns the configured chunk size.
func (e *Engine) ChunkSize() int { return e.chunkSize }

// Window returns the weak-hash window size.
func (e *Engine) Window() int { return e.window }

// weakHash screens on the chunk's leading window; a weak hit still has
// to survive the strong hash before it counts as a match.
func (e *Engine) weakHash(chunk []byte) uint32 {
	if len(chunk) > e.window {
		chunk = chunk[:e.window]
	}
	return WeakHash(chunk)
}

// StrongHash is the collision-resistant chunk fingerprint.
func StrongHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// WeakHash is the cheap Adler-style fingerprint used to screen chunks
// before the strong hash is consulted.
func WeakHash(data []byte) uint32 {
	var a, b uint32 = 1, 0
	for _, c := range data {
		a = (a + uint32(c)) % adlerMod
		b = (b + a) % adlerMod
	}
	return b<<16 | a
}

// Signature fingerprints every chunk of content. Results are cached by
// content hash, so re-signing the same bytes is free.
func (e *Engine) Signature(content []byte) Signature {
	key := StrongHash(content)
	if cached, ok := e.sigCache.Get(key); ok {
		return cached.(Signature)
	}

	sig := make(Signature, 0, (len(content)+e.chunkSize-1)/e.chunkSize)
	for i := 0; i < len(content); i += e.chunkSize {
		end := i + e.chunkSize
		if end > len(content) {
			end = len(content)
		}
		chunk := content[i:end]
		sig = append(sig, model.FileChunk{
			Index:    len(sig),
			Offset:   int64(i),
			Size:     len(chunk),
			Hash:     StrongHash(chunk),
			WeakHash: e.weakHash(chunk),
		})
	}
	e.sigCache.Add(key, sig)
	return sig
}

// Compute derives the delta turning old into new. Chunks are matched by
// weak hash first, confirmed by strong hash. An empty old yields a pure
// add delta; identical contents yield a delta that transfers nothing.
func (e *Engine) Compute(fileID string, old, new []byte) *Delta {
	oldSig := e.Signature(old)
	newSig := e.Signature(new)

	// first occurrence wins when the source repeats a chunk
	byStrong := make(map[string]model.FileChunk, len(oldSig))
	byWeak := make(map[uint32]struct{}, len(oldSig))
	for _, c := range oldSig {
		byWeak[c.WeakHash] = struct{}{}
		if _, ok := byStrong[c.Hash]; !ok {
			byStrong[c.Hash] = c
		}
	}

	d := &Delta{
		FileID:  fileID,
		OldSize: int64(len(old)),
		NewSize: int64(len(new)),
		NewHash: StrongHash(new),
	}

	matchedSource := make(map[int]bool, len(oldSig))
	for _, c := range newSig {
		if _, weakHit := byWeak[c.WeakHash]; weakHit {
			if src, ok := byStrong[c.Hash]; ok {
				d.ChunksUnchanged = append(d.ChunksUnchanged, ChunkRef{
					Index:        c.Index,
					TargetOffset: c.Offset,
					SourceOffset: src.Offset,
					Size:         c.Size,
				})
				matchedSource[src.Index] = true
				d.BandwidthSaved += int64(c.Size)
				continue
			}
		}
		add := c
		add.Data = model.Bytes(new[c.Offset : c.Offset+int64(c.Size)])
		d.ChunksToAdd = append(d.ChunksToAdd, add)
	}

	for _, c := range oldSig {
		if !matchedSource[c.Index] {
			d.ChunksToRemove = append(d.ChunksToRemove, c.Index)
		}
	}

	if d.NewSize > 0 {
		d.CompressionRatio = float64(d.BandwidthSaved) / float64(d.NewSize) * 100
	}
	return d
}

// Apply reconstructs the new content from old plus the delta. Every
// added chunk is verified against its hash, every byte of the target
// must be covered exactly once, and the assembled content must match
// the delta's hash. Any violation fails the whole application.
func Apply(old []byte, d *Delta) ([]byte, error) {
	result := make([]byte, d.NewSize)
	covered := int64(0)

	for _, ref := range d.ChunksUnchanged {
		if ref.SourceOffset < 0 || ref.SourceOffset+int64(ref.Size) > int64(len(old)) {
			return nil, errors.WithMessagef(model.ErrInvariantViolation,
				"chunk %d references bytes outside the source", ref.Index)
		}
		if ref.TargetOffset < 0 || ref.TargetOffset+int64(ref.Size) > d.NewSize {
			return nil, errors.WithMessagef(model.ErrInvariantViolation,
				"chunk %d lands outside the target", ref.Index)
		}
		copy(result[ref.TargetOffset:], old[ref.SourceOffset:ref.SourceOffset+int64(ref.Size)])
		covered += int64(ref.Size)
	}

	for _, c := range d.ChunksToAdd {
		if len(c.Data) != c.Size {
			return nil, errors.WithMessagef(model.ErrInvariantViolation,
				"chunk %d carries %d bytes, declared %d", c.Index, len(c.Data), c.Size)
		}
		if StrongHash(c.Data) != c.Hash {
			return nil, errors.WithMessagef(model.ErrInvariantViolation,
				"chunk %d content does not match its hash", c.Index)
		}
		if c.Offset < 0 || c.Offset+int64(c.Size) > d.NewSize {
			return nil, errors.WithMessagef(model.ErrInvariantViolation,
				"chunk %d lands outside the target", c.Index)
		}
		copy(result[c.Offset:], c.Data)
		covered += int64(c.Size)
	}

	if covered != d.NewSize {
		return nil, errors.WithMessagef(model.ErrInvariantViolation,
			"delta covers %d of %d target bytes", covered, d.NewSize)
	}
	if d.NewHash != "" && StrongHash(result) != d.NewHash {
		return nil, errors.WithMessage(model.ErrInvariantViolation,
			"assembled content does not match the delta hash")
	}
	return result, nil
}

// Optimize merges byte-adjacent added chunks into single transfers.
// Semantics are unchanged, only the chunk count drops.
func Optimize(d *Delta) *Delta {
	if len(d.ChunksToAdd) < 2 {
		return d
	}

	merged := make([]model.FileChunk, 0, len(d.ChunksToAdd))
	cur := d.ChunksToAdd[0]
	cur.Data = append(model.Bytes(nil), cur.Data...)
	for _, c := range d.ChunksToAdd[1:] {
		if c.Offset == cur.Offset+int64(cur.Size) {
			cur.Data = append(cur.Data, c.Data...)
			cur.Size += c.Size
			continue
		}
		cur.Hash = StrongHash(cur.Data)
		merged = append(merged, cur)
		cur = c
		cur.Data = append(model.Bytes(nil), c.Data...)
	}
	cur.Hash = StrongHash(cur.Data)
	merged = append(merged, cur)

	out := *d
	out.ChunksToAdd = merged
	return &out
}

// Metrics summarizes a delta for reporting. syncTime is in seconds.
func Metrics(d *Delta, oldChunkCount int, syncTime float64) model.DeltaMetrics {
	m := model.DeltaMetrics{
		FileID:           d.FileID,
		OriginalSize:     d.OldSize,
		CompressedSize:   d.TransferSize(),
		BandwidthSaved:   d.BandwidthSaved,
		ChunksTotal:      len(d.ChunksToAdd) + len(d.ChunksUnchanged),
		ChunksUnchanged:  len(d.ChunksUnchanged),
		SyncTime:         syncTime,
		CompressionRatio: d.CompressionRatio,
	}
	for _, c := range d.ChunksToAdd {
		if c.Index < oldChunkCount {
			m.ChunksModified++
		} else {
			m.ChunksNew++
		}
	}
	if syncTime > 0 {
		m.Throughput = float64(d.NewSize) / syncTime
	}
	return m
}
