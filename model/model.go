// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package model holds the entities shared by the coordinator's
// components and the wire shapes clients depend on.
package model

import (
	"time"

	"github.com/syncfleet/syncfleet/vclock"
)

// NodeStatus of a node in the fleet.
type NodeStatus string

const (
	NodeOnline  NodeStatus = "online"
	NodeOffline NodeStatus = "offline"
	NodeSyncing NodeStatus = "syncing"
	NodeError   NodeStatus = "error"
)

// ParseNodeStatus validates a status string from the boundary.
func ParseNodeStatus(s string) (NodeStatus, bool) {
	switch NodeStatus(s) {
	case NodeOnline, NodeOffline, NodeSyncing, NodeError:
		return NodeStatus(s), true
	}
	return "", false
}

// timestampLayout is fixed-width UTC so the stored text sorts
// lexicographically in chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTimestamp renders t for persistence.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// ParseTimestamp parses a persisted timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(timestampLayout, s)
}

// Node is a registered client node. The coordinator owns the
// authoritative record.
type Node struct {
	NodeID       string       `json:"node_id"`
	Name         string       `json:"name"`
	Address      string       `json:"address"`
	Port         int          `json:"port"`
	Status       NodeStatus   `json:"status"`
	LastSeen     time.Time    `json:"last_seen"`
	Capabilities []string     `json:"capabilities"`
	WatchDirs    []string     `json:"watch_directories"`
	VectorClock  vclock.Clock `json:"vector_clock"`
}

// FileMetadata is the authoritative record of a synchronized file.
// Replicas are distinct records with a derived id of the form
// "<orig>::replica::<peer>".
type FileMetadata struct {
	FileID      string       `json:"file_id"`
	Name        string       `json:"name"`
	Path        string       `json:"path"`
	Size        int64        `json:"size"`
	ContentHash string       `json:"hash"`
	CreatedAt   time.Time    `json:"created_at"`
	ModifiedAt  time.Time    `json:"modified_at"`
	OwnerNode   string       `json:"owner_node"`
	Version     int64        `json:"version"`
	VectorClock vclock.Clock `json:"vector_clock"`
	IsDeleted   bool         `json:"is_deleted"`
	ContentType string       `json:"content_type,omitempty"`
}

// ReplicaSeparator joins an original file id with a peer node id.
const ReplicaSeparator = "::replica::"

// ReplicaFileID derives the id of a peer replica record.
func ReplicaFileID(fileID, peerID string) string {
	return fileID + ReplicaSeparator + peerID
}

// FileVersion is one link of a file's append-only version chain. Only
// the is_current flag ever changes after creation.
type FileVersion struct {
	VersionID       string       `json:"version_id"`
	FileID          string       `json:"file_id"`
	VersionNumber   int64        `json:"version_number"`
	ContentHash     string       `json:"hash"`
	Size            int64        `json:"size"`
	CreatedAt       time.Time    `json:"created_at"`
	CreatedBy       string       `json:"created_by"`
	VectorClock     vclock.Clock `json:"vector_clock"`
	IsCurrent       bool         `json:"is_current"`
	ParentVersionID string       `json:"parent_version_id,omitempty"`
}

// FileChunk is a contiguous byte range of a file crossing the boundary.
// Data is canonical bytes internally; hex or base64 on the wire.
type FileChunk struct {
	Index    int    `json:"index"`
	Offset   int64  `json:"offset"`
	Size     int    `json:"size"`
	Hash     string `json:"hash"`
	WeakHash uint32 `json:"weak_hash,omitempty"`
	Data     Bytes  `json:"data,omitempty"`
}

// Conflict records a detected concurrent modification. Resolution is an
// out-of-band decision; is_resolved flips false to true exactly once.
type Conflict struct {
	ConflictID        string     `json:"conflict_id"`
	FileID            string     `json:"file_id"`
	NodeA             string     `json:"node_a"`
	NodeB             string     `json:"node_b"`
	VersionA          string     `json:"version_a"`
	VersionB          string     `json:"version_b"`
	DetectedAt        time.Time  `json:"detected_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
	Strategy          string     `json:"strategy,omitempty"`
	ResolvedVersionID string     `json:"resolved_version_id,omitempty"`
	IsResolved        bool       `json:"is_resolved"`
}

// NetworkMetrics is one sampled row of per-node transfer counters.
type NetworkMetrics struct {
	NodeID         string    `json:"node_id"`
	Timestamp      time.Time `json:"timestamp"`
	BandwidthUsed  int64     `json:"bandwidth_used"`
	BandwidthSaved int64     `json:"bandwidth_saved"`
	SyncTime       float64   `json:"sync_time"`
	FileCount      int       `json:"file_count"`
	ErrorCount     int       `json:"error_count"`
	LatencyMS      float64   `json:"latency_ms"`
}

// DeltaMetrics reports the outcome of one delta computation. Field
// names are stable identifiers clients depend on.
type DeltaMetrics struct {
	FileID           string  `json:"file_id"`
	OriginalSize     int64   `json:"original_size"`
	CompressedSize   int64   `json:"compressed_size"`
	BandwidthSaved   int64   `json:"bandwidth_saved"`
	ChunksTotal      int     `json:"chunks_total"`
	ChunksUnchanged  int     `json:"chunks_unchanged"`
	ChunksModified   int     `json:"chunks_modified"`
	ChunksNew        int     `json:"chunks_new"`
	SyncTime         float64 `json:"sync_time"`
	Throughput       float64 `json:"throughput"`
	CompressionRatio float64 `json:"compression_ratio"`
}
