// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package model

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/syncfleet/syncfleet/vclock"
)

// EventKind is the closed set of event types. Publishing any other kind
// is rejected at the boundary.
type EventKind string

const (
	NodeRegistered    EventKind = "node_registered"
	NodeStatusChanged EventKind = "node_status_changed"
	NodeRemoved       EventKind = "node_removed"
	FileCreated       EventKind = "file_created"
	FileModified      EventKind = "file_modified"
	FileDeleted       EventKind = "file_deleted"
	SyncStarted       EventKind = "sync_started"
	SyncProgress      EventKind = "sync_progress"
	SyncCompleted     EventKind = "sync_completed"
	SyncError         EventKind = "sync_error"
	ConflictDetected  EventKind = "conflict_detected"
	ConflictResolved  EventKind = "conflict_resolved"
	VectorClockUpdate EventKind = "vector_clock_update"
)

// EventKinds lists every valid kind, in declaration order.
func EventKinds() []EventKind {
	return []EventKind{
		NodeRegistered, NodeStatusChanged, NodeRemoved,
		FileCreated, FileModified, FileDeleted,
		SyncStarted, SyncProgress, SyncCompleted, SyncError,
		ConflictDetected, ConflictResolved,
		VectorClockUpdate,
	}
}

// ParseEventKind validates a kind string from the boundary.
func ParseEventKind(s string) (EventKind, error) {
	switch EventKind(s) {
	case NodeRegistered, NodeStatusChanged, NodeRemoved,
		FileCreated, FileModified, FileDeleted,
		SyncStarted, SyncProgress, SyncCompleted, SyncError,
		ConflictDetected, ConflictResolved,
		VectorClockUpdate:
		return EventKind(s), nil
	}
	return "", errors.WithMessagef(ErrBadRequest, "unknown event kind %q", s)
}

// Event is one entry of the durable event log. Data carries the
// kind-specific payload; DecodeEventData recovers the typed form.
type Event struct {
	EventID     string          `json:"event_id"`
	Kind        EventKind       `json:"event_type"`
	NodeID      string          `json:"node_id"`
	FileID      string          `json:"file_id,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	VectorClock vclock.Clock    `json:"vector_clock"`
	Data        json.RawMessage `json:"data,omitempty"`
	Processed   bool            `json:"processed"`
}

// NodeChangeData is the payload of node_registered, node_status_changed
// and node_removed events.
type NodeChangeData struct {
	NodeName     string     `json:"node_name,omitempty"`
	Status       NodeStatus `json:"status,omitempty"`
	PrevStatus   NodeStatus `json:"previous_status,omitempty"`
	FilesRemoved int        `json:"files_removed,omitempty"`
}

// FileChangeData is the payload of file_created, file_modified and
// file_deleted events.
type FileChangeData struct {
	FileName         string  `json:"file_name"`
	FileSize         int64   `json:"file_size,omitempty"`
	FileHash         string  `json:"file_hash,omitempty"`
	VersionID        string  `json:"version_id,omitempty"`
	DeltaSyncUsed    bool    `json:"delta_sync_used,omitempty"`
	BandwidthSaved   int64   `json:"bandwidth_saved,omitempty"`
	CompressionRatio float64 `json:"compression_ratio,omitempty"`
	ChunksTotal      int     `json:"chunks_total,omitempty"`
	ChunksUnchanged  int     `json:"chunks_unchanged,omitempty"`
	DeletedBy        string  `json:"deleted_by,omitempty"`
	Restored         bool    `json:"restored,omitempty"`
}

// SyncData is the payload of the four sync_* replication events.
type SyncData struct {
	FileName         string `json:"file_name"`
	SourceNode       string `json:"source_node"`
	TargetNode       string `json:"target_node"`
	Progress         int    `json:"progress,omitempty"`
	BytesTransferred int64  `json:"bytes_transferred,omitempty"`
	VersionID        string `json:"version_id,omitempty"`
	ReplicaFileID    string `json:"replica_file_id,omitempty"`
	Error            string `json:"error,omitempty"`
}

// ConflictData is the payload of conflict_detected and
// conflict_resolved events.
type ConflictData struct {
	ConflictID        string `json:"conflict_id"`
	NodeA             string `json:"node_a,omitempty"`
	NodeB             string `json:"node_b,omitempty"`
	VersionA          string `json:"version_a,omitempty"`
	VersionB          string `json:"version_b,omitempty"`
	Strategy          string `json:"strategy,omitempty"`
	ResolvedVersionID string `json:"resolved_version_id,omitempty"`
}

// ClockUpdateData is the payload of vector_clock_update events.
type ClockUpdateData struct {
	Clock vclock.Clock `json:"clock"`
}

// EncodeEventData serializes a typed payload for an Event.
func EncodeEventData(v interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode event data")
	}
	return raw, nil
}

// DecodeEventData recovers the typed payload of an event according to
// its kind. Events without a payload yield nil.
func DecodeEventData(ev *Event) (interface{}, error) {
	if len(ev.Data) == 0 {
		return nil, nil
	}
	var target interface{}
	switch ev.Kind {
	case NodeRegistered, NodeStatusChanged, NodeRemoved:
		target = &NodeChangeData{}
	case FileCreated, FileModified, FileDeleted:
		target = &FileChangeData{}
	case SyncStarted, SyncProgress, SyncCompleted, SyncError:
		target = &SyncData{}
	case ConflictDetected, ConflictResolved:
		target = &ConflictData{}
	case VectorClockUpdate:
		target = &ClockUpdateData{}
	default:
		return nil, errors.WithMessagef(ErrBadRequest, "unknown event kind %q", ev.Kind)
	}
	if err := json.Unmarshal(ev.Data, target); err != nil {
		return nil, errors.WithMessagef(ErrBadRequest, "malformed %s payload", ev.Kind)
	}
	return target, nil
}
