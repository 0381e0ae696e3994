// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package syncdb is the sqlite-backed record of nodes, files, events,
// conflicts and network metrics. It is the durable source of truth the
// in-memory state is rebuilt from.
package syncdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/syncfleet/syncfleet/model"
	"github.com/syncfleet/syncfleet/vclock"
)

// SyncDB wraps the sqlite database.
type SyncDB struct {
	path  string
	db    *sql.DB
	stmts *stmtCache
}

// New create or open the sync db at given path.
func New(path string) (syncDB *SyncDB, err error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.WithMessage(model.ErrStorageUnavailable, err.Error())
	}
	defer func() {
		if syncDB == nil {
			db.Close()
		}
	}()

	schema := nodeTableSchema + "\n" + fileTableSchema + "\n" + eventTableSchema + "\n" +
		conflictTableSchema + "\n" + metricsTableSchema
	if _, err := db.Exec(schema); err != nil {
		return nil, errors.WithMessage(model.ErrStorageUnavailable, err.Error())
	}

	return &SyncDB{
		path:  path,
		db:    db,
		stmts: newStmtCache(db),
	}, nil
}

// NewMem create a sync db in ram.
func NewMem() (*SyncDB, error) {
	return New(":memory:")
}

// Close close the sync db.
func (s *SyncDB) Close() {
	s.stmts.Clear()
	s.db.Close()
}

func (s *SyncDB) Path() string {
	return s.path
}

func storageErr(err error) error {
	return errors.WithMessage(model.ErrStorageUnavailable, err.Error())
}

func marshalClock(c vclock.Clock) string {
	if c.Clocks == nil {
		return "{}"
	}
	raw, _ := json.Marshal(c.Clocks)
	return string(raw)
}

func unmarshalClock(raw string) vclock.Clock {
	c := vclock.New()
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &c.Clocks)
	}
	return c
}

func marshalStrings(ss []string) string {
	if ss == nil {
		ss = []string{}
	}
	raw, _ := json.Marshal(ss)
	return string(raw)
}

func unmarshalStrings(raw string) []string {
	var ss []string
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &ss)
	}
	return ss
}

func (s *SyncDB) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	stmt, err := s.stmts.Prepare(query)
	if err != nil {
		return nil, storageErr(err)
	}
	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return nil, storageErr(err)
	}
	return res, nil
}

//// nodes

// UpsertNode inserts or fully replaces a node record.
func (s *SyncDB) UpsertNode(ctx context.Context, n *model.Node) error {
	_, err := s.exec(ctx, `INSERT OR REPLACE INTO nodes
		(node_id, name, address, port, status, last_seen, capabilities, watch_directories, vector_clock)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.NodeID, n.Name, n.Address, n.Port, string(n.Status),
		model.FormatTimestamp(n.LastSeen),
		marshalStrings(n.Capabilities), marshalStrings(n.WatchDirs),
		marshalClock(n.VectorClock))
	return err
}

// Node retrieves one node.
func (s *SyncDB) Node(ctx context.Context, nodeID string) (*model.Node, error) {
	nodes, err := s.queryNodes(ctx, "SELECT * FROM nodes WHERE node_id = ?", nodeID)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, errors.WithMessagef(model.ErrNotFound, "node %s", nodeID)
	}
	return nodes[0], nil
}

// Nodes lists all nodes ordered by name.
func (s *SyncDB) Nodes(ctx context.Context) ([]*model.Node, error) {
	return s.queryNodes(ctx, "SELECT * FROM nodes ORDER BY name")
}

// OnlineNodes lists nodes currently online, ordered by name.
func (s *SyncDB) OnlineNodes(ctx context.Context) ([]*model.Node, error) {
	return s.queryNodes(ctx, "SELECT * FROM nodes WHERE status = 'online' ORDER BY name")
}

// UpdateNodeStatus flips a node's status and refreshes last_seen.
func (s *SyncDB) UpdateNodeStatus(ctx context.Context, nodeID string, status model.NodeStatus, seen time.Time) error {
	res, err := s.exec(ctx, "UPDATE nodes SET status = ?, last_seen = ? WHERE node_id = ?",
		string(status), model.FormatTimestamp(seen), nodeID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.WithMessagef(model.ErrNotFound, "node %s", nodeID)
	}
	return nil
}

// RemoveNode deletes a node together with every row referencing it, in
// one transaction: its files, its events, its metrics samples and any
// conflict it is party to. Returns the ids of removed files.
func (s *SyncDB) RemoveNode(ctx context.Context, nodeID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErr(err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT file_id FROM files WHERE owner_node = ?", nodeID)
	if err != nil {
		return nil, storageErr(err)
	}
	var fileIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, storageErr(err)
		}
		fileIDs = append(fileIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM nodes WHERE node_id = ?", nodeID)
	if err != nil {
		return nil, storageErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, errors.WithMessagef(model.ErrNotFound, "node %s", nodeID)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM files WHERE owner_node = ?", nodeID); err != nil {
		return nil, storageErr(err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM events WHERE node_id = ?", nodeID); err != nil {
		return nil, storageErr(err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM network_metrics WHERE node_id = ?", nodeID); err != nil {
		return nil, storageErr(err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM conflicts WHERE node_a = ? OR node_b = ?", nodeID, nodeID); err != nil {
		return nil, storageErr(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageErr(err)
	}
	return fileIDs, nil
}

func (s *SyncDB) queryNodes(ctx context.Context, query string, args ...interface{}) ([]*model.Node, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var nodes []*model.Node
	for rows.Next() {
		var (
			n                          model.Node
			status, seen, caps, dirs, clock string
		)
		if err := rows.Scan(&n.NodeID, &n.Name, &n.Address, &n.Port, &status,
			&seen, &caps, &dirs, &clock); err != nil {
			return nil, storageErr(err)
		}
		n.Status = model.NodeStatus(status)
		if n.LastSeen, err = model.ParseTimestamp(seen); err != nil {
			return nil, errors.Wrap(err, "parse last_seen")
		}
		n.Capabilities = unmarshalStrings(caps)
		n.WatchDirs = unmarshalStrings(dirs)
		n.VectorClock = unmarshalClock(clock)
		nodes = append(nodes, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return nodes, nil
}

//// files

// SaveFile inserts or fully replaces a file record.
func (s *SyncDB) SaveFile(ctx context.Context, f *model.FileMetadata) error {
	deleted := 0
	if f.IsDeleted {
		deleted = 1
	}
	_, err := s.exec(ctx, `INSERT OR REPLACE INTO files
		(file_id, name, path, size, hash, created_at, modified_at, owner_node, version, vector_clock, is_deleted, content_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.FileID, f.Name, f.Path, f.Size, f.ContentHash,
		model.FormatTimestamp(f.CreatedAt), model.FormatTimestamp(f.ModifiedAt),
		f.OwnerNode, f.Version, marshalClock(f.VectorClock), deleted, f.ContentType)
	return err
}

// File retrieves one file record, deleted or not.
func (s *SyncDB) File(ctx context.Context, fileID string) (*model.FileMetadata, error) {
	files, err := s.queryFiles(ctx, "SELECT * FROM files WHERE file_id = ?", fileID)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.WithMessagef(model.ErrNotFound, "file %s", fileID)
	}
	return files[0], nil
}

// FileByPath retrieves the file record at a path, deleted or not.
func (s *SyncDB) FileByPath(ctx context.Context, path string) (*model.FileMetadata, error) {
	files, err := s.queryFiles(ctx, "SELECT * FROM files WHERE path = ?", path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, errors.WithMessagef(model.ErrNotFound, "file at %s", path)
	}
	return files[0], nil
}

// Files lists file records ordered by path, optionally including
// soft-deleted ones.
func (s *SyncDB) Files(ctx context.Context, includeDeleted bool) ([]*model.FileMetadata, error) {
	if includeDeleted {
		return s.queryFiles(ctx, "SELECT * FROM files ORDER BY path")
	}
	return s.queryFiles(ctx, "SELECT * FROM files WHERE is_deleted = 0 ORDER BY path")
}

// FilesOwnedBy lists the live files a node owns.
func (s *SyncDB) FilesOwnedBy(ctx context.Context, nodeID string) ([]*model.FileMetadata, error) {
	return s.queryFiles(ctx, "SELECT * FROM files WHERE owner_node = ? AND is_deleted = 0 ORDER BY path", nodeID)
}

func (s *SyncDB) queryFiles(ctx context.Context, query string, args ...interface{}) ([]*model.FileMetadata, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var files []*model.FileMetadata
	for rows.Next() {
		var (
			f                     model.FileMetadata
			created, modified, clock string
			deleted               int
		)
		if err := rows.Scan(&f.FileID, &f.Name, &f.Path, &f.Size, &f.ContentHash,
			&created, &modified, &f.OwnerNode, &f.Version, &clock, &deleted, &f.ContentType); err != nil {
			return nil, storageErr(err)
		}
		if f.CreatedAt, err = model.ParseTimestamp(created); err != nil {
			return nil, errors.Wrap(err, "parse created_at")
		}
		if f.ModifiedAt, err = model.ParseTimestamp(modified); err != nil {
			return nil, errors.Wrap(err, "parse modified_at")
		}
		f.VectorClock = unmarshalClock(clock)
		f.IsDeleted = deleted != 0
		files = append(files, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return files, nil
}

//// events

// AppendEvent durably records one event.
func (s *SyncDB) AppendEvent(ctx context.Context, ev *model.Event) error {
	_, err := s.exec(ctx, `INSERT INTO events
		(event_id, event_type, node_id, file_id, timestamp, vector_clock, data, processed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, string(ev.Kind), ev.NodeID, ev.FileID,
		model.FormatTimestamp(ev.Timestamp), marshalClock(ev.VectorClock),
		string(ev.Data), boolToInt(ev.Processed))
	return err
}

// Events returns the newest events first, up to limit.
func (s *SyncDB) Events(ctx context.Context, limit int) ([]*model.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryEvents(ctx, "SELECT * FROM events ORDER BY timestamp DESC, event_id DESC LIMIT ?", limit)
}

// EventsForFile returns all events touching a file, oldest first.
func (s *SyncDB) EventsForFile(ctx context.Context, fileID string) ([]*model.Event, error) {
	return s.queryEvents(ctx, "SELECT * FROM events WHERE file_id = ? ORDER BY timestamp, event_id", fileID)
}

// UnprocessedEvents returns pending events oldest first.
func (s *SyncDB) UnprocessedEvents(ctx context.Context) ([]*model.Event, error) {
	return s.queryEvents(ctx, "SELECT * FROM events WHERE processed = 0 ORDER BY timestamp, event_id")
}

// MarkEventsProcessed flags the given events as handled.
func (s *SyncDB) MarkEventsProcessed(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err)
	}
	defer tx.Rollback()
	for _, id := range eventIDs {
		if _, err := tx.ExecContext(ctx, "UPDATE events SET processed = 1 WHERE event_id = ?", id); err != nil {
			return storageErr(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return storageErr(err)
	}
	return nil
}

// PurgeProcessedEvents drops processed events older than the cutoff and
// returns how many were removed.
func (s *SyncDB) PurgeProcessedEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.exec(ctx, "DELETE FROM events WHERE processed = 1 AND timestamp < ?",
		model.FormatTimestamp(olderThan))
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SyncDB) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*model.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		var (
			ev                  model.Event
			kind, ts, clock, data string
			processed           int
		)
		if err := rows.Scan(&ev.EventID, &kind, &ev.NodeID, &ev.FileID,
			&ts, &clock, &data, &processed); err != nil {
			return nil, storageErr(err)
		}
		ev.Kind = model.EventKind(kind)
		if ev.Timestamp, err = model.ParseTimestamp(ts); err != nil {
			return nil, errors.Wrap(err, "parse event timestamp")
		}
		ev.VectorClock = unmarshalClock(clock)
		if data != "" {
			ev.Data = json.RawMessage(data)
		}
		ev.Processed = processed != 0
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return events, nil
}

//// conflicts

// SaveConflict inserts or fully replaces a conflict record.
func (s *SyncDB) SaveConflict(ctx context.Context, c *model.Conflict) error {
	var resolvedAt interface{}
	if c.ResolvedAt != nil {
		resolvedAt = model.FormatTimestamp(*c.ResolvedAt)
	}
	_, err := s.exec(ctx, `INSERT OR REPLACE INTO conflicts
		(conflict_id, file_id, node_a, node_b, version_a, version_b, detected_at, resolved_at, strategy, resolved_version_id, is_resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ConflictID, c.FileID, c.NodeA, c.NodeB, c.VersionA, c.VersionB,
		model.FormatTimestamp(c.DetectedAt), resolvedAt, c.Strategy,
		c.ResolvedVersionID, boolToInt(c.IsResolved))
	return err
}

// Conflict retrieves one conflict.
func (s *SyncDB) Conflict(ctx context.Context, conflictID string) (*model.Conflict, error) {
	conflicts, err := s.queryConflicts(ctx, "SELECT * FROM conflicts WHERE conflict_id = ?", conflictID)
	if err != nil {
		return nil, err
	}
	if len(conflicts) == 0 {
		return nil, errors.WithMessagef(model.ErrNotFound, "conflict %s", conflictID)
	}
	return conflicts[0], nil
}

// Conflicts lists conflicts newest first, optionally only unresolved.
func (s *SyncDB) Conflicts(ctx context.Context, unresolvedOnly bool) ([]*model.Conflict, error) {
	if unresolvedOnly {
		return s.queryConflicts(ctx, "SELECT * FROM conflicts WHERE is_resolved = 0 ORDER BY detected_at DESC")
	}
	return s.queryConflicts(ctx, "SELECT * FROM conflicts ORDER BY detected_at DESC")
}

// HasOpenConflict reports whether two concurrent versions of a file are
// already recorded, in either node order.
func (s *SyncDB) HasOpenConflict(ctx context.Context, fileID, nodeA, nodeB string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conflicts
		WHERE file_id = ? AND is_resolved = 0
		AND ((node_a = ? AND node_b = ?) OR (node_a = ? AND node_b = ?))`,
		fileID, nodeA, nodeB, nodeB, nodeA)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, storageErr(err)
	}
	return n > 0, nil
}

func (s *SyncDB) queryConflicts(ctx context.Context, query string, args ...interface{}) ([]*model.Conflict, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var conflicts []*model.Conflict
	for rows.Next() {
		var (
			c          model.Conflict
			detected   string
			resolvedAt sql.NullString
			resolved   int
		)
		if err := rows.Scan(&c.ConflictID, &c.FileID, &c.NodeA, &c.NodeB,
			&c.VersionA, &c.VersionB, &detected, &resolvedAt,
			&c.Strategy, &c.ResolvedVersionID, &resolved); err != nil {
			return nil, storageErr(err)
		}
		if c.DetectedAt, err = model.ParseTimestamp(detected); err != nil {
			return nil, errors.Wrap(err, "parse detected_at")
		}
		if resolvedAt.Valid {
			t, err := model.ParseTimestamp(resolvedAt.String)
			if err != nil {
				return nil, errors.Wrap(err, "parse resolved_at")
			}
			c.ResolvedAt = &t
		}
		c.IsResolved = resolved != 0
		conflicts = append(conflicts, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return conflicts, nil
}

//// metrics

// SaveMetrics appends one network metrics sample.
func (s *SyncDB) SaveMetrics(ctx context.Context, m *model.NetworkMetrics) error {
	_, err := s.exec(ctx, `INSERT INTO network_metrics
		(node_id, timestamp, bandwidth_used, bandwidth_saved, sync_time, file_count, error_count, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.NodeID, model.FormatTimestamp(m.Timestamp), m.BandwidthUsed, m.BandwidthSaved,
		m.SyncTime, m.FileCount, m.ErrorCount, m.LatencyMS)
	return err
}

// MetricsForNode returns a node's newest samples, up to limit.
func (s *SyncDB) MetricsForNode(ctx context.Context, nodeID string, limit int) ([]*model.NetworkMetrics, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT node_id, timestamp, bandwidth_used, bandwidth_saved, sync_time, file_count, error_count, latency_ms
		FROM network_metrics WHERE node_id = ? ORDER BY timestamp DESC LIMIT ?`, nodeID, limit)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var samples []*model.NetworkMetrics
	for rows.Next() {
		var (
			m  model.NetworkMetrics
			ts string
		)
		if err := rows.Scan(&m.NodeID, &ts, &m.BandwidthUsed, &m.BandwidthSaved,
			&m.SyncTime, &m.FileCount, &m.ErrorCount, &m.LatencyMS); err != nil {
			return nil, storageErr(err)
		}
		if m.Timestamp, err = model.ParseTimestamp(ts); err != nil {
			return nil, errors.Wrap(err, "parse metrics timestamp")
		}
		samples = append(samples, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return samples, nil
}

// Statistics is the aggregate view of the whole database.
type Statistics struct {
	TotalNodes          int   `json:"total_nodes"`
	OnlineNodes         int   `json:"online_nodes"`
	TotalFiles          int   `json:"total_files"`
	DeletedFiles        int   `json:"deleted_files"`
	TotalEvents         int   `json:"total_events"`
	UnprocessedEvents   int   `json:"unprocessed_events"`
	UnresolvedConflicts int   `json:"unresolved_conflicts"`
	BandwidthSaved      int64 `json:"bandwidth_saved"`
}

// Statistics aggregates counters across all tables.
func (s *SyncDB) Statistics(ctx context.Context) (*Statistics, error) {
	var stats Statistics
	queries := []struct {
		query string
		dest  interface{}
	}{
		{"SELECT COUNT(*) FROM nodes", &stats.TotalNodes},
		{"SELECT COUNT(*) FROM nodes WHERE status = 'online'", &stats.OnlineNodes},
		{"SELECT COUNT(*) FROM files WHERE is_deleted = 0", &stats.TotalFiles},
		{"SELECT COUNT(*) FROM files WHERE is_deleted = 1", &stats.DeletedFiles},
		{"SELECT COUNT(*) FROM events", &stats.TotalEvents},
		{"SELECT COUNT(*) FROM events WHERE processed = 0", &stats.UnprocessedEvents},
		{"SELECT COUNT(*) FROM conflicts WHERE is_resolved = 0", &stats.UnresolvedConflicts},
		{"SELECT COALESCE(SUM(bandwidth_saved), 0) FROM network_metrics", &stats.BandwidthSaved},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, storageErr(err)
		}
	}
	return &stats, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
