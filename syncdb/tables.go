// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package syncdb

// Timestamps are stored as fixed-width UTC text, so every ORDER BY over
// them is chronological.

const nodeTableSchema = `CREATE TABLE IF NOT EXISTS nodes (
	node_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	address TEXT NOT NULL,
	port INTEGER NOT NULL,
	status TEXT NOT NULL,
	last_seen TEXT NOT NULL,
	capabilities TEXT NOT NULL DEFAULT '[]',
	watch_directories TEXT NOT NULL DEFAULT '[]',
	vector_clock TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_nodes_status ON nodes(status);
CREATE INDEX IF NOT EXISTS idx_nodes_last_seen ON nodes(last_seen);`

const fileTableSchema = `CREATE TABLE IF NOT EXISTS files (
	file_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	path TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	hash TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	modified_at TEXT NOT NULL,
	owner_node TEXT NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	vector_clock TEXT NOT NULL DEFAULT '{}',
	is_deleted INTEGER NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_files_owner ON files(owner_node);
CREATE INDEX IF NOT EXISTS idx_files_hash ON files(hash);
CREATE INDEX IF NOT EXISTS idx_files_is_deleted ON files(is_deleted);
CREATE INDEX IF NOT EXISTS idx_files_modified_at ON files(modified_at);`

const eventTableSchema = `CREATE TABLE IF NOT EXISTS events (
	event_id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	node_id TEXT NOT NULL,
	file_id TEXT NOT NULL DEFAULT '',
	timestamp TEXT NOT NULL,
	vector_clock TEXT NOT NULL DEFAULT '{}',
	data TEXT NOT NULL DEFAULT '',
	processed INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
CREATE INDEX IF NOT EXISTS idx_events_node ON events(node_id);
CREATE INDEX IF NOT EXISTS idx_events_file ON events(file_id);
CREATE INDEX IF NOT EXISTS idx_events_processed ON events(processed);`

const conflictTableSchema = `CREATE TABLE IF NOT EXISTS conflicts (
	conflict_id TEXT PRIMARY KEY,
	file_id TEXT NOT NULL,
	node_a TEXT NOT NULL,
	node_b TEXT NOT NULL,
	version_a TEXT NOT NULL DEFAULT '',
	version_b TEXT NOT NULL DEFAULT '',
	detected_at TEXT NOT NULL,
	resolved_at TEXT,
	strategy TEXT NOT NULL DEFAULT '',
	resolved_version_id TEXT NOT NULL DEFAULT '',
	is_resolved INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_conflicts_file ON conflicts(file_id);
CREATE INDEX IF NOT EXISTS idx_conflicts_resolved ON conflicts(is_resolved);`

const metricsTableSchema = `CREATE TABLE IF NOT EXISTS network_metrics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	node_id TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	bandwidth_used INTEGER NOT NULL DEFAULT 0,
	bandwidth_saved INTEGER NOT NULL DEFAULT 0,
	sync_time REAL NOT NULL DEFAULT 0,
	file_count INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	latency_ms REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_metrics_node_time ON network_metrics(node_id, timestamp);`
