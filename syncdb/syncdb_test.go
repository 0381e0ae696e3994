// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package syncdb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/syncfleet/syncfleet/model"
	"github.com/syncfleet/syncfleet/vclock"
)

func newTestDB(t *testing.T) *SyncDB {
	db, err := NewMem()
	assert.Nil(t, err)
	t.Cleanup(db.Close)
	return db
}

func testNode(id string) *model.Node {
	return &model.Node{
		NodeID:       id,
		Name:         "node " + id,
		Address:      "10.0.0.1",
		Port:         9000,
		Status:       model.NodeOnline,
		LastSeen:     time.Now(),
		Capabilities: []string{"delta_sync"},
		WatchDirs:    []string{"/data"},
		VectorClock:  vclock.New(),
	}
}

func testFile(id, owner string) *model.FileMetadata {
	return &model.FileMetadata{
		FileID:     id,
		Name:       id + ".txt",
		Path:       "/data/" + id + ".txt",
		Size:       42,
		OwnerNode:  owner,
		Version:    1,
		CreatedAt:  time.Now(),
		ModifiedAt: time.Now(),
	}
}

func TestNodeRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	n := testNode("n1")
	n.VectorClock.Clocks["n1"] = 3
	assert.Nil(t, db.UpsertNode(ctx, n))

	got, err := db.Node(ctx, "n1")
	assert.Nil(t, err)
	assert.Equal(t, n.Name, got.Name)
	assert.Equal(t, model.NodeOnline, got.Status)
	assert.Equal(t, []string{"delta_sync"}, got.Capabilities)
	assert.Equal(t, int64(3), got.VectorClock.Get("n1"))

	_, err = db.Node(ctx, "missing")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestUpdateNodeStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	assert.Nil(t, db.UpsertNode(ctx, testNode("n1")))
	assert.Nil(t, db.UpdateNodeStatus(ctx, "n1", model.NodeOffline, time.Now()))

	got, err := db.Node(ctx, "n1")
	assert.Nil(t, err)
	assert.Equal(t, model.NodeOffline, got.Status)

	err = db.UpdateNodeStatus(ctx, "ghost", model.NodeOnline, time.Now())
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestRemoveNodeCascade(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	assert.Nil(t, db.UpsertNode(ctx, testNode("n1")))
	assert.Nil(t, db.UpsertNode(ctx, testNode("n2")))
	assert.Nil(t, db.SaveFile(ctx, testFile("f1", "n1")))
	assert.Nil(t, db.SaveFile(ctx, testFile("f2", "n1")))
	assert.Nil(t, db.SaveFile(ctx, testFile("f3", "n2")))

	for _, nodeID := range []string{"n1", "n2"} {
		assert.Nil(t, db.AppendEvent(ctx, &model.Event{
			EventID:     uuid.New(),
			Kind:        model.FileModified,
			NodeID:      nodeID,
			FileID:      "f1",
			Timestamp:   time.Now(),
			VectorClock: vclock.New(),
		}))
		assert.Nil(t, db.SaveMetrics(ctx, &model.NetworkMetrics{
			NodeID:    nodeID,
			Timestamp: time.Now(),
		}))
	}
	assert.Nil(t, db.SaveConflict(ctx, &model.Conflict{
		ConflictID: "c1",
		FileID:     "f1",
		NodeA:      "n1",
		NodeB:      "n2",
		DetectedAt: time.Now(),
	}))
	assert.Nil(t, db.SaveConflict(ctx, &model.Conflict{
		ConflictID: "c2",
		FileID:     "f3",
		NodeA:      "n2",
		NodeB:      "n3",
		DetectedAt: time.Now(),
	}))

	removed, err := db.RemoveNode(ctx, "n1")
	assert.Nil(t, err)
	assert.Equal(t, 2, len(removed))

	_, err = db.Node(ctx, "n1")
	assert.True(t, errors.Is(err, model.ErrNotFound))

	// other nodes' files survive
	files, err := db.Files(ctx, true)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(files))
	assert.Equal(t, "f3", files[0].FileID)

	// the removed node leaves no events, metrics samples or conflicts
	// behind, while other nodes' rows survive
	events, err := db.Events(ctx, 10)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(events))
	assert.Equal(t, "n2", events[0].NodeID)

	samples, err := db.MetricsForNode(ctx, "n1", 10)
	assert.Nil(t, err)
	assert.Equal(t, 0, len(samples))
	samples, err = db.MetricsForNode(ctx, "n2", 10)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(samples))

	conflicts, err := db.Conflicts(ctx, false)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(conflicts))
	assert.Equal(t, "c2", conflicts[0].ConflictID)

	_, err = db.RemoveNode(ctx, "n1")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestOnlineNodes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	assert.Nil(t, db.UpsertNode(ctx, testNode("n1")))
	offline := testNode("n2")
	offline.Status = model.NodeOffline
	assert.Nil(t, db.UpsertNode(ctx, offline))
	assert.Nil(t, db.UpsertNode(ctx, testNode("n3")))

	online, err := db.OnlineNodes(ctx)
	assert.Nil(t, err)
	assert.Equal(t, 2, len(online))
	assert.Equal(t, "n1", online[0].NodeID)
	assert.Equal(t, "n3", online[1].NodeID)
}

func TestSchemaIndexes(t *testing.T) {
	db := newTestDB(t)

	rows, err := db.db.Query("SELECT name FROM sqlite_master WHERE type = 'index'")
	assert.Nil(t, err)
	defer rows.Close()

	indexes := map[string]bool{}
	for rows.Next() {
		var name string
		assert.Nil(t, rows.Scan(&name))
		indexes[name] = true
	}
	assert.Nil(t, rows.Err())

	for _, name := range []string{
		"idx_nodes_status",
		"idx_files_owner",
		"idx_files_hash",
		"idx_files_modified_at",
		"idx_events_file",
		"idx_events_processed",
		"idx_conflicts_file",
		"idx_metrics_node_time",
	} {
		assert.True(t, indexes[name], name)
	}
}

func TestFileRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	f := testFile("f1", "n1")
	f.VectorClock = vclock.New()
	f.VectorClock.Clocks["n1"] = 2
	assert.Nil(t, db.SaveFile(ctx, f))

	got, err := db.File(ctx, "f1")
	assert.Nil(t, err)
	assert.Equal(t, f.Path, got.Path)
	assert.Equal(t, int64(2), got.VectorClock.Get("n1"))
	assert.False(t, got.IsDeleted)

	// soft delete hides the record from the default listing
	f.IsDeleted = true
	assert.Nil(t, db.SaveFile(ctx, f))

	files, err := db.Files(ctx, false)
	assert.Nil(t, err)
	assert.Equal(t, 0, len(files))

	files, err = db.Files(ctx, true)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(files))
	assert.True(t, files[0].IsDeleted)
}

func TestEventLog(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		data, err := model.EncodeEventData(&model.FileChangeData{FileName: fmt.Sprintf("f%d.txt", i)})
		assert.Nil(t, err)
		ev := &model.Event{
			EventID:     uuid.New(),
			Kind:        model.FileModified,
			NodeID:      "n1",
			FileID:      fmt.Sprintf("f%d", i),
			Timestamp:   base.Add(time.Duration(i) * time.Second),
			VectorClock: vclock.New(),
			Data:        data,
		}
		assert.Nil(t, db.AppendEvent(ctx, ev))
	}

	// newest first, bounded by limit
	events, err := db.Events(ctx, 3)
	assert.Nil(t, err)
	assert.Equal(t, 3, len(events))
	assert.Equal(t, "f4", events[0].FileID)
	assert.Equal(t, "f2", events[2].FileID)

	forFile, err := db.EventsForFile(ctx, "f1")
	assert.Nil(t, err)
	assert.Equal(t, 1, len(forFile))

	decoded, err := model.DecodeEventData(forFile[0])
	assert.Nil(t, err)
	assert.Equal(t, "f1.txt", decoded.(*model.FileChangeData).FileName)
}

func TestUnprocessedEvents(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		ev := &model.Event{
			EventID:     uuid.New(),
			Kind:        model.SyncCompleted,
			NodeID:      "n1",
			Timestamp:   time.Now().Add(time.Duration(i) * time.Millisecond),
			VectorClock: vclock.New(),
		}
		assert.Nil(t, db.AppendEvent(ctx, ev))
		ids = append(ids, ev.EventID)
	}

	pending, err := db.UnprocessedEvents(ctx)
	assert.Nil(t, err)
	assert.Equal(t, 3, len(pending))

	assert.Nil(t, db.MarkEventsProcessed(ctx, ids[:2]))
	pending, err = db.UnprocessedEvents(ctx)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(pending))
	assert.Equal(t, ids[2], pending[0].EventID)

	purged, err := db.PurgeProcessedEvents(ctx, time.Now().Add(time.Hour))
	assert.Nil(t, err)
	assert.Equal(t, int64(2), purged)
}

func TestConflicts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	c := &model.Conflict{
		ConflictID: "c1",
		FileID:     "f1",
		NodeA:      "n1",
		NodeB:      "n2",
		VersionA:   "v1",
		VersionB:   "v2",
		DetectedAt: time.Now(),
	}
	assert.Nil(t, db.SaveConflict(ctx, c))

	open, err := db.HasOpenConflict(ctx, "f1", "n2", "n1")
	assert.Nil(t, err)
	assert.True(t, open)

	unresolved, err := db.Conflicts(ctx, true)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(unresolved))
	assert.Nil(t, unresolved[0].ResolvedAt)

	now := time.Now()
	c.IsResolved = true
	c.ResolvedAt = &now
	c.Strategy = "latest_wins"
	c.ResolvedVersionID = "v2"
	assert.Nil(t, db.SaveConflict(ctx, c))

	unresolved, err = db.Conflicts(ctx, true)
	assert.Nil(t, err)
	assert.Equal(t, 0, len(unresolved))

	got, err := db.Conflict(ctx, "c1")
	assert.Nil(t, err)
	assert.True(t, got.IsResolved)
	assert.NotNil(t, got.ResolvedAt)
	assert.Equal(t, "latest_wins", got.Strategy)
}

func TestMetricsAndStatistics(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	assert.Nil(t, db.UpsertNode(ctx, testNode("n1")))
	offline := testNode("n2")
	offline.Status = model.NodeOffline
	assert.Nil(t, db.UpsertNode(ctx, offline))
	assert.Nil(t, db.SaveFile(ctx, testFile("f1", "n1")))

	for i := 0; i < 3; i++ {
		assert.Nil(t, db.SaveMetrics(ctx, &model.NetworkMetrics{
			NodeID:         "n1",
			Timestamp:      time.Now().Add(time.Duration(i) * time.Second),
			BandwidthUsed:  100,
			BandwidthSaved: 50,
			SyncTime:       0.5,
			FileCount:      1,
		}))
	}

	samples, err := db.MetricsForNode(ctx, "n1", 2)
	assert.Nil(t, err)
	assert.Equal(t, 2, len(samples))

	stats, err := db.Statistics(ctx)
	assert.Nil(t, err)
	assert.Equal(t, 2, stats.TotalNodes)
	assert.Equal(t, 1, stats.OnlineNodes)
	assert.Equal(t, 1, stats.TotalFiles)
	assert.Equal(t, int64(150), stats.BandwidthSaved)
}
