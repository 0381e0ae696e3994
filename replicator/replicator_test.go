// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package replicator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/syncfleet/syncfleet/blobdb"
	"github.com/syncfleet/syncfleet/bus"
	"github.com/syncfleet/syncfleet/model"
	"github.com/syncfleet/syncfleet/syncdb"
	"github.com/syncfleet/syncfleet/vclock"
	"github.com/syncfleet/syncfleet/versiondb"
)

type fixture struct {
	db       *syncdb.SyncDB
	versions *versiondb.Store
	bus      *bus.Bus
	clocks   *vclock.Manager
	rep      *Replicator
}

func newFixture(t *testing.T) *fixture {
	db, err := syncdb.NewMem()
	assert.Nil(t, err)
	t.Cleanup(db.Close)

	bdb, err := blobdb.NewMem()
	assert.Nil(t, err)
	t.Cleanup(func() { bdb.Close() })

	b := bus.New(db)
	t.Cleanup(b.Close)

	clocks := vclock.NewManager()
	versions := versiondb.NewStore(bdb)
	return &fixture{
		db:       db,
		versions: versions,
		bus:      b,
		clocks:   clocks,
		rep:      New(db, versions, b, clocks, Options{}),
	}
}

func (f *fixture) seedFile(t *testing.T, fileID, owner string, content []byte) (*model.FileMetadata, *model.FileVersion) {
	now := time.Now()
	v, err := f.versions.CreateVersion(model.FileVersion{
		FileID:    fileID,
		CreatedBy: owner,
		CreatedAt: now,
	}, content)
	assert.Nil(t, err)

	file := &model.FileMetadata{
		FileID:      fileID,
		Name:        fileID + ".txt",
		Path:        "/" + owner + "/" + fileID + ".txt",
		Size:        int64(len(content)),
		ContentHash: v.ContentHash,
		CreatedAt:   now,
		ModifiedAt:  now,
		OwnerNode:   owner,
		Version:     1,
		VectorClock: f.clocks.Register(owner),
	}
	assert.Nil(t, f.db.SaveFile(context.Background(), file))
	return file, v
}

func collectKinds(t *testing.T, sub <-chan *model.Event, n int) []model.EventKind {
	kinds := make([]model.EventKind, 0, n)
	for i := 0; i < n; i++ {
		select {
		case ev := <-sub:
			kinds = append(kinds, ev.Kind)
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d events arrived", i, n)
		}
	}
	return kinds
}

func TestReplicateSinglePeer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	file, version := f.seedFile(t, "f1", "n1", []byte("replicate me"))
	peer := &model.Node{NodeID: "n2", Name: "peer"}

	sub := f.bus.Subscribe("watch", nil, "")
	f.rep.Replicate(ctx, file, version, []*model.Node{peer})
	f.rep.Wait()

	kinds := collectKinds(t, sub.C(), 5)
	assert.Equal(t, []model.EventKind{
		model.SyncStarted,
		model.SyncProgress, model.SyncProgress, model.SyncProgress,
		model.SyncCompleted,
	}, kinds)

	// replica record with derived id and peer-rooted path
	replica, err := f.db.File(ctx, "f1::replica::n2")
	assert.Nil(t, err)
	assert.Equal(t, "n2", replica.OwnerNode)
	assert.Equal(t, "/n2/replicas/f1.txt", replica.Path)
	assert.Equal(t, file.ContentHash, replica.ContentHash)

	// the replica has its own version chain with the same bytes
	_, data, err := f.versions.CurrentBytes("f1::replica::n2")
	assert.Nil(t, err)
	assert.Equal(t, []byte("replicate me"), data)
}

func TestReplicateFanOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	file, version := f.seedFile(t, "f1", "n1", []byte("data"))
	peers := []*model.Node{{NodeID: "n2"}, {NodeID: "n3"}, {NodeID: "n4"}}

	sub := f.bus.Subscribe("watch", []model.EventKind{model.SyncCompleted}, "")
	f.rep.Replicate(ctx, file, version, peers)
	f.rep.Wait()

	targets := map[string]bool{}
	for i := 0; i < 3; i++ {
		ev := <-sub.C()
		decoded, err := model.DecodeEventData(ev)
		assert.Nil(t, err)
		data := decoded.(*model.SyncData)
		targets[data.TargetNode] = true
		assert.Equal(t, int64(4), data.BytesTransferred)
		assert.Equal(t, version.VersionID, data.VersionID)
	}
	assert.Equal(t, map[string]bool{"n2": true, "n3": true, "n4": true}, targets)
}

func TestReplicateMissingVersionEmitsSyncError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	file := &model.FileMetadata{
		FileID:    "ghost",
		Name:      "ghost.txt",
		OwnerNode: "n1",
	}
	version := &model.FileVersion{FileID: "ghost", VersionID: "missing"}

	sub := f.bus.Subscribe("watch", []model.EventKind{model.SyncError}, "")
	f.rep.Replicate(ctx, file, version, []*model.Node{{NodeID: "n2"}})
	f.rep.Wait()

	select {
	case ev := <-sub.C():
		decoded, err := model.DecodeEventData(ev)
		assert.Nil(t, err)
		assert.NotEqual(t, "", decoded.(*model.SyncData).Error)
	case <-time.After(2 * time.Second):
		t.Fatal("no sync_error event")
	}
}

func TestProgressDelaySpacing(t *testing.T) {
	f := newFixture(t)
	f.rep = New(f.db, f.versions, f.bus, f.clocks, Options{ProgressDelay: 20 * time.Millisecond})
	ctx := context.Background()

	file, version := f.seedFile(t, "f1", "n1", []byte("slow"))

	start := time.Now()
	f.rep.Replicate(ctx, file, version, []*model.Node{{NodeID: "n2"}})
	f.rep.Wait()

	// three delayed steps
	assert.True(t, time.Since(start) >= 60*time.Millisecond)
}
