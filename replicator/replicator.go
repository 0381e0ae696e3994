// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package replicator pushes new file versions to peer nodes. Each peer
// is synced by its own goroutine; progress is reported through the
// event bus as it happens.
package replicator

import (
	"context"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"

	"github.com/syncfleet/syncfleet/bus"
	"github.com/syncfleet/syncfleet/co"
	"github.com/syncfleet/syncfleet/model"
	"github.com/syncfleet/syncfleet/syncdb"
	"github.com/syncfleet/syncfleet/vclock"
	"github.com/syncfleet/syncfleet/versiondb"
)

var log = log15.New("pkg", "replicator")

// progressSteps are the intermediate milestones reported per peer.
var progressSteps = []int{25, 50, 75}

// ClockSource stamps replication events with fresh vector clocks.
type ClockSource interface {
	IncrementLocal(nodeID string) vclock.Clock
}

// Options tune a Replicator.
type Options struct {
	// ProgressDelay spaces the intermediate progress events.
	// Zero reports them back to back.
	ProgressDelay time.Duration
}

// Replicator copies versions to peers and narrates the process on the
// bus.
type Replicator struct {
	db       *syncdb.SyncDB
	versions *versiondb.Store
	bus      *bus.Bus
	clocks   ClockSource
	delay    time.Duration
	goes     co.Goes
}

// New create a replicator.
func New(db *syncdb.SyncDB, versions *versiondb.Store, b *bus.Bus, clocks ClockSource, opts Options) *Replicator {
	return &Replicator{
		db:       db,
		versions: versions,
		bus:      b,
		clocks:   clocks,
		delay:    opts.ProgressDelay,
	}
}

// Replicate fans the current version of file out to the peers, one
// goroutine per peer. It returns immediately; completion and errors
// surface as events.
func (r *Replicator) Replicate(ctx context.Context, file *model.FileMetadata, version *model.FileVersion, peers []*model.Node) {
	for _, peer := range peers {
		peer := peer
		r.goes.Go(func() {
			if err := r.replicateOne(ctx, file, version, peer); err != nil {
				log.Warn("replication failed",
					"file", file.FileID, "peer", peer.NodeID, "err", err)
			}
		})
	}
}

// Wait blocks until all in-flight replications finish.
func (r *Replicator) Wait() {
	r.goes.Wait()
}

func (r *Replicator) replicateOne(ctx context.Context, file *model.FileMetadata, version *model.FileVersion, peer *model.Node) error {
	sync := &model.SyncData{
		FileName:   file.Name,
		SourceNode: file.OwnerNode,
		TargetNode: peer.NodeID,
	}

	if err := r.publishSync(ctx, model.SyncStarted, file, sync); err != nil {
		return err
	}

	content, err := r.versions.Bytes(file.FileID, version.VersionID)
	if err != nil {
		sync.Error = err.Error()
		_ = r.publishSync(ctx, model.SyncError, file, sync)
		return err
	}

	for _, step := range progressSteps {
		if r.delay > 0 {
			select {
			case <-time.After(r.delay):
			case <-ctx.Done():
				sync.Error = ctx.Err().Error()
				_ = r.publishSync(ctx, model.SyncError, file, sync)
				return errors.WithMessage(model.ErrTimeout, ctx.Err().Error())
			}
		}
		progress := *sync
		progress.Progress = step
		if err := r.publishSync(ctx, model.SyncProgress, file, &progress); err != nil {
			return err
		}
	}

	replica, err := r.writeReplica(ctx, file, peer, content)
	if err != nil {
		sync.Error = err.Error()
		_ = r.publishSync(ctx, model.SyncError, file, sync)
		return err
	}

	done := *sync
	done.Progress = 100
	done.BytesTransferred = int64(len(content))
	done.VersionID = version.VersionID
	done.ReplicaFileID = replica.FileID
	return r.publishSync(ctx, model.SyncCompleted, file, &done)
}

// writeReplica records the peer's copy: a replica file record plus a
// version in the replica's own chain.
func (r *Replicator) writeReplica(ctx context.Context, file *model.FileMetadata, peer *model.Node, content []byte) (*model.FileMetadata, error) {
	now := time.Now()
	replica := &model.FileMetadata{
		FileID:      model.ReplicaFileID(file.FileID, peer.NodeID),
		Name:        file.Name,
		Path:        "/" + peer.NodeID + "/replicas/" + file.Name,
		Size:        file.Size,
		ContentHash: file.ContentHash,
		CreatedAt:   now,
		ModifiedAt:  now,
		OwnerNode:   peer.NodeID,
		Version:     file.Version,
		VectorClock: file.VectorClock.Copy(),
		ContentType: file.ContentType,
	}
	if err := r.db.SaveFile(ctx, replica); err != nil {
		return nil, err
	}
	if _, err := r.versions.CreateVersion(model.FileVersion{
		FileID:      replica.FileID,
		CreatedBy:   peer.NodeID,
		CreatedAt:   now,
		VectorClock: file.VectorClock.Copy(),
	}, content); err != nil {
		return nil, err
	}
	return replica, nil
}

func (r *Replicator) publishSync(ctx context.Context, kind model.EventKind, file *model.FileMetadata, sync *model.SyncData) error {
	data, err := model.EncodeEventData(sync)
	if err != nil {
		return err
	}
	return r.bus.Publish(ctx, &model.Event{
		EventID:     uuid.New(),
		Kind:        kind,
		NodeID:      sync.SourceNode,
		FileID:      file.FileID,
		Timestamp:   time.Now(),
		VectorClock: r.clocks.IncrementLocal(sync.SourceNode),
		Data:        data,
	})
}
