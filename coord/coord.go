// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package coord is the coordinator core. It owns the authoritative
// state: the node registry, file metadata, version chains and vector
// clocks, and it narrates every mutation on the event bus.
package coord

import (
	"context"
	"time"

	"github.com/inconshreveable/log15"
	"github.com/pborman/uuid"
	"github.com/pkg/errors"

	"github.com/syncfleet/syncfleet/bus"
	"github.com/syncfleet/syncfleet/co"
	"github.com/syncfleet/syncfleet/delta"
	"github.com/syncfleet/syncfleet/health"
	"github.com/syncfleet/syncfleet/metrics"
	"github.com/syncfleet/syncfleet/model"
	"github.com/syncfleet/syncfleet/replicator"
	"github.com/syncfleet/syncfleet/syncdb"
	"github.com/syncfleet/syncfleet/vclock"
	"github.com/syncfleet/syncfleet/versiondb"
)

var log = log15.New("pkg", "coord")

var (
	metricNodesRegistered = metrics.LazyLoadCounter("coord_nodes_registered_count")
	metricFilesUploaded   = metrics.LazyLoadCounter("coord_files_uploaded_count")
	metricBandwidthSaved  = metrics.LazyLoadCounter("coord_bandwidth_saved_bytes")
	metricConflicts       = metrics.LazyLoadCounterVec("coord_conflicts_count", []string{"state"})
)

// Options tune a Coordinator.
type Options struct {
	// ReplicationDelay spaces replication progress events.
	ReplicationDelay time.Duration
	// ChunkSize overrides the delta chunk size.
	ChunkSize int
}

// Coordinator ties the stores, the delta engine, the clocks and the
// bus together behind one API.
type Coordinator struct {
	db       *syncdb.SyncDB
	versions *versiondb.Store
	engine   *delta.Engine
	bus      *bus.Bus
	clocks   *vclock.Manager
	rep      *replicator.Replicator
	flocks   *fileLocks
	stats    *deltaStats
	health   *health.Health

	// replication outlives the request that triggered it
	ctx    context.Context
	cancel context.CancelFunc
}

// New create a coordinator over the given stores. Registered nodes are
// reloaded from the db so clocks survive restarts.
func New(db *syncdb.SyncDB, versions *versiondb.Store, b *bus.Bus, opts Options) (*Coordinator, error) {
	engine, err := delta.NewEngine(delta.Options{ChunkSize: opts.ChunkSize})
	if err != nil {
		return nil, err
	}
	clocks := vclock.NewManager()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		db:       db,
		versions: versions,
		engine:   engine,
		bus:      b,
		clocks:   clocks,
		flocks:   newFileLocks(),
		stats:    newDeltaStats(),
		health:   &health.Health{},
		ctx:      ctx,
		cancel:   cancel,
	}
	c.rep = replicator.New(db, versions, b, clocks, replicator.Options{
		ProgressDelay: opts.ReplicationDelay,
	})
	b.OnPublish(func(ev *model.Event) {
		c.health.NewEvent(ev.EventID, ev.Timestamp)
	})

	nodes, err := db.Nodes(context.Background())
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		clocks.Restore(n.NodeID, n.VectorClock)
	}
	if len(nodes) > 0 {
		log.Info("restored node registry", "nodes", len(nodes))
	}
	return c, nil
}

// Shutdown waits for in-flight replications and detaches subscribers.
func (c *Coordinator) Shutdown() {
	c.rep.Wait()
	c.cancel()
	c.bus.Close()
}

// WaitReplication blocks until all in-flight replications finish.
func (c *Coordinator) WaitReplication() {
	c.rep.Wait()
}

// Bus exposes the event bus for subscription surfaces.
func (c *Coordinator) Bus() *bus.Bus { return c.bus }

// Health probes storage and reports liveness.
func (c *Coordinator) Health(ctx context.Context) *health.Status {
	_, err := c.db.Statistics(ctx)
	c.health.StorageStatus(err == nil)
	return c.health.Status()
}

//// node registry

// RegisterRequest is the payload for node registration.
type RegisterRequest struct {
	NodeID       string   `json:"node_id"`
	Name         string   `json:"name"`
	Address      string   `json:"address"`
	Port         int      `json:"port"`
	Capabilities []string `json:"capabilities"`
	WatchDirs    []string `json:"watch_directories"`
}

// RegisterNode adds a node to the fleet (or refreshes a known one) and
// announces it. The node starts online with a fresh vector clock.
func (c *Coordinator) RegisterNode(ctx context.Context, req *RegisterRequest) (*model.Node, error) {
	if req.Name == "" {
		return nil, errors.WithMessage(model.ErrBadRequest, "node name required")
	}
	if req.NodeID == "" {
		req.NodeID = uuid.New()
	}

	node := &model.Node{
		NodeID:       req.NodeID,
		Name:         req.Name,
		Address:      req.Address,
		Port:         req.Port,
		Status:       model.NodeOnline,
		LastSeen:     time.Now(),
		Capabilities: req.Capabilities,
		WatchDirs:    req.WatchDirs,
		VectorClock:  c.clocks.Register(req.NodeID),
	}
	if err := c.db.UpsertNode(ctx, node); err != nil {
		return nil, err
	}

	data, err := model.EncodeEventData(&model.NodeChangeData{
		NodeName: node.Name,
		Status:   node.Status,
	})
	if err != nil {
		return nil, err
	}
	if err := c.bus.Publish(ctx, &model.Event{
		Kind:        model.NodeRegistered,
		NodeID:      node.NodeID,
		Timestamp:   time.Now(),
		VectorClock: node.VectorClock.Copy(),
		Data:        data,
	}); err != nil {
		return nil, err
	}

	metricNodesRegistered().Add(1)
	log.Info("node registered", "node", node.NodeID, "name", node.Name)
	return node, nil
}

// Node retrieves one node.
func (c *Coordinator) Node(ctx context.Context, nodeID string) (*model.Node, error) {
	return c.db.Node(ctx, nodeID)
}

// Nodes lists the fleet.
func (c *Coordinator) Nodes(ctx context.Context) ([]*model.Node, error) {
	return c.db.Nodes(ctx)
}

// Heartbeat refreshes a node's liveness and brings it back online.
func (c *Coordinator) Heartbeat(ctx context.Context, nodeID string) error {
	node, err := c.db.Node(ctx, nodeID)
	if err != nil {
		return err
	}
	if node.Status != model.NodeOnline {
		return c.SetNodeStatus(ctx, nodeID, model.NodeOnline)
	}
	return c.db.UpdateNodeStatus(ctx, nodeID, model.NodeOnline, time.Now())
}

// SetNodeStatus flips a node's status and announces the change.
func (c *Coordinator) SetNodeStatus(ctx context.Context, nodeID string, status model.NodeStatus) error {
	node, err := c.db.Node(ctx, nodeID)
	if err != nil {
		return err
	}
	if node.Status == status {
		return nil
	}
	if err := c.db.UpdateNodeStatus(ctx, nodeID, status, time.Now()); err != nil {
		return err
	}

	data, err := model.EncodeEventData(&model.NodeChangeData{
		NodeName:   node.Name,
		Status:     status,
		PrevStatus: node.Status,
	})
	if err != nil {
		return err
	}
	return c.bus.Publish(ctx, &model.Event{
		Kind:        model.NodeStatusChanged,
		NodeID:      nodeID,
		Timestamp:   time.Now(),
		VectorClock: c.clocks.IncrementLocal(nodeID),
		Data:        data,
	})
}

// RemoveNode drops a node, its files and their version chains, then
// announces the removal. The node's entries in surviving clocks stay.
func (c *Coordinator) RemoveNode(ctx context.Context, nodeID string) error {
	node, err := c.db.Node(ctx, nodeID)
	if err != nil {
		return err
	}

	removedFiles, err := c.db.RemoveNode(ctx, nodeID)
	if err != nil {
		return err
	}
	co.Parallel(func(enqueue co.Enqueue) {
		for _, fileID := range removedFiles {
			enqueue(func() {
				if err := c.versions.DropFile(fileID); err != nil {
					log.Warn("dropping version chain failed", "file", fileID, "err", err)
				}
			})
		}
	})
	c.clocks.Unregister(nodeID)

	data, err := model.EncodeEventData(&model.NodeChangeData{
		NodeName:     node.Name,
		FilesRemoved: len(removedFiles),
	})
	if err != nil {
		return err
	}
	if err := c.bus.Publish(ctx, &model.Event{
		Kind:        model.NodeRemoved,
		NodeID:      nodeID,
		Timestamp:   time.Now(),
		VectorClock: node.VectorClock.Copy(),
		Data:        data,
	}); err != nil {
		return err
	}
	log.Info("node removed", "node", nodeID, "files", len(removedFiles))
	return nil
}

// onlinePeers lists online nodes other than the origin.
func (c *Coordinator) onlinePeers(ctx context.Context, origin string) ([]*model.Node, error) {
	nodes, err := c.db.OnlineNodes(ctx)
	if err != nil {
		return nil, err
	}
	peers := nodes[:0]
	for _, n := range nodes {
		if n.NodeID != origin {
			peers = append(peers, n)
		}
	}
	return peers, nil
}
