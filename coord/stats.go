// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package coord

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/syncfleet/syncfleet/model"
	"github.com/syncfleet/syncfleet/syncdb"
	"github.com/syncfleet/syncfleet/vclock"
)

// deltaStats aggregates delta outcomes since startup and keeps the
// most recent sample per file.
type deltaStats struct {
	mu         sync.Mutex
	recent     *lru.Cache // file id -> model.DeltaMetrics
	syncs      int64
	savedBytes int64
	sentBytes  int64
	ratioSum   float64
}

func newDeltaStats() *deltaStats {
	cache, _ := lru.New(512)
	return &deltaStats{recent: cache}
}

func (s *deltaStats) record(m model.DeltaMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent.Add(m.FileID, m)
	s.syncs++
	s.savedBytes += m.BandwidthSaved
	s.sentBytes += m.CompressedSize
	s.ratioSum += m.CompressionRatio
}

// DeltaReport is the aggregate view of delta sync effectiveness.
type DeltaReport struct {
	TotalSyncs          int64                `json:"total_syncs"`
	BandwidthSaved      int64                `json:"bandwidth_saved"`
	BandwidthUsed       int64                `json:"bandwidth_used"`
	AvgCompressionRatio float64              `json:"avg_compression_ratio"`
	RecentFiles         []model.DeltaMetrics `json:"recent_files"`
}

// DeltaMetrics reports aggregate delta effectiveness since startup.
func (c *Coordinator) DeltaMetrics() *DeltaReport {
	s := c.stats
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &DeltaReport{
		TotalSyncs:     s.syncs,
		BandwidthSaved: s.savedBytes,
		BandwidthUsed:  s.sentBytes,
	}
	if s.syncs > 0 {
		report.AvgCompressionRatio = s.ratioSum / float64(s.syncs)
	}
	for _, key := range s.recent.Keys() {
		if v, ok := s.recent.Get(key); ok {
			report.RecentFiles = append(report.RecentFiles, v.(model.DeltaMetrics))
		}
	}
	return report
}

// Statistics aggregates the durable state counters.
func (c *Coordinator) Statistics(ctx context.Context) (*syncdb.Statistics, error) {
	return c.db.Statistics(ctx)
}

// NodeTopology describes one node's place in the fleet.
type NodeTopology struct {
	NodeID    string           `json:"node_id"`
	Name      string           `json:"name"`
	Status    model.NodeStatus `json:"status"`
	LastSeen  time.Time        `json:"last_seen"`
	FileCount int              `json:"file_count"`
	Clock     vclock.Clock     `json:"vector_clock"`
}

// Topology reports every node with its live file count and clock.
func (c *Coordinator) Topology(ctx context.Context) ([]*NodeTopology, error) {
	nodes, err := c.db.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	topology := make([]*NodeTopology, 0, len(nodes))
	for _, n := range nodes {
		files, err := c.db.FilesOwnedBy(ctx, n.NodeID)
		if err != nil {
			return nil, err
		}
		topology = append(topology, &NodeTopology{
			NodeID:    n.NodeID,
			Name:      n.Name,
			Status:    n.Status,
			LastSeen:  n.LastSeen,
			FileCount: len(files),
			Clock:     c.clocks.Clock(n.NodeID),
		})
	}
	return topology, nil
}

// Events reads back the newest events.
func (c *Coordinator) Events(ctx context.Context, limit int) ([]*model.Event, error) {
	return c.bus.Events(ctx, limit)
}

// CausalEvents reads back the newest events in causal order.
func (c *Coordinator) CausalEvents(ctx context.Context, limit int) ([]*model.Event, error) {
	return c.bus.CausalEvents(ctx, limit)
}

// UnprocessedEvents lists pending events oldest first.
func (c *Coordinator) UnprocessedEvents(ctx context.Context) ([]*model.Event, error) {
	return c.db.UnprocessedEvents(ctx)
}

// MarkEventsProcessed flags events as handled.
func (c *Coordinator) MarkEventsProcessed(ctx context.Context, eventIDs []string) error {
	return c.db.MarkEventsProcessed(ctx, eventIDs)
}

// PurgeProcessedEvents drops processed events older than the cutoff.
func (c *Coordinator) PurgeProcessedEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	return c.db.PurgeProcessedEvents(ctx, olderThan)
}

// GC sweeps unreferenced content chunks out of the blob store.
func (c *Coordinator) GC() (int, error) {
	return c.versions.GC()
}
