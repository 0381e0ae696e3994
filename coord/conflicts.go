// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package coord

import (
	"context"
	"time"

	"github.com/pborman/uuid"
	"github.com/pkg/errors"

	"github.com/syncfleet/syncfleet/model"
)

// Resolution strategies accepted by ResolveConflict.
const (
	StrategyLatestWins = "latest_wins"
	StrategyManual     = "manual"
	StrategyKeepBoth   = "keep_both"
)

// DetectConflicts scans a file's modification history for concurrent
// updates by different nodes and records each new pair as a conflict.
func (c *Coordinator) DetectConflicts(ctx context.Context, fileID string) error {
	events, err := c.db.EventsForFile(ctx, fileID)
	if err != nil {
		return err
	}

	for _, pair := range model.ConcurrentModifications(events, fileID) {
		if pair.A.NodeID == pair.B.NodeID {
			continue
		}
		open, err := c.db.HasOpenConflict(ctx, fileID, pair.A.NodeID, pair.B.NodeID)
		if err != nil {
			return err
		}
		if open {
			continue
		}
		if err := c.recordConflict(ctx, fileID, pair); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) recordConflict(ctx context.Context, fileID string, pair model.ConcurrentPair) error {
	versionOf := func(ev *model.Event) string {
		decoded, err := model.DecodeEventData(ev)
		if err != nil {
			return ""
		}
		if data, ok := decoded.(*model.FileChangeData); ok {
			return data.VersionID
		}
		return ""
	}

	conflict := &model.Conflict{
		ConflictID: uuid.New(),
		FileID:     fileID,
		NodeA:      pair.A.NodeID,
		NodeB:      pair.B.NodeID,
		VersionA:   versionOf(pair.A),
		VersionB:   versionOf(pair.B),
		DetectedAt: time.Now(),
	}
	if err := c.db.SaveConflict(ctx, conflict); err != nil {
		return err
	}
	metricConflicts().AddWithLabel(1, map[string]string{"state": "detected"})
	log.Warn("conflict detected",
		"file", fileID, "nodeA", conflict.NodeA, "nodeB", conflict.NodeB)

	data, err := model.EncodeEventData(&model.ConflictData{
		ConflictID: conflict.ConflictID,
		NodeA:      conflict.NodeA,
		NodeB:      conflict.NodeB,
		VersionA:   conflict.VersionA,
		VersionB:   conflict.VersionB,
	})
	if err != nil {
		return err
	}
	return c.bus.Publish(ctx, &model.Event{
		Kind:        model.ConflictDetected,
		NodeID:      conflict.NodeA,
		FileID:      fileID,
		Timestamp:   time.Now(),
		VectorClock: c.clocks.IncrementLocal(conflict.NodeA),
		Data:        data,
	})
}

// Conflicts lists recorded conflicts, optionally only unresolved.
func (c *Coordinator) Conflicts(ctx context.Context, unresolvedOnly bool) ([]*model.Conflict, error) {
	return c.db.Conflicts(ctx, unresolvedOnly)
}

// ResolveConflict closes a conflict with the chosen strategy and
// winning version. Resolving twice is refused.
func (c *Coordinator) ResolveConflict(ctx context.Context, conflictID, strategy, versionID string) (*model.Conflict, error) {
	switch strategy {
	case StrategyLatestWins, StrategyManual, StrategyKeepBoth:
	default:
		return nil, errors.WithMessagef(model.ErrBadRequest, "unknown strategy %q", strategy)
	}

	conflict, err := c.db.Conflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if conflict.IsResolved {
		return nil, errors.WithMessagef(model.ErrConflict, "conflict %s already resolved", conflictID)
	}

	if strategy == StrategyLatestWins && versionID == "" {
		// the chain's current version is by definition the latest
		if cur, err := c.versions.Current(conflict.FileID); err == nil {
			versionID = cur.VersionID
		}
	}
	if strategy == StrategyManual && versionID == "" {
		return nil, errors.WithMessage(model.ErrBadRequest, "manual resolution requires a version id")
	}

	now := time.Now()
	conflict.IsResolved = true
	conflict.ResolvedAt = &now
	conflict.Strategy = strategy
	conflict.ResolvedVersionID = versionID
	if err := c.db.SaveConflict(ctx, conflict); err != nil {
		return nil, err
	}
	metricConflicts().AddWithLabel(1, map[string]string{"state": "resolved"})

	data, err := model.EncodeEventData(&model.ConflictData{
		ConflictID:        conflictID,
		Strategy:          strategy,
		ResolvedVersionID: versionID,
	})
	if err != nil {
		return nil, err
	}
	if err := c.bus.Publish(ctx, &model.Event{
		Kind:        model.ConflictResolved,
		NodeID:      conflict.NodeA,
		FileID:      conflict.FileID,
		Timestamp:   now,
		VectorClock: c.clocks.IncrementLocal(conflict.NodeA),
		Data:        data,
	}); err != nil {
		return nil, err
	}
	return conflict, nil
}
