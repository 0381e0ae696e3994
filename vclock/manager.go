// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package vclock

import (
	"sync"
)

// Manager owns the per-node clocks of the whole fleet. All mutations go
// through it, readers get copies.
type Manager struct {
	mu     sync.RWMutex
	clocks map[string]Clock
}

// NewManager create a clock manager.
func NewManager() *Manager {
	return &Manager{
		clocks: make(map[string]Clock),
	}
}

// caller must hold mu.
func (m *Manager) registerLocked(nodeID string) Clock {
	if c, ok := m.clocks[nodeID]; ok {
		return c
	}
	c := New()
	for known := range m.clocks {
		c.Clocks[known] = 0
	}
	c.Clocks[nodeID] = 1
	m.clocks[nodeID] = c

	for known, kc := range m.clocks {
		if known != nodeID {
			kc.Clocks[nodeID] = 0
		}
	}
	return c
}

// Register adds nodeID to the known set and initializes its clock to
// {nodeID: 1, others: 0}, extending every other clock with a zero entry.
// Registering a known node is a no-op returning the existing clock.
func (m *Manager) Register(nodeID string) Clock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registerLocked(nodeID).Copy()
}

// Unregister forgets the node's own clock. Entries for the node in other
// clocks are kept; logical time never runs backwards.
func (m *Manager) Unregister(nodeID string) {
	m.mu.Lock()
	delete(m.clocks, nodeID)
	m.mu.Unlock()
}

// IncrementLocal bumps the node's own entry for a locally originated
// event. An unknown node is registered instead, and its fresh clock
// (own entry already 1) is returned as-is.
func (m *Manager) IncrementLocal(nodeID string) Clock {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.clocks[nodeID]
	if !ok {
		return m.registerLocked(nodeID).Copy()
	}
	c.Increment(nodeID)
	return c.Copy()
}

// Restore folds a persisted clock into the node's entry without
// advancing logical time. Used when rebuilding state from storage.
func (m *Manager) Restore(nodeID string, persisted Clock) Clock {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.registerLocked(nodeID)
	c.Merge(persisted)
	return c.Copy()
}

// MergeOnReceive merges senderClock into the receiver's clock
// (elementwise max) and then increments the receiver's own entry.
func (m *Manager) MergeOnReceive(receiverID string, senderClock Clock) Clock {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.registerLocked(receiverID)
	c.Merge(senderClock)
	c.Increment(receiverID)
	return c.Copy()
}

// Clock returns a copy of the node's clock, or an empty clock if the
// node is unknown.
func (m *Manager) Clock(nodeID string) Clock {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.clocks[nodeID]; ok {
		return c.Copy()
	}
	return New()
}

// Known reports whether the node has been registered.
func (m *Manager) Known(nodeID string) bool {
	m.mu.RLock()
	_, ok := m.clocks[nodeID]
	m.mu.RUnlock()
	return ok
}

// Snapshot returns copies of all clocks, keyed by node id.
func (m *Manager) Snapshot() map[string]Clock {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := make(map[string]Clock, len(m.clocks))
	for id, c := range m.clocks {
		snap[id] = c.Copy()
	}
	return snap
}
