// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package health tracks coordinator liveness for the health endpoint.
package health

import (
	"sync"
	"time"
)

type EventIngestion struct {
	LastEventID        string     `json:"last_event_id,omitempty"`
	LastEventTimestamp *time.Time `json:"last_event_timestamp,omitempty"`
}

type Status struct {
	Healthy        bool            `json:"healthy"`
	StorageReady   bool            `json:"storage_ready"`
	EventIngestion *EventIngestion `json:"event_ingestion"`
}

type Health struct {
	lock         sync.RWMutex
	lastEventID  string
	lastEventAt  time.Time
	storageReady bool
}

// NewEvent records that an event passed through the bus.
func (h *Health) NewEvent(eventID string, at time.Time) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.lastEventID = eventID
	h.lastEventAt = at
}

// StorageStatus records the outcome of the latest storage probe.
func (h *Health) StorageStatus(ready bool) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.storageReady = ready
}

func (h *Health) Status() *Status {
	h.lock.RLock()
	defer h.lock.RUnlock()

	ingestion := &EventIngestion{}
	if h.lastEventID != "" {
		at := h.lastEventAt
		ingestion.LastEventID = h.lastEventID
		ingestion.LastEventTimestamp = &at
	}

	// an idle cluster is healthy as long as storage answers
	return &Status{
		Healthy:        h.storageReady,
		StorageReady:   h.storageReady,
		EventIngestion: ingestion,
	}
}
