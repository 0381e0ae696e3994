// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package model

import (
	"sort"

	"github.com/syncfleet/syncfleet/vclock"
)

// SortCausal orders events so that no event precedes one it causally
// depends on. Concurrent events tie-break on wall-clock timestamp, then
// event id, which keeps the order deterministic across runs.
func SortCausal(events []*Event) {
	sort.SliceStable(events, func(i, j int) bool {
		switch vclock.Compare(events[i].VectorClock, events[j].VectorClock) {
		case vclock.Before:
			return true
		case vclock.After:
			return false
		}
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].EventID < events[j].EventID
	})
}

// ConcurrentPair is a pair of modifications of the same file whose
// clocks are incomparable.
type ConcurrentPair struct {
	A *Event
	B *Event
}

// ConcurrentModifications scans content-changing events of a single
// file and returns every concurrent pair. A file's creation counts: two
// nodes uploading the same fresh path concurrently is a conflict like
// any other. Events for other files or of other kinds are ignored.
func ConcurrentModifications(events []*Event, fileID string) []ConcurrentPair {
	mods := make([]*Event, 0, len(events))
	for _, ev := range events {
		if (ev.Kind == FileModified || ev.Kind == FileCreated) && ev.FileID == fileID {
			mods = append(mods, ev)
		}
	}
	var pairs []ConcurrentPair
	for i := 0; i < len(mods); i++ {
		for j := i + 1; j < len(mods); j++ {
			if vclock.Compare(mods[i].VectorClock, mods[j].VectorClock) == vclock.Concurrent {
				pairs = append(pairs, ConcurrentPair{A: mods[i], B: mods[j]})
			}
		}
	}
	return pairs
}
