// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package vclock

import (
	"fmt"
	"sort"
	"strings"
)

// Relation is the causal relationship between two clocks.
type Relation int

const (
	Equal Relation = iota
	Before
	After
	Concurrent
)

func (r Relation) String() string {
	switch r {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	default:
		return "concurrent"
	}
}

// Clock is a vector clock. Keys are node ids, values are logical times.
// A missing key reads as zero, so clocks from independent observers are
// comparable without sharing a key set.
type Clock struct {
	Clocks map[string]int64 `json:"clocks"`
}

// New create an empty clock.
func New() Clock {
	return Clock{Clocks: make(map[string]int64)}
}

// Copy returns a deep copy.
func (c Clock) Copy() Clock {
	cp := make(map[string]int64, len(c.Clocks))
	for k, v := range c.Clocks {
		cp[k] = v
	}
	return Clock{Clocks: cp}
}

// Get returns the value for nodeID, zero if absent.
func (c Clock) Get(nodeID string) int64 {
	return c.Clocks[nodeID]
}

// Increment bumps the entry for nodeID by one.
func (c Clock) Increment(nodeID string) {
	if c.Clocks == nil {
		return
	}
	c.Clocks[nodeID]++
}

// Merge folds other into c, taking the elementwise max.
func (c Clock) Merge(other Clock) {
	for k, v := range other.Clocks {
		if v > c.Clocks[k] {
			c.Clocks[k] = v
		}
	}
}

// Compare determines the causal relation of a to b.
// Defined elementwise over the union of key sets.
func Compare(a, b Clock) Relation {
	var aGt, bGt bool
	for k, av := range a.Clocks {
		bv := b.Clocks[k]
		if av > bv {
			aGt = true
		} else if bv > av {
			bGt = true
		}
	}
	for k, bv := range b.Clocks {
		if _, ok := a.Clocks[k]; ok {
			continue
		}
		if bv > 0 {
			bGt = true
		}
	}
	switch {
	case aGt && !bGt:
		return After
	case bGt && !aGt:
		return Before
	case !aGt && !bGt:
		return Equal
	default:
		return Concurrent
	}
}

// Dominates reports whether every component of c is >= the matching
// component of other.
func (c Clock) Dominates(other Clock) bool {
	for k, v := range other.Clocks {
		if c.Clocks[k] < v {
			return false
		}
	}
	return true
}

func (c Clock) String() string {
	keys := make([]string, 0, len(c.Clocks))
	for k := range c.Clocks {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	items := make([]string, 0, len(keys))
	for _, k := range keys {
		items = append(items, fmt.Sprintf("%s:%d", k, c.Clocks[k]))
	}
	return "[" + strings.Join(items, ", ") + "]"
}
