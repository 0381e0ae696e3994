// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package vclock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegister(t *testing.T) {
	m := NewManager()

	c1 := m.Register("n1")
	assert.Equal(t, int64(1), c1.Get("n1"))

	c2 := m.Register("n2")
	assert.Equal(t, int64(1), c2.Get("n2"))
	assert.Equal(t, int64(0), c2.Get("n1"))

	// earlier clocks gain a zero entry for the newcomer
	c1 = m.Clock("n1")
	_, ok := c1.Clocks["n2"]
	assert.True(t, ok)
	assert.Equal(t, int64(0), c1.Get("n2"))

	// re-registering is a no-op
	again := m.Register("n1")
	assert.Equal(t, c1.Clocks, again.Clocks)
}

func TestIncrementLocal(t *testing.T) {
	m := NewManager()
	m.Register("n1")

	c := m.IncrementLocal("n1")
	assert.Equal(t, int64(2), c.Get("n1"))

	// unknown node registers instead of incrementing
	c = m.IncrementLocal("n9")
	assert.Equal(t, int64(1), c.Get("n9"))
}

func TestMergeOnReceive(t *testing.T) {
	m := NewManager()
	m.Register("n1")
	m.Register("n2")

	m.IncrementLocal("n1")
	m.IncrementLocal("n1")
	sender := m.Clock("n1")

	got := m.MergeOnReceive("n2", sender)
	assert.Equal(t, int64(3), got.Get("n1"))
	assert.Equal(t, int64(2), got.Get("n2"))

	// receipt made n2 causally after n1's send
	assert.Equal(t, After, Compare(got, sender))
}

func TestRestore(t *testing.T) {
	m := NewManager()

	persisted := clockOf(map[string]int64{"n1": 5, "n2": 2})
	got := m.Restore("n1", persisted)

	// no increment on restore
	assert.Equal(t, int64(5), got.Get("n1"))
	assert.Equal(t, int64(2), got.Get("n2"))
	assert.Equal(t, int64(6), m.IncrementLocal("n1").Get("n1"))
}

func TestUnregister(t *testing.T) {
	m := NewManager()
	m.Register("n1")
	m.Register("n2")
	m.Unregister("n2")

	assert.False(t, m.Known("n2"))
	// survivors keep their entry for the departed node
	assert.Contains(t, m.Clock("n1").Clocks, "n2")
}

func TestManagerConcurrency(t *testing.T) {
	m := NewManager()
	m.Register("n1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementLocal("n1")
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(51), m.Clock("n1").Get("n1"))
}
