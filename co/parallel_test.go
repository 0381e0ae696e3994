// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package co

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParallel(t *testing.T) {
	n := 50
	var done int64

	Parallel(func(enqueue Enqueue) {
		for i := 0; i < n; i++ {
			enqueue(func() {
				atomic.AddInt64(&done, 1)
			})
		}
	})

	assert.Equal(t, int64(n), done)
}
