// Copyright (c) 2025 The SyncFleet developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package coord

import "sync"

// fileLocks hands out one mutex per file id, so writes to different
// files proceed in parallel while writes to one file serialize.
type fileLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newFileLocks() *fileLocks {
	return &fileLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *fileLocks) lock(fileID string) func() {
	l.mu.Lock()
	m, ok := l.locks[fileID]
	if !ok {
		m = new(sync.Mutex)
		l.locks[fileID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
