// Package archive stores raw crawled artifacts and hands back stable URIs.
package archive

import (
	"context"
	"fmt"
	"sync"
)

// Memory keeps archived artifacts in process memory. Intended for tests and
// single-run development crawls.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an in-memory archive.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// Put stores a copy of data under path and returns a memory:// URI.
func (m *Memory) Put(_ context.Context, path string, _ string, data []byte) (string, error) {
	if path == "" {
		return "", fmt.Errorf("archive path is required")
	}
	m.mu.Lock()
	m.data[path] = append([]byte(nil), data...)
	m.mu.Unlock()
	return fmt.Sprintf("memory://%s", path), nil
}

// Get returns the stored artifact, if any.
func (m *Memory) Get(path string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[path]
	return data, ok
}

// Len reports how many artifacts are stored.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
