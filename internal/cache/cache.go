// Package cache provides the content-addressable transcription cache. The
// key is a fingerprint of the uploaded audio bytes, not the file name or job
// id, so identical audio uploaded under different names or by different users
// still hits.
package cache

import (
	"context"
	"sync"

	"github.com/openscribe/openscribe/internal/persistence"
)

// Cache maps content fingerprints to completed transcriptions. Store is
// idempotent; re-storing a fingerprint overwrites. Entries do not expire.
type Cache interface {
	Lookup(ctx context.Context, fingerprint string) (*persistence.Transcription, bool, error)
	Store(ctx context.Context, fingerprint string, tr *persistence.Transcription) error
}

// Memory is a map-backed Cache. It is safe for concurrent use and mainly
// serves tests and single-run deployments without a database.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]persistence.Transcription
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string]persistence.Transcription)}
}

func (m *Memory) Lookup(_ context.Context, fingerprint string) (*persistence.Transcription, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[fingerprint]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	tmp := entry
	return &tmp, true, nil
}

func (m *Memory) Store(_ context.Context, fingerprint string, tr *persistence.Transcription) error {
	if tr == nil {
		return nil
	}
	m.mu.Lock()
	m.entries[fingerprint] = *tr
	m.mu.Unlock()
	return nil
}
