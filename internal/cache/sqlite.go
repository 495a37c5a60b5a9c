package cache

import (
	"context"

	"github.com/openscribe/openscribe/internal/persistence"
)

// SQLite adapts the persistence store's cache table to the Cache interface,
// so cached results survive process restarts.
type SQLite struct {
	store *persistence.SQLiteStore
}

func NewSQLite(store *persistence.SQLiteStore) *SQLite {
	return &SQLite{store: store}
}

func (s *SQLite) Lookup(ctx context.Context, fingerprint string) (*persistence.Transcription, bool, error) {
	return s.store.GetCachedTranscription(ctx, fingerprint)
}

func (s *SQLite) Store(ctx context.Context, fingerprint string, tr *persistence.Transcription) error {
	return s.store.PutCachedTranscription(ctx, fingerprint, tr)
}
