// Package memory provides an in-process preview store for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/splax/previewd/internal/domain"
	"github.com/splax/previewd/internal/repository"
)

// Repository keeps preview records in memory.
type Repository struct {
	mu      sync.RWMutex
	records map[string]domain.PreviewRecord
}

// New returns an empty Repository.
func New() *Repository {
	return &Repository{records: make(map[string]domain.PreviewRecord)}
}

var _ repository.PreviewRepository = (*Repository)(nil)

// InsertPreviewRecord stores a copy of rec.
func (r *Repository) InsertPreviewRecord(ctx context.Context, rec *domain.PreviewRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := *rec
	stored.Files = rec.Files.Clone()
	if stored.Status == "" {
		stored.Status = domain.PreviewActive
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[stored.ID] = stored
	return nil
}

// GetPreviewRecord returns the record with id.
func (r *Repository) GetPreviewRecord(_ context.Context, id string) (*domain.PreviewRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	rec.Files = rec.Files.Clone()
	return &rec, nil
}

// ListActivePreviews returns the user's unexpired previews, newest first.
func (r *Repository) ListActivePreviews(_ context.Context, userID string, now time.Time) ([]domain.PreviewRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PreviewRecord, 0)
	for _, rec := range r.records {
		if rec.UserID != userID || rec.Status != domain.PreviewActive || !rec.ExpiresAt.After(now) {
			continue
		}
		rec.Files = rec.Files.Clone()
		out = append(out, rec)
	}
	sortNewestFirst(out)
	return out, nil
}

// ExpireOlderThan marks records expiring at or before ts as expired.
func (r *Repository) ExpireOlderThan(_ context.Context, ts time.Time) ([]domain.PreviewRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PreviewRecord, 0)
	for id, rec := range r.records {
		if rec.Status != domain.PreviewActive || rec.ExpiresAt.After(ts) {
			continue
		}
		rec.Status = domain.PreviewExpired
		r.records[id] = rec
		rec.Files = rec.Files.Clone()
		out = append(out, rec)
	}
	sortNewestFirst(out)
	return out, nil
}

func sortNewestFirst(records []domain.PreviewRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID > records[j].ID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}
