package repository

import (
	"context"
	"time"

	"github.com/splax/previewd/internal/domain"
)

// PreviewRepository persists summaries of successful verifications.
type PreviewRepository interface {
	InsertPreviewRecord(ctx context.Context, rec *domain.PreviewRecord) error
	GetPreviewRecord(ctx context.Context, id string) (*domain.PreviewRecord, error)
	// ListActivePreviews returns the user's unexpired previews, newest first.
	ListActivePreviews(ctx context.Context, userID string, now time.Time) ([]domain.PreviewRecord, error)
	// ExpireOlderThan marks active previews whose expiry is at or before ts
	// as expired and returns them.
	ExpireOlderThan(ctx context.Context, ts time.Time) ([]domain.PreviewRecord, error)
}
