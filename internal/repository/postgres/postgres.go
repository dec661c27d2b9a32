package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/previewd/internal/domain"
	"github.com/splax/previewd/internal/repository"
	"github.com/splax/previewd/pkg/crypto"
)

const previewColumns = `id, session_id, user_id, project_id, deployment_id, url, files, files_sealed,
	status, auto_fix_attempts, build_time_ms, created_at, expires_at`

// Repository implements repository.PreviewRepository on PostgreSQL.
type Repository struct {
	pool    *pgxpool.Pool
	sealKey string
}

// Option configures a Repository.
type Option func(*Repository)

// WithEncryptionKey seals file snapshots with AES-GCM before they are stored.
func WithEncryptionKey(key string) Option {
	return func(r *Repository) {
		r.sealKey = key
	}
}

// New constructs a Repository.
func New(pool *pgxpool.Pool, opts ...Option) *Repository {
	r := &Repository{pool: pool}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ repository.PreviewRepository = (*Repository)(nil)

// InsertPreviewRecord stores a successful verification.
func (r *Repository) InsertPreviewRecord(ctx context.Context, rec *domain.PreviewRecord) error {
	files, sealed, err := encodeFiles(rec.Files, r.sealKey)
	if err != nil {
		return err
	}
	status := rec.Status
	if status == "" {
		status = domain.PreviewActive
	}
	const query = `INSERT INTO previews (` + previewColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = r.pool.Exec(ctx, query,
		rec.ID, rec.SessionID, rec.UserID, emptyToNil(rec.ProjectID), rec.DeploymentID, rec.URL,
		files, sealed, string(status), rec.AutoFixAttempts, rec.BuildTimeMs, rec.CreatedAt, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert preview: %w", err)
	}
	return nil
}

// GetPreviewRecord fetches a preview by identifier.
func (r *Repository) GetPreviewRecord(ctx context.Context, id string) (*domain.PreviewRecord, error) {
	const query = `SELECT ` + previewColumns + ` FROM previews WHERE id = $1`
	rec, err := r.scan(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// ListActivePreviews returns unexpired previews for userID, newest first.
func (r *Repository) ListActivePreviews(ctx context.Context, userID string, now time.Time) ([]domain.PreviewRecord, error) {
	const query = `SELECT ` + previewColumns + ` FROM previews
		WHERE user_id = $1 AND status = 'active' AND expires_at > $2
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, userID, now)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

// ExpireOlderThan flips active previews that expired at or before ts and returns them.
func (r *Repository) ExpireOlderThan(ctx context.Context, ts time.Time) ([]domain.PreviewRecord, error) {
	const query = `UPDATE previews SET status = 'expired'
		WHERE status = 'active' AND expires_at <= $1
		RETURNING ` + previewColumns
	rows, err := r.pool.Query(ctx, query, ts)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *Repository) collect(rows pgx.Rows) ([]domain.PreviewRecord, error) {
	defer rows.Close()
	records := make([]domain.PreviewRecord, 0)
	for rows.Next() {
		rec, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (r *Repository) scan(row pgx.Row) (*domain.PreviewRecord, error) {
	var (
		rec       domain.PreviewRecord
		projectID *string
		files     []byte
		sealed    bool
		status    string
	)
	if err := row.Scan(&rec.ID, &rec.SessionID, &rec.UserID, &projectID, &rec.DeploymentID, &rec.URL,
		&files, &sealed, &status, &rec.AutoFixAttempts, &rec.BuildTimeMs, &rec.CreatedAt, &rec.ExpiresAt); err != nil {
		return nil, err
	}
	if projectID != nil {
		rec.ProjectID = *projectID
	}
	rec.Status = domain.PreviewStatus(status)
	set, err := decodeFiles(files, sealed, r.sealKey)
	if err != nil {
		return nil, fmt.Errorf("preview %s: %w", rec.ID, err)
	}
	rec.Files = set
	return &rec, nil
}

func encodeFiles(files domain.FileSet, key string) ([]byte, bool, error) {
	raw, err := json.Marshal(files)
	if err != nil {
		return nil, false, fmt.Errorf("encode files: %w", err)
	}
	if key == "" {
		return raw, false, nil
	}
	sealed, err := crypto.Seal(key, raw)
	if err != nil {
		return nil, false, fmt.Errorf("seal files: %w", err)
	}
	return sealed, true, nil
}

func decodeFiles(payload []byte, sealed bool, key string) (domain.FileSet, error) {
	if sealed {
		if key == "" {
			return domain.FileSet{}, errors.New("files are sealed but no encryption key is configured")
		}
		opened, err := crypto.Open(key, payload)
		if err != nil {
			return domain.FileSet{}, fmt.Errorf("open files: %w", err)
		}
		payload = opened
	}
	var set domain.FileSet
	if err := json.Unmarshal(payload, &set); err != nil {
		return domain.FileSet{}, fmt.Errorf("decode files: %w", err)
	}
	return set, nil
}

func emptyToNil(value string) any {
	if value == "" {
		return nil
	}
	return value
}
