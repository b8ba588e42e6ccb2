package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/bbr/multisavex/internal/apperrors"
	"github.com/bbr/multisavex/internal/models"
)

type PostgresDownloadRepository struct {
	DB *sql.DB
}

func NewPostgresDownloadRepository(db *sql.DB) *PostgresDownloadRepository {
	return &PostgresDownloadRepository{DB: db}
}

const downloadColumns = `id, user_id, url, platform, status, created_at, started_at, completed_at,
	error_message, error_kind, media_files, total_size, processing_time, cached`

func (r *PostgresDownloadRepository) Create(ctx context.Context, req *models.DownloadRequest) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `INSERT INTO download_requests (` + downloadColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := r.DB.ExecContext(ctx, query,
		req.ID, req.UserID, req.URL, string(req.Platform), string(req.Status), req.CreatedAt,
		nullTime(req.StartedAt), nullTime(req.CompletedAt), req.ErrorMessage, req.ErrorKind,
		pq.Array(req.MediaFiles), req.TotalSize, req.ProcessingTime, req.Cached,
	)
	return apperrors.Persistence(err, "create download request")
}

func (r *PostgresDownloadRepository) Update(ctx context.Context, req *models.DownloadRequest) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `UPDATE download_requests SET status = $2, started_at = $3, completed_at = $4,
		error_message = $5, media_files = $6, total_size = $7, processing_time = $8, cached = $9,
		error_kind = $10
		WHERE id = $1`
	res, err := r.DB.ExecContext(ctx, query,
		req.ID, string(req.Status), nullTime(req.StartedAt), nullTime(req.CompletedAt),
		req.ErrorMessage, pq.Array(req.MediaFiles), req.TotalSize, req.ProcessingTime, req.Cached,
		req.ErrorKind,
	)
	if err != nil {
		return apperrors.Persistence(err, "update download request")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *PostgresDownloadRepository) GetByID(ctx context.Context, id string) (*models.DownloadRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := r.DB.QueryRowContext(ctx, `SELECT `+downloadColumns+` FROM download_requests WHERE id = $1`, id)
	req, err := scanDownload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.Persistence(err, "get download request")
	}
	return req, nil
}

func (r *PostgresDownloadRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.DownloadRequest, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `SELECT ` + downloadColumns + ` FROM download_requests WHERE user_id = $1 ORDER BY created_at DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Persistence(err, "list download requests")
	}
	defer rows.Close()

	var out []models.DownloadRequest
	for rows.Next() {
		req, err := scanDownload(rows)
		if err != nil {
			return nil, apperrors.Persistence(err, "scan download request")
		}
		out = append(out, *req)
	}
	return out, apperrors.Persistence(rows.Err(), "list download requests")
}

func (r *PostgresDownloadRepository) CountByStatus(ctx context.Context) (map[models.DownloadStatus]int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM download_requests GROUP BY status`)
	if err != nil {
		return nil, apperrors.Persistence(err, "count download requests")
	}
	defer rows.Close()

	counts := make(map[models.DownloadStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperrors.Persistence(err, "scan status count")
		}
		counts[models.DownloadStatus(status)] = n
	}
	return counts, apperrors.Persistence(rows.Err(), "count download requests")
}

func (r *PostgresDownloadRepository) CountFailures(ctx context.Context, since time.Time) (map[string]int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		SELECT error_kind, COUNT(*)
		FROM download_requests
		WHERE status = 'failed'
		  AND created_at >= $1
		GROUP BY error_kind
	`
	rows, err := r.DB.QueryContext(ctx, query, since)
	if err != nil {
		return nil, apperrors.Persistence(err, "count failed requests")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, apperrors.Persistence(err, "scan failure count")
		}
		counts[kind] += n
	}
	return counts, apperrors.Persistence(rows.Err(), "count failed requests")
}

func (r *PostgresDownloadRepository) CountSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		SELECT COUNT(*)
		FROM download_requests
		WHERE user_id = $1
		  AND status = 'succeeded'
		  AND created_at >= $2
	`
	var count int
	err := r.DB.QueryRowContext(ctx, query, userID, since).Scan(&count)
	return count, apperrors.Persistence(err, "count user downloads")
}

func (r *PostgresDownloadRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.DB.ExecContext(ctx, `DELETE FROM download_requests WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, apperrors.Persistence(err, "delete old download requests")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanDownload(row rowScanner) (*models.DownloadRequest, error) {
	req := &models.DownloadRequest{}
	var platform, status string
	var started, completed sql.NullTime
	err := row.Scan(
		&req.ID, &req.UserID, &req.URL, &platform, &status, &req.CreatedAt, &started, &completed,
		&req.ErrorMessage, &req.ErrorKind, pq.Array(&req.MediaFiles), &req.TotalSize, &req.ProcessingTime, &req.Cached,
	)
	if err != nil {
		return nil, err
	}
	req.Platform = models.Platform(platform)
	req.Status = models.DownloadStatus(status)
	if started.Valid {
		req.StartedAt = &started.Time
	}
	if completed.Valid {
		req.CompletedAt = &completed.Time
	}
	return req, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
