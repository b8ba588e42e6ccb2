package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/bbr/multisavex/internal/apperrors"
	"github.com/bbr/multisavex/internal/models"
)

type PostgresAnalyticsRepository struct {
	DB *sql.DB
}

func NewPostgresAnalyticsRepository(db *sql.DB) *PostgresAnalyticsRepository {
	return &PostgresAnalyticsRepository{DB: db}
}

func (r *PostgresAnalyticsRepository) Increment(ctx context.Context, rec models.AnalyticsRecord) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		INSERT INTO analytics (date, platform, user_id, succeeded, failed, bytes, processing_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (date, platform, user_id) DO UPDATE SET
			succeeded = analytics.succeeded + EXCLUDED.succeeded,
			failed = analytics.failed + EXCLUDED.failed,
			bytes = analytics.bytes + EXCLUDED.bytes,
			processing_ms = analytics.processing_ms + EXCLUDED.processing_ms
	`
	_, err := r.DB.ExecContext(ctx, query,
		rec.Date, string(rec.Platform), rec.UserID, rec.Succeeded, rec.Failed, rec.Bytes, rec.ProcessingMillis)
	return apperrors.Persistence(err, "increment analytics")
}

func (r *PostgresAnalyticsRepository) List(ctx context.Context, since time.Time) ([]models.AnalyticsRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		SELECT to_char(date, 'YYYY-MM-DD'), platform, user_id, succeeded, failed, bytes, processing_ms
		FROM analytics
		WHERE date >= $1
		ORDER BY date, platform, user_id
	`
	rows, err := r.DB.QueryContext(ctx, query, since.UTC().Format(models.DateLayout))
	if err != nil {
		return nil, apperrors.Persistence(err, "list analytics")
	}
	defer rows.Close()

	var out []models.AnalyticsRecord
	for rows.Next() {
		var rec models.AnalyticsRecord
		var platform string
		if err := rows.Scan(&rec.Date, &platform, &rec.UserID, &rec.Succeeded, &rec.Failed, &rec.Bytes, &rec.ProcessingMillis); err != nil {
			return nil, apperrors.Persistence(err, "scan analytics")
		}
		rec.Platform = models.Platform(platform)
		out = append(out, rec)
	}
	return out, apperrors.Persistence(rows.Err(), "list analytics")
}

func (r *PostgresAnalyticsRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.DB.ExecContext(ctx, `DELETE FROM analytics WHERE date < $1`, cutoff.UTC().Format(models.DateLayout))
	if err != nil {
		return 0, apperrors.Persistence(err, "delete old analytics")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
