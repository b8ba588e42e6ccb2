// Package repositories persists users, download requests and analytics.
// Two backends implement the same interfaces: JSON files under DB_DIR and PostgreSQL.
package repositories

import (
	"context"
	"time"

	"github.com/bbr/multisavex/internal/models"
)

const (
	UsersFile     = "users.json"
	DownloadsFile = "download_requests.json"
	AnalyticsFile = "analytics.json"
)

const queryTimeout = 5 * time.Second

type UserRepository interface {
	// Upsert stores profile fields. Language, counters, ban flag and created_at of an
	// existing user are kept. Returns the stored user.
	Upsert(ctx context.Context, user *models.User) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	UpdateLanguage(ctx context.Context, id int64, langCode string) error
	UpdateActivity(ctx context.Context, id int64, at time.Time) error
	IncrementDownloads(ctx context.Context, id int64) error
	SetBanned(ctx context.Context, id int64, banned bool) error
}

type DownloadRepository interface {
	Create(ctx context.Context, req *models.DownloadRequest) error
	Update(ctx context.Context, req *models.DownloadRequest) error
	GetByID(ctx context.Context, id string) (*models.DownloadRequest, error)
	// ListByUser returns the newest requests first. limit <= 0 returns all.
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.DownloadRequest, error)
	CountByStatus(ctx context.Context) (map[models.DownloadStatus]int, error)
	// CountFailures counts failed requests created at or after since, keyed by error kind.
	CountFailures(ctx context.Context, since time.Time) (map[string]int, error)
	// CountSince counts succeeded requests of userID created at or after since.
	CountSince(ctx context.Context, userID int64, since time.Time) (int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

type AnalyticsRepository interface {
	// Increment adds rec's counters to the record with the same key.
	Increment(ctx context.Context, rec models.AnalyticsRecord) error
	// List returns records dated on or after since, ordered by date.
	List(ctx context.Context, since time.Time) ([]models.AnalyticsRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
