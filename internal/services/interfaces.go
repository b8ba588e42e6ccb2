package services

import (
	"context"

	"github.com/bbr/multisavex/internal/downloaders"
	"github.com/bbr/multisavex/internal/models"
	"github.com/bbr/multisavex/internal/ratelimit"
)

// RateLimiter is implemented by *ratelimit.Limiter.
type RateLimiter interface {
	Allow(userID int64, action string) (ratelimit.Decision, error)
	Info(userID int64, action string) ratelimit.Decision
	Reset(userID int64) error
	SetCustomLimit(userID int64, action string, lim ratelimit.Limit) error
	Cleanup() (int, error)
}

// DownloaderRegistry is implemented by *downloaders.Registry.
type DownloaderRegistry interface {
	Get(platform models.Platform) (downloaders.Downloader, bool)
}

// Notifier delivers a direct message to a user.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}
