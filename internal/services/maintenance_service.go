package services

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/bbr/multisavex/internal/repositories"
)

const (
	recordCleanupInterval = time.Hour
	windowCleanupInterval = 30 * time.Minute
	// temp dirs older than this belong to downloads that never cleaned up
	staleTempAge = time.Hour
)

type CleanupReport struct {
	Requests  int
	Analytics int
	Windows   int
	TempDirs  int
}

type MaintenanceService struct {
	DownloadRepo       repositories.DownloadRepository
	AnalyticsRepo      repositories.AnalyticsRepository
	Limiter            RateLimiter
	RequestRetention   time.Duration
	AnalyticsRetention time.Duration
	TempDir            string
	Logger             log.Logger

	now func() time.Time
}

func NewMaintenanceService(
	downloadRepo repositories.DownloadRepository,
	analyticsRepo repositories.AnalyticsRepository,
	limiter RateLimiter,
	requestRetention, analyticsRetention time.Duration,
	tempDir string,
	logger log.Logger,
) *MaintenanceService {
	return &MaintenanceService{
		DownloadRepo:       downloadRepo,
		AnalyticsRepo:      analyticsRepo,
		Limiter:            limiter,
		RequestRetention:   requestRetention,
		AnalyticsRetention: analyticsRetention,
		TempDir:            tempDir,
		Logger:             logger,
		now:                time.Now,
	}
}

// RunOnce performs every cleanup task and reports what was removed.
func (s *MaintenanceService) RunOnce(ctx context.Context) (CleanupReport, error) {
	report, err := s.cleanupRecords(ctx)
	if err != nil {
		return report, err
	}
	if report.Windows, err = s.Limiter.Cleanup(); err != nil {
		return report, errors.Wrap(err, "cleanup rate limits")
	}
	return report, nil
}

// Run repeats the cleanup tasks until ctx is cancelled.
func (s *MaintenanceService) Run(ctx context.Context) error {
	records := time.NewTicker(recordCleanupInterval)
	defer records.Stop()
	windows := time.NewTicker(windowCleanupInterval)
	defer windows.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-records.C:
			report, err := s.cleanupRecords(ctx)
			if err != nil {
				level.Error(s.Logger).Log("msg", "periodic cleanup failed", "err", err)
				continue
			}
			level.Info(s.Logger).Log("msg", "periodic cleanup", "requests", report.Requests, "analytics", report.Analytics, "temp_dirs", report.TempDirs)
		case <-windows.C:
			n, err := s.Limiter.Cleanup()
			if err != nil {
				level.Error(s.Logger).Log("msg", "rate limit cleanup failed", "err", err)
				continue
			}
			level.Debug(s.Logger).Log("msg", "rate limit cleanup", "windows", n)
		}
	}
}

func (s *MaintenanceService) cleanupRecords(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport
	var err error
	now := s.now()

	if s.RequestRetention > 0 {
		if report.Requests, err = s.DownloadRepo.DeleteOlderThan(ctx, now.Add(-s.RequestRetention)); err != nil {
			return report, errors.Wrap(err, "cleanup download requests")
		}
	}
	if s.AnalyticsRetention > 0 {
		if report.Analytics, err = s.AnalyticsRepo.DeleteOlderThan(ctx, now.Add(-s.AnalyticsRetention)); err != nil {
			return report, errors.Wrap(err, "cleanup analytics")
		}
	}
	report.TempDirs = s.removeStaleTemp(now)
	return report, nil
}

func (s *MaintenanceService) removeStaleTemp(now time.Time) int {
	if s.TempDir == "" {
		return 0
	}
	entries, err := os.ReadDir(s.TempDir)
	if err != nil {
		if !os.IsNotExist(err) {
			level.Warn(s.Logger).Log("msg", "read temp dir", "err", err)
		}
		return 0
	}
	removed := 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < staleTempAge {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.TempDir, e.Name())); err != nil {
			level.Warn(s.Logger).Log("msg", "remove stale temp entry", "name", e.Name(), "err", err)
			continue
		}
		removed++
	}
	return removed
}
