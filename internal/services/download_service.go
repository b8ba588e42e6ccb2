package services

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/bbr/multisavex/internal/apperrors"
	"github.com/bbr/multisavex/internal/downloaders"
	"github.com/bbr/multisavex/internal/metrics"
	"github.com/bbr/multisavex/internal/models"
	"github.com/bbr/multisavex/internal/ratelimit"
	"github.com/bbr/multisavex/internal/repositories"
)

type DownloadConfig struct {
	TempDir       string
	MaxFileSize   int64
	Timeout       time.Duration
	MaxConcurrent int
}

type DownloadService struct {
	UserRepo     repositories.UserRepository
	DownloadRepo repositories.DownloadRepository
	Registry     DownloaderRegistry
	Limiter      RateLimiter
	Cache        *FileCache
	Analytics    *AnalyticsService
	Config       DownloadConfig
	Logger       log.Logger

	sem *semaphore.Weighted
	now func() time.Time
}

func NewDownloadService(
	userRepo repositories.UserRepository,
	downloadRepo repositories.DownloadRepository,
	registry DownloaderRegistry,
	limiter RateLimiter,
	cache *FileCache,
	analytics *AnalyticsService,
	cfg DownloadConfig,
	logger log.Logger,
) *DownloadService {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &DownloadService{
		UserRepo:     userRepo,
		DownloadRepo: downloadRepo,
		Registry:     registry,
		Limiter:      limiter,
		Cache:        cache,
		Analytics:    analytics,
		Config:       cfg,
		Logger:       logger,
		sem:          semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		now:          time.Now,
	}
}

// DownloadResult holds either fresh files or cached Telegram file ids.
type DownloadResult struct {
	Request *models.DownloadRequest
	Files   []models.MediaFile
	Cached  []models.CachedMedia
	// Skipped counts files dropped for exceeding the size limit.
	Skipped int

	dir string
}

// Cleanup removes the downloaded files.
func (r *DownloadResult) Cleanup() error {
	if r == nil || r.dir == "" {
		return nil
	}
	return os.RemoveAll(r.dir)
}

// ProcessDownload runs one link through classification, limits, cache and the platform downloader.
// Unsupported links return before any quota is used. onStart runs once the transfer begins,
// which never happens for cached links.
func (s *DownloadService) ProcessDownload(ctx context.Context, user *models.User, input string, onStart ...func()) (*DownloadResult, error) {
	rawURL, err := downloaders.ExtractURL(input)
	if err != nil {
		return nil, err
	}
	platform, err := downloaders.Classify(rawURL)
	if err != nil {
		return nil, err
	}
	downloader, ok := s.Registry.Get(platform)
	if !ok {
		return nil, errors.Wrapf(apperrors.ErrUnsupportedURL, "no downloader for %s", platform)
	}

	stored, err := s.UserRepo.GetByID(ctx, user.ID)
	if err != nil {
		return nil, errors.Wrap(err, "load requester")
	}
	if stored.IsBanned {
		return nil, apperrors.ErrUserBanned
	}

	if !stored.IsAdmin() {
		d, err := s.Limiter.Allow(stored.ID, ratelimit.ActionDownload)
		if err != nil {
			return nil, err
		}
		if !d.Allowed {
			metrics.RateLimitedTotal.WithLabelValues(ratelimit.ActionDownload).Inc()
			return nil, &apperrors.RateLimitError{Action: ratelimit.ActionDownload, RetryAfter: d.RetryAfter}
		}
	}

	req := models.NewDownloadRequest(stored.ID, rawURL, platform, s.now())
	if err := s.DownloadRepo.Create(ctx, req); err != nil {
		return nil, err
	}
	logger := log.With(s.Logger, "request_id", req.ID, "user_id", stored.ID, "platform", platform)

	if media, ok := s.Cache.Get(rawURL); ok {
		now := s.now()
		req.Cached = true
		req.Start(now)
		req.Succeed(now, fileIDs(media), 0)
		s.finish(ctx, logger, req)
		level.Info(logger).Log("msg", "served from cache", "files", len(media))
		return &DownloadResult{Request: req, Cached: media}, nil
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, s.fail(ctx, logger, req, "", errors.Wrap(err, "wait for download slot"))
	}
	defer s.sem.Release(1)
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	req.Start(s.now())
	if err := s.DownloadRepo.Update(ctx, req); err != nil {
		level.Warn(logger).Log("msg", "mark request processing", "err", err)
	}

	dir := filepath.Join(s.Config.TempDir, req.ID)
	dctx, cancel := context.WithTimeout(ctx, s.Config.Timeout)
	defer cancel()

	for _, fn := range onStart {
		fn()
	}
	started := s.now()
	files, err := downloader.Download(dctx, rawURL, dir)
	metrics.DownloadDuration.WithLabelValues(string(platform)).Observe(s.now().Sub(started).Seconds())
	if err != nil {
		if errors.Is(dctx.Err(), context.DeadlineExceeded) && !errors.Is(err, apperrors.ErrTimeout) {
			err = errors.Wrap(apperrors.ErrTimeout, err.Error())
		}
		return nil, s.fail(ctx, logger, req, dir, err)
	}

	kept, skipped, sizeErr := s.validateSizes(logger, files)
	if len(kept) == 0 {
		if sizeErr == nil {
			sizeErr = errors.Wrap(apperrors.ErrDownloadFailed, "no media returned")
		}
		return nil, s.fail(ctx, logger, req, dir, sizeErr)
	}

	var total int64
	names := make([]string, 0, len(kept))
	for _, f := range kept {
		total += f.Size
		names = append(names, filepath.Base(f.Path))
	}
	req.Succeed(s.now(), names, total)
	s.finish(ctx, logger, req)

	level.Info(logger).Log("msg", "download completed", "files", len(kept), "skipped", skipped, "bytes", total)
	return &DownloadResult{Request: req, Files: kept, Skipped: skipped, dir: dir}, nil
}

// RememberMedia caches the file ids Telegram assigned to the sent media of rawURL.
func (s *DownloadService) RememberMedia(rawURL string, media []models.CachedMedia) {
	s.Cache.Set(rawURL, media)
}

// validateSizes removes files above the limit from disk and from the result.
func (s *DownloadService) validateSizes(logger log.Logger, files []models.MediaFile) ([]models.MediaFile, int, error) {
	var (
		kept    []models.MediaFile
		skipped int
		sizeErr error
	)
	for _, f := range files {
		if s.Config.MaxFileSize > 0 && f.Size > s.Config.MaxFileSize {
			level.Info(logger).Log("msg", "dropping oversize file", "file", filepath.Base(f.Path), "size", f.Size)
			if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
				level.Warn(logger).Log("msg", "remove oversize file", "err", err)
			}
			skipped++
			sizeErr = &apperrors.FileSizeError{Size: f.Size, Max: s.Config.MaxFileSize}
			continue
		}
		kept = append(kept, f)
	}
	return kept, skipped, sizeErr
}

func (s *DownloadService) finish(ctx context.Context, logger log.Logger, req *models.DownloadRequest) {
	ctx = context.WithoutCancel(ctx)
	if err := s.DownloadRepo.Update(ctx, req); err != nil {
		level.Error(logger).Log("msg", "save finished request", "err", err)
	}
	if err := s.UserRepo.IncrementDownloads(ctx, req.UserID); err != nil {
		level.Error(logger).Log("msg", "increment download count", "err", err)
	}
	s.Analytics.Record(ctx, req)
	metrics.DownloadsTotal.WithLabelValues(string(req.Platform), string(req.Status)).Inc()
	metrics.DownloadBytes.WithLabelValues(string(req.Platform)).Add(float64(req.TotalSize))
}

func (s *DownloadService) fail(ctx context.Context, logger log.Logger, req *models.DownloadRequest, dir string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	req.Fail(s.now(), apperrors.Kind(cause), cause.Error())
	if err := s.DownloadRepo.Update(ctx, req); err != nil {
		level.Error(logger).Log("msg", "save failed request", "err", err)
	}
	s.Analytics.Record(ctx, req)
	metrics.DownloadsTotal.WithLabelValues(string(req.Platform), string(req.Status)).Inc()
	if dir != "" {
		os.RemoveAll(dir)
	}
	level.Warn(logger).Log("msg", "download failed", "err", cause)
	return cause
}

func fileIDs(media []models.CachedMedia) []string {
	out := make([]string, 0, len(media))
	for _, m := range media {
		out = append(out, m.FileID)
	}
	return out
}
