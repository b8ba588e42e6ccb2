package cli

import (
	"context"
	"database/sql"
	"io"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/bbr/multisavex/internal/config"
	"github.com/bbr/multisavex/internal/datasources"
	"github.com/bbr/multisavex/internal/downloaders"
	"github.com/bbr/multisavex/internal/logger"
	"github.com/bbr/multisavex/internal/ratelimit"
	"github.com/bbr/multisavex/internal/repositories"
	"github.com/bbr/multisavex/internal/services"
)

const day = 24 * time.Hour

// app holds everything the commands share: storage, limiter and services.
type app struct {
	cfg    *config.Config
	logger log.Logger

	users     repositories.UserRepository
	downloads repositories.DownloadRepository
	analytics repositories.AnalyticsRepository
	limiter   *ratelimit.Limiter

	analyticsService   *services.AnalyticsService
	maintenanceService *services.MaintenanceService

	closers []io.Closer
}

// newApp loads the configuration and opens the storage backend.
func newApp(ctx context.Context) (*app, error) {
	envFile := config.LoadEnv(envName)

	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}

	l, logCloser := logger.New(logger.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, File: cfg.LogFile})
	l = log.With(l, "env", cfg.Environment)
	level.Info(l).Log("msg", "configuration loaded", "env_file", envFile, "storage", cfg.StorageDriver)

	a := &app{cfg: cfg, logger: l, closers: []io.Closer{logCloser}}
	if err := cfg.SetupDirectories(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.limiter = ratelimit.NewLimiter(ratelimit.Config{
		Limits: map[string]ratelimit.Limit{
			ratelimit.ActionDownload: {Requests: cfg.DownloadRateLimit, Window: cfg.DownloadRatePeriod},
			ratelimit.ActionMessage:  {Requests: cfg.RateLimitRequests, Window: cfg.RateLimitPeriod},
		},
		FailClosed: cfg.RateLimitFailClosed,
	}, ratelimit.NewFileStore(a.jsonFile(ratelimit.StateFile)), log.With(l, "component", "ratelimit"))
	if err := a.limiter.Restore(); err != nil {
		level.Warn(l).Log("msg", "restore rate limits, starting empty", "err", err)
	}

	a.analyticsService = services.NewAnalyticsService(a.analytics, cfg.EnableAnalytics, l)
	a.maintenanceService = services.NewMaintenanceService(
		a.downloads, a.analytics, a.limiter,
		time.Duration(cfg.RequestRetentionDays)*day,
		time.Duration(cfg.AnalyticsRetention)*day,
		cfg.TempDir,
		log.With(l, "component", "maintenance"),
	)
	return a, nil
}

func (a *app) jsonFile(name string) *datasources.JSONFile {
	return datasources.NewJSONFile(a.cfg.DBFile(name), a.logger)
}

func (a *app) openStorage(ctx context.Context) error {
	switch a.cfg.StorageDriver {
	case config.StoragePostgres:
		db, err := datasources.NewPostgresConnection(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, db)
		if err := datasources.RunMigrations(ctx, db, a.logger); err != nil {
			return err
		}
		a.usePostgres(db)
		level.Info(a.logger).Log("msg", "database connection established")
		return nil
	default:
		return a.useJSON()
	}
}

func (a *app) usePostgres(db *sql.DB) {
	a.users = repositories.NewPostgresUserRepository(db)
	a.downloads = repositories.NewPostgresDownloadRepository(db)
	a.analytics = repositories.NewPostgresAnalyticsRepository(db)
}

func (a *app) useJSON() error {
	var err error
	if a.users, err = repositories.NewJSONUserRepository(a.jsonFile(repositories.UsersFile)); err != nil {
		return err
	}
	if a.downloads, err = repositories.NewJSONDownloadRepository(a.jsonFile(repositories.DownloadsFile)); err != nil {
		return err
	}
	if a.analytics, err = repositories.NewJSONAnalyticsRepository(a.jsonFile(repositories.AnalyticsFile)); err != nil {
		return err
	}
	return nil
}

func (a *app) registry() *downloaders.Registry {
	cfg := a.cfg
	extractor := downloaders.NewExtractor(cfg.YtdlpPath)
	fetcher := downloaders.NewFetcher(cfg.MaxRetries, cfg.Timeout, log.With(a.logger, "component", "fetcher"))
	return downloaders.NewRegistry(
		downloaders.NewInstagramDownloader(downloaders.InstagramConfig{
			Username:    cfg.InstagramUsername,
			Password:    cfg.InstagramPassword,
			SessionFile: cfg.InstagramSessionFile,
			MaxFileSize: cfg.MaxFileSize(),
		}, extractor, fetcher, a.logger),
		downloaders.NewTikTokDownloader(cfg.MaxFileSize(), extractor, fetcher, a.logger),
	)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			level.Warn(a.logger).Log("msg", "close resource", "err", err)
		}
	}
}
