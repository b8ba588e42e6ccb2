package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/bbr/multisavex/internal/controllers"
	"github.com/bbr/multisavex/internal/datasources"
	"github.com/bbr/multisavex/internal/sentry"
	"github.com/bbr/multisavex/internal/services"
)

const pollTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the user bot, the admin bot and the health server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	if err := sentry.Init(cfg.SentryDSN, cfg.Environment, Version); err != nil {
		level.Warn(a.logger).Log("msg", "error reporting disabled", "err", err)
	}
	defer sentry.Flush()

	bot, err := datasources.NewTelegramBot(cfg.BotToken, pollTimeout, log.With(a.logger, "bot", "user"))
	if err != nil {
		return err
	}

	var cache *services.FileCache
	if cfg.EnableCache {
		cache = services.NewFileCache(cfg.CacheSize, cfg.CacheDuration)
	}

	userService := services.NewUserService(a.users, a.downloads, a.limiter, cfg.AdminIDs, cfg.DefaultLanguage, a.logger)
	downloadService := services.NewDownloadService(
		a.users, a.downloads, a.registry(), a.limiter, cache, a.analyticsService,
		services.DownloadConfig{
			TempDir:       cfg.TempDir,
			MaxFileSize:   cfg.MaxFileSize(),
			Timeout:       cfg.Timeout,
			MaxConcurrent: cfg.MaxConcurrentDownloads,
		},
		log.With(a.logger, "component", "downloads"),
	)
	teleCtrl := controllers.NewTelegramController(bot, userService, downloadService, cfg.MaxFileSizeMB, cfg.DefaultLanguage, a.logger)
	httpCtrl := controllers.NewHTTPController(cfg.WebAddr(), Version, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return teleCtrl.Run(ctx) })
	g.Go(func() error { return httpCtrl.Run(ctx) })
	g.Go(func() error { return a.maintenanceService.Run(ctx) })

	if cfg.AdminBotEnabled() {
		adminBot, err := datasources.NewTelegramBot(cfg.AdminBotToken, pollTimeout, log.With(a.logger, "bot", "admin"))
		if err != nil {
			stop()
			_ = g.Wait()
			return err
		}
		// broadcasts and ban notices reach users through the user bot
		notifier := datasources.NewTelegramNotifier(bot, cfg.BroadcastRate)
		adminService := services.NewAdminService(
			a.users, a.downloads, a.analyticsService, a.limiter, a.maintenanceService,
			notifier, cfg.DefaultLanguage, a.logger,
		)
		adminCtrl := controllers.NewAdminController(adminBot, adminService, cfg.AdminIDs, cfg.DefaultLanguage, a.logger)
		g.Go(func() error { return adminCtrl.Run(ctx) })
	} else {
		level.Info(a.logger).Log("msg", "admin bot disabled, ADMIN_BOT_TOKEN is empty or equal to BOT_TOKEN")
	}

	level.Info(a.logger).Log("msg", "multisavex started", "version", Version)
	err = g.Wait()
	level.Info(a.logger).Log("msg", "multisavex stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
