package downloaders

import (
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/bbr/multisavex/internal/models"
)

type InstagramConfig struct {
	Username    string
	Password    string
	SessionFile string // Netscape cookies file exported from a logged-in browser
	MaxFileSize int64
}

// NewInstagramDownloader logs in for content that needs an account. The session cookies win
// when the file exists; otherwise yt-dlp gets the username and password.
func NewInstagramDownloader(cfg InstagramConfig, extractor MetadataExtractor, fetcher MediaFetcher, logger log.Logger) Downloader {
	logger = log.With(logger, "platform", models.PlatformInstagram)
	switch {
	case cfg.Username != "" && cfg.Password != "":
		level.Info(logger).Log("msg", "instagram login configured", "username", cfg.Username, "session_file", cfg.SessionFile)
	case cfg.Username != "":
		level.Warn(logger).Log("msg", "INSTAGRAM_USERNAME is set without INSTAGRAM_PASSWORD, only the session file is used", "username", cfg.Username)
	}

	return &ytdlpDownloader{
		platform:    models.PlatformInstagram,
		extractor:   extractor,
		fetcher:     fetcher,
		maxFileSize: cfg.MaxFileSize,
		headers:     map[string]string{"User-Agent": userAgent},
		log:         logger,
		args:        cfg.authArgs,
	}
}

func (cfg InstagramConfig) authArgs() []string {
	if cfg.SessionFile != "" {
		if _, err := os.Stat(cfg.SessionFile); err == nil {
			return []string{"--cookies", cfg.SessionFile}
		}
	}
	if cfg.Username != "" && cfg.Password != "" {
		return []string{"--username", cfg.Username, "--password", cfg.Password}
	}
	return nil
}
