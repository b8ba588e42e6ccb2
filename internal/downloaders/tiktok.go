package downloaders

import (
	"github.com/go-kit/log"

	"github.com/bbr/multisavex/internal/models"
)

func NewTikTokDownloader(maxFileSize int64, extractor MetadataExtractor, fetcher MediaFetcher, logger log.Logger) Downloader {
	return &ytdlpDownloader{
		platform:    models.PlatformTikTok,
		extractor:   extractor,
		fetcher:     fetcher,
		maxFileSize: maxFileSize,
		headers: map[string]string{
			"User-Agent": userAgent,
			"Referer":    "https://www.tiktok.com/",
		},
		log: log.With(logger, "platform", models.PlatformTikTok),
		args: func() []string {
			return []string{"--user-agent", userAgent}
		},
	}
}
