// Package downloaders fetches media for supported platforms.
package downloaders

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/bbr/multisavex/internal/apperrors"
	"github.com/bbr/multisavex/internal/models"
)

type Downloader interface {
	Platform() models.Platform
	// Download stores the media of url inside dir and returns the files in order.
	Download(ctx context.Context, url, dir string) ([]models.MediaFile, error)
}

// Registry dispatches by platform.
type Registry struct {
	downloaders map[models.Platform]Downloader
}

func NewRegistry(ds ...Downloader) *Registry {
	r := &Registry{downloaders: make(map[models.Platform]Downloader, len(ds))}
	for _, d := range ds {
		r.downloaders[d.Platform()] = d
	}
	return r
}

func (r *Registry) Get(platform models.Platform) (Downloader, bool) {
	d, ok := r.downloaders[platform]
	return d, ok
}

// MediaFetcher is implemented by *Fetcher.
type MediaFetcher interface {
	Fetch(ctx context.Context, url, dst string, headers map[string]string, maxSize int64) (models.MediaFile, error)
}

// MetadataExtractor is implemented by *Extractor.
type MetadataExtractor interface {
	Extract(ctx context.Context, url string, extraArgs ...string) (*MediaInfo, error)
}

// ytdlpDownloader resolves media through yt-dlp and fetches every item over HTTP.
type ytdlpDownloader struct {
	platform    models.Platform
	extractor   MetadataExtractor
	fetcher     MediaFetcher
	maxFileSize int64
	args        func() []string
	headers     map[string]string
	log         log.Logger
}

func (d *ytdlpDownloader) Platform() models.Platform {
	return d.platform
}

func (d *ytdlpDownloader) Download(ctx context.Context, url, dir string) ([]models.MediaFile, error) {
	var args []string
	if d.args != nil {
		args = d.args()
	}
	info, err := d.extractor.Extract(ctx, url, args...)
	if err != nil {
		return nil, d.wrap(url, err)
	}

	items := info.Items()
	if len(items) == 0 {
		return nil, d.wrap(url, errors.New("no media found"))
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, d.wrap(url, err)
	}

	var (
		files    []models.MediaFile
		oversize *apperrors.FileSizeError
	)
	for i, item := range items {
		if d.maxFileSize > 0 && item.Size() > d.maxFileSize {
			level.Info(d.log).Log("msg", "skipping oversize item", "platform", d.platform, "url", url, "size", item.Size())
			oversize = &apperrors.FileSizeError{Size: item.Size(), Max: d.maxFileSize}
			continue
		}

		dst := filepath.Join(dir, itemFilename(d.platform, info, item, i))
		f, err := d.fetcher.Fetch(ctx, item.URL, dst, d.mergeHeaders(item.HTTPHeaders), d.maxFileSize)
		if err != nil {
			var sizeErr *apperrors.FileSizeError
			if errors.As(err, &sizeErr) {
				oversize = sizeErr
				continue
			}
			return nil, d.wrap(url, err)
		}
		files = append(files, f)
	}

	if len(files) == 0 && oversize != nil {
		return nil, oversize
	}
	return files, nil
}

func (d *ytdlpDownloader) mergeHeaders(item map[string]string) map[string]string {
	out := make(map[string]string, len(d.headers)+len(item))
	for k, v := range d.headers {
		out[k] = v
	}
	for k, v := range item {
		out[k] = v
	}
	return out
}

func (d *ytdlpDownloader) wrap(url string, err error) error {
	return &apperrors.DownloadError{Platform: string(d.platform), URL: url, Err: err}
}

func itemFilename(platform models.Platform, parent *MediaInfo, item MediaInfo, index int) string {
	id := item.ID
	if id == "" {
		id = parent.ID
	}
	if id == "" {
		id = "media"
	}
	ext := strings.TrimPrefix(item.Ext, ".")
	if ext == "" {
		ext = "mp4"
	}
	return fmt.Sprintf("%s_%s_%d.%s", platform, sanitize(id), index+1, ext)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
