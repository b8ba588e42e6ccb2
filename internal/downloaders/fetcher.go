package downloaders

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cavaliergopher/grab/v3"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"

	"github.com/bbr/multisavex/internal/apperrors"
	"github.com/bbr/multisavex/internal/models"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Fetcher downloads media bytes with grab on top of a retrying HTTP client.
type Fetcher struct {
	grabClient *grab.Client
	log        log.Logger
	progress   time.Duration
}

func NewFetcher(maxRetries int, timeout time.Duration, logger log.Logger) *Fetcher {
	rc := retryablehttp.NewClient()
	rc.RetryMax = maxRetries
	rc.HTTPClient.Timeout = timeout
	rc.Logger = leveledLogger{logger}

	c := grab.NewClient()
	c.UserAgent = userAgent
	c.HTTPClient = rc.StandardClient()

	return &Fetcher{grabClient: c, log: logger, progress: time.Second}
}

// Fetch stores url at dst. Transfers above maxSize are cancelled while running, and a file
// that finished between progress checks is removed once it is complete.
func (f *Fetcher) Fetch(ctx context.Context, url, dst string, headers map[string]string, maxSize int64) (models.MediaFile, error) {
	req, err := grab.NewRequest(dst, url)
	if err != nil {
		return models.MediaFile{}, errors.Wrap(err, "file fetcher create request")
	}
	req = req.WithContext(ctx)
	req.NoResume = true
	for k, v := range headers {
		req.HTTPRequest.Header.Set(k, v)
	}

	level.Debug(f.log).Log("msg", "start downloading file", "url", url)
	resp := f.grabClient.Do(req)

	t := time.NewTicker(f.progress)
	defer t.Stop()

Loop:
	for {
		select {
		case <-t.C:
			level.Debug(f.log).Log("msg", fmt.Sprintf("transferred %d / %d bytes (%.2f%%)",
				resp.BytesComplete(),
				resp.Size(),
				100*resp.Progress()))
			if maxSize > 0 && (resp.Size() > maxSize || resp.BytesComplete() > maxSize) {
				resp.Cancel()
				os.Remove(dst)
				return models.MediaFile{}, &apperrors.FileSizeError{Size: max(resp.Size(), resp.BytesComplete()), Max: maxSize}
			}
		case <-resp.Done:
			break Loop
		}
	}

	if err := resp.Err(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.MediaFile{}, apperrors.ErrTimeout
		}
		return models.MediaFile{}, errors.Wrap(err, "file fetcher")
	}

	info, err := os.Stat(resp.Filename)
	if err != nil {
		return models.MediaFile{}, errors.Wrap(err, "file fetcher stat")
	}
	if maxSize > 0 && info.Size() > maxSize {
		os.Remove(resp.Filename)
		return models.MediaFile{}, &apperrors.FileSizeError{Size: info.Size(), Max: maxSize}
	}
	return models.MediaFile{
		Path: resp.Filename,
		Size: info.Size(),
		Kind: models.KindFromPath(resp.Filename),
	}, nil
}

// leveledLogger routes retryablehttp logs into go-kit.
type leveledLogger struct {
	l log.Logger
}

func (g leveledLogger) Error(msg string, kv ...interface{}) {
	level.Error(g.l).Log(append([]interface{}{"msg", msg}, kv...)...)
}

func (g leveledLogger) Info(msg string, kv ...interface{}) {
	level.Debug(g.l).Log(append([]interface{}{"msg", msg}, kv...)...)
}

func (g leveledLogger) Debug(msg string, kv ...interface{}) {
	level.Debug(g.l).Log(append([]interface{}{"msg", msg}, kv...)...)
}

func (g leveledLogger) Warn(msg string, kv ...interface{}) {
	level.Warn(g.l).Log(append([]interface{}{"msg", msg}, kv...)...)
}
