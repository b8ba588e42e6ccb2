package downloaders

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbr/multisavex/internal/apperrors"
	"github.com/bbr/multisavex/internal/models"
)

type stubRunner struct {
	out  []byte
	err  error
	args []string
}

func (r *stubRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	r.args = args
	return r.out, r.err
}

type stubFetcher struct {
	sizes   map[string]int64
	headers []map[string]string
}

func (f *stubFetcher) Fetch(_ context.Context, url, dst string, headers map[string]string, maxSize int64) (models.MediaFile, error) {
	f.headers = append(f.headers, headers)
	size := f.sizes[url]
	if maxSize > 0 && size > maxSize {
		return models.MediaFile{}, &apperrors.FileSizeError{Size: size, Max: maxSize}
	}
	if err := os.WriteFile(dst, make([]byte, size), 0o600); err != nil {
		return models.MediaFile{}, err
	}
	return models.MediaFile{Path: dst, Size: size, Kind: models.KindFromPath(dst)}, nil
}

func TestTikTokDownloadSingleVideo(t *testing.T) {
	runner := &stubRunner{out: []byte(`{"id":"123","url":"https://cdn/v.mp4","ext":"mp4","filesize":10,"http_headers":{"Cookie":"x"}}`)}
	fetcher := &stubFetcher{sizes: map[string]int64{"https://cdn/v.mp4": 10}}
	d := NewTikTokDownloader(100, &Extractor{Path: "yt-dlp", Runner: runner}, fetcher, log.NewNopLogger())

	dir := t.TempDir()
	files, err := d.Download(context.Background(), "https://tiktok.com/@a/video/123", dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(dir, "tiktok_123_1.mp4"), files[0].Path)
	assert.Equal(t, models.KindVideo, files[0].Kind)

	assert.Contains(t, runner.args, "-J")
	assert.Contains(t, runner.args, "--user-agent")
	assert.Equal(t, "x", fetcher.headers[0]["Cookie"])
	assert.Equal(t, "https://www.tiktok.com/", fetcher.headers[0]["Referer"])
}

func TestCarouselSkipsOversizeItems(t *testing.T) {
	runner := &stubRunner{out: []byte(`{"id":"p","entries":[
		{"id":"a","url":"https://cdn/a.jpg","ext":"jpg","filesize":500},
		{"id":"b","url":"https://cdn/b.jpg","ext":"jpg"},
		{"id":"c","url":"https://cdn/c.mp4","ext":"mp4"}
	]}`)}
	fetcher := &stubFetcher{sizes: map[string]int64{"https://cdn/b.jpg": 5, "https://cdn/c.mp4": 300}}
	d := NewInstagramDownloader(InstagramConfig{MaxFileSize: 100}, &Extractor{Runner: runner}, fetcher, log.NewNopLogger())

	files, err := d.Download(context.Background(), "https://instagram.com/p/p", t.TempDir())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, models.KindImage, files[0].Kind)
	assert.Len(t, fetcher.headers, 2, "known oversize item is never fetched")
}

func TestAllItemsOversize(t *testing.T) {
	runner := &stubRunner{out: []byte(`{"id":"v","url":"https://cdn/v.mp4","ext":"mp4","filesize":1000}`)}
	d := NewTikTokDownloader(100, &Extractor{Runner: runner}, &stubFetcher{}, log.NewNopLogger())

	_, err := d.Download(context.Background(), "https://tiktok.com/@a/video/1", t.TempDir())
	assert.ErrorIs(t, err, apperrors.ErrFileTooLarge)
}

func TestPrivateContentError(t *testing.T) {
	runner := &stubRunner{err: errors.New("ERROR: [Instagram] abc: This content is private")}
	d := NewInstagramDownloader(InstagramConfig{}, &Extractor{Runner: runner}, &stubFetcher{}, log.NewNopLogger())

	_, err := d.Download(context.Background(), "https://instagram.com/p/abc", t.TempDir())
	assert.ErrorIs(t, err, apperrors.ErrDownloadFailed)
	assert.ErrorIs(t, err, apperrors.ErrPrivateContent)
}

func TestInstagramUsesCookiesWhenPresent(t *testing.T) {
	cookies := filepath.Join(t.TempDir(), "ig.cookies")
	require.NoError(t, os.WriteFile(cookies, []byte("# Netscape HTTP Cookie File"), 0o600))

	runner := &stubRunner{out: []byte(`{"id":"r","url":"https://cdn/r.mp4","ext":"mp4"}`)}
	d := NewInstagramDownloader(InstagramConfig{SessionFile: cookies}, &Extractor{Runner: runner},
		&stubFetcher{sizes: map[string]int64{}}, log.NewNopLogger())

	_, err := d.Download(context.Background(), "https://instagram.com/reel/r", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, runner.args, "--cookies")
	assert.Contains(t, runner.args, cookies)
}

func TestInstagramLoginArgs(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent.cookies")
	tests := []struct {
		name string
		cfg  InstagramConfig
		want []string
	}{
		{"anonymous", InstagramConfig{SessionFile: missing}, nil},
		{"username only", InstagramConfig{Username: "bob", SessionFile: missing}, nil},
		{"credentials", InstagramConfig{Username: "bob", Password: "s3cret", SessionFile: missing},
			[]string{"--username", "bob", "--password", "s3cret"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.authArgs())
		})
	}

	cookies := filepath.Join(t.TempDir(), "ig.cookies")
	require.NoError(t, os.WriteFile(cookies, nil, 0o600))
	runner := &stubRunner{out: []byte(`{"id":"r","url":"https://cdn/r.mp4","ext":"mp4"}`)}
	d := NewInstagramDownloader(InstagramConfig{Username: "bob", Password: "s3cret", SessionFile: cookies},
		&Extractor{Runner: runner}, &stubFetcher{sizes: map[string]int64{}}, log.NewNopLogger())

	_, err := d.Download(context.Background(), "https://instagram.com/reel/r", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, runner.args, "--cookies")
	assert.NotContains(t, runner.args, "--password", "session cookies take precedence")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewTikTokDownloader(0, &Extractor{}, &stubFetcher{}, log.NewNopLogger()))

	_, ok := r.Get(models.PlatformTikTok)
	assert.True(t, ok)
	_, ok = r.Get(models.PlatformInstagram)
	assert.False(t, ok)
}
