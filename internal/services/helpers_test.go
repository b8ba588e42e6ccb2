package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/bbr/multisavex/internal/datasources"
	"github.com/bbr/multisavex/internal/downloaders"
	"github.com/bbr/multisavex/internal/models"
	"github.com/bbr/multisavex/internal/ratelimit"
	"github.com/bbr/multisavex/internal/repositories"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeLimiter struct {
	mu      sync.Mutex
	allow   bool
	retry   time.Duration
	calls   map[string]int
	resets  []int64
	custom  map[int64]ratelimit.Limit
	cleaned int
}

func newFakeLimiter(allow bool) *fakeLimiter {
	return &fakeLimiter{allow: allow, calls: map[string]int{}}
}

func (l *fakeLimiter) Allow(userID int64, action string) (ratelimit.Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[action]++
	return ratelimit.Decision{Allowed: l.allow, RetryAfter: l.retry, Limit: 5, Remaining: 4}, nil
}

func (l *fakeLimiter) Info(userID int64, action string) ratelimit.Decision {
	return ratelimit.Decision{Allowed: true, Limit: 5, Remaining: 5}
}

func (l *fakeLimiter) Reset(userID int64) error {
	l.resets = append(l.resets, userID)
	return nil
}

func (l *fakeLimiter) SetCustomLimit(userID int64, action string, lim ratelimit.Limit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.custom == nil {
		l.custom = map[int64]ratelimit.Limit{}
	}
	l.custom[userID] = lim
	return nil
}

func (l *fakeLimiter) Cleanup() (int, error) { return l.cleaned, nil }

// fakeDownloader writes one file per entry of sizes into dir. With hang set it waits for ctx.
type fakeDownloader struct {
	platform models.Platform
	sizes    []int
	err      error
	hang     bool
	calls    int
}

func (d *fakeDownloader) Platform() models.Platform { return d.platform }

func (d *fakeDownloader) Download(ctx context.Context, url, dir string) ([]models.MediaFile, error) {
	d.calls++
	if d.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.err != nil {
		return nil, d.err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	var files []models.MediaFile
	for i, size := range d.sizes {
		path := filepath.Join(dir, string(d.platform)+"_"+string(rune('a'+i))+".mp4")
		if err := os.WriteFile(path, make([]byte, size), 0o600); err != nil {
			return nil, err
		}
		files = append(files, models.MediaFile{Path: path, Size: int64(size), Kind: models.KindVideo})
	}
	return files, nil
}

type fakeNotifier struct {
	sent   map[int64][]string
	failOn map[int64]bool
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{sent: map[int64][]string{}, failOn: map[int64]bool{}}
}

func (n *fakeNotifier) Notify(ctx context.Context, userID int64, text string) error {
	if n.failOn[userID] {
		return errors.New("bot was blocked by the user")
	}
	n.sent[userID] = append(n.sent[userID], text)
	return nil
}

type testRepos struct {
	users     *repositories.JSONUserRepository
	downloads *repositories.JSONDownloadRepository
	analytics *repositories.JSONAnalyticsRepository
}

func newTestRepos(t *testing.T) testRepos {
	t.Helper()
	dir := t.TempDir()
	file := func(name string) *datasources.JSONFile {
		return datasources.NewJSONFile(filepath.Join(dir, name), log.NewNopLogger())
	}

	users, err := repositories.NewJSONUserRepository(file(repositories.UsersFile))
	require.NoError(t, err)
	downloads, err := repositories.NewJSONDownloadRepository(file(repositories.DownloadsFile))
	require.NoError(t, err)
	analytics, err := repositories.NewJSONAnalyticsRepository(file(repositories.AnalyticsFile))
	require.NoError(t, err)
	return testRepos{users: users, downloads: downloads, analytics: analytics}
}

func (r testRepos) addUser(t *testing.T, u models.User) *models.User {
	t.Helper()
	stored, err := r.users.Upsert(context.Background(), &u)
	require.NoError(t, err)
	return stored
}

var _ DownloaderRegistry = (*downloaders.Registry)(nil)
