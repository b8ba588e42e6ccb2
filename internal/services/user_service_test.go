package services

import (
	"context"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"

	"github.com/bbr/multisavex/internal/apperrors"
	"github.com/bbr/multisavex/internal/models"
)

func newTestUserService(t *testing.T) (*UserService, testRepos, *fakeLimiter) {
	repos := newTestRepos(t)
	limiter := newFakeLimiter(true)
	svc := NewUserService(repos.users, repos.downloads, limiter, []int64{42}, "en", log.NewNopLogger())
	svc.now = func() time.Time { return testNow }
	return svc, repos, limiter
}

func TestRegisterUser(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestUserService(t)

	u, err := svc.RegisterUser(ctx, &tele.User{ID: 1, FirstName: "Ann", LanguageCode: "ru-RU", IsPremium: true})
	require.NoError(t, err)
	assert.Equal(t, "ru", u.LanguageCode)
	assert.Equal(t, models.RoleUser, u.Role)
	assert.True(t, u.IsTelegramPremium)

	u, err = svc.RegisterUser(ctx, &tele.User{ID: 2, LanguageCode: "de"})
	require.NoError(t, err)
	assert.Equal(t, "en", u.LanguageCode)

	admin, err := svc.RegisterUser(ctx, &tele.User{ID: 42})
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())

	_, err = svc.RegisterUser(ctx, nil)
	assert.Error(t, err)
}

func TestRegisterUserKeepsChosenLanguage(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestUserService(t)

	_, err := svc.RegisterUser(ctx, &tele.User{ID: 1, LanguageCode: "en"})
	require.NoError(t, err)
	require.NoError(t, svc.UpdateLanguage(ctx, 1, "uz"))

	u, err := svc.RegisterUser(ctx, &tele.User{ID: 1, LanguageCode: "ru"})
	require.NoError(t, err)
	assert.Equal(t, "uz", u.LanguageCode)

	assert.Error(t, svc.UpdateLanguage(ctx, 1, "de"))
}

func TestCheckMessageRate(t *testing.T) {
	svc, _, limiter := newTestUserService(t)

	assert.NoError(t, svc.CheckMessageRate(&models.User{ID: 1}))
	assert.ErrorIs(t, svc.CheckMessageRate(&models.User{ID: 1, IsBanned: true}), apperrors.ErrUserBanned)

	limiter.allow = false
	limiter.retry = time.Minute
	err := svc.CheckMessageRate(&models.User{ID: 1})
	assert.True(t, errors.Is(err, apperrors.ErrRateLimited))

	assert.NoError(t, svc.CheckMessageRate(&models.User{ID: 42, Role: models.RoleAdmin}))
	assert.Equal(t, 2, limiter.calls["message"])
}

func TestUserStats(t *testing.T) {
	ctx := context.Background()
	svc, repos, _ := newTestUserService(t)
	u := repos.addUser(t, models.User{ID: 1, LanguageCode: "ru"})
	require.NoError(t, repos.users.IncrementDownloads(ctx, 1))

	done := models.NewDownloadRequest(1, "https://tiktok.com/a", models.PlatformTikTok, testNow.Add(-time.Hour))
	done.Succeed(testNow, nil, 1)
	require.NoError(t, repos.downloads.Create(ctx, done))
	yesterday := models.NewDownloadRequest(1, "https://tiktok.com/b", models.PlatformTikTok, testNow.Add(-24*time.Hour))
	yesterday.Succeed(testNow, nil, 1)
	require.NoError(t, repos.downloads.Create(ctx, yesterday))

	u, err := repos.users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	stats, err := svc.Stats(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Downloads)
	assert.Equal(t, 1, stats.DownloadsToday)
	assert.Equal(t, "ru", stats.Language)
	assert.Equal(t, 5, stats.Remaining)
	assert.Equal(t, 5, stats.Limit)
	require.Len(t, stats.Recent, 2)
	assert.Equal(t, done.ID, stats.Recent[0].ID)
}

func TestFileCacheDisabled(t *testing.T) {
	var c *FileCache
	c.Set("https://tiktok.com/a", []models.CachedMedia{{FileID: "x"}})
	_, ok := c.Get("https://tiktok.com/a")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestFileCacheNormalizesKeys(t *testing.T) {
	c := NewFileCache(10, time.Hour)
	c.Set("https://www.instagram.com/p/abc/?igsh=1", []models.CachedMedia{{FileID: "x", Kind: models.KindImage}})

	media, ok := c.Get("https://instagram.com/p/abc")
	require.True(t, ok)
	assert.Equal(t, "x", media[0].FileID)
	assert.Equal(t, 1, c.Len())
}
