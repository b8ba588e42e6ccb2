package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadRequestLifecycle(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	req := NewDownloadRequest(42, "https://tiktok.com/@a/video/1", PlatformTikTok, now)

	require.NotEmpty(t, req.ID)
	assert.Equal(t, StatusPending, req.Status)

	req.Start(now.Add(time.Second))
	assert.Equal(t, StatusProcessing, req.Status)

	req.Succeed(now.Add(3*time.Second), []string{"a.mp4"}, 1024)
	assert.Equal(t, StatusSucceeded, req.Status)
	assert.InDelta(t, 2.0, req.ProcessingTime, 0.001)
	assert.Equal(t, int64(1024), req.TotalSize)

	// terminal states do not move
	req.Fail(now.Add(4*time.Second), "timeout", "late")
	assert.Equal(t, StatusSucceeded, req.Status)
	assert.Empty(t, req.ErrorMessage)
}

func TestDownloadRequestFailWithoutStart(t *testing.T) {
	now := time.Now()
	req := NewDownloadRequest(1, "u", PlatformInstagram, now)

	req.Fail(now, "other", "boom")

	assert.Equal(t, StatusFailed, req.Status)
	assert.Equal(t, "boom", req.ErrorMessage)
	assert.Equal(t, "other", req.ErrorKind)
	assert.Zero(t, req.ProcessingTime)
	assert.NotNil(t, req.CompletedAt)
}

func TestKindFromPath(t *testing.T) {
	assert.Equal(t, KindVideo, KindFromPath("/tmp/x/clip.MP4"))
	assert.Equal(t, KindImage, KindFromPath("photo.jpeg"))
	assert.Equal(t, KindOther, KindFromPath("notes.txt"))
}

func TestNewAnalyticsRecord(t *testing.T) {
	now := time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC)
	req := NewDownloadRequest(7, "u", PlatformInstagram, now)
	req.Start(now)
	req.Succeed(now.Add(1500*time.Millisecond), nil, 10)

	rec := NewAnalyticsRecord(req)
	assert.Equal(t, "2024-05-01", rec.Date)
	assert.Equal(t, 1, rec.Succeeded)
	assert.Equal(t, int64(1500), rec.ProcessingMillis)
	assert.Equal(t, "2024-05-01|instagram|7", rec.Key())

	rec.Add(AnalyticsRecord{Failed: 1, Bytes: 5})
	assert.Equal(t, 2, rec.Total())
	assert.Equal(t, int64(15), rec.Bytes)
}

func TestUserHelpers(t *testing.T) {
	var nilUser *User
	assert.Equal(t, "en", nilUser.Language("en"))

	u := &User{FirstName: "Ann", LastName: "Lee", LanguageCode: "ru", Role: RoleAdmin}
	assert.Equal(t, "ru", u.Language("en"))
	assert.Equal(t, "Ann Lee", u.DisplayName())
	assert.True(t, u.IsAdmin())

	u.Username = "ann"
	assert.Equal(t, "@ann", u.DisplayName())

	ts := time.Now()
	u.LastActiveAt = &ts
	assert.True(t, u.ActiveSince(ts.Add(-time.Hour)))
}
