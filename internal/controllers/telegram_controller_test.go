package controllers

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"
	"gopkg.in/telebot.v3/middleware"

	"github.com/bbr/multisavex/internal/datasources"
	"github.com/bbr/multisavex/internal/downloaders"
	"github.com/bbr/multisavex/internal/i18n"
	"github.com/bbr/multisavex/internal/models"
	"github.com/bbr/multisavex/internal/ratelimit"
	"github.com/bbr/multisavex/internal/repositories"
	"github.com/bbr/multisavex/internal/services"
)

const tiktokLink = "https://www.tiktok.com/@a/video/123"

// fakeMessenger records what the controller sends. Uploads get sequential file ids;
// failUpload makes the upload with that 1-based number fail.
type fakeMessenger struct {
	texts      []string
	media      []tele.Sendable
	edits      []string
	deleted    int
	uploads    int
	failUpload int
}

func (m *fakeMessenger) Send(_ tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	switch v := what.(type) {
	case string:
		m.texts = append(m.texts, v)
		return &tele.Message{ID: len(m.texts), Text: v}, nil
	case tele.Sendable:
		m.uploads++
		if m.uploads == m.failUpload {
			return nil, errors.New("telegram: request entity too large (413)")
		}
		m.media = append(m.media, v)
		file := tele.File{FileID: "file-" + strconv.Itoa(m.uploads)}
		switch v.(type) {
		case *tele.Photo:
			return &tele.Message{Photo: &tele.Photo{File: file}}, nil
		default:
			return &tele.Message{Video: &tele.Video{File: file}}, nil
		}
	}
	return nil, errors.Errorf("unexpected payload %T", what)
}

func (m *fakeMessenger) Edit(_ tele.Editable, what interface{}, _ ...interface{}) (*tele.Message, error) {
	m.edits = append(m.edits, what.(string))
	return &tele.Message{}, nil
}

func (m *fakeMessenger) Delete(tele.Editable) error {
	m.deleted++
	return nil
}

func (m *fakeMessenger) lastText() string {
	if len(m.texts) == 0 {
		return ""
	}
	return m.texts[len(m.texts)-1]
}

type stubDownloader struct {
	sizes []int
	calls int
}

func (d *stubDownloader) Platform() models.Platform { return models.PlatformTikTok }

func (d *stubDownloader) Download(_ context.Context, _, dir string) ([]models.MediaFile, error) {
	d.calls++
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	var files []models.MediaFile
	for i, size := range d.sizes {
		path := filepath.Join(dir, "clip_"+strconv.Itoa(i)+".mp4")
		if err := os.WriteFile(path, make([]byte, size), 0o600); err != nil {
			return nil, err
		}
		files = append(files, models.MediaFile{Path: path, Size: int64(size), Kind: models.KindVideo})
	}
	return files, nil
}

type openLimiter struct{}

func (openLimiter) Allow(int64, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{Allowed: true, Limit: 5, Remaining: 4}, nil
}

func (openLimiter) Info(int64, string) ratelimit.Decision {
	return ratelimit.Decision{Allowed: true, Limit: 5, Remaining: 5}
}

func (openLimiter) Reset(int64) error                                   { return nil }
func (openLimiter) SetCustomLimit(int64, string, ratelimit.Limit) error { return nil }
func (openLimiter) Cleanup() (int, error)                               { return 0, nil }

type linkFixture struct {
	messenger  *fakeMessenger
	downloader *stubDownloader
	ctrl       *TelegramController
	user       *models.User
	chat       *tele.Chat
}

func newLinkFixture(t *testing.T, sizes ...int) *linkFixture {
	t.Helper()
	dir := t.TempDir()
	file := func(name string) *datasources.JSONFile {
		return datasources.NewJSONFile(filepath.Join(dir, name), log.NewNopLogger())
	}
	users, err := repositories.NewJSONUserRepository(file(repositories.UsersFile))
	require.NoError(t, err)
	downloads, err := repositories.NewJSONDownloadRepository(file(repositories.DownloadsFile))
	require.NoError(t, err)

	user, err := users.Upsert(context.Background(), &models.User{ID: 7, FirstName: "Ann", LanguageCode: "en"})
	require.NoError(t, err)

	f := &linkFixture{
		messenger:  &fakeMessenger{},
		downloader: &stubDownloader{sizes: sizes},
		user:       user,
		chat:       &tele.Chat{ID: 7},
	}
	downloadService := services.NewDownloadService(
		users, downloads, downloaders.NewRegistry(f.downloader), openLimiter{},
		services.NewFileCache(10, time.Hour), nil,
		services.DownloadConfig{TempDir: t.TempDir(), MaxFileSize: 50, Timeout: time.Minute, MaxConcurrent: 1},
		log.NewNopLogger(),
	)
	f.ctrl = &TelegramController{
		Messenger:       f.messenger,
		DownloadService: downloadService,
		MaxFileSizeMB:   50,
		DefaultLanguage: "en",
		Logger:          log.NewNopLogger(),
	}
	return f
}

func (f *linkFixture) send(t *testing.T, text string) {
	t.Helper()
	require.NoError(t, f.ctrl.handleLink(f.chat, f.user, text))
}

func TestHandleLinkSendsMediaAndReusesFileIDs(t *testing.T) {
	f := newLinkFixture(t, 10, 20)

	f.send(t, "look "+tiktokLink)
	assert.Equal(t, 1, f.downloader.calls)
	require.Len(t, f.messenger.media, 2)
	assert.Equal(t, []string{i18n.GetMessage("en", "processing")}, f.messenger.texts)
	assert.Equal(t, []string{
		i18n.GetMessage("en", "downloading"),
		i18n.GetMessage("en", "download_success"),
	}, f.messenger.edits)
	assert.Equal(t, 1, f.messenger.deleted)

	f.send(t, tiktokLink)
	assert.Equal(t, 1, f.downloader.calls, "second request is served from the file cache")
	require.Len(t, f.messenger.media, 4)
	cached, ok := f.messenger.media[2].(*tele.Video)
	require.True(t, ok)
	assert.Equal(t, "file-1", cached.FileID)
	assert.Equal(t, "file-2", f.messenger.media[3].(*tele.Video).FileID)
}

func TestHandleLinkPartialUploadIsNotCached(t *testing.T) {
	f := newLinkFixture(t, 10, 20)
	f.messenger.failUpload = 2

	f.send(t, tiktokLink)
	assert.Len(t, f.messenger.media, 1)

	f.send(t, tiktokLink)
	assert.Equal(t, 2, f.downloader.calls, "a partial upload must not be cached")
}

func TestHandleLinkReportsSkippedFiles(t *testing.T) {
	f := newLinkFixture(t, 10, 100)

	f.send(t, tiktokLink)
	assert.Len(t, f.messenger.media, 1)
	assert.Equal(t, i18n.Format("en", "partial_oversize", 50), f.messenger.lastText())
}

func TestHandleLinkRepliesWithError(t *testing.T) {
	f := newLinkFixture(t, 10)

	f.send(t, "https://example.com/video")
	assert.Zero(t, f.downloader.calls)
	assert.Empty(t, f.messenger.media)
	assert.Equal(t, i18n.GetMessage("en", "unsupported_url"), f.messenger.lastText())
	assert.Equal(t, 1, f.messenger.deleted, "status message is removed")
	assert.Empty(t, f.messenger.edits)
}

func TestReportPanicTagsSender(t *testing.T) {
	var buf bytes.Buffer
	bot, err := tele.NewBot(tele.Settings{Offline: true})
	require.NoError(t, err)

	handler := middleware.Recover(reportPanic(log.NewLogfmtLogger(&buf), "user"))(func(tele.Context) error {
		panic(errors.New("boom"))
	})
	ctx := bot.NewContext(tele.Update{Message: &tele.Message{Sender: &tele.User{ID: 42}, Chat: &tele.Chat{ID: 42}}})

	assert.NoError(t, handler(ctx))
	assert.Contains(t, buf.String(), "boom")
	assert.Contains(t, buf.String(), "bot=user")
	assert.Contains(t, buf.String(), "user_id=42")
}

func TestFormatUserStats(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	out := formatUserStats("en", &services.UserStats{
		Downloads:      12,
		DownloadsToday: 3,
		MemberSince:    created,
		Language:       "en",
		Remaining:      4,
		Limit:          5,
		Recent: []models.DownloadRequest{
			{Platform: models.PlatformTikTok, Status: models.StatusSucceeded, CreatedAt: created},
			{Platform: models.PlatformInstagram, Status: models.StatusFailed, CreatedAt: created},
		},
	})

	assert.Contains(t, out, "Downloads: 12")
	assert.Contains(t, out, "Today: 3")
	assert.Contains(t, out, "4/5")
	assert.Contains(t, out, i18n.GetMessage("en", "recent_downloads"))
	assert.Contains(t, out, "✅ tiktok · 2024-05-01 10:30")
	assert.Contains(t, out, "❌ instagram")

	out = formatUserStats("en", &services.UserStats{Limit: -1, Remaining: 3, Language: "en"})
	assert.Contains(t, out, "0/0")
	assert.NotContains(t, out, i18n.GetMessage("en", "recent_downloads"))
}
