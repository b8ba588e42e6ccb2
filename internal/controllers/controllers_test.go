package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"

	"github.com/bbr/multisavex/internal/apperrors"
	"github.com/bbr/multisavex/internal/i18n"
	"github.com/bbr/multisavex/internal/models"
	"github.com/bbr/multisavex/internal/services"
)

func TestHealthCheck(t *testing.T) {
	srv := httptest.NewServer(NewHTTPController("", "1.2.3", log.NewNopLogger()).Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "1.2.3", body.Version)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := httptest.NewServer(NewHTTPController("", "", log.NewNopLogger()).Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/health", "text/plain", strings.NewReader(""))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		key  string
	}{
		{"banned", apperrors.ErrUserBanned, "user_banned_message"},
		{"unsupported", errors.Wrap(apperrors.ErrUnsupportedURL, "host"), "unsupported_url"},
		{"invalid", apperrors.ErrInvalidURL, "invalid_url"},
		{"rate limited", &apperrors.RateLimitError{Action: "download", RetryAfter: time.Minute}, "rate_limited"},
		{"too large", &apperrors.FileSizeError{Size: 2, Max: 1}, "file_too_large"},
		{"private", &apperrors.DownloadError{Platform: "instagram", Err: apperrors.ErrPrivateContent}, "private_content"},
		{"timeout", errors.Wrap(apperrors.ErrTimeout, "yt-dlp"), "timeout"},
		{"upstream", &apperrors.DownloadError{Platform: "tiktok", Err: errors.New("HTTP Error 404")}, "download_failed"},
		{"unexpected", errors.New("disk full"), "error_occurred"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, _ := errorMessage(tt.err, 50)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestErrorMessageArgs(t *testing.T) {
	_, args := errorMessage(&apperrors.RateLimitError{RetryAfter: 90 * time.Second}, 50)
	assert.Equal(t, []interface{}{"1m30s"}, args)

	_, args = errorMessage(&apperrors.FileSizeError{Size: 2, Max: 1}, 50)
	assert.Equal(t, []interface{}{50}, args)

	_, args = errorMessage(&apperrors.DownloadError{Platform: "tiktok", Err: errors.New("<bad> & worse")}, 50)
	assert.Equal(t, []interface{}{"&lt;bad&gt; &amp; worse"}, args)
}

func TestParseBroadcast(t *testing.T) {
	tests := []struct {
		payload    string
		lang, text string
		ok         bool
	}{
		{"hello all", "", "hello all", true},
		{"lang:ru  privet", "ru", "privet", true},
		{"lang:UZ salom dunyo", "uz", "salom dunyo", true},
		{"lang:de hallo", "", "", false},
		{"lang:en", "", "", false},
		{"   ", "", "", false},
	}
	for _, tt := range tests {
		lang, text, ok := parseBroadcast(tt.payload)
		assert.Equal(t, tt.ok, ok, tt.payload)
		assert.Equal(t, tt.lang, lang, tt.payload)
		assert.Equal(t, tt.text, text, tt.payload)
	}
}

func TestParseUserID(t *testing.T) {
	id, ok := parseUserID([]string{"12345"})
	assert.True(t, ok)
	assert.Equal(t, int64(12345), id)

	for _, args := range [][]string{nil, {"abc"}, {"-1"}, {"0"}} {
		_, ok := parseUserID(args)
		assert.False(t, ok, args)
	}
}

func TestParseLimit(t *testing.T) {
	id, requests, window, ok := parseLimit([]string{"7", "20", "3600"})
	require.True(t, ok)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, 20, requests)
	assert.Equal(t, time.Hour, window)

	for _, args := range [][]string{nil, {"7", "20"}, {"x", "20", "60"}, {"7", "0", "60"}, {"7", "5", "-1"}} {
		_, _, _, ok := parseLimit(args)
		assert.False(t, ok, args)
	}
}

func TestFormatUserPage(t *testing.T) {
	page := &services.UserPage{
		Page: 2, Pages: 2, Total: 3,
		Users: []models.User{{ID: 7, Username: "a<b", LanguageCode: "ru", DownloadCount: 4, IsBanned: true}},
	}
	out := formatUserPage("en", page, 2)

	assert.Contains(t, out, "page 2/2, total 3")
	assert.Contains(t, out, "3. 🚫 @a&lt;b <code>7</code> [ru] 4 downloads")

	assert.Equal(t, i18n.GetMessage("en", "users_empty"), formatUserPage("en", &services.UserPage{Page: 1}, 2))
}

func TestFormatSystemStats(t *testing.T) {
	out := formatSystemStats("en", &services.SystemStats{
		TotalUsers:    10,
		SuccessRate:   87.5,
		AvgProcessing: 2500 * time.Millisecond,
		Platforms:     []services.Count{{Name: "tiktok", Count: 6}},
		Failures:      []services.Count{{Name: "timeout", Count: 2}},
	})

	assert.Contains(t, out, "Total users: 10")
	assert.Contains(t, out, "87.5%")
	assert.Contains(t, out, "2.5s")
	assert.Contains(t, out, "• tiktok: 6")
	assert.Contains(t, out, i18n.GetMessage("en", "stats_errors")+"\n• timeout: 2")
	assert.NotContains(t, out, i18n.GetMessage("en", "stats_languages"))
}

func TestLanguageMenuHasEveryLanguage(t *testing.T) {
	menu := languageMenu()
	require.Len(t, menu.InlineKeyboard, len(i18n.Languages))
	for i, lang := range i18n.Languages {
		btn := menu.InlineKeyboard[i][0]
		assert.Equal(t, i18n.GetMessage(lang, "lang_name"), btn.Text)
		assert.Contains(t, btn.Data, lang)
	}
}

func TestSentFileID(t *testing.T) {
	assert.Empty(t, sentFileID(nil))
	assert.Equal(t, "v1", sentFileID(&tele.Message{Video: &tele.Video{File: tele.File{FileID: "v1"}}}))
	assert.Equal(t, "d1", sentFileID(&tele.Message{Document: &tele.Document{File: tele.File{FileID: "d1"}}}))
}
