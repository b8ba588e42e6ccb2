package apperrors

import (
	"os"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestRateLimitErrorMatchesSentinel(t *testing.T) {
	err := errors.Wrap(&RateLimitError{Action: "download", RetryAfter: 90 * time.Second}, "dispatch")

	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.False(t, errors.Is(err, ErrFileTooLarge))

	wait, ok := RetryAfter(err)
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, wait)
}

func TestFileSizeErrorMatchesSentinel(t *testing.T) {
	err := &FileSizeError{Size: 100, Max: 50}

	assert.True(t, errors.Is(err, ErrFileTooLarge))
	assert.Contains(t, err.Error(), "100")
}

func TestDownloadErrorUnwraps(t *testing.T) {
	err := &DownloadError{Platform: "tiktok", URL: "https://tiktok.com/x", Err: ErrPrivateContent}

	assert.True(t, errors.Is(err, ErrDownloadFailed))
	assert.True(t, errors.Is(err, ErrPrivateContent))
}

func TestPersistence(t *testing.T) {
	assert.Nil(t, Persistence(nil, "save users"))

	err := Persistence(os.ErrPermission, "save users")
	assert.True(t, errors.Is(err, ErrPersistence))
	assert.True(t, errors.Is(err, os.ErrPermission))
	assert.Equal(t, "save users: permission denied", err.Error())
}

func TestRetryAfterOtherError(t *testing.T) {
	_, ok := RetryAfter(ErrUnsupportedURL)
	assert.False(t, ok)
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&FileSizeError{Size: 2, Max: 1}, KindTooLarge},
		{&DownloadError{Platform: "instagram", Err: ErrPrivateContent}, KindPrivate},
		{errors.Wrap(ErrTimeout, "context deadline exceeded"), KindTimeout},
		{Persistence(os.ErrPermission, "save"), KindStorage},
		{&DownloadError{Platform: "tiktok", Err: errors.New("HTTP Error 404")}, KindUpstream},
		{errors.New("disk full"), KindOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Kind(tt.err), "%v", tt.err)
	}
}
