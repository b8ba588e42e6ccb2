package sentry

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"github.com/bbr/multisavex/internal/apperrors"
)

func TestShouldIgnore(t *testing.T) {
	assert.True(t, shouldIgnore(nil))
	assert.True(t, shouldIgnore(errors.Wrap(apperrors.ErrUnsupportedURL, "classify")))
	assert.True(t, shouldIgnore(&apperrors.RateLimitError{Action: "download"}))
	assert.True(t, shouldIgnore(context.Canceled))
	assert.False(t, shouldIgnore(errors.New("disk full")))
}

func TestCaptureErrorLogsWhenDisabled(t *testing.T) {
	var buf bytes.Buffer
	CaptureError(log.NewLogfmtLogger(&buf), errors.New("boom"), "save failed")

	assert.Contains(t, buf.String(), "save failed")
	assert.Contains(t, buf.String(), "boom")
}

func TestCaptureErrorLogsTags(t *testing.T) {
	var buf bytes.Buffer
	CaptureError(log.NewLogfmtLogger(&buf), errors.New("boom"), "upload", "user_id", "7", "bot", "user")

	assert.Contains(t, buf.String(), "user_id=7")
	assert.Contains(t, buf.String(), "bot=user")
}

func TestInitWithoutDSN(t *testing.T) {
	assert.NoError(t, Init("", "test", "dev"))
	assert.False(t, enabled)
}
