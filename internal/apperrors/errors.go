// Package apperrors defines the error kinds surfaced to users and admins.
package apperrors

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrUnsupportedURL = errors.New("unsupported url")
	ErrInvalidURL     = errors.New("invalid url")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrDownloadFailed = errors.New("download failed")
	ErrPrivateContent = errors.New("content is private or requires login")
	ErrTimeout        = errors.New("download timed out")
	ErrFileTooLarge   = errors.New("file too large")
	ErrPersistence    = errors.New("persistence failure")
	ErrNotFound       = errors.New("not found")
	ErrUserBanned     = errors.New("user is banned")
)

// RateLimitError carries the action that was refused and when it becomes available again.
type RateLimitError struct {
	Action     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Action, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// FileSizeError is returned when downloaded media is bigger than the configured maximum.
type FileSizeError struct {
	Size int64
	Max  int64
}

func (e *FileSizeError) Error() string {
	return fmt.Sprintf("file size %d bytes exceeds maximum %d bytes", e.Size, e.Max)
}

func (e *FileSizeError) Is(target error) bool {
	return target == ErrFileTooLarge
}

// DownloadError wraps an upstream downloader failure.
type DownloadError struct {
	Platform string
	URL      string
	Err      error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("%s download %s: %v", e.Platform, e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

func (e *DownloadError) Is(target error) bool {
	return target == ErrDownloadFailed
}

// Persistence marks err as a storage failure while keeping the original cause.
func Persistence(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &persistenceError{msg: msg, err: err}
}

type persistenceError struct {
	msg string
	err error
}

func (e *persistenceError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *persistenceError) Unwrap() error {
	return e.err
}

func (e *persistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// Failure kinds recorded on failed download requests.
const (
	KindTooLarge = "too_large"
	KindPrivate  = "private"
	KindTimeout  = "timeout"
	KindStorage  = "storage"
	KindUpstream = "upstream"
	KindOther    = "other"
)

// Kind classifies err for the failure breakdown. nil has no kind.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFileTooLarge):
		return KindTooLarge
	case errors.Is(err, ErrPrivateContent):
		return KindPrivate
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrPersistence):
		return KindStorage
	case errors.Is(err, ErrDownloadFailed):
		return KindUpstream
	default:
		return KindOther
	}
}

// RetryAfter returns how long the caller has to wait if err is a rate-limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return rlErr.RetryAfter, true
	}
	return 0, false
}
