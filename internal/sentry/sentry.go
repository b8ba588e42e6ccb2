// Package sentry reports unexpected errors when SENTRY_DSN is configured.
package sentry

import (
	"context"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/bbr/multisavex/internal/apperrors"
)

// ignoredErrors are user-facing outcomes, not bugs.
var ignoredErrors = []error{
	apperrors.ErrUnsupportedURL,
	apperrors.ErrInvalidURL,
	apperrors.ErrRateLimited,
	apperrors.ErrPrivateContent,
	apperrors.ErrFileTooLarge,
	apperrors.ErrUserBanned,
	context.Canceled,
}

var enabled bool

// Init configures the global hub. An empty dsn leaves reporting off.
func Init(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	})
	if err != nil {
		return errors.Wrap(err, "sentry init")
	}
	enabled = true
	return nil
}

// Flush waits for buffered events before shutdown.
func Flush() {
	if enabled {
		sentry.Flush(2 * time.Second)
	}
}

func shouldIgnore(err error) bool {
	if err == nil {
		return true
	}
	for _, target := range ignoredErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return strings.Contains(err.Error(), "connection reset by peer")
}

// CaptureError logs err and reports it to Sentry. tags are key/value pairs.
func CaptureError(logger log.Logger, err error, message string, tags ...string) {
	if err == nil {
		return
	}
	keyvals := []interface{}{"msg", message, "err", err}
	for _, t := range tags {
		keyvals = append(keyvals, t)
	}
	level.Error(logger).Log(keyvals...)
	if !enabled || shouldIgnore(err) {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetExtra("message", message)
		for i := 0; i+1 < len(tags); i += 2 {
			scope.SetTag(tags[i], tags[i+1])
		}
		sentry.CaptureException(err)
	})
}
