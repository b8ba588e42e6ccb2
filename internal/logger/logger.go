// Package logger builds the process-wide go-kit logger.
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Format string // logfmt or json
	Level  string // debug, info, warn, error
	File   string // optional, rotated with lumberjack
}

// New returns a leveled logger writing to stderr and, when cfg.File is set, to a rotated file.
// The returned closer releases the file handle.
func New(cfg Config) (log.Logger, io.Closer) {
	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stderr, rotator)
		closer = rotator
	}

	l := newBasicLogger(w, cfg.Format)
	// depth 5 skips the level filter and the level.X prefix context
	l = log.With(l, "caller", log.Caller(5))
	return level.NewFilter(l, levelOption(cfg.Level)), closer
}

func newBasicLogger(w io.Writer, format string) log.Logger {
	var l log.Logger
	if format == "json" {
		l = log.NewJSONLogger(log.NewSyncWriter(w))
	} else {
		l = log.NewLogfmtLogger(log.NewSyncWriter(w))
	}
	return log.With(l, "ts", log.DefaultTimestampUTC)
}

func levelOption(name string) level.Option {
	switch name {
	case "debug":
		return level.AllowDebug()
	case "warn", "warning":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	default:
		return level.AllowInfo()
	}
}

// CheckFatal logs err and exits the process.
func CheckFatal(logger log.Logger, location string, err error) {
	if err == nil {
		return
	}
	l := level.Error(logger)
	if location != "" {
		l = log.With(l, "msg", "error "+location)
	}
	_ = l.Log("err", fmt.Sprintf("%+v", err))
	os.Exit(1)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
