package downloaders

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strings"

	"github.com/pkg/errors"

	"github.com/bbr/multisavex/internal/apperrors"
)

// Runner executes an external command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, err
		}
		return nil, errors.Wrap(err, msg)
	}
	return stdout.Bytes(), nil
}

// MediaInfo is the part of yt-dlp's JSON output the bot needs.
type MediaInfo struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	URL            string            `json:"url"`
	Ext            string            `json:"ext"`
	Filesize       int64             `json:"filesize"`
	FilesizeApprox int64             `json:"filesize_approx"`
	HTTPHeaders    map[string]string `json:"http_headers"`
	Entries        []MediaInfo       `json:"entries"`
}

// Size is the exact size when known, otherwise yt-dlp's estimate, otherwise 0.
func (m MediaInfo) Size() int64 {
	if m.Filesize > 0 {
		return m.Filesize
	}
	return m.FilesizeApprox
}

// Items flattens carousels and playlists into downloadable entries.
func (m MediaInfo) Items() []MediaInfo {
	if len(m.Entries) == 0 {
		if m.URL == "" {
			return nil
		}
		return []MediaInfo{m}
	}
	var out []MediaInfo
	for _, e := range m.Entries {
		out = append(out, e.Items()...)
	}
	return out
}

// Extractor asks yt-dlp for metadata only. Media bytes are fetched separately.
type Extractor struct {
	Path   string
	Runner Runner
}

func NewExtractor(path string) *Extractor {
	if path == "" {
		path = "yt-dlp"
	}
	return &Extractor{Path: path, Runner: execRunner{}}
}

func (e *Extractor) Extract(ctx context.Context, url string, extraArgs ...string) (*MediaInfo, error) {
	args := []string{"-J", "--no-warnings", "-f", "best[ext=mp4]/best"}
	args = append(args, extraArgs...)
	args = append(args, url)

	out, err := e.Runner.Run(ctx, e.Path, args...)
	if err != nil {
		return nil, classifyError(ctx, err)
	}

	info := &MediaInfo{}
	if err := json.Unmarshal(out, info); err != nil {
		return nil, errors.Wrap(err, "decode yt-dlp output")
	}
	return info, nil
}

func classifyError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.ErrTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "private"),
		strings.Contains(msg, "login required"),
		strings.Contains(msg, "requires login"),
		strings.Contains(msg, "log in"),
		strings.Contains(msg, "unavailable"):
		return errors.Wrap(apperrors.ErrPrivateContent, err.Error())
	case strings.Contains(msg, "429"), strings.Contains(msg, "rate-limit"), strings.Contains(msg, "rate limit"):
		return errors.Wrap(err, "upstream rate limited")
	default:
		return errors.Wrap(err, "yt-dlp")
	}
}
