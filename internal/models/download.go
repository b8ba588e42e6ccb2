package models

import (
	"time"

	"github.com/google/uuid"
)

type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
)

var Platforms = []Platform{PlatformInstagram, PlatformTikTok}

type DownloadStatus string

const (
	StatusPending    DownloadStatus = "pending"
	StatusProcessing DownloadStatus = "processing"
	StatusSucceeded  DownloadStatus = "succeeded"
	StatusFailed     DownloadStatus = "failed"
)

// DownloadRequest tracks one link sent by a user. Succeeded and failed are terminal.
type DownloadRequest struct {
	ID             string         `json:"id"`
	UserID         int64          `json:"user_id"`
	URL            string         `json:"url"`
	Platform       Platform       `json:"platform"`
	Status         DownloadStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	ErrorKind      string         `json:"error_kind,omitempty"`
	MediaFiles     []string       `json:"media_files,omitempty"`
	TotalSize      int64          `json:"total_size"`
	ProcessingTime float64        `json:"processing_time"` // seconds
	Cached         bool           `json:"cached"`
}

func NewDownloadRequest(userID int64, url string, platform Platform, now time.Time) *DownloadRequest {
	return &DownloadRequest{
		ID:        uuid.NewString(),
		UserID:    userID,
		URL:       url,
		Platform:  platform,
		Status:    StatusPending,
		CreatedAt: now,
	}
}

func (r *DownloadRequest) IsTerminal() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed
}

func (r *DownloadRequest) Start(now time.Time) {
	if r.IsTerminal() {
		return
	}
	r.Status = StatusProcessing
	r.StartedAt = &now
}

func (r *DownloadRequest) Succeed(now time.Time, files []string, totalSize int64) {
	if r.IsTerminal() {
		return
	}
	r.Status = StatusSucceeded
	r.MediaFiles = files
	r.TotalSize = totalSize
	r.complete(now)
}

// Fail marks the request failed. kind groups failures for statistics.
func (r *DownloadRequest) Fail(now time.Time, kind, msg string) {
	if r.IsTerminal() {
		return
	}
	r.Status = StatusFailed
	r.ErrorKind = kind
	r.ErrorMessage = msg
	r.complete(now)
}

func (r *DownloadRequest) complete(now time.Time) {
	r.CompletedAt = &now
	if r.StartedAt != nil {
		r.ProcessingTime = now.Sub(*r.StartedAt).Seconds()
	}
}
