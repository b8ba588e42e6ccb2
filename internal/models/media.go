package models

import (
	"path/filepath"
	"strings"
)

type MediaKind string

const (
	KindVideo MediaKind = "video"
	KindImage MediaKind = "image"
	KindOther MediaKind = "other"
)

var (
	videoExtensions = map[string]bool{".mp4": true, ".avi": true, ".mov": true, ".mkv": true, ".webm": true}
	imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true}
)

// MediaFile is a downloaded file waiting to be sent.
type MediaFile struct {
	Path string
	Size int64
	Kind MediaKind
}

func KindFromPath(path string) MediaKind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case videoExtensions[ext]:
		return KindVideo
	case imageExtensions[ext]:
		return KindImage
	default:
		return KindOther
	}
}

// CachedMedia is a file already uploaded to Telegram, reusable by its file id.
type CachedMedia struct {
	FileID string    `json:"file_id"`
	Kind   MediaKind `json:"kind"`
}
