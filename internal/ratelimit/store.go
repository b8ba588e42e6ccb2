package ratelimit

import (
	"time"

	"github.com/bbr/multisavex/internal/datasources"
)

const StateFile = "rate_limits.json"

// Snapshot is the persisted limiter state keyed by user id.
type Snapshot map[string]*UserState

type UserState struct {
	Windows      map[string]Window      `json:"windows"`
	CustomLimits map[string]LimitConfig `json:"custom_limits,omitempty"`
}

type Window struct {
	Used    int       `json:"used"`
	ResetAt time.Time `json:"reset_at"`
}

type LimitConfig struct {
	Requests      int `json:"requests"`
	PeriodSeconds int `json:"period_seconds"`
}

func (s *UserState) init() {
	if s.Windows == nil {
		s.Windows = make(map[string]Window)
	}
	if s.CustomLimits == nil {
		s.CustomLimits = make(map[string]LimitConfig)
	}
}

func (s *UserState) clone() *UserState {
	out := &UserState{
		Windows:      make(map[string]Window, len(s.Windows)),
		CustomLimits: make(map[string]LimitConfig, len(s.CustomLimits)),
	}
	for k, v := range s.Windows {
		out.Windows[k] = v
	}
	for k, v := range s.CustomLimits {
		out.CustomLimits[k] = v
	}
	return out
}

type Store interface {
	Load() (Snapshot, error)
	Save(Snapshot) error
}

// FileStore keeps the snapshot in a JSON file.
type FileStore struct {
	File *datasources.JSONFile
}

func NewFileStore(file *datasources.JSONFile) *FileStore {
	return &FileStore{File: file}
}

func (s *FileStore) Load() (Snapshot, error) {
	snap := Snapshot{}
	if err := s.File.Load(&snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *FileStore) Save(snap Snapshot) error {
	return s.File.Save(snap)
}
