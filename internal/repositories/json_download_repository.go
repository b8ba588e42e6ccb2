package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/bbr/multisavex/internal/apperrors"
	"github.com/bbr/multisavex/internal/datasources"
	"github.com/bbr/multisavex/internal/models"
)

type JSONDownloadRepository struct {
	File *datasources.JSONFile

	mu       sync.RWMutex
	requests map[string]*models.DownloadRequest
}

func NewJSONDownloadRepository(file *datasources.JSONFile) (*JSONDownloadRepository, error) {
	r := &JSONDownloadRepository{File: file, requests: make(map[string]*models.DownloadRequest)}
	if err := file.Load(&r.requests); err != nil {
		return nil, apperrors.Persistence(err, "load download requests")
	}
	for id, req := range r.requests {
		if req == nil {
			delete(r.requests, id)
		}
	}
	return r, nil
}

func (r *JSONDownloadRepository) Create(ctx context.Context, req *models.DownloadRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.requests[req.ID]; exists {
		return errors.Errorf("download request %s already exists", req.ID)
	}
	return r.commit(req.ID, clone(req), nil)
}

func (r *JSONDownloadRepository) Update(ctx context.Context, req *models.DownloadRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, exists := r.requests[req.ID]
	if !exists {
		return apperrors.ErrNotFound
	}
	return r.commit(req.ID, clone(req), prev)
}

func (r *JSONDownloadRepository) GetByID(ctx context.Context, id string) (*models.DownloadRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return clone(req), nil
}

func (r *JSONDownloadRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.DownloadRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.DownloadRequest
	for _, req := range r.requests {
		if req.UserID == userID {
			out = append(out, *clone(req))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *JSONDownloadRepository) CountByStatus(ctx context.Context) (map[models.DownloadStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[models.DownloadStatus]int)
	for _, req := range r.requests {
		counts[req.Status]++
	}
	return counts, nil
}

func (r *JSONDownloadRepository) CountFailures(ctx context.Context, since time.Time) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int)
	for _, req := range r.requests {
		if req.Status == models.StatusFailed && !req.CreatedAt.Before(since) {
			counts[req.ErrorKind]++
		}
	}
	return counts, nil
}

func (r *JSONDownloadRepository) CountSince(ctx context.Context, userID int64, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, req := range r.requests {
		if req.UserID == userID && req.Status == models.StatusSucceeded && !req.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (r *JSONDownloadRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := make(map[string]*models.DownloadRequest)
	for id, req := range r.requests {
		if req.CreatedAt.Before(cutoff) {
			removed[id] = req
			delete(r.requests, id)
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}
	if err := r.File.Save(r.requests); err != nil {
		for id, req := range removed {
			r.requests[id] = req
		}
		return 0, apperrors.Persistence(err, "save download requests")
	}
	return len(removed), nil
}

// Caller holds mu.
func (r *JSONDownloadRepository) commit(id string, next, prev *models.DownloadRequest) error {
	r.requests[id] = next
	if err := r.File.Save(r.requests); err != nil {
		if prev != nil {
			r.requests[id] = prev
		} else {
			delete(r.requests, id)
		}
		return apperrors.Persistence(err, "save download requests")
	}
	return nil
}

func clone(req *models.DownloadRequest) *models.DownloadRequest {
	out := *req
	out.MediaFiles = append([]string(nil), req.MediaFiles...)
	return &out
}
