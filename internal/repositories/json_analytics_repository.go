package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bbr/multisavex/internal/apperrors"
	"github.com/bbr/multisavex/internal/datasources"
	"github.com/bbr/multisavex/internal/models"
)

type JSONAnalyticsRepository struct {
	File *datasources.JSONFile

	mu      sync.RWMutex
	records map[string]models.AnalyticsRecord
}

func NewJSONAnalyticsRepository(file *datasources.JSONFile) (*JSONAnalyticsRepository, error) {
	r := &JSONAnalyticsRepository{File: file, records: make(map[string]models.AnalyticsRecord)}

	var stored []models.AnalyticsRecord
	if err := file.Load(&stored); err != nil {
		return nil, apperrors.Persistence(err, "load analytics")
	}
	for _, rec := range stored {
		cur := r.records[rec.Key()]
		if cur.Date == "" {
			cur = models.AnalyticsRecord{Date: rec.Date, Platform: rec.Platform, UserID: rec.UserID}
		}
		cur.Add(rec)
		r.records[rec.Key()] = cur
	}
	return r, nil
}

func (r *JSONAnalyticsRepository) Increment(ctx context.Context, rec models.AnalyticsRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := rec.Key()
	prev, existed := r.records[key]
	next := prev
	if !existed {
		next = models.AnalyticsRecord{Date: rec.Date, Platform: rec.Platform, UserID: rec.UserID}
	}
	next.Add(rec)
	r.records[key] = next

	if err := r.File.Save(r.sorted(time.Time{})); err != nil {
		if existed {
			r.records[key] = prev
		} else {
			delete(r.records, key)
		}
		return apperrors.Persistence(err, "save analytics")
	}
	return nil
}

func (r *JSONAnalyticsRepository) List(ctx context.Context, since time.Time) ([]models.AnalyticsRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sorted(since), nil
}

func (r *JSONAnalyticsRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	limit := cutoff.UTC().Format(models.DateLayout)
	removed := make(map[string]models.AnalyticsRecord)
	for key, rec := range r.records {
		if rec.Date < limit {
			removed[key] = rec
			delete(r.records, key)
		}
	}
	if len(removed) == 0 {
		return 0, nil
	}
	if err := r.File.Save(r.sorted(time.Time{})); err != nil {
		for key, rec := range removed {
			r.records[key] = rec
		}
		return 0, apperrors.Persistence(err, "save analytics")
	}
	return len(removed), nil
}

// sorted returns records dated on or after since. Dates are ISO formatted, so string order is date order.
// Caller holds mu.
func (r *JSONAnalyticsRepository) sorted(since time.Time) []models.AnalyticsRecord {
	from := ""
	if !since.IsZero() {
		from = since.UTC().Format(models.DateLayout)
	}
	out := make([]models.AnalyticsRecord, 0, len(r.records))
	for _, rec := range r.records {
		if rec.Date >= from {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}
