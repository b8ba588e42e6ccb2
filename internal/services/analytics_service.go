package services

import (
	"context"
	"sort"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/samber/lo"

	"github.com/bbr/multisavex/internal/models"
	"github.com/bbr/multisavex/internal/repositories"
)

type AnalyticsService struct {
	Repo    repositories.AnalyticsRepository
	Enabled bool
	Logger  log.Logger

	now func() time.Time
}

func NewAnalyticsService(repo repositories.AnalyticsRepository, enabled bool, logger log.Logger) *AnalyticsService {
	return &AnalyticsService{Repo: repo, Enabled: enabled, Logger: logger, now: time.Now}
}

// Record adds a finished request to the aggregates. Failures are only logged.
func (s *AnalyticsService) Record(ctx context.Context, req *models.DownloadRequest) {
	if s == nil || !s.Enabled || !req.IsTerminal() {
		return
	}
	if err := s.Repo.Increment(ctx, models.NewAnalyticsRecord(req)); err != nil {
		level.Warn(s.Logger).Log("msg", "record analytics", "request_id", req.ID, "err", err)
	}
}

type Overview struct {
	Total         int
	Succeeded     int
	Failed        int
	Bytes         int64
	AvgProcessing time.Duration
	SuccessRate   float64 // percent
}

type DailyStat struct {
	Date      string
	Succeeded int
	Failed    int
	Bytes     int64
}

type PlatformStat struct {
	Platform  models.Platform
	Succeeded int
	Failed    int
	Bytes     int64
}

type UserActivity struct {
	UserID    int64
	Downloads int
}

func (s *AnalyticsService) Overview(ctx context.Context, since time.Time) (Overview, error) {
	records, err := s.Repo.List(ctx, since)
	if err != nil {
		return Overview{}, err
	}
	return summarize(records), nil
}

// Daily returns one entry per day for the last days days, oldest first, including empty days.
func (s *AnalyticsService) Daily(ctx context.Context, days int) ([]DailyStat, error) {
	if days <= 0 {
		days = 7
	}
	today := s.now().UTC().Truncate(24 * time.Hour)
	from := today.AddDate(0, 0, -(days - 1))

	records, err := s.Repo.List(ctx, from)
	if err != nil {
		return nil, err
	}
	byDate := lo.GroupBy(records, func(r models.AnalyticsRecord) string { return r.Date })

	out := make([]DailyStat, 0, days)
	for d := from; !d.After(today); d = d.AddDate(0, 0, 1) {
		date := d.Format(models.DateLayout)
		day := summarize(byDate[date])
		out = append(out, DailyStat{Date: date, Succeeded: day.Succeeded, Failed: day.Failed, Bytes: day.Bytes})
	}
	return out, nil
}

// PlatformBreakdown returns per-platform totals ordered by volume.
func (s *AnalyticsService) PlatformBreakdown(ctx context.Context, since time.Time) ([]PlatformStat, error) {
	records, err := s.Repo.List(ctx, since)
	if err != nil {
		return nil, err
	}
	grouped := lo.GroupBy(records, func(r models.AnalyticsRecord) models.Platform { return r.Platform })
	out := lo.MapToSlice(grouped, func(p models.Platform, recs []models.AnalyticsRecord) PlatformStat {
		sum := summarize(recs)
		return PlatformStat{Platform: p, Succeeded: sum.Succeeded, Failed: sum.Failed, Bytes: sum.Bytes}
	})
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].Succeeded+out[i].Failed, out[j].Succeeded+out[j].Failed
		if ti != tj {
			return ti > tj
		}
		return out[i].Platform < out[j].Platform
	})
	return out, nil
}

// TopUsers ranks users by successful downloads.
func (s *AnalyticsService) TopUsers(ctx context.Context, since time.Time, limit int) ([]UserActivity, error) {
	records, err := s.Repo.List(ctx, since)
	if err != nil {
		return nil, err
	}
	grouped := lo.GroupBy(records, func(r models.AnalyticsRecord) int64 { return r.UserID })
	out := lo.MapToSlice(grouped, func(id int64, recs []models.AnalyticsRecord) UserActivity {
		return UserActivity{UserID: id, Downloads: lo.SumBy(recs, func(r models.AnalyticsRecord) int { return r.Succeeded })}
	})
	out = lo.Filter(out, func(u UserActivity, _ int) bool { return u.Downloads > 0 })
	sort.Slice(out, func(i, j int) bool {
		if out[i].Downloads != out[j].Downloads {
			return out[i].Downloads > out[j].Downloads
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func summarize(records []models.AnalyticsRecord) Overview {
	var o Overview
	var millis int64
	for _, r := range records {
		o.Succeeded += r.Succeeded
		o.Failed += r.Failed
		o.Bytes += r.Bytes
		millis += r.ProcessingMillis
	}
	o.Total = o.Succeeded + o.Failed
	if o.Total > 0 {
		o.AvgProcessing = time.Duration(millis/int64(o.Total)) * time.Millisecond
		o.SuccessRate = float64(o.Succeeded) * 100 / float64(o.Total)
	}
	return o
}
