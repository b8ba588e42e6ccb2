package services

import (
	"context"
	"html"
	"sort"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/bbr/multisavex/internal/apperrors"
	"github.com/bbr/multisavex/internal/i18n"
	"github.com/bbr/multisavex/internal/metrics"
	"github.com/bbr/multisavex/internal/models"
	"github.com/bbr/multisavex/internal/ratelimit"
	"github.com/bbr/multisavex/internal/repositories"
)

const (
	DefaultPageSize = 20
	activeWindow    = 30 * 24 * time.Hour
)

type AdminService struct {
	UserRepo        repositories.UserRepository
	DownloadRepo    repositories.DownloadRepository
	Analytics       *AnalyticsService
	Limiter         RateLimiter
	Maintenance     *MaintenanceService
	Notifier        Notifier
	DefaultLanguage string
	Logger          log.Logger

	now func() time.Time
}

func NewAdminService(
	userRepo repositories.UserRepository,
	downloadRepo repositories.DownloadRepository,
	analytics *AnalyticsService,
	limiter RateLimiter,
	maintenance *MaintenanceService,
	notifier Notifier,
	defaultLang string,
	logger log.Logger,
) *AdminService {
	return &AdminService{
		UserRepo:        userRepo,
		DownloadRepo:    downloadRepo,
		Analytics:       analytics,
		Limiter:         limiter,
		Maintenance:     maintenance,
		Notifier:        notifier,
		DefaultLanguage: defaultLang,
		Logger:          logger,
		now:             time.Now,
	}
}

type Count struct {
	Name  string
	Count int
}

type SystemStats struct {
	TotalUsers     int
	ActiveUsers    int
	BannedUsers    int
	TotalDownloads int
	InProgress     int
	SuccessRate    float64
	AvgProcessing  time.Duration
	Platforms      []Count
	Languages      []Count
	// Failures counts failed requests by error kind.
	Failures []Count
}

func (s *AdminService) Stats(ctx context.Context) (*SystemStats, error) {
	users, err := s.UserRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	statuses, err := s.DownloadRepo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	overview, err := s.Analytics.Overview(ctx, time.Time{})
	if err != nil {
		return nil, err
	}
	platforms, err := s.Analytics.PlatformBreakdown(ctx, time.Time{})
	if err != nil {
		return nil, err
	}
	failures, err := s.DownloadRepo.CountFailures(ctx, time.Time{})
	if err != nil {
		return nil, err
	}

	activeSince := s.now().Add(-activeWindow)
	stats := &SystemStats{
		TotalUsers:     len(users),
		ActiveUsers:    len(lo.Filter(users, func(u models.User, _ int) bool { return u.ActiveSince(activeSince) })),
		BannedUsers:    len(lo.Filter(users, func(u models.User, _ int) bool { return u.IsBanned })),
		TotalDownloads: lo.SumBy(users, func(u models.User) int { return u.DownloadCount }),
		InProgress:     statuses[models.StatusPending] + statuses[models.StatusProcessing],
		SuccessRate:    overview.SuccessRate,
		AvgProcessing:  overview.AvgProcessing,
		Platforms: lo.Map(platforms, func(p PlatformStat, _ int) Count {
			return Count{Name: string(p.Platform), Count: p.Succeeded + p.Failed}
		}),
	}

	byLang := lo.GroupBy(users, func(u models.User) string { return u.Language(s.DefaultLanguage) })
	stats.Languages = sortCounts(lo.MapToSlice(byLang, func(lang string, us []models.User) Count {
		return Count{Name: lang, Count: len(us)}
	}))

	// requests stored before kinds were recorded have none
	byKind := make(map[string]int, len(failures))
	for kind, n := range failures {
		if kind == "" {
			kind = apperrors.KindOther
		}
		byKind[kind] += n
	}
	stats.Failures = sortCounts(lo.MapToSlice(byKind, func(kind string, n int) Count {
		return Count{Name: kind, Count: n}
	}))
	return stats, nil
}

// sortCounts orders by count, largest first, then by name.
func sortCounts(counts []Count) []Count {
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Name < counts[j].Name
	})
	return counts
}

type UserPage struct {
	Users []models.User
	Page  int
	Pages int
	Total int
}

// ListUsers returns a 1-based page of users, newest first. Out-of-range pages are clamped.
func (s *AdminService) ListUsers(ctx context.Context, page, limit int) (*UserPage, error) {
	users, err := s.UserRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	users = lo.Reverse(users)

	chunks := lo.Chunk(users, limit)
	out := &UserPage{Total: len(users), Pages: len(chunks)}
	if out.Pages == 0 {
		out.Page = 1
		return out, nil
	}
	out.Page = lo.Clamp(page, 1, out.Pages)
	out.Users = chunks[out.Page-1]
	return out, nil
}

type BroadcastResult struct {
	Sent   int
	Failed int
}

// Broadcast sends text to every user that is not banned. A non-empty lang restricts it to
// users with that language. text is plain text and gets escaped for the HTML parse mode.
func (s *AdminService) Broadcast(ctx context.Context, text, lang string) (BroadcastResult, error) {
	var res BroadcastResult
	text = html.EscapeString(text)
	users, err := s.UserRepo.List(ctx)
	if err != nil {
		return res, err
	}
	targets := lo.Filter(users, func(u models.User, _ int) bool {
		return !u.IsBanned && (lang == "" || u.Language(s.DefaultLanguage) == lang)
	})

	for _, u := range targets {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if err := s.Notifier.Notify(ctx, u.ID, text); err != nil {
			res.Failed++
			metrics.BroadcastMessagesTotal.WithLabelValues("failed").Inc()
			level.Debug(s.Logger).Log("msg", "broadcast delivery failed", "user_id", u.ID, "err", err)
			continue
		}
		res.Sent++
		metrics.BroadcastMessagesTotal.WithLabelValues("sent").Inc()
	}
	level.Info(s.Logger).Log("msg", "broadcast finished", "lang", lang, "sent", res.Sent, "failed", res.Failed)
	return res, nil
}

// SetBanned updates the ban flag and tells the user about it.
func (s *AdminService) SetBanned(ctx context.Context, userID int64, banned bool) error {
	if err := s.UserRepo.SetBanned(ctx, userID, banned); err != nil {
		return err
	}
	level.Info(s.Logger).Log("msg", "ban status changed", "user_id", userID, "banned", banned)

	lang := s.DefaultLanguage
	if u, err := s.UserRepo.GetByID(ctx, userID); err == nil {
		lang = u.Language(s.DefaultLanguage)
	}
	key := "user_unbanned_message"
	if banned {
		key = "user_banned_message"
	}
	if err := s.Notifier.Notify(ctx, userID, i18n.GetMessage(lang, key)); err != nil {
		level.Warn(s.Logger).Log("msg", "notify user about ban change", "user_id", userID, "err", err)
	}
	return nil
}

func (s *AdminService) ResetLimits(ctx context.Context, userID int64) error {
	if _, err := s.UserRepo.GetByID(ctx, userID); err != nil {
		return err
	}
	return s.Limiter.Reset(userID)
}

// SetDownloadLimit gives userID its own download limit of requests per window.
func (s *AdminService) SetDownloadLimit(ctx context.Context, userID int64, requests int, window time.Duration) error {
	if requests <= 0 || window <= 0 {
		return errors.Errorf("invalid limit %d per %s", requests, window)
	}
	if _, err := s.UserRepo.GetByID(ctx, userID); err != nil {
		return err
	}
	if err := s.Limiter.SetCustomLimit(userID, ratelimit.ActionDownload, ratelimit.Limit{Requests: requests, Window: window}); err != nil {
		return err
	}
	level.Info(s.Logger).Log("msg", "custom download limit set", "user_id", userID, "requests", requests, "window", window)
	return nil
}

func (s *AdminService) Cleanup(ctx context.Context) (CleanupReport, error) {
	return s.Maintenance.RunOnce(ctx)
}
