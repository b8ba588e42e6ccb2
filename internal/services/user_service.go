package services

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	tele "gopkg.in/telebot.v3"

	"github.com/bbr/multisavex/internal/apperrors"
	"github.com/bbr/multisavex/internal/i18n"
	"github.com/bbr/multisavex/internal/metrics"
	"github.com/bbr/multisavex/internal/models"
	"github.com/bbr/multisavex/internal/ratelimit"
	"github.com/bbr/multisavex/internal/repositories"
)

type UserService struct {
	UserRepo        repositories.UserRepository
	DownloadRepo    repositories.DownloadRepository
	Limiter         RateLimiter
	AdminIDs        []int64
	DefaultLanguage string
	Logger          log.Logger

	now func() time.Time
}

func NewUserService(userRepo repositories.UserRepository, downloadRepo repositories.DownloadRepository, limiter RateLimiter, adminIDs []int64, defaultLang string, logger log.Logger) *UserService {
	return &UserService{
		UserRepo:        userRepo,
		DownloadRepo:    downloadRepo,
		Limiter:         limiter,
		AdminIDs:        adminIDs,
		DefaultLanguage: defaultLang,
		Logger:          logger,
		now:             time.Now,
	}
}

// RegisterUser creates or refreshes the profile of teleUser. The Telegram language is only
// used for new users; a stored preference always wins.
func (s *UserService) RegisterUser(ctx context.Context, teleUser *tele.User) (*models.User, error) {
	if teleUser == nil {
		return nil, errors.New("no sender")
	}
	user := &models.User{
		ID:                teleUser.ID,
		FirstName:         teleUser.FirstName,
		LastName:          teleUser.LastName,
		Username:          teleUser.Username,
		LanguageCode:      i18n.Normalize(teleUser.LanguageCode, s.DefaultLanguage),
		IsTelegramPremium: teleUser.IsPremium,
		Role:              models.RoleUser,
	}
	if lo.Contains(s.AdminIDs, teleUser.ID) {
		user.Role = models.RoleAdmin
	}

	return s.UserRepo.Upsert(ctx, user)
}

// CheckMessageRate counts one message against the user's message window.
// Admins and banned users are not counted; banned users get ErrUserBanned.
func (s *UserService) CheckMessageRate(user *models.User) error {
	if user.IsBanned {
		return apperrors.ErrUserBanned
	}
	if user.IsAdmin() {
		return nil
	}
	d, err := s.Limiter.Allow(user.ID, ratelimit.ActionMessage)
	if err != nil {
		return err
	}
	if !d.Allowed {
		metrics.RateLimitedTotal.WithLabelValues(ratelimit.ActionMessage).Inc()
		return &apperrors.RateLimitError{Action: ratelimit.ActionMessage, RetryAfter: d.RetryAfter}
	}
	return nil
}

func (s *UserService) RecordActivity(ctx context.Context, userID int64) error {
	return s.UserRepo.UpdateActivity(ctx, userID, s.now())
}

func (s *UserService) UpdateLanguage(ctx context.Context, userID int64, langCode string) error {
	if !i18n.Supported(langCode) {
		return errors.Errorf("unsupported language %q", langCode)
	}
	return s.UserRepo.UpdateLanguage(ctx, userID, langCode)
}

const recentDownloads = 3

type UserStats struct {
	Downloads      int
	DownloadsToday int
	MemberSince    time.Time
	Language       string
	Remaining      int
	Limit          int
	// Recent holds the latest requests, newest first.
	Recent []models.DownloadRequest
}

func (s *UserService) Stats(ctx context.Context, user *models.User) (*UserStats, error) {
	now := s.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	today, err := s.DownloadRepo.CountSince(ctx, user.ID, startOfDay)
	if err != nil {
		level.Warn(s.Logger).Log("msg", "count today's downloads", "user_id", user.ID, "err", err)
	}

	recent, err := s.DownloadRepo.ListByUser(ctx, user.ID, recentDownloads)
	if err != nil {
		level.Warn(s.Logger).Log("msg", "list recent downloads", "user_id", user.ID, "err", err)
	}

	quota := s.Limiter.Info(user.ID, ratelimit.ActionDownload)
	return &UserStats{
		Downloads:      user.DownloadCount,
		DownloadsToday: today,
		MemberSince:    user.CreatedAt,
		Language:       user.Language(s.DefaultLanguage),
		Remaining:      quota.Remaining,
		Limit:          quota.Limit,
		Recent:         recent,
	}, nil
}
