package controllers

import (
	"context"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	tele "gopkg.in/telebot.v3"
	"gopkg.in/telebot.v3/middleware"

	"github.com/bbr/multisavex/internal/apperrors"
	"github.com/bbr/multisavex/internal/i18n"
	"github.com/bbr/multisavex/internal/sentry"
	"github.com/bbr/multisavex/internal/services"
)

const langPrefix = "lang:"

// AdminController serves the admin bot. Only ADMIN_IDS get an answer.
type AdminController struct {
	Bot          *tele.Bot
	AdminService *services.AdminService
	AdminIDs     []int64
	Language     string
	Logger       log.Logger

	runCtx context.Context
}

func NewAdminController(bot *tele.Bot, adminService *services.AdminService, adminIDs []int64, lang string, logger log.Logger) *AdminController {
	return &AdminController{
		Bot:          bot,
		AdminService: adminService,
		AdminIDs:     adminIDs,
		Language:     lang,
		Logger:       logger,
	}
}

func (c *AdminController) SetupHandlers() {
	c.Bot.Use(middleware.Recover(reportPanic(c.Logger, "admin")))
	c.Bot.Use(middleware.Whitelist(c.AdminIDs...))

	c.Bot.Handle("/start", c.HelpHandler)
	c.Bot.Handle("/help", c.HelpHandler)
	c.Bot.Handle("/stats", c.StatsHandler)
	c.Bot.Handle("/users", c.UsersHandler)
	c.Bot.Handle("/broadcast", c.BroadcastHandler)
	c.Bot.Handle("/ban", c.banHandler(true))
	c.Bot.Handle("/unban", c.banHandler(false))
	c.Bot.Handle("/reset", c.ResetHandler)
	c.Bot.Handle("/limit", c.LimitHandler)
	c.Bot.Handle("/cleanup", c.CleanupHandler)
}

// Run polls for updates until ctx is cancelled.
func (c *AdminController) Run(ctx context.Context) error {
	c.runCtx = ctx
	c.SetupHandlers()
	go func() {
		<-ctx.Done()
		c.Bot.Stop()
	}()
	level.Info(c.Logger).Log("msg", "admin bot started", "username", c.Bot.Me.Username, "admins", len(c.AdminIDs))
	c.Bot.Start()
	return nil
}

func (c *AdminController) context() context.Context {
	if c.runCtx == nil {
		return context.Background()
	}
	return c.runCtx
}

func (c *AdminController) HelpHandler(ctx tele.Context) error {
	return ctx.Send(i18n.GetMessage(c.Language, "admin_help"))
}

func (c *AdminController) StatsHandler(ctx tele.Context) error {
	stats, err := c.AdminService.Stats(c.context())
	if err != nil {
		return c.fail(ctx, err, "admin stats")
	}
	return ctx.Send(formatSystemStats(c.Language, stats))
}

func (c *AdminController) UsersHandler(ctx tele.Context) error {
	page := 1
	if args := ctx.Args(); len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil {
			page = n
		}
	}
	res, err := c.AdminService.ListUsers(c.context(), page, services.DefaultPageSize)
	if err != nil {
		return c.fail(ctx, err, "list users")
	}
	return ctx.Send(formatUserPage(c.Language, res, services.DefaultPageSize))
}

func (c *AdminController) BroadcastHandler(ctx tele.Context) error {
	lang, text, ok := parseBroadcast(ctx.Message().Payload)
	if !ok {
		return ctx.Send(i18n.GetMessage(c.Language, "broadcast_usage"))
	}
	res, err := c.AdminService.Broadcast(c.context(), text, lang)
	if err != nil {
		return c.fail(ctx, err, "broadcast")
	}
	return ctx.Send(i18n.Format(c.Language, "broadcast_sent", res.Sent, res.Failed))
}

func (c *AdminController) banHandler(banned bool) tele.HandlerFunc {
	command, reply := "/unban", "user_unbanned"
	if banned {
		command, reply = "/ban", "user_banned"
	}
	return func(ctx tele.Context) error {
		id, ok := parseUserID(ctx.Args())
		if !ok {
			return ctx.Send(i18n.Format(c.Language, "user_id_usage", command))
		}
		if err := c.AdminService.SetBanned(c.context(), id, banned); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return ctx.Send(i18n.Format(c.Language, "user_not_found", id))
			}
			return c.fail(ctx, err, "set banned")
		}
		return ctx.Send(i18n.Format(c.Language, reply, id))
	}
}

func (c *AdminController) ResetHandler(ctx tele.Context) error {
	id, ok := parseUserID(ctx.Args())
	if !ok {
		return ctx.Send(i18n.Format(c.Language, "user_id_usage", "/reset"))
	}
	if err := c.AdminService.ResetLimits(c.context(), id); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return ctx.Send(i18n.Format(c.Language, "user_not_found", id))
		}
		return c.fail(ctx, err, "reset limits")
	}
	return ctx.Send(i18n.Format(c.Language, "limits_reset", id))
}

func (c *AdminController) LimitHandler(ctx tele.Context) error {
	id, requests, window, ok := parseLimit(ctx.Args())
	if !ok {
		return ctx.Send(i18n.GetMessage(c.Language, "limit_usage"))
	}
	if err := c.AdminService.SetDownloadLimit(c.context(), id, requests, window); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return ctx.Send(i18n.Format(c.Language, "user_not_found", id))
		}
		return c.fail(ctx, err, "set download limit")
	}
	return ctx.Send(i18n.Format(c.Language, "limit_set", id, requests, window))
}

func (c *AdminController) CleanupHandler(ctx tele.Context) error {
	report, err := c.AdminService.Cleanup(c.context())
	if err != nil {
		return c.fail(ctx, err, "cleanup")
	}
	return ctx.Send(i18n.Format(c.Language, "cleanup_done", report.Requests, report.Analytics, report.Windows))
}

func (c *AdminController) fail(ctx tele.Context, err error, message string) error {
	sentry.CaptureError(c.Logger, err, message, "bot", "admin")
	return ctx.Send(i18n.GetMessage(c.Language, "error_occurred"))
}

// parseBroadcast splits "/broadcast [lang:xx] text". An unknown language or empty text is rejected.
func parseBroadcast(payload string) (lang, text string, ok bool) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, langPrefix) {
		head, rest, _ := strings.Cut(payload, " ")
		lang = strings.ToLower(strings.TrimPrefix(head, langPrefix))
		if !i18n.Supported(lang) {
			return "", "", false
		}
		payload = strings.TrimSpace(rest)
	}
	if payload == "" {
		return "", "", false
	}
	return lang, payload, true
}

func parseUserID(args []string) (int64, bool) {
	if len(args) == 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// parseLimit reads "user_id requests seconds".
func parseLimit(args []string) (int64, int, time.Duration, bool) {
	if len(args) != 3 {
		return 0, 0, 0, false
	}
	id, ok := parseUserID(args[:1])
	if !ok {
		return 0, 0, 0, false
	}
	requests, err := strconv.Atoi(args[1])
	if err != nil || requests <= 0 {
		return 0, 0, 0, false
	}
	seconds, err := strconv.Atoi(args[2])
	if err != nil || seconds <= 0 {
		return 0, 0, 0, false
	}
	return id, requests, time.Duration(seconds) * time.Second, true
}

func formatSystemStats(lang string, s *services.SystemStats) string {
	var b strings.Builder
	b.WriteString(i18n.Format(lang, "system_stats",
		s.TotalUsers, s.ActiveUsers, s.BannedUsers, s.TotalDownloads,
		s.SuccessRate, s.AvgProcessing.Seconds(), s.InProgress,
	))
	writeCounts(&b, lang, "stats_platforms", s.Platforms)
	writeCounts(&b, lang, "stats_languages", s.Languages)
	writeCounts(&b, lang, "stats_errors", s.Failures)
	return b.String()
}

func writeCounts(b *strings.Builder, lang, titleKey string, counts []services.Count) {
	if len(counts) == 0 {
		return
	}
	b.WriteString("\n\n")
	b.WriteString(i18n.GetMessage(lang, titleKey))
	for _, cnt := range counts {
		b.WriteString("\n")
		b.WriteString(i18n.Format(lang, "stats_line", html.EscapeString(cnt.Name), cnt.Count))
	}
}

func formatUserPage(lang string, p *services.UserPage, pageSize int) string {
	if p.Total == 0 {
		return i18n.GetMessage(lang, "users_empty")
	}
	var b strings.Builder
	b.WriteString(i18n.Format(lang, "users_page", p.Page, p.Pages, p.Total))
	offset := (p.Page - 1) * pageSize
	for i, u := range p.Users {
		name := u.DisplayName()
		if u.IsBanned {
			name = "🚫 " + name
		}
		b.WriteString("\n")
		b.WriteString(i18n.Format(lang, "users_line",
			offset+i+1, html.EscapeString(name), u.ID, u.Language("-"), u.DownloadCount))
	}
	return b.String()
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
