package controllers

import (
	"context"
	"html"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	tele "gopkg.in/telebot.v3"
	"gopkg.in/telebot.v3/middleware"

	"github.com/bbr/multisavex/internal/apperrors"
	"github.com/bbr/multisavex/internal/i18n"
	"github.com/bbr/multisavex/internal/models"
	"github.com/bbr/multisavex/internal/sentry"
	"github.com/bbr/multisavex/internal/services"
)

const userKey = "user"

var langBtn = &tele.Btn{Unique: "lang"}

// Messenger is the part of *tele.Bot the download flow talks through.
type Messenger interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
	Delete(msg tele.Editable) error
}

type TelegramController struct {
	Bot             *tele.Bot
	Messenger       Messenger
	UserService     *services.UserService
	DownloadService *services.DownloadService
	MaxFileSizeMB   int
	DefaultLanguage string
	Logger          log.Logger

	runCtx context.Context
}

func NewTelegramController(
	bot *tele.Bot,
	userService *services.UserService,
	downloadService *services.DownloadService,
	maxFileSizeMB int,
	defaultLang string,
	logger log.Logger,
) *TelegramController {
	return &TelegramController{
		Bot:             bot,
		Messenger:       bot,
		UserService:     userService,
		DownloadService: downloadService,
		MaxFileSizeMB:   maxFileSizeMB,
		DefaultLanguage: defaultLang,
		Logger:          logger,
	}
}

func (c *TelegramController) SetupHandlers() {
	c.Bot.Use(middleware.Recover(reportPanic(c.Logger, "user")))
	c.Bot.Use(c.withUser)

	c.Bot.Handle("/start", c.StartHandler)
	c.Bot.Handle("/help", c.HelpHandler)
	c.Bot.Handle("/language", c.LanguageHandler)
	c.Bot.Handle("/stats", c.StatsHandler)
	c.Bot.Handle(langBtn, c.LanguageCallback)
	c.Bot.Handle(tele.OnText, c.TextHandler)
}

// Run polls for updates until ctx is cancelled.
func (c *TelegramController) Run(ctx context.Context) error {
	c.runCtx = ctx
	c.SetupHandlers()
	go func() {
		<-ctx.Done()
		c.Bot.Stop()
	}()
	level.Info(c.Logger).Log("msg", "user bot started", "username", c.Bot.Me.Username)
	c.Bot.Start()
	return nil
}

func (c *TelegramController) context() context.Context {
	if c.runCtx == nil {
		return context.Background()
	}
	return c.runCtx
}

// withUser registers the sender, applies the message limit and stores the user on the context.
func (c *TelegramController) withUser(next tele.HandlerFunc) tele.HandlerFunc {
	return func(ctx tele.Context) error {
		sender := ctx.Sender()
		if sender == nil || sender.IsBot {
			return nil
		}
		user, err := c.UserService.RegisterUser(c.context(), sender)
		if err != nil {
			sentry.CaptureError(c.Logger, err, "register user", "user_id", formatID(sender.ID))
			return ctx.Send(i18n.GetMessage(i18n.Normalize(sender.LanguageCode, c.DefaultLanguage), "error_occurred"))
		}
		lang := user.Language(c.DefaultLanguage)

		if err := c.UserService.CheckMessageRate(user); err != nil {
			text := c.errorText(lang, err)
			if ctx.Callback() != nil {
				return ctx.Respond(&tele.CallbackResponse{Text: text})
			}
			return ctx.Send(text)
		}
		if err := c.UserService.RecordActivity(c.context(), user.ID); err != nil {
			level.Warn(c.Logger).Log("msg", "record activity", "user_id", user.ID, "err", err)
		}

		ctx.Set(userKey, user)
		return next(ctx)
	}
}

func (c *TelegramController) currentUser(ctx tele.Context) *models.User {
	if u, ok := ctx.Get(userKey).(*models.User); ok {
		return u
	}
	return &models.User{ID: ctx.Sender().ID}
}

func (c *TelegramController) StartHandler(ctx tele.Context) error {
	lang := c.currentUser(ctx).Language(c.DefaultLanguage)
	if err := ctx.Send(i18n.GetMessage(lang, "start")); err != nil {
		return err
	}
	return ctx.Send(i18n.GetMessage(lang, "language_select"), languageMenu())
}

func (c *TelegramController) HelpHandler(ctx tele.Context) error {
	lang := c.currentUser(ctx).Language(c.DefaultLanguage)
	return ctx.Send(i18n.GetMessage(lang, "help"))
}

func (c *TelegramController) LanguageHandler(ctx tele.Context) error {
	lang := c.currentUser(ctx).Language(c.DefaultLanguage)
	return ctx.Send(i18n.GetMessage(lang, "language_select"), languageMenu())
}

func (c *TelegramController) LanguageCallback(ctx tele.Context) error {
	langCode := ctx.Data()
	user := c.currentUser(ctx)

	if err := c.UserService.UpdateLanguage(c.context(), user.ID, langCode); err != nil {
		level.Warn(c.Logger).Log("msg", "update language", "user_id", user.ID, "lang", langCode, "err", err)
		return ctx.Respond(&tele.CallbackResponse{Text: i18n.GetMessage(user.Language(c.DefaultLanguage), "error_occurred")})
	}
	_ = ctx.Respond()

	if err := ctx.Delete(); err != nil {
		level.Debug(c.Logger).Log("msg", "delete language menu", "err", err)
	}
	return ctx.Send(i18n.GetMessage(langCode, "language_changed") + "\n\n" + i18n.GetMessage(langCode, "help"))
}

func (c *TelegramController) StatsHandler(ctx tele.Context) error {
	user := c.currentUser(ctx)
	lang := user.Language(c.DefaultLanguage)

	stats, err := c.UserService.Stats(c.context(), user)
	if err != nil {
		sentry.CaptureError(c.Logger, err, "user stats", "user_id", formatID(user.ID))
		return ctx.Send(i18n.GetMessage(lang, "error_occurred"))
	}
	return ctx.Send(formatUserStats(lang, stats))
}

func (c *TelegramController) TextHandler(ctx tele.Context) error {
	return c.handleLink(ctx.Recipient(), c.currentUser(ctx), ctx.Text())
}

// handleLink downloads the link in text and sends the media back to the chat. The status
// message follows the request and is removed once the media is out.
func (c *TelegramController) handleLink(to tele.Recipient, user *models.User, text string) error {
	lang := user.Language(c.DefaultLanguage)

	status, err := c.Messenger.Send(to, i18n.GetMessage(lang, "processing"))
	if err != nil {
		level.Warn(c.Logger).Log("msg", "send status message", "user_id", user.ID, "err", err)
	}

	res, err := c.DownloadService.ProcessDownload(c.context(), user, text, func() {
		c.editStatus(status, i18n.GetMessage(lang, "downloading"))
	})
	if err != nil {
		c.deleteStatus(status)
		_, err = c.Messenger.Send(to, c.errorText(lang, err))
		return err
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			level.Warn(c.Logger).Log("msg", "remove downloaded files", "request_id", res.Request.ID, "err", err)
		}
	}()

	c.editStatus(status, i18n.GetMessage(lang, "download_success"))
	if len(res.Cached) > 0 {
		c.sendCached(to, res.Cached)
	} else {
		sent := c.sendFiles(to, res.Files)
		c.DownloadService.RememberMedia(res.Request.URL, sent)
	}
	c.deleteStatus(status)

	if res.Skipped > 0 {
		_, err = c.Messenger.Send(to, i18n.Format(lang, "partial_oversize", c.MaxFileSizeMB))
		return err
	}
	return nil
}

// sendFiles uploads every file and returns the file ids Telegram assigned to them.
// A failed upload is logged and the remaining files are still sent.
func (c *TelegramController) sendFiles(to tele.Recipient, files []models.MediaFile) []models.CachedMedia {
	sent := make([]models.CachedMedia, 0, len(files))
	for _, f := range files {
		file := tele.FromDisk(f.Path)
		msg, err := c.Messenger.Send(to, mediaFor(f.Kind, file, filepath.Base(f.Path)))
		if err != nil {
			level.Error(c.Logger).Log("msg", "upload media", "file", filepath.Base(f.Path), "size", f.Size, "err", err)
			continue
		}
		if id := sentFileID(msg); id != "" {
			sent = append(sent, models.CachedMedia{FileID: id, Kind: f.Kind})
		}
	}
	// a partial upload must not be served as the full result later
	if len(sent) != len(files) {
		return nil
	}
	return sent
}

func (c *TelegramController) sendCached(to tele.Recipient, media []models.CachedMedia) {
	for _, m := range media {
		if _, err := c.Messenger.Send(to, mediaFor(m.Kind, tele.File{FileID: m.FileID}, "")); err != nil {
			level.Error(c.Logger).Log("msg", "send cached media", "file_id", m.FileID, "err", err)
		}
	}
}

func (c *TelegramController) editStatus(status *tele.Message, text string) {
	if status == nil {
		return
	}
	if _, err := c.Messenger.Edit(status, text); err != nil {
		level.Debug(c.Logger).Log("msg", "edit status message", "err", err)
	}
}

func (c *TelegramController) deleteStatus(status *tele.Message) {
	if status == nil {
		return
	}
	if err := c.Messenger.Delete(status); err != nil {
		level.Debug(c.Logger).Log("msg", "delete status message", "err", err)
	}
}

// errorText turns err into a localized reply. Errors without a user-facing kind are reported.
func (c *TelegramController) errorText(lang string, err error) string {
	key, args := errorMessage(err, c.MaxFileSizeMB)
	if key == "error_occurred" {
		sentry.CaptureError(c.Logger, err, "unexpected bot error")
	}
	return i18n.Format(lang, key, args...)
}

// reportPanic sends a recovered handler panic to Sentry, tagged with the bot and the sender.
func reportPanic(logger log.Logger, bot string) middleware.RecoverFunc {
	return func(err error, ctx tele.Context) {
		tags := []string{"bot", bot}
		if ctx != nil && ctx.Sender() != nil {
			tags = append(tags, "user_id", formatID(ctx.Sender().ID))
		}
		sentry.CaptureError(logger, err, "panic in bot handler", tags...)
	}
}

func errorMessage(err error, maxFileSizeMB int) (string, []interface{}) {
	switch {
	case errors.Is(err, apperrors.ErrUserBanned):
		return "user_banned_message", nil
	case errors.Is(err, apperrors.ErrUnsupportedURL):
		return "unsupported_url", nil
	case errors.Is(err, apperrors.ErrInvalidURL):
		return "invalid_url", nil
	case errors.Is(err, apperrors.ErrRateLimited):
		wait, _ := apperrors.RetryAfter(err)
		return "rate_limited", []interface{}{formatWait(wait)}
	case errors.Is(err, apperrors.ErrFileTooLarge):
		return "file_too_large", []interface{}{maxFileSizeMB}
	case errors.Is(err, apperrors.ErrPrivateContent):
		return "private_content", nil
	case errors.Is(err, apperrors.ErrTimeout):
		return "timeout", nil
	case errors.Is(err, apperrors.ErrDownloadFailed):
		return "download_failed", []interface{}{html.EscapeString(shortReason(err))}
	default:
		return "error_occurred", nil
	}
}

func formatUserStats(lang string, stats *services.UserStats) string {
	remaining, limit := stats.Remaining, stats.Limit
	if limit <= 0 {
		remaining, limit = 0, 0
	}
	var b strings.Builder
	b.WriteString(i18n.Format(lang, "user_stats",
		stats.Downloads,
		stats.DownloadsToday,
		stats.MemberSince.Format("2006-01-02"),
		i18n.GetMessage(stats.Language, "lang_name"),
		remaining, limit,
	))
	if len(stats.Recent) > 0 {
		b.WriteString("\n\n")
		b.WriteString(i18n.GetMessage(lang, "recent_downloads"))
		for _, req := range stats.Recent {
			b.WriteString("\n")
			b.WriteString(i18n.Format(lang, "recent_line",
				statusIcon(req.Status), req.Platform, req.CreatedAt.UTC().Format("2006-01-02 15:04")))
		}
	}
	return b.String()
}

func statusIcon(status models.DownloadStatus) string {
	switch status {
	case models.StatusSucceeded:
		return "✅"
	case models.StatusFailed:
		return "❌"
	default:
		return "⏳"
	}
}

func formatWait(d time.Duration) string {
	if d < time.Second {
		d = time.Second
	}
	return d.Round(time.Second).String()
}

// shortReason keeps the innermost cause, cut to fit a chat message.
func shortReason(err error) string {
	var dlErr *apperrors.DownloadError
	if errors.As(err, &dlErr) && dlErr.Err != nil {
		err = dlErr.Err
	}
	reason := err.Error()
	if r := []rune(reason); len(r) > 200 {
		reason = string(r[:200]) + "…"
	}
	return reason
}

func languageMenu() *tele.ReplyMarkup {
	menu := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(i18n.Languages))
	for _, lang := range i18n.Languages {
		rows = append(rows, menu.Row(menu.Data(i18n.GetMessage(lang, "lang_name"), langBtn.Unique, lang)))
	}
	menu.Inline(rows...)
	return menu
}

func mediaFor(kind models.MediaKind, file tele.File, name string) tele.Sendable {
	switch kind {
	case models.KindVideo:
		return &tele.Video{File: file, FileName: name, Streaming: true}
	case models.KindImage:
		return &tele.Photo{File: file}
	default:
		return &tele.Document{File: file, FileName: name}
	}
}

func sentFileID(msg *tele.Message) string {
	switch {
	case msg == nil:
		return ""
	case msg.Video != nil:
		return msg.Video.FileID
	case msg.Photo != nil:
		return msg.Photo.FileID
	case msg.Document != nil:
		return msg.Document.FileID
	}
	return ""
}
