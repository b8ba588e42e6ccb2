package datasources

import (
	"context"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v3"
)

func NewTelegramBot(token string, pollTimeout time.Duration, logger log.Logger) (*tele.Bot, error) {
	if token == "" {
		return nil, errors.New("telegram bot token is not set")
	}

	pref := tele.Settings{
		Token:     token,
		Poller:    &tele.LongPoller{Timeout: pollTimeout},
		ParseMode: tele.ModeHTML,
		OnError: func(err error, c tele.Context) {
			if c != nil && c.Sender() != nil {
				level.Error(logger).Log("msg", "telegram handler failed", "user_id", c.Sender().ID, "err", err)
				return
			}
			level.Error(logger).Log("msg", "telegram error", "err", err)
		},
	}

	b, err := tele.NewBot(pref)
	if err != nil {
		return nil, errors.Wrap(err, "create telegram bot")
	}
	return b, nil
}

// Sender is the subset of *tele.Bot used to push messages outside of an update.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// TelegramNotifier sends direct messages to users, paced to stay under Telegram's flood limits.
type TelegramNotifier struct {
	Bot     Sender
	Limiter *rate.Limiter
}

// NewTelegramNotifier paces messages at perSecond with a burst of one. perSecond <= 0 disables pacing.
func NewTelegramNotifier(bot Sender, perSecond float64) *TelegramNotifier {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &TelegramNotifier{Bot: bot, Limiter: rate.NewLimiter(limit, 1)}
}

func (n *TelegramNotifier) Notify(ctx context.Context, userID int64, text string) error {
	if err := n.Limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := n.Bot.Send(tele.ChatID(userID), text)
	return errors.Wrapf(err, "notify user %d", userID)
}
