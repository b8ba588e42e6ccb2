// Package ratelimit implements per-user fixed-window request limits.
//
// A window opens with the first accepted request of a (user, action) pair and lasts for
// the action's configured duration. Counters only grow inside a window and go back to zero
// when it expires. State lives in memory and every change is written through a Store.
package ratelimit

import (
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/bbr/multisavex/internal/apperrors"
)

const (
	ActionDownload = "download"
	ActionMessage  = "message"
)

// Limit allows Requests per Window. Requests <= 0 means unlimited.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Decision is the outcome of a check.
type Decision struct {
	Allowed    bool
	Used       int
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type Config struct {
	Limits map[string]Limit
	// FailClosed refuses requests whose counter could not be persisted.
	// By default the in-memory decision stands and the error is only logged.
	FailClosed bool
}

type Limiter struct {
	cfg    Config
	store  Store
	logger log.Logger

	mu    sync.Mutex
	users map[int64]*UserState
	now   func() time.Time
}

func NewLimiter(cfg Config, store Store, logger log.Logger) *Limiter {
	return &Limiter{
		cfg:    cfg,
		store:  store,
		logger: logger,
		users:  make(map[int64]*UserState),
		now:    time.Now,
	}
}

// Restore replaces the in-memory state with the stored snapshot.
func (l *Limiter) Restore() error {
	snap, err := l.store.Load()
	if err != nil {
		return apperrors.Persistence(err, "load rate limits")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.users = make(map[int64]*UserState, len(snap))
	for key, st := range snap {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || st == nil {
			level.Warn(l.logger).Log("msg", "skipping invalid rate limit entry", "key", key)
			continue
		}
		st.init()
		l.users[id] = st
	}
	return nil
}

// Allow counts one request of action for userID if the window has room.
func (l *Limiter) Allow(userID int64, action string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st := l.state(userID)
	lim := l.limitFor(st, action)
	if lim.Requests <= 0 {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	prev, hadWindow := st.Windows[action]
	w := prev
	if !hadWindow || !now.Before(w.ResetAt) {
		w = Window{ResetAt: now.Add(lim.Window)}
	}
	if w.Used >= lim.Requests {
		return decision(false, w, lim, now), nil
	}

	w.Used++
	st.Windows[action] = w

	if err := l.persist(); err != nil {
		if l.cfg.FailClosed {
			if hadWindow {
				st.Windows[action] = prev
			} else {
				delete(st.Windows, action)
			}
			return Decision{Allowed: false, Limit: lim.Requests}, err
		}
		level.Warn(l.logger).Log("msg", "rate limit state not persisted, allowing", "user_id", userID, "action", action, "err", err)
	}
	return decision(true, w, lim, now), nil
}

// Info reports the current window for userID without counting a request.
func (l *Limiter) Info(userID int64, action string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	lim := l.limitFor(l.users[userID], action)
	if lim.Requests <= 0 {
		return Decision{Allowed: true, Remaining: -1}
	}

	var w Window
	if st, ok := l.users[userID]; ok {
		w = st.Windows[action]
	}
	if w.ResetAt.IsZero() || !now.Before(w.ResetAt) {
		w = Window{ResetAt: now.Add(lim.Window)}
	}
	return decision(w.Used < lim.Requests, w, lim, now)
}

// Reset clears every window of userID. Custom limits are kept.
func (l *Limiter) Reset(userID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.users[userID]
	if !ok {
		return nil
	}
	st.Windows = make(map[string]Window)
	if len(st.CustomLimits) == 0 {
		delete(l.users, userID)
	}
	return l.persist()
}

// SetCustomLimit overrides the default limit of action for userID.
func (l *Limiter) SetCustomLimit(userID int64, action string, lim Limit) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.state(userID)
	st.CustomLimits[action] = LimitConfig{Requests: lim.Requests, PeriodSeconds: int(lim.Window / time.Second)}
	return l.persist()
}

// Cleanup drops expired windows and returns how many were removed.
func (l *Limiter) Cleanup() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, st := range l.users {
		for action, w := range st.Windows {
			if !now.Before(w.ResetAt) {
				delete(st.Windows, action)
				removed++
			}
		}
		if len(st.Windows) == 0 && len(st.CustomLimits) == 0 {
			delete(l.users, id)
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, l.persist()
}

// Caller holds mu.
func (l *Limiter) state(userID int64) *UserState {
	st, ok := l.users[userID]
	if !ok {
		st = &UserState{}
		st.init()
		l.users[userID] = st
	}
	return st
}

func (l *Limiter) limitFor(st *UserState, action string) Limit {
	if st != nil {
		if c, ok := st.CustomLimits[action]; ok {
			return Limit{Requests: c.Requests, Window: time.Duration(c.PeriodSeconds) * time.Second}
		}
	}
	return l.cfg.Limits[action]
}

// Caller holds mu.
func (l *Limiter) persist() error {
	snap := make(Snapshot, len(l.users))
	for id, st := range l.users {
		snap[strconv.FormatInt(id, 10)] = st.clone()
	}
	return apperrors.Persistence(l.store.Save(snap), "save rate limits")
}

func decision(allowed bool, w Window, lim Limit, now time.Time) Decision {
	d := Decision{
		Allowed:   allowed,
		Used:      w.Used,
		Limit:     lim.Requests,
		Remaining: lim.Requests - w.Used,
		ResetAt:   w.ResetAt,
	}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !allowed {
		d.RetryAfter = w.ResetAt.Sub(now)
	}
	return d
}
