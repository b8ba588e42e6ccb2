package repositories

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bbr/multisavex/internal/apperrors"
	"github.com/bbr/multisavex/internal/datasources"
	"github.com/bbr/multisavex/internal/models"
)

// JSONUserRepository keeps users in memory and mirrors every change to users.json.
type JSONUserRepository struct {
	File *datasources.JSONFile

	mu    sync.RWMutex
	users map[int64]*models.User
	now   func() time.Time
}

func NewJSONUserRepository(file *datasources.JSONFile) (*JSONUserRepository, error) {
	r := &JSONUserRepository{File: file, users: make(map[int64]*models.User), now: time.Now}

	stored := map[string]*models.User{}
	if err := file.Load(&stored); err != nil {
		return nil, apperrors.Persistence(err, "load users")
	}
	for _, u := range stored {
		if u != nil {
			r.users[u.ID] = u
		}
	}
	return r, nil
}

func (r *JSONUserRepository) Upsert(ctx context.Context, user *models.User) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	prev, exists := r.users[user.ID]

	next := *user
	next.UpdatedAt = now
	if exists {
		next.LanguageCode = prev.LanguageCode
		next.DownloadCount = prev.DownloadCount
		next.IsBanned = prev.IsBanned
		next.CreatedAt = prev.CreatedAt
		next.LastActiveAt = prev.LastActiveAt
	} else {
		next.CreatedAt = now
	}
	if next.Role == "" {
		next.Role = models.RoleUser
	}

	if err := r.commit(user.ID, &next, prev, exists); err != nil {
		return nil, err
	}
	out := next
	return &out, nil
}

func (r *JSONUserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	out := *u
	return &out, nil
}

func (r *JSONUserRepository) List(ctx context.Context) ([]models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *JSONUserRepository) UpdateLanguage(ctx context.Context, id int64, langCode string) error {
	return r.mutate(id, func(u *models.User) { u.LanguageCode = langCode })
}

func (r *JSONUserRepository) UpdateActivity(ctx context.Context, id int64, at time.Time) error {
	return r.mutate(id, func(u *models.User) { u.LastActiveAt = &at })
}

func (r *JSONUserRepository) IncrementDownloads(ctx context.Context, id int64) error {
	return r.mutate(id, func(u *models.User) { u.DownloadCount++ })
}

func (r *JSONUserRepository) SetBanned(ctx context.Context, id int64, banned bool) error {
	return r.mutate(id, func(u *models.User) { u.IsBanned = banned })
}

func (r *JSONUserRepository) mutate(id int64, fn func(u *models.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.users[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	next := *prev
	fn(&next)
	next.UpdatedAt = r.now()
	return r.commit(id, &next, prev, true)
}

// commit installs next and saves the collection, restoring prev if the write fails.
// Caller holds mu.
func (r *JSONUserRepository) commit(id int64, next, prev *models.User, existed bool) error {
	r.users[id] = next
	if err := r.File.Save(r.snapshot()); err != nil {
		if existed {
			r.users[id] = prev
		} else {
			delete(r.users, id)
		}
		return apperrors.Persistence(err, "save users")
	}
	return nil
}

func (r *JSONUserRepository) snapshot() map[string]*models.User {
	out := make(map[string]*models.User, len(r.users))
	for id, u := range r.users {
		out[strconv.FormatInt(id, 10)] = u
	}
	return out
}
