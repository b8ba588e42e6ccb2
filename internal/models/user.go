package models

import (
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID                int64      `json:"id"`
	FirstName         string     `json:"first_name"`
	LastName          string     `json:"last_name"`
	Username          string     `json:"username"`
	LanguageCode      string     `json:"language_code"`
	IsTelegramPremium bool       `json:"is_telegram_premium"`
	Role              string     `json:"role"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	LastActiveAt      *time.Time `json:"last_active_at,omitempty"`
	DownloadCount     int        `json:"download_count"`
	IsBanned          bool       `json:"is_banned"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Language returns the preferred language or fallback when none is stored.
func (u *User) Language(fallback string) string {
	if u == nil || u.LanguageCode == "" {
		return fallback
	}
	return u.LanguageCode
}

// ActiveSince reports whether the user did anything after t.
func (u *User) ActiveSince(t time.Time) bool {
	return u.LastActiveAt != nil && u.LastActiveAt.After(t)
}

func (u *User) DisplayName() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	return name
}
