package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/bbr/multisavex/internal/apperrors"
	"github.com/bbr/multisavex/internal/models"
)

type PostgresUserRepository struct {
	DB *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{DB: db}
}

const userColumns = `id, first_name, last_name, username, language_code, is_telegram_premium, role,
	created_at, updated_at, last_active_at, download_count, is_banned`

func (r *PostgresUserRepository) Upsert(ctx context.Context, user *models.User) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	role := user.Role
	if role == "" {
		role = models.RoleUser
	}

	query := `
		INSERT INTO users (id, first_name, last_name, username, language_code, is_telegram_premium, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			username = EXCLUDED.username,
			is_telegram_premium = EXCLUDED.is_telegram_premium,
			role = EXCLUDED.role,
			updated_at = NOW()
		RETURNING ` + userColumns

	row := r.DB.QueryRowContext(ctx, query,
		user.ID,
		user.FirstName,
		user.LastName,
		user.Username,
		user.LanguageCode,
		user.IsTelegramPremium,
		role,
	)
	out, err := scanUser(row)
	if err != nil {
		return nil, apperrors.Persistence(err, "upsert user")
	}
	return out, nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, apperrors.Persistence(err, "get user")
	}
	return user, nil
}

func (r *PostgresUserRepository) List(ctx context.Context) ([]models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, apperrors.Persistence(err, "list users")
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, apperrors.Persistence(err, "scan user")
		}
		users = append(users, *u)
	}
	return users, apperrors.Persistence(rows.Err(), "list users")
}

func (r *PostgresUserRepository) UpdateLanguage(ctx context.Context, id int64, langCode string) error {
	return r.exec(ctx, "update language", `UPDATE users SET language_code = $1, updated_at = NOW() WHERE id = $2`, langCode, id)
}

func (r *PostgresUserRepository) UpdateActivity(ctx context.Context, id int64, at time.Time) error {
	return r.exec(ctx, "update activity", `UPDATE users SET last_active_at = $1 WHERE id = $2`, at, id)
}

func (r *PostgresUserRepository) IncrementDownloads(ctx context.Context, id int64) error {
	return r.exec(ctx, "increment downloads", `UPDATE users SET download_count = download_count + 1, updated_at = NOW() WHERE id = $1`, id)
}

func (r *PostgresUserRepository) SetBanned(ctx context.Context, id int64, banned bool) error {
	return r.exec(ctx, "set banned", `UPDATE users SET is_banned = $1, updated_at = NOW() WHERE id = $2`, banned, id)
}

func (r *PostgresUserRepository) exec(ctx context.Context, op, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.Persistence(err, op)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var lastActive sql.NullTime
	err := row.Scan(
		&user.ID,
		&user.FirstName,
		&user.LastName,
		&user.Username,
		&user.LanguageCode,
		&user.IsTelegramPremium,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
		&lastActive,
		&user.DownloadCount,
		&user.IsBanned,
	)
	if err != nil {
		return nil, err
	}
	if lastActive.Valid {
		user.LastActiveAt = &lastActive.Time
	}
	return user, nil
}
