package datasources

import (
	"context"
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

//go:embed migrations/*.sql
var migrations embed.FS

func NewPostgresConnection(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	return db, nil
}

// RunMigrations applies the embedded SQL files in name order. Statements that fail because
// the object already exists are treated as applied.
func RunMigrations(ctx context.Context, db *sql.DB, logger log.Logger) error {
	files, err := migrations.ReadDir("migrations")
	if err != nil {
		return errors.Wrap(err, "read migrations")
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		if strings.HasSuffix(f.Name(), ".sql") {
			names = append(names, f.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := migrations.ReadFile(path.Join("migrations", name))
		if err != nil {
			return errors.Wrapf(err, "read migration %s", name)
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			if !isAlreadyExistsError(err) {
				return errors.Wrapf(err, "apply migration %s", name)
			}
			level.Info(logger).Log("msg", "migration already applied, skipping", "migration", name)
			continue
		}
		level.Info(logger).Log("msg", "migration applied", "migration", name)
	}
	return nil
}

func isAlreadyExistsError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 42P07 duplicate_table, 42701 duplicate_column, 42710 duplicate_object
		switch pqErr.Code {
		case "42P07", "42701", "42710":
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate")
}
