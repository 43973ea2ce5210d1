package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// schema is valid for both SQLite and PostgreSQL. Timestamps are unix seconds.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL DEFAULT '',
    picture_url TEXT NOT NULL DEFAULT '',
    plan TEXT NOT NULL DEFAULT 'free',
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_counters (
    user_id TEXT NOT NULL,
    month TEXT NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, month)
);
`

var userColumns = []string{"id", "email", "name", "picture_url", "plan", "created_at", "updated_at"}

// SQLStore implements Store on SQLite or PostgreSQL
type SQLStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
	closer  func()
}

// OpenSQLite opens (creating if needed) a SQLite database at path
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// one connection keeps writers from tripping over SQLITE_BUSY
	db.SetMaxOpenConns(1)

	return newSQLStore(ctx, db, sq.Question, nil)
}

// OpenPostgres connects to PostgreSQL through a pgx pool
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres dsn: %w", err)
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = "docstream"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	return newSQLStore(ctx, stdlib.OpenDBFromPool(pool), sq.Dollar, pool.Close)
}

func newSQLStore(ctx context.Context, db *sql.DB, placeholder sq.PlaceholderFormat, closer func()) (*SQLStore, error) {
	s := &SQLStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholder),
		closer:  closer,
	}

	if err := db.PingContext(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		s.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// UpsertUser inserts the user or refreshes name, picture and (when given) plan
func (s *SQLStore) UpsertUser(ctx context.Context, profile Profile, now time.Time) (*User, error) {
	plan := profile.Plan
	update := "name = excluded.name, picture_url = excluded.picture_url, updated_at = excluded.updated_at"
	if plan != "" {
		update += ", plan = excluded.plan"
	} else {
		plan = PlanFree
	}

	query, args, err := s.builder.Insert("users").
		Columns(userColumns...).
		Values(uuid.NewString(), profile.Email, profile.Name, profile.PictureURL, plan, now.Unix(), now.Unix()).
		Suffix("ON CONFLICT (email) DO UPDATE SET " + update + " RETURNING id, email, name, picture_url, plan, created_at, updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}

	user, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}
	return user, nil
}

// MonthlyUsage returns the counter for (userID, month)
func (s *SQLStore) MonthlyUsage(ctx context.Context, userID, month string) (int, error) {
	query, args, err := s.builder.Select("count").
		From("usage_counters").
		Where(sq.Eq{"user_id": userID, "month": month}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building query: %w", err)
	}

	var count int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading usage: %w", err)
	}
	return count, nil
}

// IncrementUsage performs the increment as a single upsert statement so the database
// serializes concurrent callers
func (s *SQLStore) IncrementUsage(ctx context.Context, userID, month string) (int, error) {
	query, args, err := s.builder.Insert("usage_counters").
		Columns("user_id", "month", "count").
		Values(userID, month, 1).
		Suffix("ON CONFLICT (user_id, month) DO UPDATE SET count = usage_counters.count + 1 RETURNING count").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building query: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("incrementing usage: %w", err)
	}
	return count, nil
}

// Close closes the database and any pool behind it
func (s *SQLStore) Close() error {
	err := s.db.Close()
	if s.closer != nil {
		s.closer()
	}
	return err
}

func scanUser(row sq.RowScanner) (*User, error) {
	var (
		user             User
		created, updated int64
	)
	if err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PictureURL, &user.Plan, &created, &updated); err != nil {
		return nil, err
	}
	user.CreatedAt = time.Unix(created, 0).UTC()
	user.UpdatedAt = time.Unix(updated, 0).UTC()
	return &user, nil
}
