// Package postgres implements storage.Store on a pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fenggwsx/PostBoard/internal/config"
	"github.com/fenggwsx/PostBoard/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS posts (
	id BIGSERIAL PRIMARY KEY,
	username TEXT NOT NULL,
	content TEXT NOT NULL,
	image_url TEXT,
	"timestamp" TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS posts_timestamp_id_idx ON posts ("timestamp" DESC, id DESC);
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL,
	password TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);`

// Store persists posts and users in Postgres.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore connects a pool using the configured DSN.
func NewStore(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres dsn required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeCacheStatement
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Migrate creates the tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// AppendPost inserts a post and returns it with its assigned id.
func (s *Store) AppendPost(ctx context.Context, post storage.NewPost) (storage.Post, error) {
	stored := storage.Post{
		Username:  post.Username,
		Content:   post.Content,
		ImageURL:  post.ImageURL,
		Timestamp: s.now().UTC().Truncate(time.Microsecond),
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO posts (username, content, image_url, "timestamp") VALUES ($1, $2, $3, $4) RETURNING id`,
		stored.Username, stored.Content, stored.ImageURL, stored.Timestamp,
	).Scan(&stored.ID)
	if err != nil {
		return storage.Post{}, storage.Persistence("append post", err)
	}
	return stored, nil
}

// RecentPosts returns the newest posts in chronological order.
func (s *Store) RecentPosts(ctx context.Context, limit int) ([]storage.Post, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, username, content, image_url, "timestamp" FROM posts ORDER BY "timestamp" DESC, id DESC LIMIT $1`,
		storage.NormalizeLimit(limit),
	)
	if err != nil {
		return nil, storage.Persistence("recent posts", err)
	}
	posts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.Post, error) {
		var post storage.Post
		err := row.Scan(&post.ID, &post.Username, &post.Content, &post.ImageURL, &post.Timestamp)
		post.Timestamp = post.Timestamp.UTC()
		return post, err
	})
	if err != nil {
		return nil, storage.Persistence("recent posts", err)
	}
	storage.Reverse(posts)
	return posts, nil
}

// CreateUser stores a new user record.
func (s *Store) CreateUser(ctx context.Context, user *storage.User) error {
	if user == nil {
		return errors.New("nil user")
	}
	now := s.now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = now
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (username, email, password, created_at, updated_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		user.Username, user.Email, user.Password, user.CreatedAt, user.UpdatedAt,
	).Scan(&id)
	if err != nil {
		if isDuplicateKey(err) {
			return storage.ErrUserExists
		}
		return err
	}
	user.ID = uint(id)
	return nil
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*storage.User, error) {
	var (
		user storage.User
		id   int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, email, password, created_at, updated_at FROM users WHERE username = $1`,
		username,
	).Scan(&id, &user.Username, &user.Email, &user.Password, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	user.ID = uint(id)
	return &user, nil
}

func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
