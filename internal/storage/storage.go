package storage

import (
	"context"
	"errors"
	"time"
)

// DefaultHistoryLimit is the number of posts replayed when no limit is given.
const DefaultHistoryLimit = 20

var (
	// ErrNotFound reports a missing user record.
	ErrNotFound = errors.New("record not found")
	// ErrUserExists reports a username collision on signup.
	ErrUserExists = errors.New("user already exists")
)

// Post is an immutable board message. ID and Timestamp are assigned by the store.
type Post struct {
	ID        int64
	Username  string
	Content   string
	ImageURL  *string
	Timestamp time.Time
}

// NewPost carries the caller-supplied fields of a post before it is stored.
type NewPost struct {
	Username string
	Content  string
	ImageURL *string
}

// User represents a persisted account record.
type User struct {
	ID        uint
	Username  string
	Email     string
	Password  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store defines persistence operations used by the server.
type Store interface {
	Close() error
	Migrate(ctx context.Context) error

	// AppendPost durably records a post, or records nothing and returns a *PersistenceError.
	AppendPost(ctx context.Context, post NewPost) (Post, error)
	// RecentPosts returns up to limit of the newest posts, oldest first.
	RecentPosts(ctx context.Context, limit int) ([]Post, error)

	CreateUser(ctx context.Context, user *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// PersistenceError wraps a storage failure on the post log.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return "persistence: " + e.Op + ": " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Persistence wraps err in a *PersistenceError unless it is nil.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// NormalizeLimit maps non-positive limits to DefaultHistoryLimit.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}

// Reverse flips newest-first rows into the oldest-first order callers expect.
func Reverse(posts []Post) {
	for i, j := 0, len(posts)-1; i < j; i, j = i+1, j-1 {
		posts[i], posts[j] = posts[j], posts[i]
	}
}
