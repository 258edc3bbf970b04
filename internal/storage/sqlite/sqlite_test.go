package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenggwsx/PostBoard/internal/config"
	"github.com/fenggwsx/PostBoard/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "board.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

// fixedClock returns a clock that advances by step on every call.
func fixedClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := current
		current = current.Add(step)
		return now
	}
}

func strPtr(s string) *string { return &s }

func TestAppendPostAssignsIDAndTimestamp(t *testing.T) {
	store := newTestStore(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	store.now = fixedClock(start, time.Second)
	ctx := context.Background()

	first, err := store.AppendPost(ctx, storage.NewPost{Username: "a", Content: "hi"})
	require.NoError(t, err)
	second, err := store.AppendPost(ctx, storage.NewPost{Username: "b", Content: "yo", ImageURL: strPtr("https://img.example/1.png")})
	require.NoError(t, err)

	assert.Greater(t, second.ID, first.ID)
	assert.True(t, first.Timestamp.Equal(start))
	assert.Equal(t, time.UTC, first.Timestamp.Location())
	assert.Nil(t, first.ImageURL)
	require.NotNil(t, second.ImageURL)
	assert.Equal(t, "https://img.example/1.png", *second.ImageURL)
}

func TestRecentPostsReturnsNewestOldestFirst(t *testing.T) {
	store := newTestStore(t)
	store.now = fixedClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Millisecond)
	ctx := context.Background()

	var all []storage.Post
	for i := 0; i < 30; i++ {
		post, err := store.AppendPost(ctx, storage.NewPost{Username: "u", Content: fmt.Sprintf("post %d", i)})
		require.NoError(t, err)
		all = append(all, post)
	}

	for _, k := range []int{1, 5, 20, 30} {
		recent, err := store.RecentPosts(ctx, k)
		require.NoError(t, err)
		require.Len(t, recent, k)
		assert.Equal(t, all[len(all)-k:], recent, "limit %d", k)
	}

	recent, err := store.RecentPosts(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, recent, 30)
}

func TestRecentPostsDefaultLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < storage.DefaultHistoryLimit+5; i++ {
		_, err := store.AppendPost(ctx, storage.NewPost{Username: "u", Content: "x"})
		require.NoError(t, err)
	}

	recent, err := store.RecentPosts(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recent, storage.DefaultHistoryLimit)
}

func TestRecentPostsBreaksTimestampTiesByID(t *testing.T) {
	store := newTestStore(t)
	same := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return same }
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 4; i++ {
		post, err := store.AppendPost(ctx, storage.NewPost{Username: "u", Content: fmt.Sprint(i)})
		require.NoError(t, err)
		ids = append(ids, post.ID)
	}

	recent, err := store.RecentPosts(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	for i, post := range recent {
		assert.Equal(t, ids[i+1], post.ID)
	}
}

func TestRecentPostsOrdersByTimestampNotInsertion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	store.now = func() time.Time { return base.Add(time.Second) }
	late, err := store.AppendPost(ctx, storage.NewPost{Username: "u", Content: "late"})
	require.NoError(t, err)
	store.now = func() time.Time { return base.Add(500 * time.Millisecond) }
	early, err := store.AppendPost(ctx, storage.NewPost{Username: "u", Content: "early"})
	require.NoError(t, err)

	recent, err := store.RecentPosts(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, early.ID, recent[0].ID)
	assert.Equal(t, late.ID, recent[1].ID)
}

func TestConcurrentAppendsAreAllRecorded(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const writers, perWriter = 8, 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := store.AppendPost(ctx, storage.NewPost{Username: fmt.Sprintf("w%d", w), Content: fmt.Sprint(i)})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	recent, err := store.RecentPosts(ctx, writers*perWriter+10)
	require.NoError(t, err)
	assert.Len(t, recent, writers*perWriter)

	seen := make(map[int64]struct{}, len(recent))
	for _, post := range recent {
		_, dup := seen[post.ID]
		assert.False(t, dup, "duplicate id %d", post.ID)
		seen[post.ID] = struct{}{}
	}
}

func TestClosedStoreReturnsPersistenceError(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Close())
	ctx := context.Background()

	_, err := store.AppendPost(ctx, storage.NewPost{Username: "u", Content: "x"})
	var perr *storage.PersistenceError
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, "append post", perr.Op)

	_, err = store.RecentPosts(ctx, 5)
	require.True(t, errors.As(err, &perr), "got %v", err)
	assert.Equal(t, "recent posts", perr.Op)
}

func TestUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetUserByUsername(ctx, "ada")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	now := time.Now().UTC()
	user := &storage.User{Username: "ada", Email: "ada@example.com", Password: "hash", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateUser(ctx, user))
	assert.NotZero(t, user.ID)

	found, err := store.GetUserByUsername(ctx, "ada")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)
	assert.Equal(t, "ada@example.com", found.Email)
	assert.Equal(t, "hash", found.Password)

	err = store.CreateUser(ctx, &storage.User{Username: "ada", Email: "other@example.com", Password: "x"})
	assert.ErrorIs(t, err, storage.ErrUserExists)
}
