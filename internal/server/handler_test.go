package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenggwsx/PostBoard/internal/config"
	"github.com/fenggwsx/PostBoard/internal/protocol"
	"github.com/fenggwsx/PostBoard/internal/ratelimit"
	"github.com/fenggwsx/PostBoard/internal/storage"
	"github.com/fenggwsx/PostBoard/internal/storage/sqlite"
)

const frameTimeout = 5 * time.Second

type testBoard struct {
	app   *App
	store *sqlite.Store
	srv   *httptest.Server
	wsURL string
}

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		JWT: config.JWTConfig{
			Secret:     "test-secret",
			Issuer:     "postboard-test",
			Expiration: time.Hour,
		},
		RateLimit:       config.RateLimitConfig{Burst: 1000, Interval: time.Second},
		ReadTimeout:     time.Minute,
		WriteTimeout:    5 * time.Second,
		PingInterval:    time.Minute,
		ShutdownTimeout: time.Second,
		MaxFrameBytes:   64 << 10,
		HistoryLimit:    storage.DefaultHistoryLimit,
		SendBuffer:      64,
		AllowedOrigins:  []string{"*"},
	}
}

func newTestBoard(t *testing.T, customize func(*config.ServerConfig), limiter ratelimit.Limiter) *testBoard {
	t.Helper()

	cfg := testConfig()
	if customize != nil {
		customize(&cfg)
	}
	store := openTestStore(t)
	return serveBoard(t, cfg, store, store, limiter)
}

// newWrappedBoard serves a board whose store calls pass through wrap.
func newWrappedBoard(t *testing.T, wrap func(storage.Store) storage.Store) *testBoard {
	t.Helper()
	store := openTestStore(t)
	return serveBoard(t, testConfig(), wrap(store), store, nil)
}

func openTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "board.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))
	return store
}

func serveBoard(t *testing.T, cfg config.ServerConfig, store storage.Store, db *sqlite.Store, limiter ratelimit.Limiter) *testBoard {
	t.Helper()
	app := NewApp(cfg, store, limiter)
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(app.CloseSessions)

	return &testBoard{
		app:   app,
		store: db,
		srv:   srv,
		wsURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

// connect dials the board and waits until the session is registered.
func (b *testBoard) connect(t *testing.T) *websocket.Conn {
	t.Helper()
	before := b.app.Registry().Count()
	conn, _, err := websocket.DefaultDialer.Dial(b.wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool {
		return b.app.Registry().Count() > before
	}, frameTimeout, 5*time.Millisecond)
	return conn
}

func (b *testBoard) seed(t *testing.T, n int) []storage.Post {
	t.Helper()
	posts := make([]storage.Post, 0, n)
	for i := 0; i < n; i++ {
		post, err := b.store.AppendPost(context.Background(), storage.NewPost{
			Username: "seed",
			Content:  fmt.Sprintf("post %d", i),
		})
		require.NoError(t, err)
		posts = append(posts, post)
	}
	return posts
}

func submit(t *testing.T, conn *websocket.Conn, username, content string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(protocol.Submission{Username: username, Content: content}))
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.ServerFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(frameTimeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	frame, err := protocol.DecodeServerFrame(data)
	require.NoError(t, err, "frame %s", data)
	return frame
}

func readPost(t *testing.T, conn *websocket.Conn) protocol.PostFrame {
	t.Helper()
	frame := readFrame(t, conn)
	require.NotNil(t, frame.Post, "expected a post frame, got ack %+v", frame.Ack)
	return *frame.Post
}

func readAck(t *testing.T, conn *websocket.Conn) protocol.AckFrame {
	t.Helper()
	frame := readFrame(t, conn)
	require.NotNil(t, frame.Ack, "expected an ack frame, got post %+v", frame.Post)
	return *frame.Ack
}

func expectNoFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wait)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %s", data)
	netErr, ok := err.(net.Error)
	require.True(t, ok && netErr.Timeout(), "unexpected error %v", err)
}

func TestNewSessionReceivesRecentHistoryInOrder(t *testing.T) {
	board := newTestBoard(t, nil, nil)
	seeded := board.seed(t, 25)

	conn := board.connect(t)
	for _, want := range seeded[5:] {
		got := readPost(t, conn)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Content, got.Content)
	}
	expectNoFrame(t, conn, 100*time.Millisecond)
}

func TestEmptyBoardSendsNoHistory(t *testing.T) {
	board := newTestBoard(t, nil, nil)
	conn := board.connect(t)
	expectNoFrame(t, conn, 100*time.Millisecond)
}

func TestHistoryComesBeforeLivePosts(t *testing.T) {
	board := newTestBoard(t, nil, nil)
	seeded := board.seed(t, 3)

	poster := board.connect(t)
	for range seeded {
		readPost(t, poster)
	}

	submit(t, poster, "alice", "live")
	ack := readAck(t, poster)
	require.Equal(t, protocol.AckStatusOK, ack.Status)

	observer := board.connect(t)
	for _, want := range seeded {
		assert.Equal(t, want.ID, readPost(t, observer).ID)
	}
	live := readPost(t, observer)
	assert.Equal(t, ack.PostID, live.ID)
	assert.Equal(t, "live", live.Content)
	expectNoFrame(t, observer, 100*time.Millisecond)
}

func TestPostsFromTwoSessionsReplayInSubmissionOrder(t *testing.T) {
	board := newTestBoard(t, nil, nil)
	a := board.connect(t)
	b := board.connect(t)

	submit(t, a, "a", "hi")
	ackA := readAck(t, a)
	require.Equal(t, protocol.AckStatusOK, ackA.Status)
	submit(t, b, "b", "yo")
	ackB := drainUntilAck(t, b)
	require.Equal(t, protocol.AckStatusOK, ackB.Status)

	late := board.connect(t)
	first := readPost(t, late)
	second := readPost(t, late)
	assert.Equal(t, ackA.PostID, first.ID)
	assert.Equal(t, "a", first.Username)
	assert.Equal(t, ackB.PostID, second.ID)
	assert.Equal(t, "b", second.Username)
	assert.False(t, second.Timestamp.Before(first.Timestamp))
}

func TestEverySessionReceivesLivePost(t *testing.T) {
	board := newTestBoard(t, nil, nil)
	sender := board.connect(t)
	others := []*websocket.Conn{board.connect(t), board.connect(t), board.connect(t)}

	submit(t, sender, "judy", "hello all")
	ack := readAck(t, sender)
	require.Equal(t, protocol.AckStatusOK, ack.Status)
	assert.Equal(t, ack.PostID, readPost(t, sender).ID, "sender gets its own post after the ack")
	for _, conn := range others {
		assert.Equal(t, ack.PostID, readPost(t, conn).ID)
	}
}

func TestSessionPostsKeepSubmissionOrder(t *testing.T) {
	board := newTestBoard(t, nil, nil)
	sender := board.connect(t)
	observer := board.connect(t)

	for i := 0; i < 10; i++ {
		submit(t, sender, "kim", fmt.Sprintf("msg %d", i))
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, fmt.Sprintf("msg %d", i), readPost(t, observer).Content)
	}
}

// drainUntilAck skips post frames broadcast by other sessions.
func drainUntilAck(t *testing.T, conn *websocket.Conn) protocol.AckFrame {
	t.Helper()
	for {
		frame := readFrame(t, conn)
		if frame.Ack != nil {
			return *frame.Ack
		}
	}
}

func TestPostFrameCarriesAllFields(t *testing.T) {
	board := newTestBoard(t, nil, nil)
	conn := board.connect(t)

	image := "https://img.example/cat.png"
	before := time.Now().Add(-time.Second)
	require.NoError(t, conn.WriteJSON(protocol.Submission{Username: "carol", Content: "look", ImageURL: &image}))
	ack := readAck(t, conn)
	require.Equal(t, protocol.AckStatusOK, ack.Status)

	post := readPost(t, conn)
	assert.Equal(t, ack.PostID, post.ID)
	assert.Equal(t, "carol", post.Username)
	assert.Equal(t, "look", post.Content)
	require.NotNil(t, post.ImageURL)
	assert.Equal(t, image, *post.ImageURL)
	assert.True(t, post.Timestamp.After(before))
	assert.Equal(t, time.UTC, post.Timestamp.Location())
}

func TestClientTimestampIsIgnored(t *testing.T) {
	board := newTestBoard(t, nil, nil)
	conn := board.connect(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"username":"dave","content":"hi","timestamp":"1999-01-01T00:00:00Z"}`)))
	require.Equal(t, protocol.AckStatusOK, readAck(t, conn).Status)
	post := readPost(t, conn)
	assert.Greater(t, post.Timestamp.Year(), 1999)
}

func TestInvalidSubmissionKeepsSessionOpen(t *testing.T) {
	board := newTestBoard(t, nil, nil)
	conn := board.connect(t)
	observer := board.connect(t)

	submit(t, conn, "erin", "")
	ack := readAck(t, conn)
	assert.Equal(t, protocol.AckStatusError, ack.Status)
	assert.Contains(t, ack.Reason, "content required")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, protocol.AckStatusError, readAck(t, conn).Status)

	posts, err := board.store.RecentPosts(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, posts)
	expectNoFrame(t, observer, 100*time.Millisecond)

	submit(t, conn, "erin", "second try")
	assert.Equal(t, protocol.AckStatusOK, readAck(t, conn).Status)
	assert.Equal(t, "second try", readPost(t, observer).Content)
}

func TestBinaryFramesAreRejected(t *testing.T) {
	board := newTestBoard(t, nil, nil)
	conn := board.connect(t)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte(`{"username":"x","content":"y"}`)))
	ack := readAck(t, conn)
	assert.Equal(t, protocol.AckStatusError, ack.Status)
	assert.Equal(t, "text frames only", ack.Reason)
}

func TestRateLimitedSubmissionIsNotStored(t *testing.T) {
	board := newTestBoard(t, nil, ratelimit.NewTokenBucket(1, time.Hour))
	conn := board.connect(t)

	submit(t, conn, "frank", "one")
	require.Equal(t, protocol.AckStatusOK, readAck(t, conn).Status)
	readPost(t, conn)

	submit(t, conn, "frank", "two")
	ack := readAck(t, conn)
	assert.Equal(t, protocol.AckStatusError, ack.Status)
	assert.Equal(t, "rate limited", ack.Reason)

	posts, err := board.store.RecentPosts(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, posts, 1)
}

func TestPersistenceFailureIsReportedToSender(t *testing.T) {
	board := newTestBoard(t, nil, nil)
	conn := board.connect(t)
	observer := board.connect(t)

	require.NoError(t, board.store.Close())

	submit(t, conn, "gina", "lost")
	ack := readAck(t, conn)
	assert.Equal(t, protocol.AckStatusError, ack.Status)
	assert.Equal(t, "post not stored", ack.Reason)
	expectNoFrame(t, observer, 100*time.Millisecond)
}

func TestOversizedFrameClosesSession(t *testing.T) {
	board := newTestBoard(t, func(cfg *config.ServerConfig) { cfg.MaxFrameBytes = 128 }, nil)
	conn := board.connect(t)

	submit(t, conn, "hank", strings.Repeat("x", 512))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(frameTimeout)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.Eventually(t, func() bool {
		return board.app.Registry().Count() == 0
	}, frameTimeout, 5*time.Millisecond)
}

func TestDisconnectUnregistersSession(t *testing.T) {
	board := newTestBoard(t, nil, nil)
	conn := board.connect(t)
	stay := board.connect(t)
	require.Equal(t, 2, board.app.Registry().Count())

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()
	require.Eventually(t, func() bool {
		return board.app.Registry().Count() == 1
	}, frameTimeout, 5*time.Millisecond)

	submit(t, stay, "ivy", "still here")
	require.Equal(t, protocol.AckStatusOK, readAck(t, stay).Status)
	assert.Equal(t, "still here", readPost(t, stay).Content)
}

func TestCloseSessionsDisconnectsClients(t *testing.T) {
	board := newTestBoard(t, nil, nil)
	conn := board.connect(t)

	board.app.CloseSessions()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(frameTimeout)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestOriginPolicy(t *testing.T) {
	board := newTestBoard(t, func(cfg *config.ServerConfig) {
		cfg.AllowedOrigins = []string{"https://Board.Example"}
	}, nil)

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(board.wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "https://board.example")
	conn, _, err := websocket.DefaultDialer.Dial(board.wsURL, header)
	require.NoError(t, err)
	_ = conn.Close()

	conn, _, err = websocket.DefaultDialer.Dial(board.wsURL, nil)
	require.NoError(t, err, "clients without an Origin header are accepted")
	_ = conn.Close()
}

func TestNewOriginPolicyIgnoresInvalidEntries(t *testing.T) {
	policy := newOriginPolicy([]string{" ", "not a url", "http://ok.example:8080"})
	assert.False(t, policy.allowAll)
	assert.Len(t, policy.allowed, 1)
	_, ok := policy.allowed["http://ok.example:8080"]
	assert.True(t, ok)
}

// blockingAppendStore parks AppendPost until released or, when honorCtx is
// set, until the request context ends.
type blockingAppendStore struct {
	storage.Store
	honorCtx bool
	entered  chan struct{}
	release  chan struct{}
	finished atomic.Bool
}

func newBlockingAppendStore(honorCtx bool) func(storage.Store) storage.Store {
	return func(inner storage.Store) storage.Store {
		return &blockingAppendStore{
			Store:    inner,
			honorCtx: honorCtx,
			entered:  make(chan struct{}),
			release:  make(chan struct{}),
		}
	}
}

func (s *blockingAppendStore) AppendPost(ctx context.Context, _ storage.NewPost) (storage.Post, error) {
	close(s.entered)
	done := ctx.Done()
	if !s.honorCtx {
		done = nil
	}
	select {
	case <-done:
	case <-s.release:
	}
	time.Sleep(50 * time.Millisecond)
	s.finished.Store(true)
	return storage.Post{}, storage.Persistence("append post", errors.New("interrupted"))
}

func TestShutdownWaitsForSessionsToFinish(t *testing.T) {
	board := newWrappedBoard(t, newBlockingAppendStore(true))
	store := board.app.store.(*blockingAppendStore)
	conn := board.connect(t)

	submit(t, conn, "kim", "in flight")
	select {
	case <-store.entered:
	case <-time.After(frameTimeout):
		t.Fatal("append never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()
	require.NoError(t, board.app.Shutdown(ctx, nil))

	assert.True(t, store.finished.Load(), "shutdown returned while a post was being stored")
	assert.Equal(t, 0, board.app.Registry().Count())
}

func TestShutdownGivesUpAfterDeadline(t *testing.T) {
	board := newWrappedBoard(t, newBlockingAppendStore(false))
	store := board.app.store.(*blockingAppendStore)
	t.Cleanup(func() { close(store.release) })
	conn := board.connect(t)

	submit(t, conn, "lee", "stuck")
	select {
	case <-store.entered:
	case <-time.After(frameTimeout):
		t.Fatal("append never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := board.app.Shutdown(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, store.finished.Load())
}
