package server

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fenggwsx/PostBoard/internal/protocol"
	"github.com/fenggwsx/PostBoard/internal/storage"
)

func (a *App) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	a.sessions.Add(1)
	defer a.sessions.Done()

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade remote=%s err=%v", r.RemoteAddr, err)
		return
	}
	a.serveSession(a.ctx, conn, r.RemoteAddr)
}

// serveSession runs one session from registration to teardown.
func (a *App) serveSession(ctx context.Context, conn *websocket.Conn, remote string) {
	conn.SetReadLimit(a.cfg.MaxFrameBytes)
	session := newSession(conn, remote, a.cfg.SendBuffer)

	a.registry.Register(session)
	a.metrics.sessionOpened()
	log.Printf("session opened id=%s remote=%s sessions=%d", session.ID(), remote, a.registry.Count())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		if err := session.writeLoop(a.cfg.WriteTimeout, a.cfg.PingInterval); err != nil && !isExpectedCloseError(err) {
			log.Printf("session write id=%s err=%v", session.ID(), err)
		}
	}()

	defer func() {
		a.endSession(session)
		<-writerDone
	}()

	if err := a.replayHistory(ctx, session); err != nil {
		log.Printf("history replay id=%s err=%v", session.ID(), err)
		return
	}
	a.readLoop(ctx, session)
}

// replayHistory queues recent posts for this session only, then activates it.
func (a *App) replayHistory(ctx context.Context, session *Session) error {
	posts, err := a.store.RecentPosts(ctx, a.cfg.HistoryLimit)
	if err != nil {
		return err
	}

	replayed := make(map[int64]struct{}, len(posts))
	for _, post := range posts {
		frame, err := protocol.EncodePost(post)
		if err != nil {
			return err
		}
		if err := session.enqueue(ctx, frame); err != nil {
			return err
		}
		replayed[post.ID] = struct{}{}
	}
	return session.activate(ctx, replayed)
}

func (a *App) readLoop(ctx context.Context, session *Session) {
	conn := session.conn
	extendDeadline := func() {
		if a.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(a.cfg.ReadTimeout))
		}
	}
	extendDeadline()
	conn.SetPongHandler(func(string) error {
		extendDeadline()
		return nil
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			logReadError(session, err)
			return
		}
		extendDeadline()
		if messageType != websocket.TextMessage {
			a.metrics.postRejected("binary")
			a.ackError(session, "text frames only")
			continue
		}
		a.handleSubmission(ctx, session, data)
	}
}

// handleSubmission turns one inbound frame into a stored and broadcast post.
// Every failure here leaves the session open and is answered with an error ack.
func (a *App) handleSubmission(ctx context.Context, session *Session, data []byte) {
	allowed, err := a.limiter.Allow(ctx, session.remoteHost())
	if err != nil {
		log.Printf("rate limiter unavailable session=%s err=%v", session.ID(), err)
	} else if !allowed {
		log.Printf("rate limited session=%s remote=%s", session.ID(), session.RemoteAddr())
		a.metrics.postRejected("rate_limited")
		a.ackError(session, "rate limited")
		return
	}

	sub, err := protocol.DecodeSubmission(data)
	if err != nil {
		log.Printf("invalid submission session=%s err=%v", session.ID(), err)
		a.metrics.postRejected("invalid")
		a.ackError(session, err.Error())
		return
	}

	post, err := a.appendPost(ctx, sub)
	if err != nil {
		log.Printf("post not stored session=%s user=%s err=%v", session.ID(), sub.Username, err)
		a.metrics.postRejected("persistence")
		a.ackError(session, "post not stored")
		return
	}

	a.metrics.postStored()
	a.sendAck(session, protocol.AckStatusOK, "", post.ID)
	log.Printf("post stored id=%d user=%s len=%d session=%s", post.ID, post.Username, len(post.Content), session.ID())

	a.broadcaster.Broadcast(ctx, post)
}

func (a *App) appendPost(ctx context.Context, sub protocol.Submission) (storage.Post, error) {
	ctx, span := a.tracer.Start(ctx, "board.append", trace.WithAttributes(attribute.String("post.username", sub.Username)))
	defer span.End()

	post, err := a.store.AppendPost(ctx, sub.NewPost())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return storage.Post{}, err
	}
	span.SetAttributes(attribute.Int64("post.id", post.ID))
	return post, nil
}

// endSession unregisters and closes the session exactly once.
func (a *App) endSession(session *Session) {
	a.registry.Unregister(session)
	session.close()
	a.metrics.sessionClosed()
	log.Printf("session closed id=%s remote=%s sessions=%d", session.ID(), session.RemoteAddr(), a.registry.Count())
}

func logReadError(session *Session, err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Printf("session id=%s frame exceeded read limit", session.ID())
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		log.Printf("session id=%s disconnected", session.ID())
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		log.Printf("session id=%s connection closed", session.ID())
	default:
		log.Printf("session id=%s read error: %v", session.ID(), err)
	}
}

// isExpectedCloseError reports errors that only mean the peer or we already closed the socket.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}
