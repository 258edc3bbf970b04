package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// State is the lifecycle position of a session.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	errSessionClosed  = errors.New("session closed")
	errSendBufferFull = errors.New("send buffer full")
)

type heldFrame struct {
	postID int64
	frame  []byte
}

// Session tracks one live connection and its outbound queue.
// Live posts delivered while history is still being replayed are held back
// and flushed once the replay is queued.
type Session struct {
	id     string
	conn   *websocket.Conn
	remote string
	send   chan []byte
	done   chan struct{}

	mu        sync.Mutex
	state     State
	held      []heldFrame
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, remote string, buffer int) *Session {
	if buffer <= 0 {
		buffer = 1
	}
	return &Session{
		id:     uuid.NewString(),
		conn:   conn,
		remote: remote,
		send:   make(chan []byte, buffer),
		done:   make(chan struct{}),
		state:  StateConnecting,
	}
}

// ID returns the opaque session handle.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the peer address recorded at upgrade time.
func (s *Session) RemoteAddr() string { return s.remote }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Deliver queues a live post frame without blocking.
func (s *Session) Deliver(postID int64, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return errSessionClosed
	case StateConnecting:
		if len(s.held) >= cap(s.send) {
			return errSendBufferFull
		}
		s.held = append(s.held, heldFrame{postID: postID, frame: frame})
		return nil
	default:
		return s.tryEnqueueLocked(frame)
	}
}

// reply queues a frame meant for this session only, such as an ack.
func (s *Session) reply(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return errSessionClosed
	}
	return s.tryEnqueueLocked(frame)
}

// enqueue waits for queue space; used for the private history replay.
func (s *Session) enqueue(ctx context.Context, frame []byte) error {
	select {
	case s.send <- frame:
		return nil
	case <-s.done:
		return errSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) tryEnqueueLocked(frame []byte) error {
	select {
	case s.send <- frame:
		return nil
	default:
		return errSendBufferFull
	}
}

// activate ends the replay phase, flushing held posts not already replayed.
// The session stays connecting while held frames are flushed, so posts
// delivered meanwhile are held too and keep their order.
func (s *Session) activate(ctx context.Context, replayed map[int64]struct{}) error {
	for {
		s.mu.Lock()
		if s.state != StateConnecting {
			s.mu.Unlock()
			return errSessionClosed
		}
		held := s.held
		s.held = nil
		if len(held) == 0 {
			s.state = StateActive
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		for _, h := range held {
			if _, ok := replayed[h.postID]; ok {
				continue
			}
			if err := s.enqueue(ctx, h.frame); err != nil {
				return err
			}
		}
	}
}

// close marks the session closed and stops its writer. Safe to call repeatedly.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.held = nil
		s.mu.Unlock()
		close(s.done)
	})
}

// writeLoop drains the outbound queue onto the socket until the session closes
// or a write fails. It owns closing the socket.
func (s *Session) writeLoop(writeTimeout, pingInterval time.Duration) error {
	if pingInterval <= 0 {
		pingInterval = 54 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case frame := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return err
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				return err
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (s *Session) remoteHost() string {
	host, _, err := net.SplitHostPort(s.remote)
	if err != nil {
		return s.remote
	}
	return host
}
