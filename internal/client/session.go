package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fenggwsx/PostBoard/internal/protocol"
)

const (
	dialTimeout  = 5 * time.Second
	writeTimeout = 5 * time.Second
	frameBuffer  = 64
)

var errNotConnected = errors.New("not connected")

// Session manages the client side of one board connection.
type Session struct {
	url    string
	conn   *websocket.Conn
	frames chan protocol.ServerFrame

	writeMu   sync.Mutex
	closeOnce sync.Once
	err       error
}

// NewSession prepares a session for the given ws:// or wss:// URL.
func NewSession(url string) *Session {
	return &Session{
		url:    url,
		frames: make(chan protocol.ServerFrame, frameBuffer),
	}
}

// URL returns the endpoint this session dials.
func (s *Session) URL() string { return s.url }

// Connect dials the server and starts reading frames.
func (s *Session) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	s.conn = conn
	go s.readLoop()
	return nil
}

// Frames yields decoded server frames until the connection ends.
func (s *Session) Frames() <-chan protocol.ServerFrame {
	return s.frames
}

// Err reports why the frame channel closed, if it has.
func (s *Session) Err() error {
	return s.err
}

// Send submits a post. The server replies with an ack frame.
func (s *Session) Send(sub protocol.Submission) error {
	if s.conn == nil {
		return errNotConnected
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(sub)
}

// Close sends a close frame and releases the socket.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *Session) readLoop() {
	defer close(s.frames)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.err = err
			}
			return
		}
		frame, err := protocol.DecodeServerFrame(data)
		if err != nil {
			continue
		}
		s.frames <- frame
	}
}
