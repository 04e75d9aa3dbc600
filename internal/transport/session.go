// Package transport wraps a single websocket connection: dialing, framed
// send/receive, automatic ping/pong, idle-timeout enforcement and teardown.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrConnection = errors.New("connection error")
	ErrTransport  = errors.New("transport error")
	ErrTimeout    = errors.New("idle timeout")
	ErrPeerClosed = errors.New("peer closed connection")
)

const writeWait = 5 * time.Second

type Options struct {
	HandshakeTimeout time.Duration
	// IdleTimeout bounds the gap between any two received frames, control
	// frames included.
	IdleTimeout time.Duration
	// PingInterval enables client pings when positive.
	PingInterval time.Duration
	ReadLimit    int64
	Header       http.Header
}

func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 30 * time.Second,
		IdleTimeout:      30 * time.Second,
		PingInterval:     15 * time.Second,
		ReadLimit:        1 << 20,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = def.HandshakeTimeout
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = def.IdleTimeout
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = def.ReadLimit
	}
	return o
}

type Session struct {
	conn      *websocket.Conn
	endpoint  string
	idle      time.Duration
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// Dial opens a websocket session. The session is closed when ctx is done.
func Dial(ctx context.Context, endpoint string, opts Options) (*Session, error) {
	opts = opts.withDefaults()

	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid endpoint %q", ErrConnection, endpoint)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	dialCtx, cancel := context.WithTimeout(ctx, opts.HandshakeTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, endpoint, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s (status %d): %w", ErrConnection, endpoint, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnection, endpoint, err)
	}

	s := &Session{
		conn:     conn,
		endpoint: endpoint,
		idle:     opts.IdleTimeout,
		done:     make(chan struct{}),
	}
	conn.SetReadLimit(opts.ReadLimit)
	conn.SetPingHandler(s.handlePing)
	conn.SetPongHandler(func(string) error {
		s.touch()
		return nil
	})
	s.touch()

	go s.watch(ctx, opts.PingInterval)
	return s, nil
}

func (s *Session) Endpoint() string { return s.endpoint }

// Send writes one text frame.
func (s *Session) Send(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.done:
		return fmt.Errorf("%w: session closed", ErrTransport)
	default:
	}

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: write: %w", ErrTransport, err)
	}
	return nil
}

func (s *Session) SendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrTransport, err)
	}
	return s.Send(b)
}

// Receive blocks until the next data frame. Ping frames are answered inside
// the read and never returned.
func (s *Session) Receive(ctx context.Context) ([]byte, error) {
	s.touch()
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, s.readErr(ctx, err)
	}
	return data, nil
}

func (s *Session) readErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("read %s: %w", s.endpoint, ctxErr)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: no frame from %s within %s", ErrTimeout, s.endpoint, s.idle)
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return fmt.Errorf("%w: %v", ErrPeerClosed, err)
	}
	select {
	case <-s.done:
		return fmt.Errorf("%w: session closed", ErrTransport)
	default:
	}
	return fmt.Errorf("%w: read: %w", ErrTransport, err)
}

// Close is idempotent and always releases the socket.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

func (s *Session) touch() {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.idle))
}

func (s *Session) handlePing(data string) error {
	s.touch()
	err := s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	if err == nil || errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return nil
	}
	return err
}

func (s *Session) watch(ctx context.Context, interval time.Duration) {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			_ = s.Close()
			return
		case <-tick:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				// peer is gone; the pending Receive reports it
				_ = s.Close()
				return
			}
		}
	}
}
