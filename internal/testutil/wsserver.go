// Package testutil holds fakes shared by package tests: an in-process
// websocket provider and a thread-safe update collector.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yvrxbt/pricing-publisher/internal/schema"
)

// WSServer is a fake provider endpoint. Each accepted connection is handed to
// the handler; frames the client sends are recorded.
type WSServer struct {
	*httptest.Server

	mu       sync.Mutex
	received []string
	conns    int
}

func NewWSServer(t *testing.T, handle func(s *WSServer, conn *websocket.Conn)) *WSServer {
	t.Helper()
	s := &WSServer{}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.mu.Lock()
		s.conns++
		s.mu.Unlock()
		handle(s, conn)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *WSServer) Endpoint() string {
	return "ws" + strings.TrimPrefix(s.Server.URL, "http")
}

// ReadFrame reads one client frame, recording it.
func (s *WSServer) ReadFrame(conn *websocket.Conn) (string, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.received = append(s.received, string(data))
	s.mu.Unlock()
	return string(data), nil
}

func (s *WSServer) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

func (s *WSServer) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

// Drain records client frames until the connection fails.
func (s *WSServer) Drain(conn *websocket.Conn) {
	for {
		if _, err := s.ReadFrame(conn); err != nil {
			return
		}
	}
}

// Replay sends every frame as text, then holds the connection open for
// linger while recording client frames.
func (s *WSServer) Replay(conn *websocket.Conn, frames []string, linger time.Duration) {
	go s.Drain(conn)
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			return
		}
	}
	time.Sleep(linger)
}

// Collector records emitted updates.
type Collector struct {
	mu      sync.Mutex
	updates []schema.PriceUpdate
	notify  chan struct{}
}

func NewCollector() *Collector {
	return &Collector{notify: make(chan struct{}, 1)}
}

func (c *Collector) Emit(u schema.PriceUpdate) {
	c.mu.Lock()
	c.updates = append(c.updates, u)
	c.mu.Unlock()
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Collector) Updates() []schema.PriceUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]schema.PriceUpdate(nil), c.updates...)
}

// WaitFor blocks until at least n updates arrived or timeout elapses.
func (c *Collector) WaitFor(n int, timeout time.Duration) []schema.PriceUpdate {
	deadline := time.After(timeout)
	for {
		if got := c.Updates(); len(got) >= n {
			return got
		}
		select {
		case <-c.notify:
		case <-deadline:
			return c.Updates()
		}
	}
}
