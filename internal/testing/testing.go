// package testing contains shared testing utilities
package testing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/desertthunder/genx/internal/models"
)

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

// MockRoundTripper allows custom HTTP responses for testing
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// FCloser simulates a failure when reading response body
type FCloser struct{}

func (f *FCloser) Read(p []byte) (n int, err error) {
	return 0, errors.New("read failed")
}

func (f *FCloser) Close() error {
	return nil
}

// Notifier records user-facing notifications.
type Notifier struct {
	mu        sync.Mutex
	successes []string
	errs      []string
	warnings  []string
}

func (n *Notifier) Success(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.successes = append(n.successes, msg)
}

func (n *Notifier) Error(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, msg)
}

func (n *Notifier) Warn(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.warnings = append(n.warnings, msg)
}

func (n *Notifier) Successes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.successes...)
}

func (n *Notifier) Errors() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.errs...)
}

func (n *Notifier) Warnings() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.warnings...)
}

// StaticToken is a token provider that counts unauthorized callbacks.
type StaticToken struct {
	mu           sync.Mutex
	Value        string
	Unauthorized int
	Refreshed    string // installed on HandleUnauthorized when non-empty
}

func (s *StaticToken) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Value
}

func (s *StaticToken) HandleUnauthorized(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Unauthorized++
	if s.Refreshed == "" {
		s.Value = ""
		return errors.New("refresh failed")
	}
	s.Value = s.Refreshed
	return nil
}

// PushServer is an httptest server speaking the push channel protocol.
type PushServer struct {
	*httptest.Server

	mu     sync.Mutex
	conns  []*websocket.Conn
	tokens []string
}

// NewPushServer starts a WebSocket server that records every accepted connection.
func NewPushServer(t *testing.T) *PushServer {
	t.Helper()
	s := &PushServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, c)
		s.tokens = append(s.tokens, r.URL.Query().Get("token"))
		s.mu.Unlock()

		for {
			if _, _, err := c.Read(context.Background()); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

// WSURL is the ws:// form of the server URL.
func (s *PushServer) WSURL() string { return "ws" + strings.TrimPrefix(s.URL, "http") }

// Connections returns how many connections have been accepted so far.
func (s *PushServer) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Tokens returns the token query parameter of each accepted connection.
func (s *PushServer) Tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...)
}

// SendRaw writes a text frame to the most recent connection.
func (s *PushServer) SendRaw(ctx context.Context, frame string) error {
	s.mu.Lock()
	if len(s.conns) == 0 {
		s.mu.Unlock()
		return errors.New("no connections")
	}
	c := s.conns[len(s.conns)-1]
	s.mu.Unlock()
	return c.Write(ctx, websocket.MessageText, []byte(frame))
}

// Send writes an envelope with data marshalled as JSON.
func (s *PushServer) Send(ctx context.Context, eventType string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(models.Envelope{Type: eventType, Data: raw})
	if err != nil {
		return err
	}
	return s.SendRaw(ctx, string(frame))
}

// DropAll closes every accepted connection as the server would on a restart.
func (s *PushServer) DropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close(websocket.StatusGoingAway, "restart")
	}
}

// Eventually polls cond until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}

func MustGetwd(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	return wd
}

func MustChdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory to %s: %v", dir, err)
	}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
