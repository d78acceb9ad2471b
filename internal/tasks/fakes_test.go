package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/desertthunder/genx/internal/models"
	"github.com/desertthunder/genx/internal/push"
	"github.com/desertthunder/genx/internal/services"
	tu "github.com/desertthunder/genx/internal/testing"
)

type subEntry struct {
	fn      push.Handler
	removed atomic.Bool
}

// fakeSub is an in-process push channel.
type fakeSub struct {
	mu       sync.Mutex
	handlers map[string][]*subEntry
}

func newFakeSub() *fakeSub { return &fakeSub{handlers: map[string][]*subEntry{}} }

func (f *fakeSub) On(eventType string, h push.Handler) func() {
	e := &subEntry{fn: h}
	f.mu.Lock()
	f.handlers[eventType] = append(f.handlers[eventType], e)
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		e.removed.Store(true)
		list := f.handlers[eventType]
		for i, other := range list {
			if other == e {
				f.handlers[eventType] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

func (f *fakeSub) emit(eventType string, data any) {
	raw, _ := json.Marshal(data)
	env := models.Envelope{Type: eventType, Data: raw}

	f.mu.Lock()
	targets := append([]*subEntry(nil), f.handlers[eventType]...)
	f.mu.Unlock()

	for _, e := range targets {
		if !e.removed.Load() {
			e.fn(env)
		}
	}
}

func (f *fakeSub) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, list := range f.handlers {
		n += len(list)
	}
	return n
}

// fetchFunc adapts a function to [Fetcher].
type fetchFunc func(ctx context.Context, taskID string) (*models.TaskProgress, error)

func (f fetchFunc) TaskProgress(ctx context.Context, taskID string) (*models.TaskProgress, error) {
	return f(ctx, taskID)
}

// blockingFetch never answers, leaving the push channel as the only source.
var blockingFetch = fetchFunc(func(ctx context.Context, _ string) (*models.TaskProgress, error) {
	<-ctx.Done()
	return nil, ctx.Err()
})

// scriptedFetch answers from script in order, then blocks.
type scriptedFetch struct {
	mu     sync.Mutex
	script []fetchResult
	calls  int
}

type fetchResult struct {
	p   *models.TaskProgress
	err error
}

func (s *scriptedFetch) TaskProgress(ctx context.Context, taskID string) (*models.TaskProgress, error) {
	s.mu.Lock()
	s.calls++
	if len(s.script) > 0 {
		r := s.script[0]
		s.script = s.script[1:]
		s.mu.Unlock()
		return r.p, r.err
	}
	s.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *scriptedFetch) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func immediately(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

// fakeAPI records submissions and hands out task ids in order.
type fakeAPI struct {
	mu        sync.Mutex
	taskIDs   []string
	inline    *services.GenerateResponse
	submitErr error
	refunded  int
	cancelErr error
	cancelled []string
	endpoints []string
	gate      chan struct{} // when set, submissions block until it is closed
}

func (f *fakeAPI) Generate(_ context.Context, req services.GenerateRequest) (*services.GenerateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endpoints = append(f.endpoints, "generate")
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.inline, nil
}

func (f *fakeAPI) GenerateBatch(_ context.Context, req services.GenerateRequest) (string, error) {
	return f.next("batch")
}

func (f *fakeAPI) GenerateVideo(_ context.Context, req services.GenerateRequest) (string, error) {
	return f.next("video")
}

func (f *fakeAPI) SendChat(_ context.Context, req services.GenerateRequest) (string, error) {
	return f.next("chat")
}

func (f *fakeAPI) next(endpoint string) (string, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endpoints = append(f.endpoints, endpoint)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	if len(f.taskIDs) == 0 {
		return "", errors.New("no task ids left")
	}
	id := f.taskIDs[0]
	f.taskIDs = f.taskIDs[1:]
	return id, nil
}

func (f *fakeAPI) CancelTask(_ context.Context, taskID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, taskID)
	return f.refunded, f.cancelErr
}

func (f *fakeAPI) cancelledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

func (f *fakeAPI) Quota(context.Context) (*models.Quota, error) {
	return &models.Quota{Remaining: 1, Limit: 10}, nil
}

// memHistory is an in-memory [HistoryStore].
type memHistory struct {
	mu   sync.Mutex
	gens []*models.Generation
}

func (m *memHistory) Create(g *models.Generation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gens = append(m.gens, g)
	return nil
}

func (m *memHistory) all() []*models.Generation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.Generation(nil), m.gens...)
}

func newPushClient(srv *tu.PushServer) *push.Client {
	return push.NewClient(push.Options{
		URL:   srv.WSURL(),
		Token: func() string { return "access-token" },
	})
}
