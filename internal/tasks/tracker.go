package tasks

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/genx/internal/models"
	"github.com/desertthunder/genx/internal/push"
	"github.com/desertthunder/genx/internal/shared"
)

// Subscriber is the push channel as seen by the tracker. Implemented by [push.Client].
type Subscriber interface {
	On(eventType string, h push.Handler) func()
}

// Fetcher pulls a task snapshot. Implemented by [services.Client].
type Fetcher interface {
	TaskProgress(ctx context.Context, taskID string) (*models.TaskProgress, error)
}

// Progress is the tracker's projection of the current task.
type Progress struct {
	TaskID   string
	Percent  int
	Status   models.TaskStatus
	Results  []models.TaskResult
	Errors   []string
	Finished bool
}

func (p Progress) clone() Progress {
	p.Results = slices.Clone(p.Results)
	p.Errors = slices.Clone(p.Errors)
	return p
}

// Callbacks are invoked outside the tracker lock. OnComplete and OnFailed fire at most once per task, never both.
type Callbacks struct {
	OnProgress func(Progress)
	OnComplete func(results []models.TaskResult)
	OnFailed   func(errors []string)
}

// Cadence is the pull schedule: Fast while the task is younger than FastWindow, Slow afterwards.
type Cadence struct {
	Fast       time.Duration
	Slow       time.Duration
	FastWindow time.Duration
}

// DefaultCadence polls every 2s for the first 30s and every 5s after that.
var DefaultCadence = Cadence{Fast: 2 * time.Second, Slow: 5 * time.Second, FastWindow: 30 * time.Second}

// CadenceFromConfig maps the tracker config section onto a [Cadence], keeping defaults for unset values.
func CadenceFromConfig(c shared.TrackerConfig) Cadence {
	cadence := DefaultCadence
	if c.FastPollMillis > 0 {
		cadence.Fast = time.Duration(c.FastPollMillis) * time.Millisecond
	}
	if c.SlowPollMillis > 0 {
		cadence.Slow = time.Duration(c.SlowPollMillis) * time.Millisecond
	}
	if c.FastWindowSeconds > 0 {
		cadence.FastWindow = time.Duration(c.FastWindowSeconds) * time.Second
	}
	return cadence
}

// Interval returns the delay before the next poll for a task started elapsed ago.
func (c Cadence) Interval(elapsed time.Duration) time.Duration {
	if elapsed < c.FastWindow {
		return c.Fast
	}
	return c.Slow
}

// session is one tracked task id.
type session struct {
	taskID       string
	cb           Callbacks
	start        time.Time
	state        Progress
	finished     bool
	lastRevision int64

	cancel context.CancelFunc
	unsubs []func()
	once   sync.Once
}

func (s *session) release() {
	s.once.Do(func() {
		s.cancel()
		for _, unsubscribe := range s.unsubs {
			unsubscribe()
		}
	})
}

// Tracker follows one task id at a time, merging push events and polled snapshots.
type Tracker struct {
	sub     Subscriber
	fetch   Fetcher
	cadence Cadence
	logger  *log.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	setMu sync.Mutex // serializes SetTask, Release and Stop

	mu  sync.Mutex
	cur *session
}

// NewTracker creates an idle tracker. A nil sub tracks by polling alone.
func NewTracker(sub Subscriber, fetch Fetcher, cadence Cadence, logger *log.Logger) *Tracker {
	if cadence.Fast <= 0 || cadence.Slow <= 0 {
		cadence = DefaultCadence
	}
	return &Tracker{
		sub:     sub,
		fetch:   fetch,
		cadence: cadence,
		logger:  shared.WithLogger(logger, "component", "tracker"),
		now:     time.Now,
		after:   time.After,
	}
}

// SetTask tears down the current task and starts tracking taskID. An empty taskID leaves the tracker idle.
func (t *Tracker) SetTask(taskID string, cb Callbacks) {
	t.setMu.Lock()
	defer t.setMu.Unlock()

	t.mu.Lock()
	old := t.cur
	t.cur = nil
	t.mu.Unlock()

	if old != nil {
		old.release()
		t.logger.Debug("stopped tracking", "task_id", old.taskID)
	}
	if taskID == "" {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		taskID: taskID,
		cb:     cb,
		start:  t.now(),
		state:  Progress{TaskID: taskID},
		cancel: cancel,
	}

	t.mu.Lock()
	t.cur = s
	t.mu.Unlock()

	if t.sub != nil {
		handler := func(env models.Envelope) {
			p, err := env.TaskProgress()
			if err != nil || p.TaskID != taskID {
				return
			}
			t.apply(s, p)
		}
		s.unsubs = []func(){
			t.sub.On(models.EventTaskProgress, handler),
			t.sub.On(models.EventGenerationComplete, handler),
		}
	}

	t.logger.Debug("tracking", "task_id", taskID)
	go t.poll(ctx, s)
}

// Release stops tracking taskID if it is still the current task.
func (t *Tracker) Release(taskID string) {
	t.setMu.Lock()
	defer t.setMu.Unlock()

	t.mu.Lock()
	s := t.cur
	if s == nil || s.taskID != taskID {
		t.mu.Unlock()
		return
	}
	t.cur = nil
	t.mu.Unlock()

	s.release()
}

// Stop tears down the current task.
func (t *Tracker) Stop() { t.SetTask("", Callbacks{}) }

// State returns a copy of the current projection. It is the zero value while idle.
func (t *Tracker) State() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur == nil {
		return Progress{}
	}
	return t.cur.state.clone()
}

// TaskID returns the tracked task id, or "" while idle.
func (t *Tracker) TaskID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur == nil {
		return ""
	}
	return t.cur.taskID
}

// apply reduces snapshot p into session s and reports whether it was applied.
//
// Once s has seen a terminal status, or s is no longer current, every snapshot is discarded.
func (t *Tracker) apply(s *session, p models.TaskProgress) bool {
	t.mu.Lock()
	if s.finished || s != t.cur {
		t.mu.Unlock()
		return false
	}
	if p.Revision > 0 {
		if p.Revision <= s.lastRevision {
			t.mu.Unlock()
			return false
		}
		s.lastRevision = p.Revision
	}

	s.state.Percent = p.Percent()
	s.state.Status = p.Status

	var terminal func()
	switch {
	case p.Status.IsSuccess():
		s.finished = true
		s.state.Finished = true
		s.state.Results = slices.Clone(p.Results)
		s.state.Errors = slices.Clone(p.Errors)
		if cb := s.cb.OnComplete; cb != nil {
			results := slices.Clone(p.Results)
			terminal = func() { cb(results) }
		}
	case p.Status.IsFailure():
		s.finished = true
		s.state.Finished = true
		s.state.Errors = slices.Clone(p.Errors)
		if cb := s.cb.OnFailed; cb != nil {
			errs := slices.Clone(p.Errors)
			terminal = func() { cb(errs) }
		}
	}

	snapshot := s.state.clone()
	onProgress := s.cb.OnProgress
	finished := s.finished
	t.mu.Unlock()

	if finished {
		s.cancel()
		t.logger.Debug("task finished", "task_id", s.taskID, "status", p.Status)
	}
	if onProgress != nil {
		onProgress(snapshot)
	}
	if terminal != nil {
		terminal()
	}
	return true
}

// poll fetches immediately, then schedules each next fetch only after the previous one returns.
func (t *Tracker) poll(ctx context.Context, s *session) {
	for {
		p, err := t.fetch.TaskProgress(ctx, s.taskID)
		if ctx.Err() != nil {
			return
		}
		switch {
		case err != nil:
			t.logger.Debug("poll failed", "task_id", s.taskID, "error", err)
		case p != nil:
			t.apply(s, *p)
		}

		if t.isFinished(s) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-t.after(t.cadence.Interval(t.now().Sub(s.start))):
		}
	}
}

func (t *Tracker) isFinished(s *session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return s.finished
}
