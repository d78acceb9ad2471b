package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/genx/internal/models"
	"github.com/desertthunder/genx/internal/services"
	"github.com/desertthunder/genx/internal/shared"
)

const genericFailure = "Generation failed. Please try again."

// API is the subset of [services.Client] a generator submits through.
type API interface {
	Generate(ctx context.Context, req services.GenerateRequest) (*services.GenerateResponse, error)
	GenerateBatch(ctx context.Context, req services.GenerateRequest) (string, error)
	GenerateVideo(ctx context.Context, req services.GenerateRequest) (string, error)
	SendChat(ctx context.Context, req services.GenerateRequest) (string, error)
	CancelTask(ctx context.Context, taskID string) (int, error)
}

// QuotaChecker decides whether a generation of count units may start.
type QuotaChecker interface {
	CheckQuota(ctx context.Context, kind models.Kind, count int) error
}

// Notifier surfaces user-facing messages.
type Notifier interface {
	Success(msg string)
	Error(msg string)
	Warn(msg string)
}

// HistoryStore persists finished generations. Implemented by repositories.GenerationRepository.
type HistoryStore interface {
	Create(g *models.Generation) error
}

// GeneratorState is what a UI renders for one generation slot.
type GeneratorState struct {
	Kind       models.Kind
	Prompt     string
	Generating bool
	TaskID     string
	Progress   int // never decreases within one generation
	Status     models.TaskStatus
	Results    []string
	Errors     []string
}

// GeneratorOptions wires a [Generator]. Only API and Tracker are required.
type GeneratorOptions struct {
	API      API
	Tracker  *Tracker
	Resolver services.URLResolver
	Quota    QuotaChecker
	Notifier Notifier
	History  HistoryStore
	Logger   *log.Logger

	OnQuotaRefresh   func()
	OnHistoryRefresh func()
}

const cancelTimeout = 30 * time.Second

// run is one call to Generate. Callbacks carrying a run other than the current one are ignored.
type run struct {
	req  services.GenerateRequest
	done chan struct{}
	once sync.Once

	cancelled bool // guarded by Generator.mu; set when Cancel lands before the task id
}

func (r *run) finish() { r.once.Do(func() { close(r.done) }) }

// Generator drives one generation slot: submit, track, finalize.
//
// Starting a new generation supersedes the previous task in the slot. The superseded
// backend job is not cancelled and keeps consuming quota until it ends on its own.
type Generator struct {
	kind models.Kind
	opts GeneratorOptions

	logger  *log.Logger
	updates chan GeneratorState

	mu      sync.Mutex
	state   GeneratorState
	current *run
}

// NewGenerator creates an idle generator for kind.
func NewGenerator(kind models.Kind, opts GeneratorOptions) *Generator {
	if opts.Resolver == nil {
		opts.Resolver = services.PrefixResolver{}
	}
	return &Generator{
		kind:    kind,
		opts:    opts,
		logger:  shared.WithLogger(opts.Logger, "component", "generator", "kind", kind),
		updates: make(chan GeneratorState, 32),
		state:   GeneratorState{Kind: kind},
	}
}

// Kind returns the slot kind.
func (g *Generator) Kind() models.Kind { return g.kind }

// State returns a copy of the slot state.
func (g *Generator) State() GeneratorState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked()
}

func (g *Generator) stateLocked() GeneratorState {
	s := g.state
	s.Results = append([]string(nil), s.Results...)
	s.Errors = append([]string(nil), s.Errors...)
	return s
}

// Updates delivers state copies. Sends never block; a slow reader misses intermediate states.
func (g *Generator) Updates() <-chan GeneratorState { return g.updates }

func (g *Generator) publish() {
	s := g.State()
	select {
	case g.updates <- s:
	default:
	}
}

// Generate checks quota and submits req.
//
// A single image is answered inline and is finished when Generate returns. Everything else
// returns once the backend has accepted the task; use [Generator.Wait] or [Generator.Updates]
// to follow it.
func (g *Generator) Generate(ctx context.Context, req services.GenerateRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", shared.ErrInvalidInput)
	}
	if req.Count < 1 {
		req.Count = 1
	}

	if g.opts.Quota != nil {
		if err := g.opts.Quota.CheckQuota(ctx, g.kind, req.Count); err != nil {
			g.notify().Error(quotaMessage(err))
			return err
		}
	}

	r := &run{req: req, done: make(chan struct{})}

	g.mu.Lock()
	prev, prevTask := g.current, g.state.TaskID
	g.current = r
	g.state = GeneratorState{Kind: g.kind, Prompt: req.Prompt, Generating: true, Status: models.StatusPending}
	g.mu.Unlock()

	if prev != nil {
		prev.finish()
		if prevTask != "" {
			g.logger.Info("superseding task, backend job keeps running", "task_id", prevTask)
		}
	}
	g.opts.Tracker.Stop()
	g.publish()

	if g.kind == models.KindImage && req.Count == 1 {
		return g.generateInline(ctx, r)
	}

	taskID, err := g.submit(ctx, req)
	if err != nil {
		g.submitFailed(r, err)
		return err
	}

	g.mu.Lock()
	if g.current != r {
		cancelled := r.cancelled
		g.mu.Unlock()
		if cancelled {
			g.logger.Info("cancelled during submission, cancelling accepted task", "task_id", taskID)
			go g.cancelLate(context.WithoutCancel(ctx), r.req.Prompt, taskID)
			return nil
		}
		g.logger.Debug("generation superseded before tracking", "task_id", taskID)
		return nil
	}
	g.state.TaskID = taskID
	g.mu.Unlock()
	g.publish()

	g.opts.Tracker.SetTask(taskID, Callbacks{
		OnProgress: func(p Progress) { g.progressed(r, p) },
		OnComplete: func(results []models.TaskResult) { g.completed(r, taskID, results) },
		OnFailed:   func(errs []string) { g.failed(r, taskID, errs) },
	})
	return nil
}

func (g *Generator) generateInline(ctx context.Context, r *run) error {
	resp, err := g.opts.API.Generate(ctx, r.req)
	if err != nil {
		g.submitFailed(r, err)
		return err
	}
	if resp.Status.IsFailure() {
		g.failed(r, resp.TaskID, resp.Errors)
		return fmt.Errorf("%w: %s", shared.ErrAPIRequest, failureMessage(resp.Errors))
	}
	g.completed(r, resp.TaskID, resp.Results)
	return nil
}

func (g *Generator) submit(ctx context.Context, req services.GenerateRequest) (string, error) {
	switch g.kind {
	case models.KindVideo:
		return g.opts.API.GenerateVideo(ctx, req)
	case models.KindChat:
		return g.opts.API.SendChat(ctx, req)
	default:
		return g.opts.API.GenerateBatch(ctx, req)
	}
}

// Wait blocks until the current generation finishes, is cancelled or is superseded.
func (g *Generator) Wait(ctx context.Context) (GeneratorState, error) {
	g.mu.Lock()
	r := g.current
	g.mu.Unlock()

	if r == nil {
		return g.State(), nil
	}
	select {
	case <-r.done:
		return g.State(), nil
	case <-ctx.Done():
		return g.State(), ctx.Err()
	}
}

// Cancel resets the slot to idle and detaches the tracker, then asks the backend to cancel.
//
// The reset happens whether or not the cancel call succeeds. Returns the refunded quota.
// Cancelling while the submission is still in flight returns 0 and a nil error; the backend
// task is cancelled as soon as its id arrives and the outcome goes to the notifier.
func (g *Generator) Cancel(ctx context.Context) (int, error) {
	g.mu.Lock()
	r, taskID, generating, prompt := g.current, g.state.TaskID, g.state.Generating, g.state.Prompt
	pending := r != nil && generating && taskID == "" && !(g.kind == models.KindImage && r.req.Count == 1)
	if pending {
		r.cancelled = true
	}
	g.current = nil
	g.state = GeneratorState{Kind: g.kind}
	g.mu.Unlock()

	if r != nil {
		r.finish()
	}
	if taskID != "" {
		g.opts.Tracker.Release(taskID)
	}
	g.publish()

	if pending {
		g.logger.Debug("cancel requested before the task id arrived")
		return 0, nil
	}
	if !generating || taskID == "" {
		return 0, shared.ErrNoActiveTask
	}
	return g.cancelTask(ctx, prompt, taskID)
}

func (g *Generator) cancelLate(ctx context.Context, prompt, taskID string) {
	ctx, cancel := context.WithTimeout(ctx, cancelTimeout)
	defer cancel()
	g.cancelTask(ctx, prompt, taskID)
}

func (g *Generator) cancelTask(ctx context.Context, prompt, taskID string) (int, error) {
	refunded, err := g.opts.API.CancelTask(ctx, taskID)
	if err != nil {
		msg := services.ServerMessage(err)
		if msg == "" {
			msg = "the backend did not confirm the cancellation"
		}
		g.notify().Error("Failed to cancel generation: " + msg)
		return 0, err
	}

	gen := models.NewGeneration(g.kind, prompt)
	gen.TaskID = taskID
	gen.Status = models.StatusCancelled
	gen.Refunded = refunded
	g.record(gen)

	if refunded > 0 {
		g.notify().Success(fmt.Sprintf("Generation cancelled, %d credits refunded", refunded))
	} else {
		g.notify().Success("Generation cancelled")
	}
	g.refresh(g.opts.OnQuotaRefresh)
	return refunded, nil
}

func (g *Generator) progressed(r *run, p Progress) {
	g.mu.Lock()
	if g.current != r || !g.state.Generating {
		g.mu.Unlock()
		return
	}
	g.state.Progress = max(g.state.Progress, p.Percent)
	g.state.Status = p.Status
	g.mu.Unlock()
	g.publish()
}

func (g *Generator) completed(r *run, taskID string, results []models.TaskResult) {
	urls := make([]string, 0, len(results))
	for _, res := range results {
		u, err := g.opts.Resolver.Resolve(context.Background(), res)
		if err != nil {
			g.logger.Warn("failed to resolve result", "key", res.Key, "error", err)
			continue
		}
		urls = append(urls, u)
	}

	g.mu.Lock()
	if g.current != r || !g.state.Generating {
		g.mu.Unlock()
		return
	}
	g.state.Generating = false
	g.state.Progress = 100
	g.state.Status = models.StatusCompleted
	g.state.Results = urls
	g.state.Errors = nil
	g.mu.Unlock()

	if taskID != "" {
		g.opts.Tracker.Release(taskID)
	}

	gen := models.NewGeneration(g.kind, r.req.Prompt)
	gen.Provider, gen.Model = r.req.Provider, r.req.Model
	gen.TaskID = taskID
	gen.Status = models.StatusCompleted
	gen.ResultURLs = urls
	g.record(gen)

	g.refresh(g.opts.OnQuotaRefresh)
	g.refresh(g.opts.OnHistoryRefresh)
	g.notify().Success(fmt.Sprintf("%s generation complete (%d %s)", titleKind(g.kind), len(urls), plural(len(urls), "result")))

	r.finish()
	g.publish()
}

func (g *Generator) failed(r *run, taskID string, errs []string) {
	g.mu.Lock()
	if g.current != r || !g.state.Generating {
		g.mu.Unlock()
		return
	}
	g.state = GeneratorState{
		Kind:   g.kind,
		Prompt: r.req.Prompt,
		TaskID: taskID,
		Status: models.StatusFailed,
		Errors: append([]string(nil), errs...),
	}
	g.mu.Unlock()

	if taskID != "" {
		g.opts.Tracker.Release(taskID)
	}

	gen := models.NewGeneration(g.kind, r.req.Prompt)
	gen.Provider, gen.Model = r.req.Provider, r.req.Model
	gen.TaskID = taskID
	gen.Status = models.StatusFailed
	gen.Errors = errs
	g.record(gen)
	g.refresh(g.opts.OnHistoryRefresh)

	g.notify().Error(failureMessage(errs))
	r.finish()
	g.publish()
}

func (g *Generator) submitFailed(r *run, err error) {
	g.mu.Lock()
	if g.current == r {
		g.current = nil
		g.state = GeneratorState{Kind: g.kind}
	}
	g.mu.Unlock()

	msg := services.ServerMessage(err)
	if msg == "" {
		msg = "Failed to start generation"
		if errors.Is(err, shared.ErrUnauthorized) {
			msg = "Your session has expired. Please sign in again."
		}
	}
	g.logger.Warn("submission failed", "error", err)
	g.notify().Error(msg)

	r.finish()
	g.publish()
}

func (g *Generator) record(gen *models.Generation) {
	if g.opts.History == nil {
		return
	}
	if err := g.opts.History.Create(gen); err != nil {
		g.logger.Warn("failed to record generation", "error", err)
	}
}

func (g *Generator) refresh(hook func()) {
	if hook != nil {
		hook()
	}
}

func (g *Generator) notify() Notifier {
	if g.opts.Notifier == nil {
		return LogNotifier{Logger: g.logger}
	}
	return g.opts.Notifier
}

func failureMessage(errs []string) string {
	var parts []string
	for _, e := range errs {
		if e = strings.TrimSpace(e); e != "" {
			parts = append(parts, e)
		}
	}
	if len(parts) == 0 {
		return genericFailure
	}
	return strings.Join(parts, "; ")
}

func quotaMessage(err error) string {
	if errors.Is(err, shared.ErrQuotaExceeded) {
		return "Not enough quota for this generation"
	}
	return "Could not check quota: " + err.Error()
}

func titleKind(k models.Kind) string {
	s := string(k)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
