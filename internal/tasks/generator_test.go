package tasks

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/desertthunder/genx/internal/models"
	"github.com/desertthunder/genx/internal/services"
	"github.com/desertthunder/genx/internal/shared"
	tu "github.com/desertthunder/genx/internal/testing"
)

type generatorFixture struct {
	api      *fakeAPI
	sub      *fakeSub
	fetch    *scriptedFetch
	tracker  *Tracker
	notifier *tu.Notifier
	history  *memHistory
	quota    atomic.Int32
	refresh  atomic.Int32
	gen      *Generator
}

func newGeneratorFixture(t *testing.T, kind models.Kind, fetch *scriptedFetch) *generatorFixture {
	t.Helper()
	if fetch == nil {
		fetch = &scriptedFetch{}
	}
	f := &generatorFixture{
		api:      &fakeAPI{taskIDs: []string{"t1", "t2", "t3"}},
		sub:      newFakeSub(),
		fetch:    fetch,
		notifier: &tu.Notifier{},
		history:  &memHistory{},
	}
	f.tracker = NewTracker(f.sub, f.fetch, DefaultCadence, nil)
	f.tracker.after = immediately
	t.Cleanup(f.tracker.Stop)

	f.gen = NewGenerator(kind, GeneratorOptions{
		API:              f.api,
		Tracker:          f.tracker,
		Resolver:         services.PrefixResolver{BaseURL: "https://cdn.example.com/files"},
		Notifier:         f.notifier,
		History:          f.history,
		OnQuotaRefresh:   func() { f.quota.Add(1) },
		OnHistoryRefresh: func() { f.refresh.Add(1) },
	})
	return f
}

func TestGeneratorBatch(t *testing.T) {
	t.Run("Submit Track Complete", func(t *testing.T) {
		fetch := &scriptedFetch{script: []fetchResult{
			{p: &models.TaskProgress{TaskID: "t1", Progress: 1, Total: 4, Status: models.StatusProcessing}},
		}}
		f := newGeneratorFixture(t, models.KindImage, fetch)
		ctx := context.Background()

		if err := f.gen.Generate(ctx, services.GenerateRequest{Prompt: "a red fox", Count: 4}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got := f.api.endpoints; !slices.Equal(got, []string{"batch"}) {
			t.Errorf("expected batch endpoint, got %v", got)
		}

		tu.Eventually(t, wait, func() bool { return f.gen.State().Progress == 25 }, "polled progress")
		s := f.gen.State()
		if !s.Generating || s.TaskID != "t1" || s.Status != models.StatusProcessing {
			t.Errorf("unexpected in-flight state %+v", s)
		}

		f.sub.emit(models.EventGenerationComplete, models.TaskProgress{
			TaskID: "t1", Progress: 4, Total: 4, Status: models.StatusCompleted,
			Results: []models.TaskResult{{Key: "a.png"}, {Key: "b.png"}, {Key: "c.png"}, {URL: "https://elsewhere.example.com/d.png"}},
		})

		s, err := f.gen.Wait(ctx)
		if err != nil {
			t.Fatalf("wait failed: %v", err)
		}
		if s.Generating || s.Progress != 100 || s.Status != models.StatusCompleted {
			t.Errorf("unexpected final state %+v", s)
		}
		want := []string{
			"https://cdn.example.com/files/a.png",
			"https://cdn.example.com/files/b.png",
			"https://cdn.example.com/files/c.png",
			"https://elsewhere.example.com/d.png",
		}
		if !slices.Equal(s.Results, want) {
			t.Errorf("expected %v, got %v", want, s.Results)
		}

		if got := f.notifier.Successes(); len(got) != 1 || got[0] != "Image generation complete (4 results)" {
			t.Errorf("unexpected success toasts %v", got)
		}
		if f.quota.Load() != 1 || f.refresh.Load() != 1 {
			t.Errorf("expected one quota and one history refresh, got %d/%d", f.quota.Load(), f.refresh.Load())
		}

		gens := f.history.all()
		if len(gens) != 1 || gens[0].TaskID != "t1" || gens[0].Status != models.StatusCompleted || len(gens[0].ResultURLs) != 4 {
			t.Errorf("unexpected history %+v", gens)
		}
		if f.tracker.TaskID() != "" {
			t.Error("expected tracker released after completion")
		}
	})

	t.Run("Progress Never Decreases", func(t *testing.T) {
		f := newGeneratorFixture(t, models.KindImage, nil)
		if err := f.gen.Generate(context.Background(), services.GenerateRequest{Prompt: "p", Count: 2}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		f.sub.emit(models.EventTaskProgress, models.TaskProgress{TaskID: "t1", Progress: 6, Total: 10, Status: models.StatusProcessing})
		f.sub.emit(models.EventTaskProgress, models.TaskProgress{TaskID: "t1", Progress: 2, Total: 10, Status: models.StatusProcessing})

		if got := f.gen.State().Progress; got != 60 {
			t.Errorf("expected progress to stay at 60, got %d", got)
		}
	})

	t.Run("Failure Joins Errors", func(t *testing.T) {
		f := newGeneratorFixture(t, models.KindVideo, nil)
		ctx := context.Background()
		if err := f.gen.Generate(ctx, services.GenerateRequest{Prompt: "waves", DurationSecs: 5}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got := f.api.endpoints; !slices.Equal(got, []string{"video"}) {
			t.Errorf("expected video endpoint, got %v", got)
		}

		f.sub.emit(models.EventTaskProgress, models.TaskProgress{TaskID: "t1", Status: models.StatusFailed, Errors: []string{"content policy", " ", "timeout"}})
		s, _ := f.gen.Wait(ctx)

		if s.Generating || s.Status != models.StatusFailed {
			t.Errorf("unexpected state %+v", s)
		}
		if got := f.notifier.Errors(); len(got) != 1 || got[0] != "content policy; timeout" {
			t.Errorf("unexpected error toasts %v", got)
		}
		if gens := f.history.all(); len(gens) != 1 || gens[0].Status != models.StatusFailed {
			t.Errorf("expected failed history entry, got %+v", gens)
		}
		if f.quota.Load() != 0 {
			t.Error("failure must not refresh quota")
		}
	})

	t.Run("Failure Without Details", func(t *testing.T) {
		f := newGeneratorFixture(t, models.KindChat, nil)
		ctx := context.Background()
		if err := f.gen.Generate(ctx, services.GenerateRequest{Prompt: "hello"}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		f.sub.emit(models.EventGenerationComplete, models.TaskProgress{TaskID: "t1", Status: models.StatusFailed})
		f.gen.Wait(ctx)

		if got := f.notifier.Errors(); len(got) != 1 || got[0] != genericFailure {
			t.Errorf("expected generic failure message, got %v", got)
		}
		if got := f.api.endpoints; !slices.Equal(got, []string{"chat"}) {
			t.Errorf("expected chat endpoint, got %v", got)
		}
	})
}

func TestGeneratorInline(t *testing.T) {
	t.Run("Single Image", func(t *testing.T) {
		f := newGeneratorFixture(t, models.KindImage, nil)
		f.api.inline = &services.GenerateResponse{
			Status:  models.StatusCompleted,
			Results: []models.TaskResult{{Key: "one.png"}},
		}

		if err := f.gen.Generate(context.Background(), services.GenerateRequest{Prompt: "cat"}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		s := f.gen.State()
		if s.Generating || !slices.Equal(s.Results, []string{"https://cdn.example.com/files/one.png"}) {
			t.Errorf("unexpected state %+v", s)
		}
		if f.fetch.callCount() != 0 || f.tracker.TaskID() != "" {
			t.Error("inline generation must not start tracking")
		}
		if got := f.notifier.Successes(); len(got) != 1 || got[0] != "Image generation complete (1 result)" {
			t.Errorf("unexpected toasts %v", got)
		}
	})

	t.Run("Inline Failure", func(t *testing.T) {
		f := newGeneratorFixture(t, models.KindImage, nil)
		f.api.inline = &services.GenerateResponse{Status: models.StatusFailed, Errors: []string{"bad prompt"}}

		err := f.gen.Generate(context.Background(), services.GenerateRequest{Prompt: "cat"})
		if !errors.Is(err, shared.ErrAPIRequest) {
			t.Errorf("expected ErrAPIRequest, got %v", err)
		}
		if got := f.notifier.Errors(); len(got) != 1 || got[0] != "bad prompt" {
			t.Errorf("unexpected error toasts %v", got)
		}
	})
}

func TestGeneratorSubmission(t *testing.T) {
	t.Run("Empty Prompt", func(t *testing.T) {
		f := newGeneratorFixture(t, models.KindImage, nil)
		err := f.gen.Generate(context.Background(), services.GenerateRequest{Prompt: "  "})
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if len(f.api.endpoints) != 0 {
			t.Error("expected nothing submitted")
		}
	})

	t.Run("Server Message", func(t *testing.T) {
		f := newGeneratorFixture(t, models.KindVideo, nil)
		f.api.submitErr = &services.APIError{StatusCode: 400, Message: "Prompt too long"}

		err := f.gen.Generate(context.Background(), services.GenerateRequest{Prompt: "x"})
		if !errors.Is(err, shared.ErrAPIRequest) {
			t.Errorf("expected ErrAPIRequest, got %v", err)
		}
		if got := f.notifier.Errors(); len(got) != 1 || got[0] != "Prompt too long" {
			t.Errorf("expected server message, got %v", got)
		}
		if s := f.gen.State(); s.Generating {
			t.Error("expected idle slot after submission failure")
		}
	})

	t.Run("Session Expired", func(t *testing.T) {
		f := newGeneratorFixture(t, models.KindChat, nil)
		f.api.submitErr = shared.ErrUnauthorized

		f.gen.Generate(context.Background(), services.GenerateRequest{Prompt: "x"})
		if got := f.notifier.Errors(); len(got) != 1 || !strings.Contains(got[0], "session has expired") {
			t.Errorf("expected session expired message, got %v", got)
		}
	})

	t.Run("Quota Exceeded", func(t *testing.T) {
		f := newGeneratorFixture(t, models.KindImage, nil)
		f.gen.opts.Quota = QuotaGate{API: f.api}

		err := f.gen.Generate(context.Background(), services.GenerateRequest{Prompt: "x", Count: 4})
		if !errors.Is(err, shared.ErrQuotaExceeded) {
			t.Errorf("expected ErrQuotaExceeded, got %v", err)
		}
		if len(f.api.endpoints) != 0 {
			t.Error("expected nothing submitted over quota")
		}
		if got := f.notifier.Errors(); len(got) != 1 || got[0] != "Not enough quota for this generation" {
			t.Errorf("unexpected toasts %v", got)
		}
	})
}

func TestGeneratorCancel(t *testing.T) {
	t.Run("Cancel In Flight", func(t *testing.T) {
		f := newGeneratorFixture(t, models.KindImage, nil)
		f.api.refunded = 4
		ctx := context.Background()

		if err := f.gen.Generate(ctx, services.GenerateRequest{Prompt: "fox", Count: 4}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		f.sub.emit(models.EventTaskProgress, models.TaskProgress{TaskID: "t1", Progress: 1, Total: 4, Status: models.StatusProcessing})

		refunded, err := f.gen.Cancel(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if refunded != 4 {
			t.Errorf("expected 4 refunded, got %d", refunded)
		}
		if !slices.Equal(f.api.cancelled, []string{"t1"}) {
			t.Errorf("expected t1 cancelled, got %v", f.api.cancelled)
		}

		s := f.gen.State()
		if s.Generating || s.TaskID != "" || s.Progress != 0 {
			t.Errorf("expected idle slot, got %+v", s)
		}
		if f.sub.count() != 0 {
			t.Errorf("expected tracker detached, got %d handlers", f.sub.count())
		}
		if got := f.notifier.Successes(); len(got) != 1 || got[0] != "Generation cancelled, 4 credits refunded" {
			t.Errorf("unexpected toasts %v", got)
		}
		if f.quota.Load() != 1 {
			t.Errorf("expected quota refresh after cancel, got %d", f.quota.Load())
		}
		if gens := f.history.all(); len(gens) != 1 || gens[0].Status != models.StatusCancelled || gens[0].Refunded != 4 {
			t.Errorf("expected cancelled history entry, got %+v", gens)
		}

		f.sub.emit(models.EventGenerationComplete, models.TaskProgress{TaskID: "t1", Status: models.StatusCompleted})
		if s := f.gen.State(); s.Status != models.StatusUnset || len(s.Results) != 0 {
			t.Errorf("late events must not touch the slot, got %+v", s)
		}
	})

	t.Run("Backend Failure Still Resets", func(t *testing.T) {
		f := newGeneratorFixture(t, models.KindVideo, nil)
		f.api.cancelErr = &services.APIError{StatusCode: 404, Message: "Task not found"}
		ctx := context.Background()

		f.gen.Generate(ctx, services.GenerateRequest{Prompt: "x"})
		_, err := f.gen.Cancel(ctx)
		if !errors.Is(err, shared.ErrTaskNotFound) {
			t.Errorf("expected ErrTaskNotFound, got %v", err)
		}
		if f.gen.State().Generating {
			t.Error("expected idle slot after failed cancel")
		}
		if got := f.notifier.Errors(); len(got) != 1 || !strings.Contains(got[0], "Task not found") {
			t.Errorf("unexpected toasts %v", got)
		}
	})

	t.Run("Nothing To Cancel", func(t *testing.T) {
		f := newGeneratorFixture(t, models.KindImage, nil)
		if _, err := f.gen.Cancel(context.Background()); !errors.Is(err, shared.ErrNoActiveTask) {
			t.Errorf("expected ErrNoActiveTask, got %v", err)
		}
		if len(f.api.cancelled) != 0 {
			t.Error("expected no backend call")
		}
	})

	t.Run("Cancel During Submission", func(t *testing.T) {
		f := newGeneratorFixture(t, models.KindVideo, nil)
		f.api.refunded = 2
		f.api.gate = make(chan struct{})
		ctx := context.Background()

		submitted := make(chan error, 1)
		go func() { submitted <- f.gen.Generate(ctx, services.GenerateRequest{Prompt: "waves"}) }()
		tu.Eventually(t, wait, func() bool { return f.gen.State().Generating }, "submission to start")

		refunded, err := f.gen.Cancel(ctx)
		if err != nil || refunded != 0 {
			t.Fatalf("expected accepted cancel, got %d %v", refunded, err)
		}
		if f.gen.State().Generating {
			t.Error("expected idle slot right after cancel")
		}

		close(f.api.gate)
		if err := <-submitted; err != nil {
			t.Fatalf("expected no error from superseded submission, got %v", err)
		}

		tu.Eventually(t, wait, func() bool {
			return slices.Equal(f.api.cancelledIDs(), []string{"t1"})
		}, "accepted task to be cancelled")
		tu.Eventually(t, wait, func() bool {
			got := f.notifier.Successes()
			return len(got) == 1 && got[0] == "Generation cancelled, 2 credits refunded"
		}, "cancel toast")

		if f.sub.count() != 0 {
			t.Errorf("expected tracker never attached, got %d handlers", f.sub.count())
		}
		if s := f.gen.State(); s.TaskID != "" || s.Generating {
			t.Errorf("expected slot to stay idle, got %+v", s)
		}
		if gens := f.history.all(); len(gens) != 1 || gens[0].TaskID != "t1" || gens[0].Status != models.StatusCancelled {
			t.Errorf("expected cancelled history entry for t1, got %+v", gens)
		}
	})

	t.Run("Superseded Submission Is Not Cancelled", func(t *testing.T) {
		f := newGeneratorFixture(t, models.KindVideo, nil)
		gate := make(chan struct{})
		f.api.gate = gate
		ctx := context.Background()

		first := make(chan error, 1)
		go func() { first <- f.gen.Generate(ctx, services.GenerateRequest{Prompt: "one"}) }()
		tu.Eventually(t, wait, func() bool { return f.gen.State().Prompt == "one" }, "first submission to start")

		second := make(chan error, 1)
		go func() { second <- f.gen.Generate(ctx, services.GenerateRequest{Prompt: "two"}) }()
		tu.Eventually(t, wait, func() bool { return f.gen.State().Prompt == "two" }, "second submission to start")

		close(gate)
		<-first
		<-second
		if got := f.api.cancelledIDs(); len(got) != 0 {
			t.Errorf("supersession must not cancel backend jobs, got %v", got)
		}
	})

	t.Run("Wait Returns On Cancel", func(t *testing.T) {
		f := newGeneratorFixture(t, models.KindImage, nil)
		ctx := context.Background()
		f.gen.Generate(ctx, services.GenerateRequest{Prompt: "x", Count: 2})

		done := make(chan struct{})
		go func() {
			f.gen.Wait(ctx)
			close(done)
		}()
		f.gen.Cancel(ctx)
		tu.Eventually(t, wait, func() bool {
			select {
			case <-done:
				return true
			default:
				return false
			}
		}, "wait to return")
	})
}

func TestGeneratorSupersede(t *testing.T) {
	f := newGeneratorFixture(t, models.KindImage, nil)
	ctx := context.Background()

	f.gen.Generate(ctx, services.GenerateRequest{Prompt: "first", Count: 2})
	f.gen.Generate(ctx, services.GenerateRequest{Prompt: "second", Count: 2})

	if f.tracker.TaskID() != "t2" {
		t.Fatalf("expected tracker on t2, got %q", f.tracker.TaskID())
	}
	if len(f.api.cancelled) != 0 {
		t.Error("superseding must not cancel the previous backend job")
	}

	f.sub.emit(models.EventGenerationComplete, models.TaskProgress{TaskID: "t1", Status: models.StatusCompleted, Results: []models.TaskResult{{Key: "old.png"}}})
	if s := f.gen.State(); !s.Generating || s.Prompt != "second" || len(s.Results) != 0 {
		t.Errorf("events for t1 must not reach the slot, got %+v", s)
	}

	f.sub.emit(models.EventGenerationComplete, models.TaskProgress{TaskID: "t2", Status: models.StatusCompleted, Results: []models.TaskResult{{Key: "new.png"}}})
	s, _ := f.gen.Wait(ctx)
	if !slices.Equal(s.Results, []string{"https://cdn.example.com/files/new.png"}) {
		t.Errorf("unexpected results %v", s.Results)
	}
}

func TestGeneratorUpdates(t *testing.T) {
	f := newGeneratorFixture(t, models.KindImage, nil)
	f.gen.Generate(context.Background(), services.GenerateRequest{Prompt: "x", Count: 2})

	var last GeneratorState
	for drained := false; !drained; {
		select {
		case last = <-f.gen.Updates():
		default:
			drained = true
		}
	}
	if last.TaskID != "t1" || !last.Generating {
		t.Errorf("expected latest update to carry t1, got %+v", last)
	}
}

func TestQuota(t *testing.T) {
	t.Run("QuotaGate", func(t *testing.T) {
		gate := QuotaGate{API: &fakeAPI{}}
		if err := gate.CheckQuota(context.Background(), models.KindImage, 1); err != nil {
			t.Errorf("expected one unit to pass, got %v", err)
		}
		if err := gate.CheckQuota(context.Background(), models.KindImage, 2); !errors.Is(err, shared.ErrQuotaExceeded) {
			t.Errorf("expected ErrQuotaExceeded, got %v", err)
		}
	})

	t.Run("NotifyQuotaWarnings", func(t *testing.T) {
		sub := newFakeSub()
		n := &tu.Notifier{}
		stop := NotifyQuotaWarnings(sub, n)

		sub.emit(models.EventQuotaWarning, models.QuotaWarning{Remaining: 2, Limit: 50})
		sub.emit(models.EventQuotaWarning, models.QuotaWarning{Message: "Almost out"})
		stop()
		sub.emit(models.EventQuotaWarning, models.QuotaWarning{Message: "ignored"})

		want := []string{"Quota running low: 2 of 50 remaining", "Almost out"}
		if got := n.Warnings(); !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})
}
