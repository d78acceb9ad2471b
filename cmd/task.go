package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/genx/internal/models"
	"github.com/desertthunder/genx/internal/shared"
	"github.com/desertthunder/genx/internal/tasks"
	"github.com/urfave/cli/v3"
)

type watchOutcome struct {
	results []models.TaskResult
	errs    []string
	failed  bool
}

// TaskWatch tracks an existing task id without submitting anything.
//
// When the task belongs to a recorded generation its history entry is updated.
func (r *Runner) TaskWatch(ctx context.Context, cmd *cli.Command) error {
	taskID := strings.TrimSpace(cmd.StringArg("id"))
	if taskID == "" {
		return fmt.Errorf("%w: task id", shared.ErrMissingArgument)
	}
	if err := r.requireAuth(ctx); err != nil {
		return err
	}

	tracker := r.newTracker()
	defer tracker.Stop()

	outcomes := make(chan watchOutcome, 1)
	tracker.SetTask(taskID, tasks.Callbacks{
		OnProgress: func(p tasks.Progress) {
			if !p.Finished {
				r.writePlain("  %3d%%  %s\n", p.Percent, p.Status)
			}
		},
		OnComplete: func(results []models.TaskResult) {
			outcomes <- watchOutcome{results: results}
		},
		OnFailed: func(errs []string) {
			outcomes <- watchOutcome{errs: errs, failed: true}
		},
	})

	var out watchOutcome
	select {
	case out = <-outcomes:
	case <-ctx.Done():
		return ctx.Err()
	}

	if out.failed {
		r.recordOutcome(taskID, models.StatusFailed, nil, out.errs)
		msg := strings.Join(out.errs, "; ")
		if msg == "" {
			msg = "generation failed"
		}
		return fmt.Errorf("%w: %s", shared.ErrAPIRequest, msg)
	}

	urls := make([]string, 0, len(out.results))
	for _, res := range out.results {
		u, err := r.resolver.Resolve(ctx, res)
		if err != nil {
			r.logger.Warn("failed to resolve result", "key", res.Key, "error", err)
			continue
		}
		urls = append(urls, u)
	}
	r.recordOutcome(taskID, models.StatusCompleted, urls, nil)

	r.writePlain("✓ Task %s completed\n", taskID)
	for _, u := range urls {
		r.writePlain("%s\n", u)
	}
	return nil
}

// TaskCancel cancels a task by id and reports the refund.
func (r *Runner) TaskCancel(ctx context.Context, cmd *cli.Command) error {
	taskID := strings.TrimSpace(cmd.StringArg("id"))
	if taskID == "" {
		return fmt.Errorf("%w: task id", shared.ErrMissingArgument)
	}
	if err := r.requireAuth(ctx); err != nil {
		return err
	}

	refunded, err := r.api.CancelTask(ctx, taskID)
	if err != nil {
		return err
	}

	if gen, err := r.history.GetByTaskID(taskID); err == nil {
		gen.Status = models.StatusCancelled
		gen.Refunded = refunded
		if err := r.history.Update(gen); err != nil {
			r.logger.Warn("failed to update history", "task_id", taskID, "error", err)
		}
	}

	if refunded > 0 {
		return r.writePlain("✓ Task %s cancelled, %d credits refunded\n", taskID, refunded)
	}
	return r.writePlain("✓ Task %s cancelled\n", taskID)
}

// recordOutcome updates the history entry for taskID when one exists.
func (r *Runner) recordOutcome(taskID string, status models.TaskStatus, urls, errs []string) {
	gen, err := r.history.GetByTaskID(taskID)
	if errors.Is(err, shared.ErrGenerationNotFound) {
		return
	}
	if err != nil {
		r.logger.Warn("failed to read history", "task_id", taskID, "error", err)
		return
	}

	gen.Status = status
	gen.ResultURLs = urls
	gen.Errors = errs
	if err := r.history.Update(gen); err != nil {
		r.logger.Warn("failed to update history", "task_id", taskID, "error", err)
	}
}
