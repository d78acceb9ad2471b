package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/desertthunder/genx/internal/models"
	"github.com/desertthunder/genx/internal/services"
	"github.com/desertthunder/genx/internal/shared"
	"github.com/desertthunder/genx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Generate submits a generation of the kind named by the subcommand and follows it.
//
// Interrupting while the task runs cancels it on the backend.
func (r *Runner) Generate(ctx context.Context, cmd *cli.Command) error {
	kind, err := models.ParseKind(cmd.Name)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}

	prompt := strings.TrimSpace(cmd.StringArg("prompt"))
	if prompt == "" {
		return fmt.Errorf("%w: prompt", shared.ErrMissingArgument)
	}

	if err := r.requireAuth(ctx); err != nil {
		return err
	}
	stop := tasks.NotifyQuotaWarnings(r.push, r.notifier)
	defer stop()

	gen := r.newGenerator(kind)
	if err := gen.Generate(ctx, requestFromFlags(cmd, prompt)); err != nil {
		return err
	}

	if cmd.Bool("detach") {
		s := gen.State()
		if s.TaskID == "" {
			return r.printState(s, cmd.Bool("json"))
		}
		return r.writePlain("Submitted task %s\nFollow it with: genx task watch %s\n", s.TaskID, s.TaskID)
	}

	state, err := r.follow(ctx, gen)
	if err != nil {
		return err
	}
	return r.printState(state, cmd.Bool("json"))
}

// follow prints progress until gen finishes. On interruption the task is cancelled.
func (r *Runner) follow(ctx context.Context, gen *tasks.Generator) (tasks.GeneratorState, error) {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		last := -1
		for {
			select {
			case s := <-gen.Updates():
				if s.Generating && s.Progress != last {
					r.writePlain("  %3d%%  %s\n", s.Progress, s.Status)
					last = s.Progress
				}
			case <-stop:
				return
			}
		}
	}()

	state, err := gen.Wait(ctx)
	close(stop)
	<-done

	if err != nil && errors.Is(err, context.Canceled) {
		r.logger.Info("interrupted, cancelling task", "task_id", state.TaskID)
		if _, cancelErr := gen.Cancel(context.WithoutCancel(ctx)); cancelErr != nil {
			r.logger.Warn("cancel after interrupt failed", "error", cancelErr)
		}
	}
	return state, err
}

func (r *Runner) printState(s tasks.GeneratorState, asJSON bool) error {
	if asJSON {
		return r.writeJSON(s, true)
	}

	if s.Status.IsFailure() {
		return fmt.Errorf("%w: %s", shared.ErrAPIRequest, strings.Join(s.Errors, "; "))
	}
	for _, u := range s.Results {
		r.writePlain("%s\n", u)
	}
	return nil
}

func requestFromFlags(cmd *cli.Command, prompt string) services.GenerateRequest {
	req := services.GenerateRequest{
		Prompt:         prompt,
		NegativePrompt: cmd.String("negative"),
		Count:          cmd.Int("count"),
		Width:          cmd.Int("width"),
		Height:         cmd.Int("height"),
		AspectRatio:    cmd.String("aspect"),
		DurationSecs:   cmd.Int("duration"),
		ImageURLs:      cmd.StringSlice("image"),
		ConversationID: cmd.String("conversation"),
		Search:         cmd.Bool("search"),
		Provider:       cmd.String("provider"),
		Model:          cmd.String("model"),
	}
	if cmd.IsSet("seed") {
		seed := cmd.Int64("seed")
		req.Seed = &seed
	}
	return req
}

// Quota prints the remaining allowance.
func (r *Runner) Quota(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireAuth(ctx); err != nil {
		return err
	}

	quota, err := r.api.Quota(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(quota, true)
	}
	if quota.Limit < 0 {
		return r.writePlain("Quota: unlimited\n")
	}
	return r.writePlain("Quota: %d of %d remaining\n", quota.Remaining, quota.Limit)
}
