package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/genx/internal/models"
	"github.com/desertthunder/genx/internal/services"
	"github.com/desertthunder/genx/internal/shared"
	"github.com/desertthunder/genx/internal/tasks"
	"github.com/desertthunder/genx/internal/ui"
	"github.com/urfave/cli/v3"
)

// TUI launches the interactive terminal UI with one generator per kind.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger("./tmp/genx-tui.log")
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)

	notifier := ui.NewNotifier()
	r.notifier = notifier

	if err := r.requireAuth(ctx); err != nil {
		return err
	}
	stop := tasks.NotifyQuotaWarnings(r.push, notifier)
	defer stop()

	var gens []*tasks.Generator
	for _, kind := range []models.Kind{models.KindImage, models.KindVideo, models.KindChat} {
		gens = append(gens, r.newGenerator(kind))
	}

	model := ui.NewModel(ctx, ui.Options{
		Generators: gens,
		History:    r.history,
		Notifier:   notifier,
		Request:    services.GenerateRequest{Count: 1},
	})
	p := tea.NewProgram(model, tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
