package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/genx/internal/formatter"
	"github.com/desertthunder/genx/internal/models"
	"github.com/desertthunder/genx/internal/shared"
	"github.com/desertthunder/genx/internal/tasks"
	"github.com/urfave/cli/v3"
)

// HistoryList prints recent generations as a table.
func (r *Runner) HistoryList(ctx context.Context, cmd *cli.Command) error {
	if err := r.connect(ctx); err != nil {
		return err
	}

	criteria := map[string]any{"limit": cmd.Int("limit")}
	if kind := cmd.String("kind"); kind != "" {
		k, err := models.ParseKind(kind)
		if err != nil {
			return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
		}
		criteria["kind"] = k
	}
	if status := cmd.String("status"); status != "" {
		criteria["status"] = status
	}

	gens, err := r.history.List(criteria)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		records := make([]formatter.Record, len(gens))
		for i, g := range gens {
			records[i] = formatter.NewRecord(g)
		}
		return r.writeJSON(records, true)
	}
	if len(gens) == 0 {
		return r.writePlain("No generations yet.\n")
	}
	return formatter.WriteTable(r.output, gens)
}

// HistoryShow prints one generation in full.
func (r *Runner) HistoryShow(ctx context.Context, cmd *cli.Command) error {
	id := strings.TrimSpace(cmd.StringArg("id"))
	if id == "" {
		return fmt.Errorf("%w: generation id", shared.ErrMissingArgument)
	}
	if err := r.connect(ctx); err != nil {
		return err
	}

	gen, err := r.history.Get(id)
	if err != nil {
		return err
	}
	return r.writePlain("%s\n", formatter.FormatGeneration(gen))
}

// HistoryExport writes history in the requested format.
func (r *Runner) HistoryExport(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}
	if err := r.connect(ctx); err != nil {
		return err
	}

	criteria := map[string]any{}
	if limit := cmd.Int("limit"); limit > 0 {
		criteria["limit"] = limit
	}
	gens, err := r.history.List(criteria)
	if err != nil {
		return err
	}

	path, err := formatter.WriteExport(gens, format, cmd.String("output"))
	if err != nil {
		return err
	}
	r.logger.Info("history exported", "path", path, "count", len(gens))
	return r.writePlain("✓ Exported %d generations to %s\n", len(gens), path)
}

// HistoryDownload saves result files of one generation, or of the most recent completed ones.
func (r *Runner) HistoryDownload(ctx context.Context, cmd *cli.Command) error {
	if err := r.connect(ctx); err != nil {
		return err
	}

	var gens []*models.Generation
	if id := strings.TrimSpace(cmd.StringArg("id")); id != "" {
		gen, err := r.history.Get(id)
		if err != nil {
			return err
		}
		gens = append(gens, gen)
	} else {
		var err error
		gens, err = r.history.List(map[string]any{"status": models.StatusCompleted, "limit": cmd.Int("limit")})
		if err != nil {
			return err
		}
	}

	progress := make(chan tasks.ProgressUpdate, 32)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for update := range progress {
			r.writePlain("[%s] %s\n", update.Phase, update.Message)
		}
	}()

	manifest, err := tasks.NewDownloader(r.logger).Download(ctx, progress, gens, tasks.DownloadOpts{
		OutputDir:  cmd.String("output"),
		NumWorkers: cmd.Int("workers"),
		RateLimit:  cmd.Float("rate"),
		Client:     r.httpClient,
	})
	close(progress)
	<-done
	if err != nil {
		return err
	}

	return r.writePlain("✓ Downloaded %d of %d files to %s\n", manifest.Succeeded, manifest.Total, manifest.Directory)
}
