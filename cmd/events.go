package main

import (
	"context"
	"slices"

	"github.com/desertthunder/genx/internal/models"
	"github.com/urfave/cli/v3"
)

// Events prints every push envelope until the context ends.
func (r *Runner) Events(ctx context.Context, cmd *cli.Command) error {
	if err := r.requireAuth(ctx); err != nil {
		return err
	}

	types := cmd.StringSlice("type")
	asJSON := cmd.Bool("json")

	off := r.push.OnAny(func(env models.Envelope) {
		if len(types) > 0 && !slices.Contains(types, env.Type) {
			return
		}
		if asJSON {
			r.writeJSON(env, false)
			return
		}
		r.writePlain("%-16s %s\n", env.Type, env.Data)
	})
	defer off()

	r.push.Connect()
	r.logger.Info("listening for push events", "state", r.push.State())
	r.writePlain("Listening for events, press Ctrl+C to stop\n")

	<-ctx.Done()
	return nil
}
