// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// setupCommand handles setup operations for configuration and the history database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write config.toml from the built-in template",
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Action: r.SetupDatabase,
			},
		},
	}
}

// authCommand handles the session lifecycle.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage authentication",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Sign in through the browser and store the access token",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-browser",
						Usage: "Print the authorization URL instead of opening it",
					},
				},
				Action: r.AuthLogin,
			},
			{
				Name:   "logout",
				Usage:  "Revoke the refresh cookie and forget the access token",
				Action: r.AuthLogout,
			},
			{
				Name:  "status",
				Usage: "Restore the session and show who is signed in",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.AuthStatus,
			},
			{
				Name:   "refresh",
				Usage:  "Exchange the refresh cookie for a new access token",
				Action: r.AuthRefresh,
			},
			{
				Name:      "import",
				Usage:     "Resume a browser session from a request saved with \"Copy as cURL\"",
				ArgsUsage: "<file>",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "file"},
				},
				Action: r.AuthImport,
			},
		},
	}
}

func generateFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "provider",
			Usage: "Provider override (X-Provider)",
		},
		&cli.StringFlag{
			Name:  "model",
			Usage: "Model override (X-Model)",
		},
		&cli.StringFlag{
			Name:  "negative",
			Usage: "Negative prompt",
		},
		&cli.BoolFlag{
			Name:  "detach",
			Usage: "Print the task id and return without waiting",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output the final state as JSON",
		},
	}
}

// generateCommand submits generations and follows them to completion.
func generateCommand(r *Runner) *cli.Command {
	prompt := []cli.Argument{&cli.StringArg{Name: "prompt"}}

	return &cli.Command{
		Name:    "generate",
		Aliases: []string{"gen"},
		Usage:   "Submit a generation and wait for its results",
		Commands: []*cli.Command{
			{
				Name:      "image",
				Usage:     "Generate images; a single image is answered inline",
				Arguments: prompt,
				Flags: append(generateFlags(),
					&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Usage: "Number of images", Value: 1},
					&cli.IntFlag{Name: "width", Usage: "Image width in pixels"},
					&cli.IntFlag{Name: "height", Usage: "Image height in pixels"},
					&cli.StringFlag{Name: "aspect", Usage: "Aspect ratio, e.g. 16:9"},
					&cli.Int64Flag{Name: "seed", Usage: "Sampling seed"},
					&cli.BoolFlag{Name: "search", Usage: "Ground the prompt with web search"},
				),
				Action: r.Generate,
			},
			{
				Name:      "video",
				Usage:     "Generate a video",
				Arguments: prompt,
				Flags: append(generateFlags(),
					&cli.IntFlag{Name: "duration", Usage: "Clip length in seconds"},
					&cli.StringFlag{Name: "aspect", Usage: "Aspect ratio, e.g. 16:9"},
					&cli.StringSliceFlag{Name: "image", Usage: "Reference image URL (repeatable)"},
				),
				Action: r.Generate,
			},
			{
				Name:      "chat",
				Usage:     "Send a chat message",
				Arguments: prompt,
				Flags: append(generateFlags(),
					&cli.StringFlag{Name: "conversation", Usage: "Conversation id to continue"},
				),
				Action: r.Generate,
			},
		},
	}
}

// quotaCommand shows the remaining allowance.
func quotaCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "quota",
		Usage: "Show remaining generation quota",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Quota,
	}
}

// taskCommand works on backend tasks by id.
func taskCommand(r *Runner) *cli.Command {
	id := []cli.Argument{&cli.StringArg{Name: "id"}}

	return &cli.Command{
		Name:  "task",
		Usage: "Follow or cancel an existing task",
		Commands: []*cli.Command{
			{
				Name:      "watch",
				Usage:     "Track a task until it completes or fails",
				Arguments: id,
				Action:    r.TaskWatch,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a task and report the refunded quota",
				Arguments: id,
				Action:    r.TaskCancel,
			},
		},
	}
}

// historyCommand reads the local generation history.
func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Browse, export and download past generations",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recent generations",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of generations", Value: 20},
					&cli.StringFlag{Name: "kind", Usage: "Only image, video or chat"},
					&cli.StringFlag{Name: "status", Usage: "Only this status"},
					&cli.BoolFlag{Name: "json", Usage: "Output raw JSON"},
				},
				Action: r.HistoryList,
			},
			{
				Name:      "show",
				Usage:     "Show one generation",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Action:    r.HistoryShow,
			},
			{
				Name:  "export",
				Usage: "Export history as json, csv, markdown or txt",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "Output format", Value: "json"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output file path"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of generations"},
				},
				Action: r.HistoryExport,
			},
			{
				Name:  "download",
				Usage: "Download result files of completed generations",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output directory"},
					&cli.IntFlag{Name: "workers", Usage: "Concurrent downloads", Value: 4},
					&cli.FloatFlag{Name: "rate", Usage: "Downloads started per second", Value: 5},
					&cli.IntFlag{Name: "limit", Usage: "Generations to download when no id is given", Value: 20},
				},
				Action: r.HistoryDownload,
			},
		},
	}
}

// eventsCommand tails the push channel.
func eventsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Print push channel events until interrupted",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "type", Usage: "Only these event types (repeatable)"},
			&cli.BoolFlag{Name: "json", Usage: "Print raw envelopes"},
		},
		Action: r.Events,
	}
}

// tuiCommand returns the top-level TUI command for interactive generation.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Launch interactive TUI for generation",
		Action:  r.TUI,
	}
}
