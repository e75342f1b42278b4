package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/kenaz-backup/internal"
	"github.com/starford/kenaz-backup/internal/mcpserver"
	pkgconfig "github.com/starford/kenaz-backup/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) && !cmd.IsSet("config") {
		// No config file: run on defaults.
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid default config: %w", err)
		}
		return cfg, nil
	}
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

// withEngine builds the engine for a one-shot command. Logs go to stderr so
// stdout carries only the command's JSON output.
func withEngine(fn func(ctx context.Context, cmd *cli.Command, eng *internal.Engine) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := internal.NewLogger(os.Stderr, cfg.App.LogLevel)
		slog.SetDefault(logger)

		eng, err := internal.Build(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("init engine: %w", err)
		}
		defer eng.Close()
		return fn(ctx, cmd, eng)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func requireArg(cmd *cli.Command, name string) (string, error) {
	v := strings.TrimSpace(cmd.Args().First())
	if v == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return v, nil
}

func backupCommand() *cli.Command {
	return &cli.Command{
		Name:  "backup",
		Usage: "Create, list, restore and move backups",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Back up one note, or every note",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "note", Aliases: []string{"n"}, Usage: "Note id (empty for all notes)"},
					&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "manual or auto", Value: "manual"},
				},
				Action: withEngine(func(ctx context.Context, cmd *cli.Command, eng *internal.Engine) error {
					out, err := eng.Service.CreateBackup(ctx, cmd.String("note"), cmd.String("kind"))
					if err != nil {
						return err
					}
					return printJSON(out)
				}),
			},
			{
				Name:  "list",
				Usage: "List backups, newest first",
				Action: withEngine(func(ctx context.Context, _ *cli.Command, eng *internal.Engine) error {
					out, err := eng.Service.ListBackups(ctx)
					if err != nil {
						return err
					}
					return printJSON(out)
				}),
			},
			{
				Name:      "delete",
				Usage:     "Delete a backup",
				ArgsUsage: "<id>",
				Action: withEngine(func(ctx context.Context, cmd *cli.Command, eng *internal.Engine) error {
					id, err := requireArg(cmd, "backup id")
					if err != nil {
						return err
					}
					out, err := eng.Service.DeleteBackup(ctx, id)
					if err != nil {
						return err
					}
					return printJSON(out)
				}),
			},
			{
				Name:  "sync",
				Usage: "Push offline backups to the remote primary and prune the local cache",
				Action: withEngine(func(ctx context.Context, _ *cli.Command, eng *internal.Engine) error {
					out, err := eng.Service.SyncBackups(ctx)
					if err != nil {
						return err
					}
					return printJSON(out)
				}),
			},
			{
				Name:      "restore",
				Usage:     "Restore a backup onto the live note store",
				ArgsUsage: "<id>",
				Action: withEngine(func(ctx context.Context, cmd *cli.Command, eng *internal.Engine) error {
					id, err := requireArg(cmd, "backup id")
					if err != nil {
						return err
					}
					rep, err := eng.Service.RestoreBackup(ctx, id)
					if err != nil {
						return err
					}
					return printJSON(rep)
				}),
			},
			{
				Name:      "export",
				Usage:     "Write backups to a zip archive",
				ArgsUsage: "[id...]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Also copy the archive to this path"},
				},
				Action: withEngine(func(ctx context.Context, cmd *cli.Command, eng *internal.Engine) error {
					out, data, err := eng.Service.Export(ctx, cmd.Args().Slice())
					if err != nil {
						return err
					}
					if dst := cmd.String("out"); dst != "" {
						if err := os.WriteFile(dst, data, 0o644); err != nil {
							return fmt.Errorf("write %s: %w", dst, err)
						}
						out.Path = dst
					}
					return printJSON(out)
				}),
			},
			{
				Name:      "import",
				Usage:     "Import backups from a zip archive",
				ArgsUsage: "<file>",
				Action: withEngine(func(ctx context.Context, cmd *cli.Command, eng *internal.Engine) error {
					path, err := requireArg(cmd, "archive path")
					if err != nil {
						return err
					}
					data, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("read %s: %w", path, err)
					}
					out, err := eng.Service.Import(ctx, data)
					if err != nil {
						return err
					}
					return printJSON(out)
				}),
			},
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Inspect the backup history",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List history records, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Max records (0 for all)", Value: 50},
				},
				Action: withEngine(func(ctx context.Context, cmd *cli.Command, eng *internal.Engine) error {
					recs, err := eng.Service.History(ctx, int(cmd.Int("limit")))
					if err != nil {
						return err
					}
					return printJSON(recs)
				}),
			},
			{
				Name:  "clear",
				Usage: "Remove every history record",
				Action: withEngine(func(ctx context.Context, _ *cli.Command, eng *internal.Engine) error {
					n, err := eng.Service.ClearHistory(ctx)
					if err != nil {
						return err
					}
					return printJSON(map[string]int64{"removed": n})
				}),
			},
		},
	}
}

func settingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Show or change the automatic backup settings",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the current settings",
				Action: withEngine(func(_ context.Context, _ *cli.Command, eng *internal.Engine) error {
					return printJSON(eng.Service.Settings())
				}),
			},
			{
				Name:  "set",
				Usage: "Change settings; omitted flags keep their value",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "auto", Usage: "Enable scheduled backups"},
					&cli.IntFlag{Name: "interval", Usage: "Minutes between scheduled backups"},
					&cli.BoolFlag{Name: "compression", Usage: "Compress exported archives"},
				},
				Action: withEngine(func(ctx context.Context, cmd *cli.Command, eng *internal.Engine) error {
					s := eng.Service.Settings()
					if cmd.IsSet("auto") {
						s.AutoBackupEnabled = cmd.Bool("auto")
					}
					if cmd.IsSet("interval") {
						s.BackupIntervalMinutes = int(cmd.Int("interval"))
					}
					if cmd.IsSet("compression") {
						s.CompressionEnabled = cmd.Bool("compression")
					}
					out, err := eng.Service.SaveSettings(ctx, s)
					if err != nil {
						return err
					}
					return printJSON(out)
				}),
			},
		},
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the backup tools over MCP on stdio",
		Action: withEngine(func(_ context.Context, _ *cli.Command, eng *internal.Engine) error {
			return mcpserver.New(eng.Service, version).ServeStdio()
		}),
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "kenaz-backup",
		Usage:   "Backup and versioning engine for notes: snapshots, offline fallback, restore and scheduled backups",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, SSE stream and backup scheduler",
				Action: serve,
			},
			backupCommand(),
			historyCommand(),
			settingsCommand(),
			mcpCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
