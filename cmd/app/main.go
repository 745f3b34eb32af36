package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/berkano/internal"
	"github.com/starford/berkano/internal/reconcile"
	pkgconfig "github.com/starford/berkano/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func op(name string) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		return internal.RunOp(ctx, cfg, name, cmd.String("level"))
	}
}

func mcp(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, cfg)
}

func main() {
	configFlag := &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "config/config.yaml",
		Value:       "config/config.yaml",
		Sources:     cli.EnvVars("APP_CONFIG_FILE"),
	}

	cmd := &cli.Command{
		Name:   "berkano",
		Usage:  "File-backed knowledge garden with a transactional index, durable event dispatch, and reconciliation",
		Action: serve,
		Flags:  []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP server and file watcher",
				Action: serve,
				Flags:  []cli.Flag{configFlag},
			},
			{
				Name:   "check",
				Usage:  "Run the read-only detection passes and report findings",
				Action: op("check"),
				Flags:  []cli.Flag{configFlag},
			},
			{
				Name:   "fix",
				Usage:  "Back up the store and repair detected inconsistencies",
				Action: op("fix"),
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:  "level",
						Usage: "Repair level: safe or aggressive",
						Value: reconcile.LevelSafe,
					},
				},
			},
			{
				Name:   "rebuild",
				Usage:  "Back up the store and re-derive every index row from the files",
				Action: op("rebuild"),
				Flags:  []cli.Flag{configFlag},
			},
			{
				Name:   "rollback",
				Usage:  "Restore the store from the most recent backup",
				Action: op("rollback"),
				Flags:  []cli.Flag{configFlag},
			},
			{
				Name:   "drain",
				Usage:  "Retry every pending or failed event in the dispatch log",
				Action: op("drain"),
				Flags:  []cli.Flag{configFlag},
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools over stdio",
				Action: mcp,
				Flags:  []cli.Flag{configFlag},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
