package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/wrenfield/loreshare/internal"
	pkgconfig "github.com/wrenfield/loreshare/pkg/config"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

// runRelay needs no config file: the relay is stateless and has a single
// knob, its bind address.
func runRelay(ctx context.Context, cmd *cli.Command) error {
	cfg := internal.NewDefaultConfig()
	if listen := cmd.String("listen"); listen != "" {
		cfg.Transport.Listen = listen
	}

	if err := internal.RunRelay(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("relay run error: %w", err)
	}

	return nil
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := internal.RunMCP(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("mcp run error: %w", err)
	}

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "loreshare",
		Usage:  "Share a curated document tree with a room: one owner serves it, everyone else follows along",
		Action: runServe,
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
				Usage:  "Join the room and serve the REST API and event stream",
				Action: runServe,
			},
			{
				Name:  "relay",
				Usage: "Host a stateless websocket relay for rooms that span hosts",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen",
						Usage: "Relay bind address",
						Value: ":8091",
					},
				},
				Action: runRelay,
			},
			{
				Name:   "mcp",
				Usage:  "Join the room and serve MCP tools over stdio",
				Action: runMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
