package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

func main() {
	cliApp := &cli.App{
		Name:  "trigger",
		Usage: "publish dashboard events and seed dashboard data",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "config.yaml",
				Usage:   "path to the configuration file",
				EnvVars: []string{"DASHBOARD_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "transport",
				Usage: "override events.transport (redis, kafka or nats)",
			},
		},
		Before: loadEnv,
		Commands: []*cli.Command{
			newChangedCommand(),
			newGameCommand(),
			newScoreCommand(),
			newSongCommand(),
			newSimulateCommand(),
			newMigrateCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cliApp.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
