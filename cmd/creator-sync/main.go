package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
)

func build() string {
	short := commit
	if len(commit) > 7 {
		short = commit[:7]
	}
	return fmt.Sprintf("%s (%s)", version, short)
}

func main() {
	flags := &Flags{}
	app := newApp(flags)

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func newApp(flags *Flags) *cli.Command {
	app := &cli.Command{
		Name:      "creator-sync",
		Usage:     "Fetch account collections from the content API",
		UsageText: "creator-sync [global options] command [command options]",
		Version:   build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("CREATOR_CONFIG"),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Destination: &flags.LogLevel,
			},
			&cli.BoolFlag{
				Name:        "pretty",
				Usage:       "human-readable log output",
				Destination: &flags.Pretty,
			},
			&cli.StringFlag{
				Name:        "metrics-addr",
				Usage:       "serve /metrics and /health on this address",
				Destination: &flags.MetricsAddr,
			},
			&cli.BoolFlag{
				Name:        "guest",
				Usage:       "use an anonymous session",
				Destination: &flags.Guest,
			},
			&cli.IntFlag{
				Name:        "workers",
				Usage:       "page workers and lookahead width",
				Destination: &flags.Workers,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			rt, err := newRuntime(ctx, flags, flags.overrides(c))
			if err != nil {
				return ctx, err
			}
			flags.Runtime = rt
			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			if flags.Runtime == nil {
				return nil
			}
			return flags.Runtime.Close(ctx)
		},
	}

	for _, register := range []func(*Flags, *cli.Command) *cli.Command{
		registerLogin,
		registerSubscriptions,
		registerSubscription,
		registerChats,
		registerMassMessages,
		registerPaid,
		registerLists,
		registerListUsers,
		registerUser,
	} {
		app = register(flags, app)
	}

	return app
}
