package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pyropy/chunkserver/core/chunkserver"
	"github.com/pyropy/chunkserver/lib/logger"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "chunkserver",
		Usage: "serve chunks from local storage, one node per configured location",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "location",
				Usage: "host:port or port to serve; overrides CHUNKSERVER_LOCS, repeatable",
			},
			&cli.DurationFlag{
				Name:  "shutdown-timeout",
				Value: 30 * time.Second,
				Usage: "how long to wait for in-flight calls on shutdown",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "startup", "ERROR", err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	cfg, err := chunkserver.GetConfig()
	if err != nil {
		return err
	}

	if locations := ctx.StringSlice("location"); len(locations) > 0 {
		cfg.Server.Locations = locations
		if err = cfg.Validate(); err != nil {
			return err
		}
	}

	log, err := logger.NewWithLevel("chunk-server", cfg.Log.Level)
	if err != nil {
		return err
	}
	defer log.Sync()

	// registered before startup so a signal during it still stops the
	// nodes that are already up
	sigCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(sigCtx, cfg.Nodes(), log, ctx.Duration("shutdown-timeout"))
}
