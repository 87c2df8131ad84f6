package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dialup-inc/asciiplayer"
)

func newPlayCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play [file]",
		Short: "Play a video in the terminal",
		Example: `  asciiplayer play clip.ivf
  asciiplayer play movie.mp4 --loop=false --pacing sleep
  ASCIIPLAYER_MONITOR_ADDR=127.0.0.1:9100 asciiplayer play clip.ivf`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				root.v.Set("source", args[0])
			}
			return runPlay(cmd.Context(), root)
		},
	}

	flags := cmd.Flags()
	flags.Float64("fps", 30, "render ticks per second")
	flags.Bool("loop", true, "restart from the beginning at end of stream")
	flags.String("pacing", "skip", "early frame policy (skip, sleep or none)")
	flags.String("monitor", "", "serve status, event feed and metrics on this address")
	flags.String("log-file", "", "write logs to this file")

	root.v.BindPFlag("fps", flags.Lookup("fps"))
	root.v.BindPFlag("loop", flags.Lookup("loop"))
	root.v.BindPFlag("pacing", flags.Lookup("pacing"))
	root.v.BindPFlag("monitor.addr", flags.Lookup("monitor"))
	root.v.BindPFlag("log.file", flags.Lookup("log-file"))

	cmd.RegisterFlagCompletionFunc("pacing", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"skip", "sleep", "none"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runPlay(ctx context.Context, root *rootOptions) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	if cfg.Source == "" {
		return errors.New("no source: pass a file or set source in the config")
	}

	logger, closer, err := fileLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "open log file")
	}
	defer closer.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := asciiplayer.New(cfg, registry(), asciiplayer.WithLogger(logger))
	return app.Run(ctx)
}
