package main

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dialup-inc/asciiplayer/codec"
	"github.com/dialup-inc/asciiplayer/config"
	"github.com/dialup-inc/asciiplayer/ffmpeg"
	"github.com/dialup-inc/asciiplayer/vpx"
)

type rootOptions struct {
	v          *viper.Viper
	configFile string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{v: config.New()}

	cmd := &cobra.Command{
		Use:   "asciiplayer",
		Short: "Play video files as ASCII art in the terminal",
		Long: `asciiplayer decodes IVF (VP8, VP9, raw), MP4 (H.264) and WebM/Matroska
(VP8, VP9, H.264) files and draws them in the terminal. Settings come from flags, ASCIIPLAYER_* environment variables
and an optional config.yaml in the working directory or ` + config.Dir() + `.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: search ./config.yaml, then the user config dir)")

	cmd.AddCommand(newPlayCommand(opts))
	cmd.AddCommand(newProbeCommand(opts))
	return cmd
}

func (o *rootOptions) load() (config.Config, error) {
	return config.Load(o.v, o.configFile)
}

// registry knows every decoder this binary was built with.
func registry() *codec.Registry {
	r := codec.NewRegistry()
	vpx.Register(r)
	ffmpeg.Register(r)
	return r
}

// fileLogger sends logs to cfg.LogFile, or nowhere, so the terminal UI is
// left alone.
func fileLogger(cfg config.Config) (zerolog.Logger, io.Closer, error) {
	if cfg.LogFile == "" {
		return zerolog.Nop(), io.NopCloser(nil), nil
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, err
	}
	l := zerolog.New(f).Level(cfg.LogLevel).With().Timestamp().Logger()
	return l, f, nil
}

func consoleLogger(cfg config.Config) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(cfg.LogLevel).With().Timestamp().Logger()
}
