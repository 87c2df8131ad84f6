// Package config loads player settings from defaults, an optional YAML file
// and ASCIIPLAYER_* environment variables.
package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/dialup-inc/asciiplayer/pump"
)

const EnvPrefix = "ASCIIPLAYER"

var ErrInvalid = errors.New("invalid config")

type Config struct {
	Source string
	FPS    float64
	Loop   bool

	Pacing        pump.Pacing
	MaxSleep      time.Duration
	InputTimeout  time.Duration
	OutputTimeout time.Duration

	InputSlots  int
	OutputSlots int

	LogLevel zerolog.Level
	LogFile  string

	MonitorAddr string
}

// Dir is where the config file is looked up after the working directory.
func Dir() string {
	return filepath.Join(xdg.ConfigHome, "asciiplayer")
}

// New returns a viper instance with defaults, environment binding and the
// search path set up. Nothing is read until Load.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("source", "")
	v.SetDefault("fps", 30.0)
	v.SetDefault("loop", true)
	v.SetDefault("pacing", pump.PacingSkip.String())
	v.SetDefault("max_sleep", pump.DefaultConfig.MaxSleep)
	v.SetDefault("input_timeout", pump.DefaultConfig.InputTimeout)
	v.SetDefault("output_timeout", pump.DefaultConfig.OutputTimeout)
	v.SetDefault("codec.input_slots", 4)
	v.SetDefault("codec.output_slots", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("monitor.addr", "")

	// Environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(Dir())

	return v
}

// Load reads the config file (file, or the search path when empty) and
// validates the result. A missing file on the search path is not an error.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, errors.Wrap(err, "read config")
		}
	}

	pacing, err := pump.ParsePacing(v.GetString("pacing"))
	if err != nil {
		return Config{}, errors.Wrap(ErrInvalid, err.Error())
	}
	level, err := zerolog.ParseLevel(v.GetString("log.level"))
	if err != nil {
		return Config{}, errors.Wrapf(ErrInvalid, "log.level %q", v.GetString("log.level"))
	}

	c := Config{
		Source:        v.GetString("source"),
		FPS:           v.GetFloat64("fps"),
		Loop:          v.GetBool("loop"),
		Pacing:        pacing,
		MaxSleep:      v.GetDuration("max_sleep"),
		InputTimeout:  v.GetDuration("input_timeout"),
		OutputTimeout: v.GetDuration("output_timeout"),
		InputSlots:    v.GetInt("codec.input_slots"),
		OutputSlots:   v.GetInt("codec.output_slots"),
		LogLevel:      level,
		LogFile:       v.GetString("log.file"),
		MonitorAddr:   v.GetString("monitor.addr"),
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.FPS <= 0:
		return errors.Wrapf(ErrInvalid, "fps must be positive, got %v", c.FPS)
	case c.InputSlots < 1 || c.OutputSlots < 1:
		return errors.Wrapf(ErrInvalid, "codec slots must be at least 1, got %d/%d", c.InputSlots, c.OutputSlots)
	case c.MaxSleep < 0 || c.InputTimeout < 0 || c.OutputTimeout < 0:
		return errors.Wrap(ErrInvalid, "timeouts must not be negative")
	}
	return nil
}

func (c Config) Pump() pump.Config {
	return pump.Config{
		InputTimeout:  c.InputTimeout,
		OutputTimeout: c.OutputTimeout,
		MaxSleep:      c.MaxSleep,
		Pacing:        c.Pacing,
	}
}
