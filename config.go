package libav

import (
	"context"
	"fmt"
	"math"

	"github.com/sethvargo/go-envconfig"
	"github.com/sirupsen/logrus"
)

// DefaultIOBufferSize is the custom I/O scratch buffer size used when none is configured.
const DefaultIOBufferSize = 0x1000

// Config controls how the native libraries are located and how sessions are sized.
type Config struct {
	// LibraryPath is a directory searched first for the FFmpeg shared libraries.
	LibraryPath string `env:"LIBAV_LIB_PATH"`

	// IOBufferSize is the size of the scratch buffer handed to custom I/O contexts.
	IOBufferSize int `env:"LIBAV_IO_BUFFER_SIZE, default=4096"`

	// LogLevel is a logrus level name applied to the package logger.
	LogLevel string `env:"LIBAV_LOG_LEVEL, default=warn"`
}

// NewConfigFromEnv reads a Config from the process environment.
func NewConfigFromEnv() (*Config, error) {
	return newConfig(context.Background(), envconfig.OsLookuper())
}

func newConfig(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that every field holds a usable value.
func (c *Config) Validate() error {
	if c.IOBufferSize <= 0 || c.IOBufferSize > math.MaxInt32 {
		return fmt.Errorf("%w: io buffer size %d out of range", ErrConfig, c.IOBufferSize)
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("%w: %w", ErrConfig, err)
		}
	}
	return nil
}

func (c *Config) logLevel() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.WarnLevel
	}
	return lvl
}
