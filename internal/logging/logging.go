// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/config"
)

// Setup installs the global logger. Console output is human friendly in
// debug mode and JSON otherwise. When cfg.File is set, JSON lines are also
// written to a rotating file; the returned closer flushes it.
func Setup(cfg config.LogConfig, mode string) (io.Closer, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var console io.Writer = os.Stderr
	if mode == "debug" {
		console = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	var closer io.Closer = nopCloser{}
	out := console
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(console, file)
		closer = file
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	log.Info().Str("module", "logging").Str("level", level.String()).Str("file", cfg.File).Msg("logger ready")
	return closer, err
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
