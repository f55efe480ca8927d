// Package logger builds the zerolog loggers used across the server. JSON
// output is the default; console output renders colored levels for local
// development.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/gochat/internal/config"
)

// New returns a logger configured from cfg. A nil out writes to stderr.
func New(cfg config.LogConfig, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{
			Out:         out,
			TimeFormat:  time.RFC3339,
			FormatLevel: formatLevel,
		}
	}

	service := cfg.Service
	if service == "" {
		service = config.DefaultServiceName
	}

	return zerolog.New(out).
		With().
		Str("service", service).
		Timestamp().
		Logger().
		Level(ParseLevel(cfg.Level))
}

// Nop returns a disabled logger, for tests and optional dependencies.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// Component derives a logger tagged with a component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// ParseLevel converts a level name to a zerolog level. Unknown or empty names
// fall back to info.
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func formatLevel(i any) string {
	level, _ := i.(string)
	label := fmt.Sprintf("%-5s", strings.ToUpper(level))

	switch level {
	case zerolog.LevelTraceValue, zerolog.LevelDebugValue:
		return color.MagentaString(label)
	case zerolog.LevelInfoValue:
		return color.BlueString(label)
	case zerolog.LevelWarnValue:
		return color.YellowString(label)
	case zerolog.LevelErrorValue:
		return color.RedString(label)
	case zerolog.LevelFatalValue, zerolog.LevelPanicValue:
		return color.HiRedString(label)
	default:
		return label
	}
}
