// Package logging builds the slog loggers of the binaries.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Options configures New.
type Options struct {
	// Level is "debug", "info", "warn" or "error".
	Level string
	// Format is "text" (tint) or "json".
	Format string
	// Color is "auto", "always" or "never".
	Color string
}

// ParseLevel maps a level name to its slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", s)
}

// New returns a logger writing to stderr.
func New(opts Options) (*slog.Logger, error) {
	return NewWriter(os.Stderr, opts)
}

// NewWriter returns a logger writing to w. Colors are enabled in auto mode
// only when w is a terminal.
func NewWriter(w io.Writer, opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(opts.Format) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
	case "", "text":
	default:
		return nil, fmt.Errorf("logging: unknown format %q", opts.Format)
	}

	noColor := true
	switch strings.ToLower(opts.Color) {
	case "", "auto":
		if f, ok := w.(*os.File); ok {
			noColor = !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
			w = colorable.NewColorable(f)
		}
	case "always":
		noColor = false
		if f, ok := w.(*os.File); ok {
			w = colorable.NewColorable(f)
		}
	case "never":
	default:
		return nil, fmt.Errorf("logging: unknown color mode %q", opts.Color)
	}

	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Empty identifiers are noise, e.g. on unpersisted entities.
			if a.Key == "id" && a.Value.Kind() == slog.KindString && a.Value.String() == "" {
				return slog.Attr{}
			}
			return a
		},
	})), nil
}
