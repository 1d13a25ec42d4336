// Package log configures the process-wide slog logger.
package log

import (
	"log/slog"
	"os"
)

// Setup installs a text handler on stderr at the requested level as the
// default slog logger. Unparseable level strings fall back to info.
func Setup(logLevel string) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// WithComponent returns a logger tagged with the engine component emitting
// it: cli, engine, fetcher, zotero, analysis, api.
func WithComponent(component string) *slog.Logger {
	return slog.With("component", component)
}
