// Package cmd wires shared collaborators for the CLI entrypoints.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/liuchzzyy/paperflow/pkg/checkpoint"
	"github.com/liuchzzyy/paperflow/pkg/checkpoint/file"
	"github.com/liuchzzyy/paperflow/pkg/checkpoint/postgresql"
)

// NewCheckpointStore picks the checkpoint backend from the URL scheme:
// "postgres://" URLs get the PostgreSQL store, anything else is treated as a
// file-store root directory.
func NewCheckpointStore(ctx context.Context, logger *slog.Logger, databaseURL string) (checkpoint.Store, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return postgresql.NewStore(ctx, logger, databaseURL)
	default:
		return file.NewStore(databaseURL), nil
	}
}
