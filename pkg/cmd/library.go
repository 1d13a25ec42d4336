package cmd

import (
	"log/slog"

	"github.com/liuchzzyy/paperflow/pkg/itemstore"
	"github.com/liuchzzyy/paperflow/pkg/itemstore/zotero"
)

// LibraryConfig carries the Zotero connection flags.
type LibraryConfig struct {
	BaseURL     string
	LibraryType string
	LibraryID   string
	APIKey      string
}

// NewLibrary builds the Zotero-backed item library.
func NewLibrary(logger *slog.Logger, cfg LibraryConfig) (itemstore.Library, error) {
	return zotero.NewClient(zotero.Config{
		BaseURL:     cfg.BaseURL,
		LibraryType: cfg.LibraryType,
		LibraryID:   cfg.LibraryID,
		APIKey:      cfg.APIKey,
	}, logger)
}
