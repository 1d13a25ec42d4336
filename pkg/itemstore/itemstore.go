// Package itemstore defines the contract the engine consumes to read library
// items and write analysis output back. The engine treats implementations as
// stateless, externally rate-limited services; every call must be safe to
// retry and none are assumed transactional across calls.
package itemstore

import (
	"context"

	"github.com/liuchzzyy/paperflow/pkg/models"
)

// Store is the reference-library collaborator.
type Store interface {
	// GetItem returns the normalized metadata for one item. This is the only
	// required component of a bundle.
	GetItem(ctx context.Context, key string) (*models.ItemMetadata, error)

	// GetItemChildren returns the item's child records (attachments, notes).
	GetItemChildren(ctx context.Context, key string) ([]models.Attachment, error)

	// GetFullText returns the item's extracted full text. The second return
	// reports presence: absent full text is not an error.
	GetFullText(ctx context.Context, key string) (string, bool, error)

	// GetAnnotations returns reader annotations attached to the item.
	GetAnnotations(ctx context.Context, key string) ([]models.Annotation, error)

	// HasExistingOutput reports whether a prior run already wrote an analysis
	// record for the item.
	HasExistingOutput(ctx context.Context, key string) (bool, error)

	// CreateOutputRecord persists analysis content as a new output record
	// attached to the item and returns the new record's key.
	CreateOutputRecord(ctx context.Context, key, content string) (string, error)
}

// Resolver turns a workflow source descriptor into a concrete ordered list
// of item keys.
type Resolver interface {
	// ListCollectionItems returns the keys of a collection's top-level
	// items, by collection key or name.
	ListCollectionItems(ctx context.Context, identifier string) ([]string, error)

	// ListRecentItems returns the keys of the most recently added items,
	// newest first.
	ListRecentItems(ctx context.Context, limit int) ([]string, error)
}

// Library combines item access with item-set resolution; the engine requires
// both.
type Library interface {
	Store
	Resolver
}
