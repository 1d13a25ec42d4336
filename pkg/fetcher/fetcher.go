// Package fetcher assembles item bundles, fetching components concurrently
// under a bounded gate.
package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/liuchzzyy/paperflow/pkg/itemstore"
	"github.com/liuchzzyy/paperflow/pkg/models"
)

// DefaultConcurrency bounds in-flight item fetches. The limit protects the
// library's rate limits, it is not tuned for raw parallelism.
const DefaultConcurrency = 3

// Options selects which optional bundle components to fetch and how wide the
// many-item gate is.
type Options struct {
	IncludeChildren    bool
	IncludeFullText    bool
	IncludeAnnotations bool

	// Concurrency caps in-flight FetchOne calls inside FetchMany; zero or
	// negative means DefaultConcurrency.
	Concurrency int
}

func (o Options) concurrency() int {
	if o.Concurrency <= 0 {
		return DefaultConcurrency
	}

	return o.Concurrency
}

// Fetcher retrieves item bundles from an item store. It performs no retries:
// retry policy belongs to the caller, which can tell skips from retry-worthy
// failures.
type Fetcher struct {
	store  itemstore.Store
	logger *slog.Logger
}

// New creates a fetcher over the given item store.
func New(store itemstore.Store, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		store:  store,
		logger: logger,
	}
}

// FetchOne assembles one item's bundle. The metadata fetch is required and
// its failure fails the call; optional component failures are logged and the
// component is omitted, leaving its presence flag unset.
func (f *Fetcher) FetchOne(ctx context.Context, key string, opts Options) (*models.Bundle, error) {
	bundle := &models.Bundle{Key: key}

	var (
		wg          sync.WaitGroup
		metadata    *models.ItemMetadata
		metadataErr error
	)

	wg.Add(1)

	go func() {
		defer wg.Done()

		metadata, metadataErr = f.store.GetItem(ctx, key)
	}()

	if opts.IncludeChildren {
		wg.Add(1)

		go func() {
			defer wg.Done()

			children, err := f.store.GetItemChildren(ctx, key)
			if err != nil {
				f.logger.Warn("Failed to fetch item children, omitting from bundle",
					"item_key", key, "error", err)

				return
			}

			bundle.Children = children
			bundle.HasChildren = true
		}()
	}

	if opts.IncludeFullText {
		wg.Add(1)

		go func() {
			defer wg.Done()

			text, found, err := f.store.GetFullText(ctx, key)
			if err != nil {
				f.logger.Warn("Failed to fetch full text, omitting from bundle",
					"item_key", key, "error", err)

				return
			}

			if found {
				bundle.FullText = text
				bundle.HasFullText = true
			}
		}()
	}

	if opts.IncludeAnnotations {
		wg.Add(1)

		go func() {
			defer wg.Done()

			annotations, err := f.store.GetAnnotations(ctx, key)
			if err != nil {
				f.logger.Warn("Failed to fetch annotations, omitting from bundle",
					"item_key", key, "error", err)

				return
			}

			bundle.Annotations = annotations
			bundle.HasAnnotations = true
		}()
	}

	wg.Wait()

	// No bundle without metadata.
	if metadataErr != nil {
		return nil, fmt.Errorf("failed to fetch item %s: %w", key, metadataErr)
	}

	bundle.Metadata = *metadata

	return bundle, nil
}

// FetchMany runs FetchOne over all keys under the bounded gate. Items that
// fail to fetch are excluded from the result; the caller is responsible for
// 1:1 accounting against its input. Returned bundles follow the input order
// of the keys that succeeded.
func (f *Fetcher) FetchMany(ctx context.Context, keys []string, opts Options) []*models.Bundle {
	type slot struct {
		bundle *models.Bundle
	}

	slots := make([]slot, len(keys))
	gate := make(chan struct{}, opts.concurrency())

	var wg sync.WaitGroup

	for i, key := range keys {
		wg.Add(1)

		go func(i int, key string) {
			defer wg.Done()

			gate <- struct{}{}
			defer func() { <-gate }()

			bundle, err := f.FetchOne(ctx, key, opts)
			if err != nil {
				f.logger.Warn("Failed to fetch item bundle", "item_key", key, "error", err)

				return
			}

			slots[i].bundle = bundle
		}(i, key)
	}

	wg.Wait()

	bundles := make([]*models.Bundle, 0, len(keys))

	for _, s := range slots {
		if s.bundle != nil {
			bundles = append(bundles, s.bundle)
		}
	}

	return bundles
}
