package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/andresuchdata/dergi/internal/domain"
	"github.com/andresuchdata/dergi/internal/retry"
	"github.com/andresuchdata/dergi/pkg/logger"
)

const DefaultMaxDepth = 10

// FailedDirectory is a directory the walk could not enumerate.
type FailedDirectory struct {
	Path   string
	Depth  int
	Reason string
	Err    error
}

// Listing is the result of a recursive walk.
type Listing struct {
	Files             []string
	FailedDirectories []FailedDirectory
}

// Complete reports whether every directory under the root was enumerated.
func (l Listing) Complete() bool {
	return len(l.FailedDirectories) == 0
}

// Walker enumerates every file below a prefix with an explicit work queue,
// so the depth bound never turns into call stack growth.
type Walker struct {
	Store    BlobStore
	MaxDepth int
	PageSize int
	Policy   retry.Policy
	Retry    []retry.Option
	Log      zerolog.Logger
}

// NewWalker returns a walker with the default depth, page size and policy.
func NewWalker(store BlobStore, maxDepth int) *Walker {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Walker{
		Store:    store,
		MaxDepth: maxDepth,
		PageSize: defaultListLimit,
		Policy:   retry.StoragePolicy(),
		Log:      logger.Component("storage.walk"),
	}
}

type walkItem struct {
	path  string
	depth int
}

// Walk lists prefix breadth first. Directories beyond MaxDepth or whose
// listing keeps failing are recorded in FailedDirectories and skipped. The
// returned error is only set when ctx ends the walk.
func (w *Walker) Walk(ctx context.Context, prefix string) (Listing, error) {
	var listing Listing
	queue := []walkItem{{path: cleanPrefix(prefix), depth: 0}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return listing, err
		}

		item := queue[0]
		queue = queue[1:]

		if item.depth > w.MaxDepth {
			w.Log.Warn().
				Str("path", item.path).
				Int("depth", item.depth).
				Int("max_depth", w.MaxDepth).
				Msg("max listing depth exceeded, skipping directory")
			listing.FailedDirectories = append(listing.FailedDirectories, FailedDirectory{
				Path:   item.path,
				Depth:  item.depth,
				Reason: fmt.Sprintf("max depth %d exceeded", w.MaxDepth),
			})
			continue
		}

		entries, err := w.listAll(ctx, item.path)
		if err != nil {
			if ctx.Err() != nil {
				return listing, ctx.Err()
			}
			w.Log.Error().Err(err).Str("path", item.path).Msg("failed to list directory")
			listing.FailedDirectories = append(listing.FailedDirectories, FailedDirectory{
				Path:   item.path,
				Depth:  item.depth,
				Reason: "list failed",
				Err:    err,
			})
			continue
		}

		for _, entry := range entries {
			if entry.IsDir() {
				queue = append(queue, walkItem{path: entry.Path, depth: item.depth + 1})
				continue
			}
			listing.Files = append(listing.Files, entry.Path)
		}
	}

	return listing, nil
}

func (w *Walker) listAll(ctx context.Context, dir string) ([]domain.StorageObject, error) {
	size := w.PageSize
	if size <= 0 {
		size = defaultListLimit
	}

	var all []domain.StorageObject
	for offset := 0; ; offset += size {
		batch, err := retry.Do(ctx, w.Policy, func(ctx context.Context) ([]domain.StorageObject, error) {
			return w.Store.List(ctx, dir, ListOptions{Limit: size, Offset: offset})
		}, append([]retry.Option{retry.WithLogger(w.Log)}, w.Retry...)...)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < size {
			return all, nil
		}
	}
}

// ListRecursive walks prefix with the default settings.
func ListRecursive(ctx context.Context, store BlobStore, prefix string, maxDepth int) (Listing, error) {
	return NewWalker(store, maxDepth).Walk(ctx, prefix)
}
