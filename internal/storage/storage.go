package storage

import (
	"context"
	"strings"

	"github.com/andresuchdata/dergi/internal/domain"
)

// UploadOptions controls how an object is written.
type UploadOptions struct {
	// Upsert overwrites an existing object instead of failing.
	Upsert       bool
	ContentType  string
	CacheControl string
}

// ListOptions pages through the children of a prefix.
type ListOptions struct {
	Limit  int
	Offset int
}

// BlobStore captures the object operations the upload and consistency
// flows need. Paths are bucket-relative and use "/" separators.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, opts UploadOptions) error
	// Delete removes paths. Paths that do not exist are ignored.
	Delete(ctx context.Context, paths []string) error
	// Move renames an object. Backends without a native move fall back to
	// copy then delete.
	Move(ctx context.Context, from, to string) error
	Copy(ctx context.Context, from, to string) error
	// List returns the immediate children of prefix. Directory entries have
	// a nil ID.
	List(ctx context.Context, prefix string, opts ListOptions) ([]domain.StorageObject, error)
	PublicURL(path string) string
}

// Reader is implemented by stores that can return an object's content.
type Reader interface {
	Download(ctx context.Context, path string) ([]byte, error)
}

const defaultListLimit = 100

func normalizeListOptions(opts ListOptions) ListOptions {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return opts
}

func cleanPrefix(prefix string) string {
	return strings.Trim(prefix, "/")
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func publicURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// page applies offset and limit to an ordered listing.
func page[T any](all []T, opts ListOptions) []T {
	if opts.Offset >= len(all) {
		return nil
	}
	end := opts.Offset + opts.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[opts.Offset:end]
}
