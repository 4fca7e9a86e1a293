// Package storagetest injects failures into a storage.BlobStore.
package storagetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/andresuchdata/dergi/internal/domain"
	"github.com/andresuchdata/dergi/internal/storage"
)

// Operation names accepted by FaultyStore.Fail.
const (
	OpUpload = "upload"
	OpDelete = "delete"
	OpMove   = "move"
	OpCopy   = "copy"
	OpList   = "list"
)

// Forever makes a fault permanent.
const Forever = -1

type fault struct {
	err       error
	remaining int
}

// FaultyStore forwards to an inner store unless a fault is registered for
// the operation and path. Delete faults apply per path: a Delete call fails
// when any of its paths has a fault.
type FaultyStore struct {
	storage.BlobStore

	mu     sync.Mutex
	faults map[string]*fault
	calls  map[string]int
}

func NewFaultyStore(inner storage.BlobStore) *FaultyStore {
	return &FaultyStore{
		BlobStore: inner,
		faults:    make(map[string]*fault),
		calls:     make(map[string]int),
	}
}

// Fail makes the next times calls of op on path return err. Use Forever for
// a fault that never clears.
func (f *FaultyStore) Fail(op, path string, err error, times int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[key(op, path)] = &fault{err: err, remaining: times}
}

// Transient returns a storage error with a retryable timeout code.
func Transient(op, path string) error {
	return &domain.StorageError{Op: op, Path: path, Code: domain.CodeTimeout, Message: "injected timeout"}
}

// Permanent returns a storage error that is never retried.
func Permanent(op, path string) error {
	return &domain.StorageError{Op: op, Path: path, Code: "AccessDenied", Message: "injected failure"}
}

// Calls reports how many times op was invoked on path.
func (f *FaultyStore) Calls(op, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key(op, path)]
}

func (f *FaultyStore) check(op, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	k := key(op, path)
	f.calls[k]++

	ft, ok := f.faults[k]
	if !ok || ft.remaining == 0 {
		return nil
	}
	if ft.remaining > 0 {
		ft.remaining--
	}
	return ft.err
}

func (f *FaultyStore) Upload(ctx context.Context, path string, data []byte, opts storage.UploadOptions) error {
	if err := f.check(OpUpload, path); err != nil {
		return err
	}
	return f.BlobStore.Upload(ctx, path, data, opts)
}

func (f *FaultyStore) Delete(ctx context.Context, paths []string) error {
	var firstErr error
	for _, p := range paths {
		if err := f.check(OpDelete, p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return firstErr
	}
	return f.BlobStore.Delete(ctx, paths)
}

func (f *FaultyStore) Move(ctx context.Context, from, to string) error {
	if err := f.check(OpMove, from); err != nil {
		return err
	}
	return f.BlobStore.Move(ctx, from, to)
}

func (f *FaultyStore) Copy(ctx context.Context, from, to string) error {
	if err := f.check(OpCopy, from); err != nil {
		return err
	}
	return f.BlobStore.Copy(ctx, from, to)
}

func (f *FaultyStore) List(ctx context.Context, prefix string, opts storage.ListOptions) ([]domain.StorageObject, error) {
	if err := f.check(OpList, prefix); err != nil {
		return nil, err
	}
	return f.BlobStore.List(ctx, prefix, opts)
}

func key(op, path string) string {
	return fmt.Sprintf("%s:%s", op, path)
}
