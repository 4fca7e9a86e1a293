package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/andresuchdata/dergi/internal/domain"
)

type memoryObject struct {
	id          string
	data        []byte
	contentType string
}

// MemoryStore is a BlobStore kept in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	baseURL string
}

var (
	_ BlobStore = (*MemoryStore)(nil)
	_ Reader    = (*MemoryStore)(nil)
)

func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "memory://magazines"
	}
	return &MemoryStore{objects: make(map[string]memoryObject), baseURL: baseURL}
}

func (m *MemoryStore) Upload(ctx context.Context, path string, data []byte, opts UploadOptions) error {
	if err := ctx.Err(); err != nil {
		return &domain.StorageError{Op: "upload", Path: path, Code: transportCode(err), Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.objects[path]; exists && !opts.Upsert {
		return &domain.StorageError{Op: "upload", Path: path, Code: domain.CodeAlreadyExists, Message: "object already exists"}
	}
	m.objects[path] = memoryObject{
		id:          uuid.NewString(),
		data:        append([]byte(nil), data...),
		contentType: opts.ContentType,
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, paths []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range paths {
		delete(m.objects, p)
	}
	return nil
}

func (m *MemoryStore) Move(ctx context.Context, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[from]
	if !ok {
		return notFound("move", from)
	}
	m.objects[to] = obj
	delete(m.objects, from)
	return nil
}

func (m *MemoryStore) Copy(ctx context.Context, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[from]
	if !ok {
		return notFound("copy", from)
	}
	obj.id = uuid.NewString()
	obj.data = append([]byte(nil), obj.data...)
	m.objects[to] = obj
	return nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string, opts ListOptions) ([]domain.StorageObject, error) {
	opts = normalizeListOptions(opts)
	prefix = cleanPrefix(prefix)

	m.mu.RLock()
	defer m.mu.RUnlock()

	lead := ""
	if prefix != "" {
		lead = prefix + "/"
	}

	entries := make(map[string]domain.StorageObject)
	for key, obj := range m.objects {
		if !strings.HasPrefix(key, lead) {
			continue
		}
		rest := strings.TrimPrefix(key, lead)
		if name, _, isDir := strings.Cut(rest, "/"); isDir {
			entries[name] = domain.StorageObject{Name: name, Path: joinPath(prefix, name)}
			continue
		}
		id := obj.id
		entries[rest] = domain.StorageObject{Name: rest, ID: &id, Path: key, Size: int64(len(obj.data))}
	}

	all := make([]domain.StorageObject, 0, len(entries))
	for _, e := range entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })

	return page(all, opts), nil
}

func (m *MemoryStore) PublicURL(path string) string {
	return publicURL(m.baseURL, path)
}

func (m *MemoryStore) Download(ctx context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[path]
	if !ok {
		return nil, notFound("download", path)
	}
	return append([]byte(nil), obj.data...), nil
}

// Paths returns every stored path in order.
func (m *MemoryStore) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paths := make([]string, 0, len(m.objects))
	for p := range m.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// ContentType returns the content type an object was stored with.
func (m *MemoryStore) ContentType(path string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[path].contentType
}
