package storage

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/andresuchdata/dergi/internal/config"
	"github.com/andresuchdata/dergi/internal/domain"
)

// MinioStore is a BlobStore backed by a MinIO or S3-compatible bucket.
type MinioStore struct {
	client       *minio.Client
	bucket       string
	baseURL      string
	cacheControl string
}

var (
	_ BlobStore = (*MinioStore)(nil)
	_ Reader    = (*MinioStore)(nil)
)

func NewMinioStore(cfg config.StorageConfig) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	baseURL := cfg.PublicURL
	if baseURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s/%s", scheme, cfg.Endpoint, cfg.Bucket)
	}

	return &MinioStore{
		client:       client,
		bucket:       cfg.Bucket,
		baseURL:      baseURL,
		cacheControl: cfg.CacheControl,
	}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return s.wrap("bucket", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return s.wrap("bucket", s.bucket, err)
	}
	return nil
}

func (s *MinioStore) Upload(ctx context.Context, path string, data []byte, opts UploadOptions) error {
	if !opts.Upsert {
		if _, err := s.client.StatObject(ctx, s.bucket, path, minio.StatObjectOptions{}); err == nil {
			return &domain.StorageError{Op: "upload", Path: path, Code: domain.CodeAlreadyExists, Message: "object already exists"}
		}
	}

	cacheControl := opts.CacheControl
	if cacheControl == "" {
		cacheControl = s.cacheControl
	}
	if cacheControl != "" && !strings.Contains(cacheControl, "=") {
		cacheControl = "max-age=" + cacheControl
	}

	_, err := s.client.PutObject(ctx, s.bucket, path, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		CacheControl: cacheControl,
	})
	if err != nil {
		return s.wrap("upload", path, err)
	}
	return nil
}

func (s *MinioStore) Delete(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}

	objects := make(chan minio.ObjectInfo, len(paths))
	for _, p := range paths {
		objects <- minio.ObjectInfo{Key: p}
	}
	close(objects)

	var failed []string
	var first error
	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		if rerr.Err == nil {
			continue
		}
		if minio.ToErrorResponse(rerr.Err).Code == domain.CodeNotFound {
			continue
		}
		failed = append(failed, rerr.ObjectName)
		if first == nil {
			first = rerr.Err
		}
	}

	if first != nil {
		serr := s.wrap("delete", strings.Join(failed, ","), first)
		serr.Message = fmt.Sprintf("%d of %d objects not removed", len(failed), len(paths))
		return serr
	}
	return nil
}

// Move copies then removes the source; S3 has no native rename.
func (s *MinioStore) Move(ctx context.Context, from, to string) error {
	if err := s.Copy(ctx, from, to); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, from, minio.RemoveObjectOptions{}); err != nil {
		return s.wrap("move", from, err)
	}
	return nil
}

func (s *MinioStore) Copy(ctx context.Context, from, to string) error {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: to},
		minio.CopySrcOptions{Bucket: s.bucket, Object: from},
	)
	if err != nil {
		return s.wrap("copy", from, err)
	}
	return nil
}

func (s *MinioStore) List(ctx context.Context, prefix string, opts ListOptions) ([]domain.StorageObject, error) {
	opts = normalizeListOptions(opts)
	prefix = cleanPrefix(prefix)

	listPrefix := ""
	if prefix != "" {
		listPrefix = prefix + "/"
	}

	// stops the listing goroutine on an early return
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: listPrefix, Recursive: false})
	all, err := collectObjects(objects, prefix)
	if err != nil {
		return nil, s.wrap("list", prefix, err)
	}
	return page(all, opts), nil
}

// collectObjects drains a non-recursive listing and sorts it by name. Objects
// precede common prefixes within each server page, so the whole channel is
// read before paging.
func collectObjects(objects <-chan minio.ObjectInfo, prefix string) ([]domain.StorageObject, error) {
	listPrefix := ""
	if prefix != "" {
		listPrefix = prefix + "/"
	}

	var all []domain.StorageObject
	for obj := range objects {
		if obj.Err != nil {
			return nil, obj.Err
		}

		name := strings.TrimPrefix(obj.Key, listPrefix)
		if strings.HasSuffix(name, "/") {
			name = strings.TrimSuffix(name, "/")
			all = append(all, domain.StorageObject{Name: name, Path: joinPath(prefix, name)})
			continue
		}
		id := obj.ETag
		all = append(all, domain.StorageObject{Name: name, ID: &id, Path: obj.Key, Size: obj.Size})
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all, nil
}

func (s *MinioStore) PublicURL(path string) string {
	return publicURL(s.baseURL, path)
}

func (s *MinioStore) Download(ctx context.Context, path string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, path, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrap("download", path, err)
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(obj); err != nil {
		return nil, s.wrap("download", path, err)
	}
	return buf.Bytes(), nil
}

func (s *MinioStore) wrap(op, path string, err error) *domain.StorageError {
	resp := minio.ToErrorResponse(err)
	code := resp.Code
	if code == "" {
		code = httpStatusCode(resp.StatusCode)
	}
	if code == "" {
		code = transportCode(err)
	}
	return &domain.StorageError{Op: op, Path: path, Code: code, Message: resp.Message, Err: err}
}
