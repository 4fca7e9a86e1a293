package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/andresuchdata/dergi/internal/config"
	"github.com/andresuchdata/dergi/internal/domain"
)

// S3 DeleteObjects accepts at most 1000 keys per request.
const maxDeleteBatch = 1000

// S3Client is the subset of *s3.Client used by S3Store.
type S3Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// S3Store is a BlobStore backed by AWS S3 through aws-sdk-go-v2.
type S3Store struct {
	client       S3Client
	bucket       string
	baseURL      string
	cacheControl string
}

var (
	_ BlobStore = (*S3Store)(nil)
	_ Reader    = (*S3Store)(nil)
)

// NewS3Client loads the default AWS configuration, overriding region,
// static credentials and endpoint when they are set.
func NewS3Client(ctx context.Context, cfg config.StorageConfig) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle || cfg.Endpoint != ""
	}), nil
}

func NewS3Store(client S3Client, cfg config.StorageConfig) *S3Store {
	baseURL := cfg.PublicURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
	return &S3Store{
		client:       client,
		bucket:       cfg.Bucket,
		baseURL:      baseURL,
		cacheControl: cfg.CacheControl,
	}
}

func (s *S3Store) Upload(ctx context.Context, path string, data []byte, opts UploadOptions) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(path),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if opts.ContentType != "" {
		in.ContentType = aws.String(opts.ContentType)
	}
	cacheControl := opts.CacheControl
	if cacheControl == "" {
		cacheControl = s.cacheControl
	}
	if cacheControl != "" {
		if !strings.Contains(cacheControl, "=") {
			cacheControl = "max-age=" + cacheControl
		}
		in.CacheControl = aws.String(cacheControl)
	}
	if !opts.Upsert {
		in.IfNoneMatch = aws.String("*")
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		serr := s.wrap("upload", path, err)
		if serr.Code == "PreconditionFailed" {
			serr.Code = domain.CodeAlreadyExists
			serr.Message = "object already exists"
		}
		return serr
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, paths []string) error {
	var failed []string
	var first error

	for start := 0; start < len(paths); start += maxDeleteBatch {
		end := start + maxDeleteBatch
		if end > len(paths) {
			end = len(paths)
		}
		batch := paths[start:end]

		objects := make([]types.ObjectIdentifier, len(batch))
		for i, p := range batch {
			objects[i] = types.ObjectIdentifier{Key: aws.String(p)}
		}

		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return s.wrap("delete", strings.Join(batch, ","), err)
		}

		for _, e := range out.Errors {
			code := aws.ToString(e.Code)
			if code == domain.CodeNotFound {
				continue
			}
			failed = append(failed, aws.ToString(e.Key))
			if first == nil {
				first = &domain.StorageError{Op: "delete", Path: aws.ToString(e.Key), Code: code, Message: aws.ToString(e.Message)}
			}
		}
	}

	if first != nil {
		var code string
		var serr *domain.StorageError
		if errors.As(first, &serr) {
			code = serr.Code
		}
		return &domain.StorageError{
			Op:      "delete",
			Path:    strings.Join(failed, ","),
			Code:    code,
			Message: fmt.Sprintf("%d of %d objects not removed", len(failed), len(paths)),
			Err:     first,
		}
	}
	return nil
}

// Move copies then deletes the source; S3 has no native rename.
func (s *S3Store) Move(ctx context.Context, from, to string) error {
	if err := s.Copy(ctx, from, to); err != nil {
		return err
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(from),
	}); err != nil {
		return s.wrap("move", from, err)
	}
	return nil
}

func (s *S3Store) Copy(ctx context.Context, from, to string) error {
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(to),
		CopySource: aws.String(copySource(s.bucket, from)),
	})
	if err != nil {
		return s.wrap("copy", from, err)
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix string, opts ListOptions) ([]domain.StorageObject, error) {
	opts = normalizeListOptions(opts)
	prefix = cleanPrefix(prefix)

	listPrefix := ""
	if prefix != "" {
		listPrefix = prefix + "/"
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(listPrefix),
		Delimiter: aws.String("/"),
	})

	var all []domain.StorageObject
	for paginator.HasMorePages() && len(all) < opts.Offset+opts.Limit {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, s.wrap("list", prefix, err)
		}
		for _, cp := range out.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), listPrefix), "/")
			all = append(all, domain.StorageObject{Name: name, Path: joinPath(prefix, name)})
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			id := strings.Trim(aws.ToString(obj.ETag), `"`)
			all = append(all, domain.StorageObject{
				Name: strings.TrimPrefix(key, listPrefix),
				ID:   &id,
				Path: key,
				Size: aws.ToInt64(obj.Size),
			})
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return page(all, opts), nil
}

func (s *S3Store) PublicURL(path string) string {
	return publicURL(s.baseURL, path)
}

func (s *S3Store) Download(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, s.wrap("download", path, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, s.wrap("download", path, err)
	}
	return data, nil
}

func (s *S3Store) wrap(op, path string, err error) *domain.StorageError {
	serr := &domain.StorageError{Op: op, Path: path, Err: err}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		serr.Code = apiErr.ErrorCode()
		serr.Message = apiErr.ErrorMessage()
	}
	if serr.Code == "" || serr.Code == "NotFound" {
		var respErr *smithyhttp.ResponseError
		if errors.As(err, &respErr) {
			if code := httpStatusCode(respErr.HTTPStatusCode()); code != "" {
				serr.Code = code
			}
		}
	}
	if serr.Code == "" {
		serr.Code = transportCode(err)
	}
	return serr
}

func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return bucket + "/" + strings.Join(segments, "/")
}
