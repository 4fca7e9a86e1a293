package storage

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/dergi/internal/config"
	"github.com/andresuchdata/dergi/internal/domain"
)

type fakeS3 struct {
	puts       []*s3.PutObjectInput
	copies     []*s3.CopyObjectInput
	deletes    []*s3.DeleteObjectInput
	putErr     error
	deleteErrs []types.Error
	listing    *s3.ListObjectsV2Output
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, in)
	return &s3.PutObjectOutput{}, f.putErr
}

func (f *fakeS3) GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "missing"}
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.copies = append(f.copies, in)
	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deletes = append(f.deletes, in)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(context.Context, *s3.DeleteObjectsInput, ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	return &s3.DeleteObjectsOutput{Errors: f.deleteErrs}, nil
}

func (f *fakeS3) ListObjectsV2(context.Context, *s3.ListObjectsV2Input, ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	return f.listing, nil
}

func newTestS3Store(client S3Client) *S3Store {
	return NewS3Store(client, config.StorageConfig{Bucket: "magazines", Region: "eu-central-1", CacheControl: "3600"})
}

func TestS3StoreUploadSetsHeaders(t *testing.T) {
	client := &fakeS3{}
	store := newTestS3Store(client)

	require.NoError(t, store.Upload(context.Background(), "7/kapak.webp", []byte("img"), UploadOptions{ContentType: domain.ImageMediaType}))

	require.Len(t, client.puts, 1)
	in := client.puts[0]
	assert.Equal(t, "7/kapak.webp", aws.ToString(in.Key))
	assert.Equal(t, domain.ImageMediaType, aws.ToString(in.ContentType))
	assert.Equal(t, "max-age=3600", aws.ToString(in.CacheControl))
	assert.Equal(t, "*", aws.ToString(in.IfNoneMatch))
	assert.Equal(t, "https://magazines.s3.eu-central-1.amazonaws.com/7/kapak.webp", store.PublicURL("7/kapak.webp"))
}

func TestS3StoreMapsAPIErrors(t *testing.T) {
	client := &fakeS3{putErr: &smithy.GenericAPIError{Code: "SlowDown", Message: "reduce rate"}}
	store := newTestS3Store(client)

	err := store.Upload(context.Background(), "7/kapak.webp", nil, UploadOptions{Upsert: true})
	var serr *domain.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, domain.CodeSlowDown, serr.Code)
	assert.True(t, domain.IsRetryable(err))

	client.putErr = &smithy.GenericAPIError{Code: "PreconditionFailed"}
	err = store.Upload(context.Background(), "7/kapak.webp", nil, UploadOptions{})
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, domain.CodeAlreadyExists, serr.Code)
}

func TestS3StoreDeleteReportsFailedKeys(t *testing.T) {
	client := &fakeS3{deleteErrs: []types.Error{
		{Key: aws.String("7/a.webp"), Code: aws.String("NoSuchKey")},
		{Key: aws.String("7/b.webp"), Code: aws.String("InternalError"), Message: aws.String("oops")},
	}}
	store := newTestS3Store(client)

	err := store.Delete(context.Background(), []string{"7/a.webp", "7/b.webp", "7/c.webp"})
	var serr *domain.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "7/b.webp", serr.Path)
	assert.Equal(t, domain.CodeInternalError, serr.Code)
}

func TestS3StoreMoveCopiesThenDeletes(t *testing.T) {
	client := &fakeS3{}
	store := newTestS3Store(client)

	require.NoError(t, store.Move(context.Background(), "7/pages/sayfa_001.webp", "12/pages/sayfa_001.webp"))

	require.Len(t, client.copies, 1)
	assert.Equal(t, "magazines/7/pages/sayfa_001.webp", aws.ToString(client.copies[0].CopySource))
	assert.Equal(t, "12/pages/sayfa_001.webp", aws.ToString(client.copies[0].Key))
	require.Len(t, client.deletes, 1)
	assert.Equal(t, "7/pages/sayfa_001.webp", aws.ToString(client.deletes[0].Key))
}

func TestS3StoreListSplitsPrefixesAndObjects(t *testing.T) {
	client := &fakeS3{listing: &s3.ListObjectsV2Output{
		CommonPrefixes: []types.CommonPrefix{{Prefix: aws.String("7/pages/")}},
		Contents: []types.Object{{
			Key:  aws.String("7/kapak.webp"),
			ETag: aws.String(`"abc"`),
			Size: aws.Int64(42),
		}},
	}}
	store := newTestS3Store(client)

	entries, err := store.List(context.Background(), "7", ListOptions{})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "kapak.webp", entries[0].Name)
	require.NotNil(t, entries[0].ID)
	assert.Equal(t, "abc", *entries[0].ID)
	assert.Equal(t, int64(42), entries[0].Size)

	assert.Equal(t, "pages", entries[1].Name)
	assert.True(t, entries[1].IsDir())
	assert.Equal(t, "7/pages", entries[1].Path)
}

func TestS3StoreDownloadNotFound(t *testing.T) {
	_, err := newTestS3Store(&fakeS3{}).Download(context.Background(), "7/kapak.webp")
	var serr *domain.StorageError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, domain.CodeNotFound, serr.Code)
}
