package storage

import (
	"errors"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/dergi/internal/domain"
)

func feed(objects ...minio.ObjectInfo) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo, len(objects))
	for _, obj := range objects {
		ch <- obj
	}
	close(ch)
	return ch
}

func names(objects []domain.StorageObject) []string {
	out := make([]string, len(objects))
	for i, obj := range objects {
		out[i] = obj.Name
	}
	return out
}

// server page order: objects first, then common prefixes
func issueListing() <-chan minio.ObjectInfo {
	return feed(
		minio.ObjectInfo{Key: "7/b.webp", ETag: "b", Size: 2},
		minio.ObjectInfo{Key: "7/d.webp", ETag: "d", Size: 4},
		minio.ObjectInfo{Key: "7/a/"},
		minio.ObjectInfo{Key: "7/c/"},
	)
}

func TestCollectObjectsSortsDirectoriesAmongFiles(t *testing.T) {
	all, err := collectObjects(issueListing(), "7")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b.webp", "c", "d.webp"}, names(all))
	assert.True(t, all[0].IsDir())
	assert.Equal(t, "7/a", all[0].Path)
	require.NotNil(t, all[1].ID)
	assert.Equal(t, "b", *all[1].ID)
	assert.Equal(t, "7/b.webp", all[1].Path)
	assert.Equal(t, int64(2), all[1].Size)
}

func TestCollectObjectsPagesWithoutGapsOrRepeats(t *testing.T) {
	var seen []string
	for offset := 0; offset < 4; offset += 2 {
		all, err := collectObjects(issueListing(), "7")
		require.NoError(t, err)
		seen = append(seen, names(page(all, ListOptions{Limit: 2, Offset: offset}))...)
	}
	assert.Equal(t, []string{"a", "b.webp", "c", "d.webp"}, seen)
}

func TestCollectObjectsStopsOnError(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := collectObjects(feed(
		minio.ObjectInfo{Key: "7/a.webp"},
		minio.ObjectInfo{Err: boom},
	), "7")
	assert.ErrorIs(t, err, boom)
}
