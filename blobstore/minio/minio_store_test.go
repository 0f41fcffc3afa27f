package minio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/hupe1980/catid/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDial(t *testing.T) {
	store, err := Dial(Config{Endpoint: "localhost:9000", Bucket: "cats", Prefix: "catid"})
	require.NoError(t, err)
	assert.Equal(t, "catid/users/u1/metadata.json", store.key("users/u1/metadata.json"))

	_, err = Dial(Config{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NotFound"}))
	assert.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("boom")))
}

// TestMinioStore_Integration requires a running MinIO instance at
// MINIO_ENDPOINT.
func TestMinioStore_Integration(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("Skipping MinIO integration test: MINIO_ENDPOINT not set")
	}

	store, err := Dial(Config{
		Endpoint:  endpoint,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "test-catid",
		Prefix:    fmt.Sprintf("run-%d/", time.Now().UnixNano()),
	})
	require.NoError(t, err)

	ctx := context.Background()
	exists, err := store.client.BucketExists(ctx, store.bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, store.client.MakeBucket(ctx, store.bucket, minio.MakeBucketOptions{}))
	}

	data := []byte("hello minio world")
	require.NoError(t, store.Put(ctx, "cats/u1/c1/a.jpg", data))

	got, err := blobstore.ReadAll(ctx, store, "cats/u1/c1/a.jpg")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	names, err := store.List(ctx, "cats/u1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"cats/u1/c1/a.jpg"}, names)

	require.NoError(t, store.Delete(ctx, "cats/u1/c1/a.jpg"))
	_, err = store.Open(ctx, "cats/u1/c1/a.jpg")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}
