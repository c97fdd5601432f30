package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camdencbrown/relay/internal/domain"
	"github.com/camdencbrown/relay/internal/storage"
)

func TestS3Store_PutAndGet(t *testing.T) {
	store := testS3Store(t)
	ctx := context.Background()

	uri, err := store.Put(ctx, "orders/2024-05-01-120000.parquet", []byte("parquet-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "s3://relay-test/orders/2024-05-01-120000.parquet", uri)

	data, err := store.Get(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, []byte("parquet-bytes"), data)
}

func TestS3Store_GetMissing_ReturnsNotFound(t *testing.T) {
	store := testS3Store(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "s3://relay-test/nonexistent/file.parquet")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestS3Store_GetMalformedURI(t *testing.T) {
	store := testS3Store(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "orders/file.parquet")
	assert.Error(t, err)
}

func TestS3Store_OverwriteExisting(t *testing.T) {
	store := testS3Store(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "overwrite/data.csv", []byte("v1"))
	require.NoError(t, err)
	uri, err := store.Put(ctx, "overwrite/data.csv", []byte("v2"))
	require.NoError(t, err)

	data, err := store.Get(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)
}

func TestS3Store_Mode(t *testing.T) {
	store := testS3Store(t)
	assert.Equal(t, "s3", store.Mode())
}

func TestS3Store_HealthCheck(t *testing.T) {
	store := testS3Store(t)
	assert.NoError(t, store.HealthCheck(context.Background()))
}

func TestS3Config_DefaultTimeouts(t *testing.T) {
	assert.Equal(t, 10*time.Second, storage.DefaultMetadataTimeout)
	assert.Equal(t, 60*time.Second, storage.DefaultDataTimeout)
}

func TestS3Store_CancelledContext_ReturnsError(t *testing.T) {
	store := testS3Store(t)

	// Pre-cancelled context should cause operations to fail.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Put(ctx, "should-fail.parquet", []byte("nope"))
	assert.Error(t, err)
}
