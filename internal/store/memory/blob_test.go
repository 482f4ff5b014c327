package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hadijannat/titan-aas/internal/store"
)

func TestBlobAssetStorePutThenGet(t *testing.T) {
	s := NewBlobAssetStore()
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, store.BlobAsset{
		SubmodelID: "urn:sm:1", IDShortPath: "Photo", StorageURI: "memblob://deadbeef",
		ContentType: "image/png", Size: 4, SHA256: "deadbeef",
	}))

	asset, found, err := s.Get(ctx, "urn:sm:1", "Photo")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "memblob://deadbeef", asset.StorageURI)
}

func TestBlobAssetStoreGetMissing(t *testing.T) {
	s := NewBlobAssetStore()
	_, found, err := s.Get(context.Background(), "urn:sm:1", "Missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBlobAssetStoreFindBySHA256(t *testing.T) {
	s := NewBlobAssetStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, store.BlobAsset{SubmodelID: "urn:sm:1", IDShortPath: "Photo", SHA256: "deadbeef"}))

	asset, found, err := s.FindBySHA256(ctx, "deadbeef")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Photo", asset.IDShortPath)
}

func TestBlobAssetStoreDelete(t *testing.T) {
	s := NewBlobAssetStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, store.BlobAsset{SubmodelID: "urn:sm:1", IDShortPath: "Photo"}))
	require.NoError(t, s.Delete(ctx, "urn:sm:1", "Photo"))

	_, found, err := s.Get(ctx, "urn:sm:1", "Photo")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBlobDataWriteDeduplicatesBySHA256(t *testing.T) {
	s := NewBlobAssetStore()
	ctx := context.Background()

	uri1, err := s.Write(ctx, "deadbeef", "text/plain", []byte("hello"))
	require.NoError(t, err)
	uri2, err := s.Write(ctx, "deadbeef", "text/plain", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, uri1, uri2)

	data, err := s.Read(ctx, uri1)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestBlobDataReadMissingReturnsNotFound(t *testing.T) {
	s := NewBlobAssetStore()
	_, err := s.Read(context.Background(), "memblob://missing")
	assert.Error(t, err)
}

func TestBlobDataReadRejectsForeignScheme(t *testing.T) {
	s := NewBlobAssetStore()
	_, err := s.Read(context.Background(), "pgblob://deadbeef")
	assert.Error(t, err)
}
