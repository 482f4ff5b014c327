package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/hadijannat/titan-aas/internal/apierr"
	"github.com/hadijannat/titan-aas/internal/store"
)

type blobAssetKey struct {
	submodelID  string
	idShortPath string
}

// BlobAssetStore is an in-memory mirror of postgres.BlobAssetStore, used in
// tests and for local development.
type BlobAssetStore struct {
	mu      sync.RWMutex
	assets  map[blobAssetKey]store.BlobAsset
	content map[string][]byte // sha256 -> bytes, mirrors postgres blob_data
}

// NewBlobAssetStore creates an empty BlobAssetStore.
func NewBlobAssetStore() *BlobAssetStore {
	return &BlobAssetStore{
		assets:  make(map[blobAssetKey]store.BlobAsset),
		content: make(map[string][]byte),
	}
}

var _ store.BlobAssetStore = (*BlobAssetStore)(nil)
var _ store.BlobDataStore = (*BlobAssetStore)(nil)

func (s *BlobAssetStore) Put(ctx context.Context, asset store.BlobAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[blobAssetKey{asset.SubmodelID, asset.IDShortPath}] = asset
	return nil
}

func (s *BlobAssetStore) Get(ctx context.Context, submodelID, idShortPath string) (*store.BlobAsset, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	asset, ok := s.assets[blobAssetKey{submodelID, idShortPath}]
	if !ok {
		return nil, false, nil
	}
	return &asset, true, nil
}

func (s *BlobAssetStore) FindBySHA256(ctx context.Context, sum string) (*store.BlobAsset, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, asset := range s.assets {
		if asset.SHA256 == sum {
			a := asset
			return &a, true, nil
		}
	}
	return nil, false, nil
}

func (s *BlobAssetStore) Delete(ctx context.Context, submodelID, idShortPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.assets, blobAssetKey{submodelID, idShortPath})
	return nil
}

// Write stores data under its sha256 hex digest (a no-op if already
// present) and returns the storage URI to record on the BlobAsset, a
// "memblob://<sha256>" URI mirroring postgres.BlobData.Write's
// "pgblob://<sha256>" scheme.
func (s *BlobAssetStore) Write(ctx context.Context, sha256Hex, contentType string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.content[sha256Hex]; !exists {
		cp := make([]byte, len(data))
		copy(cp, data)
		s.content[sha256Hex] = cp
	}
	return "memblob://" + sha256Hex, nil
}

// Read resolves a "memblob://<sha256>" URI back to its content bytes.
func (s *BlobAssetStore) Read(ctx context.Context, uri string) ([]byte, error) {
	sum, err := sha256FromMemURI(uri)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.content[sum]
	if !ok {
		return nil, apierr.NotFound("blob_data", sum)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func sha256FromMemURI(uri string) (string, error) {
	const prefix = "memblob://"
	if len(uri) <= len(prefix) || uri[:len(prefix)] != prefix {
		return "", fmt.Errorf("memory: not a memblob URI: %q", uri)
	}
	return uri[len(prefix):], nil
}
