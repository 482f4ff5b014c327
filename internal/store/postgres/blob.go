package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hadijannat/titan-aas/internal/apierr"
	"github.com/hadijannat/titan-aas/internal/store"
	pgbase "github.com/hadijannat/titan-aas/pkg/storage/postgres"
)

// BlobAssetStore persists spec.md §3's Blob externalization metadata into
// the blob_assets table created by migration 0005, with the externalized
// bytes themselves held content-addressed by sha256 in the blob_data table
// created by migration 0006: no object-storage SDK sits anywhere in this
// corpus's dependency surface, so the content-addressed bytes live in
// Postgres alongside everything else rather than behind a fabricated S3
// client. StorageURI is the synthesized "pgblob://<sha256>" scheme BlobData
// knows how to resolve back to bytes.
type BlobAssetStore struct {
	base *pgbase.BaseStore
	db   *sql.DB
}

// NewBlobAssetStore wraps db for the blob_assets/blob_data tables.
func NewBlobAssetStore(db *sql.DB) *BlobAssetStore {
	return &BlobAssetStore{base: pgbase.NewBaseStore(db, "blob_assets"), db: db}
}

var _ store.BlobAssetStore = (*BlobAssetStore)(nil)
var _ store.BlobDataStore = (*BlobData)(nil)

func (s *BlobAssetStore) Put(ctx context.Context, asset store.BlobAsset) error {
	_, err := s.base.ExecContext(ctx, `
		INSERT INTO blob_assets (submodel_id, id_short_path, storage_uri, content_type, size, sha256)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (submodel_id, id_short_path) DO UPDATE SET
			storage_uri = EXCLUDED.storage_uri,
			content_type = EXCLUDED.content_type,
			size = EXCLUDED.size,
			sha256 = EXCLUDED.sha256
	`, asset.SubmodelID, asset.IDShortPath, asset.StorageURI, asset.ContentType, asset.Size, asset.SHA256)
	if err != nil {
		return fmt.Errorf("postgres: put blob asset: %w", err)
	}
	return nil
}

func (s *BlobAssetStore) Get(ctx context.Context, submodelID, idShortPath string) (*store.BlobAsset, bool, error) {
	var asset store.BlobAsset
	row := s.base.QueryRowContext(ctx, `
		SELECT submodel_id, id_short_path, storage_uri, content_type, size, sha256
		FROM blob_assets WHERE submodel_id = $1 AND id_short_path = $2
	`, submodelID, idShortPath)
	err := row.Scan(&asset.SubmodelID, &asset.IDShortPath, &asset.StorageURI, &asset.ContentType, &asset.Size, &asset.SHA256)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apierr.StoreUnavailable(err)
	}
	return &asset, true, nil
}

func (s *BlobAssetStore) FindBySHA256(ctx context.Context, sum string) (*store.BlobAsset, bool, error) {
	var asset store.BlobAsset
	row := s.base.QueryRowContext(ctx, `
		SELECT submodel_id, id_short_path, storage_uri, content_type, size, sha256
		FROM blob_assets WHERE sha256 = $1 LIMIT 1
	`, sum)
	err := row.Scan(&asset.SubmodelID, &asset.IDShortPath, &asset.StorageURI, &asset.ContentType, &asset.Size, &asset.SHA256)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apierr.StoreUnavailable(err)
	}
	return &asset, true, nil
}

func (s *BlobAssetStore) Delete(ctx context.Context, submodelID, idShortPath string) error {
	_, err := s.base.ExecContext(ctx, `
		DELETE FROM blob_assets WHERE submodel_id = $1 AND id_short_path = $2
	`, submodelID, idShortPath)
	if err != nil {
		return fmt.Errorf("postgres: delete blob asset: %w", err)
	}
	return nil
}

// BlobData content-addresses the actual externalized bytes in the
// blob_data table, deduplicated by sha256.
type BlobData struct {
	base *pgbase.BaseStore
}

// NewBlobData wraps db for the blob_data table.
func NewBlobData(db *sql.DB) *BlobData {
	return &BlobData{base: pgbase.NewBaseStore(db, "blob_data")}
}

// Write stores data under its sha256 hex digest, a no-op if that digest is
// already present, and returns the storage URI to record on the BlobAsset.
func (d *BlobData) Write(ctx context.Context, sha256Hex, contentType string, data []byte) (string, error) {
	_, err := d.base.ExecContext(ctx, `
		INSERT INTO blob_data (sha256, content, content_type, size)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (sha256) DO NOTHING
	`, sha256Hex, data, contentType, len(data))
	if err != nil {
		return "", fmt.Errorf("postgres: write blob data: %w", err)
	}
	return "pgblob://" + sha256Hex, nil
}

// Read resolves a "pgblob://<sha256>" URI back to its content bytes.
func (d *BlobData) Read(ctx context.Context, uri string) ([]byte, error) {
	sum, err := sha256FromURI(uri)
	if err != nil {
		return nil, err
	}
	var content []byte
	row := d.base.QueryRowContext(ctx, `SELECT content FROM blob_data WHERE sha256 = $1`, sum)
	if err := row.Scan(&content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierr.NotFound("blob_data", sum)
		}
		return nil, apierr.StoreUnavailable(err)
	}
	return content, nil
}

func sha256FromURI(uri string) (string, error) {
	const prefix = "pgblob://"
	if len(uri) <= len(prefix) || uri[:len(prefix)] != prefix {
		return "", fmt.Errorf("postgres: not a pgblob URI: %q", uri)
	}
	return uri[len(prefix):], nil
}
