package element

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/hadijannat/titan-aas/internal/model"
	"github.com/hadijannat/titan-aas/internal/store"
)

// Externalize walks every Blob/File element in doc and, for any whose
// inline "value" exceeds threshold bytes, writes the value's bytes to data
// (content-addressed by sha256, deduplicating identical payloads across
// idShortPaths) and records a BlobAsset row via assets, then replaces the
// element's "value" field with the returned storage URI. Submodels whose
// elements never exceed the threshold round-trip unchanged. Like the rest
// of this package, Externalize clones doc once and returns the mutated
// clone; the caller's document is untouched.
func Externalize(ctx context.Context, doc *model.Document, assets store.BlobAssetStore, data store.BlobDataStore, threshold int) (*model.Document, error) {
	clone := doc.Clone()
	if err := externalizeContainer(ctx, clone, model.RootArray{Doc: clone}, "", assets, data, threshold); err != nil {
		return nil, err
	}
	return clone, nil
}

func externalizeContainer(ctx context.Context, doc *model.Document, c model.Container, prefix string, assets store.BlobAssetStore, data store.BlobDataStore, threshold int) error {
	isList := false
	if ec, ok := c.(model.ElementContainer); ok {
		isList = ec.El.IsList()
	}
	for i, child := range model.Children(c) {
		path := childPath(prefix, child, i, isList)
		if child.Kind == model.KindBlob || child.Kind == model.KindFile {
			if err := externalizeElement(ctx, doc, child, path, assets, data, threshold); err != nil {
				return err
			}
			continue
		}
		if child.IsContainer() {
			if err := externalizeContainer(ctx, doc, child.AsContainer(), path, assets, data, threshold); err != nil {
				return err
			}
		}
	}
	return nil
}

func externalizeElement(ctx context.Context, doc *model.Document, el *model.Element, path string, assets store.BlobAssetStore, data store.BlobDataStore, threshold int) error {
	v, ok := el.Raw.Get("value")
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok || len(s) <= threshold {
		return nil
	}

	contentType := ""
	if ct, ok := el.Raw.Get("contentType"); ok {
		contentType, _ = ct.(string)
	}

	sum := sha256.Sum256([]byte(s))
	sha256Hex := hex.EncodeToString(sum[:])

	uri, err := data.Write(ctx, sha256Hex, contentType, []byte(s))
	if err != nil {
		return fmt.Errorf("element: externalize %s: %w", path, err)
	}
	if err := assets.Put(ctx, store.BlobAsset{
		SubmodelID:  doc.ID(),
		IDShortPath: path,
		StorageURI:  uri,
		ContentType: contentType,
		Size:        int64(len(s)),
		SHA256:      sha256Hex,
	}); err != nil {
		return fmt.Errorf("element: record blob asset %s: %w", path, err)
	}

	el.Raw.Set("value", uri)
	return nil
}

// childPath renders the idShortPath segment for child at position i within
// its parent, matching the "." / "[i]" grammar idpath.Parse accepts:
// SubmodelElementList children are addressed by index (idShort is not
// unique there and is not part of the path, per spec.md §4.6), everything
// else by idShort.
func childPath(prefix string, child *model.Element, i int, parentIsList bool) string {
	var segment string
	if parentIsList || child.IDShort() == "" {
		segment = "[" + strconv.Itoa(i) + "]"
	} else {
		segment = child.IDShort()
	}
	if prefix == "" {
		return segment
	}
	if segment[0] == '[' {
		return prefix + segment
	}
	return prefix + "." + segment
}
