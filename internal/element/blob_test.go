package element

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hadijannat/titan-aas/internal/canon"
	"github.com/hadijannat/titan-aas/internal/model"
	"github.com/hadijannat/titan-aas/internal/store/memory"
)

func blobElement(idShort, value, contentType string) *model.Element {
	obj := canon.NewObject()
	obj.Set("modelType", "Blob")
	if idShort != "" {
		obj.Set("idShort", idShort)
	}
	obj.Set("contentType", contentType)
	obj.Set("value", value)
	return model.WrapElement(obj)
}

func TestExternalizeLeavesSmallValuesInline(t *testing.T) {
	doc := fixture(t)
	doc, err := Insert(doc, "", blobElement("Small", "dGlueQ==", "text/plain"))
	require.NoError(t, err)

	blobs := memory.NewBlobAssetStore()
	updated, err := Externalize(context.Background(), doc, blobs, blobs, 256*1024)
	require.NoError(t, err)

	els := updated.SubmodelElements()
	found := els[len(els)-1]
	v, _ := found.Raw.Get("value")
	assert.Equal(t, "dGlueQ==", v)
}

func TestExternalizeReplacesOversizedValueWithURI(t *testing.T) {
	doc := fixture(t)
	big := strings.Repeat("A", 10)
	doc, err := Insert(doc, "", blobElement("Big", big, "text/plain"))
	require.NoError(t, err)

	blobs := memory.NewBlobAssetStore()
	updated, err := Externalize(context.Background(), doc, blobs, blobs, 5)
	require.NoError(t, err)

	els := updated.SubmodelElements()
	found := els[len(els)-1]
	v, _ := found.Raw.Get("value")
	uri, ok := v.(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(uri, "memblob://"))

	asset, ok, err := blobs.Get(context.Background(), "urn:sm:1", "Big")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uri, asset.StorageURI)
	assert.Equal(t, int64(len(big)), asset.Size)

	data, err := blobs.Read(context.Background(), uri)
	require.NoError(t, err)
	assert.Equal(t, big, string(data))
}

func TestExternalizeRecordsNestedIDShortPath(t *testing.T) {
	doc := fixture(t)
	big := strings.Repeat("B", 10)
	doc, err := Insert(doc, "Outer", blobElement("Nested", big, "text/plain"))
	require.NoError(t, err)

	blobs := memory.NewBlobAssetStore()
	_, err = Externalize(context.Background(), doc, blobs, blobs, 5)
	require.NoError(t, err)

	_, ok, err := blobs.Get(context.Background(), "urn:sm:1", "Outer.Nested")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExternalizeDoesNotMutateInput(t *testing.T) {
	doc := fixture(t)
	big := strings.Repeat("C", 10)
	doc, err := Insert(doc, "", blobElement("Big", big, "text/plain"))
	require.NoError(t, err)
	originalBytes, err := canon.Encode(doc.Raw)
	require.NoError(t, err)

	blobs := memory.NewBlobAssetStore()
	_, err = Externalize(context.Background(), doc, blobs, blobs, 5)
	require.NoError(t, err)

	afterBytes, err := canon.Encode(doc.Raw)
	require.NoError(t, err)
	assert.Equal(t, originalBytes, afterBytes, "Externalize must not mutate its input")
}
