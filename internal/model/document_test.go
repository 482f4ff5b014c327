package model

import (
	"testing"

	"github.com/hadijannat/titan-aas/internal/canon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobalAssetIDExtraction(t *testing.T) {
	obj, err := canon.Parse([]byte(`{
		"id": "urn:x:1",
		"assetInformation": {"assetKind": "Instance", "globalAssetId": "urn:asset:1"}
	}`))
	require.NoError(t, err)
	doc := WrapDocument(obj)
	assert.Equal(t, "urn:asset:1", doc.GlobalAssetID())
}

func TestSemanticIDExtractionUsesLastKey(t *testing.T) {
	obj, err := canon.Parse([]byte(`{
		"id": "urn:x:1",
		"semanticId": {"type": "ExternalReference", "keys": [
			{"type": "GlobalReference", "value": "urn:outer"},
			{"type": "GlobalReference", "value": "urn:inner"}
		]}
	}`))
	require.NoError(t, err)
	doc := WrapDocument(obj)
	assert.Equal(t, "urn:inner", doc.SemanticID())
}

func TestSubmodelElementsEmptyIsNilNotError(t *testing.T) {
	obj, err := canon.Parse([]byte(`{"id": "urn:x:1", "submodelElements": []}`))
	require.NoError(t, err)
	doc := WrapDocument(obj)
	assert.Empty(t, doc.SubmodelElements())
}

func TestWrapElementUnrecognizedKindRoundTrips(t *testing.T) {
	obj, err := canon.Parse([]byte(`{"modelType": "FutureElementKind", "idShort": "X", "future": true}`))
	require.NoError(t, err)
	el := WrapElement(obj)
	assert.Equal(t, KindUnrecognized, el.Kind)
	out, err := canon.Encode(el.Raw)
	require.NoError(t, err)
	assert.JSONEq(t, string(out), `{"modelType": "FutureElementKind", "idShort": "X", "future": true}`)
}

func TestCollectionChildrenAndFind(t *testing.T) {
	obj, err := canon.Parse([]byte(`{
		"modelType": "SubmodelElementCollection",
		"idShort": "Outer",
		"value": [
			{"modelType": "Property", "idShort": "P", "valueType": "xs:string", "value": "v"}
		]
	}`))
	require.NoError(t, err)
	el := WrapElement(obj)
	require.True(t, el.IsContainer())
	require.False(t, el.IsList())
	idx, child := el.FindChildByIDShort("P")
	require.Equal(t, 0, idx)
	require.NotNil(t, child)
	assert.Equal(t, KindProperty, child.Kind)
}
