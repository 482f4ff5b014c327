package element

import (
	"testing"

	"github.com/hadijannat/titan-aas/internal/apierr"
	"github.com/hadijannat/titan-aas/internal/canon"
	"github.com/hadijannat/titan-aas/internal/idpath"
	"github.com/hadijannat/titan-aas/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T) *model.Document {
	t.Helper()
	obj, err := canon.Parse([]byte(`{
		"id": "urn:sm:1",
		"submodelElements": [
			{"modelType": "SubmodelElementCollection", "idShort": "Outer", "value": [
				{"modelType": "Property", "idShort": "P", "valueType": "xs:string", "value": "v"}
			]}
		]
	}`))
	require.NoError(t, err)
	return model.WrapDocument(obj)
}

func propertyElement(idShort, value string) *model.Element {
	obj := canon.NewObject()
	obj.Set("modelType", "Property")
	if idShort != "" {
		obj.Set("idShort", idShort)
	}
	obj.Set("valueType", "xs:string")
	obj.Set("value", value)
	return model.WrapElement(obj)
}

func TestInsertAtRootDoesNotMutateInput(t *testing.T) {
	doc := fixture(t)
	originalBytes, err := canon.Encode(doc.Raw)
	require.NoError(t, err)

	updated, err := Insert(doc, "", propertyElement("Q", "new"))
	require.NoError(t, err)

	afterBytes, err := canon.Encode(doc.Raw)
	require.NoError(t, err)
	assert.Equal(t, originalBytes, afterBytes, "Insert must not mutate its input")

	elements := updated.SubmodelElements()
	require.Len(t, elements, 2)
}

func TestInsertIntoCollectionRejectsDuplicateIDShort(t *testing.T) {
	doc := fixture(t)
	_, err := Insert(doc, "Outer", propertyElement("P", "dup"))
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeElementAlreadyExists))
}

func TestReplaceElementAtPath(t *testing.T) {
	doc := fixture(t)
	updated, err := Replace(doc, "Outer.P", propertyElement("P", "replaced"))
	require.NoError(t, err)

	res := mustResolve(t, updated, "Outer.P")
	v, _ := res.Raw.Get("value")
	assert.Equal(t, "replaced", v)
}

func TestReplaceMissingPathFails(t *testing.T) {
	doc := fixture(t)
	_, err := Replace(doc, "Outer.Missing", propertyElement("Missing", "x"))
	require.Error(t, err)
	assert.True(t, apierr.Is(err, apierr.CodeElementNotFound))
}

func TestUpdateValueShorthand(t *testing.T) {
	doc := fixture(t)
	updated, err := UpdateValue(doc, "Outer.P", "updated-value")
	require.NoError(t, err)
	res := mustResolve(t, updated, "Outer.P")
	v, _ := res.Raw.Get("value")
	assert.Equal(t, "updated-value", v)
}

func TestDeleteRemovesElement(t *testing.T) {
	doc := fixture(t)
	updated, err := Delete(doc, "Outer.P")
	require.NoError(t, err)

	_, err = lookup(updated, "Outer.P")
	require.Error(t, err)
}

func TestDeleteMissingFails(t *testing.T) {
	doc := fixture(t)
	_, err := Delete(doc, "Outer.Missing")
	require.Error(t, err)
}

func mustResolve(t *testing.T, doc *model.Document, path string) *model.Element {
	t.Helper()
	el, err := lookup(doc, path)
	require.NoError(t, err)
	return el
}

func lookup(doc *model.Document, path string) (*model.Element, error) {
	res, err := idpath.ResolvePath(model.RootArray{Doc: doc}, path)
	if err != nil {
		return nil, err
	}
	return res.Element, nil
}
