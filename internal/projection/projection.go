// Package projection implements spec.md §4.5's read-time transformations:
// the $value/$metadata/$reference/$path modifiers, the level and extent
// query modifiers, and the idShortPath-driven navigation they build on.
package projection

import (
	"github.com/hadijannat/titan-aas/internal/apierr"
	"github.com/hadijannat/titan-aas/internal/canon"
	"github.com/hadijannat/titan-aas/internal/idpath"
	"github.com/hadijannat/titan-aas/internal/model"
)

// Modifier names a projection requested via the API's suffix path tokens.
type Modifier string

const (
	ModifierNone      Modifier = ""
	ModifierValue     Modifier = "$value"
	ModifierMetadata  Modifier = "$metadata"
	ModifierReference Modifier = "$reference"
	ModifierPath      Modifier = "$path"
)

// Level is the level query parameter.
type Level string

const (
	LevelCore Level = "core"
	LevelDeep Level = "deep"
)

// Extent is the extent query parameter.
type Extent string

const (
	ExtentWithBlobValue    Extent = "withBlobValue"
	ExtentWithoutBlobValue Extent = "withoutBlobValue"
)

// ValueOnly renders el in the $value shape defined by spec.md §4.5.
// Unrecognized element kinds fall back to exposing their raw "value"
// field (or null if absent), so forward-compatible documents still
// produce a best-effort value projection instead of an error.
func ValueOnly(el *model.Element) interface{} {
	switch el.Kind {
	case model.KindProperty, model.KindMultiLang:
		v, _ := el.Raw.Get("value")
		return v
	case model.KindRange:
		obj := canon.NewObject()
		if min, ok := el.Raw.Get("min"); ok {
			obj.Set("min", min)
		}
		if max, ok := el.Raw.Get("max"); ok {
			obj.Set("max", max)
		}
		return obj
	case model.KindEntity:
		obj := canon.NewObject()
		if et, ok := el.Raw.Get("entityType"); ok {
			obj.Set("entityType", et)
		}
		if gid, ok := el.Raw.Get("globalAssetId"); ok {
			obj.Set("globalAssetId", gid)
		}
		if stmts, ok := el.Raw.Get("statements"); ok {
			if arr, ok := stmts.(*canon.Array); ok {
				obj.Set("statements", valueOnlyCollectionArray(arr))
			}
		}
		return obj
	case model.KindReference:
		v, _ := el.Raw.Get("value")
		return v
	case model.KindBlob, model.KindFile:
		if ct, ok := el.Raw.Get("contentType"); ok {
			obj := canon.NewObject()
			obj.Set("contentType", ct)
			if v, ok := el.Raw.Get("value"); ok {
				obj.Set("value", v)
			}
			return obj
		}
		v, _ := el.Raw.Get("value")
		return v
	case model.KindCollection:
		return valueOnlyCollection(el)
	case model.KindList:
		return valueOnlyList(el)
	default:
		v, _ := el.Raw.Get("value")
		return v
	}
}

// valueOnlyCollection renders a SubmodelElementCollection as an object
// mapping idShort to each child's $value.
func valueOnlyCollection(el *model.Element) *canon.Object {
	obj := canon.NewObject()
	for _, child := range el.Children() {
		obj.Set(child.IDShort(), ValueOnly(child))
	}
	return obj
}

// valueOnlyList renders a SubmodelElementList as an ordered array of each
// child's $value (idShort is not used for list addressing).
func valueOnlyList(el *model.Element) *canon.Array {
	arr := &canon.Array{}
	for _, child := range el.Children() {
		arr.Items = append(arr.Items, ValueOnly(child))
	}
	return arr
}

func valueOnlyCollectionArray(src *canon.Array) *canon.Array {
	arr := &canon.Array{}
	for _, item := range src.Items {
		if obj, ok := item.(*canon.Object); ok {
			arr.Items = append(arr.Items, ValueOnly(model.WrapElement(obj)))
			continue
		}
		arr.Items = append(arr.Items, item)
	}
	return arr
}

// metadataFields are preserved by the $metadata projection; every other
// field (in particular "value") is dropped.
var metadataFields = []string{"modelType", "idShort", "semanticId", "valueType", "kind", "category", "description"}

// Metadata renders el in the $metadata shape: modelType, idShort,
// semanticId, valueType, kind and nested element metadata recursively,
// with runtime values stripped.
func Metadata(el *model.Element) *canon.Object {
	obj := canon.NewObject()
	for _, field := range metadataFields {
		if v, ok := el.Raw.Get(field); ok {
			obj.Set(field, v)
		}
	}
	if el.IsContainer() {
		arr := &canon.Array{}
		for _, child := range el.Children() {
			arr.Items = append(arr.Items, Metadata(child))
		}
		obj.Set("value", arr)
	}
	return obj
}

// DocumentMetadata renders an entire Document's $metadata form: top-level
// fields other than submodelElements pass through; submodelElements (if
// any) is replaced by each element's Metadata().
func DocumentMetadata(doc *model.Document) *canon.Object {
	obj := doc.Raw.Clone()
	if elements := doc.SubmodelElements(); elements != nil || hasField(obj, "submodelElements") {
		arr := &canon.Array{}
		for _, el := range elements {
			arr.Items = append(arr.Items, Metadata(el))
		}
		obj.Set("submodelElements", arr)
	}
	return obj
}

func hasField(obj *canon.Object, field string) bool {
	_, ok := obj.Get(field)
	return ok
}

// ReferenceKeyType maps an element Kind to the AAS reference key type used
// when building a $reference ModelReference to it. Unrecognized kinds use
// their raw modelType string, so forward-compatible elements still
// produce a plausible reference.
func ReferenceKeyType(el *model.Element) string {
	if el.Kind != model.KindUnrecognized {
		return string(el.Kind)
	}
	if mt, ok := el.Raw.Get("modelType"); ok {
		if s, ok := mt.(string); ok {
			return s
		}
	}
	return "SubmodelElement"
}

// ElementReference builds the $reference form for a nested element:
// keys = [{Submodel, submodelID}, {<kind>, idShortPath}].
func ElementReference(submodelID, idShortPath string, el *model.Element) *canon.Object {
	return modelReference(
		referenceKey("Submodel", submodelID),
		referenceKey(ReferenceKeyType(el), idShortPath),
	)
}

func referenceKey(keyType, value string) *canon.Object {
	key := canon.NewObject()
	key.Set("type", keyType)
	key.Set("value", value)
	return key
}

func modelReference(keys ...*canon.Object) *canon.Object {
	obj := canon.NewObject()
	obj.Set("type", "ModelReference")
	items := make([]interface{}, len(keys))
	for i, k := range keys {
		items[i] = k
	}
	obj.Set("keys", &canon.Array{Items: items})
	return obj
}

// PathResult is the $path projection's wire shape.
type PathResult struct {
	IDShortPath string `json:"idShortPath"`
}

// ApplyLevel returns a copy of doc with submodelElements omitted when
// level is "core"; "deep" (or "") returns doc unchanged.
func ApplyLevel(doc *model.Document, level Level) *model.Document {
	if level != LevelCore {
		return doc
	}
	clone := doc.Clone()
	clone.Raw.Delete("submodelElements")
	return clone
}

// ApplyExtent returns a copy of doc with every Blob element's "value"
// field dropped when extent is "withoutBlobValue".
func ApplyExtent(doc *model.Document, extent Extent) *model.Document {
	if extent != ExtentWithoutBlobValue {
		return doc
	}
	clone := doc.Clone()
	for _, el := range clone.SubmodelElements() {
		stripBlobValue(el)
	}
	return clone
}

func stripBlobValue(el *model.Element) {
	if el.Kind == model.KindBlob {
		el.Raw.Delete("value")
	}
	if el.IsContainer() {
		for _, child := range el.Children() {
			stripBlobValue(child)
		}
	}
}

// Resolve navigates doc's submodelElements to idShortPath, returning
// ElementNotFound if any segment fails to match.
func Resolve(doc *model.Document, idShortPath string) (*idpath.Resolution, error) {
	return idpath.ResolvePath(model.RootArray{Doc: doc}, idShortPath)
}

// EntityReferenceType maps a handler entityType label (as used by
// hotcache/eventbus/audit wire labels, e.g. "shell") to the AAS reference
// key type used when that entity is the root of a $reference. Unknown
// labels fall back to "Referable", the AAS base key type, rather than
// erroring: a registry descriptor namespace has no modelType of its own.
func EntityReferenceType(entityType string) string {
	switch entityType {
	case "shell":
		return "AssetAdministrationShell"
	case "submodel":
		return "Submodel"
	case "concept_description":
		return "ConceptDescription"
	default:
		return "Referable"
	}
}

// Apply is the single entry point handlers call: it resolves an optional
// idShortPath (empty for whole-document projections) and renders the
// requested modifier. rootRefType is the AAS reference key type to use
// when modifier is ModifierReference and idShortPath is empty (see
// EntityReferenceType); it is ignored for every other modifier. Returns
// apierr.InvalidPath for unsupported modifier values.
func Apply(doc *model.Document, idShortPath string, modifier Modifier, rootRefType string) (interface{}, error) {
	var el *model.Element
	if idShortPath != "" {
		res, err := Resolve(doc, idShortPath)
		if err != nil {
			return nil, err
		}
		el = res.Element
	}

	switch modifier {
	case ModifierValue:
		if el != nil {
			return ValueOnly(el), nil
		}
		return documentValueOnly(doc), nil
	case ModifierMetadata:
		if el != nil {
			return Metadata(el), nil
		}
		return DocumentMetadata(doc), nil
	case ModifierReference:
		if el != nil {
			return ElementReference(doc.ID(), idShortPath, el), nil
		}
		if rootRefType == "" {
			rootRefType = "Submodel"
		}
		return modelReference(referenceKey(rootRefType, doc.ID())), nil
	case ModifierPath:
		if el == nil {
			return nil, apierr.InvalidPath(idShortPath, "$path requires a resolved element")
		}
		return PathResult{IDShortPath: idShortPath}, nil
	case ModifierNone:
		if el != nil {
			return el.Raw, nil
		}
		return doc.Raw, nil
	default:
		return nil, apierr.InvalidPath(idShortPath, "unsupported projection modifier")
	}
}

func documentValueOnly(doc *model.Document) *canon.Object {
	obj := canon.NewObject()
	for _, el := range doc.SubmodelElements() {
		obj.Set(el.IDShort(), ValueOnly(el))
	}
	return obj
}
