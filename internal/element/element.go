// Package element implements spec.md §4.6's element operations: pure
// functions that return a new Submodel document rather than mutating the
// caller's copy. Each operation clones the input document once, then
// mutates the clone's backing tree in place via internal/idpath
// resolution before returning it — "pure" here means the caller's
// original *model.Document is left untouched, not that no mutation ever
// happens.
package element

import (
	"github.com/hadijannat/titan-aas/internal/apierr"
	"github.com/hadijannat/titan-aas/internal/canon"
	"github.com/hadijannat/titan-aas/internal/idpath"
	"github.com/hadijannat/titan-aas/internal/model"
)

// Insert appends el to parentPath's container (or to the Submodel root if
// parentPath is ""). Within a SubmodelElementCollection, a duplicate
// idShort fails with ElementAlreadyExists. A SubmodelElementList permits
// duplicates and ignores idShort entirely.
func Insert(doc *model.Document, parentPath string, el *model.Element) (*model.Document, error) {
	clone := doc.Clone()
	var parent model.Container = model.RootArray{Doc: clone}
	if parentPath != "" {
		res, err := idpath.ResolvePath(model.RootArray{Doc: clone}, parentPath)
		if err != nil {
			return nil, err
		}
		if !res.Element.IsContainer() {
			return nil, apierr.InvalidPath(parentPath, "element is not a container")
		}
		parent = res.Element.AsContainer()
	}

	if isCollectionContainer(parent) {
		idShort := el.IDShort()
		if idShort != "" && model.IndexOfIDShort(parent, idShort) >= 0 {
			return nil, apierr.ElementAlreadyExists(joinPath(parentPath, idShort))
		}
	}

	arr := parent.ValueArray()
	arr.Items = append(arr.Items, el.Raw.Clone())
	return clone, nil
}

// Replace swaps the element at path for el, preserving its position.
// Fails with ElementNotFound if path does not resolve.
func Replace(doc *model.Document, path string, el *model.Element) (*model.Document, error) {
	clone := doc.Clone()
	res, err := idpath.ResolvePath(model.RootArray{Doc: clone}, path)
	if err != nil {
		return nil, err
	}
	arr := res.Parent.ValueArray()
	arr.Items[res.Index] = el.Raw.Clone()
	return clone, nil
}

// Patch shallow-merges updates' fields into the element at path. Fails
// with ElementNotFound if path does not resolve.
func Patch(doc *model.Document, path string, updates *canon.Object) (*model.Document, error) {
	clone := doc.Clone()
	res, err := idpath.ResolvePath(model.RootArray{Doc: clone}, path)
	if err != nil {
		return nil, err
	}
	for _, kv := range updates.Fields {
		res.Element.Raw.Set(kv.Key, cloneForMerge(kv.Value))
	}
	return clone, nil
}

// UpdateValue is shorthand for Patch that only touches the "value" field.
func UpdateValue(doc *model.Document, path string, value interface{}) (*model.Document, error) {
	clone := doc.Clone()
	res, err := idpath.ResolvePath(model.RootArray{Doc: clone}, path)
	if err != nil {
		return nil, err
	}
	res.Element.Raw.Set("value", cloneForMerge(value))
	return clone, nil
}

// Delete removes the element at path. Fails with ElementNotFound if path
// does not resolve.
func Delete(doc *model.Document, path string) (*model.Document, error) {
	clone := doc.Clone()
	res, err := idpath.ResolvePath(model.RootArray{Doc: clone}, path)
	if err != nil {
		return nil, err
	}
	arr := res.Parent.ValueArray()
	arr.Items = append(arr.Items[:res.Index], arr.Items[res.Index+1:]...)
	return clone, nil
}

// isCollectionContainer reports whether parent is a
// SubmodelElementCollection (idShort-unique) as opposed to the Submodel
// root or a SubmodelElementList (both of which permit duplicate idShort,
// the root because spec.md does not constrain top-level idShort
// uniqueness the way it does for collections).
func isCollectionContainer(parent model.Container) bool {
	ec, ok := parent.(model.ElementContainer)
	if !ok {
		return false
	}
	return ec.El.Kind == model.KindCollection
}

func cloneForMerge(v interface{}) interface{} {
	switch val := v.(type) {
	case *canon.Object:
		return val.Clone()
	case *canon.Array:
		items := make([]interface{}, len(val.Items))
		for i, item := range val.Items {
			items[i] = cloneForMerge(item)
		}
		return &canon.Array{Items: items}
	default:
		return val
	}
}

func joinPath(parentPath, idShort string) string {
	if parentPath == "" {
		return idShort
	}
	return parentPath + "." + idShort
}
