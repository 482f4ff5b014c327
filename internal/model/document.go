package model

import "github.com/hadijannat/titan-aas/internal/canon"

// EntityType discriminates the four first-class entity classes of
// spec.md §3.
type EntityType string

const (
	EntityShell              EntityType = "shell"
	EntitySubmodel           EntityType = "submodel"
	EntityConceptDescription EntityType = "concept_description"
	EntityShellDescriptor    EntityType = "shell_descriptor"
	EntitySubmodelDescriptor EntityType = "submodel_descriptor"
)

// Document wraps a top-level entity's backing canon.Object with accessors
// for the identifier and the indexed secondary attributes spec.md §3
// requires to be extracted on every write.
type Document struct {
	Raw *canon.Object
}

// WrapDocument adapts a parsed canon.Object into a Document.
func WrapDocument(obj *canon.Object) *Document {
	return &Document{Raw: obj}
}

// ID returns the document's "id" field.
func (d *Document) ID() string {
	if v, ok := d.Raw.Get("id"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// IDShort returns the document's idShort, if present.
func (d *Document) IDShort() string {
	if v, ok := d.Raw.Get("idShort"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GlobalAssetID extracts assetInformation.globalAssetId from a Shell
// document. Returns "" if absent or the document is not a Shell.
func (d *Document) GlobalAssetID() string {
	v, ok := d.Raw.Get("assetInformation")
	if !ok {
		return ""
	}
	assetInfo, ok := v.(*canon.Object)
	if !ok {
		return ""
	}
	gid, ok := assetInfo.Get("globalAssetId")
	if !ok {
		return ""
	}
	s, _ := gid.(string)
	return s
}

// SemanticID extracts semanticId.keys[-1].value from a Submodel document.
func (d *Document) SemanticID() string {
	return lastKeyValue(d.Raw, "semanticId")
}

// lastKeyValue extracts field.keys[-1].value from a Reference-shaped
// sub-object: {"keys": [{"type": "...", "value": "..."}]}.
func lastKeyValue(obj *canon.Object, field string) string {
	v, ok := obj.Get(field)
	if !ok {
		return ""
	}
	ref, ok := v.(*canon.Object)
	if !ok {
		return ""
	}
	return referenceLastValue(ref)
}

// referenceLastValue extracts keys[-1].value from a Reference object
// directly.
func referenceLastValue(ref *canon.Object) string {
	keysVal, ok := ref.Get("keys")
	if !ok {
		return ""
	}
	keys, ok := keysVal.(*canon.Array)
	if !ok || len(keys.Items) == 0 {
		return ""
	}
	last, ok := keys.Items[len(keys.Items)-1].(*canon.Object)
	if !ok {
		return ""
	}
	valField, ok := last.Get("value")
	if !ok {
		return ""
	}
	s, _ := valField.(string)
	return s
}

// IsCaseOfValues extracts isCaseOf[].keys[-1].value for a
// ConceptDescription document.
func (d *Document) IsCaseOfValues() []string {
	v, ok := d.Raw.Get("isCaseOf")
	if !ok {
		return nil
	}
	arr, ok := v.(*canon.Array)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range arr.Items {
		ref, ok := item.(*canon.Object)
		if !ok {
			continue
		}
		if s := referenceLastValue(ref); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// EmbeddedDataSpecificationValues extracts
// embeddedDataSpecifications[].dataSpecification.keys[].value for a
// ConceptDescription document.
func (d *Document) EmbeddedDataSpecificationValues() []string {
	v, ok := d.Raw.Get("embeddedDataSpecifications")
	if !ok {
		return nil
	}
	arr, ok := v.(*canon.Array)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range arr.Items {
		eds, ok := item.(*canon.Object)
		if !ok {
			continue
		}
		if s := lastKeyValue(eds, "dataSpecification"); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SubmodelElements returns the root-level submodelElements array of a
// Submodel document as wrapped Elements. Returns nil (not an error) for an
// empty or absent array, per spec.md §8's "empty Submodel" boundary case.
func (d *Document) SubmodelElements() []*Element {
	v, ok := d.Raw.Get("submodelElements")
	if !ok {
		return nil
	}
	arr, ok := v.(*canon.Array)
	if !ok || len(arr.Items) == 0 {
		return nil
	}
	elements := make([]*Element, 0, len(arr.Items))
	for _, item := range arr.Items {
		if obj, ok := item.(*canon.Object); ok {
			elements = append(elements, WrapElement(obj))
		}
	}
	return elements
}

// SetSubmodelElements replaces the root-level submodelElements array.
func (d *Document) SetSubmodelElements(elements []*Element) {
	items := make([]interface{}, len(elements))
	for i, e := range elements {
		items[i] = e.Raw
	}
	d.Raw.Set("submodelElements", &canon.Array{Items: items})
}

// Clone returns a deep, independent copy of d.
func (d *Document) Clone() *Document {
	return &Document{Raw: d.Raw.Clone()}
}
