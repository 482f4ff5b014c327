// Package model implements the discriminated-union replacement for the
// source system's dynamic modelType dispatch (spec.md §9). Every
// SubmodelElement is wrapped as an Element carrying a typed Kind tag plus
// its backing canon.Object, so operations can dispatch on Kind while
// unrecognized element kinds still round-trip unchanged through the
// backing object.
package model

import (
	"github.com/hadijannat/titan-aas/internal/canon"
)

// Kind tags the variant of a SubmodelElement.
type Kind string

const (
	KindProperty   Kind = "Property"
	KindMultiLang  Kind = "MultiLanguageProperty"
	KindRange      Kind = "Range"
	KindBlob       Kind = "Blob"
	KindFile       Kind = "File"
	KindEntity     Kind = "Entity"
	KindCollection Kind = "SubmodelElementCollection"
	KindList       Kind = "SubmodelElementList"
	KindOperation  Kind = "Operation"
	KindReference  Kind = "ReferenceElement"
	// KindUnrecognized is the opaque fallback: the element's modelType did
	// not match any kind known to this system. Its fields are preserved
	// verbatim in Raw so the document round-trips unchanged.
	KindUnrecognized Kind = ""
)

// containerKinds are the element kinds whose "value" field is a child
// element array rather than a scalar or object.
var containerKinds = map[Kind]bool{
	KindCollection: true,
	KindList:       true,
}

// Element wraps one SubmodelElement's backing canon.Object with a
// dispatchable Kind tag.
type Element struct {
	Kind Kind
	Raw  *canon.Object
}

// WrapElement tags a canon.Object as an Element by reading its modelType
// field. An object with no recognized modelType becomes KindUnrecognized,
// not an error: unknown element kinds must still be manipulable (at least
// insertable/deletable as opaque siblings) and must round-trip.
func WrapElement(obj *canon.Object) *Element {
	kind := KindUnrecognized
	if mt, ok := obj.Get("modelType"); ok {
		if s, ok := mt.(string); ok {
			kind = Kind(s)
		}
	}
	return &Element{Kind: kind, Raw: obj}
}

// IDShort returns the element's idShort, or "" if absent (a "" idShort is
// valid only for elements inside a SubmodelElementList, per spec.md §4.6).
func (e *Element) IDShort() string {
	if v, ok := e.Raw.Get("idShort"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// IsContainer reports whether this element's "value" holds a child element
// array (SubmodelElementCollection / SubmodelElementList) as opposed to a
// scalar/object payload.
func (e *Element) IsContainer() bool {
	return containerKinds[e.Kind]
}

// IsList reports whether this container permits duplicate idShorts and is
// addressed by index (SubmodelElementList semantics).
func (e *Element) IsList() bool {
	return e.Kind == KindList
}

// Children returns the container's child elements in order. Returns nil
// for a non-container element.
func (e *Element) Children() []*Element {
	if !e.IsContainer() {
		return nil
	}
	return Children(ElementContainer{El: e})
}

// AsContainer exposes e as a Container for idShortPath resolution and
// element operations, when e.IsContainer() is true.
func (e *Element) AsContainer() Container {
	return ElementContainer{El: e}
}

// Clone returns a deep, independent copy of e.
func (e *Element) Clone() *Element {
	return &Element{Kind: e.Kind, Raw: e.Raw.Clone()}
}

// FindChildByIDShort returns the index and element of the first direct
// child with the given idShort, or (-1, nil) if none matches. Used for
// SubmodelElementCollection navigation, where idShort uniqueness is
// enforced on insert.
func (e *Element) FindChildByIDShort(idShort string) (int, *Element) {
	for i, child := range e.Children() {
		if child.IDShort() == idShort {
			return i, child
		}
	}
	return -1, nil
}
