package model

import "github.com/hadijannat/titan-aas/internal/canon"

// Container is anything that owns an ordered array of child elements: the
// Submodel root (submodelElements) or a SubmodelElementCollection/List
// (value). Element operations and idShortPath resolution mutate through
// this interface rather than through copied slices, so changes are visible
// on the backing canon.Object tree without a separate write-back step.
type Container interface {
	// ValueArray returns the backing canon.Array for this container's
	// children, creating an empty one if absent.
	ValueArray() *canon.Array
}

// RootArray implements Container for a Submodel document's root
// submodelElements array.
type RootArray struct {
	Doc *Document
}

func (r RootArray) ValueArray() *canon.Array {
	v, ok := r.Doc.Raw.Get("submodelElements")
	if !ok {
		arr := &canon.Array{}
		r.Doc.Raw.Set("submodelElements", arr)
		return arr
	}
	arr, ok := v.(*canon.Array)
	if !ok {
		arr = &canon.Array{}
		r.Doc.Raw.Set("submodelElements", arr)
	}
	return arr
}

// ElementContainer implements Container for a collection/list element's
// value array.
type ElementContainer struct {
	El *Element
}

func (c ElementContainer) ValueArray() *canon.Array {
	v, ok := c.El.Raw.Get("value")
	if !ok {
		arr := &canon.Array{}
		c.El.Raw.Set("value", arr)
		return arr
	}
	arr, ok := v.(*canon.Array)
	if !ok {
		arr = &canon.Array{}
		c.El.Raw.Set("value", arr)
	}
	return arr
}

// Children wraps a container's array items as Elements, skipping any
// non-object entries (which should not occur in a well-formed document).
func Children(c Container) []*Element {
	arr := c.ValueArray()
	children := make([]*Element, 0, len(arr.Items))
	for _, item := range arr.Items {
		if obj, ok := item.(*canon.Object); ok {
			children = append(children, WrapElement(obj))
		}
	}
	return children
}

// IndexOfIDShort returns the index of the first child with the given
// idShort, or -1 if none matches.
func IndexOfIDShort(c Container, idShort string) int {
	for i, child := range Children(c) {
		if child.IDShort() == idShort {
			return i
		}
	}
	return -1
}
