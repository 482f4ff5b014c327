// Package idpath implements the idShortPath grammar and resolution from
// spec.md §4.5:
//
//	segment ( ("." segment) | ("[" integer "]") )*
//
// where segment is an idShort. Resolution walks a Submodel's element tree,
// matching name segments against child idShort and index segments against
// position in an ordered SubmodelElementList.
package idpath

import (
	"strconv"
	"strings"

	"github.com/hadijannat/titan-aas/internal/apierr"
	"github.com/hadijannat/titan-aas/internal/model"
)

// Segment is one step of a parsed idShortPath.
type Segment struct {
	Name    string
	Index   int
	IsIndex bool
}

// Parse tokenizes path per the grammar above. Returns InvalidPath on a
// malformed path (empty segment, unterminated index, non-integer index).
func Parse(path string) ([]Segment, error) {
	if path == "" {
		return nil, apierr.InvalidPath(path, "path must not be empty")
	}
	var segments []Segment
	i := 0
	n := len(path)
	expectSegmentStart := true
	for i < n {
		if path[i] == '[' {
			if expectSegmentStart {
				return nil, apierr.InvalidPath(path, "unexpected '[' at start of segment")
			}
			close := strings.IndexByte(path[i:], ']')
			if close < 0 {
				return nil, apierr.InvalidPath(path, "unterminated '['")
			}
			numStr := path[i+1 : i+close]
			idx, err := strconv.Atoi(numStr)
			if err != nil || idx < 0 {
				return nil, apierr.InvalidPath(path, "index must be a non-negative integer")
			}
			segments = append(segments, Segment{Index: idx, IsIndex: true})
			i += close + 1
			expectSegmentStart = false
			continue
		}
		if path[i] == '.' {
			if expectSegmentStart {
				return nil, apierr.InvalidPath(path, "unexpected '.'")
			}
			i++
			expectSegmentStart = true
			continue
		}
		// accumulate a name segment up to the next '.' or '['
		start := i
		for i < n && path[i] != '.' && path[i] != '[' {
			i++
		}
		name := path[start:i]
		if name == "" {
			return nil, apierr.InvalidPath(path, "empty idShort segment")
		}
		segments = append(segments, Segment{Name: name})
		expectSegmentStart = false
	}
	if expectSegmentStart {
		return nil, apierr.InvalidPath(path, "path ends with a trailing separator")
	}
	return segments, nil
}

// Resolution is the result of walking a path to its final element: the
// container that directly holds it, the element's index within that
// container, and the element itself.
type Resolution struct {
	Parent  model.Container
	Index   int
	Element *model.Element
}

// Resolve walks segments starting from root, returning ElementNotFound as
// soon as any segment fails to match.
func Resolve(root model.Container, segments []Segment) (*Resolution, error) {
	if len(segments) == 0 {
		return nil, apierr.InvalidPath("", "path must have at least one segment")
	}
	current := root
	var result *Resolution
	for _, seg := range segments {
		if current == nil {
			return nil, apierr.ElementNotFound(renderSegments(segments))
		}
		children := model.Children(current)
		var idx int
		if seg.IsIndex {
			if seg.Index < 0 || seg.Index >= len(children) {
				return nil, apierr.ElementNotFound(renderSegments(segments))
			}
			idx = seg.Index
		} else {
			idx = model.IndexOfIDShort(current, seg.Name)
			if idx < 0 {
				return nil, apierr.ElementNotFound(renderSegments(segments))
			}
		}
		el := children[idx]
		result = &Resolution{Parent: current, Index: idx, Element: el}
		if el.IsContainer() {
			current = el.AsContainer()
		} else {
			current = nil // further segments, if any, will fail to resolve below
		}
	}
	if result == nil {
		return nil, apierr.ElementNotFound(renderSegments(segments))
	}
	return result, nil
}

// ResolvePath is a convenience combining Parse and Resolve.
func ResolvePath(root model.Container, path string) (*Resolution, error) {
	segments, err := Parse(path)
	if err != nil {
		return nil, err
	}
	return Resolve(root, segments)
}

func renderSegments(segments []Segment) string {
	var b strings.Builder
	for i, s := range segments {
		if s.IsIndex {
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(s.Index))
			b.WriteByte(']')
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(s.Name)
	}
	return b.String()
}
