// Package canon implements canonical JSON encoding and ETag derivation.
//
// spec.md §9 requires picking, explicitly, between preserving the server's
// write-time key order or imposing a canonical (e.g. lexicographic) order.
// This package preserves write-time order: every JSON object decoded here
// keeps the field order it was parsed or constructed in, and Encode writes
// fields back out in that same order. The ETag is therefore a function of
// both the document's content and the order its fields were written in,
// which is the behavior spec.md §3 calls for ("keys in insertion order as
// written by the server").
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/hadijannat/titan-aas/internal/apierr"
)

// KV is one field of an Object, in write order.
type KV struct {
	Key   string
	Value interface{}
}

// Object is an order-preserving JSON object. It is the document
// representation used throughout Titan-AAS in place of
// map[string]interface{}, which Go does not guarantee ordered.
type Object struct {
	Fields []KV
}

// Array is an order-preserving JSON array (arrays are already ordered, but
// the wrapper keeps element-type handling symmetric with Object).
type Array struct {
	Items []interface{}
}

// NewObject returns an empty Object.
func NewObject() *Object {
	return &Object{}
}

// Get returns the value of key and whether it was present.
func (o *Object) Get(key string) (interface{}, bool) {
	if o == nil {
		return nil, false
	}
	for _, kv := range o.Fields {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return nil, false
}

// Set assigns key to value, updating it in place if already present or
// appending it (at the end, preserving write-time order) otherwise.
func (o *Object) Set(key string, value interface{}) {
	for i, kv := range o.Fields {
		if kv.Key == key {
			o.Fields[i].Value = value
			return
		}
	}
	o.Fields = append(o.Fields, KV{Key: key, Value: value})
}

// Delete removes key if present. Reports whether it was present.
func (o *Object) Delete(key string) bool {
	for i, kv := range o.Fields {
		if kv.Key == key {
			o.Fields = append(o.Fields[:i], o.Fields[i+1:]...)
			return true
		}
	}
	return false
}

// Keys returns the object's field names in write order.
func (o *Object) Keys() []string {
	keys := make([]string, len(o.Fields))
	for i, kv := range o.Fields {
		keys[i] = kv.Key
	}
	return keys
}

// Clone returns a deep copy of o.
func (o *Object) Clone() *Object {
	if o == nil {
		return nil
	}
	clone := &Object{Fields: make([]KV, len(o.Fields))}
	for i, kv := range o.Fields {
		clone.Fields[i] = KV{Key: kv.Key, Value: cloneValue(kv.Value)}
	}
	return clone
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case *Object:
		return val.Clone()
	case *Array:
		items := make([]interface{}, len(val.Items))
		for i, item := range val.Items {
			items[i] = cloneValue(item)
		}
		return &Array{Items: items}
	default:
		return val
	}
}

// Parse decodes a JSON document into an order-preserving Object. The top
// level must be a JSON object, which holds for every AAS/Submodel/
// ConceptDescription/Descriptor document in this system.
func Parse(data []byte) (*Object, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, apierr.InvalidDocument(err.Error())
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return nil, apierr.InvalidDocument("document must be a JSON object")
	}
	obj, err := parseObject(dec)
	if err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, apierr.InvalidDocument("trailing data after document")
	}
	return obj, nil
}

func parseObject(dec *json.Decoder) (*Object, error) {
	obj := NewObject()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, apierr.InvalidDocument(err.Error())
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, apierr.InvalidDocument("object key must be a string")
		}
		val, err := parseValue(dec)
		if err != nil {
			return nil, err
		}
		obj.Set(key, val)
	}
	// consume closing '}'
	if _, err := dec.Token(); err != nil {
		return nil, apierr.InvalidDocument(err.Error())
	}
	return obj, nil
}

func parseArray(dec *json.Decoder) (*Array, error) {
	arr := &Array{}
	for dec.More() {
		val, err := parseValue(dec)
		if err != nil {
			return nil, err
		}
		arr.Items = append(arr.Items, val)
	}
	if _, err := dec.Token(); err != nil {
		return nil, apierr.InvalidDocument(err.Error())
	}
	return arr, nil
}

func parseValue(dec *json.Decoder) (interface{}, error) {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil, apierr.InvalidDocument("unexpected end of document")
		}
		return nil, apierr.InvalidDocument(err.Error())
	}
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			return parseObject(dec)
		case '[':
			return parseArray(dec)
		default:
			return nil, apierr.InvalidDocument(fmt.Sprintf("unexpected delimiter %q", v))
		}
	case json.Number:
		if err := validateNumber(v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return v, nil
	}
}

func validateNumber(n json.Number) error {
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return apierr.InvalidDocument("malformed numeric literal: " + n.String())
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return apierr.InvalidDocument("NaN and Infinity are not valid JSON numbers")
	}
	return nil
}

// Encode produces the canonical byte image of obj: compact (no
// insignificant whitespace), write-time field order preserved, numbers in
// their shortest round-tripping form. It fails with InvalidDocument if any
// float64 value (as opposed to a json.Number preserved from parsing) is
// NaN or infinite.
func Encode(obj *Object) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, obj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeAny renders v with the same field-order-preserving rules as Encode,
// but accepts any projection result (a bare *Array, a scalar, or a plain Go
// value built outside this package) rather than requiring an *Object root.
// Handlers use this to serialize $value/$metadata/$reference projections,
// whose root shape depends on the element kind being projected.
func EncodeAny(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case *Object:
		buf.WriteByte('{')
		for i, kv := range val.Fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, err := json.Marshal(kv.Key)
			if err != nil {
				return apierr.InvalidDocument(err.Error())
			}
			buf.Write(keyBytes)
			buf.WriteByte(':')
			if err := encodeValue(buf, kv.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case *Array:
		buf.WriteByte('[')
		for i, item := range val.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case json.Number:
		s := val.String()
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			buf.WriteString(strconv.FormatInt(i, 10))
		} else if f, err := strconv.ParseFloat(s, 64); err == nil && bytes.ContainsAny([]byte(s), ".eE") {
			buf.WriteString(strconv.FormatFloat(f, 'g', -1, 64))
		} else {
			buf.WriteString(s)
		}
	case int:
		buf.WriteString(strconv.Itoa(val))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return apierr.InvalidDocument("NaN and Infinity are not valid JSON numbers")
		}
		buf.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return apierr.InvalidDocument(err.Error())
		}
		buf.Write(b)
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	default:
		// Fallback for plain Go values (e.g. map[string]interface{} built
		// outside this package); marshal them with the stdlib, which sorts
		// map keys lexicographically. This path is intentionally unused
		// for documents that have already been through Parse, since those
		// are always *Object/*Array/scalar.
		b, err := json.Marshal(val)
		if err != nil {
			return apierr.InvalidDocument(err.Error())
		}
		buf.Write(b)
	}
	return nil
}

// ETag returns the lowercase hex SHA-256 digest of the canonical bytes.
func ETag(canonicalBytes []byte) string {
	sum := sha256.Sum256(canonicalBytes)
	return hex.EncodeToString(sum[:])
}

// CanonicalizeAndETag is a convenience that parses, re-encodes, and hashes
// a raw document in one step, used by the persistence layer on write.
func CanonicalizeAndETag(raw []byte) (canonicalBytes []byte, etag string, obj *Object, err error) {
	obj, err = Parse(raw)
	if err != nil {
		return nil, "", nil, err
	}
	canonicalBytes, err = Encode(obj)
	if err != nil {
		return nil, "", nil, err
	}
	return canonicalBytes, ETag(canonicalBytes), obj, nil
}

// SortedKeysLexicographic is exposed only for tests that need a stable
// comparison order independent of write-time order; it is never used on
// the write path, since write-time order is this system's chosen canonical
// form (see the package doc comment).
func SortedKeysLexicographic(o *Object) []string {
	keys := o.Keys()
	sort.Strings(keys)
	return keys
}
