// Package document holds the open, order-preserving JSON document used as the
// payload of entities and curations, plus JSON-merge-patch.
package document

import (
	"bytes"
	stdjson "encoding/json"
	"fmt"
	"sort"
	"strconv"

	json "github.com/goccy/go-json"
)

// Doc is an open JSON object that keeps keys in insertion order.
// Values are nil, bool, json.Number, string, []any or *Doc. Numbers keep
// their literal text so that integers beyond 2^53 survive a round trip;
// float64 is accepted from callers as well.
type Doc struct {
	keys   []string
	values map[string]any
}

func New() *Doc {
	return &Doc{values: make(map[string]any)}
}

// FromMap builds a Doc from a plain map. Keys are sorted so the result is stable.
func FromMap(m map[string]any) *Doc {
	d := New()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d.Set(k, normalize(m[k]))
	}
	return d
}

// Parse decodes a JSON object.
func Parse(b []byte) (*Doc, error) {
	d := New()
	if err := d.UnmarshalJSON(b); err != nil {
		return nil, err
	}
	return d, nil
}

// ParseValue decodes any JSON value into document values.
func ParseValue(b []byte) (any, error) {
	dec := newDecoder(b)
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err == nil {
		return nil, fmt.Errorf("document: trailing data after value")
	}
	return v, nil
}

func newDecoder(b []byte) *stdjson.Decoder {
	dec := stdjson.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec
}

func (d *Doc) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

func (d *Doc) Keys() []string {
	if d == nil {
		return nil
	}
	return append([]string(nil), d.keys...)
}

func (d *Doc) Get(key string) (any, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d.values[key]
	return v, ok
}

// String returns the value under key when it is a string.
func (d *Doc) String(key string) (string, bool) {
	v, ok := d.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Set replaces the value in place or appends the key at the end.
func (d *Doc) Set(key string, v any) {
	if d.values == nil {
		d.values = make(map[string]any)
	}
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = v
}

func (d *Doc) Delete(key string) {
	if d == nil {
		return
	}
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.keys {
		if k == key {
			d.keys = append(d.keys[:i], d.keys[i+1:]...)
			break
		}
	}
}

// Lookup walks nested objects and arrays. Array steps are decimal indexes.
func (d *Doc) Lookup(path ...string) (any, bool) {
	var cur any = d
	for _, p := range path {
		switch t := cur.(type) {
		case *Doc:
			v, ok := t.Get(p)
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			var i int
			if _, err := fmt.Sscanf(p, "%d", &i); err != nil || i < 0 || i >= len(t) {
				return nil, false
			}
			cur = t[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Clone returns a deep copy.
func (d *Doc) Clone() *Doc {
	if d == nil {
		return nil
	}
	return cloneValue(d).(*Doc)
}

// ToMap converts to plain maps and slices, dropping key order.
func (d *Doc) ToMap() map[string]any {
	if d == nil {
		return nil
	}
	out := make(map[string]any, len(d.keys))
	for _, k := range d.keys {
		out[k] = toPlain(d.values[k])
	}
	return out
}

func (d *Doc) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(d.values[k])
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d *Doc) UnmarshalJSON(b []byte) error {
	dec := newDecoder(b)
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(stdjson.Delim); !ok || delim != '{' {
		return fmt.Errorf("document: expected JSON object")
	}
	parsed, err := decodeObject(dec)
	if err != nil {
		return err
	}
	if _, err := dec.Token(); err == nil {
		return fmt.Errorf("document: trailing data after object")
	}
	*d = *parsed
	return nil
}

func decodeObject(dec *stdjson.Decoder) (*Doc, error) {
	d := New()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("document: object key must be a string")
		}
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		d.Set(key, v)
	}
	if _, err := dec.Token(); err != nil { // '}'
		return nil, err
	}
	return d, nil
}

func decodeValue(dec *stdjson.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case stdjson.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			arr := []any{}
			for dec.More() {
				v, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			if _, err := dec.Token(); err != nil { // ']'
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("document: unexpected delimiter %q", t)
	default:
		// string, json.Number, bool, nil
		return t, nil
	}
}

// normalize converts plain decoded JSON (map[string]any) into Doc values.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return FromMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalize(t[i])
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i := range t {
			out[i] = t[i]
		}
		return out
	case int:
		return stdjson.Number(strconv.Itoa(t))
	case int32:
		return stdjson.Number(strconv.FormatInt(int64(t), 10))
	case int64:
		return stdjson.Number(strconv.FormatInt(t, 10))
	default:
		return v
	}
}

// Normalize exposes normalize for values decoded outside this package.
func Normalize(v any) any { return normalize(v) }

func toPlain(v any) any {
	switch t := v.(type) {
	case *Doc:
		return t.ToMap()
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = toPlain(t[i])
		}
		return out
	default:
		return v
	}
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case *Doc:
		c := &Doc{keys: append([]string(nil), t.keys...), values: make(map[string]any, len(t.values))}
		for k, vv := range t.values {
			c.values[k] = cloneValue(vv)
		}
		return c
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

// Equal compares two document values by content. Object key order is ignored.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case *Doc:
		y, ok := b.(*Doc)
		if !ok {
			return false
		}
		if x == nil || y == nil {
			return x == nil && y == nil
		}
		if x.Len() != y.Len() {
			return false
		}
		for _, k := range x.keys {
			yv, ok := y.values[k]
			if !ok || !Equal(x.values[k], yv) {
				return false
			}
		}
		return true
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	default:
		if an, ok := number(a); ok {
			bn, ok := number(b)
			return ok && numbersEqual(an, bn)
		}
		return a == b
	}
}

// number reports the JSON number form of v.
func number(v any) (stdjson.Number, bool) {
	switch t := v.(type) {
	case stdjson.Number:
		return t, true
	case float64:
		return stdjson.Number(strconv.FormatFloat(t, 'g', -1, 64)), true
	case int:
		return stdjson.Number(strconv.Itoa(t)), true
	case int64:
		return stdjson.Number(strconv.FormatInt(t, 10)), true
	}
	return "", false
}

// numbersEqual compares exactly when both sides are integers, by float
// value otherwise, so 1 and 1.0 are equal.
func numbersEqual(a, b stdjson.Number) bool {
	if a == b {
		return true
	}
	ai, aerr := a.Int64()
	bi, berr := b.Int64()
	if aerr == nil && berr == nil {
		return ai == bi
	}
	af, aerr := a.Float64()
	bf, berr := b.Float64()
	return aerr == nil && berr == nil && af == bf
}
