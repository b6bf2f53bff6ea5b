package docstore

import (
	"bytes"

	json "github.com/goccy/go-json"

	"concierge/internal/document"
)

// DecodeJSON turns a scanned JSON column into document values. Objects keep
// the key order the database returned.
func DecodeJSON(v any) (any, error) {
	var raw []byte
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		raw = t
	case string:
		raw = []byte(t)
	default:
		// drivers that decode JSON themselves
		return document.Normalize(v), nil
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		return document.Parse(raw)
	}
	return document.ParseValue(raw)
}

// DecodeDoc decodes a document column that must hold an object.
func DecodeDoc(v any) (*document.Doc, error) {
	out, err := DecodeJSON(v)
	if err != nil {
		return nil, err
	}
	d, ok := out.(*document.Doc)
	if !ok {
		return nil, &json.UnmarshalTypeError{Value: "non-object", Field: "doc"}
	}
	return d, nil
}
