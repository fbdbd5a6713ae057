package storage

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// ToDocument converts a typed record into a Document using its JSON field
// names. Fields tagged omitempty are left out when empty, which is what keeps
// a merge-write from clobbering them.
func ToDocument(v any) (Document, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return doc, nil
}

// FromDocument decodes doc into the typed record pointed to by v.
func FromDocument(doc Document, v any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageCorrupt, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageCorrupt, err)
	}
	return nil
}

// normalize deep-copies doc into plain JSON types so stored documents never
// alias caller memory.
func normalize(doc Document) (Document, error) {
	if doc == nil {
		return Document{}, nil
	}
	return ToDocument(doc)
}

func normalizeValues(values []any) ([]any, error) {
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	var out []any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return out, nil
}

// mergeInto merges src into dst. Nested maps merge recursively; other values
// replace.
func mergeInto(dst, src Document) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				mergeInto(existing, sub)
				continue
			}
		}
		dst[k] = v
	}
}

// unionInto appends each value missing from doc[field]. A non-array field is
// replaced by a fresh array.
func unionInto(doc Document, field string, values []any) {
	arr, _ := doc[field].([]any)
	for _, v := range values {
		if !containsValue(arr, v) {
			arr = append(arr, v)
		}
	}
	if arr == nil {
		arr = []any{}
	}
	doc[field] = arr
}

func containsValue(arr []any, v any) bool {
	for _, existing := range arr {
		if reflect.DeepEqual(existing, v) {
			return true
		}
	}
	return false
}

// flatten turns nested maps into dotted keys, the shape of a Mongo $set.
func flatten(prefix string, doc Document, out map[string]any) {
	for k, v := range doc {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := v.(map[string]any); ok && len(sub) > 0 {
			flatten(key, sub, out)
			continue
		}
		out[key] = v
	}
}
