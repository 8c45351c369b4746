package common

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// EncodeJSON marshals v for a JSON column. Nil pointers and empty maps become
// SQL NULL (a nil slice).
func EncodeJSON(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice:
		if rv.IsNil() || (rv.Kind() != reflect.Pointer && rv.Len() == 0) {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON column: %w", err)
	}
	return data, nil
}

// DecodeJSON unmarshals a JSON column into T. NULL and "null" yield the zero value.
func DecodeJSON[T any](raw []byte) (T, error) {
	var result T
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return result, nil
	}
	if err := json.Unmarshal(trimmed, &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal JSON column: %w\nData: %s", err, trimmed)
	}
	return result, nil
}
