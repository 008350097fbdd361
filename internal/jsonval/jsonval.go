// Package jsonval reduces column values to a canonical JSON form so that
// equivalent representations compare equal.
package jsonval

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Normalize returns the canonical value of v together with its encoding.
//
// Map keys are sorted, numbers are rendered in their shortest form, times are
// converted to UTC and byte slices holding a JSON object or array are decoded.
func Normalize(v any) (any, []byte, error) {
	prepared, err := prepare(v)
	if err != nil {
		return nil, nil, err
	}
	raw, err := json.Marshal(prepared)
	if err != nil {
		return nil, nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, nil, err
	}
	out = canonicalNumbers(out)
	enc, err := json.Marshal(out)
	if err != nil {
		return nil, nil, err
	}
	return out, enc, nil
}

func prepare(v any) (any, error) {
	if valuer, ok := v.(driver.Valuer); ok {
		dv, err := valuer.Value()
		if err != nil {
			return nil, fmt.Errorf("driver value: %w", err)
		}
		v = dv
	}
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case *time.Time:
		if x == nil {
			return nil, nil
		}
		return x.UTC(), nil
	case []byte:
		if isDocument(x) {
			return json.RawMessage(x), nil
		}
		return string(x), nil
	case json.RawMessage:
		if !json.Valid(x) {
			return nil, fmt.Errorf("invalid json document")
		}
		return x, nil
	}
	return v, nil
}

// isDocument reports whether b holds a JSON object or array. Scalars stay
// text so that "100" and "1e2" remain distinct.
func isDocument(b []byte) bool {
	t := bytes.TrimSpace(b)
	if len(t) == 0 || (t[0] != '{' && t[0] != '[') {
		return false
	}
	return json.Valid(t)
}

func canonicalNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return json.Number(strconv.FormatInt(i, 10))
		}
		if f, err := x.Float64(); err == nil {
			return json.Number(strconv.FormatFloat(f, 'g', -1, 64))
		}
		return x
	case map[string]any:
		for k, e := range x {
			x[k] = canonicalNumbers(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = canonicalNumbers(e)
		}
		return x
	}
	return v
}
