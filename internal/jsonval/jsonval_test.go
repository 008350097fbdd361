package jsonval_test

import (
	"database/sql"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/auditlog/internal/jsonval"
)

func canonical(t *testing.T, v any) string {
	t.Helper()

	_, enc, err := jsonval.Normalize(v)
	require.NoError(t, err)
	return string(enc)
}

func TestNormalize_Equivalence(t *testing.T) {
	t.Parallel()

	tokyo := time.FixedZone("JST", 9*60*60)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tcs := []struct {
		name string
		a, b any
		want bool
	}{
		{name: "int vs float", a: int64(0), b: float64(0), want: true},
		{name: "int vs json number with fraction", a: 1, b: json.Number("1.0"), want: true},
		{name: "different numbers", a: 0, b: 100, want: false},
		{name: "map key order", a: []byte(`{"b":1,"a":[1,2]}`), b: map[string]any{"a": []int{1, 2}, "b": 1}, want: true},
		{name: "nested change", a: map[string]any{"a": map[string]any{"x": 1}}, b: map[string]any{"a": map[string]any{"x": 2}}, want: false},
		{name: "same instant other zone", a: at, b: at.In(tokyo), want: true},
		{name: "bytes vs string", a: []byte("Ada"), b: "Ada", want: true},
		{name: "nil vs nil", a: nil, b: nil, want: true},
		{name: "nil vs empty string", a: nil, b: "", want: false},
		{name: "null valuer", a: sql.NullString{}, b: nil, want: true},
		{name: "valid valuer", a: sql.NullInt64{Int64: 3, Valid: true}, b: 3, want: true},
		{name: "string vs number", a: "1", b: 1, want: false},
		{name: "numeric text bytes stay text", a: []byte("1e2"), b: []byte("100"), want: false},
		{name: "numeric text bytes vs number", a: []byte("123"), b: 123, want: false},
		{name: "array document bytes", a: []byte(` [1, 2]`), b: []int{1, 2}, want: true},
	}

	for _, tc := range tcs {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, canonical(t, tc.a) == canonical(t, tc.b))
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	v, enc, err := jsonval.Normalize(map[string]any{"z": 1.5, "a": int32(2)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":2,"z":1.5}`, string(enc))
	assert.Equal(t, `{"a":2,"z":1.5}`, string(enc))
	assert.Equal(t, map[string]any{"a": json.Number("2"), "z": json.Number("1.5")}, v)
}

func TestNormalize_ScalarBytes(t *testing.T) {
	t.Parallel()

	v, enc, err := jsonval.Normalize([]byte("123"))
	require.NoError(t, err)
	assert.Equal(t, "123", v)
	assert.Equal(t, `"123"`, string(enc))

	v, _, err = jsonval.Normalize([]byte(`{"theme":"dark"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"theme": "dark"}, v)
}

func TestNormalize_Unsupported(t *testing.T) {
	t.Parallel()

	tcs := []struct {
		name string
		in   any
	}{
		{name: "nan", in: math.NaN()},
		{name: "channel", in: make(chan int)},
		{name: "func", in: func() {}},
		{name: "broken raw message", in: json.RawMessage(`{"a":`)},
	}

	for _, tc := range tcs {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := jsonval.Normalize(tc.in)
			assert.Error(t, err)
		})
	}
}
