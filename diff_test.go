package auditlog_test

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/auditlog"
)

func TestDiff(t *testing.T) {
	t.Parallel()

	cols := []string{"name", "balance"}
	ada := auditlog.Row{"id": int64(7), "name": "Ada", "balance": int64(0), "secret": "s3cr3t"}
	rich := auditlog.Row{"id": int64(7), "name": "Ada", "balance": int64(100), "secret": "other"}

	tcs := []struct {
		name    string
		event   auditlog.Event
		old     auditlog.Row
		new     auditlog.Row
		columns []string
		want    string
	}{
		{name: "insert reports audited columns only", event: auditlog.Insert, new: ada, columns: cols, want: `{"name":"Ada","balance":0}`},
		{name: "delete reports prior values", event: auditlog.Delete, old: rich, columns: cols, want: `{"name":"Ada","balance":100}`},
		{name: "update reports changed pairs", event: auditlog.Update, old: ada, new: rich, columns: cols, want: `{"balance":[0,100]}`},
		{name: "update without changes", event: auditlog.Update, old: ada, new: ada, columns: cols, want: `{}`},
		{name: "unaudited change is ignored", event: auditlog.Update, old: ada, new: auditlog.Row{"id": int64(7), "name": "Ada", "balance": int64(0), "secret": "x"}, columns: cols, want: `{}`},
		{name: "column absent on both rows", event: auditlog.Update, old: ada, new: rich, columns: []string{"nickname"}, want: `{}`},
		{name: "column absent on insert row", event: auditlog.Insert, new: ada, columns: []string{"nickname", "name"}, want: `{"name":"Ada"}`},
		{name: "null value on insert is kept", event: auditlog.Insert, new: auditlog.Row{"id": 1, "name": nil}, columns: []string{"name"}, want: `{"name":null}`},
		{name: "column dropped by update", event: auditlog.Update, old: auditlog.Row{"note": "x"}, new: auditlog.Row{}, columns: []string{"note"}, want: `{"note":["x",null]}`},
		{name: "numeric representation", event: auditlog.Update, old: auditlog.Row{"balance": int64(100)}, new: auditlog.Row{"balance": float64(100)}, columns: []string{"balance"}, want: `{}`},
		{
			name:    "semi-structured key order",
			event:   auditlog.Update,
			old:     auditlog.Row{"prefs": []byte(`{"theme":"dark","lang":"en"}`)},
			new:     auditlog.Row{"prefs": map[string]any{"lang": "en", "theme": "dark"}},
			columns: []string{"prefs"},
			want:    `{}`,
		},
		{
			name:    "semi-structured change",
			event:   auditlog.Update,
			old:     auditlog.Row{"prefs": map[string]any{"theme": "dark"}},
			new:     auditlog.Row{"prefs": map[string]any{"theme": "light"}},
			columns: []string{"prefs"},
			want:    `{"prefs":[{"theme":"dark"},{"theme":"light"}]}`,
		},
		{name: "numeric text change", event: auditlog.Update, old: auditlog.Row{"code": []byte("1e2")}, new: auditlog.Row{"code": []byte("100")}, columns: []string{"code"}, want: `{"code":["1e2","100"]}`},
		{name: "numeric text stays text", event: auditlog.Insert, new: auditlog.Row{"code": []byte("123")}, columns: []string{"code"}, want: `{"code":"123"}`},
		{name: "empty column set", event: auditlog.Insert, new: ada, columns: nil, want: `{}`},
	}

	for _, tc := range tcs {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := auditlog.Diff(tc.event, tc.old, tc.new, tc.columns)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, mustJSON(t, got))
		})
	}
}

func TestDiff_UpdatePairs(t *testing.T) {
	t.Parallel()

	got, err := auditlog.Diff(auditlog.Update,
		auditlog.Row{"balance": int64(0)},
		auditlog.Row{"balance": int64(100)},
		[]string{"balance"},
	)
	require.NoError(t, err)

	pair, ok := got["balance"].(auditlog.Pair)
	require.True(t, ok, "update value must be a Pair, got %T", got["balance"])
	assert.Equal(t, json.Number("0"), pair.Old())
	assert.Equal(t, json.Number("100"), pair.New())
}

func TestDiff_Deterministic(t *testing.T) {
	t.Parallel()

	old := auditlog.Row{"a": 1, "b": "x", "c": map[string]any{"k": []any{1, 2}}, "d": nil}
	nw := auditlog.Row{"a": 2, "b": "y", "c": map[string]any{"k": []any{2, 1}}, "d": true}
	cols := []string{"d", "c", "b", "a"}

	first, err := auditlog.Diff(auditlog.Update, old, nw, cols)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := auditlog.Diff(auditlog.Update, old, nw, cols)
		require.NoError(t, err)
		assert.Equal(t, first, again)
		assert.Equal(t, mustJSON(t, first), mustJSON(t, again))
	}
}

func TestDiff_Errors(t *testing.T) {
	t.Parallel()

	row := auditlog.Row{"id": 1}

	tcs := []struct {
		name    string
		event   auditlog.Event
		old     auditlog.Row
		new     auditlog.Row
		wantErr error
	}{
		{name: "insert without new row", event: auditlog.Insert, old: row, wantErr: auditlog.ErrDiff},
		{name: "delete without old row", event: auditlog.Delete, new: row, wantErr: auditlog.ErrDiff},
		{name: "update without old row", event: auditlog.Update, new: row, wantErr: auditlog.ErrDiff},
		{name: "unencodable value", event: auditlog.Insert, new: auditlog.Row{"id": math.Inf(1)}, wantErr: auditlog.ErrDiff},
		{name: "unknown event", event: auditlog.Event("TRUNCATE"), old: row, new: row, wantErr: auditlog.ErrUnsupportedEvent},
	}

	for _, tc := range tcs {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := auditlog.Diff(tc.event, tc.old, tc.new, []string{"id"})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.wantErr), "got %v", err)
		})
	}
}
