package auditlog

import (
	"bytes"
	"fmt"

	"github.com/mickamy/auditlog/internal/jsonval"
)

// Diff computes the audited changes of a mutation.
//
// For inserts every column of columns present on newRow is reported with its
// value, for deletes every column present on oldRow. For updates only columns
// whose canonical JSON values differ are reported, as a Pair of old and new
// value. columns is authoritative: keys of the rows that are not listed are
// never reported, and listed columns missing from the relevant rows are skipped.
func Diff(event Event, oldRow, newRow Row, columns []string) (Changes, error) {
	out := Changes{}
	switch event {
	case Insert:
		if newRow == nil {
			return nil, fmt.Errorf("%w: insert without new row", ErrDiff)
		}
		if err := snapshot(out, newRow, columns); err != nil {
			return nil, err
		}
	case Delete:
		if oldRow == nil {
			return nil, fmt.Errorf("%w: delete without old row", ErrDiff)
		}
		if err := snapshot(out, oldRow, columns); err != nil {
			return nil, err
		}
	case Update:
		if oldRow == nil || newRow == nil {
			return nil, fmt.Errorf("%w: update requires old and new row", ErrDiff)
		}
		for _, col := range columns {
			ov, inOld := oldRow[col]
			nv, inNew := newRow[col]
			if !inOld && !inNew {
				continue
			}
			o, oenc, err := jsonval.Normalize(ov)
			if err != nil {
				return nil, fmt.Errorf("%w: column %q: %w", ErrDiff, col, err)
			}
			n, nenc, err := jsonval.Normalize(nv)
			if err != nil {
				return nil, fmt.Errorf("%w: column %q: %w", ErrDiff, col, err)
			}
			if bytes.Equal(oenc, nenc) {
				continue
			}
			out[col] = Pair{o, n}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, string(event))
	}
	return out, nil
}

func snapshot(out Changes, row Row, columns []string) error {
	for _, col := range columns {
		v, ok := row[col]
		if !ok {
			continue
		}
		nv, _, err := jsonval.Normalize(v)
		if err != nil {
			return fmt.Errorf("%w: column %q: %w", ErrDiff, col, err)
		}
		out[col] = nv
	}
	return nil
}
