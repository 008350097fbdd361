package auditlog

import (
	"fmt"
	"strconv"
	"time"
)

// Dialect selects the SQL flavour of the audit table.
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// sqliteTimeLayout is fixed-width so that stored timestamps sort lexically.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000000"

func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite"
	}
	return "dialect(" + strconv.Itoa(int(d)) + ")"
}

func (d Dialect) placeholder(n int) string {
	if d == SQLite {
		return "?"
	}
	return "$" + strconv.Itoa(n)
}

// jsonPlaceholder renders a placeholder for a JSON encoded argument.
func (d Dialect) jsonPlaceholder(n int) string {
	if d == SQLite {
		return "?"
	}
	return "$" + strconv.Itoa(n) + "::jsonb"
}

func (d Dialect) encodeTime(t time.Time) any {
	if d == SQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t
}

func (d Dialect) decodeTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		return parseTimeText(x)
	case []byte:
		return parseTimeText(string(x))
	}
	return time.Time{}, fmt.Errorf("unexpected time value %T", v)
}

func parseTimeText(s string) (time.Time, error) {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
