package query

import (
	"regexp"
	"strings"

	"github.com/mickamy/auditlog/internal/ident"
)

// Statement kinds recognized by ParseDML.
const (
	OpInsert   = "INSERT"
	OpUpdate   = "UPDATE"
	OpDelete   = "DELETE"
	OpTruncate = "TRUNCATE"
)

// DML describes a recognized data-changing statement.
type DML struct {
	Op           string // one of the Op* constants
	Table        string // possibly schema-qualified
	HasReturning bool   // a top-level RETURNING clause is present
	Returning    string // the top-level RETURNING list, e.g. "*" or "id"
	Upsert       bool   // INSERT that may update existing rows
}

// ReturnsAll reports whether the statement already returns complete rows.
func (d DML) ReturnsAll() bool {
	return d.HasReturning && d.Returning == "*"
}

var (
	reInsert    = regexp.MustCompile(`(?is)^\s*(?:with\b.*?\)\s*)?insert\s+(?:or\s+(replace|ignore|abort|fail|rollback)\s+)?into\s+([^\s(]+)`)
	reReplace   = regexp.MustCompile(`(?is)^\s*replace\s+into\s+([^\s(]+)`)
	reUpdate    = regexp.MustCompile(`(?is)^\s*(?:with\b.*?\)\s*)?update\s+(?:only\s+)?([^\s]+(?:\s+(?:as\s+)?[^\s]+)?)\s+set\b`)
	reDelete    = regexp.MustCompile(`(?is)^\s*(?:with\b.*?\)\s*)?delete\s+from\s+(?:only\s+)?([^\s]+(?:\s+(?:as\s+)?[^\s]+)?)`)
	reTruncate  = regexp.MustCompile(`(?is)^\s*truncate\s+(?:table\s+)?(?:only\s+)?([^\s;,]+)`)
	reReturning = regexp.MustCompile(`(?is)\breturning\b`)
	reDoUpdate  = regexp.MustCompile(`(?is)\bon\s+conflict\b.*\bdo\s+update\b|\bon\s+duplicate\s+key\s+update\b`)
)

// ParseDML attempts to recognize a single top-level DML and return its metadata.
// RETURNING and ON CONFLICT clauses are only recognized outside literals,
// comments and parentheses.
func ParseDML(q string) (DML, bool) {
	qs := strings.TrimSpace(q)
	top := topLevel(qs)

	var d DML
	switch {
	case match(reInsert, qs, 3):
		m := reInsert.FindStringSubmatch(qs)
		d = DML{Op: OpInsert, Table: ident.StripAlias(m[2]), Upsert: strings.EqualFold(m[1], "replace")}
	case match(reReplace, qs, 2):
		m := reReplace.FindStringSubmatch(qs)
		d = DML{Op: OpInsert, Table: ident.StripAlias(m[1]), Upsert: true}
	case match(reUpdate, qs, 2):
		d = DML{Op: OpUpdate, Table: ident.StripAlias(reUpdate.FindStringSubmatch(qs)[1])}
	case match(reDelete, qs, 2):
		d = DML{Op: OpDelete, Table: ident.StripAlias(reDelete.FindStringSubmatch(qs)[1])}
	case match(reTruncate, qs, 2):
		return DML{Op: OpTruncate, Table: ident.StripAlias(reTruncate.FindStringSubmatch(qs)[1])}, true
	default:
		return DML{}, false
	}

	if d.Op == OpInsert && reDoUpdate.MatchString(top) {
		d.Upsert = true
	}
	if locs := reReturning.FindAllStringIndex(top, -1); len(locs) > 0 {
		last := locs[len(locs)-1]
		d.HasReturning = true
		d.Returning = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(qs[last[1]:]), ";"))
	}
	return d, true
}

func match(re *regexp.Regexp, s string, groups int) bool {
	return len(re.FindStringSubmatch(s)) == groups
}

// topLevel blanks string literals, quoted identifiers, comments and the
// contents of parentheses. Byte offsets are preserved.
func topLevel(q string) string {
	out := []byte(q)
	blank := func(from, to int) {
		for i := from; i < to && i < len(out); i++ {
			if out[i] != '\n' {
				out[i] = ' '
			}
		}
	}
	depth := 0
	for i := 0; i < len(q); {
		c := q[i]
		switch {
		case c == '\'' || c == '"':
			end := closingQuote(q, i+1, c)
			blank(i, end)
			i = end
			continue
		case c == '-' && strings.HasPrefix(q[i:], "--"):
			end := strings.IndexByte(q[i:], '\n')
			if end < 0 {
				end = len(q) - i
			}
			blank(i, i+end)
			i += end
			continue
		case c == '/' && strings.HasPrefix(q[i:], "/*"):
			end := strings.Index(q[i+2:], "*/")
			stop := len(q)
			if end >= 0 {
				stop = i + 2 + end + 2
			}
			blank(i, stop)
			i = stop
			continue
		case c == '$':
			if tag := dollarTag(q[i:]); tag != "" {
				end := strings.Index(q[i+len(tag):], tag)
				stop := len(q)
				if end >= 0 {
					stop = i + len(tag) + end + len(tag)
				}
				blank(i, stop)
				i = stop
				continue
			}
		case c == '(':
			depth++
		case c == ')':
			if depth > 0 {
				depth--
			}
		default:
			if depth > 0 {
				blank(i, i+1)
			}
		}
		i++
	}
	return string(out)
}

// closingQuote returns the offset just past the quote closing a literal that
// starts at from. Doubled quotes are escapes.
func closingQuote(q string, from int, quote byte) int {
	for i := from; i < len(q); i++ {
		if q[i] != quote {
			continue
		}
		if i+1 < len(q) && q[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(q)
}

// dollarTag returns the opening tag of a dollar-quoted string such as $$ or
// $body$, or "" for placeholders like $1.
func dollarTag(s string) string {
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '$':
			return s[:i+1]
		case c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z'):
		case c >= '0' && c <= '9' && i > 1:
		default:
			return ""
		}
	}
	return ""
}

// AppendReturningAll appends "RETURNING *" to the provided statement if non-empty.
// It preserves trailing semicolons by re-attaching them after the RETURNING clause.
func AppendReturningAll(q string) (string, bool) {
	trimmed := strings.TrimSpace(q)
	if trimmed == "" {
		return q, false
	}

	hasSemicolon := false
	for strings.HasSuffix(trimmed, ";") {
		hasSemicolon = true
		trimmed = strings.TrimSpace(trimmed[:len(trimmed)-1])
	}
	if trimmed == "" {
		return q, false
	}

	var b strings.Builder
	b.WriteString(trimmed)
	b.WriteString("\nRETURNING *")
	if hasSemicolon {
		b.WriteString(";")
	}
	return b.String(), true
}
