package ident

import (
	"strings"
	"unicode"
)

// SplitQualified splits a potentially schema-qualified identifier into its unquoted parts.
func SplitQualified(ident string) []string {
	ident = strings.TrimSpace(ident)
	if ident == "" {
		return nil
	}
	var parts []string
	var buf strings.Builder
	inQuotes := false
	runes := []rune(ident)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case '"':
			if inQuotes && i+1 < len(runes) && runes[i+1] == '"' {
				buf.WriteRune('"')
				i++
				continue
			}
			inQuotes = !inQuotes
		case '.':
			if inQuotes {
				buf.WriteRune(r)
				continue
			}
			parts = append(parts, strings.TrimSpace(buf.String()))
			buf.Reset()
		default:
			buf.WriteRune(r)
		}
	}
	parts = append(parts, strings.TrimSpace(buf.String()))
	return parts
}

// StripAlias removes trailing alias tokens from an identifier while preserving quotes.
func StripAlias(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ",")
	runes := []rune(s)
	inQuotes := false
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case !inQuotes && (unicode.IsSpace(r) || r == '('):
			return strings.TrimSpace(string(runes[:i]))
		}
	}
	return s
}

// QuoteQualified renders qualified identifier parts as a SQL identifier.
func QuoteQualified(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = Quote(p)
	}
	return strings.Join(quoted, ".")
}

// Quote safely quotes a single identifier part.
func Quote(part string) string {
	return `"` + strings.ReplaceAll(part, `"`, `""`) + `"`
}

// Sanitize quotes a raw, possibly qualified identifier given by a caller.
// It returns "" when the identifier has an empty segment.
func Sanitize(raw string) string {
	parts := SplitQualified(raw)
	for _, p := range parts {
		if p == "" {
			return ""
		}
	}
	return QuoteQualified(parts)
}

// BaseTableName returns the last segment of a qualified identifier.
func BaseTableName(ident string) string {
	parts := SplitQualified(ident)
	if len(parts) == 0 {
		return strings.TrimSpace(ident)
	}
	return parts[len(parts)-1]
}

// ModelType renders a table identifier as a model type label.
// Unless qualified is set, only the base table name is kept.
func ModelType(table string, qualified bool) string {
	if !qualified {
		return BaseTableName(table)
	}
	parts := SplitQualified(table)
	if len(parts) == 0 {
		return strings.TrimSpace(table)
	}
	return strings.Join(parts, ".")
}
