package auditlog

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// TableNamer provides a custom table name for a model.
type TableNamer interface {
	TableName() string
}

// ModelNamer provides the model type recorded for a model's rows.
type ModelNamer interface {
	AuditModelName() string
}

var (
	tableNamerType = reflect.TypeOf((*TableNamer)(nil)).Elem()
	modelNamerType = reflect.TypeOf((*ModelNamer)(nil)).Elem()
)

// EntityOf derives the audited entity declared by a model struct.
//
// The table is taken from TableName() or the pluralized snake_case type name.
// The model name is AuditModelName() or the type name. Only fields carrying an
// `audit` tag are audited; the column is the tag value, else the `db` tag,
// else the snake_case field name. `audit:"-"` excludes a field.
func EntityOf(target any) (string, Entity, error) {
	if target == nil {
		return "", Entity{}, errors.New("auditlog: nil model")
	}
	typ := reflect.TypeOf(target)
	for typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return "", Entity{}, fmt.Errorf("auditlog: unsupported model %T", target)
	}
	if typ.Name() == "" {
		return "", Entity{}, fmt.Errorf("auditlog: cannot derive entity for anonymous struct of type %v", typ)
	}

	table, err := tableNameOf(typ)
	if err != nil {
		return "", Entity{}, err
	}
	e := Entity{ModelName: typ.Name()}
	if name := callString(typ, modelNamerType, func(v any) string { return v.(ModelNamer).AuditModelName() }); name != "" {
		e.ModelName = name
	}
	e.Columns = auditedColumns(typ)
	return table, e, nil
}

// WithModel declares the audited entity of a model struct on ctx, see EntityOf.
func WithModel(ctx context.Context, target any) (context.Context, error) {
	table, e, err := EntityOf(target)
	if err != nil {
		return ctx, err
	}
	return WithEntity(ctx, table, e), nil
}

func tableNameOf(typ reflect.Type) (string, error) {
	if reflect.PointerTo(typ).Implements(tableNamerType) || typ.Implements(tableNamerType) {
		name := strings.TrimSpace(callString(typ, tableNamerType, func(v any) string { return v.(TableNamer).TableName() }))
		if name == "" {
			return "", fmt.Errorf("auditlog: TableName returned empty string. %v", typ)
		}
		return name, nil
	}
	return inflection.Plural(toSnakeCase(typ.Name())), nil
}

// callString invokes a string method of iface on a zero value of typ.
func callString(typ reflect.Type, iface reflect.Type, call func(any) string) string {
	if typ.Implements(iface) {
		return call(reflect.New(typ).Elem().Interface())
	}
	if reflect.PointerTo(typ).Implements(iface) {
		return call(reflect.New(typ).Interface())
	}
	return ""
}

func auditedColumns(typ reflect.Type) []string {
	cols := []string{}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, ok := f.Tag.Lookup("audit")
		if !ok || tag == "-" {
			continue
		}
		name := strings.TrimSpace(strings.Split(tag, ",")[0])
		if name == "" {
			name = strings.TrimSpace(strings.Split(f.Tag.Get("db"), ",")[0])
		}
		if name == "" || name == "-" {
			name = toSnakeCase(f.Name)
		}
		cols = append(cols, name)
	}
	return cols
}

func toSnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
