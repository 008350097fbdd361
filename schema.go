package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mickamy/auditlog/internal/ident"
)

// SchemaConfig controls audit table creation.
type SchemaConfig struct {
	Dialect Dialect
	Table   string // default: audit_logs

	// AppendOnly installs a trigger rejecting UPDATE and DELETE on the audit table.
	AppendOnly bool
}

// Migrate creates the audit table and its indexes if they do not exist.
func Migrate(ctx context.Context, db *sql.DB, cfg SchemaConfig) error {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	parts := ident.SplitQualified(cfg.Table)
	tableIdent := ident.Sanitize(cfg.Table)
	if tableIdent == "" {
		return fmt.Errorf("auditlog: invalid audit table identifier %q", cfg.Table)
	}
	base := parts[len(parts)-1]

	stmts := []string{createTableDDL(cfg.Dialect, tableIdent)}
	for _, idx := range []struct {
		suffix  string
		columns []string
	}{
		{suffix: "created_at", columns: []string{"created_at"}},
		{suffix: "model", columns: []string{"model_type", "model_id"}},
		{suffix: "user_id", columns: []string{"user_id"}},
		{suffix: "workspace_id", columns: []string{"workspace_id"}},
	} {
		name := ident.Quote(fmt.Sprintf("idx_%s_%s", base, idx.suffix))
		stmts = append(stmts, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s);`,
			name, tableIdent, strings.Join(idx.columns, ", ")))
	}
	if cfg.AppendOnly {
		stmts = append(stmts, appendOnlyDDL(cfg.Dialect, base, tableIdent)...)
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("auditlog: migrate %s: %w", cfg.Table, err)
		}
	}
	return nil
}

func createTableDDL(d Dialect, table string) string {
	if d == SQLite {
		return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	model_type TEXT NOT NULL,
	model_id TEXT,
	event TEXT NOT NULL,
	changed TEXT NOT NULL DEFAULT '{}',
	workspace_id INTEGER,
	user_id INTEGER,
	username TEXT,
	user_type TEXT NOT NULL DEFAULT 'User',
	created_at TEXT NOT NULL,
	query TEXT,
	data TEXT NOT NULL DEFAULT '{}'
);`, table)
	}
	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	model_type TEXT NOT NULL,
	model_id TEXT,
	event TEXT NOT NULL,
	changed JSONB NOT NULL DEFAULT '{}'::jsonb,
	workspace_id BIGINT,
	user_id BIGINT,
	username TEXT,
	user_type TEXT NOT NULL DEFAULT 'User',
	created_at TIMESTAMPTZ NOT NULL,
	query TEXT,
	data JSONB NOT NULL DEFAULT '{}'::jsonb
);`, table)
}

func appendOnlyDDL(d Dialect, base, table string) []string {
	if d == SQLite {
		return []string{
			fmt.Sprintf(`
CREATE TRIGGER IF NOT EXISTS %s BEFORE UPDATE ON %s
BEGIN
	SELECT RAISE(ABORT, 'audit log is append-only');
END;`, ident.Quote(base+"_no_update"), table),
			fmt.Sprintf(`
CREATE TRIGGER IF NOT EXISTS %s BEFORE DELETE ON %s
BEGIN
	SELECT RAISE(ABORT, 'audit log is append-only');
END;`, ident.Quote(base+"_no_delete"), table),
		}
	}
	fn := ident.Quote(base + "_reject_change")
	trg := ident.Quote(base + "_append_only")
	return []string{
		fmt.Sprintf(`
CREATE OR REPLACE FUNCTION %s() RETURNS trigger LANGUAGE plpgsql AS $$
BEGIN
	RAISE EXCEPTION 'audit log is append-only';
END
$$;`, fn),
		fmt.Sprintf(`DROP TRIGGER IF EXISTS %s ON %s;`, trg, table),
		fmt.Sprintf(`CREATE TRIGGER %s BEFORE UPDATE OR DELETE ON %s FOR EACH ROW EXECUTE FUNCTION %s();`, trg, table, fn),
	}
}
