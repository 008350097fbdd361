package auditlog_test

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/mickamy/auditlog"
)

const accountsDDL = `
CREATE TABLE accounts (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	balance INTEGER NOT NULL DEFAULT 0,
	secret TEXT
);`

// openSQLite opens a file-backed SQLite database with the accounts and audit tables.
func openSQLite(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	_, err = db.ExecContext(ctx, accountsDDL)
	require.NoError(t, err)
	require.NoError(t, auditlog.Migrate(ctx, db, auditlog.SchemaConfig{Dialect: auditlog.SQLite}))
	return db
}

func countAccounts(t *testing.T, db *sql.DB) int {
	t.Helper()

	var n int
	require.NoError(t, db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM accounts`).Scan(&n))
	return n
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()

	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func ptr[T any](v T) *T {
	return &v
}

// recordingWriter captures write requests instead of persisting them.
type recordingWriter struct {
	mu   sync.Mutex
	reqs []auditlog.WriteRequest
	err  error
}

func (w *recordingWriter) Write(_ context.Context, _ auditlog.Execer, req auditlog.WriteRequest) (auditlog.Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return auditlog.Record{}, w.err
	}
	w.reqs = append(w.reqs, req)
	userType := req.Info.UserType
	if userType == "" {
		userType = auditlog.DefaultUserType
	}
	return auditlog.Record{
		ID:          int64(len(w.reqs)),
		ModelType:   req.ModelType,
		ModelID:     req.ModelID,
		Event:       req.Event,
		Changed:     req.Changed,
		UserID:      req.Info.UserID,
		Username:    req.Info.Username,
		UserType:    userType,
		WorkspaceID: req.Info.WorkspaceID,
		Data:        req.Data,
	}, nil
}

func (w *recordingWriter) requests() []auditlog.WriteRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]auditlog.WriteRequest(nil), w.reqs...)
}

const brokenRowsDriverName = "auditlog-broken-rows"

func init() {
	sql.Register(brokenRowsDriverName, brokenRowsDriver{})
}

// brokenRowsDriver runs every statement but fails while reading its rows.
type brokenRowsDriver struct{}

func (brokenRowsDriver) Open(string) (driver.Conn, error) { return brokenRowsConn{}, nil }

type brokenRowsConn struct{}

func (brokenRowsConn) Prepare(string) (driver.Stmt, error) { return brokenRowsStmt{}, nil }
func (brokenRowsConn) Close() error                        { return nil }
func (brokenRowsConn) Begin() (driver.Tx, error)           { return brokenRowsTx{}, nil }

type brokenRowsTx struct{}

func (brokenRowsTx) Commit() error   { return nil }
func (brokenRowsTx) Rollback() error { return nil }

type brokenRowsStmt struct{}

func (brokenRowsStmt) Close() error  { return nil }
func (brokenRowsStmt) NumInput() int { return -1 }
func (brokenRowsStmt) Exec([]driver.Value) (driver.Result, error) {
	return driver.RowsAffected(1), nil
}
func (brokenRowsStmt) Query([]driver.Value) (driver.Rows, error) { return brokenRows{}, nil }

type brokenRows struct{}

func (brokenRows) Columns() []string         { return []string{"id"} }
func (brokenRows) Close() error              { return nil }
func (brokenRows) Next([]driver.Value) error { return errors.New("connection reset by peer") }
