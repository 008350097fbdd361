package auditlog

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mickamy/auditlog/internal/ident"
)

// DefaultTable is the audit table used when none is configured.
const DefaultTable = "audit_logs"

// Execer is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WriteRequest carries everything needed to build one audit record.
type WriteRequest struct {
	Event     Event
	ModelType string
	ModelID   string
	Changed   Changes
	Info      Info
	Query     string
	Data      map[string]any
}

// Writer appends audit records. Write must go through ex so that the record
// shares the fate of the transaction that performed the mutation.
type Writer interface {
	Write(ctx context.Context, ex Execer, req WriteRequest) (Record, error)
}

// SQLStoreConfig configures an SQLStore.
type SQLStoreConfig struct {
	Dialect Dialect
	Table   string           // default: audit_logs
	Clock   func() time.Time // default: time.Now
}

// SQLStore writes audit records to and reads them from a SQL table.
type SQLStore struct {
	dialect Dialect
	raw     string
	table   string
	now     func() time.Time
}

// NewSQLStore returns a store for the configured table.
func NewSQLStore(cfg SQLStoreConfig) *SQLStore {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &SQLStore{dialect: cfg.Dialect, raw: cfg.Table, table: ident.Sanitize(cfg.Table), now: cfg.Clock}
}

func (s *SQLStore) tableIdent() (string, error) {
	if s.table == "" {
		return "", fmt.Errorf("auditlog: invalid audit table identifier %q", s.raw)
	}
	return s.table, nil
}

// Write inserts one record and returns it with its assigned id.
func (s *SQLStore) Write(ctx context.Context, ex Execer, req WriteRequest) (Record, error) {
	if !req.Event.Valid() {
		return Record{}, fmt.Errorf("%w: %q", ErrUnsupportedEvent, string(req.Event))
	}
	table, err := s.tableIdent()
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrPersist, err)
	}
	rec := Record{
		ModelType:   req.ModelType,
		ModelID:     req.ModelID,
		Event:       req.Event,
		Changed:     req.Changed,
		UserID:      req.Info.UserID,
		Username:    req.Info.Username,
		UserType:    req.Info.UserType,
		WorkspaceID: req.Info.WorkspaceID,
		CreatedAt:   s.now(),
		Data:        req.Data,
	}
	if rec.Changed == nil {
		rec.Changed = Changes{}
	}
	if rec.UserType == "" {
		rec.UserType = DefaultUserType
	}
	if rec.Data == nil {
		rec.Data = map[string]any{}
	}
	if req.Query != "" {
		q := req.Query
		rec.Query = &q
	}

	changed, err := json.Marshal(rec.Changed)
	if err != nil {
		return Record{}, fmt.Errorf("%w: encode changes: %w", ErrPersist, err)
	}
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return Record{}, fmt.Errorf("%w: encode data: %w", ErrPersist, err)
	}

	d := s.dialect
	stmt := fmt.Sprintf(`
INSERT INTO %s (model_type, model_id, event, changed, workspace_id, user_id, username, user_type, created_at, query, data)
VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
RETURNING id
`, table,
		d.placeholder(1), d.placeholder(2), d.placeholder(3), d.jsonPlaceholder(4), d.placeholder(5),
		d.placeholder(6), d.placeholder(7), d.placeholder(8), d.placeholder(9), d.placeholder(10),
		d.jsonPlaceholder(11))

	err = ex.QueryRowContext(ctx, stmt,
		rec.ModelType,
		rec.ModelID,
		string(rec.Event),
		string(changed),
		rec.WorkspaceID,
		rec.UserID,
		rec.Username,
		rec.UserType,
		d.encodeTime(rec.CreatedAt),
		rec.Query,
		string(data),
	).Scan(&rec.ID)
	if err != nil {
		return Record{}, fmt.Errorf("%w: insert into %s: %w", ErrPersist, table, err)
	}
	return rec, nil
}

// Filter selects audit records. Zero fields do not filter.
type Filter struct {
	ModelType   string
	ModelID     string
	Event       Event
	WorkspaceID *int64
	UserID      *int64
	Since       time.Time // inclusive
	Until       time.Time // exclusive
	Limit       int
}

const defaultListLimit = 500

// List returns matching records ordered by creation time, oldest first.
func (s *SQLStore) List(ctx context.Context, ex Execer, f Filter) ([]Record, error) {
	table, err := s.tableIdent()
	if err != nil {
		return nil, err
	}
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, s.dialect.placeholder(len(args))))
	}
	if f.ModelType != "" {
		add("model_type = %s", f.ModelType)
	}
	if f.ModelID != "" {
		add("model_id = %s", f.ModelID)
	}
	if f.Event != "" {
		add("event = %s", string(f.Event))
	}
	if f.WorkspaceID != nil {
		add("workspace_id = %s", *f.WorkspaceID)
	}
	if f.UserID != nil {
		add("user_id = %s", *f.UserID)
	}
	if !f.Since.IsZero() {
		add("created_at >= %s", s.dialect.encodeTime(f.Since))
	}
	if !f.Until.IsZero() {
		add("created_at < %s", s.dialect.encodeTime(f.Until))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)

	var b strings.Builder
	fmt.Fprintf(&b, `
SELECT id, model_type, model_id, event, changed, workspace_id, user_id, username, user_type, created_at, query, data
FROM %s`, table)
	if len(where) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	fmt.Fprintf(&b, "\nORDER BY created_at ASC, id ASC\nLIMIT %s", s.dialect.placeholder(len(args)))

	rows, err := ex.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("auditlog: failed to list records: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var out []Record
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("auditlog: failed to iterate records: %w", err)
	}
	return out, nil
}

func (s *SQLStore) scanRecord(rows *sql.Rows) (Record, error) {
	var (
		rec         Record
		modelID     sql.NullString
		event       string
		changed     []byte
		workspaceID sql.NullInt64
		userID      sql.NullInt64
		username    sql.NullString
		userType    sql.NullString
		createdAt   any
		q           sql.NullString
		data        []byte
	)
	if err := rows.Scan(
		&rec.ID, &rec.ModelType, &modelID, &event, &changed,
		&workspaceID, &userID, &username, &userType, &createdAt, &q, &data,
	); err != nil {
		return Record{}, fmt.Errorf("auditlog: failed to scan record: %w", err)
	}
	rec.ModelID = modelID.String
	rec.Event = Event(event)
	rec.UserType = userType.String
	if workspaceID.Valid {
		v := workspaceID.Int64
		rec.WorkspaceID = &v
	}
	if userID.Valid {
		v := userID.Int64
		rec.UserID = &v
	}
	if username.Valid {
		v := username.String
		rec.Username = &v
	}
	if q.Valid {
		v := q.String
		rec.Query = &v
	}
	t, err := s.dialect.decodeTime(createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("auditlog: record %d: %w", rec.ID, err)
	}
	rec.CreatedAt = t

	if err := decodeJSON(changed, &rec.Changed); err != nil {
		return Record{}, fmt.Errorf("auditlog: record %d: decode changes: %w", rec.ID, err)
	}
	if rec.Changed == nil {
		rec.Changed = Changes{}
	}
	if rec.Event == Update {
		for k, v := range rec.Changed {
			if pair, ok := v.([]any); ok && len(pair) == 2 {
				rec.Changed[k] = Pair{pair[0], pair[1]}
			}
		}
	}
	if err := decodeJSON(data, &rec.Data); err != nil {
		return Record{}, fmt.Errorf("auditlog: record %d: decode data: %w", rec.ID, err)
	}
	if rec.Data == nil {
		rec.Data = map[string]any{}
	}
	return rec, nil
}

func decodeJSON[T any](b []byte, dst *T) error {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(dst)
}
