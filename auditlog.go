package auditlog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mickamy/auditlog/internal/buffer"
	"github.com/mickamy/auditlog/internal/ident"
	"github.com/mickamy/auditlog/internal/query"
)

// RedactFunc defines a function used to sanitize or mask values before they are recorded.
type RedactFunc func(key string, v any) any

// RedactMap maps column names to specific redaction functions.
type RedactMap map[string]RedactFunc

// Config defines the main configuration options for auditlog.
type Config struct {
	Dialect  Dialect      // SQL flavour of the default writer
	Table    string       // audit table of the default writer (default: audit_logs)
	IDColumn string       // identity column of audited tables (default: id)
	Store    ContextStore // default: NewMemoryStore()
	Writer   Writer       // default: NewSQLStore(Dialect, Table)
	Logger   *zap.Logger  // default: zap.NewNop()
	Metrics  *Metrics     // optional
	Redact   RedactMap    // optional column-based redaction of recorded values

	// QualifiedModelType keeps the schema when a table name is used as model type,
	// e.g. "billing.accounts" instead of "accounts".
	QualifiedModelType bool
}

// Handler is the main entry point that manages auditlog behavior.
type Handler struct {
	cfg        Config
	dispatcher *Dispatcher
}

// New creates a new Handler instance with sensible defaults.
func New(cfg Config) *Handler {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.IDColumn == "" {
		cfg.IDColumn = "id"
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.Writer == nil {
		cfg.Writer = NewSQLStore(SQLStoreConfig{Dialect: cfg.Dialect, Table: cfg.Table})
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Redact == nil {
		cfg.Redact = RedactMap{}
	}
	return &Handler{
		cfg: cfg,
		dispatcher: &Dispatcher{
			store:     cfg.Store,
			writer:    cfg.Writer,
			logger:    cfg.Logger,
			metrics:   cfg.Metrics,
			tracer:    newTracer(),
			idColumn:  cfg.IDColumn,
			qualified: cfg.QualifiedModelType,
			redact:    cfg.Redact,
		},
	}
}

// Dispatcher returns the mutation hook for storage layers that manage their
// own transactions.
func (h *Handler) Dispatcher() *Dispatcher {
	return h.dispatcher
}

// Store returns the context store shared by all transactions of h.
func (h *Handler) Store() ContextStore {
	return h.cfg.Store
}

// DB wraps a *sql.DB instance to enable auditing on transactions.
type DB struct {
	*sql.DB
	h *Handler
}

// WrapDB attaches auditlog to a *sql.DB connection.
func (h *Handler) WrapDB(db *sql.DB) *DB {
	return &DB{DB: db, h: h}
}

// Tx wraps a *sql.Tx and records every DML executed through it.
//
// Data-changing statements are accepted by Exec and ExecContext only; Query,
// QueryRow and Prepare reject them with ErrUnsupportedEvent.
type Tx struct {
	tx      *sql.Tx
	h       *Handler
	id      string
	buf     *buffer.Buffer[Record]
	images  map[string]map[string]Row // table -> id -> latest row image
	aborted bool
	done    bool
}

// BeginTx starts a wrapped transaction. Metadata attached to ctx with WithUser,
// WithWorkspace and friends is registered for the transaction.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	t, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	tx := &Tx{
		tx:     t,
		h:      db.h,
		id:     uuid.NewString(),
		buf:    buffer.NewBuffer[Record](),
		images: map[string]map[string]Row{},
	}
	if info, ok := InfoFrom(ctx); ok {
		if err := tx.SetInfo(ctx, info); err != nil {
			_ = t.Rollback()
			return nil, err
		}
	}
	return tx, nil
}

// ID returns the transaction id under which context is stored.
func (t *Tx) ID() string {
	return t.id
}

// SetInfo registers or replaces the metadata of this transaction.
func (t *Tx) SetInfo(ctx context.Context, info Info) error {
	if err := t.h.cfg.Store.Set(ctx, t.id, info); err != nil {
		return fmt.Errorf("auditlog: failed to register context: %w", err)
	}
	return nil
}

// Records returns the audit records written so far while the transaction is
// open. It is empty once the transaction has committed or rolled back.
func (t *Tx) Records() []Record {
	return t.buf.Snapshot()
}

// Audit reports a mutation the caller performed itself. Row images must
// reflect the state inside this transaction.
func (t *Tx) Audit(ctx context.Context, m Mutation) (Result, error) {
	if t.aborted {
		return Result{}, ErrTxAborted
	}
	res, err := t.h.dispatcher.OnMutation(ctx, t.tx, t.id, m)
	if err != nil {
		t.aborted = true
		return Result{}, err
	}
	t.buf.Add(res.Record)
	t.remember(m)
	return res, nil
}

// LoadRow reads the current image of a row by id, locking it where the
// dialect supports it. The image is kept as the pre-image of later UPDATEs
// of that row in this transaction.
func (t *Tx) LoadRow(ctx context.Context, table string, id any) (Row, error) {
	tableIdent := ident.Sanitize(table)
	if tableIdent == "" {
		return nil, fmt.Errorf("auditlog: invalid table identifier %q", table)
	}
	d := t.h.cfg.Dialect
	stmt := fmt.Sprintf(`SELECT * FROM %s WHERE %s = %s`, tableIdent, ident.Quote(t.h.cfg.IDColumn), d.placeholder(1))
	if d == Postgres {
		stmt += " FOR UPDATE"
	}
	rows, err := t.tx.QueryContext(ctx, stmt, id)
	if err != nil {
		return nil, err
	}
	ms, _, err := scanAll(rows)
	if err != nil {
		return nil, fmt.Errorf("auditlog: failed to scan rows: %w", err)
	}
	if len(ms) == 0 {
		return nil, sql.ErrNoRows
	}
	t.keep(tableIdent, ms[0])
	return ms[0].Clone(), nil
}

// Exec is ExecContext with context.Background.
func (t *Tx) Exec(q string, args ...any) (sql.Result, error) {
	return t.ExecContext(context.Background(), q, args...)
}

// ExecContext intercepts ExecContext to capture and audit DML operations.
//   - INSERT, UPDATE and DELETE run with RETURNING * (appended when absent) and
//     every returned row is audited. A narrower RETURNING list is rejected.
//   - UPDATE needs the rows' prior images: the latest image seen in this
//     transaction, else WithPreImages. Without any the statement is not executed.
//   - TRUNCATE and upserts are rejected; anything else passes through.
func (t *Tx) ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error) {
	if t.aborted {
		return nil, ErrTxAborted
	}
	dml, ok := query.ParseDML(q)
	if !ok {
		return t.tx.ExecContext(ctx, q, args...)
	}
	if err := t.checkAuditable(dml); err != nil {
		return nil, err
	}
	event, err := ParseEvent(dml.Op)
	if err != nil {
		return nil, err
	}
	table := ident.Sanitize(dml.Table)

	var before map[string]Row
	if event == Update {
		before = t.preImages(ctx, table)
		if len(before) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingPreImage, dml.Table)
		}
	}

	stmt := q
	if !dml.ReturnsAll() {
		stmt, _ = query.AppendReturningAll(q)
	}
	rows, err := t.tx.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	ms, n, err := scanAll(rows)
	if err != nil {
		// The statement may have changed rows that can no longer be audited.
		t.aborted = true
		return nil, fmt.Errorf("auditlog: failed to scan rows: %w", err)
	}
	for _, m := range ms {
		mut := Mutation{Event: event, Table: dml.Table, Query: q}
		switch event {
		case Insert:
			mut.New = m
		case Delete:
			mut.Old = m
		case Update:
			mut.New = m
			if v, ok := m[t.h.cfg.IDColumn]; ok && v != nil {
				mut.Old = before[formatID(v)]
			}
		}
		if _, err := t.Audit(ctx, mut); err != nil {
			return nil, err
		}
	}
	return newAffectedRows(n), nil
}

func (t *Tx) checkAuditable(dml query.DML) error {
	var reason string
	switch {
	case dml.Op == query.OpTruncate:
		reason = "statement cannot be audited per row"
	case dml.Upsert:
		reason = "upsert may update rows without a pre-image"
	case dml.HasReturning && !dml.ReturnsAll():
		reason = "RETURNING list must be *"
	default:
		return nil
	}
	t.h.cfg.Logger.Warn("auditlog: rejected statement",
		zap.String("op", dml.Op),
		zap.String("table", dml.Table),
		zap.String("reason", reason),
		zap.String("tx_id", t.id),
	)
	return fmt.Errorf("%w: %s on %s: %s", ErrUnsupportedEvent, dml.Op, dml.Table, reason)
}

// rejectDML refuses data-changing statements on paths that cannot audit them.
func (t *Tx) rejectDML(q string) error {
	if t.aborted {
		return ErrTxAborted
	}
	dml, ok := query.ParseDML(q)
	if !ok {
		return nil
	}
	t.h.cfg.Logger.Warn("auditlog: rejected statement outside ExecContext",
		zap.String("op", dml.Op),
		zap.String("table", dml.Table),
		zap.String("tx_id", t.id),
	)
	return fmt.Errorf("%w: %s on %s must go through ExecContext", ErrUnsupportedEvent, dml.Op, dml.Table)
}

// Query is QueryContext with context.Background.
func (t *Tx) Query(q string, args ...any) (*sql.Rows, error) {
	return t.QueryContext(context.Background(), q, args...)
}

// QueryContext runs a read-only query inside the transaction.
func (t *Tx) QueryContext(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	if err := t.rejectDML(q); err != nil {
		return nil, err
	}
	return t.tx.QueryContext(ctx, q, args...)
}

// RowResult is the result of QueryRow. Scan reports a rejected statement.
type RowResult struct {
	row *sql.Row
	err error
}

func (r *RowResult) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return r.row.Scan(dest...)
}

func (r *RowResult) Err() error {
	if r.err != nil {
		return r.err
	}
	return r.row.Err()
}

// QueryRow is QueryRowContext with context.Background.
func (t *Tx) QueryRow(q string, args ...any) *RowResult {
	return t.QueryRowContext(context.Background(), q, args...)
}

// QueryRowContext runs a read-only single-row query inside the transaction.
func (t *Tx) QueryRowContext(ctx context.Context, q string, args ...any) *RowResult {
	if err := t.rejectDML(q); err != nil {
		return &RowResult{err: err}
	}
	return &RowResult{row: t.tx.QueryRowContext(ctx, q, args...)}
}

// Prepare is PrepareContext with context.Background.
func (t *Tx) Prepare(q string) (*sql.Stmt, error) {
	return t.PrepareContext(context.Background(), q)
}

// PrepareContext prepares a read-only statement inside the transaction.
func (t *Tx) PrepareContext(ctx context.Context, q string) (*sql.Stmt, error) {
	if err := t.rejectDML(q); err != nil {
		return nil, err
	}
	return t.tx.PrepareContext(ctx, q)
}

// preImages returns the known images of table keyed by id. Images observed
// in this transaction take precedence over those supplied on ctx.
func (t *Tx) preImages(ctx context.Context, table string) map[string]Row {
	out := map[string]Row{}
	for _, r := range extractPreImages(ctx) {
		if v, ok := r[t.h.cfg.IDColumn]; ok && v != nil {
			out[formatID(v)] = r
		}
	}
	for id, r := range t.images[table] {
		out[id] = r
	}
	return out
}

// remember tracks the row image left behind by an audited mutation.
func (t *Tx) remember(m Mutation) {
	table := ident.Sanitize(m.Table)
	if table == "" {
		return
	}
	switch m.Event {
	case Insert, Update:
		t.keep(table, m.New)
	case Delete:
		if v, ok := m.Old[t.h.cfg.IDColumn]; ok && v != nil {
			delete(t.images[table], formatID(v))
		}
	}
}

func (t *Tx) keep(table string, r Row) {
	v, ok := r[t.h.cfg.IDColumn]
	if !ok || v == nil {
		return
	}
	if t.images[table] == nil {
		t.images[table] = map[string]Row{}
	}
	t.images[table][formatID(v)] = r.Clone()
}

// Commit commits the transaction unless an audit failure aborted it, in which
// case it rolls back and returns ErrTxAborted.
func (t *Tx) Commit() error {
	defer t.finish()
	if t.aborted {
		if err := t.tx.Rollback(); err != nil {
			return fmt.Errorf("%w: rollback: %w", ErrTxAborted, err)
		}
		t.buf.Reset()
		return ErrTxAborted
	}
	if err := t.tx.Commit(); err != nil {
		t.buf.Reset()
		return err
	}
	t.h.cfg.Metrics.recordCommitted(len(t.buf.Drain()))
	return nil
}

// Rollback discards the records written in this transaction and rolls it back.
func (t *Tx) Rollback() error {
	defer t.finish()
	t.buf.Reset()
	return t.tx.Rollback()
}

// finish clears the transaction's context entry exactly once.
func (t *Tx) finish() {
	if t.done {
		return
	}
	t.done = true
	t.images = map[string]map[string]Row{}
	if err := t.h.cfg.Store.Clear(context.Background(), t.id); err != nil {
		t.h.cfg.Logger.Warn("auditlog: failed to clear context",
			zap.String("tx_id", t.id),
			zap.Error(err),
		)
	}
}
