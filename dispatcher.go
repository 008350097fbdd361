package auditlog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jinzhu/inflection"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mickamy/auditlog/internal/ident"
)

const tracerName = "github.com/mickamy/auditlog"

// Mutation describes a single row change observed by the storage layer.
type Mutation struct {
	Event Event
	Table string // possibly schema-qualified
	Old   Row    // nil for inserts
	New   Row    // nil for deletes
	Query string // statement that caused the change, if known
}

// Result is what OnMutation hands back to the write path.
type Result struct {
	// Row is the mutation's own result: the new row for inserts and updates,
	// the old row for deletes. It is the same map the caller passed in.
	Row    Row
	Record Record
}

// Dispatcher turns mutations into audit records.
type Dispatcher struct {
	store     ContextStore
	writer    Writer
	logger    *zap.Logger
	metrics   *Metrics
	tracer    trace.Tracer
	idColumn  string
	qualified bool
	redact    RedactMap
}

// OnMutation records m inside the transaction identified by txID, using ex
// for the write. Any error leaves no record behind as long as the caller
// rolls back ex.
func (d *Dispatcher) OnMutation(ctx context.Context, ex Execer, txID string, m Mutation) (Result, error) {
	ctx, span := d.tracer.Start(ctx, "auditlog.OnMutation", trace.WithAttributes(
		attribute.String("auditlog.event", string(m.Event)),
		attribute.String("auditlog.table", m.Table),
	))
	defer span.End()

	stage := StagePending
	fail := func(err error) (Result, error) {
		d.metrics.recordFailure(stage)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, &StageError{Stage: StageFailed, Last: stage, Err: err}
	}

	if !m.Event.Valid() {
		d.logger.Warn("auditlog: rejected mutation with unsupported event",
			zap.String("event", string(m.Event)),
			zap.String("table", m.Table),
			zap.String("tx_id", txID),
		)
		return fail(fmt.Errorf("%w: %q", ErrUnsupportedEvent, string(m.Event)))
	}
	row, err := resultRow(m)
	if err != nil {
		return fail(err)
	}

	info := d.resolveInfo(ctx, txID, m.Table)
	stage = StageContextResolved

	base := ident.BaseTableName(m.Table)
	modelName, columns := info.entity(m.Table, base)
	if modelName == "" {
		modelName = ident.ModelType(m.Table, d.qualified)
	}
	modelID, err := d.resolveID(m, base)
	if err != nil {
		return fail(err)
	}
	if columns == nil {
		columns = rowColumns(m.Old, m.New)
	}
	changed, err := Diff(m.Event, m.Old, m.New, columns)
	if err != nil {
		return fail(err)
	}
	d.applyRedact(changed)
	stage = StageDiffed

	started := time.Now()
	rec, err := d.writer.Write(ctx, ex, WriteRequest{
		Event:     m.Event,
		ModelType: modelName,
		ModelID:   modelID,
		Changed:   changed,
		Info:      info,
		Query:     m.Query,
		Data:      recordData(ctx, info),
	})
	if err != nil {
		if !errors.Is(err, ErrPersist) {
			err = fmt.Errorf("%w: %w", ErrPersist, err)
		}
		d.logger.Error("auditlog: failed to write audit record",
			zap.String("event", string(m.Event)),
			zap.String("model_type", modelName),
			zap.String("model_id", modelID),
			zap.String("tx_id", txID),
			zap.Error(err),
		)
		return fail(err)
	}
	stage = StageWritten
	d.metrics.recordWritten(m.Event, time.Since(started))

	d.logger.Debug("auditlog: recorded mutation",
		zap.Int64("record_id", rec.ID),
		zap.String("event", string(m.Event)),
		zap.String("model_type", modelName),
		zap.String("model_id", modelID),
		zap.Int("changed", len(changed)),
		zap.String("tx_id", txID),
	)
	stage = StageDone
	return Result{Row: row, Record: rec}, nil
}

// resolveInfo never fails: a miss or a store error yields an unknown actor.
func (d *Dispatcher) resolveInfo(ctx context.Context, txID, table string) Info {
	info, ok, err := d.store.Get(ctx, txID)
	if err != nil {
		d.metrics.recordContextMiss()
		d.logger.Warn("auditlog: context lookup failed, recording unknown actor",
			zap.String("tx_id", txID),
			zap.String("table", table),
			zap.Error(err),
		)
		return Info{}
	}
	if !ok {
		d.metrics.recordContextMiss()
		d.logger.Debug("auditlog: no context for transaction",
			zap.String("tx_id", txID),
			zap.String("table", table),
			zap.NamedError("reason", ErrContextMiss),
		)
		return Info{}
	}
	return info
}

// resolveID returns the pre-mutation identity for updates and deletes and
// the new identity for inserts. Tables without the id column fall back to
// "<singular table>_id".
func (d *Dispatcher) resolveID(m Mutation, base string) (string, error) {
	rows := []Row{m.New}
	switch m.Event {
	case Update:
		rows = []Row{m.Old, m.New}
	case Delete:
		rows = []Row{m.Old}
	}
	keys := []string{d.idColumn, inflection.Singular(base) + "_id"}
	for _, key := range keys {
		for _, r := range rows {
			if v, ok := r[key]; ok && v != nil {
				return formatID(v), nil
			}
		}
	}
	return "", fmt.Errorf("%w: no %q column on %s row of %s", ErrDiff, d.idColumn, m.Event, m.Table)
}

func (d *Dispatcher) applyRedact(c Changes) {
	if len(d.redact) == 0 {
		return
	}
	for k, v := range c {
		fn, ok := d.redact[k]
		if !ok || fn == nil {
			continue
		}
		if p, ok := v.(Pair); ok {
			c[k] = Pair{fn(k, p.Old()), fn(k, p.New())}
			continue
		}
		c[k] = fn(k, v)
	}
}

func resultRow(m Mutation) (Row, error) {
	switch m.Event {
	case Insert:
		if m.New == nil {
			return nil, fmt.Errorf("%w: insert without new row", ErrDiff)
		}
		return m.New, nil
	case Update:
		if m.Old == nil {
			return nil, ErrMissingPreImage
		}
		if m.New == nil {
			return nil, fmt.Errorf("%w: update without new row", ErrDiff)
		}
		return m.New, nil
	case Delete:
		if m.Old == nil {
			return nil, fmt.Errorf("%w: delete without old row", ErrDiff)
		}
		return m.Old, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, string(m.Event))
}

// rowColumns lists every column of the given rows in a stable order.
func rowColumns(rows ...Row) []string {
	seen := map[string]struct{}{}
	var cols []string
	for _, r := range rows {
		for k := range r {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			cols = append(cols, k)
		}
	}
	sort.Strings(cols)
	if cols == nil {
		cols = []string{}
	}
	return cols
}

func recordData(ctx context.Context, info Info) map[string]any {
	data := make(map[string]any, len(info.Data)+2)
	for k, v := range info.Data {
		data[k] = v
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		if _, ok := data["trace_id"]; !ok {
			data["trace_id"] = sc.TraceID().String()
		}
		if _, ok := data["span_id"]; !ok {
			data["span_id"] = sc.SpanID().String()
		}
	}
	return data
}

func formatID(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

func newTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
