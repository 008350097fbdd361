package auditlog

import (
	"context"
)

// infoKey is an unexported context key type.
type infoKey struct{}
type preImageKey struct{}

// WithInfo attaches the full transaction metadata to the context, replacing
// anything set before. DB.BeginTx registers it for the new transaction.
func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, infoKey{}, info.Clone())
}

// WithUser attaches the acting user.
func WithUser(ctx context.Context, id int64, username string) context.Context {
	m := extractInfo(ctx)
	m.UserID = &id
	if username != "" {
		m.Username = &username
	}
	return context.WithValue(ctx, infoKey{}, m)
}

// WithUserType classifies the actor, e.g. "Admin" or "System".
func WithUserType(ctx context.Context, v string) context.Context {
	m := extractInfo(ctx)
	m.UserType = v
	return context.WithValue(ctx, infoKey{}, m)
}

// WithWorkspace scopes the transaction to a workspace (tenant).
func WithWorkspace(ctx context.Context, id int64) context.Context {
	m := extractInfo(ctx)
	m.WorkspaceID = &id
	return context.WithValue(ctx, infoKey{}, m)
}

// WithModelName overrides the model type recorded for mutated rows.
func WithModelName(ctx context.Context, v string) context.Context {
	m := extractInfo(ctx)
	m.ModelName = v
	return context.WithValue(ctx, infoKey{}, m)
}

// WithColumns declares the audited columns.
func WithColumns(ctx context.Context, cols ...string) context.Context {
	m := extractInfo(ctx)
	m.Columns = append([]string(nil), cols...)
	return context.WithValue(ctx, infoKey{}, m)
}

// WithEntity declares model name and audited columns for a single table.
func WithEntity(ctx context.Context, table string, e Entity) context.Context {
	m := extractInfo(ctx)
	if m.Entities == nil {
		m.Entities = map[string]Entity{}
	}
	e.Columns = append([]string(nil), e.Columns...)
	m.Entities[table] = e
	return context.WithValue(ctx, infoKey{}, m)
}

// WithData adds a key to the free-form data stored with every record.
func WithData(ctx context.Context, key string, v any) context.Context {
	m := extractInfo(ctx)
	if m.Data == nil {
		m.Data = map[string]any{}
	}
	m.Data[key] = v
	return context.WithValue(ctx, infoKey{}, m)
}

// InfoFrom returns the metadata attached to ctx, if any.
func InfoFrom(ctx context.Context) (Info, bool) {
	m, ok := ctx.Value(infoKey{}).(Info)
	if !ok {
		return Info{}, false
	}
	return m.Clone(), true
}

// WithPreImages supplies the rows as they were before an UPDATE executed
// through Tx.ExecContext. Rows are matched to updated rows by id.
func WithPreImages(ctx context.Context, rows ...Row) context.Context {
	prev := extractPreImages(ctx)
	out := make([]Row, 0, len(prev)+len(rows))
	out = append(out, prev...)
	for _, r := range rows {
		out = append(out, r.Clone())
	}
	return context.WithValue(ctx, preImageKey{}, out)
}

// extractInfo returns a private copy of the metadata in ctx.
func extractInfo(ctx context.Context) Info {
	if v := ctx.Value(infoKey{}); v != nil {
		if m, ok := v.(Info); ok {
			return m.Clone()
		}
	}
	return Info{}
}

func extractPreImages(ctx context.Context) []Row {
	if v, ok := ctx.Value(preImageKey{}).([]Row); ok {
		return v
	}
	return nil
}
