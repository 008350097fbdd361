package auditlog

import (
	"fmt"
	"strings"
	"time"
)

// Event is the kind of mutation captured by an audit record.
type Event string

const (
	Insert Event = "INSERT"
	Update Event = "UPDATE"
	Delete Event = "DELETE"
)

// ParseEvent maps a statement or trigger operation name to an Event.
func ParseEvent(s string) (Event, error) {
	e := Event(strings.ToUpper(strings.TrimSpace(s)))
	if !e.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedEvent, s)
	}
	return e, nil
}

func (e Event) Valid() bool {
	switch e {
	case Insert, Update, Delete:
		return true
	}
	return false
}

func (e Event) String() string {
	return string(e)
}

// DefaultUserType is recorded when no actor classification is known.
const DefaultUserType = "User"

// Row is a column-name keyed image of a single row.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Pair holds the old and new value of a column changed by an update.
type Pair [2]any

func (p Pair) Old() any { return p[0] }
func (p Pair) New() any { return p[1] }

// Changes maps an audited column to its value (insert, delete) or to a Pair (update).
type Changes map[string]any

// Record is a single, append-only audit log entry.
type Record struct {
	ID          int64
	ModelType   string
	ModelID     string
	Event       Event
	Changed     Changes
	UserID      *int64
	Username    *string
	UserType    string
	WorkspaceID *int64
	CreatedAt   time.Time
	Query       *string
	Data        map[string]any
}

// Entity overrides the model name and audited columns for one table.
type Entity struct {
	ModelName string   `json:"model_name,omitempty"`
	Columns   []string `json:"columns,omitempty"`
}

// Info is the metadata registered for a transaction: who acts, in which
// workspace, and which columns are audited.
type Info struct {
	UserID      *int64            `json:"user_id,omitempty"`
	Username    *string           `json:"username,omitempty"`
	UserType    string            `json:"user_type,omitempty"`
	WorkspaceID *int64            `json:"workspace_id,omitempty"`
	ModelName   string            `json:"model_name,omitempty"`
	Columns     []string          `json:"columns,omitempty"`
	Data        map[string]any    `json:"data,omitempty"`
	Entities    map[string]Entity `json:"entities,omitempty"`
}

// Clone returns a copy that shares no slices or maps with i.
func (i Info) Clone() Info {
	out := i
	if i.UserID != nil {
		v := *i.UserID
		out.UserID = &v
	}
	if i.Username != nil {
		v := *i.Username
		out.Username = &v
	}
	if i.WorkspaceID != nil {
		v := *i.WorkspaceID
		out.WorkspaceID = &v
	}
	if i.Columns != nil {
		out.Columns = append([]string(nil), i.Columns...)
	}
	if i.Data != nil {
		out.Data = make(map[string]any, len(i.Data))
		for k, v := range i.Data {
			out.Data[k] = v
		}
	}
	if i.Entities != nil {
		out.Entities = make(map[string]Entity, len(i.Entities))
		for k, e := range i.Entities {
			e.Columns = append([]string(nil), e.Columns...)
			out.Entities[k] = e
		}
	}
	return out
}

// entity resolves the model name and columns for table, preferring a
// per-table override over the transaction-wide values.
func (i Info) entity(table, base string) (string, []string) {
	name, cols := i.ModelName, i.Columns
	e, ok := i.Entities[table]
	if !ok && base != table {
		e, ok = i.Entities[base]
	}
	if ok {
		if e.ModelName != "" {
			name = e.ModelName
		}
		if e.Columns != nil {
			cols = e.Columns
		}
	}
	return name, cols
}
