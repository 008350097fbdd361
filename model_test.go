package auditlog_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mickamy/auditlog"
)

type Account struct {
	ID      int64  `db:"id"`
	Name    string `db:"name" audit:""`
	Balance int64  `audit:"balance"`
	Secret  string `db:"secret" audit:"-"`
	OwnerID int64  `audit:""`
}

type LedgerEntry struct {
	Amount int64 `audit:"amount"`
}

func (LedgerEntry) TableName() string { return "billing.ledger" }

func (*LedgerEntry) AuditModelName() string { return "Ledger::Entry" }

type blankTable struct{}

func (blankTable) TableName() string { return " " }

func TestEntityOf(t *testing.T) {
	t.Parallel()

	tcs := []struct {
		name      string
		target    any
		wantTable string
		want      auditlog.Entity
	}{
		{
			name:      "derived names",
			target:    Account{},
			wantTable: "accounts",
			want:      auditlog.Entity{ModelName: "Account", Columns: []string{"name", "balance", "owner_id"}},
		},
		{
			name:      "pointer target",
			target:    &Account{},
			wantTable: "accounts",
			want:      auditlog.Entity{ModelName: "Account", Columns: []string{"name", "balance", "owner_id"}},
		},
		{
			name:      "custom names",
			target:    LedgerEntry{},
			wantTable: "billing.ledger",
			want:      auditlog.Entity{ModelName: "Ledger::Entry", Columns: []string{"amount"}},
		},
	}

	for _, tc := range tcs {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			table, e, err := auditlog.EntityOf(tc.target)
			require.NoError(t, err)
			assert.Equal(t, tc.wantTable, table)
			assert.Equal(t, tc.want, e)
		})
	}
}

func TestEntityOf_Errors(t *testing.T) {
	t.Parallel()

	tcs := []struct {
		name   string
		target any
	}{
		{name: "nil", target: nil},
		{name: "not a struct", target: 42},
		{name: "anonymous struct", target: struct{ A int }{}},
		{name: "empty table name", target: blankTable{}},
	}

	for _, tc := range tcs {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := auditlog.EntityOf(tc.target)
			assert.Error(t, err)
		})
	}
}

func TestWithModel(t *testing.T) {
	t.Parallel()

	ctx, err := auditlog.WithModel(context.Background(), Account{})
	require.NoError(t, err)

	info, ok := auditlog.InfoFrom(ctx)
	require.True(t, ok)
	assert.Equal(t, auditlog.Entity{ModelName: "Account", Columns: []string{"name", "balance", "owner_id"}}, info.Entities["accounts"])
}
