package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mickamy/auditlog"
)

const accountsDDL = `
CREATE TABLE IF NOT EXISTS accounts (
	id BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	balance BIGINT NOT NULL DEFAULT 0
);`

func main() {
	_ = godotenv.Load(".env")

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	dsn := getenv("DATABASE_URL", "file:auditlog-demo.db")
	driver, dialect := "sqlite", auditlog.SQLite
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		driver, dialect = "pgx", auditlog.Postgres
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		logger.Fatal("open", zap.Error(err))
	}
	defer func(db *sql.DB) {
		_ = db.Close()
	}(db)
	if dialect == auditlog.SQLite {
		db.SetMaxOpenConns(1)
	}

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, accountsDDL); err != nil {
		logger.Fatal("create accounts", zap.Error(err))
	}
	if err := auditlog.Migrate(ctx, db, auditlog.SchemaConfig{Dialect: dialect}); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	h := auditlog.New(auditlog.Config{
		Dialect: dialect,
		Logger:  logger,
		Metrics: auditlog.NewMetrics(reg),
	})
	wdb := h.WrapDB(db)

	ph := func(n int) string {
		if dialect == auditlog.Postgres {
			return fmt.Sprintf("$%d", n)
		}
		return "?"
	}

	// Metadata
	ctx = auditlog.WithUser(ctx, 3, "ada")
	ctx = auditlog.WithWorkspace(ctx, 5)
	ctx = auditlog.WithColumns(ctx, "name", "balance")
	ctx = auditlog.WithData(ctx, "reason", "demo run")

	tx, err := wdb.BeginTx(ctx, nil)
	if err != nil {
		logger.Fatal("begin", zap.Error(err))
	}

	id := int64(7)
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO accounts (id, name, balance) VALUES (%s, %s, %s)`, ph(1), ph(2), ph(3)),
		id, "Ada", 0); err != nil {
		_ = tx.Rollback()
		logger.Fatal("insert", zap.Error(err))
	}

	before, err := tx.LoadRow(ctx, "accounts", id)
	if err != nil {
		_ = tx.Rollback()
		logger.Fatal("load", zap.Error(err))
	}
	if _, err := tx.ExecContext(auditlog.WithPreImages(ctx, before),
		fmt.Sprintf(`UPDATE accounts SET balance = %s WHERE id = %s`, ph(1), ph(2)),
		100, id); err != nil {
		_ = tx.Rollback()
		logger.Fatal("update", zap.Error(err))
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM accounts WHERE id = %s`, ph(1)), id); err != nil {
		_ = tx.Rollback()
		logger.Fatal("delete", zap.Error(err))
	}

	if err := tx.Commit(); err != nil {
		logger.Fatal("commit", zap.Error(err))
	}

	// Show results
	store := auditlog.NewSQLStore(auditlog.SQLStoreConfig{Dialect: dialect})
	recs, err := store.List(context.Background(), db, auditlog.Filter{ModelType: "accounts", ModelID: fmt.Sprint(id)})
	if err != nil {
		logger.Fatal("list", zap.Error(err))
	}
	for _, r := range recs {
		fmt.Printf("%d %s %s/%s changed=%v\n", r.ID, r.Event, r.ModelType, r.ModelID, r.Changed)
	}
	fmt.Printf("audit rows = %d (expected >= 3)\n", len(recs))
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
