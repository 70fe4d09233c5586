// Package migrations holds the embedded schema migrations for the
// monitor database.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// Dialect is the goose dialect the schema is written against.
const Dialect = "sqlite3"

//go:embed *.sql
var FS embed.FS

// Run brings the database up to the latest schema version. It runs on
// every startup; an up-to-date database is a no-op.
func Run(db *sql.DB) error {
	goose.SetBaseFS(FS)
	if err := goose.SetDialect(Dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}
