package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/mysql/*.sql migrations/sqlite3/*.sql
var migrations embed.FS

// Migrate applies every pending migration for the given driver name
// ("mysql" or "sqlite3").
func Migrate(ctx context.Context, db *sql.DB, driver string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	var dir string
	switch driver {
	case "mysql":
		dir = "migrations/mysql"
	case "sqlite3":
		dir = "migrations/sqlite3"
	default:
		return fmt.Errorf("unsupported migration dialect %q", driver)
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(driver); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}
