// Package migrate applies and authors the settlement schema's goose
// migrations.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/pressly/goose/v3"
)

const DefaultDir = "pkg/migrate/migrations"

// Command is a goose command that needs a database connection.
type Command string

const (
	CommandUp     Command = "up"
	CommandDown   Command = "down"
	CommandRedo   Command = "redo"
	CommandStatus Command = "status"
)

// ParseCommand accepts the database-backed commands exposed by cmd/migrate.
func ParseCommand(raw string) (Command, error) {
	switch c := Command(raw); c {
	case CommandUp, CommandDown, CommandRedo, CommandStatus:
		return c, nil
	default:
		return "", fmt.Errorf("unknown migrate command %q", raw)
	}
}

// writes reports whether the command applies migrations, in which case the
// directory is validated first.
func (c Command) writes() bool {
	return c == CommandUp || c == CommandRedo
}

// Run executes command against the Postgres settlement database.
func Run(ctx context.Context, db *sql.DB, dir string, command Command) error {
	if err := prepare(db, dir); err != nil {
		return err
	}
	if command.writes() {
		if err := ValidateDir(dir); err != nil {
			return fmt.Errorf("refusing to %s: %w", command, err)
		}
	}
	if err := goose.RunContext(ctx, string(command), db, dir); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// MigrateToVersion moves the schema up or down to target, a YYYYMMDDHHMMSS
// migration version.
func MigrateToVersion(ctx context.Context, db *sql.DB, dir string, target string) error {
	if target == "" {
		return fmt.Errorf("target version is required")
	}
	version, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", target, err)
	}
	if err := prepare(db, dir); err != nil {
		return err
	}

	current, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}
	switch {
	case current == version:
		return nil
	case current < version:
		if err := ValidateDir(dir); err != nil {
			return fmt.Errorf("refusing to migrate up: %w", err)
		}
		if err := goose.UpToContext(ctx, db, dir, version); err != nil {
			return fmt.Errorf("goose up-to %d: %w", version, err)
		}
	default:
		if err := goose.DownToContext(ctx, db, dir, version); err != nil {
			return fmt.Errorf("goose down-to %d: %w", version, err)
		}
	}
	return nil
}

func prepare(db *sql.DB, dir string) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}
	if dir == "" {
		return fmt.Errorf("dir is required")
	}
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return nil
}
