package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
)

// MigrationsFS holds the goose-formatted SQL files. It is set by the
// migrations package from its embedded filesystem.
//
//	import _ "github.com/nerrad567/gatekeeper/migrations"
var MigrationsFS fs.FS

// MigrationsDir is the directory within MigrationsFS containing migration files.
var MigrationsDir = "."

// ErrNoMigrations is returned when MigrationsFS has not been registered.
var ErrNoMigrations = errors.New("no migrations registered")

// goose keeps its base filesystem and dialect in package state.
var gooseMu sync.Mutex

func (db *DB) withGoose(fn func() error) error {
	if MigrationsFS == nil {
		return ErrNoMigrations
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(MigrationsFS)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	return fn()
}

// Migrate applies all pending migrations in version order.
// Each migration runs in its own transaction; a failure leaves earlier
// migrations committed and stops.
func (db *DB) Migrate(ctx context.Context) error {
	err := db.withGoose(func() error {
		return goose.UpContext(ctx, db.DB, MigrationsDir)
	})
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Reset rolls back every applied migration. Call Migrate afterwards to
// recreate an empty schema. All data is lost.
func (db *DB) Reset(ctx context.Context) error {
	err := db.withGoose(func() error {
		return goose.DownToContext(ctx, db.DB, MigrationsDir, 0)
	})
	if err != nil {
		return fmt.Errorf("resetting schema: %w", err)
	}
	return nil
}

// Version returns the highest applied migration version, or 0 for a
// fresh database.
func (db *DB) Version(ctx context.Context) (int64, error) {
	var version int64
	err := db.withGoose(func() error {
		v, err := goose.GetDBVersionContext(ctx, db.DB)
		version = v
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}
