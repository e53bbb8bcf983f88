// Package database provides SQLite connectivity and schema migrations for
// the Gatekeeper account store.
//
// The schema is managed by goose. SQL files live in the top-level
// migrations package, which registers its embedded filesystem here:
//
//	import _ "github.com/nerrad567/gatekeeper/migrations"
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// The database file is created with 0600 permissions because it holds
// password hashes and live session tokens.
package database
