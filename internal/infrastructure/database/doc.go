// Package database provides the SQLite connection behind the cycle history.
//
// This package manages:
//   - Opening the database file (or ":memory:") with WAL mode and a busy timeout
//   - Applying forward-only schema migrations from an fs.FS
//
// Usage:
//
//	db, err := database.Open(database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
//	    return err
//	}
package database
