// Package database provides the SQLite connection adbmux keeps its device
// history in.
//
// It manages:
//   - The connection pool, with WAL mode so readers do not wait on writes
//   - Schema migrations read from an fs.FS (see the migrations package)
//   - Health checks and transaction helpers
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.History.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or have defaults,
// and each .up.sql file has a matching .down.sql.
package database
