// Package database provides SQLite database connectivity for OTA Core.
//
// This package manages:
//   - Database connection with WAL mode for concurrent readers
//   - Immediate-mode transactions so every check-then-act unit holds the write lock
//   - Schema migrations embedded in the binary
//   - Lock contention detection (ErrBusy) for conflict reporting
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	err = database.WithTx(ctx, db, func(tx *sql.Tx) error {
//	    // all reads and writes of one operation go through tx
//	    return nil
//	})
//
// Migrations are additive: new columns must be NULLABLE or carry a DEFAULT,
// and every .up.sql has a matching .down.sql.
package database
