// Package database provides SQLite connectivity for endpoint registries.
//
// Every IPX800 controller has its own SQLite file in the configured data
// directory (see EndpointPath). This package manages:
//   - Opening a registry file with foreign keys, busy timeout and WAL
//   - Schema migrations read from an fs.FS (normally the embedded
//     migrations package)
//   - A WithTx helper for multi-statement writes
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database files are chmod 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(database.ConfigForEndpoint(cfg.Database, ep))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration Strategy:
//
// Migrations are additive-only:
//   - New columns must be NULLABLE or have DEFAULT values
//   - Never DROP or RENAME columns in an up migration
//   - Each migration file has both .up.sql and .down.sql
package database
