// Package database opens the engine's SQLite file (WAL, busy timeout) and
// applies the additive migrations embedded by the migrations package.
//
// Only the device catalog and interpreter sessions live here; script
// executions are never persisted.
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	err = db.Migrate(ctx)
package database
