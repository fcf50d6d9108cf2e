// Package database provides the SQLite file backing the bridge's persisted
// settings (broker connection, auto-sync flag, gateway token).
//
// Device state is never persisted: the registry is rebuilt from retained
// discovery messages on every start.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive-only and each ships as an .up.sql/.down.sql pair.
package database
