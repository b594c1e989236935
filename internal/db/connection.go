package db

import (
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

// OpenSQLite opens (creating if needed) the bridge database and syncs the
// schema. SQLite tolerates a single writer, so the pool is pinned to one
// connection.
func OpenSQLite(path string) (*gorm.DB, error) {
	gdb, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := SyncSchema(gdb); err != nil {
		if sqlDB, dbErr := gdb.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	return gdb, nil
}

func openSQLite(path string) (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	gdb, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        path,
	}, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := gdb.Exec(`PRAGMA journal_mode=WAL;`).Error; err != nil {
		return nil, err
	}
	if err := gdb.Exec(`PRAGMA busy_timeout=5000;`).Error; err != nil {
		return nil, err
	}
	return gdb, nil
}

// Close releases the underlying connection pool.
func Close(gdb *gorm.DB) error {
	if gdb == nil {
		return nil
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
