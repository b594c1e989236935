package db

import (
	"errors"

	"gorm.io/gorm"
)

// SyncSchema creates/updates tables and indexes from models. Table structure
// changes do not use versioned migrations.
func SyncSchema(gdb *gorm.DB) error {
	if gdb == nil {
		return errors.New("db is required")
	}
	if err := gdb.AutoMigrate(
		&ChatState{},
		&WatchedSession{},
		&Setting{},
	); err != nil {
		return err
	}
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_chat_state_session_id ON chat_state(session_id);`,
		`CREATE INDEX IF NOT EXISTS idx_watched_sessions_chat_id ON watched_sessions(chat_id);`,
	} {
		if err := gdb.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
