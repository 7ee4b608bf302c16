package db

import "gorm.io/gorm"

// ForUpdate returns the row-locking suffix for the connected dialect.
// SQLite serializes writers at the database level, so the clause is empty
// there and the same queries run unchanged in tests.
func ForUpdate(db *gorm.DB) string {
	if db == nil || db.Dialector == nil {
		return ""
	}
	switch db.Dialector.Name() {
	case "sqlite":
		return ""
	default:
		return " FOR UPDATE"
	}
}

// ForUpdateSkipLocked is ForUpdate plus SKIP LOCKED where the dialect
// supports it, used by scheduler work claims.
func ForUpdateSkipLocked(db *gorm.DB) string {
	if db == nil || db.Dialector == nil {
		return ""
	}
	switch db.Dialector.Name() {
	case "sqlite":
		return ""
	default:
		return " FOR UPDATE SKIP LOCKED"
	}
}
