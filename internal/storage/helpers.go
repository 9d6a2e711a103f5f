package storage

import (
	"database/sql"
	"time"
)

// NullTime converts an optional time for a nullable TIMESTAMP column
func NullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
