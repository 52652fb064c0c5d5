package models

import (
	"time"

	"gorm.io/datatypes"
)

type SyncState struct {
	Entity        string         `gorm:"primaryKey;type:text;comment:synced collection"`
	TenantID      string         `gorm:"primaryKey;type:text;comment:tenant"`
	Cursor        datatypes.JSON `gorm:"type:jsonb;comment:resume cursor"`
	LastSyncedAt  *time.Time     `gorm:"type:timestamptz;comment:last completed pass"`
	LastAttemptAt *time.Time     `gorm:"type:timestamptz;comment:last attempt"`
	LastError     *string        `gorm:"type:text;comment:last error"`
	StatsJSON     datatypes.JSON `gorm:"type:jsonb;comment:last pass stats"`
	UpdatedAt     time.Time      `gorm:"type:timestamptz;not null;comment:last write"`
}

func (SyncState) TableName() string {
	return "sync_state"
}

// HasCursor reports whether a previous pass left a resumable cursor behind.
// Rows written only to record an error carry no cursor.
func (s *SyncState) HasCursor() bool {
	if s == nil {
		return false
	}
	c := string(s.Cursor)
	return c != "" && c != "null" && c != "{}"
}
