// Package store persists a per-session audit trail via gorm.io/gorm over
// SQLite. This puts the teacher's previously-unwired gorm dependency to
// use as the session lifecycle observability sink described in
// SPEC_FULL.md §4.4.
package store

import (
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Record summarizes one finished session for the audit log.
type Record struct {
	ID               string `gorm:"primaryKey"`
	ClientAddr       string
	Host             string
	Path             string
	StartedAt        time.Time
	FinishedAt       time.Time
	TargetsAttempted int
	GripActive       bool
	Detached         bool
	TerminalReason   string
}

// AuditStore is the interface the session core writes lifecycle records
// through, so session/ never imports gorm directly.
type AuditStore interface {
	Record(r Record) error
}

// GormAuditStore implements AuditStore over a gorm.io/gorm SQLite
// database.
type GormAuditStore struct {
	db *gorm.DB
}

// OpenGormAuditStore opens (creating if necessary) a SQLite-backed audit
// database at path and migrates the Record schema.
func OpenGormAuditStore(path string) (*GormAuditStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}
	return &GormAuditStore{db: db}, nil
}

func (s *GormAuditStore) Record(r Record) error {
	return s.db.Create(&r).Error
}

// NoopAuditStore discards every record; used when no audit database is
// configured.
type NoopAuditStore struct{}

func (NoopAuditStore) Record(Record) error { return nil }

var (
	_ AuditStore = (*GormAuditStore)(nil)
	_ AuditStore = NoopAuditStore{}
)
