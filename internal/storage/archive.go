// Package storage persists observed network exchanges to sqlite so
// traffic survives session restarts. The in-memory capture buffer
// remains the source for body retrieval; the archive is a durable
// summary log.
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"webpen/pkg/domain"
)

// ExchangeRecord is one archived request/response summary row.
type ExchangeRecord struct {
	ID              uint   `gorm:"primaryKey"`
	SessionID       string `gorm:"index"`
	RequestID       string `gorm:"index"`
	URL             string `gorm:"index"`
	Method          string
	ResourceType    string
	Status          int
	Outcome         string
	MatchedRule     string
	RequestHeaders  string
	ResponseHeaders string
	Timestamp       int64
	CreatedAt       time.Time
}

// Archive is a sqlite-backed exchange log.
type Archive struct {
	db *gorm.DB
}

// Open opens (or creates) the archive database at dsn and migrates the
// schema.
func Open(dsn string, log zerolog.Logger) (*Archive, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: NewGormLogger(log),
	})
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", dsn, err)
	}
	if err := db.AutoMigrate(&ExchangeRecord{}); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	return &Archive{db: db}, nil
}

// Save appends exchange summaries for one session.
func (a *Archive) Save(sessionID domain.SessionID, entries []domain.NetworkLogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	records := make([]ExchangeRecord, 0, len(entries))
	for _, e := range entries {
		records = append(records, ExchangeRecord{
			SessionID:       string(sessionID),
			RequestID:       string(e.RequestID),
			URL:             e.URL,
			Method:          e.Method,
			ResourceType:    e.ResourceType,
			Status:          e.Status,
			Outcome:         string(e.Outcome),
			MatchedRule:     e.MatchedRule,
			RequestHeaders:  encodeHeaders(e.RequestHeaders),
			ResponseHeaders: encodeHeaders(e.ResponseHeaders),
			Timestamp:       e.Timestamp,
		})
	}
	if err := a.db.Create(&records).Error; err != nil {
		return fmt.Errorf("archive exchanges: %w", err)
	}
	return nil
}

// Recent returns the newest records, optionally filtered by a URL
// substring, newest first.
func (a *Archive) Recent(limit int, filterURL string) ([]ExchangeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := a.db.Order("id desc").Limit(limit)
	if filterURL != "" {
		q = q.Where("url LIKE ?", "%"+filterURL+"%")
	}
	var out []ExchangeRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	return out, nil
}

// PurgeSession removes all archived rows for one session.
func (a *Archive) PurgeSession(sessionID domain.SessionID) error {
	return a.db.Where("session_id = ?", string(sessionID)).Delete(&ExchangeRecord{}).Error
}

func (a *Archive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func encodeHeaders(h map[string]string) string {
	if len(h) == 0 {
		return ""
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return ""
	}
	return string(raw)
}
