// Package storage implements the persistent client state store, backed by
// GORM over SQLite (pure Go driver). It is a typed wrapper around a single
// key/value table holding the auth token, phone number, profile snapshot,
// cart lines, and app settings.
//
// Reads fail soft: an unavailable database or corrupt stored JSON is logged
// and reported as absence, never as an error the caller must handle. Writes
// return errors, but callers treat persistence as best-effort durability,
// not as a transactional requirement.
package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/tbourn/go-shop-client/internal/domain"
)

// Well-known storage keys. Kept as constants so typed accessors and tests
// agree on the exact spelling.
const (
	KeyToken     = "token"
	KeyPhone     = "userPhone"
	KeyAuthData  = "authData"
	KeyCart      = "cart"
	KeyFavorites = "favorites"
	KeySettings  = "appSettings"
)

// Record is one row of the client_state table.
type Record struct {
	Key       string    `gorm:"type:varchar(64);primaryKey"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Record.
func (Record) TableName() string { return "client_state" }

// Store is the typed persistent key/value store.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open opens (or creates) the SQLite state database, applies PRAGMAs,
// registers OTel tracing for queries, and migrates the schema.
func Open(path string) (*Store, error) {
	// Fail early if parent directory does not exist (instead of sqlite
	// "out of memory (14)" on Windows).
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	// PRAGMAs
	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA synchronous=NORMAL;")
	db.Exec("PRAGMA busy_timeout=5000;")

	// Pool: a client state store sees one writer at a time.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(4)
		sqlDB.SetMaxIdleConns(4)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}

	return &Store{
		db:  db,
		log: log.With().Str("component", "storage").Logger(),
	}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Available reports whether the store can serve reads and writes. It is a
// cheap liveness probe, not a guarantee that the next write succeeds.
func (s *Store) Available() bool {
	if s == nil || s.db == nil {
		return false
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return false
	}
	return sqlDB.Ping() == nil
}

// GetString returns the raw string value under key, or "" when absent or on
// any read failure.
func (s *Store) GetString(key string) string {
	var rec Record
	err := s.db.Where("key = ?", key).First(&rec).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warn().Err(err).Str("key", key).Msg("state read failed")
		}
		return ""
	}
	return rec.Value
}

// SetString stores a raw string value under key, overwriting any prior value.
func (s *Store) SetString(key, value string) error {
	rec := Record{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return s.db.Save(&rec).Error
}

// Delete removes the value under key. Deleting an absent key is a no-op.
func (s *Store) Delete(key string) error {
	return s.db.Where("key = ?", key).Delete(&Record{}).Error
}

// GetJSON decodes the stored JSON under key into out. It returns false when
// the key is absent or the stored payload is corrupt; corrupt payloads are
// logged and dropped so the next write starts clean.
func (s *Store) GetJSON(key string, out any) bool {
	raw := s.GetString(key)
	if raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("corrupt state payload, discarding")
		_ = s.Delete(key)
		return false
	}
	return true
}

// SetJSON serializes v and stores it under key.
func (s *Store) SetJSON(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.SetString(key, string(raw))
}

// --- typed accessors ---

// Token returns the persisted bearer token, or "".
func (s *Store) Token() string { return s.GetString(KeyToken) }

// SetToken persists the bearer token.
func (s *Store) SetToken(token string) error { return s.SetString(KeyToken, token) }

// Phone returns the persisted login phone number, or "".
func (s *Store) Phone() string { return s.GetString(KeyPhone) }

// SetPhone persists the login phone number.
func (s *Store) SetPhone(phone string) error { return s.SetString(KeyPhone, phone) }

// AuthSnapshot returns the persisted session snapshot and whether one exists.
func (s *Store) AuthSnapshot() (domain.Session, bool) {
	var sess domain.Session
	ok := s.GetJSON(KeyAuthData, &sess)
	return sess, ok
}

// SetAuthSnapshot persists the session snapshot.
func (s *Store) SetAuthSnapshot(sess domain.Session) error {
	return s.SetJSON(KeyAuthData, sess)
}

// CartLines returns the persisted cart, or an empty slice.
func (s *Store) CartLines() []domain.CartLineItem {
	var lines []domain.CartLineItem
	if !s.GetJSON(KeyCart, &lines) {
		return nil
	}
	return lines
}

// SetCartLines persists the full cart line list.
func (s *Store) SetCartLines(lines []domain.CartLineItem) error {
	return s.SetJSON(KeyCart, lines)
}

// ClearSession removes all session-scoped keys (token, phone, snapshot).
// The cart deliberately survives: it is device state, not session state.
func (s *Store) ClearSession() {
	for _, k := range []string{KeyToken, KeyPhone, KeyAuthData, KeyFavorites} {
		if err := s.Delete(k); err != nil {
			s.log.Warn().Err(err).Str("key", k).Msg("session key delete failed")
		}
	}
}
