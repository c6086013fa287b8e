package retention

import (
	"context"
	"sync"
	"time"

	"github.com/gocql/gocql"

	"github.com/mahaj/dhuan/pkg/chaterr"
	"github.com/mahaj/dhuan/pkg/db"
	"github.com/mahaj/dhuan/pkg/logger"
)

const settingsKey = "default_retention_hours"

// ScyllaSettings stores the global default retention as a single row in the
// settings table.
type ScyllaSettings struct {
	db *db.Session
}

func NewScyllaSettings(session *db.Session) *ScyllaSettings {
	return &ScyllaSettings{db: session}
}

func (s *ScyllaSettings) DefaultRetentionHours(ctx context.Context) (int, error) {
	var hours int
	err := s.db.Query(`SELECT value FROM settings WHERE key = ?`, settingsKey).
		WithContext(ctx).Scan(&hours)
	if err == gocql.ErrNotFound {
		return 0, chaterr.NotFoundf("setting %s", settingsKey)
	}
	if err != nil {
		return 0, chaterr.Transient(err, "settings read")
	}
	return hours, nil
}

func (s *ScyllaSettings) SetDefaultRetentionHours(ctx context.Context, hours int, actorID string) error {
	if hours <= 0 {
		return chaterr.Validationf("retention hours must be positive, got %d", hours)
	}
	err := s.db.Query(
		`INSERT INTO settings (key, value, updated_by, updated_at) VALUES (?, ?, ?, ?)`,
		settingsKey, hours, actorID, time.Now(),
	).WithContext(ctx).Exec()
	if err != nil {
		return chaterr.Transient(err, "settings write")
	}
	logger.Info("retention_default_changed", "hours", hours, "actor", actorID)
	return nil
}

// MemorySettings is the in-memory Settings used by tests. A zero value
// behaves like a missing setting row.
type MemorySettings struct {
	mu    sync.RWMutex
	hours int
}

func NewMemorySettings(hours int) *MemorySettings {
	return &MemorySettings{hours: hours}
}

func (s *MemorySettings) DefaultRetentionHours(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.hours <= 0 {
		return 0, chaterr.NotFoundf("setting %s", settingsKey)
	}
	return s.hours, nil
}

func (s *MemorySettings) SetDefaultRetentionHours(ctx context.Context, hours int, actorID string) error {
	if hours <= 0 {
		return chaterr.Validationf("retention hours must be positive, got %d", hours)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hours = hours
	return nil
}
