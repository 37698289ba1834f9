package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/relaycore/relaycore/internal/database"
)

// Event is one observability row: a router attempt, a circuit transition,
// or an exhaustion outcome. It carries enough to reconstruct "what happened
// to which candidate, when" without ever being consulted by admit.
type Event struct {
	ID         uint      `gorm:"primaryKey"`
	OccurredAt time.Time `gorm:"index"`
	Family     string    `gorm:"index"`
	Candidate  string    `gorm:"index"`
	Attempt    int
	Outcome    string // success | failure | circuit_opened | circuit_closed | all_exhausted
	Kind       string // types.ErrorKind, empty on success
	Reason     string
}

// TableName pins the GORM table name independent of the struct's name.
func (Event) TableName() string { return "relaycore_audit_events" }

// Sink appends observability events. Implementations must never block the
// caller for long or propagate failures; Append has no return value for
// this reason — a sink that cannot write logs the failure and drops it.
type Sink interface {
	Append(ctx context.Context, ev Event)
}

// NopSink is the default sink when auditing is disabled: Append is a no-op.
type NopSink struct{}

// Append discards ev.
func (NopSink) Append(context.Context, Event) {}

// GormSink persists events through a pooled *gorm.DB connection.
type GormSink struct {
	pool   *database.PoolManager
	logger *zap.Logger
}

// NewGormSink wraps an already-open pool, migrating the Event table. The
// pool's underlying driver (sqlite, postgres, or mysql) is the caller's
// choice; GormSink itself is driver-agnostic.
func NewGormSink(pool *database.PoolManager, logger *zap.Logger) (*GormSink, error) {
	if pool == nil {
		return nil, fmt.Errorf("audit: pool is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.DB().AutoMigrate(&Event{}); err != nil {
		return nil, fmt.Errorf("audit: automigrate: %w", err)
	}
	return &GormSink{pool: pool, logger: logger.With(zap.String("component", "audit"))}, nil
}

// NewSQLiteSink opens (or creates) a SQLite database at dsn and returns a
// ready-to-use GormSink, matching the teacher's DatabaseConfig.DSN/
// PoolManager wiring convention.
func NewSQLiteSink(dsn string, logger *zap.Logger) (*GormSink, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("audit: open sqlite: %w", err)
	}
	pool, err := database.NewPoolManager(db, database.DefaultPoolConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("audit: pool manager: %w", err)
	}
	return NewGormSink(pool, logger)
}

// Append inserts ev, stamping OccurredAt if unset. Write failures are
// logged, never returned: the router call that triggered this event has
// already completed by the time Append runs.
func (s *GormSink) Append(ctx context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	if err := s.pool.DB().WithContext(ctx).Create(&ev).Error; err != nil {
		s.logger.Warn("audit_append_failed",
			zap.Error(err),
			zap.String("candidate", ev.Candidate),
			zap.String("outcome", ev.Outcome),
		)
	}
}

// Close releases the sink's underlying connection pool.
func (s *GormSink) Close() error {
	return s.pool.Close()
}
