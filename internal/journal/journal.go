package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	// ARCHITECTURAL DISCOVERY: Import SQLite driver but only reference in connection string
	_ "github.com/mattn/go-sqlite3"

	"github.com/HoangQuocKhanh0504/khanhpclass/pkg/types"
)

const (
	DefaultQueueSize = 1024
	DefaultRetention = time.Hour
	DefaultLimit     = 100
	MaxLimit         = 1000
)

// ErrClosed is returned by operations on a closed journal
var ErrClosed = errors.New("journal is closed")

// Config holds journal settings
type Config struct {
	QueueSize     int
	Retention     time.Duration
	PruneInterval time.Duration // defaults to Retention/4
}

// Journal keeps recent room lifecycle events in an in-memory SQLite database.
// Nothing outlives the process.
// ARCHITECTURAL DISCOVERY: Single-writer goroutine; Record never blocks the
// caller, which is usually holding a room lock
type Journal struct {
	db        *sql.DB
	cfg       Config
	writeCh   chan writeOperation
	shutdown  chan struct{}
	wg        sync.WaitGroup
	closed    bool
	mu        sync.RWMutex // TECHNICAL: Protect closed status
	dropped   atomic.Int64
	now       func() time.Time
}

// writeOperation is either an event to insert or a flush marker
type writeOperation struct {
	event *types.ActivityEvent
	done  chan struct{}
}

// Open creates the database, applies migrations and starts the writer
func Open(cfg Config) (*Journal, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = cfg.Retention / 4
	}

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	// TECHNICAL DISCOVERY: every new connection to :memory: is a new empty
	// database, so the pool is pinned to one connection that never expires
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	m := newMigrator(db)
	if err := m.apply(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := m.validate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	j := &Journal{
		db:       db,
		cfg:      cfg,
		writeCh:  make(chan writeOperation, cfg.QueueSize),
		shutdown: make(chan struct{}),
		now:      time.Now,
	}
	j.wg.Add(1)
	go j.writeLoop()
	return j, nil
}

// Record queues event for insertion. A full queue drops the event.
func (j *Journal) Record(event types.ActivityEvent) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = j.now()
	}

	select {
	case j.writeCh <- writeOperation{event: &event}:
	default:
		if n := j.dropped.Add(1); n == 1 || n%100 == 0 {
			slog.Warn("journal queue full, dropping events", "dropped", n)
		}
	}
}

// Dropped returns how many events were discarded because the queue was full
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

// Flush waits until every event queued before the call has been written
func (j *Journal) Flush(ctx context.Context) error {
	j.mu.RLock()
	if j.closed {
		j.mu.RUnlock()
		return ErrClosed
	}
	done := make(chan struct{})
	select {
	case j.writeCh <- writeOperation{done: done}:
		j.mu.RUnlock()
	case <-ctx.Done():
		j.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writeLoop processes all writes in a single goroutine
func (j *Journal) writeLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case op := <-j.writeCh:
			j.write(op)

		case <-ticker.C:
			if n, err := j.prune(context.Background()); err != nil {
				slog.Error("journal prune failed", "error", err)
			} else if n > 0 {
				slog.Debug("journal pruned", "events", n)
			}

		case <-j.shutdown:
			// Drain what was queued before Close
			for {
				select {
				case op := <-j.writeCh:
					j.write(op)
				default:
					return
				}
			}
		}
	}
}

func (j *Journal) write(op writeOperation) {
	if op.done != nil {
		close(op.done)
		return
	}
	e := op.event
	_, err := j.db.Exec(
		"INSERT INTO activity (room, kind, connection_id, detail, occurred_at) VALUES (?, ?, ?, ?, ?)",
		e.Room, e.Kind, e.ConnectionID, e.Detail, e.OccurredAt.UTC(),
	)
	if err != nil {
		slog.Error("journal write failed", "room", e.Room, "kind", e.Kind, "error", err)
	}
}

// prune deletes events older than the retention window
func (j *Journal) prune(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.cfg.Retention).UTC()
	res, err := j.db.ExecContext(ctx, "DELETE FROM activity WHERE occurred_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune activity: %w", err)
	}
	return res.RowsAffected()
}

// RoomActivity returns up to limit of the most recent events for room, oldest
// first. A non-positive limit uses DefaultLimit; it is capped at MaxLimit.
func (j *Journal) RoomActivity(ctx context.Context, room string, limit int) ([]types.ActivityEvent, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT id, room, kind, connection_id, detail, occurred_at FROM (
			SELECT id, room, kind, connection_id, detail, occurred_at
			FROM activity
			WHERE room = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC`, room, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query room activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := make([]types.ActivityEvent, 0)
	for rows.Next() {
		var e types.ActivityEvent
		if err := rows.Scan(&e.ID, &e.Room, &e.Kind, &e.ConnectionID, &e.Detail, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity row: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity rows: %w", err)
	}
	return events, nil
}

// HealthCheck validates database connectivity
func (j *Journal) HealthCheck(ctx context.Context) error {
	j.mu.RLock()
	closed := j.closed
	j.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	if err := j.db.PingContext(ctx); err != nil {
		return fmt.Errorf("journal ping failed: %w", err)
	}
	var count int
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM activity").Scan(&count); err != nil {
		return fmt.Errorf("journal read test failed: %w", err)
	}
	return nil
}

// Close stops the writer after draining the queue and closes the database
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	j.mu.Unlock()

	close(j.shutdown)
	j.wg.Wait()

	if err := j.db.Close(); err != nil {
		return fmt.Errorf("failed to close journal database: %w", err)
	}
	return nil
}
