package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	dbconfig "codesync/pkg/database"
	"codesync/pkg/interfaces"
	"codesync/pkg/types"
)

const maxActivityLimit = 500

// Manager is the SQLite activity journal. Reads go straight to the pool;
// every write goes through one writer goroutine so SQLite never sees
// competing writers. Record calls enqueue without blocking.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	log          *slog.Logger
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	name      string
	operation func(*sql.DB) error
	// result is set for barrier operations only.
	result chan error
}

// NewManager opens the journal database, applies pending migrations and
// starts the writer.
func NewManager(config *dbconfig.Config, log *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}

	if dir := filepath.Dir(config.DatabasePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := dbconfig.ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal schema check failed: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		log:          log,
		writeChannel: make(chan writeOperation, config.QueueSize),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			m.run(op)

		case <-m.shutdown:
			// Drain what was accepted before Close.
			for {
				select {
				case op := <-m.writeChannel:
					m.run(op)
				default:
					m.log.Debug("Journal write loop shutting down")
					return
				}
			}
		}
	}
}

func (m *Manager) run(op writeOperation) {
	var err error
	if op.operation != nil {
		err = op.operation(m.db)
		if err != nil {
			m.log.Warn("Journal write failed", "op", op.name, "err", err)
		}
	}
	if op.result != nil {
		op.result <- err
	}
}

// enqueue offers op to the writer without blocking. It reports false when
// the journal is closed or its queue is full.
func (m *Manager) enqueue(op writeOperation) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false
	}

	select {
	case m.writeChannel <- op:
		return true
	default:
		m.log.Warn("Journal queue full, dropping record", "op", op.name)
		return false
	}
}

// RecordRoomEvent queues a membership change. Invalid events are dropped.
func (m *Manager) RecordRoomEvent(event *types.RoomEvent) {
	if err := event.Validate(); err != nil {
		m.log.Debug("Skipping invalid room event", "err", err)
		return
	}
	m.enqueue(writeOperation{
		name: "room_event",
		operation: func(db *sql.DB) error {
			_, err := db.Exec(`
				INSERT INTO room_events (id, room_id, socket_id, username, kind, timestamp)
				VALUES (?, ?, ?, ?, ?, ?)
			`, event.ID, event.RoomID, event.SocketID, event.Username, event.Kind, event.Timestamp)
			return err
		},
	})
}

// RecordExecution queues an execution summary.
func (m *Manager) RecordExecution(record *types.ExecutionRecord) {
	if err := record.Validate(); err != nil {
		m.log.Debug("Skipping invalid execution record", "err", err)
		return
	}
	m.enqueue(writeOperation{
		name: "execution",
		operation: func(db *sql.DB) error {
			_, err := db.Exec(`
				INSERT INTO executions (id, language, status, duration_ms, timestamp)
				VALUES (?, ?, ?, ?, ?)
			`, record.ID, record.Language, record.Status, record.DurationMS, record.Timestamp)
			return err
		},
	})
}

// Flush waits until every record queued before the call has been written.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return interfaces.ErrJournalClosed
	}
	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{name: "flush", result: result}:
	case <-ctx.Done():
		m.mu.RUnlock()
		return ctx.Err()
	}
	m.mu.RUnlock()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RoomActivity returns up to limit events for roomID, newest first.
func (m *Manager) RoomActivity(ctx context.Context, roomID string, limit int) ([]*types.RoomEvent, error) {
	if limit <= 0 || limit > maxActivityLimit {
		limit = maxActivityLimit
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, room_id, socket_id, username, kind, timestamp
		FROM room_events
		WHERE room_id = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query room activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := make([]*types.RoomEvent, 0)
	for rows.Next() {
		var event types.RoomEvent
		if err := rows.Scan(&event.ID, &event.RoomID, &event.SocketID, &event.Username, &event.Kind, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan room event: %w", err)
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating room events: %w", err)
	}

	return events, nil
}

// ExecutionCounts returns the number of recorded executions per language.
func (m *Manager) ExecutionCounts(ctx context.Context) (map[string]int, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT language, COUNT(*) FROM executions GROUP BY language`)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var language string
		var count int
		if err := rows.Scan(&language, &count); err != nil {
			return nil, fmt.Errorf("failed to scan execution count: %w", err)
		}
		counts[language] = count
	}
	return counts, rows.Err()
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return interfaces.ErrJournalClosed
	}

	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// Close drains accepted writes and closes the database. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

var _ interfaces.Journal = (*Manager)(nil)
