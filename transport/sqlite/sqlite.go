// Package sqlite provides a local spool transport: events are stored in a
// SQLite database so a node can record without any broker running.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/drblury/sensornode/internal/runtime/jsoncodec"
	"github.com/drblury/sensornode/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "sqlite"

// DefaultFilePath is used when no database file is configured.
const DefaultFilePath = "sensor_events.db"

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("sqlite: spool closed")

func init() {
	Register()
}

// Register registers the SQLite transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.SQLiteCapabilities)
}

// Build opens the spool database.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	s, err := New(Config{FilePath: cfg.GetSQLiteFile()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: s}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.SQLiteCapabilities
}

// Config holds SQLite-specific configuration.
type Config struct {
	// FilePath is the path to the SQLite database file.
	// Use ":memory:" for an in-memory database (useful for testing).
	FilePath string
	// MaxRows caps the spool per topic; the oldest rows are pruned first.
	// Zero keeps everything.
	MaxRows int
}

func (c Config) withDefaults() Config {
	if c.FilePath == "" {
		c.FilePath = DefaultFilePath
	}
	if c.MaxRows < 0 {
		c.MaxRows = 0
	}
	return c
}

// StoredEvent is one spooled row.
type StoredEvent struct {
	ID        int64
	UUID      string
	Topic     string
	EventType string
	Payload   []byte
	Metadata  string
	CreatedAt time.Time
}

// Spool implements message.Publisher on top of SQLite.
type Spool struct {
	db     *sql.DB
	config Config
	logger watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// New opens the database and creates the schema.
func New(cfg Config, logger watermill.LoggerAdapter) (*Spool, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	db, err := sql.Open("sqlite3", cfg.FilePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Spool{db: db, config: cfg, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite spool ready", watermill.LogFields{"path": cfg.FilePath, "max_rows": cfg.MaxRows})
	return s, nil
}

func (s *Spool) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uuid TEXT NOT NULL UNIQUE,
		topic TEXT NOT NULL,
		event_type TEXT NOT NULL DEFAULT '',
		payload BLOB NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_topic_id ON events(topic, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Publish inserts all messages in one transaction.
func (s *Spool) Publish(topic string, messages ...*message.Message) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Error("failed to rollback transaction", err, nil)
		}
	}()

	stmt, err := tx.Prepare(`
		INSERT INTO events (uuid, topic, event_type, payload, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, msg := range messages {
		metadata, err := jsoncodec.MarshalHeaders(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		payload := msg.Payload
		if payload == nil {
			payload = []byte{}
		}
		if _, err := stmt.Exec(msg.UUID, topic, msg.Metadata.Get("event_type"), payload, metadata, now); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	if s.config.MaxRows > 0 {
		if _, err := tx.Exec(`
			DELETE FROM events WHERE topic = ? AND id NOT IN (
				SELECT id FROM events WHERE topic = ? ORDER BY id DESC LIMIT ?
			)`, topic, topic, s.config.MaxRows); err != nil {
			return fmt.Errorf("failed to prune spool: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Count returns the number of spooled events for topic.
func (s *Spool) Count(ctx context.Context, topic string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE topic = ?`, topic).Scan(&count)
	return count, err
}

// Recent returns up to limit events for topic, newest first.
func (s *Spool) Recent(ctx context.Context, topic string, limit int) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, uuid, topic, event_type, payload, metadata, created_at
		FROM events WHERE topic = ? ORDER BY id DESC LIMIT ?
	`, topic, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(&e.ID, &e.UUID, &e.Topic, &e.EventType, &e.Payload, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the database. Calling it again is a no-op.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
