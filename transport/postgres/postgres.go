// Package postgres provides a PostgreSQL transport that appends events to a
// table, one row per event.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/lib/pq" // PostgreSQL driver

	"github.com/drblury/sensornode/internal/runtime/jsoncodec"
	"github.com/drblury/sensornode/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "postgres"

const (
	// DefaultSchemaName is the schema the events table lives in.
	DefaultSchemaName = "sensornode"
	// DefaultTableName is the events table.
	DefaultTableName = "sensor_events"
	// DefaultConnectTimeout bounds the initial ping.
	DefaultConnectTimeout = 10 * time.Second
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("postgres: publisher closed")

// OpenDB allows overriding the database handle creation for testing.
var OpenDB = func(dsn string) (*sql.DB, error) {
	return sql.Open("postgres", dsn)
}

func init() {
	Register()
}

// Register registers the PostgreSQL transport and its alias.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.PostgresCapabilities)
	transport.Alias("postgresql", TransportName)
}

// Build connects and prepares the events table.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	p, err := New(ctx, Config{ConnectionString: cfg.GetPostgresURL()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: p}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.PostgresCapabilities
}

// Config holds PostgreSQL-specific configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string
	// SchemaName is the schema to use for tables. Defaults to "sensornode".
	SchemaName string
	// TableName defaults to "sensor_events".
	TableName string
	// MaxOpenConns sets the maximum number of open connections to the database.
	MaxOpenConns int
	// MaxIdleConns sets the maximum number of idle connections.
	MaxIdleConns int
	// ConnectTimeout bounds the initial ping and schema setup.
	ConnectTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SchemaName == "" {
		c.SchemaName = DefaultSchemaName
	}
	if c.TableName == "" {
		c.TableName = DefaultTableName
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 2
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 1
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	return c
}

// qualifiedTable returns the quoted schema.table name.
func (c Config) qualifiedTable() string {
	return pq.QuoteIdentifier(c.SchemaName) + "." + pq.QuoteIdentifier(c.TableName)
}

func (c Config) schemaStatements() []string {
	table := c.qualifiedTable()
	return []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pq.QuoteIdentifier(c.SchemaName)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			uuid TEXT NOT NULL UNIQUE,
			topic TEXT NOT NULL,
			event_type TEXT NOT NULL DEFAULT '',
			payload BYTEA NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (topic, created_at)`,
			pq.QuoteIdentifier("idx_"+c.TableName+"_topic_created"), table),
	}
}

func (c Config) insertStatement() string {
	return fmt.Sprintf(`INSERT INTO %s (uuid, topic, event_type, payload, metadata) VALUES ($1, $2, $3, $4, $5)`, c.qualifiedTable())
}

// Publisher writes events to PostgreSQL.
type Publisher struct {
	db     *sql.DB
	config Config
	logger watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// New opens the connection pool, pings it and creates the schema.
func New(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (*Publisher, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("PostgreSQL connection string is required")
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	db, err := OpenDB(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	setupCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(setupCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	p := &Publisher{db: db, config: cfg, logger: logger}
	if err := p.initSchema(setupCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("PostgreSQL publisher ready", watermill.LogFields{"table": cfg.qualifiedTable()})
	return p, nil
}

func (p *Publisher) initSchema(ctx context.Context) error {
	for _, stmt := range p.config.schemaStatements() {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Publish inserts all messages in one transaction.
func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	tx, err := p.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			p.logger.Error("failed to rollback transaction", err, nil)
		}
	}()

	stmt, err := tx.Prepare(p.config.insertStatement())
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, msg := range messages {
		metadata, err := jsoncodec.MarshalHeaders(msg.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		payload := msg.Payload
		if payload == nil {
			payload = []byte{}
		}
		if _, err := stmt.Exec(msg.UUID, topic, msg.Metadata.Get("event_type"), payload, metadata); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the connection pool. Calling it again is a no-op.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.db.Close()
}
