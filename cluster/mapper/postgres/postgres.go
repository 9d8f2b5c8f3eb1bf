// Package postgres provides a PostgreSQL implementation of
// cluster.PathRegisterMapper.
//
// Registrations are rows of a (path, topic) table; a path is known as long
// as it has at least one row.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/rbaliyan/mailbus"
	"github.com/rbaliyan/mailbus/cluster"
)

// Default configuration values.
const (
	DefaultTable   = "mailbus_paths"
	DefaultTimeout = 10 * time.Second
)

// Compile-time checks
var (
	_ cluster.PathRegisterMapper = (*Mapper)(nil)
	_ cluster.BulkRegisterer     = (*Mapper)(nil)
)

type options struct {
	table   string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Mapper.
type Option func(*options)

// WithTable sets the table name.
func WithTable(name string) Option {
	return func(o *options) {
		if name != "" {
			o.table = name
		}
	}
}

// WithTimeout sets the operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// Mapper stores path registrations in a PostgreSQL table.
type Mapper struct {
	db      *sqlx.DB
	table   string
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a mapper with the provided database connection.
// Call EnsureSchema to create the table.
func New(db *sqlx.DB, opts ...Option) *Mapper {
	o := &options{
		table:   DefaultTable,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Mapper{db: db, table: o.table, timeout: o.timeout, logger: o.logger}
}

// NewFromDB creates a mapper from a standard sql.DB connection.
func NewFromDB(db *sql.DB, opts ...Option) *Mapper {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// EnsureSchema creates the registration table and its topic index.
func (m *Mapper) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			path TEXT NOT NULL,
			topic TEXT NOT NULL,
			registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (path, topic)
		)
	`, m.table)
	if _, err := m.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_topic ON %s(topic)`, m.table, m.table)
	if _, err := m.db.ExecContext(ctx, idx); err != nil {
		m.logger.Warn("failed to create index", "error", err, "sql", idx)
	}
	m.logger.Info("path table ready", "table", m.table)
	return nil
}

// Register implements cluster.PathRegisterMapper.
func (m *Mapper) Register(ctx context.Context, path mailbus.MailboxPath, topic cluster.Topic) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (path, topic) VALUES ($1, $2) ON CONFLICT DO NOTHING`, m.table)
	if _, err := m.db.ExecContext(ctx, query, path.Key(), string(topic)); err != nil {
		return fmt.Errorf("postgres insert: %w", err)
	}
	return nil
}

// RegisterAll implements cluster.BulkRegisterer with a single statement.
func (m *Mapper) RegisterAll(ctx context.Context, paths []mailbus.MailboxPath, topic cluster.Topic) error {
	if len(paths) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	keys := make([]string, len(paths))
	for i, p := range paths {
		keys[i] = p.Key()
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (path, topic)
		SELECT p, $2 FROM unnest($1::text[]) AS p
		ON CONFLICT DO NOTHING
	`, m.table)
	if _, err := m.db.ExecContext(ctx, query, pq.Array(keys), string(topic)); err != nil {
		return fmt.Errorf("postgres bulk insert: %w", err)
	}
	return nil
}

// Unregister implements cluster.PathRegisterMapper.
func (m *Mapper) Unregister(ctx context.Context, path mailbus.MailboxPath, topic cluster.Topic) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	query := fmt.Sprintf(`DELETE FROM %s WHERE path = $1 AND topic = $2`, m.table)
	if _, err := m.db.ExecContext(ctx, query, path.Key(), string(topic)); err != nil {
		return fmt.Errorf("postgres delete: %w", err)
	}
	return nil
}

// Topics implements cluster.PathRegisterMapper.
func (m *Mapper) Topics(ctx context.Context, path mailbus.MailboxPath) ([]cluster.Topic, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	var rows []string
	query := fmt.Sprintf(`SELECT topic FROM %s WHERE path = $1 ORDER BY topic`, m.table)
	if err := m.db.SelectContext(ctx, &rows, query, path.Key()); err != nil {
		return nil, fmt.Errorf("postgres select: %w", err)
	}
	topics := make([]cluster.Topic, len(rows))
	for i, s := range rows {
		topics[i] = cluster.Topic(s)
	}
	return topics, nil
}
