// Package redis provides a Redis implementation of cluster.PathRegisterMapper.
//
// Each mailbox path is stored as a set of topics under the key
// "<prefix><path>".
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/mailbus"
	"github.com/rbaliyan/mailbus/cluster"
)

// Default configuration values.
const (
	DefaultPrefix  = "mailbus:path:"
	DefaultTimeout = 10 * time.Second
)

// Compile-time checks
var (
	_ cluster.PathRegisterMapper = (*Mapper)(nil)
	_ cluster.BulkRegisterer     = (*Mapper)(nil)
)

// Mapper stores path registrations in Redis sets.
type Mapper struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(m *Mapper) {
		if prefix != "" {
			m.prefix = prefix
		}
	}
}

// WithTimeout sets the per-operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(m *Mapper) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mapper) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a mapper using client.
// Compatible with *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
func New(client redis.UniversalClient, opts ...Option) *Mapper {
	m := &Mapper{
		client:  client,
		prefix:  DefaultPrefix,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mapper) key(path mailbus.MailboxPath) string {
	return m.prefix + path.Key()
}

// Register implements cluster.PathRegisterMapper.
func (m *Mapper) Register(ctx context.Context, path mailbus.MailboxPath, topic cluster.Topic) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.client.SAdd(ctx, m.key(path), string(topic)).Err(); err != nil {
		return fmt.Errorf("redis sadd: %w", err)
	}
	return nil
}

// RegisterAll implements cluster.BulkRegisterer with a single pipeline.
func (m *Mapper) RegisterAll(ctx context.Context, paths []mailbus.MailboxPath, topic cluster.Topic) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	_, err := m.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, path := range paths {
			p.SAdd(ctx, m.key(path), string(topic))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	m.logger.Debug("registered paths", "paths", len(paths), "topic", string(topic))
	return nil
}

// Unregister implements cluster.PathRegisterMapper. Redis deletes the set
// when its last member is removed.
func (m *Mapper) Unregister(ctx context.Context, path mailbus.MailboxPath, topic cluster.Topic) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.client.SRem(ctx, m.key(path), string(topic)).Err(); err != nil {
		return fmt.Errorf("redis srem: %w", err)
	}
	return nil
}

// Topics implements cluster.PathRegisterMapper.
func (m *Mapper) Topics(ctx context.Context, path mailbus.MailboxPath) ([]cluster.Topic, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	members, err := m.client.SMembers(ctx, m.key(path)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	slices.Sort(members)
	topics := make([]cluster.Topic, len(members))
	for i, s := range members {
		topics[i] = cluster.Topic(s)
	}
	return topics, nil
}
