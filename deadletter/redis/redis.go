// Package redis stores mailbus dead letters in Redis. The letters of one
// listener live in a hash keyed "<prefix><listener>", one field per letter.
package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rbaliyan/mailbus"
	"github.com/rbaliyan/mailbus/codec"
)

// DefaultPrefix is prepended to listener names to form hash keys.
const DefaultPrefix = "mailbus:deadletters:"

var _ mailbus.DeadLetters = (*Store)(nil)

// record is the stored form of a dead letter. The event is encoded with the
// store's serializer.
type record struct {
	ID          string    `json:"id"`
	Listener    string    `json:"listener"`
	FailedAt    time.Time `json:"failed_at"`
	Error       string    `json:"error,omitempty"`
	ContentType string    `json:"content_type"`
	Event       []byte    `json:"event"`
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithSerializer sets the event serializer. Defaults to codec.JSON.
func WithSerializer(ser codec.Serializer) Option {
	return func(s *Store) {
		if ser != nil {
			s.serializer = ser
		}
	}
}

// WithCodecs sets the registry used to decode stored events by content
// type. Defaults to codec.DefaultRegistry.
func WithCodecs(r *codec.Registry) Option {
	return func(s *Store) {
		if r != nil {
			s.codecs = r
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store implements mailbus.DeadLetters on Redis hashes.
type Store struct {
	client     redis.UniversalClient
	prefix     string
	serializer codec.Serializer
	codecs     *codec.Registry
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a dead letter store using client.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:     client,
		prefix:     DefaultPrefix,
		serializer: codec.JSON,
		codecs:     codec.DefaultRegistry(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(listener string) string {
	return s.prefix + listener
}

// Store implements mailbus.DeadLetters.
func (s *Store) Store(ctx context.Context, listener string, e mailbus.Event, cause error) error {
	data, err := s.serializer.Serialize(e)
	if err != nil {
		return err
	}
	r := record{
		ID:          uuid.NewString(),
		Listener:    listener,
		FailedAt:    s.now().UTC(),
		ContentType: s.serializer.ContentType(),
		Event:       data,
	}
	if cause != nil {
		r.Error = cause.Error()
	}
	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	if err := s.client.HSet(ctx, s.key(listener), r.ID, value).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// List implements mailbus.DeadLetters. Records that cannot be decoded are
// logged and skipped.
func (s *Store) List(ctx context.Context, listener string) ([]mailbus.DeadLetter, error) {
	fields, err := s.client.HGetAll(ctx, s.key(listener)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}

	letters := make([]mailbus.DeadLetter, 0, len(fields))
	for id, value := range fields {
		dl, err := s.decode([]byte(value))
		if err != nil {
			s.logger.Warn("skipping undecodable dead letter", "listener", listener, "id", id, "error", err)
			continue
		}
		letters = append(letters, dl)
	}
	slices.SortFunc(letters, func(a, b mailbus.DeadLetter) int {
		return cmp.Or(a.FailedAt.Compare(b.FailedAt), cmp.Compare(a.ID, b.ID))
	})
	return letters, nil
}

func (s *Store) decode(value []byte) (mailbus.DeadLetter, error) {
	var r record
	if err := json.Unmarshal(value, &r); err != nil {
		return mailbus.DeadLetter{}, err
	}
	ser, err := s.codecs.Lookup(r.ContentType)
	if err != nil {
		return mailbus.DeadLetter{}, err
	}
	e, err := ser.Deserialize(r.Event)
	if err != nil {
		return mailbus.DeadLetter{}, err
	}
	return mailbus.DeadLetter{
		ID:       r.ID,
		Listener: r.Listener,
		Event:    e,
		FailedAt: r.FailedAt,
		Error:    r.Error,
	}, nil
}

// Remove implements mailbus.DeadLetters.
func (s *Store) Remove(ctx context.Context, listener, id string) error {
	n, err := s.client.HDel(ctx, s.key(listener), id).Result()
	if err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	if n == 0 {
		return mailbus.ErrDeadLetterNotFound
	}
	return nil
}
