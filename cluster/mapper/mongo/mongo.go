// Package mongo provides a MongoDB implementation of cluster.PathRegisterMapper.
//
// Each mailbox path is one document keyed by the path string and holding the
// set of topics registered for it. Documents are removed once their last
// topic is withdrawn.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/rbaliyan/mailbus"
	"github.com/rbaliyan/mailbus/cluster"
)

// Default configuration values.
const (
	DefaultDatabase   = "mailbus"
	DefaultCollection = "mailbox_paths"
	DefaultTimeout    = 10 * time.Second
)

// Compile-time checks
var (
	_ cluster.PathRegisterMapper = (*Mapper)(nil)
	_ cluster.BulkRegisterer     = (*Mapper)(nil)
)

type options struct {
	database   string
	collection string
	timeout    time.Duration
	logger     *slog.Logger
}

// Option configures a Mapper.
type Option func(*options)

// WithDatabase sets the database name.
func WithDatabase(name string) Option {
	return func(o *options) {
		if name != "" {
			o.database = name
		}
	}
}

// WithCollection sets the collection name.
func WithCollection(name string) Option {
	return func(o *options) {
		if name != "" {
			o.collection = name
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

// pathDoc is the stored form of one path.
type pathDoc struct {
	ID        string   `bson:"_id"`
	Namespace string   `bson:"namespace"`
	User      string   `bson:"user"`
	Name      string   `bson:"name"`
	Topics    []string `bson:"topics"`
}

// Mapper stores path registrations in a MongoDB collection.
type Mapper struct {
	collection *mongo.Collection
	timeout    time.Duration
	logger     *slog.Logger
}

// New creates a mapper using client.
// The caller is responsible for connecting and disconnecting the client.
func New(client *mongo.Client, opts ...Option) *Mapper {
	o := &options{
		database:   DefaultDatabase,
		collection: DefaultCollection,
		timeout:    DefaultTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Mapper{
		collection: client.Database(o.database).Collection(o.collection),
		timeout:    o.timeout,
		logger:     o.logger,
	}
}

// EnsureIndexes creates the topic index used to list the paths of a node.
func (m *Mapper) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	_, err := m.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{bson.E{Key: "topics", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("mongo create index: %w", err)
	}
	return nil
}

func addTopic(path mailbus.MailboxPath, topic cluster.Topic) (bson.M, bson.M) {
	filter := bson.M{"_id": path.Key()}
	update := bson.M{
		"$addToSet":    bson.M{"topics": string(topic)},
		"$setOnInsert": bson.M{"namespace": path.Namespace, "user": path.User, "name": path.Name},
	}
	return filter, update
}

// Register implements cluster.PathRegisterMapper.
func (m *Mapper) Register(ctx context.Context, path mailbus.MailboxPath, topic cluster.Topic) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	filter, update := addTopic(path, topic)
	if _, err := m.collection.UpdateOne(ctx, filter, update, mongoopts.UpdateOne().SetUpsert(true)); err != nil {
		return fmt.Errorf("mongo upsert: %w", err)
	}
	return nil
}

// RegisterAll implements cluster.BulkRegisterer with one unordered bulk write.
func (m *Mapper) RegisterAll(ctx context.Context, paths []mailbus.MailboxPath, topic cluster.Topic) error {
	if len(paths) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	models := make([]mongo.WriteModel, 0, len(paths))
	for _, p := range paths {
		filter, update := addTopic(p, topic)
		models = append(models, mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(update).SetUpsert(true))
	}
	if _, err := m.collection.BulkWrite(ctx, models, mongoopts.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("mongo bulk write: %w", err)
	}
	return nil
}

// Unregister implements cluster.PathRegisterMapper.
func (m *Mapper) Unregister(ctx context.Context, path mailbus.MailboxPath, topic cluster.Topic) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	id := path.Key()
	if _, err := m.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$pull": bson.M{"topics": string(topic)}}); err != nil {
		return fmt.Errorf("mongo pull: %w", err)
	}
	// A concurrent $addToSet makes the document non-empty and keeps it.
	if _, err := m.collection.DeleteOne(ctx, bson.M{"_id": id, "topics": bson.M{"$size": 0}}); err != nil {
		m.logger.Warn("failed to delete empty path document", "path", id, "error", err)
	}
	return nil
}

// Topics implements cluster.PathRegisterMapper.
func (m *Mapper) Topics(ctx context.Context, path mailbus.MailboxPath) ([]cluster.Topic, error) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	var doc pathDoc
	err := m.collection.FindOne(ctx, bson.M{"_id": path.Key()}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("mongo find: %w", err)
	}
	slices.Sort(doc.Topics)
	topics := make([]cluster.Topic, len(doc.Topics))
	for i, s := range doc.Topics {
		topics[i] = cluster.Topic(s)
	}
	return topics, nil
}
