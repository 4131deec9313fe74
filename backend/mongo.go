package backend

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agentuity/go-cacher/config"
)

// mongoDocument is the stored shape. A nil ExpiresAt means the entry is
// durable; otherwise the collection's TTL index reaps it server-side.
type mongoDocument struct {
	Key       string     `bson:"_id"`
	Value     []byte     `bson:"value"`
	ExpiresAt *time.Time `bson:"expiresAt,omitempty"`
}

type mongoBackend struct {
	scope
	client *mongo.Client
	coll   *mongo.Collection
	opts   options
}

var _ Backend = (*mongoBackend)(nil)

// NewMongo connects to the configured Mongo deployment and ensures the
// TTL index on expiresAt exists. The Mongo TTL monitor only runs
// periodically, so reads still check expiry themselves; the index is a
// reclamation mechanism, not the source of truth.
func NewMongo(ctx context.Context, cfg config.MongoConfig, appSpace string, opts ...Option) (Backend, error) {
	o := applyOptions(opts)
	clientOpts := mongooptions.Client().ApplyURI(cfg.URL).SetDirect(cfg.DirectConnection)
	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("backend: mongo connect: %w", err)
	}
	coll := client.Database(cfg.Database).Collection(cfg.Collection)

	qctx, cancel := context.WithTimeout(ctx, o.queryTimeout)
	defer cancel()
	_, err = coll.Indexes().CreateOne(qctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: mongooptions.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("backend: mongo ttl index: %w", err)
	}
	return &mongoBackend{
		scope:  scope{appSpace: appSpace},
		client: client,
		coll:   coll,
		opts:   o,
	}, nil
}

func (m *mongoBackend) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, m.opts.queryTimeout)
}

func (m *mongoBackend) find(ctx context.Context, key string) (*mongoDocument, error) {
	var doc mongoDocument
	err := m.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("backend: mongo find: %w", err)
	}
	if doc.ExpiresAt != nil && doc.ExpiresAt.Before(m.opts.now()) {
		// The TTL monitor has not caught up yet.
		if _, err := m.coll.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
			return nil, fmt.Errorf("backend: mongo expire: %w", err)
		}
		return nil, nil
	}
	return &doc, nil
}

func (m *mongoBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	qctx, cancel := m.queryCtx(ctx)
	defer cancel()
	doc, err := m.find(qctx, key)
	if err != nil || doc == nil {
		return nil, false, err
	}
	return doc.Value, true, nil
}

func (m *mongoBackend) GetWithTTL(ctx context.Context, key string) (time.Duration, []byte, bool, error) {
	qctx, cancel := m.queryCtx(ctx)
	defer cancel()
	doc, err := m.find(qctx, key)
	if err != nil || doc == nil {
		return 0, nil, false, err
	}
	if doc.ExpiresAt == nil {
		return NoExpiry, doc.Value, true, nil
	}
	remaining := doc.ExpiresAt.Sub(m.opts.now())
	if remaining < 0 {
		remaining = 0
	}
	return remaining, doc.Value, true, nil
}

func (m *mongoBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	doc := mongoDocument{Key: key, Value: value}
	if ttl > 0 {
		expiresAt := m.opts.now().Add(ttl)
		doc.ExpiresAt = &expiresAt
	}
	qctx, cancel := m.queryCtx(ctx)
	defer cancel()
	_, err := m.coll.ReplaceOne(qctx, bson.M{"_id": key}, doc, mongooptions.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("backend: mongo set: %w", err)
	}
	return nil
}

func (m *mongoBackend) RefreshTTL(ctx context.Context, key string, ttl time.Duration) error {
	var update bson.M
	if ttl > 0 {
		update = bson.M{"$set": bson.M{"expiresAt": m.opts.now().Add(ttl)}}
	} else {
		update = bson.M{"$unset": bson.M{"expiresAt": ""}}
	}
	qctx, cancel := m.queryCtx(ctx)
	defer cancel()
	if _, err := m.coll.UpdateOne(qctx, bson.M{"_id": key}, update); err != nil {
		return fmt.Errorf("backend: mongo refresh ttl: %w", err)
	}
	return nil
}

func (m *mongoBackend) Delete(ctx context.Context, namespace, key string) error {
	qctx, cancel := m.queryCtx(ctx)
	defer cancel()
	if _, err := m.coll.DeleteOne(qctx, bson.M{"_id": m.fullKey(namespace, key)}); err != nil {
		return fmt.Errorf("backend: mongo delete: %w", err)
	}
	return nil
}

func (m *mongoBackend) Clear(ctx context.Context, namespace string) error {
	qctx, cancel := m.queryCtx(ctx)
	defer cancel()
	filter := bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(m.prefix(namespace))}}
	if _, err := m.coll.DeleteMany(qctx, filter); err != nil {
		return fmt.Errorf("backend: mongo clear: %w", err)
	}
	return nil
}

func (m *mongoBackend) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
