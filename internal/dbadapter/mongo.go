package dbadapter

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/arrowarc/parquetsync/internal/config"
	"github.com/arrowarc/parquetsync/internal/record"
)

// MongoDriver is the one concrete Driver: a thin wrapper over
// go.mongodb.org/mongo-driver/v2/mongo translating record.Record to and from
// bson.D. The constructor does the minimum URI assembly needed to hand a
// *mongo.Client something it accepts, not a general credential-management
// layer.
type MongoDriver struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoDriver connects to the database named in cfg and returns a Driver
// backed by it. The caller is responsible for calling Close when done.
func NewMongoDriver(cfg config.DBConfig) (*MongoDriver, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(buildURI(cfg)))
	if err != nil {
		return nil, fmt.Errorf("dbadapter: connect: %w", err)
	}
	return &MongoDriver{client: client, db: client.Database(cfg.Database)}, nil
}

// buildURI assembles a mongodb:// connection string from cfg's host, port
// and optional credentials. It does not attempt TLS configuration beyond the
// `tls=true` flag the driver recognizes when a CA file is set.
func buildURI(cfg config.DBConfig) string {
	auth := ""
	if cfg.Username != "" {
		auth = fmt.Sprintf("%s:%s@", cfg.Username, cfg.Password)
	}
	uri := fmt.Sprintf("mongodb://%s%s:%d/%s", auth, cfg.Host, cfg.Port, cfg.Database)
	if cfg.TLSCAFile != "" {
		uri += "?tls=true"
	}
	return uri
}

// Close disconnects the underlying client.
func (m *MongoDriver) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *MongoDriver) Find(ctx context.Context, collection string, filter, projection record.Record) ([]record.Record, error) {
	opts := options.Find()
	if len(projection) > 0 {
		opts.SetProjection(record.ToPairs(projection))
	}
	cur, err := m.db.Collection(collection).Find(ctx, record.ToPairs(filter), opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: find %s: %w", collection, err)
	}
	defer cur.Close(ctx)
	return decodeCursor(ctx, cur)
}

func (m *MongoDriver) Aggregate(ctx context.Context, collection string, pipeline []record.Record) ([]record.Record, error) {
	stages := make(mongo.Pipeline, len(pipeline))
	for i, stage := range pipeline {
		stages[i] = record.ToPairs(stage)
	}
	cur, err := m.db.Collection(collection).Aggregate(ctx, stages)
	if err != nil {
		return nil, fmt.Errorf("mongo: aggregate %s: %w", collection, err)
	}
	defer cur.Close(ctx)
	return decodeCursor(ctx, cur)
}

func (m *MongoDriver) InsertMany(ctx context.Context, collection string, rows []record.Record, ordered bool) error {
	if len(rows) == 0 {
		return nil
	}
	docs := make([]interface{}, len(rows))
	for i, r := range rows {
		docs[i] = record.ToPairs(r)
	}
	_, err := m.db.Collection(collection).InsertMany(ctx, docs, options.InsertMany().SetOrdered(ordered))
	if err != nil {
		return fmt.Errorf("mongo: insert many %s: %w", collection, err)
	}
	return nil
}

func (m *MongoDriver) DeleteMany(ctx context.Context, collection string, filter record.Record) error {
	_, err := m.db.Collection(collection).DeleteMany(ctx, record.ToPairs(filter))
	if err != nil {
		return fmt.Errorf("mongo: delete many %s: %w", collection, err)
	}
	return nil
}

func (m *MongoDriver) ListCollections(ctx context.Context) ([]string, error) {
	names, err := m.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("mongo: list collections: %w", err)
	}
	return names, nil
}

func (m *MongoDriver) CreateCollection(ctx context.Context, collection string) error {
	if err := m.db.CreateCollection(ctx, collection); err != nil {
		return fmt.Errorf("mongo: create collection %s: %w", collection, err)
	}
	return nil
}

// MaxDate runs a $group aggregation computing the maximum of field across
// documents matching filter. It returns (nil, false, nil) when the
// collection (or the filtered subset) has no documents.
func (m *MongoDriver) MaxDate(ctx context.Context, collection, field string, filter record.Record) (any, bool, error) {
	stages := mongo.Pipeline{}
	if len(filter) > 0 {
		stages = append(stages, bson.D{{Key: "$match", Value: record.ToPairs(filter)}})
	}
	stages = append(stages, bson.D{{Key: "$group", Value: bson.D{
		{Key: "_id", Value: nil},
		{Key: "max", Value: bson.D{{Key: "$max", Value: "$" + field}}},
	}}})

	cur, err := m.db.Collection(collection).Aggregate(ctx, stages)
	if err != nil {
		return nil, false, fmt.Errorf("mongo: max(%s) on %s: %w", field, collection, err)
	}
	defer cur.Close(ctx)

	rows, err := decodeCursor(ctx, cur)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	max, ok := rows[0]["max"]
	if !ok || max == nil {
		return nil, false, nil
	}
	return max, true, nil
}

func decodeCursor(ctx context.Context, cur *mongo.Cursor) ([]record.Record, error) {
	var docs []bson.D
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: decode cursor: %w", err)
	}
	rows := make([]record.Record, len(docs))
	for i, d := range docs {
		rows[i] = record.FromPairs(d)
	}
	return rows, nil
}
