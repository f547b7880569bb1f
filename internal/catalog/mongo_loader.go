package catalog

import (
	"context"
	"fmt"

	"github.com/mwilcox/tweetmatch/internal/models"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoLoader reads catalog snapshots out of the MongoDB database the
// ingestion pipeline publishes into. Documents carry an ordinal that fixes
// the embedding row order, the same contract as the on-disk ticker list.
type MongoLoader struct {
	client     *mongo.Client
	db         *mongo.Database
	events     *mongo.Collection
	embeddings *mongo.Collection
	meta       *mongo.Collection
}

// NewMongoLoader connects and pings the catalog database.
func NewMongoLoader(ctx context.Context, uri, dbName string) (*MongoLoader, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	db := client.Database(dbName)
	log.Info().Str("db", dbName).Msg("Connected to catalog MongoDB")

	return &MongoLoader{
		client:     client,
		db:         db,
		events:     db.Collection("events"),
		embeddings: db.Collection("embeddings"),
		meta:       db.Collection("meta"),
	}, nil
}

// Close closes the database connection.
func (l *MongoLoader) Close(ctx context.Context) error {
	return l.client.Disconnect(ctx)
}

type eventDoc struct {
	Ordinal int          `bson:"ordinal"`
	Event   models.Event `bson:",inline"`
}

type embeddingDoc struct {
	Ordinal int       `bson:"ordinal"`
	Ticker  string    `bson:"ticker"`
	Vector  []float64 `bson:"vector"`
}

type metaDoc struct {
	ID       string       `bson:"_id"`
	Version  string       `bson:"version"`
	Entities *EntityIndex `bson:"entities,omitempty"`
}

// Load assembles a snapshot from the events and embeddings collections,
// ordered by ordinal.
func (l *MongoLoader) Load(ctx context.Context) (*Snapshot, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "ordinal", Value: 1}})

	cur, err := l.events.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	var eventDocs []eventDoc
	if err := cur.All(ctx, &eventDocs); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}

	cur, err = l.embeddings.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}
	var embDocs []embeddingDoc
	if err := cur.All(ctx, &embDocs); err != nil {
		return nil, fmt.Errorf("decode embeddings: %w", err)
	}

	var meta metaDoc
	if err := l.meta.FindOne(ctx, bson.M{"_id": "catalog"}).Decode(&meta); err != nil {
		if err != mongo.ErrNoDocuments {
			return nil, fmt.Errorf("load meta: %w", err)
		}
		log.Debug().Msg("No catalog meta document, snapshot has no version or entity index")
	}

	events := make([]models.Event, 0, len(eventDocs))
	for _, d := range eventDocs {
		events = append(events, d.Event)
	}

	tickers := make([]string, 0, len(embDocs))
	embeddings := make([][]float32, 0, len(embDocs))
	for _, d := range embDocs {
		tickers = append(tickers, d.Ticker)
		vec := make([]float32, len(d.Vector))
		for i, v := range d.Vector {
			vec[i] = float32(v)
		}
		embeddings = append(embeddings, vec)
	}

	aligned, err := alignEvents(events, tickers)
	if err != nil {
		return nil, err
	}

	return NewSnapshot(meta.Version, aligned, tickers, embeddings, meta.Entities), nil
}
