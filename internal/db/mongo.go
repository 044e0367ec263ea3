package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"drift_spider/internal/config"
	"drift_spider/internal/models"
	urlqueue "drift_spider/internal/url_queue"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB mirrors the JSONL store and keeps a history of drift checks.
type MongoDB struct {
	client       *mongo.Client
	database     *mongo.Database
	sections     *mongo.Collection
	driftHistory *mongo.Collection
}

func NewMongoDB(config config.DBConfig) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.Connection))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("can't ping MongoDB: %w", err)
	}

	db := client.Database(config.Database)

	d := &MongoDB{
		client:       client,
		database:     db,
		sections:     db.Collection(config.Collections.Sections),
		driftHistory: db.Collection(config.Collections.DriftHistory),
	}

	if err := d.createIndexes(); err != nil {
		return nil, fmt.Errorf("can't create indices: %w", err)
	}

	return d, nil
}

func (d *MongoDB) createIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{d.sections, mongo.IndexModel{Keys: bson.D{{Key: "database", Value: 1}, {Key: "normalized_url", Value: 1}}}},
		{d.sections, mongo.IndexModel{Keys: bson.D{{Key: "last_scraped", Value: 1}}}},
		{d.driftHistory, mongo.IndexModel{Keys: bson.D{{Key: "url", Value: 1}, {Key: "timestamp", Value: -1}}}},
	}

	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			slog.Warn("index creation failed", slog.String("collection", idx.coll.Name()), slog.Any("err", err))
		}
	}
	return nil
}

// SaveSection upserts one section keyed by its identity key, bumping the
// scrape counter on every save.
func (d *MongoDB) SaveSection(ctx context.Context, database string, sec models.Section) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := urlqueue.IdentityKey(sec.Content, sec.OriginLink)
	now := time.Now().Unix()

	filter := bson.M{"_id": key}
	update := bson.M{
		"$set": bson.M{
			"database":       database,
			"normalized_url": urlqueue.NormalizeURL(sec.OriginLink),
			"section":        sec,
			"last_scraped":   now,
		},
		"$setOnInsert": bson.M{"first_scraped": now},
		"$inc":         bson.M{"scraped_count": 1},
	}

	_, err := d.sections.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

// SaveDriftResult appends one comparison outcome to the history.
func (d *MongoDB) SaveDriftResult(ctx context.Context, database string, res models.SimilarityResult) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	history := models.DriftHistory{
		ID:         uuid.NewString(),
		Database:   database,
		URL:        urlqueue.NormalizeURL(res.URL),
		Outcome:    string(res.Outcome),
		Status:     string(res.Status),
		Similarity: res.Score,
		LiveLength: res.LiveLength,
		Timestamp:  time.Now().Unix(),
		Error:      res.Error,
	}

	_, err := d.driftHistory.InsertOne(ctx, history)
	return err
}

// MirrorDatabase pushes every valid record of a JSONL database.
func (d *MongoDB) MirrorDatabase(ctx context.Context, store *Store, name string) (int, error) {
	if err := store.Require(name); err != nil {
		return 0, err
	}
	res, err := store.ReadAll(name)
	if err != nil {
		return 0, err
	}

	saved := 0
	for _, rec := range res.Records {
		if err := ctx.Err(); err != nil {
			return saved, err
		}
		if rec.OriginLink == "" {
			continue
		}
		sec := rec.Section
		sec.Content = rec.Text()
		if err := d.SaveSection(ctx, name, sec); err != nil {
			return saved, fmt.Errorf("mirroring %s: %w", name, err)
		}
		saved++
	}
	slog.Info("database mirrored", slog.String("db", name), slog.Int("sections", saved), slog.Int("bad_lines", len(res.Errors)))
	return saved, nil
}

// GetDatabaseStats aggregates the mirrored sections of one database.
func (d *MongoDB) GetDatabaseStats(ctx context.Context, database string) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "database", Value: database}}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total_sections", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "urls", Value: bson.D{{Key: "$addToSet", Value: "$normalized_url"}}},
			{Key: "max_scraped_count", Value: bson.D{{Key: "$max", Value: "$scraped_count"}}},
			{Key: "last_scraped", Value: bson.D{{Key: "$max", Value: "$last_scraped"}}},
		}}},
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "total_sections", Value: 1},
			{Key: "distinct_urls", Value: bson.D{{Key: "$size", Value: "$urls"}}},
			{Key: "max_scraped_count", Value: 1},
			{Key: "last_scraped", Value: 1},
		}}},
	}

	cursor, err := d.sections.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []map[string]interface{}
	if err := cursor.All(ctx, &results); err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return make(map[string]interface{}), nil
	}

	return results[0], nil
}

func (d *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return d.client.Disconnect(ctx)
}
