package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/leeaandrob/cloracle/internal/models"
)

// MongoStore provides access to the MongoDB collections.
type MongoStore struct {
	client       *mongo.Client
	db           *mongo.Database
	events       *mongo.Collection
	predictions  *mongo.Collection
	chatMessages *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

// NewMongoStore creates a new storage connection.
func NewMongoStore(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(dbName)
	log.Info().Str("db", dbName).Msg("Connected to MongoDB")

	store := &MongoStore{
		client:       client,
		db:           db,
		events:       db.Collection("events"),
		predictions:  db.Collection("predictions"),
		chatMessages: db.Collection("chat_messages"),
	}

	if err := store.createIndexes(ctx); err != nil {
		// The slug index backs duplicate detection, so this is fatal.
		_ = client.Disconnect(ctx)
		return nil, err
	}

	return store, nil
}

// Close closes the database connection.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// createIndexes creates necessary indexes for efficient queries.
func (s *MongoStore) createIndexes(ctx context.Context) error {
	eventIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "slug", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "category", Value: 1}}},
		{Keys: bson.D{{Key: "is_active", Value: 1}}},
		{Keys: bson.D{{Key: "updated_at", Value: -1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	}
	if _, err := s.events.Indexes().CreateMany(ctx, eventIndexes); err != nil {
		return fmt.Errorf("create event indexes: %w", err)
	}

	predictionIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "event_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}
	if _, err := s.predictions.Indexes().CreateMany(ctx, predictionIndexes); err != nil {
		log.Warn().Err(err).Msg("Failed to create prediction indexes")
	}

	chatIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "event_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
	}
	if _, err := s.chatMessages.Indexes().CreateMany(ctx, chatIndexes); err != nil {
		log.Warn().Err(err).Msg("Failed to create chat message indexes")
	}

	return nil
}

// ============================================================================
// EVENT OPERATIONS
// ============================================================================

func eventFilterDoc(f EventFilter) bson.M {
	filter := bson.M{}
	if f.Category != "" {
		filter["category"] = f.Category
	}
	if f.ActiveOnly {
		filter["is_active"] = true
	}
	if f.AnalyzedOnly {
		filter["cloracle_prob"] = bson.M{"$ne": nil}
	}
	if f.UnanalyzedOnly {
		filter["$or"] = bson.A{
			bson.M{"cloracle_prob": nil},
			bson.M{"cloracle_reason": nil},
		}
	}
	if len(f.IDs) > 0 {
		filter["_id"] = bson.M{"$in": f.IDs}
	}
	return filter
}

// GetEvent returns an event by id.
func (s *MongoStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := s.events.FindOne(ctx, bson.M{"_id": id}).Decode(&event)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// FindEvents returns events matching f.
func (s *MongoStore) FindEvents(ctx context.Context, f EventFilter) ([]models.Event, error) {
	sortKey := "updated_at"
	if f.Order == OrderCreatedDesc {
		sortKey = "created_at"
	}

	opts := options.Find().SetSort(bson.D{{Key: sortKey, Value: -1}, {Key: "_id", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	if f.Offset > 0 {
		opts.SetSkip(int64(f.Offset))
	}

	cursor, err := s.events.Find(ctx, eventFilterDoc(f), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []models.Event
	if err := cursor.All(ctx, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// CountEvents counts events matching f, ignoring pagination.
func (s *MongoStore) CountEvents(ctx context.Context, f EventFilter) (int64, error) {
	return s.events.CountDocuments(ctx, eventFilterDoc(f))
}

// CreateEvent inserts a new event.
func (s *MongoStore) CreateEvent(ctx context.Context, e *models.Event) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	_, err := s.events.InsertOne(ctx, e)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

// UpdateEventMarket refreshes the market and content fields of an event.
func (s *MongoStore) UpdateEventMarket(ctx context.Context, id string, u models.MarketUpdate) error {
	return s.updateEvent(ctx, id, bson.M{
		"title":       u.Title,
		"description": u.Description,
		"market_prob": u.MarketProb,
		"volume":      u.Volume,
		"end_date":    u.EndDate,
		"image_url":   u.ImageURL,
		"is_active":   u.IsActive,
	})
}

// SetEventAnalysis writes all four AI fields in one update.
func (s *MongoStore) SetEventAnalysis(ctx context.Context, id string, a models.Analysis) error {
	return s.updateEvent(ctx, id, bson.M{
		"cloracle_prob":   a.Probability,
		"cloracle_reason": a.Reasoning,
		"confidence":      a.Confidence,
		"analyzed_at":     a.AnalyzedAt,
	})
}

// SetEventCategory changes the category of an event.
func (s *MongoStore) SetEventCategory(ctx context.Context, id, category string) error {
	return s.updateEvent(ctx, id, bson.M{"category": category})
}

func (s *MongoStore) updateEvent(ctx context.Context, id string, set bson.M) error {
	set["updated_at"] = time.Now().UTC()

	res, err := s.events.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateMissing marks every active event not in keepIDs inactive.
func (s *MongoStore) DeactivateMissing(ctx context.Context, keepIDs []string) (int64, error) {
	filter := bson.M{"is_active": true}
	if len(keepIDs) > 0 {
		filter["_id"] = bson.M{"$nin": keepIDs}
	}

	res, err := s.events.UpdateMany(ctx, filter, bson.M{"$set": bson.M{
		"is_active":  false,
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// DeleteEvent removes an event and its predictions.
func (s *MongoStore) DeleteEvent(ctx context.Context, id string) error {
	res, err := s.events.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}

	if _, err := s.predictions.DeleteMany(ctx, bson.M{"event_id": id}); err != nil {
		log.Warn().Err(err).Str("event_id", id).Msg("Failed to delete predictions")
	}
	return nil
}

// ============================================================================
// PREDICTION OPERATIONS
// ============================================================================

// CreatePrediction appends a prediction.
func (s *MongoStore) CreatePrediction(ctx context.Context, p *models.Prediction) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.predictions.InsertOne(ctx, p)
	return err
}

// ListPredictions returns the predictions of an event, newest first.
func (s *MongoStore) ListPredictions(ctx context.Context, eventID string, limit int) ([]models.Prediction, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.predictions.Find(ctx, bson.M{"event_id": eventID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	predictions := []models.Prediction{}
	if err := cursor.All(ctx, &predictions); err != nil {
		return nil, err
	}
	return predictions, nil
}

// ============================================================================
// CHAT OPERATIONS
// ============================================================================

// CreateChatMessage stores one chat message.
func (s *MongoStore) CreateChatMessage(ctx context.Context, m *models.ChatMessage) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.chatMessages.InsertOne(ctx, m)
	return err
}

// ListChatMessages returns chat messages, newest first.
func (s *MongoStore) ListChatMessages(ctx context.Context, eventID *string, limit int) ([]models.ChatMessage, error) {
	filter := bson.M{}
	if eventID != nil {
		filter["event_id"] = *eventID
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.chatMessages.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	messages := []models.ChatMessage{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// ============================================================================
// STATS OPERATIONS
// ============================================================================

// Stats returns general statistics.
func (s *MongoStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	var err error
	stats.TotalEvents, err = s.events.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, err
	}

	stats.ActiveEvents, err = s.events.CountDocuments(ctx, bson.M{"is_active": true})
	if err != nil {
		return nil, err
	}

	stats.AnalyzedEvents, err = s.events.CountDocuments(ctx, eventFilterDoc(EventFilter{ActiveOnly: true, AnalyzedOnly: true}))
	if err != nil {
		return nil, err
	}

	stats.Predictions, err = s.predictions.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, err
	}

	stats.ChatMessages, err = s.chatMessages.CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, err
	}

	var latest models.Event
	err = s.events.FindOne(ctx, bson.M{},
		options.FindOne().SetSort(bson.D{{Key: "updated_at", Value: -1}}).SetProjection(bson.M{"updated_at": 1}),
	).Decode(&latest)
	switch {
	case err == nil:
		stats.LastUpdated = &latest.UpdatedAt
	case !errors.Is(err, mongo.ErrNoDocuments):
		return nil, err
	}

	return stats, nil
}
