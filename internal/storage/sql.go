package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/leeaandrob/cloracle/internal/models"
)

// SQLStore implements Store on top of gorm (PostgreSQL or SQLite).
type SQLStore struct {
	db *gorm.DB
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore opens a gorm connection for driver and migrates the schema.
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		if dsn == "" {
			dsn = ":memory:"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         NewGormLogger(),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == "sqlite" {
		// A single connection keeps in-memory databases shared and serializes writers.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	return NewSQLStoreFromDB(db)
}

// NewSQLStoreFromDB wraps an existing gorm handle and migrates the schema.
func NewSQLStoreFromDB(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&models.Event{}, &models.Prediction{}, &models.ChatMessage{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	log.Info().Str("dialect", db.Dialector.Name()).Msg("Connected to SQL store")
	return &SQLStore{db: db}, nil
}

// Close closes the underlying connection pool.
func (s *SQLStore) Close(_ context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

// ============================================================================
// EVENT OPERATIONS
// ============================================================================

func (s *SQLStore) eventQuery(ctx context.Context, f EventFilter) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&models.Event{})
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}
	if f.AnalyzedOnly {
		q = q.Where("cloracle_prob IS NOT NULL")
	}
	if f.UnanalyzedOnly {
		q = q.Where("cloracle_prob IS NULL OR cloracle_reason IS NULL")
	}
	if len(f.IDs) > 0 {
		q = q.Where("id IN ?", f.IDs)
	}
	return q
}

// GetEvent returns an event by id.
func (s *SQLStore) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := s.db.WithContext(ctx).First(&event, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// FindEvents returns events matching f.
func (s *SQLStore) FindEvents(ctx context.Context, f EventFilter) ([]models.Event, error) {
	order := "updated_at DESC, id ASC"
	if f.Order == OrderCreatedDesc {
		order = "created_at DESC, id ASC"
	}

	q := s.eventQuery(ctx, f).Order(order)
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var events []models.Event
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// CountEvents counts events matching f, ignoring pagination.
func (s *SQLStore) CountEvents(ctx context.Context, f EventFilter) (int64, error) {
	var n int64
	err := s.eventQuery(ctx, f).Count(&n).Error
	return n, err
}

// CreateEvent inserts a new event.
func (s *SQLStore) CreateEvent(ctx context.Context, e *models.Event) error {
	err := s.db.WithContext(ctx).Create(e).Error
	if err != nil && isDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

// UpdateEventMarket refreshes the market and content fields of an event.
func (s *SQLStore) UpdateEventMarket(ctx context.Context, id string, u models.MarketUpdate) error {
	return s.updateEvent(ctx, id, map[string]any{
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
func (s *SQLStore) SetEventAnalysis(ctx context.Context, id string, a models.Analysis) error {
	return s.updateEvent(ctx, id, map[string]any{
		"cloracle_prob":   a.Probability,
		"cloracle_reason": a.Reasoning,
		"confidence":      string(a.Confidence),
		"analyzed_at":     a.AnalyzedAt,
	})
}

// SetEventCategory changes the category of an event.
func (s *SQLStore) SetEventCategory(ctx context.Context, id, category string) error {
	return s.updateEvent(ctx, id, map[string]any{"category": category})
}

// updateEvent uses a map so nil pointers are written as NULL.
func (s *SQLStore) updateEvent(ctx context.Context, id string, values map[string]any) error {
	values["updated_at"] = time.Now().UTC()

	res := s.db.WithContext(ctx).Model(&models.Event{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateMissing marks every active event not in keepIDs inactive.
func (s *SQLStore) DeactivateMissing(ctx context.Context, keepIDs []string) (int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Event{}).Where("is_active = ?", true)
	if len(keepIDs) > 0 {
		q = q.Where("id NOT IN ?", keepIDs)
	}

	res := q.Updates(map[string]any{
		"is_active":  false,
		"updated_at": time.Now().UTC(),
	})
	return res.RowsAffected, res.Error
}

// DeleteEvent removes an event and its predictions.
func (s *SQLStore) DeleteEvent(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("event_id = ?", id).Delete(&models.Prediction{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Event{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ============================================================================
// PREDICTION OPERATIONS
// ============================================================================

// CreatePrediction appends a prediction.
func (s *SQLStore) CreatePrediction(ctx context.Context, p *models.Prediction) error {
	return s.db.WithContext(ctx).Create(p).Error
}

// ListPredictions returns the predictions of an event, newest first.
func (s *SQLStore) ListPredictions(ctx context.Context, eventID string, limit int) ([]models.Prediction, error) {
	q := s.db.WithContext(ctx).Where("event_id = ?", eventID).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	predictions := []models.Prediction{}
	if err := q.Find(&predictions).Error; err != nil {
		return nil, err
	}
	return predictions, nil
}

// ============================================================================
// CHAT OPERATIONS
// ============================================================================

// CreateChatMessage stores one chat message.
func (s *SQLStore) CreateChatMessage(ctx context.Context, m *models.ChatMessage) error {
	return s.db.WithContext(ctx).Create(m).Error
}

// ListChatMessages returns chat messages, newest first.
func (s *SQLStore) ListChatMessages(ctx context.Context, eventID *string, limit int) ([]models.ChatMessage, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if eventID != nil {
		q = q.Where("event_id = ?", *eventID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	messages := []models.ChatMessage{}
	if err := q.Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

// ============================================================================
// STATS OPERATIONS
// ============================================================================

// Stats returns general statistics.
func (s *SQLStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	db := s.db.WithContext(ctx)

	if err := db.Model(&models.Event{}).Count(&stats.TotalEvents).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Event{}).Where("is_active = ?", true).Count(&stats.ActiveEvents).Error; err != nil {
		return nil, err
	}
	if err := s.eventQuery(ctx, EventFilter{ActiveOnly: true, AnalyzedOnly: true}).Count(&stats.AnalyzedEvents).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Prediction{}).Count(&stats.Predictions).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.ChatMessage{}).Count(&stats.ChatMessages).Error; err != nil {
		return nil, err
	}

	var latest models.Event
	err := db.Select("updated_at").Order("updated_at DESC").Take(&latest).Error
	switch {
	case err == nil:
		stats.LastUpdated = &latest.UpdatedAt
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	return stats, nil
}
