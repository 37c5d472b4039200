// Package storage persists events, predictions and chat messages.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/leeaandrob/cloracle/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("duplicate record")
)

// EventOrder selects the sort order for event queries.
type EventOrder int

const (
	// OrderUpdatedDesc sorts by last update, newest first.
	OrderUpdatedDesc EventOrder = iota
	// OrderCreatedDesc sorts by creation time, newest first.
	OrderCreatedDesc
)

// EventFilter narrows event queries. Zero values mean "no constraint".
type EventFilter struct {
	Category       string
	ActiveOnly     bool
	AnalyzedOnly   bool // cloracle probability present
	UnanalyzedOnly bool // cloracle probability or reasoning absent
	IDs            []string
	Order          EventOrder
	Limit          int
	Offset         int
}

// Store is the keyed record store behind the pipeline. Every write touches a
// single record except DeactivateMissing and DeleteEvent.
type Store interface {
	// Events
	GetEvent(ctx context.Context, id string) (*models.Event, error)
	FindEvents(ctx context.Context, f EventFilter) ([]models.Event, error)
	CountEvents(ctx context.Context, f EventFilter) (int64, error)
	CreateEvent(ctx context.Context, e *models.Event) error
	UpdateEventMarket(ctx context.Context, id string, u models.MarketUpdate) error
	SetEventAnalysis(ctx context.Context, id string, a models.Analysis) error
	SetEventCategory(ctx context.Context, id, category string) error
	DeactivateMissing(ctx context.Context, keepIDs []string) (int64, error)
	DeleteEvent(ctx context.Context, id string) error

	// Predictions, newest first. limit <= 0 returns all.
	CreatePrediction(ctx context.Context, p *models.Prediction) error
	ListPredictions(ctx context.Context, eventID string, limit int) ([]models.Prediction, error)

	// Chat messages, newest first. A nil eventID lists every message.
	CreateChatMessage(ctx context.Context, m *models.ChatMessage) error
	ListChatMessages(ctx context.Context, eventID *string, limit int) ([]models.ChatMessage, error)

	Stats(ctx context.Context) (*Stats, error)
	Close(ctx context.Context) error
}

// Stats holds general statistics.
type Stats struct {
	TotalEvents    int64      `json:"totalEvents"`
	ActiveEvents   int64      `json:"activeEvents"`
	AnalyzedEvents int64      `json:"analyzedEvents"`
	Predictions    int64      `json:"predictions"`
	ChatMessages   int64      `json:"chatMessages"`
	LastUpdated    *time.Time `json:"lastUpdated"`
}

// Options selects and configures a Store implementation.
type Options struct {
	Driver   string // mongo, postgres or sqlite
	MongoURI string
	MongoDB  string
	DSN      string
}

// Open connects to the store named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", "mongo":
		return NewMongoStore(ctx, opts.MongoURI, opts.MongoDB)
	case "postgres", "sqlite":
		return NewSQLStore(opts.Driver, opts.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

// EventPage is one page of an event listing.
type EventPage struct {
	Events  []models.Event `json:"events"`
	Total   int64          `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	HasMore bool           `json:"hasMore"`
}

// ListEvents returns a page of events matching f, each carrying its latest
// prediction.
func ListEvents(ctx context.Context, s Store, f EventFilter) (*EventPage, error) {
	events, err := s.FindEvents(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}

	countFilter := f
	countFilter.Limit, countFilter.Offset = 0, 0
	total, err := s.CountEvents(ctx, countFilter)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	for i := range events {
		latest, err := s.ListPredictions(ctx, events[i].ID, 1)
		if err != nil {
			return nil, fmt.Errorf("latest prediction for %s: %w", events[i].ID, err)
		}
		events[i].Predictions = latest
	}

	if events == nil {
		events = []models.Event{}
	}

	return &EventPage{
		Events:  events,
		Total:   total,
		Limit:   f.Limit,
		Offset:  f.Offset,
		HasMore: int64(f.Offset+len(events)) < total,
	}, nil
}
