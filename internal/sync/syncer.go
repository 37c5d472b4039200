// Package sync reconciles the external market feed against the local store.
package sync

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/leeaandrob/cloracle/internal/category"
	"github.com/leeaandrob/cloracle/internal/models"
	"github.com/leeaandrob/cloracle/internal/storage"
)

// ProbabilityEpsilon is the smallest market probability change that
// triggers an update of a stored event.
const ProbabilityEpsilon = 0.001

// Feed supplies normalized events. An empty result means nothing was fetched.
type Feed interface {
	FetchAllEvents(ctx context.Context) []models.Event
}

// Result summarizes one reconciliation pass.
type Result struct {
	Created     int `json:"created"`
	Updated     int `json:"updated"`
	Skipped     int `json:"skipped"`
	Deactivated int `json:"deactivated"`
	Total       int `json:"total"`
}

// Status reports sync progress for the client.
type Status struct {
	TotalEvents    int64      `json:"totalEvents"`
	AnalyzedEvents int64      `json:"analyzedEvents"`
	LastSync       *time.Time `json:"lastSync"`
	LastResult     *Result    `json:"lastResult,omitempty"`
}

// Syncer pulls events from the feed and merges them into the store.
type Syncer struct {
	feed  Feed
	store storage.Store

	group singleflight.Group

	mu         sync.RWMutex
	lastResult *Result
}

// NewSyncer creates a new syncer.
func NewSyncer(feed Feed, store storage.Store) *Syncer {
	return &Syncer{feed: feed, store: store}
}

// SyncOnce fetches the feed and reconciles it. An empty fetch is a no-op so
// a feed outage never deactivates stored events. Concurrent calls share one run.
func (s *Syncer) SyncOnce(ctx context.Context) (*Result, error) {
	v, err, shared := s.group.Do("sync", func() (interface{}, error) {
		start := time.Now()

		fetched := s.feed.FetchAllEvents(ctx)
		if len(fetched) == 0 {
			log.Warn().Msg("No events fetched from feed, skipping reconciliation")
			return &Result{}, nil
		}

		res, err := s.Reconcile(ctx, fetched)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.lastResult = res
		s.mu.Unlock()

		log.Info().
			Int("created", res.Created).
			Int("updated", res.Updated).
			Int("skipped", res.Skipped).
			Int("deactivated", res.Deactivated).
			Int("total", res.Total).
			Dur("took", time.Since(start)).
			Msg("Sync completed")

		return res, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug().Msg("Joined in-flight sync")
	}
	return v.(*Result), nil
}

// Reconcile merges fetched into the store keyed by id.
//
// New ids are inserted active; slug conflicts are skipped and counted.
// Existing events are refreshed only when the market probability moved by
// more than ProbabilityEpsilon, or when they had been deactivated. AI fields
// are never touched. Afterwards every active event missing from fetched is
// deactivated. An empty fetched set does nothing.
func (s *Syncer) Reconcile(ctx context.Context, fetched []models.Event) (*Result, error) {
	res := &Result{}
	if len(fetched) == 0 {
		return res, nil
	}

	seen := make(map[string]struct{}, len(fetched))
	ids := make([]string, 0, len(fetched))

	for i := range fetched {
		ev := fetched[i]
		if ev.ID == "" {
			continue
		}
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}
		ids = append(ids, ev.ID)
		res.Total++

		existing, err := s.store.GetEvent(ctx, ev.ID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			if err := s.create(ctx, &ev); err != nil {
				if errors.Is(err, storage.ErrDuplicate) {
					log.Warn().Str("event_id", ev.ID).Str("slug", ev.Slug).Msg("Skipping event with duplicate slug")
					res.Skipped++
					continue
				}
				return res, fmt.Errorf("create event %s: %w", ev.ID, err)
			}
			res.Created++

		case err != nil:
			return res, fmt.Errorf("get event %s: %w", ev.ID, err)

		default:
			changed := math.Abs(existing.MarketProb-ev.MarketProb) > ProbabilityEpsilon
			if !changed && existing.IsActive {
				continue
			}
			if err := s.store.UpdateEventMarket(ctx, ev.ID, models.MarketUpdate{
				Title:       ev.Title,
				Description: ev.Description,
				MarketProb:  ev.MarketProb,
				Volume:      ev.Volume,
				EndDate:     ev.EndDate,
				ImageURL:    ev.ImageURL,
				IsActive:    true,
			}); err != nil {
				return res, fmt.Errorf("update event %s: %w", ev.ID, err)
			}
			res.Updated++
		}
	}

	if len(ids) == 0 {
		return res, nil
	}

	n, err := s.store.DeactivateMissing(ctx, ids)
	if err != nil {
		return res, fmt.Errorf("deactivate missing events: %w", err)
	}
	res.Deactivated = int(n)

	return res, nil
}

func (s *Syncer) create(ctx context.Context, ev *models.Event) error {
	ev.IsActive = true
	if ev.Category == "" {
		ev.Category = category.Classify(ev.Title, ev.Description)
	}
	// AI state is owned by the analysis pipeline.
	ev.CloracleProb, ev.CloracleReason, ev.Confidence, ev.AnalyzedAt = nil, nil, nil, nil
	return s.store.CreateEvent(ctx, ev)
}

// Status returns counts of active and analyzed events and the last sync time.
func (s *Syncer) Status(ctx context.Context) (*Status, error) {
	total, err := s.store.CountEvents(ctx, storage.EventFilter{ActiveOnly: true})
	if err != nil {
		return nil, err
	}
	analyzed, err := s.store.CountEvents(ctx, storage.EventFilter{ActiveOnly: true, AnalyzedOnly: true})
	if err != nil {
		return nil, err
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	last := s.lastResult
	s.mu.RUnlock()

	return &Status{
		TotalEvents:    total,
		AnalyzedEvents: analyzed,
		LastSync:       stats.LastUpdated,
		LastResult:     last,
	}, nil
}
