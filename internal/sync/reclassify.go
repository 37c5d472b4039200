package sync

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/leeaandrob/cloracle/internal/category"
	"github.com/leeaandrob/cloracle/internal/storage"
)

// ReclassifyResult summarizes a reclassification pass.
type ReclassifyResult struct {
	Updated    int            `json:"updated"`
	Total      int            `json:"total"`
	Categories map[string]int `json:"categories"`
}

// ReclassifyAll re-runs the classifier over every stored event and writes
// the category only where it changed.
func (s *Syncer) ReclassifyAll(ctx context.Context) (*ReclassifyResult, error) {
	events, err := s.store.FindEvents(ctx, storage.EventFilter{Order: storage.OrderCreatedDesc})
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	res := &ReclassifyResult{Total: len(events), Categories: map[string]int{}}
	for _, ev := range events {
		label := category.Classify(ev.Title, ev.Description)
		res.Categories[label]++

		if ev.Category == label {
			continue
		}
		if err := s.store.SetEventCategory(ctx, ev.ID, label); err != nil {
			return res, fmt.Errorf("set category for %s: %w", ev.ID, err)
		}
		res.Updated++
	}

	log.Info().
		Int("updated", res.Updated).
		Int("total", res.Total).
		Msg("Reclassification completed")

	return res, nil
}

// CategoryDistribution counts stored events per category.
func (s *Syncer) CategoryDistribution(ctx context.Context) (map[string]int, int, error) {
	events, err := s.store.FindEvents(ctx, storage.EventFilter{})
	if err != nil {
		return nil, 0, err
	}

	counts := map[string]int{}
	for _, ev := range events {
		counts[ev.Category]++
	}
	return counts, len(events), nil
}
