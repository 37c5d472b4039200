package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/leeaandrob/cloracle/internal/llm"
	"github.com/leeaandrob/cloracle/internal/storage"
)

// Outcome reasons.
const (
	ReasonRateLimit = "rate_limit"
	ReasonError     = "error"
)

// Outcome is the per-event result of an auto batch.
type Outcome struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// AutoBatchResult summarizes one RunAutoAnalyzeBatch call.
type AutoBatchResult struct {
	Message  string    `json:"message"`
	Analyzed int       `json:"analyzed"`
	Total    int       `json:"total"`
	Results  []Outcome `json:"results"`

	// RateLimited counts events that hit a rate limit or returned nothing usable.
	RateLimited int `json:"rateLimited"`

	// HasMore reports whether unanalyzed events remain after this batch.
	HasMore bool `json:"hasMore"`

	// Interrupted is set when ctx ended before the slice was finished.
	// Events already committed stay committed.
	Interrupted bool `json:"interrupted,omitempty"`
}

// RunAutoAnalyzeBatch analyzes one bounded slice of the unanalyzed backlog,
// newest first, one event at a time. Callers re-invoke it while HasMore is set.
// Concurrent calls share one run.
func (s *Service) RunAutoAnalyzeBatch(ctx context.Context) (*AutoBatchResult, error) {
	v, err, _ := s.group.Do("auto-batch", func() (interface{}, error) {
		return s.runAutoBatch(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*AutoBatchResult), nil
}

func (s *Service) runAutoBatch(ctx context.Context) (*AutoBatchResult, error) {
	events, err := s.store.FindEvents(ctx, storage.EventFilter{
		UnanalyzedOnly: true,
		Order:          storage.OrderCreatedDesc,
		Limit:          s.cfg.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("find unanalyzed events: %w", err)
	}

	res := &AutoBatchResult{Total: len(events), Results: make([]Outcome, 0, len(events))}
	if len(events) == 0 {
		res.Message = "All events already analyzed"
		return res, nil
	}

	log.Info().Int("count", len(events)).Msg("Starting analysis batch")

	for i := range events {
		event := &events[i]

		if err := sleep(ctx, s.cfg.Delay); err != nil {
			res.Interrupted = true
			break
		}

		outcome := Outcome{ID: event.ID, Success: true}
		result, err := s.analyzer.Analyze(ctx, InputFromEvent(event))
		switch {
		case errors.Is(err, llm.ErrRateLimited):
			outcome = Outcome{ID: event.ID, Reason: ReasonRateLimit}
			res.RateLimited++
			log.Warn().Str("event_id", event.ID).Dur("cooldown", s.cfg.Cooldown).Msg("Rate limited, cooling down")
			if err := sleep(ctx, s.cfg.Cooldown); err != nil {
				res.Interrupted = true
			}

		case errors.Is(err, ErrMalformedOutput), errors.Is(err, llm.ErrEmptyCompletion),
			err == nil && result.Neutral():
			// Nothing usable came back; leave the event for a later pass.
			outcome = Outcome{ID: event.ID, Reason: ReasonRateLimit}
			res.RateLimited++
			log.Warn().Str("event_id", event.ID).Msg("Neutral analysis skipped")

		case err != nil:
			outcome = Outcome{ID: event.ID, Reason: ReasonError}
			log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to analyze event")

		default:
			if _, err := s.commit(ctx, event, result); err != nil {
				outcome = Outcome{ID: event.ID, Reason: ReasonError}
				log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to save analysis")
			} else {
				res.Analyzed++
			}
		}

		res.Results = append(res.Results, outcome)
		if res.Interrupted || ctx.Err() != nil {
			res.Interrupted = true
			break
		}
	}

	res.Message = fmt.Sprintf("Analyzed %d of %d events", res.Analyzed, res.Total)

	remaining, err := s.store.CountEvents(context.WithoutCancel(ctx), storage.EventFilter{UnanalyzedOnly: true})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to count remaining backlog")
		res.HasMore = res.Analyzed < res.Total
	} else {
		res.HasMore = remaining > 0
	}

	log.Info().
		Int("analyzed", res.Analyzed).
		Int("total", res.Total).
		Int("rate_limited", res.RateLimited).
		Bool("has_more", res.HasMore).
		Bool("interrupted", res.Interrupted).
		Msg("Analysis batch complete")

	return res, nil
}
