package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/leeaandrob/cloracle/internal/llm"
	"github.com/leeaandrob/cloracle/internal/models"
	"github.com/leeaandrob/cloracle/internal/storage"
)

// DefaultBatchLimit is the number of events PUT-style batch analysis takes
// when no ids are given.
const DefaultBatchLimit = 5

// Config tunes the batch paths.
type Config struct {
	BatchSize int           // events per auto batch
	Delay     time.Duration // wait before each completion call
	Cooldown  time.Duration // extra wait after a rate limit
}

// DefaultConfig returns the production pacing.
func DefaultConfig() Config {
	return Config{
		BatchSize: 10,
		Delay:     1500 * time.Millisecond,
		Cooldown:  10 * time.Second,
	}
}

// Service runs analyses and commits them to the store.
type Service struct {
	store    storage.Store
	analyzer *Analyzer
	cfg      Config
	now      func() time.Time

	group singleflight.Group
}

// NewService creates a new analysis service.
func NewService(store storage.Store, analyzer *Analyzer, cfg Config) *Service {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Service{
		store:    store,
		analyzer: analyzer,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// AnalyzeOne analyzes a single event and commits the result. Unknown ids
// return storage.ErrNotFound; a neutral result returns ErrInconclusive and
// writes nothing.
func (s *Service) AnalyzeOne(ctx context.Context, eventID string) (*models.Event, *Result, error) {
	type outcome struct {
		event  *models.Event
		result *Result
	}

	v, err, _ := s.group.Do("event:"+eventID, func() (interface{}, error) {
		event, err := s.store.GetEvent(ctx, eventID)
		if err != nil {
			return nil, err
		}

		result, err := s.analyzer.Analyze(ctx, InputFromEvent(event))
		if err != nil {
			return nil, err
		}
		if result.Neutral() {
			return nil, ErrInconclusive
		}

		updated, err := s.commit(ctx, event, result)
		if err != nil {
			return nil, err
		}
		return outcome{event: updated, result: result}, nil
	})
	if err != nil {
		return nil, nil, err
	}

	out := v.(outcome)
	return out.event, out.result, nil
}

// commit writes the analysis onto the event, then appends the prediction.
// The event update sets all four AI fields at once. A finished analysis is
// committed even when ctx has already ended.
func (s *Service) commit(ctx context.Context, event *models.Event, r *Result) (*models.Event, error) {
	ctx = context.WithoutCancel(ctx)
	analyzedAt := s.now()
	analysis := models.Analysis{
		Probability: r.Fraction(),
		Reasoning:   r.Reasoning,
		Confidence:  r.Confidence,
		AnalyzedAt:  analyzedAt,
	}
	if err := s.store.SetEventAnalysis(ctx, event.ID, analysis); err != nil {
		return nil, fmt.Errorf("save analysis: %w", err)
	}

	prediction := &models.Prediction{
		ID:          uuid.NewString(),
		EventID:     event.ID,
		Probability: analysis.Probability,
		Reasoning:   analysis.Reasoning,
		Confidence:  analysis.Confidence,
		CreatedAt:   analyzedAt,
	}
	if err := s.store.CreatePrediction(ctx, prediction); err != nil {
		return nil, fmt.Errorf("save prediction: %w", err)
	}

	log.Info().
		Str("event_id", event.ID).
		Float64("market", event.MarketProb).
		Float64("cloracle", analysis.Probability).
		Str("confidence", string(analysis.Confidence)).
		Msg("Event analyzed")

	updated, err := s.store.GetEvent(ctx, event.ID)
	if err != nil {
		return nil, fmt.Errorf("reload event: %w", err)
	}
	return updated, nil
}

// BatchItem is the outcome for one event of AnalyzeBatch.
type BatchItem struct {
	EventID     string   `json:"eventId"`
	Status      string   `json:"status"` // success or error
	Probability *float64 `json:"probability,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// BatchResult summarizes AnalyzeBatch.
type BatchResult struct {
	Analyzed int         `json:"analyzed"`
	Failed   int         `json:"failed"`
	Results  []BatchItem `json:"results"`
}

// AnalyzeBatch analyzes the given events, or when ids is empty up to limit
// active unanalyzed events, newest first. Events are processed one at a time.
func (s *Service) AnalyzeBatch(ctx context.Context, ids []string, limit int) (*BatchResult, error) {
	filter := storage.EventFilter{IDs: ids}
	if len(ids) == 0 {
		if limit <= 0 {
			limit = DefaultBatchLimit
		}
		filter = storage.EventFilter{
			ActiveOnly:     true,
			UnanalyzedOnly: true,
			Order:          storage.OrderCreatedDesc,
			Limit:          limit,
		}
	}

	events, err := s.store.FindEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}

	res := &BatchResult{Results: make([]BatchItem, 0, len(events))}
	for i := range events {
		event := &events[i]
		if i > 0 {
			if err := sleep(ctx, s.cfg.Delay); err != nil {
				return res, err
			}
		}

		item := BatchItem{EventID: event.ID, Status: "success"}
		result, err := s.analyzer.Analyze(ctx, InputFromEvent(event))
		if err == nil && result.Neutral() {
			err = ErrInconclusive
		}
		if err == nil {
			_, err = s.commit(ctx, event, result)
		}

		if err != nil {
			item.Status = "error"
			item.Error = err.Error()
			res.Failed++
			log.Warn().Err(err).Str("event_id", event.ID).Msg("Batch analysis failed")
		} else {
			p := result.Probability
			item.Probability = &p
			res.Analyzed++
		}
		res.Results = append(res.Results, item)

		if errors.Is(err, llm.ErrRateLimited) {
			if err := sleep(ctx, s.cfg.Cooldown); err != nil {
				return res, err
			}
		}
	}

	return res, nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
