package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeaandrob/cloracle/internal/llm"
	"github.com/leeaandrob/cloracle/internal/models"
	"github.com/leeaandrob/cloracle/internal/polymarket"
	"github.com/leeaandrob/cloracle/internal/storage"
	syncer "github.com/leeaandrob/cloracle/internal/sync"
)

const goodReply = `{"probability":40,"reasoning":"...","confidence":"high","keyFactors":["a"]}`

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewSQLStore("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func newTestService(t *testing.T, store storage.Store, p llm.Provider) *Service {
	t.Helper()
	return NewService(store, NewAnalyzer(p, nil), Config{BatchSize: 10})
}

func seedEvent(t *testing.T, store storage.Store, id string, created time.Time) {
	t.Helper()
	require.NoError(t, store.CreateEvent(context.Background(), &models.Event{
		ID:         id,
		Slug:       "slug-" + id,
		Title:      "Event " + id,
		Category:   models.CategoryOther,
		MarketProb: 0.5,
		IsActive:   true,
		CreatedAt:  created,
		UpdatedAt:  created,
	}))
}

func assertAnalysisConsistent(t *testing.T, store storage.Store, id string, wantPredictions int) {
	t.Helper()
	ctx := context.Background()
	ev, err := store.GetEvent(ctx, id)
	require.NoError(t, err)

	set := 0
	for _, present := range []bool{ev.CloracleProb != nil, ev.CloracleReason != nil, ev.Confidence != nil, ev.AnalyzedAt != nil} {
		if present {
			set++
		}
	}
	assert.Contains(t, []int{0, 4}, set, "partial analysis on %s", id)

	preds, err := store.ListPredictions(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, preds, wantPredictions)
	if wantPredictions > 0 {
		require.NotNil(t, ev.CloracleProb)
		assert.InDelta(t, *ev.CloracleProb, preds[0].Probability, 1e-9)
	}
}

func TestEndToEndSyncThenAutoAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"E1","slug":"e1","title":"Will X happen?","description":"",
			"markets":[{"outcomePrices":"[\"0.73\",\"0.27\"]"}]}]`))
	}))
	defer srv.Close()

	ctx := context.Background()
	store := newTestStore(t)
	feed := polymarket.NewClient(polymarket.Config{BaseURL: srv.URL, PageSize: 100, MaxPages: 1})

	res, err := syncer.NewSyncer(feed, store).SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	ev, err := store.GetEvent(ctx, "E1")
	require.NoError(t, err)
	assert.InDelta(t, 0.73, ev.MarketProb, 1e-9)
	assert.True(t, ev.IsActive)
	assert.Nil(t, ev.CloracleProb)

	p := &scriptedProvider{replies: []reply{{content: goodReply}}}
	batch, err := newTestService(t, store, p).RunAutoAnalyzeBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Analyzed)
	assert.Equal(t, 1, batch.Total)
	assert.False(t, batch.HasMore)
	assert.Equal(t, []Outcome{{ID: "E1", Success: true}}, batch.Results)

	ev, err = store.GetEvent(ctx, "E1")
	require.NoError(t, err)
	require.NotNil(t, ev.CloracleProb)
	assert.InDelta(t, 0.40, *ev.CloracleProb, 1e-9)
	require.NotNil(t, ev.Confidence)
	assert.Equal(t, models.ConfidenceHigh, *ev.Confidence)
	assertAnalysisConsistent(t, store, "E1", 1)
}

func TestAnalyzeOne(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedEvent(t, store, "A", time.Now().UTC())

	p := &scriptedProvider{replies: []reply{{content: `{"probability": 150, "reasoning": "sure", "confidence": "LOW"}`}}}
	svc := newTestService(t, store, p)

	ev, result, err := svc.AnalyzeOne(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 100.0, result.Probability)
	require.NotNil(t, ev.CloracleProb)
	assert.InDelta(t, 1.0, *ev.CloracleProb, 1e-9)
	assert.Equal(t, models.ConfidenceLow, *ev.Confidence)
	assertAnalysisConsistent(t, store, "A", 1)

	_, _, err = svc.AnalyzeOne(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, 1, p.calls())
}

func TestAnalyzeOneInconclusiveWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedEvent(t, store, "A", time.Now().UTC())

	p := &scriptedProvider{replies: []reply{{content: `{"confidence": "high"}`}}}
	_, _, err := newTestService(t, store, p).AnalyzeOne(ctx, "A")
	assert.ErrorIs(t, err, ErrInconclusive)
	assertAnalysisConsistent(t, store, "A", 0)
}

func TestAnalyzeOneRateLimited(t *testing.T) {
	store := newTestStore(t)
	seedEvent(t, store, "A", time.Now().UTC())

	p := &scriptedProvider{replies: []reply{{err: llm.ErrRateLimited}}}
	_, _, err := newTestService(t, store, p).AnalyzeOne(context.Background(), "A")
	assert.ErrorIs(t, err, llm.ErrRateLimited)
	assertAnalysisConsistent(t, store, "A", 0)
}

func TestRunAutoAnalyzeBatchEmptyBacklogMakesNoCalls(t *testing.T) {
	store := newTestStore(t)
	p := &scriptedProvider{}

	res, err := newTestService(t, store, p).RunAutoAnalyzeBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Analyzed)
	assert.Equal(t, 0, res.Total)
	assert.Empty(t, res.Results)
	assert.False(t, res.HasMore)
	assert.Equal(t, 0, p.calls())
}

func TestRunAutoAnalyzeBatchOutcomes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	// Newest first: D, C, B, A.
	for i, id := range []string{"A", "B", "C", "D"} {
		seedEvent(t, store, id, base.Add(time.Duration(i)*time.Minute))
	}

	p := &scriptedProvider{replies: []reply{
		{content: goodReply},            // D
		{err: llm.ErrRateLimited},       // C
		{content: `{}`},                 // B: neutral
		{err: context.DeadlineExceeded}, // A
	}}
	res, err := newTestService(t, store, p).RunAutoAnalyzeBatch(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Analyzed)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 2, res.RateLimited)
	assert.True(t, res.HasMore)
	assert.Equal(t, []Outcome{
		{ID: "D", Success: true},
		{ID: "C", Reason: ReasonRateLimit},
		{ID: "B", Reason: ReasonRateLimit},
		{ID: "A", Reason: ReasonError},
	}, res.Results)
	assert.Equal(t, "Analyzed 1 of 4 events", res.Message)

	assertAnalysisConsistent(t, store, "D", 1)
	for _, id := range []string{"A", "B", "C"} {
		assertAnalysisConsistent(t, store, id, 0)
	}
}

func TestRunAutoAnalyzeBatchRespectsBatchSize(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 12; i++ {
		seedEvent(t, store, string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
	}

	p := &scriptedProvider{replies: []reply{{content: goodReply}}}
	svc := newTestService(t, store, p)

	res, err := svc.RunAutoAnalyzeBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, res.Total)
	assert.Equal(t, 10, res.Analyzed)
	assert.True(t, res.HasMore)

	res, err = svc.RunAutoAnalyzeBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.False(t, res.HasMore)
}

func TestRunAutoAnalyzeBatchInterruptedKeepsCommittedWork(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	seedEvent(t, store, "A", base)
	seedEvent(t, store, "B", base.Add(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	p := &cancelAfterFirst{cancel: cancel}
	svc := NewService(store, NewAnalyzer(p, nil), Config{BatchSize: 10, Delay: time.Millisecond})

	res, err := svc.RunAutoAnalyzeBatch(ctx)
	require.NoError(t, err)
	assert.True(t, res.Interrupted)
	assert.Equal(t, 1, res.Analyzed)
	assertAnalysisConsistent(t, store, "B", 1)
	assertAnalysisConsistent(t, store, "A", 0)
}

// cancelAfterFirst answers once, then cancels the batch context.
type cancelAfterFirst struct {
	cancel context.CancelFunc
	n      int
}

func (c *cancelAfterFirst) Complete(context.Context, llm.Request) (string, error) {
	c.n++
	if c.n == 1 {
		defer c.cancel()
	}
	return goodReply, nil
}

func (c *cancelAfterFirst) Name() string { return "cancel" }

func TestAnalyzeBatch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"A", "B", "C"} {
		seedEvent(t, store, id, base.Add(time.Duration(i)*time.Minute))
	}

	p := &scriptedProvider{replies: []reply{{content: goodReply}, {content: "garbage"}}}
	svc := newTestService(t, store, p)

	res, err := svc.AnalyzeBatch(ctx, []string{"A", "B"}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Analyzed)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Results, 2)

	statuses := map[string]string{}
	for _, item := range res.Results {
		statuses[item.EventID] = item.Status
	}
	assert.Len(t, statuses, 2)

	// Without ids: active unanalyzed events up to the limit.
	p.replies = []reply{{content: goodReply}}
	res, err = svc.AnalyzeBatch(ctx, nil, 1)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "success", res.Results[0].Status)
	require.NotNil(t, res.Results[0].Probability)
	assert.Equal(t, 40.0, *res.Results[0].Probability)
}

func TestRunAutoAnalyzeBatchWaitsBeforeEachCall(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"A", "B", "C"} {
		seedEvent(t, store, id, base.Add(time.Duration(i)*time.Minute))
	}

	const delay = 20 * time.Millisecond
	p := &scriptedProvider{replies: []reply{{content: goodReply}}}
	svc := NewService(store, NewAnalyzer(p, nil), Config{BatchSize: 10, Delay: delay})

	start := time.Now()
	res, err := svc.RunAutoAnalyzeBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Analyzed)

	at := p.callTimes()
	require.Len(t, at, 3)
	assert.GreaterOrEqual(t, at[0].Sub(start), delay)
	for i := 1; i < len(at); i++ {
		assert.GreaterOrEqual(t, at[i].Sub(at[i-1]), delay, "gap before call %d", i)
	}
}

func TestRunAutoAnalyzeBatchCoolsDownAfterRateLimit(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	seedEvent(t, store, "A", base)
	seedEvent(t, store, "B", base.Add(time.Minute))

	const cooldown = 50 * time.Millisecond
	p := &scriptedProvider{replies: []reply{
		{err: llm.ErrRateLimited}, // B
		{content: goodReply},      // A
	}}
	svc := NewService(store, NewAnalyzer(p, nil), Config{BatchSize: 10, Cooldown: cooldown})

	res, err := svc.RunAutoAnalyzeBatch(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Interrupted)
	assert.Equal(t, []Outcome{
		{ID: "B", Reason: ReasonRateLimit},
		{ID: "A", Success: true},
	}, res.Results)

	at := p.callTimes()
	require.Len(t, at, 2)
	assert.GreaterOrEqual(t, at[1].Sub(at[0]), cooldown)

	assertAnalysisConsistent(t, store, "A", 1)
	assertAnalysisConsistent(t, store, "B", 0)
}

func TestRunAutoAnalyzeBatchBudgetEndsCooldown(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	seedEvent(t, store, "A", base)
	seedEvent(t, store, "B", base.Add(time.Minute))

	p := &scriptedProvider{replies: []reply{{err: llm.ErrRateLimited}}}
	svc := NewService(store, NewAnalyzer(p, nil), Config{BatchSize: 10, Cooldown: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := svc.RunAutoAnalyzeBatch(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, res.Interrupted)
	assert.Equal(t, 1, p.calls())
	assert.True(t, res.HasMore)
}

func TestAnalyzeBatchCoolsDownAfterRateLimit(t *testing.T) {
	store := newTestStore(t)
	base := time.Now().UTC().Add(-time.Hour)
	seedEvent(t, store, "A", base)
	seedEvent(t, store, "B", base.Add(time.Minute))

	const cooldown = 50 * time.Millisecond
	p := &scriptedProvider{replies: []reply{
		{err: llm.ErrRateLimited},
		{content: goodReply},
	}}
	svc := NewService(store, NewAnalyzer(p, nil), Config{Cooldown: cooldown})

	res, err := svc.AnalyzeBatch(context.Background(), nil, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Analyzed)
	assert.Equal(t, 1, res.Failed)

	at := p.callTimes()
	require.Len(t, at, 2)
	assert.GreaterOrEqual(t, at[1].Sub(at[0]), cooldown)
}
