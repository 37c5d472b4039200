package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeaandrob/cloracle/internal/models"
	"github.com/leeaandrob/cloracle/internal/storage"
)

type stubFeed struct {
	events []models.Event
	calls  int
}

func (f *stubFeed) FetchAllEvents(context.Context) []models.Event {
	f.calls++
	out := make([]models.Event, len(f.events))
	copy(out, f.events)
	return out
}

func newTestSyncer(t *testing.T, feed Feed) (*Syncer, storage.Store) {
	t.Helper()
	store, err := storage.NewSQLStore("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return NewSyncer(feed, store), store
}

func fetched(id string, prob float64) models.Event {
	return models.Event{
		ID:         id,
		Slug:       "slug-" + id,
		Title:      "Will " + id + " happen?",
		Category:   models.CategoryOther,
		MarketProb: prob,
		IsActive:   true,
	}
}

func TestReconcileCreatesAndIsIdempotent(t *testing.T) {
	s, store := newTestSyncer(t, &stubFeed{})
	ctx := context.Background()
	in := []models.Event{fetched("E1", 0.73), fetched("E2", 0.2)}

	res, err := s.Reconcile(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 2, res.Total)

	ev, err := store.GetEvent(ctx, "E1")
	require.NoError(t, err)
	assert.InDelta(t, 0.73, ev.MarketProb, 1e-9)
	assert.True(t, ev.IsActive)
	assert.Nil(t, ev.CloracleProb)

	res, err = s.Reconcile(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 0, res.Deactivated)
}

func TestReconcileEpsilonGuard(t *testing.T) {
	s, store := newTestSyncer(t, &stubFeed{})
	ctx := context.Background()

	_, err := s.Reconcile(ctx, []models.Event{fetched("E1", 0.5)})
	require.NoError(t, err)

	res, err := s.Reconcile(ctx, []models.Event{fetched("E1", 0.5005)})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Updated)

	res, err = s.Reconcile(ctx, []models.Event{fetched("E1", 0.502)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	ev, err := store.GetEvent(ctx, "E1")
	require.NoError(t, err)
	assert.InDelta(t, 0.502, ev.MarketProb, 1e-9)
}

func TestReconcileSkipsSlugConflicts(t *testing.T) {
	s, store := newTestSyncer(t, &stubFeed{})
	ctx := context.Background()

	a := fetched("A", 0.4)
	b := fetched("B", 0.6)
	b.Slug = a.Slug

	res, err := s.Reconcile(ctx, []models.Event{a, b, fetched("C", 0.1)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Skipped)

	_, err = store.GetEvent(ctx, "B")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetEvent(ctx, "C")
	assert.NoError(t, err)
}

func TestReconcileDeactivatesMissingAndReactivates(t *testing.T) {
	s, store := newTestSyncer(t, &stubFeed{})
	ctx := context.Background()

	_, err := s.Reconcile(ctx, []models.Event{fetched("A", 0.4), fetched("B", 0.6)})
	require.NoError(t, err)

	res, err := s.Reconcile(ctx, []models.Event{fetched("A", 0.4)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deactivated)

	b, err := store.GetEvent(ctx, "B")
	require.NoError(t, err)
	assert.False(t, b.IsActive)

	// B comes back with an unchanged price.
	res, err = s.Reconcile(ctx, []models.Event{fetched("A", 0.4), fetched("B", 0.6)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	b, err = store.GetEvent(ctx, "B")
	require.NoError(t, err)
	assert.True(t, b.IsActive)
}

func TestReconcileLeavesAnalysisUntouched(t *testing.T) {
	s, store := newTestSyncer(t, &stubFeed{})
	ctx := context.Background()

	_, err := s.Reconcile(ctx, []models.Event{fetched("A", 0.4)})
	require.NoError(t, err)
	require.NoError(t, store.SetEventAnalysis(ctx, "A", models.Analysis{
		Probability: 0.9, Reasoning: "r", Confidence: models.ConfidenceHigh, AnalyzedAt: time.Now().UTC(),
	}))

	_, err = s.Reconcile(ctx, []models.Event{fetched("A", 0.7)})
	require.NoError(t, err)

	ev, err := store.GetEvent(ctx, "A")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, ev.MarketProb, 1e-9)
	require.NotNil(t, ev.CloracleProb)
	assert.InDelta(t, 0.9, *ev.CloracleProb, 1e-9)
}

func TestReconcileDeduplicatesFetchedIDs(t *testing.T) {
	s, store := newTestSyncer(t, &stubFeed{})
	ctx := context.Background()

	first := fetched("A", 0.4)
	second := fetched("A", 0.9)
	res, err := s.Reconcile(ctx, []models.Event{first, second})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Total)

	ev, err := store.GetEvent(ctx, "A")
	require.NoError(t, err)
	assert.InDelta(t, 0.4, ev.MarketProb, 1e-9)
}

func TestSyncOnceEmptyFeedKeepsActiveSet(t *testing.T) {
	feed := &stubFeed{events: []models.Event{fetched("A", 0.4), fetched("B", 0.6)}}
	s, store := newTestSyncer(t, feed)
	ctx := context.Background()

	res, err := s.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)

	feed.events = nil
	res, err = s.SyncOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, *res)

	active, err := store.CountEvents(ctx, storage.EventFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), active)

	status, err := s.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), status.TotalEvents)
	assert.Equal(t, int64(0), status.AnalyzedEvents)
	assert.NotNil(t, status.LastSync)
	require.NotNil(t, status.LastResult)
	assert.Equal(t, 2, status.LastResult.Created)
}

func TestReclassifyAll(t *testing.T) {
	s, store := newTestSyncer(t, &stubFeed{})
	ctx := context.Background()

	btc := fetched("A", 0.4)
	btc.Title = "Bitcoin above 100k?"
	plain := fetched("B", 0.4)
	plain.Title = "Xyzzy"
	_, err := s.Reconcile(ctx, []models.Event{btc, plain})
	require.NoError(t, err)

	res, err := s.ReclassifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, map[string]int{models.CategoryCrypto: 1, models.CategoryOther: 1}, res.Categories)

	ev, err := store.GetEvent(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, models.CategoryCrypto, ev.Category)

	res, err = s.ReclassifyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Updated)

	counts, total, err := s.CategoryDistribution(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, counts[models.CategoryCrypto])
}
