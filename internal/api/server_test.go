package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeaandrob/cloracle/internal/chat"
	"github.com/leeaandrob/cloracle/internal/llm"
	"github.com/leeaandrob/cloracle/internal/models"
	"github.com/leeaandrob/cloracle/internal/oracle"
	"github.com/leeaandrob/cloracle/internal/scheduler"
	"github.com/leeaandrob/cloracle/internal/storage"
	syncer "github.com/leeaandrob/cloracle/internal/sync"
)

type stubFeed struct{ events []models.Event }

func (f *stubFeed) FetchAllEvents(context.Context) []models.Event { return f.events }

type stubProvider struct {
	mu      sync.Mutex
	content string
	err     error
	calls   int
}

func (p *stubProvider) Complete(context.Context, llm.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.content, p.err
}

func (p *stubProvider) Name() string { return "stub" }

type testEnv struct {
	store    storage.Store
	feed     *stubFeed
	provider *stubProvider
	handler  http.Handler
}

func newTestEnv(t *testing.T, sched *scheduler.Scheduler) *testEnv {
	t.Helper()
	store, err := storage.NewSQLStore("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	feed := &stubFeed{}
	provider := &stubProvider{content: `{"probability": 40, "reasoning": "because", "confidence": "high", "keyFactors": ["a"]}`}

	srv := NewServer(Deps{
		Store:       store,
		Syncer:      syncer.NewSyncer(feed, store),
		Oracle:      oracle.NewService(store, oracle.NewAnalyzer(provider, nil), oracle.Config{BatchSize: 10}),
		Chat:        chat.NewMediator(store, provider),
		Scheduler:   sched,
		BatchBudget: 10 * time.Second,
	}, ":0")

	return &testEnv{store: store, feed: feed, provider: provider, handler: srv.Handler()}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var out map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func feedEvent(id, title string, prob float64) models.Event {
	return models.Event{ID: id, Slug: "slug-" + id, Title: title, Category: models.CategoryOther, MarketProb: prob, IsActive: true}
}

func TestHealthAndCategories(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, body := env.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = env.do(t, http.MethodGet, "/api/categories", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, len(models.DefaultCategories), body["count"])
}

func TestSyncListAndAnalyzeFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, body := env.do(t, http.MethodPost, "/api/sync", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "No events fetched from Polymarket", body["message"])

	env.feed.events = []models.Event{feedEvent("E1", "Will X happen?", 0.73), feedEvent("E2", "Bitcoin to 200k?", 0.1)}
	rec, body = env.do(t, http.MethodPost, "/api/sync", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Sync completed successfully", body["message"])
	assert.EqualValues(t, 2, body["created"])
	assert.EqualValues(t, 2, body["total"])

	rec, body = env.do(t, http.MethodGet, "/api/events?limit=1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["total"])
	assert.Equal(t, true, body["hasMore"])
	assert.Len(t, body["events"], 1)

	rec, body = env.do(t, http.MethodPost, "/api/analyze", map[string]string{"eventId": "E1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	analysis := body["analysis"].(map[string]interface{})
	assert.EqualValues(t, 40, analysis["probability"])
	assert.Equal(t, "high", analysis["confidence"])
	event := body["event"].(map[string]interface{})
	assert.InDelta(t, 0.4, event["cloracleProb"], 1e-9)

	rec, body = env.do(t, http.MethodGet, "/api/events?analyzed=true", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["total"])

	rec, body = env.do(t, http.MethodGet, "/api/events/E1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["predictions"], 1)
	assert.InDelta(t, 0.4-0.73, body["divergence"], 1e-9)

	rec, body = env.do(t, http.MethodGet, "/api/sync", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["totalEvents"])
	assert.EqualValues(t, 1, body["analyzedEvents"])

	rec, body = env.do(t, http.MethodPost, "/api/analyze-all", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["analyzed"])
	assert.EqualValues(t, 1, body["total"])
	assert.Equal(t, false, body["hasMore"])

	rec, body = env.do(t, http.MethodPost, "/api/analyze-all", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["total"])
	assert.Equal(t, "All events already analyzed", body["message"])
}

func TestAnalyzeErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.store.CreateEvent(ctx, &models.Event{ID: "E1", Slug: "e1", Title: "t", Category: models.CategoryOther, IsActive: true}))

	rec, _ := env.do(t, http.MethodPost, "/api/analyze", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body := env.do(t, http.MethodPost, "/api/analyze", map[string]string{"eventId": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Event not found", body["error"])

	env.provider.err = llm.ErrRateLimited
	rec, _ = env.do(t, http.MethodPost, "/api/analyze", map[string]string{"eventId": "E1"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	env.provider.err = nil
	env.provider.content = `{}`
	rec, _ = env.do(t, http.MethodPost, "/api/analyze", map[string]string{"eventId": "E1"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	env.provider.content = "not json"
	rec, body = env.do(t, http.MethodPost, "/api/analyze", map[string]string{"eventId": "E1"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Analysis failed", body["error"])
	assert.NotEmpty(t, body["details"])
}

func TestAnalyzeBatchEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	for _, id := range []string{"A", "B"} {
		require.NoError(t, env.store.CreateEvent(ctx, &models.Event{ID: id, Slug: id, Title: id, Category: models.CategoryOther, IsActive: true}))
	}

	rec, body := env.do(t, http.MethodPut, "/api/analyze", map[string]interface{}{"eventIds": []string{"A"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["analyzed"])
	assert.EqualValues(t, 0, body["failed"])

	rec, body = env.do(t, http.MethodPut, "/api/analyze", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["analyzed"])

	rec, _ = env.do(t, http.MethodPut, "/api/analyze", map[string]interface{}{"limit": 500})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	env.provider.content = "Probably not."

	rec, body := env.do(t, http.MethodPost, "/api/chat", map[string]string{"message": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "message is required", body["error"])

	rec, _ = env.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "hi", "eventId": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = env.do(t, http.MethodPost, "/api/chat", map[string]string{"message": "Will it rain?"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Probably not.", body["message"])

	rec, body = env.do(t, http.MethodGet, "/api/chat?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	messages := body["messages"].([]interface{})
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].(map[string]interface{})["role"])
	assert.Equal(t, "assistant", messages[1].(map[string]interface{})["role"])
}

func TestReclassifyAndDelete(t *testing.T) {
	env := newTestEnv(t, nil)
	env.feed.events = []models.Event{feedEvent("E1", "Bitcoin above 100k?", 0.5)}
	rec, _ := env.do(t, http.MethodPost, "/api/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := env.do(t, http.MethodPost, "/api/reclassify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["updated"])

	rec, body = env.do(t, http.MethodGet, "/api/reclassify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["total"])
	assert.EqualValues(t, 1, body["categories"].(map[string]interface{})[models.CategoryCrypto])

	rec, body = env.do(t, http.MethodDelete, "/api/events/E1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	rec, _ = env.do(t, http.MethodGet, "/api/events/E1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminJobs(t *testing.T) {
	env := newTestEnv(t, nil)
	rec, _ := env.do(t, http.MethodGet, "/api/admin/jobs", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	sched, err := scheduler.NewScheduler()
	require.NoError(t, err)
	require.NoError(t, sched.AddJob(&scheduler.Job{
		Name: "noop", Interval: time.Hour,
		Handler: func(context.Context) error { return nil },
	}))
	sched.Start()
	t.Cleanup(func() { _ = sched.Stop() })

	env = newTestEnv(t, sched)
	rec, body := env.do(t, http.MethodGet, "/api/admin/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, body["count"])

	rec, _ = env.do(t, http.MethodPost, "/api/admin/jobs/noop/run", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/admin/jobs/missing/run", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestTimeout(t *testing.T) {
	srv := NewServer(Deps{}, ":0")

	var remaining time.Duration
	srv.router.Get("/deadline", func(w http.ResponseWriter, r *http.Request) {
		deadline, ok := r.Context().Deadline()
		require.True(t, ok)
		remaining = time.Until(deadline)
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/deadline", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.LessOrEqual(t, remaining, RequestTimeout)
	assert.Greater(t, remaining, RequestTimeout-5*time.Second)
	// The default /api/analyze-all budget (55s) must fit inside a request.
	assert.Greater(t, RequestTimeout, 55*time.Second)
}
