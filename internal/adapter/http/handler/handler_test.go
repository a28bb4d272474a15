package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tracking-guardian/internal/adapter/http/middleware"
	"tracking-guardian/internal/core/domain"
	"tracking-guardian/internal/core/ports"
	"tracking-guardian/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueue captures enqueued entries.
type fakeQueue struct {
	entries [][]byte
	fail    bool
}

func (f *fakeQueue) Enqueue(_ context.Context, entry []byte, _ int64) error {
	if f.fail {
		return assert.AnError
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeQueue) PopToProcessing(context.Context) ([]byte, error) { return nil, nil }
func (f *fakeQueue) Ack(context.Context, []byte) error               { return nil }
func (f *fakeQueue) Stats(context.Context) (ports.QueueStats, error) {
	return ports.QueueStats{Pending: int64(len(f.entries))}, nil
}

type fakeWorker struct {
	stats ports.WorkerStats
	err   error
}

func (f *fakeWorker) Run(context.Context) (ports.WorkerStats, error) { return f.stats, f.err }

type fakeTokenSvc struct{ valid string }

func (f *fakeTokenSvc) Generate(string) (string, time.Time, error) { return f.valid, time.Time{}, nil }
func (f *fakeTokenSvc) Validate(token string) (*ports.TokenClaims, error) {
	if token == f.valid {
		return &ports.TokenClaims{Subject: "ops"}, nil
	}
	return nil, assert.AnError
}

func ingestContext() *middleware.IngestContext {
	return &middleware.IngestContext{
		RequestID:   "req-1",
		ShopDomain:  "s.myshopify.com",
		Environment: domain.EnvLive,
		Mode:        domain.ModePurchaseOnly,
		Shop:        &domain.Shop{ID: uuid.New(), ShopDomain: "s.myshopify.com", IsActive: true},
		ValidatedEvents: []domain.ValidatedEvent{
			{Payload: domain.PixelEvent{EventName: domain.EventCheckoutCompleted, ShopDomain: "s.myshopify.com",
				Data: domain.EventData{OrderID: "gid://shopify/Order/1", PageURL: "https://s.myshopify.com/thanks"}}, Index: 0},
			{Payload: domain.PixelEvent{EventName: domain.EventCheckoutCompleted, ShopDomain: "s.myshopify.com",
				Data: domain.EventData{OrderID: "gid://shopify/Order/1"}}, Index: 1},
		},
		KeyValidation: domain.Verified(domain.SourceHeader, false, false),
	}
}

func runIngest(t *testing.T, queue *fakeQueue, ic *middleware.IngestContext) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	m := metrics.New(prometheus.NewRegistry())
	h := NewIngestHandler(queue, 1000, 500*time.Millisecond, m, zerolog.Nop())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/ingest", nil)
	if ic != nil {
		middleware.SetContext(c, ic)
	}
	h.Ingest(c)
	return w
}

func TestIngest_AcceptsAndEnqueues(t *testing.T) {
	queue := &fakeQueue{}
	ic := ingestContext()
	w := runIngest(t, queue, ic)

	assert.Equal(t, http.StatusAccepted, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 2, body["accepted_count"], "validator accepted both; dedup happens in the worker")

	require.Len(t, queue.entries, 1)
	entry, err := domain.UnmarshalQueueEntry(queue.entries[0])
	require.NoError(t, err)
	assert.Equal(t, "req-1", entry.RequestID)
	assert.Equal(t, ic.Shop.ID, entry.ShopID)
	assert.Len(t, entry.ValidatedEvents, 2)
	assert.Equal(t, "https://s.myshopify.com/thanks", entry.RequestContext.PageURL)
	assert.Equal(t, domain.TrustTrusted, entry.KeyValidation.TrustLevel)
}

func TestIngest_QueueDown503(t *testing.T) {
	queue := &fakeQueue{fail: true}
	w := runIngest(t, queue, ingestContext())
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestIngest_MissingChainState500(t *testing.T) {
	w := runIngest(t, &fakeQueue{}, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestOps_RunWorker(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewOpsHandler(&fakeWorker{stats: ports.WorkerStats{Processed: 3, Acked: 3}}, &fakeQueue{}, zerolog.Nop())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/internal/worker/run", nil)
	h.RunWorker(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 3, body["processed"])
}

func TestOps_QueueStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	queue := &fakeQueue{entries: [][]byte{[]byte("a")}}
	h := NewOpsHandler(&fakeWorker{}, queue, zerolog.Nop())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/internal/queue/stats", nil)
	h.QueueStats(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["pending"])
}

func TestOpsAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	auth := OpsAuth(&fakeTokenSvc{valid: "good-token"}, zerolog.Nop())

	run := func(header string) int {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/internal/worker/run", nil)
		if header != "" {
			c.Request.Header.Set("Authorization", header)
		}
		auth(c)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, run(""))
	assert.Equal(t, http.StatusUnauthorized, run("Bearer bad-token"))
	assert.Equal(t, http.StatusOK, run("Bearer good-token"))
}
