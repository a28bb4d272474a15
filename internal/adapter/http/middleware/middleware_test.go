package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"tracking-guardian/config"
	"tracking-guardian/internal/core/domain"
	"tracking-guardian/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

// runStage executes a single stage against a prepared IngestContext.
func runStage(t *testing.T, ic *IngestContext, stage gin.HandlerFunc, req *http.Request) (*httptest.ResponseRecorder, *gin.Context) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	if ic != nil {
		c.Set(ctxIngestKey, ic)
		c.Set(CtxRequestID, ic.RequestID)
	}
	stage(c)
	return w, c
}

func postReq() *http.Request {
	return httptest.NewRequest(http.MethodPost, "/ingest", nil)
}

func TestRequestContext_PopulatesSnapshot(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{}
	cfg.Server.Mode = "release"
	cfg.Ingest.StrictOrigin = true

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := postReq()
	req.Header.Set("Origin", "https://s.myshopify.com")
	req.Header.Set(HeaderSignature, "abc123")
	req.Header.Set(HeaderTimestamp, "1700000000000")
	req.Header.Set(HeaderShopDomain, "S.myshopify.com")
	req.Header.Set(HeaderEnvironment, "test")
	req.Header.Set("Content-Type", "text/plain")
	c.Request = req

	RequestContext(cfg, zerolog.Nop())(c)

	ic, ok := FromContext(c)
	require.True(t, ok)
	assert.NotEmpty(t, ic.RequestID)
	assert.True(t, ic.IsProduction)
	assert.True(t, ic.StrictOrigin)
	assert.Equal(t, domain.EnvTest, ic.Environment)
	assert.Equal(t, "https://s.myshopify.com", ic.Origin)
	assert.True(t, ic.OriginHeaderPresent)
	assert.Equal(t, "abc123", ic.Signature)
	assert.Equal(t, domain.SourceHeader, ic.SignatureSource)
	assert.Equal(t, "1700000000000", ic.TimestampHeader)
	assert.Equal(t, "s.myshopify.com", ic.ShopDomainHeader)
	assert.Equal(t, "text/plain", ic.ContentType)
	assert.Equal(t, ic.RequestID, w.Header().Get("X-Request-Id"))
}

func TestRequestContext_RefererFallbackAndNullOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := postReq()
	req.Header.Set("Referer", "https://s.myshopify.com/checkout")
	c.Request = req

	RequestContext(&config.Config{}, zerolog.Nop())(c)
	ic, _ := FromContext(c)
	assert.Equal(t, "https://s.myshopify.com/checkout", ic.Origin)
	assert.False(t, ic.OriginHeaderPresent)

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	req = postReq()
	req.Header.Set("Origin", "null")
	c.Request = req
	RequestContext(&config.Config{}, zerolog.Nop())(c)
	ic, _ = FromContext(c)
	assert.True(t, ic.IsNullOrigin)
}

func TestCORSAndMethod_Preflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/ingest", nil)
	req.Header.Set("Origin", "https://s.myshopify.com")
	w, _ := runStage(t, &IngestContext{}, CORSAndMethod(), req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://s.myshopify.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), HeaderSignature)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), HeaderTimestamp)
}

func TestCORSAndMethod_RejectsNonPost(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ingest", nil)
	w, _ := runStage(t, &IngestContext{}, CORSAndMethod(), req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestCORSAndMethod_AllowsPost(t *testing.T) {
	w, c := runStage(t, &IngestContext{}, CORSAndMethod(), postReq())
	assert.False(t, c.IsAborted())
	assert.Equal(t, http.StatusOK, w.Code)
}
