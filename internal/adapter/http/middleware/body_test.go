package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tracking-guardian/internal/core/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postWithBody(body string, contentType string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", contentType)
	return req
}

func bodyStage() func(*testing.T, *IngestContext, *http.Request) (*httptest.ResponseRecorder, bool) {
	stage := BodyReader(1<<20, 50, testMetrics(), zerolog.Nop())
	return func(t *testing.T, ic *IngestContext, req *http.Request) (*httptest.ResponseRecorder, bool) {
		w, c := runStage(t, ic, stage, req)
		return w, c.IsAborted()
	}
}

func TestBodyReader_RejectsWrongContentType(t *testing.T) {
	run := bodyStage()
	ic := &IngestContext{RequestID: "r", ContentType: "application/xml"}
	w, _ := run(t, ic, postWithBody(`{}`, "application/xml"))
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestBodyReader_AcceptsTextPlain(t *testing.T) {
	run := bodyStage()
	ic := &IngestContext{RequestID: "r", ContentType: "text/plain;charset=UTF-8"}
	_, aborted := run(t, ic, postWithBody(`{"eventName":"page_viewed"}`, "text/plain"))
	assert.False(t, aborted)
	assert.Len(t, ic.RawEvents, 1, "single event body becomes a one-event batch")
}

func TestBodyReader_EnvelopeBatch(t *testing.T) {
	run := bodyStage()
	ic := &IngestContext{RequestID: "r", ContentType: "application/json"}
	body := `{"events":[{"eventName":"page_viewed"},{"eventName":"checkout_completed"}],"timestamp":1700000000000}`
	_, aborted := run(t, ic, postWithBody(body, "application/json"))
	assert.False(t, aborted)
	assert.Len(t, ic.RawEvents, 2)
	assert.Equal(t, int64(1700000000000), ic.BatchTimestamp)
	assert.Equal(t, []byte(body), ic.Body)
}

func TestBodyReader_EmptyBatch(t *testing.T) {
	run := bodyStage()
	ic := &IngestContext{RequestID: "r", ContentType: "application/json"}
	w, _ := run(t, ic, postWithBody(`{"events":[]}`, "application/json"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBodyReader_BatchTooLarge(t *testing.T) {
	stage := BodyReader(1<<20, 2, testMetrics(), zerolog.Nop())
	ic := &IngestContext{RequestID: "r", ContentType: "application/json"}
	body := `{"events":[{"a":1},{"a":2},{"a":3}]}`
	w, _ := runStage(t, ic, stage, postWithBody(body, "application/json"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBodyReader_BatchAtLimitAccepted(t *testing.T) {
	stage := BodyReader(1<<20, 2, testMetrics(), zerolog.Nop())
	ic := &IngestContext{RequestID: "r", ContentType: "application/json"}
	body := `{"events":[{"a":1},{"a":2}]}`
	_, c := runStage(t, ic, stage, postWithBody(body, "application/json"))
	assert.False(t, c.IsAborted())
}

func TestBodyReader_PayloadTooLarge(t *testing.T) {
	stage := BodyReader(64, 50, testMetrics(), zerolog.Nop())
	ic := &IngestContext{RequestID: "r", ContentType: "application/json"}
	big := `{"pad":"` + strings.Repeat("x", 100) + `"}`
	w, _ := runStage(t, ic, stage, postWithBody(big, "application/json"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestBodyReader_InvalidJSON(t *testing.T) {
	run := bodyStage()
	ic := &IngestContext{RequestID: "r", ContentType: "application/json"}
	w, _ := run(t, ic, postWithBody(`{broken`, "application/json"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBodyReader_BodySignatureExtractedOutsideProduction(t *testing.T) {
	run := bodyStage()
	ic := &IngestContext{RequestID: "r", ContentType: "application/json"}
	body := `{"events":[{"eventName":"page_viewed"}],"signature":"deadbeef","signatureTimestamp":1700000000000,"signatureShopDomain":"S.myshopify.com"}`
	_, aborted := run(t, ic, postWithBody(body, "application/json"))
	require.False(t, aborted)

	assert.Equal(t, "deadbeef", ic.Signature)
	assert.Equal(t, domain.SourceBody, ic.SignatureSource)
	assert.Equal(t, "s.myshopify.com", ic.SignedShopDomain)
	assert.Equal(t, "1700000000000", ic.TimestampHeader)

	// The canonical signed body excludes the carrier fields.
	var stripped map[string]interface{}
	require.NoError(t, json.Unmarshal(ic.SignedBody, &stripped))
	assert.NotContains(t, stripped, "signature")
	assert.NotContains(t, stripped, "signatureTimestamp")
	assert.NotContains(t, stripped, "signatureShopDomain")
	assert.Contains(t, stripped, "events")
}

func TestBodyReader_BodySignatureIgnoredInProduction(t *testing.T) {
	run := bodyStage()
	ic := &IngestContext{RequestID: "r", IsProduction: true, ContentType: "application/json"}
	body := `{"events":[{"eventName":"page_viewed"}],"signature":"deadbeef"}`
	_, _ = run(t, ic, postWithBody(body, "application/json"))
	assert.Empty(t, ic.Signature, "the body envelope is not a signature source in production")
}

func TestBodyReader_HeaderSignatureWins(t *testing.T) {
	run := bodyStage()
	ic := &IngestContext{RequestID: "r", ContentType: "application/json", Signature: "headersig", SignatureSource: domain.SourceHeader}
	body := `{"events":[{"eventName":"page_viewed"}],"signature":"bodysig"}`
	_, _ = run(t, ic, postWithBody(body, "application/json"))
	assert.Equal(t, "headersig", ic.Signature)
	assert.Equal(t, domain.SourceHeader, ic.SignatureSource)
}
