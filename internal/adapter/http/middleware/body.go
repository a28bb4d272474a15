package middleware

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"tracking-guardian/internal/core/domain"
	"tracking-guardian/internal/metrics"
	"tracking-guardian/pkg/apperror"
	"tracking-guardian/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// envelope signature-carrier fields, excluded from the signed body hash
// when the signature travels in the body.
var signatureCarrierFields = []string{"signature", "signatureTimestamp", "signatureShopDomain"}

// BodyReader enforces content-type and size limits, reads the body once,
// and splits it into the raw event batch. Pixels send text/plain to keep
// the preflight cheap, so both content types are accepted.
func BodyReader(maxBody int64, maxBatch int, m *metrics.Metrics, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ic, ok := mustContext(c, false)
		if !ok {
			return
		}

		ct := strings.ToLower(ic.ContentType)
		if !strings.Contains(ct, "application/json") && !strings.Contains(ct, "text/plain") {
			m.RejectionsTotal.WithLabelValues("body", "unsupported_content_type").Inc()
			response.Error(c, ic.IsProduction, apperror.ErrUnsupportedContentType())
			return
		}

		if c.Request.ContentLength > maxBody {
			m.RejectionsTotal.WithLabelValues("body", "payload_too_large").Inc()
			response.Error(c, ic.IsProduction, apperror.ErrPayloadTooLarge(maxBody))
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody+1))
		if err != nil {
			m.RejectionsTotal.WithLabelValues("body", "read_error").Inc()
			response.Error(c, ic.IsProduction, apperror.ErrInvalidJSON())
			return
		}
		if int64(len(body)) > maxBody {
			m.RejectionsTotal.WithLabelValues("body", "payload_too_large").Inc()
			response.Error(c, ic.IsProduction, apperror.ErrPayloadTooLarge(maxBody))
			return
		}
		ic.Body = body

		var root map[string]interface{}
		if err := json.Unmarshal(body, &root); err != nil {
			m.RejectionsTotal.WithLabelValues("body", "invalid_json").Inc()
			response.Error(c, ic.IsProduction, apperror.ErrInvalidJSON())
			return
		}

		rawEvents, batchTS, isEnvelope := splitBatch(root)
		ic.BatchTimestamp = batchTS

		// Outside production a batch may carry its signature in the
		// envelope instead of the header. Header wins when both exist.
		if isEnvelope && !ic.IsProduction && ic.Signature == "" {
			extractBodySignature(ic, root, log)
		}

		if len(rawEvents) == 0 {
			m.RejectionsTotal.WithLabelValues("body", "empty_batch").Inc()
			response.Error(c, ic.IsProduction, apperror.ErrEmptyBatch())
			return
		}
		if len(rawEvents) > maxBatch {
			m.RejectionsTotal.WithLabelValues("body", "batch_too_large").Inc()
			response.Error(c, ic.IsProduction, apperror.ErrBatchTooLarge(maxBatch))
			return
		}
		ic.RawEvents = rawEvents

		c.Next()
	}
}

// splitBatch returns the raw events from either an {events: [...]}
// envelope or a single-event body.
func splitBatch(root map[string]interface{}) (events []map[string]interface{}, batchTS int64, isEnvelope bool) {
	rawList, ok := root["events"]
	if !ok {
		return []map[string]interface{}{root}, 0, false
	}

	if ts, ok := root["timestamp"].(float64); ok {
		batchTS = int64(ts)
	}

	list, ok := rawList.([]interface{})
	if !ok {
		return nil, batchTS, true
	}
	for _, item := range list {
		if ev, ok := item.(map[string]interface{}); ok {
			events = append(events, ev)
		}
	}
	return events, batchTS, true
}

// extractBodySignature pulls the signature-carrier fields out of the
// envelope and records the canonical bytes the client signed over (the
// envelope with those fields removed, re-marshaled with sorted keys).
func extractBodySignature(ic *IngestContext, root map[string]interface{}, log zerolog.Logger) {
	sig, _ := root["signature"].(string)
	if sig == "" {
		return
	}

	ic.Signature = sig
	ic.SignatureSource = domain.SourceBody
	if d, ok := root["signatureShopDomain"].(string); ok {
		ic.SignedShopDomain = strings.ToLower(d)
	}
	if ts, ok := root["signatureTimestamp"].(float64); ok && ic.TimestampHeader == "" {
		ic.TimestampHeader = strconv.FormatInt(int64(ts), 10)
	}

	stripped := make(map[string]interface{}, len(root))
	for k, v := range root {
		stripped[k] = v
	}
	for _, field := range signatureCarrierFields {
		delete(stripped, field)
	}
	canonical, err := json.Marshal(stripped)
	if err != nil {
		log.Error().Err(err).Str("request_id", ic.RequestID).Msg("re-marshaling signed envelope failed")
		return
	}
	ic.SignedBody = canonical
}
