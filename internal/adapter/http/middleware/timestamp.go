package middleware

import (
	"math"
	"strconv"
	"time"

	"tracking-guardian/internal/metrics"
	"tracking-guardian/pkg/apperror"
	"tracking-guardian/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// SignaturePresence rejects unsigned requests early in production. The
// body envelope can still carry a signature outside production, so the
// gate only binds when strict mode is on.
func SignaturePresence(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ic, ok := mustContext(c, false)
		if !ok {
			return
		}

		if ic.IsProduction && ic.Signature == "" {
			m.RejectionsTotal.WithLabelValues("signature_presence", "missing_signature").Inc()
			response.Error(c, true, apperror.ErrMissingSignature())
			return
		}

		c.Next()
	}
}

// TimestampWindow parses the timestamp header and enforces the clock-skew
// window. A stale timestamp is a silent drop: 204, no body, no retry.
func TimestampWindow(window time.Duration, m *metrics.Metrics, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ic, ok := mustContext(c, false)
		if !ok {
			return
		}

		if ic.TimestampHeader == "" {
			// A signed production request must carry its timestamp.
			if ic.IsProduction && ic.Signature != "" {
				m.RejectionsTotal.WithLabelValues("timestamp", "missing_timestamp_header").Inc()
				response.Error(c, true, apperror.ErrMissingTimestamp())
				return
			}
			c.Next()
			return
		}

		ts, err := strconv.ParseInt(ic.TimestampHeader, 10, 64)
		if err != nil {
			m.RejectionsTotal.WithLabelValues("timestamp", "unparseable").Inc()
			response.Error(c, ic.IsProduction, apperror.ErrMissingTimestamp())
			return
		}
		ic.ParsedTimestamp = ts

		if math.Abs(float64(time.Now().UnixMilli()-ts)) > float64(window.Milliseconds()) {
			m.SilentDrops.Inc()
			log.Debug().Str("request_id", ic.RequestID).Int64("timestamp", ts).Msg("timestamp outside window, silent drop")
			response.NoContent(c)
			c.Abort()
			return
		}

		c.Next()
	}
}
