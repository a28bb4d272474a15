package handler

import (
	"context"
	"time"

	"tracking-guardian/internal/adapter/http/middleware"
	"tracking-guardian/internal/core/domain"
	"tracking-guardian/internal/core/ports"
	"tracking-guardian/internal/metrics"
	"tracking-guardian/pkg/apperror"
	"tracking-guardian/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// IngestHandler terminates the chain: it packages the validated,
// authenticated batch into a QueueEntry and durably enqueues it.
type IngestHandler struct {
	queue        ports.QueueStore
	maxQueueSize int64
	pushTimeout  time.Duration
	metrics      *metrics.Metrics
	log          zerolog.Logger
}

// NewIngestHandler creates a new IngestHandler.
func NewIngestHandler(queue ports.QueueStore, maxQueueSize int64, pushTimeout time.Duration, m *metrics.Metrics, log zerolog.Logger) *IngestHandler {
	return &IngestHandler{
		queue:        queue,
		maxQueueSize: maxQueueSize,
		pushTimeout:  pushTimeout,
		metrics:      m,
		log:          log,
	}
}

// Ingest handles POST /ingest.
func (h *IngestHandler) Ingest(c *gin.Context) {
	ic, ok := middleware.FromContext(c)
	if !ok || ic.Shop == nil || len(ic.ValidatedEvents) == 0 {
		response.Error(c, ic != nil && ic.IsProduction, apperror.InternalError(errChainIncomplete))
		return
	}

	entry := domain.QueueEntry{
		RequestID:       ic.RequestID,
		ShopID:          ic.Shop.ID,
		ShopDomain:      ic.ShopDomain,
		Environment:     ic.Environment,
		Mode:            ic.Mode,
		ValidatedEvents: ic.ValidatedEvents,
		KeyValidation:   ic.KeyValidation,
		Origin:          ic.Origin,
		RequestContext: domain.RequestContextInfo{
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			PageURL:   firstPageURL(ic.ValidatedEvents),
			Referrer:  c.GetHeader("Referer"),
		},
		EnabledPixelConfigs: ic.EnabledConfigs,
		BatchTimestamp:      ic.BatchTimestamp,
	}

	raw, err := entry.Marshal()
	if err != nil {
		response.Error(c, ic.IsProduction, apperror.InternalError(err))
		return
	}

	pushCtx, cancel := context.WithTimeout(c.Request.Context(), h.pushTimeout)
	defer cancel()
	if err := h.queue.Enqueue(pushCtx, raw, h.maxQueueSize); err != nil {
		h.metrics.QueuePushErrors.Inc()
		h.log.Error().Err(err).Str("request_id", ic.RequestID).Msg("queue push failed")
		response.Error(c, ic.IsProduction, apperror.ErrStoreUnavailable("queue", err))
		return
	}

	h.metrics.QueuePushes.Inc()
	h.metrics.BatchesAccepted.Inc()
	h.metrics.EventsAccepted.Add(float64(len(ic.ValidatedEvents)))

	h.log.Info().
		Str("request_id", ic.RequestID).
		Str("shop", ic.ShopDomain).
		Int("events", len(ic.ValidatedEvents)).
		Str("trust", string(ic.KeyValidation.TrustLevel)).
		Msg("batch enqueued")

	response.Accepted(c, len(ic.ValidatedEvents))
}

func firstPageURL(events []domain.ValidatedEvent) string {
	for _, ve := range events {
		if ve.Payload.Data.PageURL != "" {
			return ve.Payload.Data.PageURL
		}
	}
	return ""
}

var errChainIncomplete = &chainError{"ingest chain did not complete before the handler"}

type chainError struct{ msg string }

func (e *chainError) Error() string { return e.msg }
