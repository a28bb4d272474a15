package middleware

import (
	"net/http"
	"strings"
	"time"

	"tracking-guardian/config"
	"tracking-guardian/internal/core/domain"
	"tracking-guardian/pkg/apperror"
	"tracking-guardian/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// Header names for pixel batch authentication.
	HeaderSignature   = "X-Tracking-Guardian-Signature"
	HeaderTimestamp   = "X-Tracking-Guardian-Timestamp"
	HeaderEnvironment = "X-Tracking-Guardian-Environment"
	HeaderShopDomain  = "x-shopify-shop-domain"

	// Context keys.
	ctxIngestKey = "ingest_context"
	CtxRequestID = "request_id"
)

// IngestContext is the per-request record threaded through the chain.
// Each stage populates its fields; later stages read but never contradict
// them.
type IngestContext struct {
	RequestID    string
	IsProduction bool
	StrictOrigin bool
	Environment  domain.Environment

	Origin              string
	OriginHeaderPresent bool
	IsNullOrigin        bool

	Signature        string
	SignatureSource  domain.SignatureSource
	TimestampHeader  string
	ParsedTimestamp  int64
	ShopDomainHeader string
	ContentType      string

	// Body is the exact received bytes (what a header-sourced signature
	// covers). SignedBody is the canonical form a body-sourced signature
	// covers: the envelope with the signature-carrier fields removed.
	Body             []byte
	SignedBody       []byte
	SignedShopDomain string

	RawEvents      []map[string]interface{}
	BatchTimestamp int64

	ValidatedEvents []domain.ValidatedEvent
	ShopDomain      string

	Shop           *domain.Shop
	Mode           domain.PipelineMode
	EnabledConfigs []domain.PixelConfig
	KeyValidation  domain.KeyValidation
}

// SetContext installs an IngestContext on a gin context. The chain head
// does this itself; exported for handler tests.
func SetContext(c *gin.Context, ic *IngestContext) {
	c.Set(ctxIngestKey, ic)
	c.Set(CtxRequestID, ic.RequestID)
}

// FromContext retrieves the IngestContext populated by RequestContext.
func FromContext(c *gin.Context) (*IngestContext, bool) {
	v, ok := c.Get(ctxIngestKey)
	if !ok {
		return nil, false
	}
	ic, ok := v.(*IngestContext)
	return ic, ok
}

// mustContext fetches the IngestContext or halts with a 500; a missing
// context past the first stage is a wiring bug, not a client error.
func mustContext(c *gin.Context, production bool) (*IngestContext, bool) {
	ic, ok := FromContext(c)
	if !ok {
		response.Error(c, production, apperror.InternalError(errMissingContext))
		return nil, false
	}
	return ic, true
}

var errMissingContext = &wireError{"ingest context missing from request"}

type wireError struct{ msg string }

func (e *wireError) Error() string { return e.msg }

// RequestContext is the head of the chain (request id, header snapshot,
// environment resolution). Every response carries X-Request-Id from here on.
func RequestContext(cfg *config.Config, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ic := &IngestContext{
			RequestID:       uuid.New().String(),
			IsProduction:    cfg.Server.IsProduction(),
			StrictOrigin:    cfg.Ingest.StrictOrigin,
			Environment:     domain.EnvLive,
			SignatureSource: domain.SourceNone,
		}

		if c.GetHeader(HeaderEnvironment) == string(domain.EnvTest) {
			ic.Environment = domain.EnvTest
		}

		origin := c.GetHeader("Origin")
		if origin == "" {
			origin = c.GetHeader("Referer")
		} else {
			ic.OriginHeaderPresent = true
		}
		ic.Origin = origin
		ic.IsNullOrigin = strings.EqualFold(origin, "null")

		if sig := c.GetHeader(HeaderSignature); sig != "" {
			ic.Signature = sig
			ic.SignatureSource = domain.SourceHeader
		}
		ic.TimestampHeader = c.GetHeader(HeaderTimestamp)
		ic.ShopDomainHeader = strings.ToLower(c.GetHeader(HeaderShopDomain))
		ic.ContentType = c.GetHeader("Content-Type")

		c.Set(ctxIngestKey, ic)
		c.Set(CtxRequestID, ic.RequestID)
		c.Header("X-Request-Id", ic.RequestID)

		c.Next()
	}
}

// RequestLogger logs every HTTP request after the chain completes.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()

		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		} else if status >= http.StatusBadRequest {
			event = log.Warn()
		}

		requestID, _ := c.Get(CtxRequestID)
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP()).
			Interface("request_id", requestID).
			Msg("http request")
	}
}

// Recovery creates a panic recovery middleware.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("path", c.Request.URL.Path).Msg("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "Internal server error",
				})
			}
		}()
		c.Next()
	}
}
