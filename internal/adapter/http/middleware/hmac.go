package middleware

import (
	"context"
	"time"

	"tracking-guardian/internal/core/domain"
	"tracking-guardian/internal/core/ports"
	"tracking-guardian/internal/metrics"
	"tracking-guardian/pkg/apperror"
	"tracking-guardian/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// HMACAuth verifies the batch signature under key rotation and runs the
// abuse heuristics over matched batches. Only the trust level and secret
// position leave the validator; secrets are never logged.
func HMACAuth(validator ports.KeyValidator, shopRepo ports.ShopRepository, m *metrics.Metrics, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ic, ok := mustContext(c, false)
		if !ok {
			return
		}
		if ic.Shop == nil {
			response.Error(c, ic.IsProduction, apperror.InternalError(errMissingContext))
			return
		}

		signedBody := ic.Body
		if ic.SignatureSource == domain.SourceBody && ic.SignedBody != nil {
			signedBody = ic.SignedBody
		}

		kv := validator.Validate(c.Request.Context(), ic.Shop, ports.SignatureInput{
			Signature:        ic.Signature,
			Source:           ic.SignatureSource,
			TimestampHeader:  ic.TimestampHeader,
			PayloadTimestamp: batchTimestamp(ic),
			SignedShopDomain: ic.SignedShopDomain,
			ShopDomain:       ic.ShopDomain,
			Body:             signedBody,
			Now:              time.Now(),
		})
		ic.KeyValidation = kv

		if !kv.Matched {
			m.RejectionsTotal.WithLabelValues("hmac", string(kv.Reason)).Inc()
			log.Warn().
				Str("request_id", ic.RequestID).
				Str("shop", ic.ShopDomain).
				Str("reason", string(kv.Reason)).
				Str("error_code", kv.ErrorCode).
				Msg("signature validation failed")

			var appErr *apperror.AppError
			if kv.Reason == domain.ReasonSecretMissing {
				appErr = apperror.ErrSecretMissing()
			} else {
				appErr = apperror.ErrInvalidSignature().WithDetails(kv.Metadata)
			}
			response.Error(c, ic.IsProduction, appErr)
			return
		}

		if kv.UsedPendingSecret {
			// Best-effort rotation telemetry; never blocks the request.
			incrementPendingMatch(shopRepo, ic, log)
		}

		if len(ic.ValidatedEvents) >= 3 {
			events := make([]domain.PixelEvent, len(ic.ValidatedEvents))
			for i, ve := range ic.ValidatedEvents {
				events[i] = ve.Payload
			}
			findings := validator.CheckAbuse(events)
			if findings.Flagged {
				for _, reason := range findings.Reasons {
					m.AbuseFlags.WithLabelValues(reason).Inc()
				}
				log.Warn().
					Str("request_id", ic.RequestID).
					Str("shop", ic.ShopDomain).
					Strs("reasons", findings.Reasons).
					Float64("duplicate_rate", findings.DuplicateOrderKeyRate).
					Float64("invalid_rate", findings.InvalidOrderKeyRate).
					Float64("non_standard_rate", findings.NonStandardEventRate).
					Msg("batch flagged by abuse heuristics")
				if ic.IsProduction {
					response.Error(c, true, apperror.ErrAbusePattern())
					return
				}
			}
		}

		c.Next()
	}
}

// batchTimestamp is the envelope timestamp the header must agree with.
// Zero (no envelope timestamp) skips the equality check.
func batchTimestamp(ic *IngestContext) int64 {
	return ic.BatchTimestamp
}

// incrementPendingMatch records a pending-secret match without holding up
// the request.
func incrementPendingMatch(shopRepo ports.ShopRepository, ic *IngestContext, log zerolog.Logger) {
	shopID := ic.Shop.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := shopRepo.IncrementPendingMatchCount(ctx, shopID); err != nil {
			log.Warn().Err(err).Str("shop", ic.ShopDomain).Msg("pending match count update failed")
		}
	}()
}
