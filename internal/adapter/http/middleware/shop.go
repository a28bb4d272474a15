package middleware

import (
	"tracking-guardian/internal/core/ports"
	"tracking-guardian/internal/metrics"
	"tracking-guardian/pkg/apperror"
	"tracking-guardian/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ShopLoader resolves the shop, derives its origin set and pipeline mode,
// and runs the shop-specific origin sub-stage.
func ShopLoader(loader ports.ShopLoader, allowNullOrigin bool, m *metrics.Metrics, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ic, ok := mustContext(c, false)
		if !ok {
			return
		}
		if ic.ShopDomain == "" {
			response.Error(c, ic.IsProduction, apperror.InternalError(errMissingContext))
			return
		}

		shop, err := loader.Load(c.Request.Context(), ic.ShopDomain, ic.Environment)
		if err != nil {
			log.Error().Err(err).Str("request_id", ic.RequestID).Str("shop", ic.ShopDomain).Msg("shop load failed")
			response.Error(c, ic.IsProduction, apperror.ErrStoreUnavailable("shop-store", err))
			return
		}
		if shop == nil || !shop.IsActive {
			m.RejectionsTotal.WithLabelValues("shop", "unknown_or_inactive").Inc()
			response.Error(c, ic.IsProduction, apperror.ErrUnknownShop())
			return
		}

		ic.Shop = shop
		ic.Mode = shop.Mode()
		ic.EnabledConfigs = shop.ServerSideConfigs()

		if allowed, reason := shopOriginAllowed(ic, allowNullOrigin, log); !allowed {
			m.RejectionsTotal.WithLabelValues("shop_origin", reason).Inc()
			response.Error(c, ic.IsProduction, apperror.ErrOriginNotAllowed())
			return
		}

		c.Next()
	}
}
