package middleware

import (
	"net/url"
	"strings"

	"tracking-guardian/internal/metrics"
	"tracking-guardian/pkg/apperror"
	"tracking-guardian/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// staticAllowedHosts is the platform-wide origin allowlist checked before
// the shop is known.
var staticAllowedHosts = map[string]struct{}{
	"checkout.shopify.com": {},
	"shop.app":             {},
	"admin.shopify.com":    {},
}

// originHost extracts the lowercased host from an Origin/Referer value.
func originHost(origin string) string {
	if origin == "" {
		return ""
	}
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		return strings.ToLower(u.Host)
	}
	return strings.ToLower(strings.TrimSuffix(origin, "/"))
}

func staticAllowed(host string) bool {
	if _, ok := staticAllowedHosts[host]; ok {
		return true
	}
	return strings.HasSuffix(host, ".myshopify.com")
}

// PreBodyOrigin validates the Origin/Referer against the static platform
// allowlist (the shop-specific set is checked after the shop loads).
func PreBodyOrigin(allowNullOrigin bool, m *metrics.Metrics, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ic, ok := mustContext(c, false)
		if !ok {
			return
		}

		if allowed, reason := originAllowed(ic, allowNullOrigin, func(host string) bool {
			return staticAllowed(host)
		}, log); !allowed {
			m.RejectionsTotal.WithLabelValues("origin", reason).Inc()
			response.Error(c, ic.IsProduction, apperror.ErrOriginNotAllowed())
			return
		}

		c.Next()
	}
}

// originAllowed applies the shared origin policy for both sub-stages.
// Returns the rejection reason when not allowed.
func originAllowed(ic *IngestContext, allowNullOrigin bool, hostAllowed func(string) bool, log zerolog.Logger) (bool, string) {
	signed := ic.Signature != ""

	if ic.Origin == "" || ic.IsNullOrigin {
		if signed || allowNullOrigin {
			return true, ""
		}
		if !ic.IsProduction {
			log.Warn().Str("request_id", ic.RequestID).Msg("missing or null origin on unsigned request, allowed outside production")
			return true, ""
		}
		return false, "null_origin"
	}

	if hostAllowed(originHost(ic.Origin)) {
		return true, ""
	}

	// A signed request from an unlisted origin passes in loose mode, but
	// the anomaly is always logged.
	if signed && !ic.StrictOrigin && !ic.IsProduction {
		log.Warn().
			Str("request_id", ic.RequestID).
			Str("origin", ic.Origin).
			Msg("signed request from disallowed origin allowed in loose mode")
		return true, ""
	}
	return false, "origin_not_allowed"
}

// shopOriginAllowed is the post-shop sub-stage: the shop's own domain set
// joins the static allowlist.
func shopOriginAllowed(ic *IngestContext, allowNullOrigin bool, log zerolog.Logger) (bool, string) {
	allowed := ic.Shop.AllowedOrigins()
	return originAllowed(ic, allowNullOrigin, func(host string) bool {
		if _, ok := allowed[host]; ok {
			return true
		}
		return staticAllowed(host)
	}, log)
}
