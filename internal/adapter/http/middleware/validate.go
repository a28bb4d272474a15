package middleware

import (
	"fmt"
	"regexp"
	"strings"

	"tracking-guardian/internal/core/domain"
	"tracking-guardian/internal/metrics"
	"tracking-guardian/pkg/apperror"
	"tracking-guardian/pkg/logger"
	"tracking-guardian/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

var (
	shopDomainRe    = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*\.myshopify\.com$`)
	orderIDRe       = regexp.MustCompile(`^(gid://shopify/\w+/\d+|[A-Za-z0-9_\-.:/]{1,256})$`)
	checkoutTokenRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)
	currencyRe      = regexp.MustCompile(`^[A-Z]{3}$`)
)

// EventValidator applies structural and semantic checks to each raw event
// in batch order. An invalid first event rejects the whole batch; later
// invalid events are skipped with a warning.
func EventValidator(m *metrics.Metrics, log zerolog.Logger) gin.HandlerFunc {
	// Skipped-event warnings can be very high frequency on abusive
	// batches; sample them hard but count every one in metrics.
	skipLog := logger.Sampled(log, 1000)

	return func(c *gin.Context) {
		ic, ok := mustContext(c, false)
		if !ok {
			return
		}

		var validated []domain.ValidatedEvent
		var batchDomain string

		for i, raw := range ic.RawEvents {
			ev, err := validateEvent(raw)
			if err != nil {
				m.RejectionsTotal.WithLabelValues("validate", "invalid_event").Inc()
				if i == 0 {
					response.Error(c, ic.IsProduction, apperror.ErrInvalidEvent(err.Error()))
					return
				}
				skipLog.Warn().
					Str("request_id", ic.RequestID).
					Int("index", i).
					Str("reason", err.Error()).
					Msg("skipping invalid event in batch")
				continue
			}

			if batchDomain == "" {
				batchDomain = ev.ShopDomain
			} else if ev.ShopDomain != batchDomain {
				m.RejectionsTotal.WithLabelValues("validate", "shop_domain_mismatch").Inc()
				response.Error(c, ic.IsProduction, apperror.ErrShopDomainMismatch(ic.IsProduction))
				return
			}

			validated = append(validated, domain.ValidatedEvent{Payload: *ev, Index: i})
		}

		if len(validated) == 0 {
			m.RejectionsTotal.WithLabelValues("validate", "no_valid_events").Inc()
			response.Error(c, ic.IsProduction, apperror.ErrInvalidEvent("no valid events in batch"))
			return
		}

		// The transport header, when meaningful, must agree with the payload.
		if ic.ShopDomainHeader != "" && ic.ShopDomainHeader != "unknown" && ic.ShopDomainHeader != batchDomain {
			if ic.IsProduction {
				m.RejectionsTotal.WithLabelValues("validate", "header_domain_mismatch").Inc()
				response.Error(c, true, apperror.ErrShopDomainMismatch(true))
				return
			}
			log.Warn().
				Str("request_id", ic.RequestID).
				Str("header", ic.ShopDomainHeader).
				Str("payload", batchDomain).
				Msg("shop domain header disagrees with payload")
		}

		ic.ValidatedEvents = validated
		ic.ShopDomain = batchDomain

		c.Next()
	}
}

// validateEvent checks one raw event and sanitizes its data into the
// recognized field set.
func validateEvent(raw map[string]interface{}) (*domain.PixelEvent, error) {
	name := stringField(raw, "eventName", "event_name")
	if name == "" {
		return nil, fmt.Errorf("missing eventName")
	}
	if !domain.IsRecognizedEvent(name) {
		return nil, fmt.Errorf("unrecognized eventName %q", name)
	}

	ts := numberField(raw, "timestamp", "ts")
	if ts <= 0 {
		return nil, fmt.Errorf("missing or invalid timestamp")
	}

	shopDomain := strings.ToLower(stringField(raw, "shopDomain", "shop_domain"))
	if shopDomain == "" {
		return nil, fmt.Errorf("missing shopDomain")
	}
	if !shopDomainRe.MatchString(shopDomain) {
		return nil, fmt.Errorf("malformed shopDomain %q", shopDomain)
	}

	ev := &domain.PixelEvent{
		EventName:  name,
		Timestamp:  int64(ts),
		ShopDomain: shopDomain,
	}

	if nonce, ok := raw["nonce"].(string); ok {
		ev.Nonce = nonce
	}
	if consent, ok := raw["consent"].(map[string]interface{}); ok {
		ev.Consent = parseConsent(consent)
	}

	data, _ := raw["data"].(map[string]interface{})
	sanitized, err := sanitizeData(data)
	if err != nil {
		return nil, err
	}
	ev.Data = sanitized

	if name == domain.EventCheckoutCompleted && ev.Data.OrderID == "" && ev.Data.CheckoutToken == "" {
		return nil, fmt.Errorf("checkout_completed requires orderId or checkoutToken")
	}

	return ev, nil
}

// sanitizeData whitelists the recognized data keys, coercing and
// format-checking each. Unknown keys are discarded.
func sanitizeData(data map[string]interface{}) (domain.EventData, error) {
	out := domain.EventData{}
	if data == nil {
		return out, nil
	}

	if orderID, ok := data["orderId"].(string); ok && orderID != "" {
		if !orderIDRe.MatchString(orderID) {
			return out, fmt.Errorf("malformed orderId")
		}
		out.OrderID = orderID
	}
	if token, ok := data["checkoutToken"].(string); ok && token != "" {
		if !checkoutTokenRe.MatchString(token) {
			return out, fmt.Errorf("malformed checkoutToken")
		}
		out.CheckoutToken = token
	}
	if value, ok := data["value"].(float64); ok {
		if value < 0 {
			return out, fmt.Errorf("negative value")
		}
		out.Value = value
	}
	if currency, ok := data["currency"].(string); ok && currency != "" {
		if !currencyRe.MatchString(currency) {
			return out, fmt.Errorf("currency must be ISO-4217 alpha-3")
		}
		out.Currency = currency
	}
	if items, ok := data["items"].([]interface{}); ok {
		for _, item := range items {
			if im, ok := item.(map[string]interface{}); ok {
				out.Items = append(out.Items, im)
			}
		}
	}
	if s, ok := data["pageUrl"].(string); ok {
		out.PageURL = strings.TrimSpace(s)
	}
	if s, ok := data["referrer"].(string); ok {
		out.Referrer = strings.TrimSpace(s)
	}
	if s, ok := data["productId"].(string); ok {
		out.ProductID = strings.TrimSpace(s)
	}
	if s, ok := data["variantId"].(string); ok {
		out.VariantID = strings.TrimSpace(s)
	}
	return out, nil
}

func parseConsent(raw map[string]interface{}) *domain.Consent {
	consent := &domain.Consent{}
	if v, ok := raw["marketing"].(bool); ok {
		consent.Marketing = &v
	}
	if v, ok := raw["analytics"].(bool); ok {
		consent.Analytics = &v
	}
	if v, ok := raw["saleOfData"].(bool); ok {
		consent.SaleOfData = &v
	}
	return consent
}

func stringField(raw map[string]interface{}, names ...string) string {
	for _, n := range names {
		if v, ok := raw[n].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func numberField(raw map[string]interface{}, names ...string) float64 {
	for _, n := range names {
		if v, ok := raw[n].(float64); ok {
			return v
		}
	}
	return 0
}
