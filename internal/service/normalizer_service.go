package service

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"tracking-guardian/internal/core/domain"

	"github.com/rs/zerolog"
)

// itemIDFields is the precedence order for resolving an item's identity.
var itemIDFields = []string{"variantId", "variant_id", "productId", "product_id", "id"}

// NormalizerService implements ports.Normalizer (event identity derivation).
type NormalizerService struct {
	log zerolog.Logger
}

// NewNormalizerService creates a new NormalizerService.
func NewNormalizerService(log zerolog.Logger) *NormalizerService {
	return &NormalizerService{log: log}
}

// Normalize derives identity for each validated event, dropping events the
// pipeline mode excludes and purchases with no derivable order key. Batch
// order is preserved.
func (s *NormalizerService) Normalize(events []domain.ValidatedEvent, mode domain.PipelineMode) []domain.NormalizedEvent {
	out := make([]domain.NormalizedEvent, 0, len(events))
	for _, ve := range events {
		ev := ve.Payload
		if !domain.IsPrimaryEvent(ev.EventName, mode) {
			continue
		}

		norm := domain.NormalizedEvent{PixelEvent: ev}
		if ev.IsPurchase() {
			norm.EventType = domain.EventTypePurchase
		} else {
			norm.EventType = ev.EventName
		}

		norm.NormalizedItems = normalizeItems(ev.Data.Items)

		if norm.IsPurchaseType() {
			orderKey, altOrderKey, ok := orderMatchKey(ev.Data.OrderID, ev.Data.CheckoutToken)
			if !ok {
				s.log.Warn().
					Str("shop", ev.ShopDomain).
					Int("index", ve.Index).
					Msg("purchase event has neither orderId nor checkoutToken, dropping")
				continue
			}
			norm.OrderKey = orderKey
			norm.AltOrderKey = altOrderKey
			norm.EventIdentifier = orderKey
		} else {
			if ev.Data.CheckoutToken != "" {
				norm.OrderKey = "checkout_" + sha256Hex(ev.Data.CheckoutToken)
			} else {
				norm.OrderKey = fmt.Sprintf("session_%d_%s", ev.Timestamp, underscored(ev.ShopDomain))
			}
		}

		norm.EventID = deterministicID(norm)
		out = append(out, norm)
	}
	return out
}

// orderMatchKey derives the purchase dedup keys. The order id wins when
// present; the checkout token hash is the fallback primary or the
// secondary key.
func orderMatchKey(orderID, checkoutToken string) (orderKey, altOrderKey string, ok bool) {
	switch {
	case orderID != "":
		orderKey = orderID
		if checkoutToken != "" {
			altOrderKey = sha256Hex(checkoutToken)
		}
		return orderKey, altOrderKey, true
	case checkoutToken != "":
		return sha256Hex(checkoutToken), "", true
	default:
		return "", "", false
	}
}

// deterministicID hashes the event's identity fields. Identical inputs
// always produce the same id, which is what makes retried batches converge
// on one receipt.
func deterministicID(ev domain.NormalizedEvent) string {
	var b strings.Builder
	b.WriteString(ev.EventIdentifier)
	b.WriteByte('|')
	b.WriteString(ev.EventType)
	b.WriteByte('|')
	b.WriteString(ev.ShopDomain)
	b.WriteByte('|')
	b.WriteString(ev.Data.CheckoutToken)
	b.WriteByte('|')
	for _, item := range ev.NormalizedItems {
		b.WriteString(item.ID)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(item.Quantity))
		b.WriteByte(',')
	}
	b.WriteByte('|')
	b.WriteString(ev.Nonce)
	return sha256Hex(b.String())
}

// normalizeItems coerces raw item maps into the canonical item list.
func normalizeItems(raw []map[string]interface{}) []domain.Item {
	if len(raw) == 0 {
		return nil
	}
	items := make([]domain.Item, 0, len(raw))
	for _, m := range raw {
		item := domain.Item{Quantity: 1}
		for _, field := range itemIDFields {
			if v, ok := m[field]; ok {
				if id := strings.TrimSpace(stringValue(v)); id != "" {
					item.ID = id
					break
				}
			}
		}
		if name, ok := m["name"]; ok {
			item.Name = stringValue(name)
		}
		if price, ok := m["price"]; ok {
			item.Price = floatValue(price)
		}
		if q, ok := m["quantity"]; ok {
			if n := intValue(q); n >= 1 {
				item.Quantity = n
			}
		}
		items = append(items, item)
	}
	return items
}

func stringValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return ""
	}
}

func floatValue(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

func intValue(v interface{}) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(t))
		return n
	default:
		return 0
	}
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func underscored(shopDomain string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(shopDomain)
}
