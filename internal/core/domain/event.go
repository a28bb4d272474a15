package domain

// The recognized pixel event names. The set is closed: anything else is
// rejected at validation time.
const (
	EventCheckoutCompleted             = "checkout_completed"
	EventCheckoutStarted               = "checkout_started"
	EventCheckoutContactInfoSubmitted  = "checkout_contact_info_submitted"
	EventCheckoutShippingInfoSubmitted = "checkout_shipping_info_submitted"
	EventPaymentInfoSubmitted          = "payment_info_submitted"
	EventPageViewed                    = "page_viewed"
	EventProductViewed                 = "product_viewed"
	EventProductAddedToCart            = "product_added_to_cart"
)

// EventTypePurchase is the derived type for checkout_completed events.
const EventTypePurchase = "purchase"

var recognizedEvents = map[string]struct{}{
	EventCheckoutCompleted:             {},
	EventCheckoutStarted:               {},
	EventCheckoutContactInfoSubmitted:  {},
	EventCheckoutShippingInfoSubmitted: {},
	EventPaymentInfoSubmitted:          {},
	EventPageViewed:                    {},
	EventProductViewed:                 {},
	EventProductAddedToCart:            {},
}

// IsRecognizedEvent reports whether name is in the closed event set.
func IsRecognizedEvent(name string) bool {
	_, ok := recognizedEvents[name]
	return ok
}

// IsPrimaryEvent reports whether an event participates in the pipeline
// under the given mode.
func IsPrimaryEvent(name string, mode PipelineMode) bool {
	if !IsRecognizedEvent(name) {
		return false
	}
	if mode == ModeFullFunnel {
		return true
	}
	return name == EventCheckoutCompleted
}

// Consent is the tri-state consent snapshot attached to an event.
// nil means the signal was not collected.
type Consent struct {
	Marketing  *bool `json:"marketing,omitempty"`
	Analytics  *bool `json:"analytics,omitempty"`
	SaleOfData *bool `json:"saleOfData,omitempty"`
}

// Item is one line item on a checkout event.
type Item struct {
	ID       string  `json:"id"`
	Name     string  `json:"name,omitempty"`
	Price    float64 `json:"price,omitempty"`
	Quantity int     `json:"quantity"`
}

// EventData carries the recognized payload fields of an event. Unknown
// keys are discarded during sanitization.
type EventData struct {
	OrderID       string                   `json:"orderId,omitempty"`
	CheckoutToken string                   `json:"checkoutToken,omitempty"`
	Value         float64                  `json:"value,omitempty"`
	Currency      string                   `json:"currency,omitempty"`
	Items         []map[string]interface{} `json:"items,omitempty"`
	PageURL       string                   `json:"pageUrl,omitempty"`
	Referrer      string                   `json:"referrer,omitempty"`
	ProductID     string                   `json:"productId,omitempty"`
	VariantID     string                   `json:"variantId,omitempty"`
}

// PixelEvent is a validated event as received from the storefront pixel.
type PixelEvent struct {
	EventName  string    `json:"eventName"`
	Timestamp  int64     `json:"timestamp"` // ms since epoch
	ShopDomain string    `json:"shopDomain"`
	Nonce      string    `json:"nonce,omitempty"`
	Consent    *Consent  `json:"consent,omitempty"`
	Data       EventData `json:"data"`
}

// IsPurchase reports whether the event is the checkout-completion event.
func (e PixelEvent) IsPurchase() bool {
	return e.EventName == EventCheckoutCompleted
}

// NormalizedEvent augments a PixelEvent with derived identity fields.
type NormalizedEvent struct {
	PixelEvent

	EventType       string `json:"eventType"` // "purchase" or the event name
	OrderKey        string `json:"orderKey"`
	AltOrderKey     string `json:"altOrderKey,omitempty"`
	EventIdentifier string `json:"eventIdentifier,omitempty"`
	EventID         string `json:"eventId"`
	NormalizedItems []Item `json:"normalizedItems,omitempty"`

	// Destinations is filled by the consent filter: the platforms this
	// event may be dispatched to.
	Destinations []string `json:"destinations,omitempty"`
}

// IsPurchaseType reports whether the normalized event is a purchase.
func (e NormalizedEvent) IsPurchaseType() bool {
	return e.EventType == EventTypePurchase
}

// Keys returns the non-empty dedup keys of the event, primary first.
func (e NormalizedEvent) Keys() []string {
	keys := make([]string, 0, 2)
	if e.OrderKey != "" {
		keys = append(keys, e.OrderKey)
	}
	if e.AltOrderKey != "" {
		keys = append(keys, e.AltOrderKey)
	}
	return keys
}
