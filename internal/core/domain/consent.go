package domain

// ConsentCategory is the consent bucket a destination platform falls into.
type ConsentCategory string

const (
	CategoryMarketing ConsentCategory = "marketing"
	CategoryAnalytics ConsentCategory = "analytics"
)

// platformPolicy is the closed per-platform consent table.
type platformPolicy struct {
	category           ConsentCategory
	requiresSaleOfData bool
}

var platformPolicies = map[string]platformPolicy{
	"meta":      {category: CategoryMarketing, requiresSaleOfData: true},
	"tiktok":    {category: CategoryMarketing, requiresSaleOfData: true},
	"snapchat":  {category: CategoryMarketing, requiresSaleOfData: true},
	"pinterest": {category: CategoryMarketing, requiresSaleOfData: false},
	"klaviyo":   {category: CategoryMarketing, requiresSaleOfData: false},
	"google":    {category: CategoryAnalytics, requiresSaleOfData: false},
}

// PlatformCategory returns the platform's consent category, honoring the
// pixel config's treatAsMarketing override. Unknown platforms default to
// marketing, the stricter bucket.
func PlatformCategory(cfg PixelConfig) ConsentCategory {
	if cfg.TreatAsMarketing() {
		return CategoryMarketing
	}
	if p, ok := platformPolicies[cfg.Platform]; ok {
		return p.category
	}
	return CategoryMarketing
}

// PlatformRequiresSaleOfData reports whether the platform needs an
// explicit sale-of-data consent signal.
func PlatformRequiresSaleOfData(platform string) bool {
	if p, ok := platformPolicies[platform]; ok {
		return p.requiresSaleOfData
	}
	return false
}

// ConsentAllows applies the consent rules for one platform config against
// an event's consent snapshot.
func ConsentAllows(consent *Consent, cfg PixelConfig) bool {
	var marketing, analytics, saleOfData *bool
	if consent != nil {
		marketing, analytics, saleOfData = consent.Marketing, consent.Analytics, consent.SaleOfData
	}

	if PlatformRequiresSaleOfData(cfg.Platform) && saleOfData != nil && !*saleOfData {
		return false
	}

	switch PlatformCategory(cfg) {
	case CategoryMarketing:
		return marketing != nil && *marketing
	default:
		return analytics != nil && *analytics
	}
}
