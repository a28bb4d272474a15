package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Environment distinguishes a shop's test and live pipelines.
type Environment string

const (
	EnvTest Environment = "test"
	EnvLive Environment = "live"
)

// PipelineMode controls which events a shop's pipeline accepts.
type PipelineMode string

const (
	// ModePurchaseOnly accepts only the checkout-completion event.
	ModePurchaseOnly PipelineMode = "purchase_only"
	// ModeFullFunnel accepts the whole recognized event set.
	ModeFullFunnel PipelineMode = "full_funnel"
)

// Shop is a registered storefront and its signing material.
// Secret fields hold ciphertext as loaded; the shop service decrypts them
// in place before the HMAC validator sees the record.
type Shop struct {
	ID                   uuid.UUID     `json:"id"`
	ShopDomain           string        `json:"shop_domain"`
	Environment          Environment   `json:"environment"`
	IsActive             bool          `json:"is_active"`
	CurrentSecret        string        `json:"-"`
	PreviousSecret       *string       `json:"-"`
	PreviousSecretExpiry *time.Time    `json:"-"`
	PendingSecret        *string       `json:"-"`
	PendingSecretExpiry  *time.Time    `json:"-"`
	PendingMatchCount    int           `json:"-"`
	PrimaryDomain        *string       `json:"primary_domain,omitempty"`
	StorefrontDomains    []string      `json:"storefront_domains,omitempty"`
	PixelConfigs         []PixelConfig `json:"pixel_configs,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// PixelConfig is one per-platform pixel configuration on a shop.
type PixelConfig struct {
	ID                uuid.UUID       `json:"id"`
	Platform          string          `json:"platform"`
	PlatformID        string          `json:"platform_id"`
	ClientSideEnabled bool            `json:"client_side_enabled"`
	ServerSideEnabled bool            `json:"server_side_enabled"`
	ClientConfig      json.RawMessage `json:"client_config,omitempty"`
}

// clientConfig is the subset of ClientConfig the core reads.
type clientConfig struct {
	Mode             string `json:"mode"`
	TreatAsMarketing bool   `json:"treatAsMarketing"`
}

// TreatAsMarketing reports whether the config forces the marketing
// consent category regardless of the platform default.
func (p PixelConfig) TreatAsMarketing() bool {
	var cc clientConfig
	if len(p.ClientConfig) == 0 || json.Unmarshal(p.ClientConfig, &cc) != nil {
		return false
	}
	return cc.TreatAsMarketing
}

// ExpireSecrets nulls any secondary secret whose expiry has passed.
// Called once at load time so later stages never see a stale secret.
func (s *Shop) ExpireSecrets(now time.Time) {
	if s.PreviousSecret != nil && s.PreviousSecretExpiry != nil && now.After(*s.PreviousSecretExpiry) {
		s.PreviousSecret = nil
		s.PreviousSecretExpiry = nil
	}
	if s.PendingSecret != nil && s.PendingSecretExpiry != nil && now.After(*s.PendingSecretExpiry) {
		s.PendingSecret = nil
		s.PendingSecretExpiry = nil
	}
}

// AllowedOrigins returns the shop-specific origin allowlist: shop domain,
// primary domain, and every storefront domain, lowercased and bare of scheme.
func (s *Shop) AllowedOrigins() map[string]struct{} {
	set := make(map[string]struct{}, 2+len(s.StorefrontDomains))
	add := func(d string) {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimPrefix(d, "https://")
		d = strings.TrimPrefix(d, "http://")
		d = strings.TrimSuffix(d, "/")
		if d != "" {
			set[d] = struct{}{}
		}
	}
	add(s.ShopDomain)
	if s.PrimaryDomain != nil {
		add(*s.PrimaryDomain)
	}
	for _, d := range s.StorefrontDomains {
		add(d)
	}
	return set
}

// Mode derives the pipeline mode: full_funnel if any active pixel config
// requests it, purchase_only otherwise.
func (s *Shop) Mode() PipelineMode {
	for _, p := range s.PixelConfigs {
		if !p.ClientSideEnabled && !p.ServerSideEnabled {
			continue
		}
		var cc clientConfig
		if len(p.ClientConfig) > 0 && json.Unmarshal(p.ClientConfig, &cc) == nil {
			if cc.Mode == string(ModeFullFunnel) {
				return ModeFullFunnel
			}
		}
	}
	return ModePurchaseOnly
}

// ServerSideConfigs returns the pixel configs that feed the server-side
// distribution path.
func (s *Shop) ServerSideConfigs() []PixelConfig {
	var out []PixelConfig
	for _, p := range s.PixelConfigs {
		if p.ServerSideEnabled {
			out = append(out, p)
		}
	}
	return out
}
