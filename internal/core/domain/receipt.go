package domain

import (
	"time"

	"github.com/google/uuid"
)

// Receipt records that a purchase event was distributed. (shop_id,
// event_id) is unique at the database, which is what makes the upsert
// idempotent across retries and worker crashes.
type Receipt struct {
	ID                uuid.UUID  `json:"id"`
	ShopID            uuid.UUID  `json:"shop_id"`
	EventID           string     `json:"event_id"`
	EventType         string     `json:"event_type"`
	OrderKey          string     `json:"order_key"`
	AltOrderKey       *string    `json:"alt_order_key,omitempty"`
	PrimaryPlatform   string     `json:"primary_platform"`
	Destinations      []string   `json:"destinations"`
	HMACTrustLevel    TrustLevel `json:"hmac_trust_level"`
	HMACMatched       bool       `json:"hmac_matched"`
	VerificationRunID *uuid.UUID `json:"verification_run_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// VerificationRun is an auditing run over a shop's tracking setup. The
// receipt writer stamps receipts with the most recent running run, if any.
type VerificationRun struct {
	ID        uuid.UUID `json:"id"`
	ShopID    uuid.UUID `json:"shop_id"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// VerificationRunning is the status the receipt writer looks for.
const VerificationRunning = "running"
