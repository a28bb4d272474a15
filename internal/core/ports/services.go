package ports

import (
	"context"
	"time"

	"tracking-guardian/internal/core/domain"

	"github.com/google/uuid"
)

// EncryptionService handles AES-256-GCM encryption/decryption of shop
// secrets at rest.
type EncryptionService interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// SignatureService handles HMAC-SHA256 signing and verification of pixel
// batches.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	// Verify compares in constant time.
	Verify(secretKey string, payload string, signature string) bool
	// BodyHash returns the lowercase hex SHA-256 of the body bytes.
	BodyHash(body []byte) string
	// CanonicalPayload builds "{timestamp}:{shopDomain}:{bodyHash}".
	CanonicalPayload(timestamp int64, shopDomain string, bodyHash string) string
}

// SignatureInput carries everything the key validator needs for one request.
type SignatureInput struct {
	Signature        string
	Source           domain.SignatureSource
	TimestampHeader  string
	PayloadTimestamp int64  // batch timestamp, for the header-source equality check
	SignedShopDomain string // from the body envelope, when Source is body
	ShopDomain       string
	Body             []byte
	Now              time.Time
}

// AbuseFindings summarizes the batch abuse heuristics.
type AbuseFindings struct {
	DuplicateOrderKeyRate float64
	InvalidOrderKeyRate   float64
	NonStandardEventRate  float64
	Flagged               bool
	Reasons               []string
}

// KeyValidator verifies batch signatures under key rotation and runs the
// post-match abuse heuristics.
type KeyValidator interface {
	Validate(ctx context.Context, shop *domain.Shop, in SignatureInput) domain.KeyValidation
	CheckAbuse(events []domain.PixelEvent) AbuseFindings
}

// ShopLoader resolves a shop, decrypts its secrets, and expires stale
// secondary secrets. Returns nil, nil when the shop is unknown.
type ShopLoader interface {
	Load(ctx context.Context, shopDomain string, env domain.Environment) (*domain.Shop, error)
}

// TokenClaims holds the parsed ops-token claims.
type TokenClaims struct {
	Subject string
}

// TokenService issues and validates the internal ops tokens.
type TokenService interface {
	Generate(subject string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// Normalizer derives event identity (C12).
type Normalizer interface {
	// Normalize drops non-primary events and events with no derivable
	// order key, preserving batch order for the survivors.
	Normalize(events []domain.ValidatedEvent, mode domain.PipelineMode) []domain.NormalizedEvent
}

// DedupResult reports what the deduplicator kept and why events dropped.
type DedupResult struct {
	Kept       []domain.NormalizedEvent
	Duplicates int
	Replays    int
}

// Deduplicator suppresses repeat purchases (C13). Non-purchase events
// pass through untouched.
type Deduplicator interface {
	Dedup(ctx context.Context, shopID uuid.UUID, events []domain.NormalizedEvent) (DedupResult, error)
}

// ConsentFilter maps events through the per-platform consent rules (C14),
// filling Destinations and dropping events with none.
type ConsentFilter interface {
	Apply(events []domain.NormalizedEvent, configs []domain.PixelConfig) []domain.NormalizedEvent
}

// ReceiptWriter performs the idempotent purchase receipt upsert (C15).
type ReceiptWriter interface {
	Write(ctx context.Context, shopID uuid.UUID, events []domain.NormalizedEvent, kv domain.KeyValidation) error
}

// Pipeline runs C12–C15 over a dequeued entry.
type Pipeline interface {
	Process(ctx context.Context, entry *domain.QueueEntry) ([]domain.NormalizedEvent, error)
}

// Persister is the external downstream collaborator that stores internal
// events and schedules dispatch jobs.
type Persister interface {
	PersistInternalEventsAndDispatchJobs(ctx context.Context, shopID uuid.UUID, events []domain.NormalizedEvent, reqCtx domain.RequestContextInfo, env domain.Environment) error
}

// WorkerStats summarizes one worker invocation.
type WorkerStats struct {
	Processed int
	Errors    int
	Acked     int
}

// Worker drains the queue (C17).
type Worker interface {
	Run(ctx context.Context) (WorkerStats, error)
}
