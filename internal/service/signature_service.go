package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"tracking-guardian/config"
	"tracking-guardian/internal/core/domain"
	"tracking-guardian/internal/core/ports"

	"github.com/rs/zerolog"
)

// maxSignatureLen bounds the accepted signature before any comparison.
const maxSignatureLen = 256

var (
	hexRe        = regexp.MustCompile(`^[0-9a-fA-F]+$`)
	orderKeyGID  = regexp.MustCompile(`^gid://shopify/\w+/\d+$`)
	orderKeySafe = regexp.MustCompile(`^[A-Za-z0-9_\-.:/]+$`)
)

// HMACSignatureService implements ports.SignatureService using HMAC-SHA256.
type HMACSignatureService struct{}

// NewHMACSignatureService creates a new HMAC-SHA256 signature service.
func NewHMACSignatureService() *HMACSignatureService {
	return &HMACSignatureService{}
}

// Sign computes HMAC-SHA256 of payload using secretKey.
// Returns lowercase hex-encoded signature.
func (s *HMACSignatureService) Sign(secretKey string, payload string) string {
	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks if signature matches HMAC-SHA256(secretKey, payload).
// Uses constant-time comparison to prevent timing attacks.
func (s *HMACSignatureService) Verify(secretKey string, payload string, signature string) bool {
	expected := s.Sign(secretKey, payload)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// BodyHash returns the lowercase hex SHA-256 of the body bytes.
func (s *HMACSignatureService) BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// CanonicalPayload builds the signed message "{timestamp}:{shopDomain}:{bodyHash}".
func (s *HMACSignatureService) CanonicalPayload(timestamp int64, shopDomain string, bodyHash string) string {
	return fmt.Sprintf("%d:%s:%s", timestamp, shopDomain, bodyHash)
}

// HMACKeyValidator implements ports.KeyValidator: signature verification
// under key rotation plus the batch abuse heuristics.
type HMACKeyValidator struct {
	sigSvc        ports.SignatureService
	window        time.Duration
	allowUnsigned bool
	abuse         config.AbuseConfig
	log           zerolog.Logger
}

// NewHMACKeyValidator creates a key validator.
func NewHMACKeyValidator(sigSvc ports.SignatureService, window time.Duration, allowUnsigned bool, abuse config.AbuseConfig, log zerolog.Logger) *HMACKeyValidator {
	return &HMACKeyValidator{
		sigSvc:        sigSvc,
		window:        window,
		allowUnsigned: allowUnsigned,
		abuse:         abuse,
		log:           log,
	}
}

// Validate runs the ordered verification steps, failing fast with the
// specific error code. Secrets never leave this method; callers only see
// the trust level and which secret position matched.
func (v *HMACKeyValidator) Validate(_ context.Context, shop *domain.Shop, in ports.SignatureInput) domain.KeyValidation {
	if in.Signature == "" {
		if v.allowUnsigned {
			return domain.SkippedByEnvironment()
		}
		return domain.Failed(domain.ReasonSignatureMissing, domain.ErrCodeMissingSignature, domain.SourceNone)
	}

	if len(in.Signature) > maxSignatureLen || !hexRe.MatchString(in.Signature) {
		return domain.Failed(domain.ReasonHMACInvalid, domain.ErrCodeInvalidSignature, in.Source)
	}

	if in.TimestampHeader == "" {
		return domain.Failed(domain.ReasonHMACNotVerified, domain.ErrCodeMissingTimestampHeader, in.Source)
	}

	ts, err := strconv.ParseInt(in.TimestampHeader, 10, 64)
	if err != nil {
		return domain.Failed(domain.ReasonHMACNotVerified, domain.ErrCodeMissingTimestampHeader, in.Source)
	}

	// Header-sourced signatures must agree with the payload timestamp;
	// the mismatch verdict carries both values in its metadata.
	// Body-sourced signatures skip this check and get no timestamp metadata.
	if in.Source == domain.SourceHeader && in.PayloadTimestamp != 0 && ts != in.PayloadTimestamp {
		kv := domain.Failed(domain.ReasonHMACNotVerified, domain.ErrCodeTimestampMismatch, in.Source)
		kv.Metadata = map[string]interface{}{
			"headerTimestamp":  ts,
			"payloadTimestamp": in.PayloadTimestamp,
		}
		return kv
	}

	if math.Abs(float64(in.Now.UnixMilli()-ts)) > float64(v.window.Milliseconds()) {
		return domain.Failed(domain.ReasonHMACNotVerified, domain.ErrCodeTimestampOutOfWindow, in.Source)
	}

	if in.Source == domain.SourceBody && in.SignedShopDomain != "" && in.SignedShopDomain != in.ShopDomain {
		return domain.Failed(domain.ReasonHMACNotVerified, domain.ErrCodeShopDomainMismatch, in.Source)
	}

	if shop == nil || shop.CurrentSecret == "" {
		return domain.Failed(domain.ReasonSecretMissing, "", in.Source)
	}

	payload := v.sigSvc.CanonicalPayload(ts, in.ShopDomain, v.sigSvc.BodyHash(in.Body))

	if v.sigSvc.Verify(shop.CurrentSecret, payload, in.Signature) {
		return domain.Verified(in.Source, false, false)
	}
	if shop.PreviousSecret != nil && *shop.PreviousSecret != "" && v.sigSvc.Verify(*shop.PreviousSecret, payload, in.Signature) {
		v.log.Info().Str("shop", in.ShopDomain).Msg("signature matched previous secret within grace window")
		return domain.Verified(in.Source, true, false)
	}
	if shop.PendingSecret != nil && *shop.PendingSecret != "" && v.sigSvc.Verify(*shop.PendingSecret, payload, in.Signature) {
		v.log.Info().Str("shop", in.ShopDomain).Msg("signature matched pending secret")
		return domain.Verified(in.Source, false, true)
	}

	return domain.Failed(domain.ReasonHMACInvalid, domain.ErrCodeInvalidSignature, in.Source)
}

// CheckAbuse computes the batch heuristics. Callers only invoke it when
// the HMAC matched and the batch has enough events to be meaningful.
func (v *HMACKeyValidator) CheckAbuse(events []domain.PixelEvent) ports.AbuseFindings {
	findings := ports.AbuseFindings{}
	total := len(events)
	if total < v.abuse.MinEvents {
		return findings
	}

	unique := make(map[string]struct{}, total)
	invalid := 0
	nonStandard := 0
	for _, ev := range events {
		key := ev.Data.OrderID
		if key == "" {
			key = ev.Data.CheckoutToken
		}
		if key != "" {
			unique[key] = struct{}{}
			if len(key) > maxSignatureLen || (!orderKeyGID.MatchString(key) && !orderKeySafe.MatchString(key)) {
				invalid++
			}
		}
		if !domain.IsRecognizedEvent(ev.EventName) {
			nonStandard++
		}
	}

	findings.DuplicateOrderKeyRate = 1 - float64(len(unique))/float64(total)
	findings.InvalidOrderKeyRate = float64(invalid) / float64(total)
	findings.NonStandardEventRate = float64(nonStandard) / float64(total)

	if findings.DuplicateOrderKeyRate > v.abuse.DuplicateOrderKeyRate {
		findings.Reasons = append(findings.Reasons, "duplicate_order_key_rate")
	}
	if findings.InvalidOrderKeyRate > v.abuse.InvalidOrderKeyRate {
		findings.Reasons = append(findings.Reasons, "invalid_order_key_rate")
	}
	if findings.NonStandardEventRate > v.abuse.NonStandardEventRate {
		findings.Reasons = append(findings.Reasons, "non_standard_event_rate")
	}
	findings.Flagged = len(findings.Reasons) > 0
	return findings
}
