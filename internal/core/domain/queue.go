package domain

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ValidatedEvent pairs a validated payload with its batch index. Order is
// preserved so in-batch dedup stays first-wins.
type ValidatedEvent struct {
	Payload PixelEvent `json:"payload"`
	Index   int        `json:"index"`
}

// RequestContextInfo is the client context snapshot carried with a batch.
type RequestContextInfo struct {
	IP        string `json:"ip"`
	UserAgent string `json:"userAgent,omitempty"`
	PageURL   string `json:"pageUrl,omitempty"`
	Referrer  string `json:"referrer,omitempty"`
}

// QueueEntry is the serialized unit of work handed from the ingest edge to
// the worker.
type QueueEntry struct {
	RequestID           string             `json:"requestId"`
	ShopID              uuid.UUID          `json:"shopId"`
	ShopDomain          string             `json:"shopDomain"`
	Environment         Environment        `json:"environment"`
	Mode                PipelineMode       `json:"mode"`
	ValidatedEvents     []ValidatedEvent   `json:"validatedEvents"`
	KeyValidation       KeyValidation      `json:"keyValidation"`
	Origin              string             `json:"origin,omitempty"`
	RequestContext      RequestContextInfo `json:"requestContext"`
	EnabledPixelConfigs []PixelConfig      `json:"enabledPixelConfigs,omitempty"`
	BatchTimestamp      int64              `json:"batchTimestamp,omitempty"`
}

// Marshal encodes the entry as the queue's UTF-8 JSON wire form.
func (e QueueEntry) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalQueueEntry decodes a raw queue element.
func UnmarshalQueueEntry(raw []byte) (*QueueEntry, error) {
	var e QueueEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
