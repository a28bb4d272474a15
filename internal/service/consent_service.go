package service

import (
	"tracking-guardian/internal/core/domain"

	"github.com/rs/zerolog"
)

// ConsentService implements ports.ConsentFilter: the per-platform consent
// rules over each surviving event.
type ConsentService struct {
	log zerolog.Logger
}

// NewConsentService creates a new ConsentService.
func NewConsentService(log zerolog.Logger) *ConsentService {
	return &ConsentService{log: log}
}

// Apply fills each event's destination list from the enabled server-side
// pixel configs and drops events no platform may receive.
func (s *ConsentService) Apply(events []domain.NormalizedEvent, configs []domain.PixelConfig) []domain.NormalizedEvent {
	out := make([]domain.NormalizedEvent, 0, len(events))
	for _, ev := range events {
		var destinations []string
		for _, cfg := range configs {
			if !cfg.ServerSideEnabled {
				continue
			}
			if domain.ConsentAllows(ev.Consent, cfg) {
				destinations = append(destinations, cfg.Platform)
			}
		}
		if len(destinations) == 0 {
			s.log.Debug().Str("event", ev.EventName).Msg("event has no consented destinations, dropping")
			continue
		}
		ev.Destinations = destinations
		out = append(out, ev)
	}
	return out
}
