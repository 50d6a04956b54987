package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/aamakeev/director-extension/internal/bus"
)

// NewBusRelay builds a manager bridged to the message bus: outbound whispers
// are fanned out to connected surfaces and inbound client frames are
// republished as whispered envelopes. The returned cleanup detaches the
// subscription.
func NewBusRelay(config Config, b bus.Bus) (*Manager, func(), error) {
	manager := NewManager(config, func(data []byte) {
		if err := b.Publish(bus.SubjectWhispered, json.RawMessage(data)); err != nil {
			log.Warn().Err(err).Msg("inbound frame relay failed")
		}
	})

	unsub, err := b.Subscribe(bus.SubjectWhisper, manager.Dispatch)
	if err != nil {
		return nil, nil, err
	}
	return manager, unsub, nil
}

// Mux returns the gateway HTTP routes.
func (m *Manager) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", m.HandleWS)
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(m.Stats())
	})
	return mux
}
