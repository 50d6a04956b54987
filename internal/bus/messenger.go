package bus

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aamakeev/director-extension/internal/game"
)

const chatSendTimeout = 5 * time.Second

// SessionContext identifies the broadcast the extension is attached to.
type SessionContext struct {
	ModelID string `json:"modelId"`
}

// Messenger exposes the platform request channels the game engine needs.
// It implements game.Messenger.
type Messenger struct {
	bus Bus
}

func NewMessenger(b Bus) *Messenger {
	return &Messenger{bus: b}
}

// Whisper publishes a payload to every connected extension surface.
// Delivery is best effort; broadcast state is resent on the next tick anyway.
func (m *Messenger) Whisper(data any) {
	if err := m.bus.Publish(SubjectWhisper, data); err != nil {
		log.Warn().Err(err).Msg("whisper publish failed")
	}
}

// SendChatMessage posts a line to the broadcast chat on behalf of the
// extension. Failures are logged and swallowed; chat is a side channel.
func (m *Messenger) SendChatMessage(ctx context.Context, message string) {
	ctx, cancel := context.WithTimeout(ctx, chatSendTimeout)
	defer cancel()

	req := map[string]any{
		"message":     message,
		"isAnonymous": false,
	}
	if err := m.bus.Request(ctx, SubjectChatSend, req, nil); err != nil {
		log.Warn().Err(err).Msg("chat message send failed")
	}
}

// RequestSettings fetches the raw per-model extension settings.
func (m *Messenger) RequestSettings(ctx context.Context) (map[string]any, error) {
	var resp struct {
		Settings map[string]any `json:"settings"`
	}
	if err := m.bus.Request(ctx, SubjectSettingsGet, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Settings, nil
}

// RequestTipMenu fetches the model's configured tip menu.
func (m *Messenger) RequestTipMenu(ctx context.Context) (*game.MenuPayload, error) {
	var resp game.MenuPayload
	if err := m.bus.Request(ctx, SubjectTipMenuGet, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// OpenOverlay asks the platform to surface the overlay panel.
func (m *Messenger) OpenOverlay(ctx context.Context) error {
	req := map[string]any{"source": "extension"}
	return m.bus.Request(ctx, SubjectOverlayOpen, req, nil)
}

// RequestContext resolves the broadcast context the extension runs in.
// The model id doubles as the persistent session id.
func (m *Messenger) RequestContext(ctx context.Context) (SessionContext, error) {
	var resp struct {
		Model SessionContext `json:"model"`
	}
	if err := m.bus.Request(ctx, SubjectContextGet, nil, &resp); err != nil {
		return SessionContext{}, err
	}
	return resp.Model, nil
}
