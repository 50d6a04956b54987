package bus

import (
	"encoding/json"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/aamakeev/director-extension/internal/game"
)

// whisperEnvelope is the superset of fields inbound surface messages carry.
// Numbers arrive as JSON floats and are floored on decode.
type whisperEnvelope struct {
	Type       string  `json:"type"`
	UserID     string  `json:"userId"`
	Username   string  `json:"username"`
	FromItemID string  `json:"fromItemId"`
	ToItemID   string  `json:"toItemId"`
	CommandID  string  `json:"commandId"`
	Amount     float64 `json:"amount"`
}

// DecodeWhisper maps an inbound surface envelope to an engine event.
// Unknown types are dropped.
func DecodeWhisper(data []byte) (any, bool) {
	var env whisperEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Debug().Err(err).Msg("undecodable whisper envelope")
		return nil, false
	}

	switch env.Type {
	case game.TypeStateRequest:
		return game.StateRequestEvent{}, true
	case game.TypeSelfAllocationsRequest:
		return game.SelfAllocationsRequestEvent{UserID: env.UserID}, true
	case game.TypeReallocate:
		return game.ReallocateEvent{
			UserID:     env.UserID,
			Username:   env.Username,
			FromItemID: env.FromItemID,
			ToItemID:   env.ToItemID,
			Amount:     int(math.Floor(env.Amount)),
		}, true
	case game.TypeCommandIssue:
		return game.CommandIssueEvent{
			UserID:    env.UserID,
			Username:  env.Username,
			CommandID: env.CommandID,
		}, true
	case game.TypeSettingsUpdated:
		return game.SettingsUpdatedEvent{}, true
	default:
		return nil, false
	}
}

// spendEvent is the platform token-spend notification.
type spendEvent struct {
	TokensAmount    float64 `json:"tokensAmount"`
	TokensSpendData struct {
		Action   string `json:"action"`
		UserID   string `json:"userId"`
		Username string `json:"username"`
		ItemID   string `json:"itemId"`
	} `json:"tokensSpendData"`
}

// DecodeSpend maps a token-spend notification to a TipEvent. Spends that do
// not carry the tip action are ignored.
func DecodeSpend(data []byte) (game.TipEvent, bool) {
	var ev spendEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		log.Debug().Err(err).Msg("undecodable spend event")
		return game.TipEvent{}, false
	}
	if ev.TokensSpendData.Action != game.TipAction {
		return game.TipEvent{}, false
	}
	return game.TipEvent{
		Action:   ev.TokensSpendData.Action,
		UserID:   ev.TokensSpendData.UserID,
		Username: ev.TokensSpendData.Username,
		ItemID:   ev.TokensSpendData.ItemID,
		Amount:   int(math.Floor(ev.TokensAmount)),
	}, true
}

// SubscribeEngine wires the inbound subjects to the engine's event loop.
// The returned function detaches all subscriptions.
func SubscribeEngine(b Bus, e *game.Engine) (func(), error) {
	unsubWhispered, err := b.Subscribe(SubjectWhispered, func(data []byte) {
		if ev, ok := DecodeWhisper(data); ok {
			e.Post(ev)
		}
	})
	if err != nil {
		return nil, err
	}

	unsubSpend, err := b.Subscribe(SubjectTokensSpend, func(data []byte) {
		if ev, ok := DecodeSpend(data); ok {
			e.Post(ev)
		}
	})
	if err != nil {
		unsubWhispered()
		return nil, err
	}

	return func() {
		unsubWhispered()
		unsubSpend()
	}, nil
}
