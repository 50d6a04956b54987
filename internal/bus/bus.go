// Package bus wraps the platform extension messaging channel: request/response
// calls plus the whisper publish/subscribe channel, carried over NATS.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Platform subjects consumed and produced by the extension.
const (
	SubjectContextGet  = "v1.ext.context.get"
	SubjectSettingsGet = "v1.model.ext.settings.get"
	SubjectTipMenuGet  = "v1.model.tip.menu.get"
	SubjectChatSend    = "v1.chat.message.send"
	SubjectOverlayOpen = "v1.ext.overlay.open"
	SubjectWhisper     = "v1.ext.whisper"
	SubjectWhispered   = "v1.ext.whispered"
	SubjectTokensSpend = "v1.payment.tokens.spend.succeeded"
)

// Bus is the opaque asynchronous message bus the engine talks to.
type Bus interface {
	Request(ctx context.Context, subject string, payload any, out any) error
	Publish(subject string, payload any) error
	Subscribe(subject string, handler func(data []byte)) (func(), error)
}

// NATSBus implements Bus over a NATS connection.
type NATSBus struct {
	nc *nats.Conn
}

// Connect dials NATS with infinite reconnects and logging handlers.
func Connect(url string) (*NATSBus, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSBus{nc: nc}, nil
}

func (b *NATSBus) Request(ctx context.Context, subject string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request payload: %w", err)
	}

	msg, err := b.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("request %s: %w", subject, err)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(msg.Data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", subject, err)
	}
	return nil
}

func (b *NATSBus) Publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal publish payload: %w", err)
	}
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (b *NATSBus) Subscribe(subject string, handler func(data []byte)) (func(), error) {
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Str("subject", subject).Msg("unsubscribe failed")
		}
	}, nil
}

func (b *NATSBus) Close() {
	b.nc.Close()
}
