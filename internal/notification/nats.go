package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NatsPublisher publishes events to a NATS server.
type NatsPublisher struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

// NewNatsPublisher connects to NATS and returns a publisher. The
// connection reconnects automatically; events published while
// disconnected are buffered by the client.
func NewNatsPublisher(url string, logger zerolog.Logger) (*NatsPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("shop-notifications"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &NatsPublisher{conn: conn, logger: logger}, nil
}

// Publish marshals the event as JSON and publishes it.
func (p *NatsPublisher) Publish(ctx context.Context, subject string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.logger.Debug().Str("subject", subject).Int("bytes", len(payload)).Msg("event published")
	return nil
}

// Close drains the connection so buffered events flush before shutdown.
func (p *NatsPublisher) Close() error {
	return p.conn.Drain()
}
