package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Close()
}

// NATSPublisher implements Publisher using NATS. Scrape events go to
// <subject>.scrape and sample events to <subject>.sample; failures are
// also routed to <subject>.error.
type NATSPublisher struct {
	conn    Conn
	subject string
	logger  zerolog.Logger
}

// NewNATSPublisher connects to natsURL.
func NewNATSPublisher(natsURL, subject string, logger zerolog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(natsURL, nats.Name("finagg"))
	if err != nil {
		return nil, fmt.Errorf("events: connect %s: %w", natsURL, err)
	}
	return NewPublisherWithConn(conn, subject, logger), nil
}

// NewPublisherWithConn wraps an existing connection.
func NewPublisherWithConn(conn Conn, subject string, logger zerolog.Logger) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject, logger: logger}
}

// Close closes the NATS connection
func (n *NATSPublisher) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}

func (n *NATSPublisher) publish(subject string, event any, failed bool) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(subject, data); err != nil {
		n.logger.Error().Err(err).Str("subject", subject).Msg("Failed to publish event")
		return err
	}
	if failed {
		routingKey := n.subject + ".error"
		if err := n.conn.Publish(routingKey, data); err != nil {
			n.logger.Error().Err(err).Str("routing_key", routingKey).Msg("Failed to publish to routing key")
		}
	}
	return nil
}

// PublishScrape publishes a finished scrape run.
func (n *NATSPublisher) PublishScrape(ctx context.Context, event ScrapeEvent) error {
	subject := n.subject + ".scrape"
	if err := n.publish(subject, event, len(event.Failures) > 0); err != nil {
		return err
	}
	n.logger.Debug().
		Str("run_id", event.RunID).
		Str("pipeline", event.Pipeline).
		Str("subject", subject).
		Msg("Published scrape event")
	return nil
}

// PublishSample publishes a served policy sample.
func (n *NATSPublisher) PublishSample(ctx context.Context, event SampleEvent) error {
	subject := n.subject + ".sample"
	if err := n.publish(subject, event, event.LastError != ""); err != nil {
		return err
	}
	n.logger.Debug().
		Str("request_id", event.RequestID).
		Str("transport", event.Transport).
		Str("subject", subject).
		Msg("Published sample event")
	return nil
}
