// Package notify publishes the "product created" fact after each successful
// commit. Delivery is best-effort and intentionally decoupled from
// persistence: a publish failure never rolls back the committed write.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"

	"github.com/Satlykov/go-catalog-ingest/pkg/catalog"
)

// EventTypeProductCreated is the event_type attribute value for commit events.
const EventTypeProductCreated = "product.created"

// Event is the immutable fact published once per committed product.
type Event struct {
	Product catalog.Product `json:"product"`
	Stock   catalog.Stock   `json:"stock"`
}

// Attributes returns the broker attributes attached to the event. The price
// is carried as a message attribute, not merely inside the payload, so
// subscribers can apply numeric range filters without parsing the body.
func (e Event) Attributes() map[string]string {
	return map[string]string{
		"event_type": EventTypeProductCreated,
		"price":      strconv.FormatFloat(e.Product.Price, 'f', -1, 64),
	}
}

// Publisher publishes commit events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Stop(ctx context.Context) error
}

// GooglePublisherConfig holds configuration for the Pub/Sub event publisher.
type GooglePublisherConfig struct {
	TopicID        string
	ConfirmTimeout time.Duration
}

// GooglePublisher publishes events to a Pub/Sub topic. Subscriber filters
// (e.g. "price >= 300") are evaluated by the broker against the message
// attributes, not by this publisher.
type GooglePublisher struct {
	topic          *pubsub.Topic
	logger         zerolog.Logger
	confirmTimeout time.Duration
}

// NewGooglePublisher verifies the topic exists and returns a publisher.
func NewGooglePublisher(ctx context.Context, cfg *GooglePublisherConfig, client *pubsub.Client, logger zerolog.Logger) (*GooglePublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	topic := client.Topic(cfg.TopicID)

	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = 20 * time.Second
	}

	return &GooglePublisher{
		topic:          topic,
		logger:         logger.With().Str("component", "GooglePublisher").Str("topic_id", cfg.TopicID).Logger(),
		confirmTimeout: confirmTimeout,
	}, nil
}

// Publish sends one event and waits for the broker's confirmation. A failure
// carries catalog.KindNotification; the already-committed product stands.
func (p *GooglePublisher) Publish(ctx context.Context, event Event) error {
	const op = "notify.Publish"

	payload, err := json.Marshal(event)
	if err != nil {
		return catalog.E(catalog.KindNotification, op, err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: event.Attributes(),
	})

	getCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()
	msgID, err := result.Get(getCtx)
	if err != nil {
		return catalog.E(catalog.KindNotification, op, err)
	}

	p.logger.Debug().Str("published_msg_id", msgID).Str("product_id", event.Product.ID).Msg("Commit event published.")
	return nil
}

// Stop flushes pending events, respecting the context's deadline.
func (p *GooglePublisher) Stop(ctx context.Context) error {
	if p.topic == nil {
		return nil
	}
	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		close(stopDone)
	}()
	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
