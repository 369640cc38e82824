package messagepipeline

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// DispatchPublisher enqueues one durable message per decoded row. Unlike a
// fire-and-forget publisher it blocks on the broker's confirmation, so a
// transport failure surfaces to the caller instead of vanishing into a log:
// the importer must know that a row failed to enqueue before it may relocate
// the source file.
type DispatchPublisher interface {
	// Publish issues exactly one enqueue attempt and returns the broker's
	// receipt for the accepted message. Retries after acceptance are the
	// queue's responsibility.
	Publish(ctx context.Context, payload []byte, attributes map[string]string) (receipt string, err error)
	// Stop flushes pending messages, respecting the context's deadline.
	Stop(ctx context.Context) error
}

// GoogleDispatchPublisherConfig holds configuration for the Pub/Sub dispatch
// publisher.
type GoogleDispatchPublisherConfig struct {
	TopicID string
	// ConfirmTimeout bounds the wait for the broker's publish confirmation.
	ConfirmTimeout time.Duration
}

// NewGoogleDispatchPublisherDefaults provides a config with sensible
// defaults for the given topic.
func NewGoogleDispatchPublisherDefaults(topicID string) *GoogleDispatchPublisherConfig {
	return &GoogleDispatchPublisherConfig{
		TopicID:        topicID,
		ConfirmTimeout: 20 * time.Second,
	}
}

// GoogleDispatchPublisher implements DispatchPublisher on a Pub/Sub topic.
type GoogleDispatchPublisher struct {
	topic          *pubsub.Topic
	logger         zerolog.Logger
	confirmTimeout time.Duration
}

// NewGoogleDispatchPublisher verifies the topic exists and returns a
// publisher for it.
func NewGoogleDispatchPublisher(ctx context.Context, cfg *GoogleDispatchPublisherConfig, client *pubsub.Client, logger zerolog.Logger) (*GoogleDispatchPublisher, error) {
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

	return &GoogleDispatchPublisher{
		topic:          topic,
		logger:         logger.With().Str("component", "GoogleDispatchPublisher").Str("topic_id", cfg.TopicID).Logger(),
		confirmTimeout: confirmTimeout,
	}, nil
}

// Publish sends one message and waits for the broker's confirmation.
func (p *GoogleDispatchPublisher) Publish(ctx context.Context, payload []byte, attributes map[string]string) (string, error) {
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: attributes,
	})

	getCtx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()

	receipt, err := result.Get(getCtx)
	if err != nil {
		return "", fmt.Errorf("publish to %s not confirmed: %w", p.topic.ID(), err)
	}
	p.logger.Debug().Str("receipt", receipt).Msg("Dispatch message enqueued.")
	return receipt, nil
}

// Stop flushes any buffered messages and stops the topic client.
func (p *GoogleDispatchPublisher) Stop(ctx context.Context) error {
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
