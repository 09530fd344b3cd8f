package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// ackTimeout bounds how long a single relayed change waits for the broker.
const ackTimeout = 30 * time.Second

// Publisher delivers relayed state changes to a broker.
type Publisher interface {
	Send(ctx context.Context, env Envelope) error
	// Stop flushes pending envelopes, bounded by ctx.
	Stop(ctx context.Context) error
}

// GooglePublisher sends envelopes to a Pub/Sub topic. The envelope's routing
// fields travel as message attributes so subscribers can filter on them
// without decoding the body.
type GooglePublisher struct {
	topic  *pubsub.Topic
	logger zerolog.Logger

	pending sync.WaitGroup
	failed  atomic.Int64
}

// NewGooglePublisher verifies that topicID exists and returns a publisher for it.
func NewGooglePublisher(ctx context.Context, client *pubsub.Client, topicID string, logger zerolog.Logger) (*GooglePublisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client cannot be nil")
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", topicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", topicID)
	}
	return &GooglePublisher{
		topic:  topic,
		logger: logger.With().Str("component", "GooglePublisher").Str("topic_id", topicID).Logger(),
	}, nil
}

// Send encodes env and queues it. The broker's answer arrives later: failures
// are logged and counted, and Stop reports them.
func (p *GooglePublisher) Send(ctx context.Context, env Envelope) error {
	body, err := env.Encode()
	if err != nil {
		return err
	}
	p.pending.Add(1)
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       body,
		Attributes: env.Attributes(),
	})

	go func() {
		defer p.pending.Done()
		getCtx, cancel := context.WithTimeout(context.Background(), ackTimeout)
		defer cancel()

		msgID, err := result.Get(getCtx)
		if err != nil {
			p.failed.Add(1)
			p.logger.Error().Err(err).Str("event_id", env.ID).Str("state_topic", env.Topic).Msg("State change was not relayed.")
			return
		}
		p.logger.Debug().Str("published_msg_id", msgID).Str("event_id", env.ID).Str("state_topic", env.Topic).Msg("State change relayed.")
	}()
	return nil
}

// Stop flushes the topic and waits until every sent envelope is acknowledged
// or has failed. It returns an error if any envelope failed.
func (p *GooglePublisher) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.topic.Stop()
		p.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if n := p.failed.Load(); n > 0 {
		return fmt.Errorf("%d state changes were not relayed", n)
	}
	return nil
}
