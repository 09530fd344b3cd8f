package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-diwane/pkg/types"
)

// Refresher reloads a collection from the resource store. *client.Client
// satisfies it.
type Refresher interface {
	Refresh(ctx context.Context, c types.Collection) error
}

// FollowerConfig holds configuration for the Follower.
type FollowerConfig struct {
	SubscriptionID         string
	MaxOutstandingMessages int
	NumGoroutines          int
	// IgnoreOrigin is normally the Origin of the local Relay.
	IgnoreOrigin string
}

// Follower consumes state changes relayed by other instances and refreshes the
// affected collection locally. Only added, updated and removed changes trigger
// a refresh; a replaced listing is itself the result of a refresh.
type Follower struct {
	subscription *pubsub.Subscription
	refresher    Refresher
	ignoreOrigin string
	logger       zerolog.Logger

	stopOnce sync.Once
	cancel   context.CancelFunc
	doneChan chan struct{}
}

// NewFollower checks that the subscription exists and returns a Follower for it.
func NewFollower(ctx context.Context, cfg *FollowerConfig, client *pubsub.Client, refresher Refresher, logger zerolog.Logger) (*Follower, error) {
	if client == nil || refresher == nil {
		return nil, errors.New("pubsub client and refresher cannot be nil")
	}
	sub := client.Subscription(cfg.SubscriptionID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for subscription %s: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("subscription %s does not exist", cfg.SubscriptionID)
	}
	if cfg.MaxOutstandingMessages > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	}
	if cfg.NumGoroutines > 0 {
		sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines
	}

	return &Follower{
		subscription: sub,
		refresher:    refresher,
		ignoreOrigin: cfg.IgnoreOrigin,
		logger:       logger.With().Str("component", "Follower").Str("subscription_id", cfg.SubscriptionID).Logger(),
		doneChan:     make(chan struct{}),
	}, nil
}

// Start receives messages in a background goroutine until Stop or ctx ends.
func (f *Follower) Start(ctx context.Context) {
	receiveCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	go func() {
		defer close(f.doneChan)
		f.logger.Info().Msg("Following relayed state changes.")
		err := f.subscription.Receive(receiveCtx, f.handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			f.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
		f.logger.Info().Msg("Follower stopped.")
	}()
}

// Stop cancels receiving and waits for the goroutine to exit.
func (f *Follower) Stop() {
	f.stopOnce.Do(func() {
		if f.cancel == nil {
			return
		}
		f.cancel()
		select {
		case <-f.doneChan:
		case <-time.After(30 * time.Second):
			f.logger.Error().Msg("Timeout waiting for Pub/Sub Receive goroutine to stop.")
		}
	})
}

// Done is closed once the follower has stopped.
func (f *Follower) Done() <-chan struct{} {
	return f.doneChan
}

func (f *Follower) handle(ctx context.Context, msg *pubsub.Message) {
	if f.ignoreOrigin != "" && msg.Attributes[AttrOrigin] == f.ignoreOrigin {
		msg.Ack()
		return
	}
	switch types.ChangeKind(msg.Attributes[AttrKind]) {
	case types.Added, types.Updated, types.Removed:
	default:
		msg.Ack()
		return
	}
	coll, err := types.ParseCollection(msg.Attributes[AttrCollection])
	if err != nil {
		f.logger.Warn().Err(err).Str("msg_id", msg.ID).Msg("Dropping message for unknown collection.")
		msg.Ack()
		return
	}

	if err := f.refresher.Refresh(ctx, coll); err != nil {
		f.logger.Error().Err(err).Str("collection", string(coll)).Msg("Refresh failed, message will be redelivered.")
		msg.Nack()
		return
	}
	f.logger.Debug().Str("collection", string(coll)).Str("event_id", msg.Attributes[AttrEventID]).Msg("Refreshed after remote change.")
	msg.Ack()
}
