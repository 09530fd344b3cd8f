// Package relay forwards state changes from the event bus to a message broker
// so that other sessions and services can follow them.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-diwane/pkg/events"
	"github.com/illmade-knight/go-diwane/pkg/types"
)

// Message attribute keys.
const (
	AttrCollection = "collection"
	AttrKind       = "kind"
	AttrEventID    = "event_id"
	AttrOrigin     = "origin"
)

// Envelope is the JSON body of a relayed state change.
type Envelope struct {
	ID         string           `json:"id"`
	Origin     string           `json:"origin"`
	Topic      string           `json:"topic"`
	Collection types.Collection `json:"collection"`
	Kind       types.ChangeKind `json:"kind"`
	Payload    any              `json:"payload"`
	At         time.Time        `json:"at"`
}

// Attributes returns the message attributes carried alongside the body.
func (e Envelope) Attributes() map[string]string {
	return map[string]string{
		AttrCollection: string(e.Collection),
		AttrKind:       string(e.Kind),
		AttrEventID:    e.ID,
		AttrOrigin:     e.Origin,
	}
}

// Encode returns the JSON body of the envelope.
func (e Envelope) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope for %s: %w", e.Topic, err)
	}
	return b, nil
}

// Relay publishes every state topic of a bus through a Publisher. Each relay
// stamps its messages with a random origin so a Follower in the same process
// can skip them.
type Relay struct {
	pub    Publisher
	origin string
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a relay over pub.
func New(pub Publisher, logger zerolog.Logger) (*Relay, error) {
	if pub == nil {
		return nil, errors.New("publisher cannot be nil")
	}
	origin := uuid.NewString()
	return &Relay{
		pub:    pub,
		origin: origin,
		logger: logger.With().Str("component", "Relay").Str("origin", origin).Logger(),
		now:    time.Now,
	}, nil
}

// Origin returns the id stamped on every message this relay sends.
func (r *Relay) Origin() string {
	return r.origin
}

// Attach subscribes the relay to every state topic of bus.
func (r *Relay) Attach(bus *events.Bus) {
	for _, topic := range types.AllTopics() {
		bus.Subscribe(topic, func(ctx context.Context, payload any) error {
			return r.Forward(ctx, topic, payload)
		})
	}
	r.logger.Info().Int("topics", len(types.AllTopics())).Msg("Relay attached to event bus.")
}

// Forward wraps payload in an Envelope and sends it. Records in the payload
// are reduced to their public form first.
func (r *Relay) Forward(ctx context.Context, topic types.Topic, payload any) error {
	env := Envelope{
		ID:         uuid.NewString(),
		Origin:     r.origin,
		Topic:      topic.String(),
		Collection: topic.Collection,
		Kind:       topic.Kind,
		Payload:    public(payload),
		At:         r.now().UTC(),
	}
	if err := r.pub.Send(ctx, env); err != nil {
		return fmt.Errorf("failed to relay %s: %w", topic, err)
	}
	return nil
}

// Stop flushes the underlying publisher.
func (r *Relay) Stop(ctx context.Context) error {
	return r.pub.Stop(ctx)
}

func public(payload any) any {
	switch p := payload.(type) {
	case types.ItemEvent:
		p.Item = types.Public(p.Item)
		p.AllData = types.PublicList(p.AllData)
		return p
	case types.ListEvent:
		p.AllData = types.PublicList(p.AllData)
		return p
	}
	return payload
}
