package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-diwane/pkg/events"
	"github.com/illmade-knight/go-diwane/pkg/relay"
	"github.com/illmade-knight/go-diwane/pkg/types"
)

type sent struct {
	payload []byte
	attrs   map[string]string
}

// recordingPublisher keeps every envelope, encoded, instead of sending it.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (p *recordingPublisher) Send(_ context.Context, env relay.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	body, err := env.Encode()
	if err != nil {
		return err
	}
	p.msgs = append(p.msgs, sent{payload: body, attrs: env.Attributes()})
	return nil
}

func (p *recordingPublisher) Stop(context.Context) error { return nil }

func TestRelay_Attach(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	r, err := relay.New(pub, zerolog.Nop())
	require.NoError(t, err)
	bus := events.NewBus(zerolog.Nop())
	r.Attach(bus)

	for _, topic := range types.AllTopics() {
		assert.Equal(t, 1, bus.HandlerCount(topic), topic.String())
	}

	bus.Publish(ctx, types.NewTopic(types.Lectures, types.Added), types.ItemEvent{
		Collection: types.Lectures,
		Item:       types.Lecture{ID: "l1", UserID: "u1", XassidaID: "x1", EvenementID: "e1", Nombre: 3},
		Index:      0,
	})
	bus.Publish(ctx, types.CustomTopic("not-relayed"), "ignored")

	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, "lectures", msg.attrs[relay.AttrCollection])
	assert.Equal(t, "added", msg.attrs[relay.AttrKind])
	assert.NotEmpty(t, msg.attrs[relay.AttrEventID])
	assert.Equal(t, r.Origin(), msg.attrs[relay.AttrOrigin])

	var env struct {
		ID         string `json:"id"`
		Topic      string `json:"topic"`
		Collection string `json:"collection"`
		Kind       string `json:"kind"`
		Payload    struct {
			Item struct {
				ID     string `json:"id"`
				Nombre int    `json:"nombre"`
			} `json:"item"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg.payload, &env))
	assert.Equal(t, msg.attrs[relay.AttrEventID], env.ID)
	assert.Equal(t, "lectures.added", env.Topic)
	assert.Equal(t, "l1", env.Payload.Item.ID)
	assert.Equal(t, 3, env.Payload.Item.Nombre)
}

func TestRelay_ForwardError(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	r, err := relay.New(pub, zerolog.Nop())
	require.NoError(t, err)

	err = r.Forward(context.Background(), types.NewTopic(types.Users, types.Removed), types.ItemEvent{})
	assert.ErrorIs(t, err, pub.err)
}

func TestRelay_ForwardHidesPasswords(t *testing.T) {
	ctx := context.Background()
	pub := &recordingPublisher{}
	r, err := relay.New(pub, zerolog.Nop())
	require.NoError(t, err)

	user := types.User{ID: "u1", Nom: "Awa", Email: "awa@example.org", Password: "s3cret", Role: types.RoleMembre}
	all := []types.Record{user}
	require.NoError(t, r.Forward(ctx, types.NewTopic(types.Users, types.Added), types.ItemEvent{
		Collection: types.Users,
		Item:       user,
		AllData:    all,
	}))
	require.NoError(t, r.Forward(ctx, types.NewTopic(types.Users, types.Replaced), types.ListEvent{
		Collection: types.Users,
		AllData:    all,
	}))

	require.Len(t, pub.msgs, 2)
	for _, msg := range pub.msgs {
		assert.NotContains(t, string(msg.payload), "s3cret")
		assert.NotContains(t, string(msg.payload), `"password"`)
		assert.Contains(t, string(msg.payload), "awa@example.org")
	}
	assert.Equal(t, "s3cret", all[0].(types.User).Password, "The bus payload is not modified")
}
