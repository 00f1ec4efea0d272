package eventbus_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/photovault/pkg/eventbus"
)

type subscribed struct {
	UserID string `json:"user_id"`
	PlanID string `json:"plan_id"`
}

func TestNewEvent(t *testing.T) {
	t.Parallel()

	ev, err := eventbus.NewEvent("user.subscribed", subscribed{UserID: "u1", PlanID: "pro"})
	require.NoError(t, err)
	assert.Equal(t, "user.subscribed", ev.Topic)
	assert.False(t, ev.OccurredAt.IsZero())

	var got subscribed
	require.NoError(t, ev.Decode(&got))
	assert.Equal(t, "pro", got.PlanID)

	_, err = eventbus.NewEvent("bad", make(chan int))
	assert.Error(t, err)
}

func TestMemoryPublisher(t *testing.T) {
	t.Parallel()

	pub := eventbus.NewMemoryPublisher()
	ev, _ := eventbus.NewEvent("space.subscribed", subscribed{})
	require.NoError(t, pub.Publish(context.Background(), ev))
	assert.Equal(t, []string{"space.subscribed"}, pub.Topics())

	boom := errors.New("broker down")
	pub.FailWith(boom)
	assert.ErrorIs(t, pub.Publish(context.Background(), ev), boom)
	assert.Len(t, pub.Events(), 1)
}
