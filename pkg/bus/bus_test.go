package bus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchit-dev/watchit/pkg/models"
)

func msg(id string) models.DecisionMessage {
	return models.DecisionMessage{EventID: id, Action: models.ActionAllow}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New()
	s1 := b.Subscribe()
	s2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(msg("evt_1"))

	ctx := context.Background()
	m1, err := s1.Next(ctx)
	require.NoError(t, err)
	m2, err := s2.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", m1.EventID)
	assert.Equal(t, "evt_1", m2.EventID)
}

func TestMessagesArriveInPublishOrder(t *testing.T) {
	b := New()
	s := b.Subscribe()
	for i := 0; i < 10; i++ {
		b.Publish(msg(fmt.Sprintf("evt_%d", i)))
	}

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		m, err := s.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("evt_%d", i), m.EventID)
	}
}

func TestNextBlocksUntilPublish(t *testing.T) {
	b := New()
	s := b.Subscribe()

	got := make(chan models.DecisionMessage, 1)
	go func() {
		m, err := s.Next(context.Background())
		if err == nil {
			got <- m
		}
	}()

	time.Sleep(10 * time.Millisecond)
	b.Publish(msg("evt_late"))

	select {
	case m := <-got:
		assert.Equal(t, "evt_late", m.EventID)
	case <-time.After(time.Second):
		t.Fatal("Next never returned after publish")
	}
}

func TestNextHonorsContext(t *testing.T) {
	b := New()
	s := b.Subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnsubscribeDrainsThenCloses(t *testing.T) {
	b := New()
	s := b.Subscribe()
	b.Publish(msg("evt_1"))
	b.Publish(msg("evt_2"))
	b.Unsubscribe(s)
	assert.Equal(t, 0, b.SubscriberCount())

	ctx := context.Background()
	m, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", m.EventID)
	m, err = s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "evt_2", m.EventID)

	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	s := b.Subscribe()
	b.Unsubscribe(s)
	b.Unsubscribe(s)

	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPublishAfterUnsubscribeIsDropped(t *testing.T) {
	b := New()
	s := b.Subscribe()
	b.Unsubscribe(s)
	b.Publish(msg("evt_1"))

	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New()
	slow := b.Subscribe()
	fast := b.Subscribe()

	// Nobody reads slow's queue; publishing must still finish promptly.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			b.Publish(msg(fmt.Sprintf("evt_%d", i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on an idle subscriber")
	}

	ctx := context.Background()
	m, err := fast.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "evt_0", m.EventID)
	m, err = slow.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "evt_0", m.EventID)
}
