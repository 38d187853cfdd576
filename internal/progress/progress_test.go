package progress

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestNewEvent(t *testing.T) {
	ev := NewEvent(KindRunProgress, "c1", "r1", map[string]int{"steps_completed": 3})
	assert.Equal(t, KindRunProgress, ev.Kind)
	assert.Equal(t, "c1", ev.CampaignID)
	assert.Equal(t, "r1", ev.RunID)
	assert.JSONEq(t, `{"steps_completed":3}`, string(ev.Data))
	assert.False(t, ev.At.IsZero())

	bad := NewEvent(KindActivity, "c1", "", func() {})
	assert.Nil(t, bad.Data)
}

func TestMemoryBroker_RoutesByCampaign(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()

	a, cancelA, err := b.Subscribe(ctx, "c1")
	require.NoError(t, err)
	defer cancelA()
	other, cancelOther, err := b.Subscribe(ctx, "c2")
	require.NoError(t, err)
	defer cancelOther()

	require.NoError(t, b.Publish(ctx, NewEvent(KindLeadCreated, "c1", "r1", nil)))

	ev := recv(t, a)
	assert.Equal(t, KindLeadCreated, ev.Kind)
	select {
	case ev := <-other:
		t.Fatalf("unexpected event for c2: %+v", ev)
	default:
	}
}

func TestMemoryBroker_CancelClosesChannel(t *testing.T) {
	b := NewMemoryBroker()
	ch, cancel, err := b.Subscribe(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Subscribers("c1"))

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.Subscribers("c1"))
	require.NoError(t, b.Publish(context.Background(), NewEvent(KindActivity, "c1", "", nil)))
}

func TestMemoryBroker_ContextEndsSubscription(t *testing.T) {
	b := NewMemoryBroker()
	ctx, cancel := context.WithCancel(context.Background())
	ch, _, err := b.Subscribe(ctx, "c1")
	require.NoError(t, err)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestMemoryBroker_SlowSubscriberDrops(t *testing.T) {
	b := NewMemoryBroker()
	ch, cancel, err := b.Subscribe(context.Background(), "c1")
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, b.Publish(context.Background(), NewEvent(KindRunProgress, "c1", "r1", nil)))
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestMemoryBroker_Close(t *testing.T) {
	b := NewMemoryBroker()
	ch, _, err := b.Subscribe(context.Background(), "c1")
	require.NoError(t, err)
	require.NoError(t, b.Close())
	_, ok := <-ch
	assert.False(t, ok)

	late, _, err := b.Subscribe(context.Background(), "c1")
	require.NoError(t, err)
	_, ok = <-late
	assert.False(t, ok)
}

func TestRedisEncoding(t *testing.T) {
	assert.Equal(t, "campaign:progress:c1", Channel("c1"))

	ev := NewEvent(KindRunStatus, "c1", "r1", map[string]string{"status": "running"})
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	got, err := decodeEvent(string(raw))
	require.NoError(t, err)
	assert.Equal(t, ev.Kind, got.Kind)
	assert.Equal(t, ev.RunID, got.RunID)
	assert.JSONEq(t, string(ev.Data), string(got.Data))

	_, err = decodeEvent("{not json")
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), Event{}))
}
