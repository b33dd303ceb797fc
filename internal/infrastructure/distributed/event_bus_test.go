package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"p2prelay/internal/core/domain"
	"p2prelay/pkg/circuitbreaker"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type publishCall struct {
	channel string
	data    []byte
}

type fakeClient struct {
	mu       sync.Mutex
	calls    []publishCall
	failures int
}

func (f *fakeClient) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, publishCall{channel: channel, data: message.([]byte)})
	if f.failures > 0 {
		f.failures--
		return redis.NewIntResult(0, errors.New("connection reset"))
	}
	return redis.NewIntResult(1, nil)
}

func (f *fakeClient) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return nil
}

func newTestBus(t *testing.T, c *fakeClient) *EventBus {
	bus := NewEventBus(c, "instance-a", "p2prelay:events", zaptest.NewLogger(t).Sugar())
	bus.retry.InitialDelay = time.Millisecond
	bus.retry.Jitter = false
	return bus
}

func TestEventBus_PublishMemberJoined(t *testing.T) {
	c := &fakeClient{}
	bus := newTestBus(t, c)

	require.NoError(t, bus.PublishMemberJoined(context.Background(), "lobby", 7))
	require.Len(t, c.calls, 1)
	assert.Equal(t, "p2prelay:events", c.calls[0].channel)

	var event Event
	require.NoError(t, json.Unmarshal(c.calls[0].data, &event))
	assert.Equal(t, EventMemberJoined, event.Type)
	assert.Equal(t, "instance-a", event.InstanceID)
	assert.Equal(t, domain.GroupID("lobby"), event.GroupID)
	assert.Equal(t, domain.HostID(7), event.HostID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestEventBus_PublishDirectEstablished(t *testing.T) {
	c := &fakeClient{}
	bus := newTestBus(t, c)

	require.NoError(t, bus.PublishDirectEstablished(context.Background(), "lobby", domain.NewPairKey(9, 4)))

	var event Event
	require.NoError(t, json.Unmarshal(c.calls[0].data, &event))
	assert.Equal(t, EventDirectEstablished, event.Type)
	require.NotNil(t, event.Pair)
	assert.Equal(t, domain.PairKey{Lo: 4, Hi: 9}, *event.Pair)
}

func TestEventBus_PublishRetries(t *testing.T) {
	c := &fakeClient{failures: 2}
	bus := newTestBus(t, c)

	require.NoError(t, bus.PublishMemberLeft(context.Background(), "lobby", 3))
	assert.Len(t, c.calls, 3)
}

func TestEventBus_PublishGivesUp(t *testing.T) {
	c := &fakeClient{failures: 100}
	bus := newTestBus(t, c)

	err := bus.PublishMemberLeft(context.Background(), "lobby", 3)
	assert.Error(t, err)
	assert.Len(t, c.calls, bus.retry.MaxAttempts+1)
}

func TestEventBus_BreakerFailsFastWhileRedisIsDown(t *testing.T) {
	c := &fakeClient{failures: 100}
	bus := newTestBus(t, c)
	bus.breaker = circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Cooldown:         time.Hour,
	})

	require.Error(t, bus.PublishMemberLeft(context.Background(), "lobby", 3))
	attempts := len(c.calls)

	err := bus.PublishMemberLeft(context.Background(), "lobby", 3)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Len(t, c.calls, attempts, "no call reaches redis while open")
}

func TestEventBus_DispatchSkipsOwnEvents(t *testing.T) {
	bus := newTestBus(t, &fakeClient{})

	var got []*Event
	handler := func(e *Event) error {
		got = append(got, e)
		return nil
	}

	own, _ := json.Marshal(Event{Type: EventMemberJoined, InstanceID: "instance-a", GroupID: "g"})
	remote, _ := json.Marshal(Event{Type: EventMemberLeft, InstanceID: "instance-b", GroupID: "g", HostID: 2})

	bus.dispatch(string(own), handler)
	bus.dispatch("not json", handler)
	bus.dispatch(string(remote), handler)

	require.Len(t, got, 1)
	assert.Equal(t, EventMemberLeft, got[0].Type)
	assert.Equal(t, domain.HostID(2), got[0].HostID)
}
