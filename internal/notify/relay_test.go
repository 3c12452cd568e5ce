package notify

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskhub/internal/domain"
)

// Runs against a real server when TASKHUB_TEST_REDIS_URL is set.
func TestRedisRelayBetweenBuses(t *testing.T) {
	url := os.Getenv("TASKHUB_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TASKHUB_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	channel := "taskhub:test:" + time.Now().Format("150405.000000")

	newBus := func() *Bus {
		client, err := NewRedisClient(ctx, url, "", 0)
		require.NoError(t, err)
		return newTestBus(t, Config{Relay: NewRedisRelay(client, channel, quietLogger())})
	}
	a, b := newBus(), newBus()
	onA := &recorder{id: "a"}
	onB := &recorder{id: "b"}
	a.Subscribe(onA)
	b.Subscribe(onB)

	a.Publish(ctx, domain.TaskEvent{TaskID: 1, Action: domain.TaskActionCreated})

	require.Eventually(t, func() bool { return len(onB.events()) == 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, domain.TaskEvent{TaskID: 1, Action: domain.TaskActionCreated}, onB.events()[0])
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, onA.events(), 1)
}

func TestRedisRelayLogsUndecodablePayload(t *testing.T) {
	logger, hook := test.NewNullLogger()
	relay := NewRedisRelay(nil, "", logger)

	_, ok := relay.decode("{not json")
	assert.False(t, ok)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, "taskhub:tasks", hook.LastEntry().Data["channel"])

	env, ok := relay.decode(`{"origin":"x","event":{"task_id":5,"action":"updated"}}`)
	require.True(t, ok)
	assert.Equal(t, "x", env.Origin)
	assert.Equal(t, int64(5), env.Event.TaskID)
}

func TestNewRedisClientRejectsBadURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "not-a-url", "", 0)
	assert.Error(t, err)
}
