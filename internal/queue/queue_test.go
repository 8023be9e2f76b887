package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/luzzy/message-sync/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCommand struct {
	Type     string `json:"type"`
	ThreadID int64  `json:"thread_id"`
	Body     string `json:"body"`
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	// unique connection name per test so the global adapter cache
	// does not hand back a client pointed at a closed miniredis
	connName := t.Name() + "-" + mr.Addr()
	adapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func testQueueConfig(name string) QueueConfig {
	return QueueConfig{
		Name:              name,
		ConsumerGroup:     "syncd",
		ConsumerName:      "syncd-test",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      100 * time.Millisecond,
		BatchSize:         10,
	}
}

func TestQueue_PublishAndConsume(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	config := testQueueConfig("push:commands:consume")
	config.MaxLen = 1000
	config.EnableDLQ = true

	queue, err := NewQueue(adapter, config)
	require.NoError(t, err)

	ctx := context.Background()
	cmd := testCommand{Type: "send", ThreadID: 42, Body: "on my way"}

	_, err = queue.PublishJSON(ctx, cmd, map[string]string{"source": "backend"})
	require.NoError(t, err)

	received := make(chan testCommand, 1)
	handler := func(ctx context.Context, msg *Message) error {
		var got testCommand
		if err := json.Unmarshal(msg.Data, &got); err != nil {
			return err
		}
		assert.Equal(t, "backend", msg.Metadata["source"])
		received <- got
		return nil
	}

	require.NoError(t, queue.Consume(handler))
	defer queue.Stop(time.Second)

	select {
	case got := <-received:
		assert.Equal(t, cmd, got)
	case <-time.After(2 * time.Second):
		t.Fatal("command not consumed")
	}
}

func TestQueue_RequiresName(t *testing.T) {
	_, adapter := setupTestRedis(t)

	_, err := NewQueue(adapter, QueueConfig{})
	assert.Error(t, err)
}

func TestQueue_FailedHandlerLeavesEntryPending(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	config := testQueueConfig("push:commands:retry")
	config.MaxRetries = 2
	config.VisibilityTimeout = 1 * time.Second
	config.EnableDLQ = true

	queue, err := NewQueue(adapter, config)
	require.NoError(t, err)
	defer queue.Stop(time.Second)

	ctx := context.Background()
	_, err = queue.PublishJSON(ctx, testCommand{Type: "send", ThreadID: 7}, nil)
	require.NoError(t, err)

	attempts := 0
	handler := func(ctx context.Context, msg *Message) error {
		attempts++
		return assert.AnError
	}

	require.NoError(t, queue.Consume(handler))

	time.Sleep(500 * time.Millisecond)
	assert.GreaterOrEqual(t, attempts, 1)

	stats, err := queue.GetStats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.PendingMessages, int64(1))
}

func TestQueue_GetStats(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	queue, err := NewQueue(adapter, testQueueConfig("push:commands:stats"))
	require.NoError(t, err)
	defer queue.Stop(time.Second)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := queue.PublishJSON(ctx, testCommand{Type: "send", ThreadID: int64(i)}, nil)
		require.NoError(t, err)
	}

	stats, err := queue.GetStats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TotalMessages, int64(5))
}

func TestMessage_AckNack(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	queue, err := NewQueue(adapter, testQueueConfig("push:commands:ack"))
	require.NoError(t, err)
	defer queue.Stop(time.Second)

	t.Run("ack removes the entry from pending", func(t *testing.T) {
		msgID, err := queue.Publish(context.Background(), []byte(`{"type":"send"}`), nil)
		require.NoError(t, err)

		msg := &Message{
			ID:       msgID,
			Data:     []byte(`{"type":"send"}`),
			Metadata: map[string]string{},
			queue:    queue,
		}

		require.NoError(t, msg.Ack())
		assert.True(t, msg.acked)
	})

	t.Run("nack keeps the entry pending", func(t *testing.T) {
		msg := &Message{ID: "0-2", Metadata: map[string]string{}, queue: queue}

		require.NoError(t, msg.Nack())
		assert.False(t, msg.acked)
		assert.True(t, msg.nacked)
	})

	t.Run("double ack is rejected", func(t *testing.T) {
		msg := &Message{ID: "0-3", acked: true}

		err := msg.Ack()
		assert.ErrorContains(t, err, "already acknowledged")
	})

	t.Run("nack after ack is rejected", func(t *testing.T) {
		msg := &Message{ID: "0-4", acked: true}

		err := msg.Nack()
		assert.ErrorContains(t, err, "already acknowledged")
	})
}

func TestQueue_ConcurrentPublish(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	queue, err := NewQueue(adapter, testQueueConfig("push:commands:concurrent"))
	require.NoError(t, err)
	defer queue.Stop(time.Second)

	ctx := context.Background()
	numGoroutines := 10
	done := make(chan bool, numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			_, err := queue.PublishJSON(ctx, testCommand{Type: "send", ThreadID: int64(id)}, nil)
			assert.NoError(t, err)
			done <- true
		}(i)
	}

	for i := 0; i < numGoroutines; i++ {
		<-done
	}

	stats, err := queue.GetStats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TotalMessages, int64(numGoroutines))
}

func TestQueue_Stop(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	queue, err := NewQueue(adapter, testQueueConfig("push:commands:stop"))
	require.NoError(t, err)

	handler := func(ctx context.Context, msg *Message) error {
		time.Sleep(100 * time.Millisecond)
		return nil
	}

	require.NoError(t, queue.Consume(handler))
	assert.NoError(t, queue.Stop(2*time.Second))
}
