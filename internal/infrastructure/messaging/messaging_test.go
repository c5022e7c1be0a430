package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-retrieval-api/internal/application/retrieval"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestCalculateBackoff(t *testing.T) {
	cfg := BackoffConfig{Initial: time.Second, Max: 5 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, cfg.CalculateBackoff(0))
	assert.Equal(t, 2*time.Second, cfg.CalculateBackoff(1))
	assert.Equal(t, 4*time.Second, cfg.CalculateBackoff(2))
	assert.Equal(t, 5*time.Second, cfg.CalculateBackoff(3))
	assert.Equal(t, 5*time.Second, cfg.CalculateBackoff(10))
}

func TestProducerPublishReindex(t *testing.T) {
	rdb := newTestRedis(t)
	p := NewProducer(rdb, 0)

	jobID, err := p.PublishReindex(context.Background(), "user-1", "file-1", retrieval.ProviderLocal)
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	entries, err := rdb.XRange(context.Background(), string(StreamFileJobs), "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values["data"].(string)), &msg))
	assert.Equal(t, MessageTypeFileReindex, msg.Type)
	assert.Equal(t, jobID, msg.ID)
	assert.Equal(t, "user-1", msg.UserID)

	var payload FileJobMessage
	require.NoError(t, msg.UnmarshalPayload(&payload))
	assert.Equal(t, FileJobMessage{JobID: jobID, UserID: "user-1", FileID: "file-1", Provider: "local"}, payload)
}

func TestConsumerDeliversAndAcks(t *testing.T) {
	rdb := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := NewConsumer(rdb, ConsumerConfig{
		Stream:       StreamFileJobs,
		Group:        ConsumerGroupIngestWorker,
		ConsumerName: "test-worker",
		BlockTimeout: 20 * time.Millisecond,
	})
	got := make(chan FileJobMessage, 1)
	consumer.RegisterHandler(MessageTypeFileDelete, func(_ context.Context, msg *Message) error {
		var payload FileJobMessage
		if err := msg.UnmarshalPayload(&payload); err != nil {
			return err
		}
		got <- payload
		return nil
	})
	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop()
	assert.Error(t, consumer.Start(ctx))

	_, err := NewProducer(rdb, 0).PublishDelete(ctx, "user-1", "file-9")
	require.NoError(t, err)

	select {
	case payload := <-got:
		assert.Equal(t, "file-9", payload.FileID)
	case <-time.After(3 * time.Second):
		t.Fatal("message was not delivered")
	}

	require.Eventually(t, func() bool {
		n, err := rdb.XPending(ctx, string(StreamFileJobs), string(ConsumerGroupIngestWorker)).Result()
		return err == nil && n.Count == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestConsumerMovesPoisonMessageToDLQ(t *testing.T) {
	rdb := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := NewConsumer(rdb, ConsumerConfig{
		Stream:       StreamFileJobs,
		Group:        ConsumerGroupIngestWorker,
		ConsumerName: "test-worker",
		BlockTimeout: 20 * time.Millisecond,
		RetryLimit:   2,
		Backoff:      BackoffConfig{Initial: 10 * time.Millisecond, Max: 20 * time.Millisecond, Multiplier: 2},
	})
	consumer.RegisterHandler(MessageTypeFileReindex, func(context.Context, *Message) error {
		return errors.New("embedding provider unavailable")
	})
	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop()

	_, err := NewProducer(rdb, 0).PublishReindex(ctx, "user-1", "file-1", retrieval.ProviderOpenAI)
	require.NoError(t, err)

	dlq := StreamFileJobs.DLQStream()
	require.Eventually(t, func() bool {
		n, err := rdb.XLen(ctx, dlq).Result()
		return err == nil && n == 1
	}, 5*time.Second, 20*time.Millisecond)

	entries, err := rdb.XRange(ctx, dlq, "-", "+").Result()
	require.NoError(t, err)
	var dead struct {
		OriginalStream string  `json:"original_stream"`
		Data           Message `json:"data"`
		Error          string  `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(entries[0].Values["data"].(string)), &dead))
	assert.Equal(t, string(StreamFileJobs), dead.OriginalStream)
	assert.Equal(t, MessageTypeFileReindex, dead.Data.Type)
	assert.NotEmpty(t, dead.Error)
}
