package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelToTopicAndKey(t *testing.T) {
	topic, key, err := channelToTopicAndKey(LivenessChannel("100"))
	require.NoError(t, err)
	assert.Equal(t, "caption-liveness", topic)
	assert.Equal(t, "100", key)
	assert.Equal(t, []string{"caption-liveness"}, fixedTopics())

	_, _, err = channelToTopicAndKey("signal:room:1:to_media")
	assert.Error(t, err)
	_, _, err = channelToTopicAndKey("caption:service::liveness")
	assert.Error(t, err)
}

func TestKafkaPartitions(t *testing.T) {
	assert.Equal(t, 4, KafkaConfig{}.partitions())
	assert.Equal(t, 12, KafkaConfig{Partitions: 12}.partitions())
}

func TestNewBusUnknownDriver(t *testing.T) {
	_, err := NewBus(Config{Driver: "nats"})
	assert.Error(t, err)
}

func TestRedisBusPublish(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	sub := client.PSubscribe(ctx, "caption:service:*:liveness")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	bus := NewRedisBusFromClient(client)
	ev, err := NewEvent(EventServiceTransition, "100", TransitionPayload{ServiceID: "100", From: "OFFLINE", To: "AVAILABLE", Seq: 1})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, LivenessChannel("100"), ev))

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "caption:service:100:liveness", msg.Channel)
		var got Event
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
		assert.Equal(t, EventServiceTransition, got.Type)
		assert.Equal(t, "100", got.ServiceID)
		var payload TransitionPayload
		require.NoError(t, got.UnmarshalPayload(&payload))
		assert.Equal(t, "AVAILABLE", payload.To)
		assert.Equal(t, uint64(1), payload.Seq)
	case <-time.After(time.Second):
		t.Fatal("event not received")
	}
}

func TestRedisBusCloseKeepsSharedClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	require.NoError(t, NewRedisBusFromClient(client).Close())
	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestNewRedisBusDialFailure(t *testing.T) {
	_, err := NewRedisBus(RedisConfig{Address: "127.0.0.1:1"})
	assert.Error(t, err)
}
