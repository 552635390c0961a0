package kafka

import (
	"context"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	events []*PresenterEvent
}

func (r *recordingHandler) HandlePresenterEvent(ctx context.Context, event *PresenterEvent) error {
	r.events = append(r.events, event)
	return nil
}

func TestProcessMessageDecodesEvent(t *testing.T) {
	h := &recordingHandler{}
	msg := &kafka.Message{Value: []byte(`{"type":"transcriptReady","service_id":"100","transcript":"hello"}`)}

	require.NoError(t, processMessage(context.Background(), h, msg))
	require.Len(t, h.events, 1)
	assert.Equal(t, "transcriptReady", h.events[0].Type)
	assert.Equal(t, "100", h.events[0].ServiceID)
	assert.Equal(t, "hello", h.events[0].Transcript)
}

func TestProcessMessageFallsBackToKey(t *testing.T) {
	h := &recordingHandler{}
	msg := &kafka.Message{Key: []byte("200"), Value: []byte(`{"type":"heartbeat","status":"live"}`)}

	require.NoError(t, processMessage(context.Background(), h, msg))
	require.Len(t, h.events, 1)
	assert.Equal(t, "200", h.events[0].ServiceID)
}

func TestProcessMessageRejectsBadInput(t *testing.T) {
	h := &recordingHandler{}

	assert.Error(t, processMessage(context.Background(), h, &kafka.Message{Value: []byte(`not json`)}))
	assert.ErrorIs(t, processMessage(context.Background(), h, &kafka.Message{Value: []byte(`{"type":"heartbeat"}`)}), ErrMissingServiceID)
	assert.Empty(t, h.events)
}
