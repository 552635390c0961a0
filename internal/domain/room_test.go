package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoomRequestString(t *testing.T) {
	req, err := ParseRoomRequest(json.RawMessage(`"123:es"`))
	require.NoError(t, err)
	assert.Equal(t, RoomKey{ServiceID: "123", Channel: "es"}, req.Room)
	assert.True(t, req.Room.IsLanguage())
	assert.Equal(t, "123:es", req.Room.String())
}

func TestParseRoomRequestObject(t *testing.T) {
	req, err := ParseRoomRequest(json.RawMessage(`{"serviceId":" 456 ","language":"zh-TW","orgKey":"k1"}`))
	require.NoError(t, err)
	assert.Equal(t, "456", req.Room.ServiceID)
	assert.Equal(t, "zh-TW", req.Room.Channel)
	assert.Equal(t, "k1", req.OrgKey)
}

func TestParseRoomRequestServiceIDWithColon(t *testing.T) {
	req, err := ParseRoomRequest(json.RawMessage(`"org:123:fr"`))
	require.NoError(t, err)
	assert.Equal(t, "org:123", req.Room.ServiceID)
	assert.Equal(t, "fr", req.Room.Channel)
}

func TestParseRoomRequestReservedChannel(t *testing.T) {
	req, err := ParseRoomRequest(json.RawMessage(`"123:Transcript"`))
	require.NoError(t, err)
	assert.Equal(t, ChannelTranscript, req.Room.Channel)
	assert.False(t, req.Room.IsLanguage())

	req, err = ParseRoomRequest(json.RawMessage(`{"serviceId":"123","language":"heartbeat"}`))
	require.NoError(t, err)
	assert.False(t, req.Room.IsLanguage())
}

func TestParseRoomRequestMalformed(t *testing.T) {
	cases := map[string]error{
		`"123"`:                          ErrMalformedRoom,
		`":es"`:                          ErrMissingServiceID,
		`"123:"`:                         ErrMissingChannel,
		`{"language":"es"}`:              ErrMissingServiceID,
		`{"serviceId":"123"}`:            ErrMissingChannel,
		`null`:                           ErrMissingServiceID,
		`42`:                             ErrMalformedRoom,
		`{"serviceId":123,"language":1}`: ErrMalformedRoom,
	}
	for payload, want := range cases {
		_, err := ParseRoomRequest(json.RawMessage(payload))
		assert.ErrorIs(t, err, want, payload)
	}
}

func TestNewEnvelope(t *testing.T) {
	data, err := NewEnvelope(EventLivestreaming, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"livestreaming"}`, string(data))

	data, err = NewEnvelope(EventSubscribers, SubscribersPayload{Languages: []LanguageCount{{Name: "es", Subscribers: 2}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"subscribers","data":{"languages":[{"name":"es","subscribers":2}]}}`, string(data))
}

func TestLiveState(t *testing.T) {
	assert.False(t, Offline.IsLive())
	assert.True(t, Available.IsLive())
	assert.True(t, Streaming.IsLive())

	data, err := json.Marshal(Available)
	require.NoError(t, err)
	assert.Equal(t, `"AVAILABLE"`, string(data))
}

func TestIsStreamingStatus(t *testing.T) {
	assert.True(t, IsStreamingStatus("streaming"))
	assert.True(t, IsStreamingStatus(" LIVE "))
	assert.False(t, IsStreamingStatus("available"))
	assert.False(t, IsStreamingStatus(""))
}

func TestAudienceIncludes(t *testing.T) {
	assert.True(t, AudienceBoth.Includes(AudienceControl))
	assert.True(t, AudienceBoth.Includes(AudienceParticipant))
	assert.False(t, AudienceControl.Includes(AudienceParticipant))
	assert.False(t, AudienceControl.Includes(0))
}
