package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Reserved channel names. They share the room namespace with languages but
// never count as audience or trigger language activation.
const (
	ChannelTranscript = "transcript"
	ChannelHeartbeat  = "heartbeat"
	ChannelControl    = "control"
	ChannelRaw        = "raw"
)

var reservedChannels = map[string]struct{}{
	ChannelTranscript: {},
	ChannelHeartbeat:  {},
	ChannelControl:    {},
	ChannelRaw:        {},
}

var (
	ErrMissingServiceID = errors.New("serviceId is required")
	ErrMissingChannel   = errors.New("language is required")
	ErrMalformedRoom    = errors.New("malformed room payload")
)

// IsReserved reports whether channel is a reserved (non-language) channel.
func IsReserved(channel string) bool {
	_, ok := reservedChannels[strings.ToLower(channel)]
	return ok
}

// RoomKey identifies one (service, language-or-channel) room.
type RoomKey struct {
	ServiceID string
	Channel   string
}

// NewRoomKey trims both parts. Reserved channel names are folded to lower
// case; language codes keep their casing (zh-TW).
func NewRoomKey(serviceID, channel string) RoomKey {
	channel = strings.TrimSpace(channel)
	if IsReserved(channel) {
		channel = strings.ToLower(channel)
	}
	return RoomKey{
		ServiceID: strings.TrimSpace(serviceID),
		Channel:   channel,
	}
}

func (k RoomKey) String() string {
	return k.ServiceID + ":" + k.Channel
}

// IsLanguage reports whether the room is a real translation language.
func (k RoomKey) IsLanguage() bool {
	return k.Channel != "" && !IsReserved(k.Channel)
}

// ParseRoomString parses "serviceId:language". The split happens on the last
// colon so service ids may themselves contain colons.
func ParseRoomString(s string) (RoomKey, error) {
	s = strings.TrimSpace(s)
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return RoomKey{}, fmt.Errorf("%w: %q", ErrMalformedRoom, s)
	}
	key := NewRoomKey(s[:idx], s[idx+1:])
	return key, key.validate()
}

func (k RoomKey) validate() error {
	if k.ServiceID == "" {
		return ErrMissingServiceID
	}
	if k.Channel == "" {
		return ErrMissingChannel
	}
	return nil
}

// RoomRequest is the decoded payload of a join or leave event.
type RoomRequest struct {
	Room   RoomKey
	OrgKey string
}

type roomObject struct {
	ServiceID string `json:"serviceId"`
	Language  string `json:"language"`
	OrgKey    string `json:"orgKey,omitempty"`
}

// ParseRoomRequest accepts either the string form "serviceId:language" or the
// object form {serviceId, language, orgKey}.
func ParseRoomRequest(data json.RawMessage) (RoomRequest, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return RoomRequest{}, ErrMissingServiceID
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return RoomRequest{}, fmt.Errorf("%w: %v", ErrMalformedRoom, err)
		}
		key, err := ParseRoomString(s)
		if err != nil {
			return RoomRequest{}, err
		}
		return RoomRequest{Room: key}, nil
	}

	var obj roomObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return RoomRequest{}, fmt.Errorf("%w: %v", ErrMalformedRoom, err)
	}
	key := NewRoomKey(obj.ServiceID, obj.Language)
	if err := key.validate(); err != nil {
		return RoomRequest{}, err
	}
	return RoomRequest{Room: key, OrgKey: strings.TrimSpace(obj.OrgKey)}, nil
}
