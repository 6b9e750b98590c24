package phx

import (
	"fmt"
	"maps"
	"strings"
)

// Topic names a channel namespace, optionally with a ":"-delimited subtopic.
type Topic string

// Subtopic returns the part of the topic after the first ":".
func (topic Topic) Subtopic() (string, bool) {
	_, subtopic, found := strings.Cut(string(topic), ":")
	if !found {
		return "", false
	}
	return subtopic, true
}

// Event is the logical type of a message: a protocol event or an application event name.
type Event string

// Protocol events of the Phoenix Channels wire protocol.
const (
	EventClose Event = "phx_close"
	EventError Event = "phx_error"
	EventJoin  Event = "phx_join"
	EventReply Event = "phx_reply"
	EventLeave Event = "phx_leave"
)

// IsProtocol reports whether event is one of the Phoenix control events.
func (event Event) IsProtocol() bool {
	switch event {
	case EventClose, EventError, EventJoin, EventReply, EventLeave:
		return true
	}
	return false
}

// Reply statuses carried in phx_reply payloads.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Payload is the body of a ChannelMessage.
type Payload map[string]interface{}

// StringValue returns payload[key] when it holds a string.
func (payload Payload) StringValue(key string) (string, bool) {
	value, ok := payload[key].(string)
	return value, ok
}

// ChannelMessage is an immutable Phoenix Channels message.
type ChannelMessage struct {
	topic   Topic
	event   Event
	ref     string
	hasRef  bool
	payload Payload
}

// NewMessage returns a message without a ref. A nil payload is stored as an empty one.
func NewMessage(event Event, topic Topic, payload Payload) ChannelMessage {
	if payload == nil {
		payload = Payload{}
	} else {
		payload = maps.Clone(payload)
	}
	return ChannelMessage{topic: topic, event: event, payload: payload}
}

// WithRef returns a copy of the message carrying ref.
func (message ChannelMessage) WithRef(ref string) ChannelMessage {
	message.ref = ref
	message.hasRef = true
	return message
}

// WithoutRef returns a copy of the message with no ref.
func (message ChannelMessage) WithoutRef() ChannelMessage {
	message.ref = ""
	message.hasRef = false
	return message
}

// Topic returns the message topic.
func (message ChannelMessage) Topic() Topic { return message.topic }

// Event returns the message event.
func (message ChannelMessage) Event() Event { return message.event }

// Ref returns the correlation reference and whether one is present.
func (message ChannelMessage) Ref() (string, bool) { return message.ref, message.hasRef }

// Payload returns a shallow copy of the message payload.
func (message ChannelMessage) Payload() Payload { return maps.Clone(message.payload) }

// PayloadValue returns a single payload value.
func (message ChannelMessage) PayloadValue(key string) (interface{}, bool) {
	value, ok := message.payload[key]
	return value, ok
}

// Subtopic returns the subtopic of the message topic.
func (message ChannelMessage) Subtopic() (string, bool) { return message.topic.Subtopic() }

// IsProtocol reports whether the message carries a protocol event.
func (message ChannelMessage) IsProtocol() bool { return message.event.IsProtocol() }

func (message ChannelMessage) String() string {
	ref := "<nil>"
	if message.hasRef {
		ref = fmt.Sprintf("%q", message.ref)
	}
	return fmt.Sprintf("ChannelMessage(topic=%q, event=%q, ref=%s, payload=%v)", message.topic, message.event, ref, map[string]interface{}(message.payload))
}
