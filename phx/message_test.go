package phx

import (
	"strings"
	"testing"
)

func TestTopicSubtopic(t *testing.T) {
	cases := []struct {
		topic    Topic
		subtopic string
		found    bool
	}{
		{topic: "room:lobby", subtopic: "lobby", found: true},
		{topic: "room:a:b", subtopic: "a:b", found: true},
		{topic: "room:", subtopic: "", found: true},
		{topic: "room", subtopic: "", found: false},
	}

	for _, testCase := range cases {
		subtopic, found := testCase.topic.Subtopic()
		if subtopic != testCase.subtopic || found != testCase.found {
			t.Fatalf("Subtopic(%q) = (%q, %v), expected (%q, %v)", testCase.topic, subtopic, found, testCase.subtopic, testCase.found)
		}
	}
}

func TestEventIsProtocol(t *testing.T) {
	for _, event := range []Event{EventClose, EventError, EventJoin, EventReply, EventLeave} {
		if !event.IsProtocol() {
			t.Fatalf("expected %s to be a protocol event", event)
		}
	}
	for _, event := range []Event{"ping", "phx_custom", "close", ""} {
		if event.IsProtocol() {
			t.Fatalf("expected %q to be an application event", event)
		}
	}
}

func TestNewMessageCopiesPayload(t *testing.T) {
	payload := Payload{"body": "hello"}
	message := NewMessage("shout", "room:1", payload)
	payload["body"] = "changed"

	if value, _ := message.PayloadValue("body"); value != "hello" {
		t.Fatalf("message payload changed with the caller map: %v", value)
	}

	returned := message.Payload()
	returned["body"] = "changed again"
	if value, _ := message.PayloadValue("body"); value != "hello" {
		t.Fatalf("message payload changed through Payload(): %v", value)
	}

	empty := NewMessage("shout", "room:1", nil)
	if empty.Payload() == nil || len(empty.Payload()) != 0 {
		t.Fatalf("expected empty non-nil payload, got %#v", empty.Payload())
	}
}

func TestMessageRef(t *testing.T) {
	message := NewMessage(EventJoin, "room:1", nil)
	if _, ok := message.Ref(); ok {
		t.Fatalf("new message should not carry a ref")
	}

	withRef := message.WithRef("")
	if ref, ok := withRef.Ref(); !ok || ref != "" {
		t.Fatalf("expected empty but present ref, got (%q, %v)", ref, ok)
	}
	if _, ok := message.Ref(); ok {
		t.Fatalf("WithRef must not modify the original message")
	}
	if _, ok := withRef.WithoutRef().Ref(); ok {
		t.Fatalf("WithoutRef must drop the ref")
	}
}

func TestMessageAccessors(t *testing.T) {
	message := NewMessage(EventReply, "room:42", Payload{"status": StatusOK}).WithRef("7")

	if message.Topic() != "room:42" || message.Event() != EventReply {
		t.Fatalf("unexpected topic/event %q/%q", message.Topic(), message.Event())
	}
	if subtopic, ok := message.Subtopic(); !ok || subtopic != "42" {
		t.Fatalf("unexpected subtopic (%q, %v)", subtopic, ok)
	}
	if !message.IsProtocol() {
		t.Fatalf("phx_reply message should be a protocol message")
	}
	if status, ok := message.Payload().StringValue("status"); !ok || status != StatusOK {
		t.Fatalf("unexpected status (%q, %v)", status, ok)
	}
	if _, ok := message.Payload().StringValue("missing"); ok {
		t.Fatalf("missing key should not be found")
	}

	text := message.String()
	for _, part := range []string{`topic="room:42"`, `event="phx_reply"`, `ref="7"`, "status:ok"} {
		if !strings.Contains(text, part) {
			t.Fatalf("expected %q in %s", part, text)
		}
	}
	if !strings.Contains(NewMessage("e", "t", nil).String(), "ref=<nil>") {
		t.Fatalf("expected nil ref rendering")
	}
}
