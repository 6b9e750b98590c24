package phx

import (
	"context"
	"os"
	"testing"
	"time"
)

// TestIntegrationJoin joins PHX_TEST_TOPIC (default "phoenix") on the server at PHX_TEST_URI.
func TestIntegrationJoin(t *testing.T) {
	uri := os.Getenv("PHX_TEST_URI")
	if uri == "" {
		t.Skip("PHX_TEST_URI not set")
	}
	topic := Topic(os.Getenv("PHX_TEST_TOPIC"))
	if topic == "" {
		topic = "phoenix"
	}

	client := NewClient(uri, WithSignalHandling(false))
	if _, err := client.RegisterTopicSubscription(topic); err != nil {
		t.Fatalf("RegisterTopicSubscription returned %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result := make(chan error, 1)
	go func() { result <- client.StartProcessing(ctx) }()

	joined, err := client.WaitForTopic(ctx, topic)
	if err != nil {
		t.Fatalf("join of %s did not resolve: %v", topic, err)
	}
	t.Logf("join of %s %s: %s", topic, joined.Status, joined.Message)

	client.Shutdown("integration test done", true)
	if err := <-result; err != nil {
		t.Fatalf("StartProcessing returned %v", err)
	}
}
