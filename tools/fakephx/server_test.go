package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AceFire6/phx-events/phx"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func startServer(t *testing.T, token string, rejected ...string) (*httptest.Server, string) {
	t.Helper()
	srv := newServer(zap.NewNop(), token, rejected, false)
	httpServer := httptest.NewServer(srv.routes("/socket/websocket"))
	t.Cleanup(httpServer.Close)
	return httpServer, "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/socket/websocket"
}

func startClient(t *testing.T, socketURL string, topics ...phx.Topic) *phx.Client {
	t.Helper()
	client := phx.NewClient(socketURL, phx.WithSignalHandling(false))
	for _, topic := range topics {
		if _, err := client.RegisterTopicSubscription(topic); err != nil {
			t.Fatalf("RegisterTopicSubscription(%s) returned %v", topic, err)
		}
	}
	return client
}

func run(client *phx.Client) <-chan error {
	result := make(chan error, 1)
	go func() { result <- client.StartProcessing(context.Background()) }()
	return result
}

func waitTopic(t *testing.T, client *phx.Client, topic phx.Topic) phx.TopicSubscribeResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err := client.WaitForTopic(ctx, topic)
	if err != nil {
		t.Fatalf("join of %s did not resolve: %v", topic, err)
	}
	return result
}

func TestTopicFlagsSetAndString(t *testing.T) {
	var topics topicFlags
	if err := topics.Set("room:1, room:2"); err != nil {
		t.Fatalf("unexpected error from topicFlags.Set: %v", err)
	}
	if err := topics.Set("room:3"); err != nil {
		t.Fatalf("unexpected error from topicFlags.Set: %v", err)
	}
	if len(topics) != 3 || topics[1] != "room:2" {
		t.Fatalf("unexpected topicFlags value: %v", topics)
	}
	if topics.String() != "room:1,room:2,room:3" {
		t.Fatalf("unexpected String(): %q", topics.String())
	}
}

func TestJoinAcceptedAndRejected(t *testing.T) {
	_, socketURL := startServer(t, "", "room:denied")
	client := startClient(t, socketURL, "room:1", "room:denied")
	result := run(client)

	if status := waitTopic(t, client, "room:1").Status; status != phx.SubscriptionSuccess {
		t.Fatalf("expected room:1 join to succeed, got %s", status)
	}
	denied := waitTopic(t, client, "room:denied")
	if denied.Status != phx.SubscriptionFailed {
		t.Fatalf("expected room:denied join to fail, got %s", denied.Status)
	}

	client.Shutdown("test done", true)
	if err := <-result; err != nil {
		t.Fatalf("StartProcessing returned %v", err)
	}
}

func TestBroadcastReachesJoinedClients(t *testing.T) {
	_, socketURL := startServer(t, "")
	client := startClient(t, socketURL, "room:1")
	received := make(chan phx.ChannelMessage, 1)
	err := client.RegisterEventHandler("shout", phx.PoolHandler(func(message phx.ChannelMessage, _ phx.Handle) error {
		received <- message
		return nil
	}))
	if err != nil {
		t.Fatalf("RegisterEventHandler returned %v", err)
	}
	result := run(client)
	waitTopic(t, client, "room:1")

	sender, _, err := websocket.DefaultDialer.Dial(socketURL, nil)
	if err != nil {
		t.Fatalf("dial returned %v", err)
	}
	defer sender.Close()
	for _, frame := range []string{
		`{"topic":"room:1","event":"phx_join","ref":"1","payload":{}}`,
		`{"topic":"room:1","event":"shout","ref":"2","payload":{"body":"hello","price":1.25}}`,
	} {
		if err := sender.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
			t.Fatalf("write returned %v", err)
		}
	}

	select {
	case message := <-received:
		if body, _ := message.Payload().StringValue("body"); body != "hello" {
			t.Fatalf("unexpected broadcast payload %v", message.Payload())
		}
		price, _ := message.PayloadValue("price")
		if value, ok := price.(decimal.Decimal); !ok || value.String() != "1.25" {
			t.Fatalf("expected decimal price in broadcast, got %#v", price)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("broadcast not received")
	}

	client.Shutdown("test done", true)
	if err := <-result; err != nil {
		t.Fatalf("StartProcessing returned %v", err)
	}
}

func TestAdminCloseEndsClient(t *testing.T) {
	httpServer, socketURL := startServer(t, "")
	client := startClient(t, socketURL, "room:1")
	result := run(client)
	waitTopic(t, client, "room:1")

	response, err := http.Post(httpServer.URL+"/admin/close?topic=room:1", "application/json", nil)
	if err != nil {
		t.Fatalf("admin close returned %v", err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected admin status %d", response.StatusCode)
	}

	select {
	case err := <-result:
		var closed *phx.TopicClosedError
		if !errors.As(err, &closed) || closed.Reason != phx.ReasonUpstreamClosed {
			t.Fatalf("expected upstream closed error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("client did not stop after phx_close")
	}
}

func TestAdminPushValidation(t *testing.T) {
	httpServer, _ := startServer(t, "")

	response, err := http.Post(httpServer.URL+"/admin/push?topic=room:1", "application/json", nil)
	if err != nil {
		t.Fatalf("admin push returned %v", err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without event, got %d", response.StatusCode)
	}

	response, err = http.Post(httpServer.URL+"/admin/push?topic=room:1&event=shout", "application/json", strings.NewReader(`[1]`))
	if err != nil {
		t.Fatalf("admin push returned %v", err)
	}
	response.Body.Close()
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a non-object payload, got %d", response.StatusCode)
	}
}

func TestTokenRequired(t *testing.T) {
	_, socketURL := startServer(t, "secret")

	client := startClient(t, socketURL, "room:1")
	if err := client.StartProcessing(context.Background()); !errors.Is(err, phx.ErrNotConnected) {
		t.Fatalf("expected a connection error without token, got %v", err)
	}

	config := phx.DefaultConfig()
	config.SocketURL = socketURL
	config.AuthToken = "secret"
	config.HandleSignals = false
	authorized, err := phx.NewClientFromConfig(config)
	if err != nil {
		t.Fatalf("NewClientFromConfig returned %v", err)
	}
	if _, err := authorized.RegisterTopicSubscription("room:1"); err != nil {
		t.Fatalf("RegisterTopicSubscription returned %v", err)
	}
	result := run(authorized)
	waitTopic(t, authorized, "room:1")
	authorized.Shutdown("test done", true)
	if err := <-result; err != nil {
		t.Fatalf("StartProcessing returned %v", err)
	}
}
