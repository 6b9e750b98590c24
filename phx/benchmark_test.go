package phx

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

var benchmarkFrame = []byte(`{"topic":"prices:btc","event":"quote","ref":"42","payload":{"bid":"ignored","price":27123.456789,"size":3,"venues":["a","b"]}}`)

func BenchmarkJSONCodecDecode(b *testing.B) {
	codec := JSONCodec{}
	b.ReportAllocs()
	for b.Loop() {
		if _, err := codec.Decode(benchmarkFrame); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkJSONCodecEncode(b *testing.B) {
	codec := JSONCodec{}
	message := NewMessage("quote", "prices:btc", Payload{
		"price":  decimal.RequireFromString("27123.456789"),
		"size":   int64(3),
		"venues": []interface{}{"a", "b"},
	}).WithRef("42")
	b.ReportAllocs()
	for b.Loop() {
		if _, err := codec.Encode(message); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMessageQueueEnqueueDequeue(b *testing.B) {
	queue := newMessageQueue(0)
	message := NewMessage("quote", "prices:btc", nil)
	ctx := context.Background()
	b.ReportAllocs()
	for b.Loop() {
		queue.enqueue(message)
		if _, err := queue.waitDequeue(ctx); err != nil {
			b.Fatal(err)
		}
		queue.taskDone()
	}
}

func BenchmarkRouteMessageDropped(b *testing.B) {
	client := NewClient("ws://phx.test/socket")
	defer client.Shutdown("done", false)
	message := NewMessage("quote", "prices:btc", nil)
	b.ReportAllocs()
	for b.Loop() {
		if err := client.routeMessage(message); err != nil {
			b.Fatal(err)
		}
	}
}
