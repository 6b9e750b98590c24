package phx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSignalFireOnce(t *testing.T) {
	signal := NewSignal()
	if signal.Fired() {
		t.Fatalf("new signal must not be fired")
	}
	if !signal.Fire() {
		t.Fatalf("first Fire should report true")
	}
	if signal.Fire() {
		t.Fatalf("second Fire should report false")
	}
	if !signal.Fired() {
		t.Fatalf("signal should stay fired")
	}
}

func TestSignalReleasesAllWaiters(t *testing.T) {
	signal := NewSignal()
	var waiters sync.WaitGroup
	errs := make(chan error, 8)
	for index := 0; index < 8; index++ {
		waiters.Add(1)
		go func() {
			defer waiters.Done()
			errs <- signal.Wait(context.Background())
		}()
	}

	signal.Fire()
	waiters.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("waiter returned %v", err)
		}
	}

	if err := signal.Wait(context.Background()); err != nil {
		t.Fatalf("late waiter returned %v", err)
	}
}

func TestSignalWaitContext(t *testing.T) {
	signal := NewSignal()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := signal.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	signal.Fire()
	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	if err := signal.Wait(cancelled); err != nil {
		t.Fatalf("fired signal should win over a done context, got %v", err)
	}
}
