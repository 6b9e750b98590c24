package phx

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// testConn is an in-memory Connection. Frames queued with enqueueRead are returned by
// Receive in order; Receive blocks when none are queued until more arrive, the connection is
// closed (io.EOF) or ctx is done.
type testConn struct {
	lock       sync.Mutex
	readQueue  [][]byte
	readyCh    chan struct{}
	written    [][]byte
	writtenCh  chan struct{}
	closed     bool
	closeCount int
	sendErr    error
}

func newTestConn() *testConn {
	return &testConn{readyCh: make(chan struct{}), writtenCh: make(chan struct{})}
}

func (connection *testConn) enqueueRead(frames ...string) {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	for _, frame := range frames {
		connection.readQueue = append(connection.readQueue, []byte(frame))
	}
	close(connection.readyCh)
	connection.readyCh = make(chan struct{})
}

func (connection *testConn) Send(_ context.Context, frame []byte) error {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	if connection.closed {
		return io.ErrClosedPipe
	}
	if connection.sendErr != nil {
		return connection.sendErr
	}
	connection.written = append(connection.written, append([]byte(nil), frame...))
	close(connection.writtenCh)
	connection.writtenCh = make(chan struct{})
	return nil
}

func (connection *testConn) Receive(ctx context.Context) ([]byte, error) {
	for {
		connection.lock.Lock()
		if connection.closed {
			connection.lock.Unlock()
			return nil, io.EOF
		}
		if len(connection.readQueue) > 0 {
			frame := connection.readQueue[0]
			connection.readQueue = connection.readQueue[1:]
			connection.lock.Unlock()
			return frame, nil
		}
		ready := connection.readyCh
		connection.lock.Unlock()

		select {
		case <-ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (connection *testConn) Close() error {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	connection.closeCount++
	if connection.closed {
		return nil
	}
	connection.closed = true
	close(connection.readyCh)
	connection.readyCh = make(chan struct{})
	return nil
}

func (connection *testConn) closeCalls() int {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	return connection.closeCount
}

func (connection *testConn) writtenFrames() [][]byte {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	return append([][]byte(nil), connection.written...)
}

// waitWritten blocks until at least count frames were sent.
func (connection *testConn) waitWritten(t *testing.T, count int) [][]byte {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		connection.lock.Lock()
		if len(connection.written) >= count {
			frames := append([][]byte(nil), connection.written...)
			connection.lock.Unlock()
			return frames
		}
		waitCh := connection.writtenCh
		connection.lock.Unlock()

		select {
		case <-waitCh:
		case <-deadline:
			t.Fatalf("timed out waiting for %d written frames", count)
		}
	}
}

// testTransport hands out a single testConn.
type testTransport struct {
	connection *testConn
	err        error
	lock       sync.Mutex
	urls       []string
}

func (transport *testTransport) Connect(_ context.Context, url string) (Connection, error) {
	transport.lock.Lock()
	defer transport.lock.Unlock()
	transport.urls = append(transport.urls, url)
	if transport.err != nil {
		return nil, transport.err
	}
	return transport.connection, nil
}

// blockingTransport never connects until ctx is done.
type blockingTransport struct{}

func (blockingTransport) Connect(ctx context.Context, _ string) (Connection, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newObservedLogger(level zapcore.Level) (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core), logs
}

// newTestClient returns a client wired to an in-memory connection without signal handling.
func newTestClient(t *testing.T, options ...Option) (*Client, *testConn) {
	t.Helper()
	connection := newTestConn()
	defaults := []Option{
		WithTransport(&testTransport{connection: connection}),
		WithSignalHandling(false),
		WithPoolSize(4),
	}
	client := NewClient("ws://phx.test/socket/websocket", append(defaults, options...)...)
	t.Cleanup(func() { client.Shutdown("test cleanup", false) })
	return client, connection
}

// runClient starts processing in the background and returns the channel receiving its result.
func runClient(t *testing.T, client *Client) <-chan error {
	t.Helper()
	result := make(chan error, 1)
	go func() {
		result <- client.StartProcessing(context.Background())
	}()
	return result
}

func waitResult(t *testing.T, result <-chan error) error {
	t.Helper()
	select {
	case err := <-result:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for StartProcessing to return")
		return nil
	}
}

func waitSignal(t *testing.T, signal *Signal) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := signal.Wait(ctx); err != nil {
		t.Fatalf("signal not fired: %v", err)
	}
}

func waitFor(t *testing.T, description string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", description)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
