package phx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Transport opens connections to a Phoenix socket endpoint.
type Transport interface {
	Connect(ctx context.Context, url string) (Connection, error)
}

// Connection is a message-oriented, full-duplex connection.
type Connection interface {
	// Send writes one frame.
	Send(ctx context.Context, frame []byte) error
	// Receive blocks for the next frame. It returns io.EOF once the connection was closed
	// normally by either side.
	Receive(ctx context.Context) ([]byte, error)
	// Close closes the connection. Calls after the first return nil.
	Close() error
}

const closeWriteTimeout = time.Second

// WebsocketTransport dials Phoenix sockets with gorilla/websocket.
type WebsocketTransport struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// Connect implements Transport.
func (transport WebsocketTransport) Connect(ctx context.Context, url string) (Connection, error) {
	dialer := transport.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, response, err := dialer.DialContext(ctx, url, transport.Header)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("websocket handshake failed with status %d: %w", response.StatusCode, err)
		}
		return nil, err
	}
	return newWebsocketConnection(conn), nil
}

type websocketConnection struct {
	conn      *websocket.Conn
	writeLock sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

func newWebsocketConnection(conn *websocket.Conn) *websocketConnection {
	return &websocketConnection{conn: conn}
}

func (connection *websocketConnection) Send(ctx context.Context, frame []byte) error {
	if connection.closed.Load() {
		return ErrClientClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	connection.writeLock.Lock()
	defer connection.writeLock.Unlock()

	deadline, _ := ctx.Deadline()
	if err := connection.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return connection.conn.WriteMessage(websocket.TextMessage, frame)
}

func (connection *websocketConnection) Receive(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = connection.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, frame, err := connection.conn.ReadMessage()
	if err == nil {
		return frame, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if connection.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil, io.EOF
	}
	return nil, err
}

func (connection *websocketConnection) Close() (err error) {
	connection.closeOnce.Do(func() {
		connection.closed.Store(true)

		_ = connection.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteTimeout),
		)

		err = connection.conn.Close()
	})
	return err
}
