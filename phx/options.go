package phx

import (
	"time"

	"github.com/AceFire6/phx-events/phx/internal/refs"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ReferenceGenerator produces correlation references for outgoing messages.
type ReferenceGenerator interface {
	Next(event string) string
}

// SequentialReferences returns a generator of increasing decimal references starting at start.
func SequentialReferences(start uint64) ReferenceGenerator {
	return refs.NewSequencer(start)
}

// SessionReferences returns a generator of "<session uuid>:<sequence>" references.
func SessionReferences() ReferenceGenerator {
	return refs.NewSession()
}

// TimestampedReferences returns a generator of "<UTC yyyymmddHHMMSS>:<event>" references.
func TimestampedReferences() ReferenceGenerator {
	return refs.Timestamped{}
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger. A nil logger is ignored.
func WithLogger(logger *zap.Logger) Option {
	return func(client *Client) {
		if logger != nil {
			client.logger = logger.Named("client")
		}
	}
}

// WithExecutor sets the executor used for pool handlers. The client shuts it down when the
// client shuts down.
func WithExecutor(executor Executor) Option {
	return func(client *Client) {
		client.executor = executor
	}
}

// WithPoolSize sets the size of the default BoundedPool created by StartProcessing.
func WithPoolSize(size int) Option {
	return func(client *Client) {
		client.poolSize = size
	}
}

// WithTransport replaces the websocket transport.
func WithTransport(transport Transport) Option {
	return func(client *Client) {
		if transport != nil {
			client.transport = transport
		}
	}
}

// WithCodec replaces the JSON codec.
func WithCodec(codec Codec) Option {
	return func(client *Client) {
		if codec != nil {
			client.codec = codec
		}
	}
}

// WithMetrics registers the client metrics with registerer.
func WithMetrics(registerer prometheus.Registerer) Option {
	return func(client *Client) {
		client.metrics = newClientMetrics(registerer)
	}
}

// WithSignalHandling makes StartProcessing shut the client down on SIGINT and SIGTERM.
func WithSignalHandling(enabled bool) Option {
	return func(client *Client) {
		client.handleSignals = enabled
	}
}

// WithConnectTimeout bounds the socket dial. Zero leaves it to the caller context.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(client *Client) {
		client.connectTimeout = timeout
	}
}

// WithDrainTimeout bounds how long Shutdown(reason, true) waits for in-flight handlers before
// abandoning them. Zero waits indefinitely.
func WithDrainTimeout(timeout time.Duration) Option {
	return func(client *Client) {
		client.drainTimeout = timeout
	}
}

// WithReferenceGenerator replaces the correlation reference generator.
func WithReferenceGenerator(generator ReferenceGenerator) Option {
	return func(client *Client) {
		if generator != nil {
			client.refs = generator
		}
	}
}
