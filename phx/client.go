package phx

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/AceFire6/phx-events/phx/internal/refs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ClientVersion is the version of this client library.
const ClientVersion = "0.1.0"

// ClientState is a stage of the client lifecycle.
type ClientState int32

// Client lifecycle: Idle -> Handshaking -> Running -> ShuttingDown -> Closed.
const (
	StateIdle ClientState = iota
	StateHandshaking
	StateRunning
	StateShuttingDown
	StateClosed
)

func (state ClientState) String() string {
	switch state {
	case StateIdle:
		return "Idle"
	case StateHandshaking:
		return "Handshaking"
	case StateRunning:
		return "Running"
	case StateShuttingDown:
		return "ShuttingDown"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Handle is the view of the client given to handlers.
type Handle interface {
	// Send encodes and writes message on the client connection.
	Send(ctx context.Context, message ChannelMessage) error
	// Push sends event on topic with a fresh ref and returns the ref.
	Push(ctx context.Context, topic Topic, event Event, payload Payload) (string, error)
	// TopicResult returns the join outcome of topic once it is known.
	TopicResult(topic Topic) (TopicSubscribeResult, bool)
	RegisterEventHandler(event Event, handlers ...Handler) error
	RegisterTopicEventHandler(event Event, topic Topic, handlers ...Handler) error
	Logger() *zap.Logger
}

// Client is a Phoenix Channels client. It owns the connection, the topic registration table
// and the event dispatch table, runs the read loop and fans messages out to event workers.
type Client struct {
	socketURL      string
	logger         *zap.Logger
	transport      Transport
	codec          Codec
	refs           ReferenceGenerator
	metrics        *clientMetrics
	poolSize       int
	handleSignals  bool
	connectTimeout time.Duration
	drainTimeout   time.Duration

	lock       sync.Mutex
	writeLock  sync.Mutex
	state      ClientState
	connection Connection
	executor   Executor
	runCancel  context.CancelFunc
	reason     string

	topics            *topicRegistrationTable
	events            *eventDispatchTable
	registrationQueue *messageQueue
	registrationDone  chan struct{}

	started *Signal
	closed  *Signal

	lifetime       context.Context
	lifetimeCancel context.CancelFunc
	handlerCtx     context.Context
	handlerCancel  context.CancelFunc
	workers        sync.WaitGroup
}

var _ Handle = (*Client)(nil)

// NewClient returns an idle client for the Phoenix socket at socketURL.
func NewClient(socketURL string, options ...Option) *Client {
	lifetime, lifetimeCancel := context.WithCancel(context.Background())
	handlerCtx, handlerCancel := context.WithCancel(context.Background())

	client := &Client{
		socketURL:         socketURL,
		logger:            zap.NewNop(),
		transport:         WebsocketTransport{},
		codec:             JSONCodec{},
		refs:              refs.UUID{},
		topics:            newTopicRegistrationTable(),
		events:            newEventDispatchTable(),
		registrationQueue: newMessageQueue(defaultQueueCapacity),
		started:           NewSignal(),
		closed:            NewSignal(),
		lifetime:          lifetime,
		lifetimeCancel:    lifetimeCancel,
		handlerCtx:        handlerCtx,
		handlerCancel:     handlerCancel,
	}
	for _, option := range options {
		option(client)
	}
	if client.metrics == nil {
		client.metrics = newClientMetrics(nil)
	}
	return client
}

// NewClientFromConfig validates config and returns a client for it. Options are applied after
// the ones derived from config.
func NewClientFromConfig(config Config, options ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	socketURL, err := config.ChannelSocketURL()
	if err != nil {
		return nil, err
	}

	derived := []Option{
		WithPoolSize(config.MaxWorkers),
		WithSignalHandling(config.HandleSignals),
		WithConnectTimeout(config.ConnectTimeout),
		WithDrainTimeout(config.DrainTimeout),
	}
	return NewClient(socketURL, append(derived, options...)...), nil
}

// SocketURL returns the URL the client connects to.
func (client *Client) SocketURL() string { return client.socketURL }

// Logger implements Handle.
func (client *Client) Logger() *zap.Logger { return client.logger }

// State returns the current lifecycle state.
func (client *Client) State() ClientState {
	client.lock.Lock()
	defer client.lock.Unlock()
	return client.state
}

// Started returns a signal fired once every join message has been sent.
func (client *Client) Started() *Signal { return client.started }

// Done returns a channel closed once the client reached StateClosed.
func (client *Client) Done() <-chan struct{} { return client.closed.Done() }

// ShutdownReason returns the reason passed to the shutdown that closed the client.
func (client *Client) ShutdownReason() string {
	client.lock.Lock()
	defer client.lock.Unlock()
	return client.reason
}

func (client *Client) transition(from ClientState, to ClientState) bool {
	client.lock.Lock()
	defer client.lock.Unlock()
	if client.state != from {
		return false
	}
	client.state = to
	return true
}

// RegisterTopicSubscription registers topic to be joined by StartProcessing and returns the
// signal fired when the join reply has been resolved.
func (client *Client) RegisterTopicSubscription(topic Topic) (*Signal, error) {
	if topic == "" {
		return nil, NewError(ConfigurationError, "topic must not be empty")
	}
	if state := client.State(); state != StateIdle {
		return nil, NewError(InvalidStateError, "topics must be registered before processing starts, client is "+state.String())
	}
	return client.topics.register(topic)
}

// TopicResult implements Handle.
func (client *Client) TopicResult(topic Topic) (TopicSubscribeResult, bool) {
	return client.topics.result(topic)
}

// WaitForTopic blocks until the join reply of topic has been resolved.
func (client *Client) WaitForTopic(ctx context.Context, topic Topic) (TopicSubscribeResult, error) {
	return client.topics.wait(ctx, topic)
}

// Send implements Handle.
func (client *Client) Send(ctx context.Context, message ChannelMessage) error {
	client.lock.Lock()
	connection := client.connection
	state := client.state
	client.lock.Unlock()

	if state >= StateShuttingDown {
		return ErrClientClosed
	}
	if connection == nil {
		return ErrNotConnected
	}

	frame, err := client.codec.Encode(message)
	if err != nil {
		return err
	}

	client.logger.Debug("sending message", zap.Stringer("message", message))
	client.writeLock.Lock()
	err = connection.Send(ctx, frame)
	client.writeLock.Unlock()
	if err != nil {
		return NewError(ConnectionError, err)
	}
	client.metrics.messageSent(message.event)
	return nil
}

// Push implements Handle.
func (client *Client) Push(ctx context.Context, topic Topic, event Event, payload Payload) (string, error) {
	ref := client.refs.Next(string(event))
	if err := client.Send(ctx, NewMessage(event, topic, payload).WithRef(ref)); err != nil {
		return "", err
	}
	return ref, nil
}

// StartProcessing connects, joins every registered topic and runs the read loop until the
// connection ends, a fatal protocol event arrives, ctx is done, or Shutdown is called. The
// client is shut down when it returns.
//
// With no registered topics it logs an error and returns nil without connecting.
func (client *Client) StartProcessing(ctx context.Context) error {
	if client.topics.len() == 0 {
		client.logger.Error("no subscribed topics, nothing to do here; ending processing")
		return nil
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	client.lock.Lock()
	if client.state != StateIdle {
		state := client.state
		client.lock.Unlock()
		return NewError(InvalidStateError, "cannot start processing, client is "+state.String())
	}
	client.state = StateHandshaking
	client.runCancel = runCancel
	if client.executor == nil {
		client.logger.Debug("creating the executor pool used for pool handlers")
		client.executor = NewBoundedPool(client.poolSize)
	}
	client.lock.Unlock()

	defer func() { <-client.closed.Done() }()

	connection, err := client.connect(runCtx)
	if err != nil {
		if client.State() >= StateShuttingDown {
			return nil
		}
		client.Shutdown("connect failed", false)
		return NewError(ConnectionError, err)
	}

	client.lock.Lock()
	if client.state != StateHandshaking {
		client.lock.Unlock()
		_ = connection.Close()
		return nil
	}
	client.connection = connection
	client.lock.Unlock()

	if client.handleSignals {
		stop := client.installSignalHandlers()
		defer stop()
	}

	client.startRegistrationConsumer()

	if err := client.subscribeToRegisteredTopics(runCtx); err != nil {
		if client.State() >= StateShuttingDown {
			return nil
		}
		client.Shutdown("topic subscribe failed", false)
		return err
	}

	if !client.transition(StateHandshaking, StateRunning) {
		return nil
	}
	client.started.Fire()

	readErr := client.processMessages(runCtx, connection)
	return client.finish(ctx, readErr)
}

func (client *Client) connect(ctx context.Context) (Connection, error) {
	if client.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, client.connectTimeout)
		defer cancel()
	}
	client.logger.Debug("connecting to socket", zap.String("url", client.socketURL))
	return client.transport.Connect(ctx, client.socketURL)
}

// finish shuts the client down after the read loop returned readErr and decides what
// StartProcessing reports.
func (client *Client) finish(ctx context.Context, readErr error) error {
	var closedErr *TopicClosedError
	var malformedErr *MalformedMessageError
	fatal := errors.As(readErr, &closedErr) || errors.As(readErr, &malformedErr)

	if !fatal && client.State() >= StateShuttingDown {
		client.Shutdown("read loop stopped", true)
		return nil
	}

	switch {
	case readErr == nil:
		client.Shutdown("connection closed", true)
		return nil
	case closedErr != nil:
		client.Shutdown(closedErr.Reason, true)
		return readErr
	case malformedErr != nil:
		client.Shutdown("malformed message", true)
		return readErr
	case ctx.Err() != nil:
		client.Shutdown("context done", false)
		return ctx.Err()
	default:
		client.Shutdown("connection error", true)
		return NewError(ConnectionError, readErr)
	}
}

func (client *Client) installSignalHandlers() func() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	stopped := make(chan struct{})

	go func() {
		select {
		case received := <-signals:
			reason := "SIGTERM"
			if received == syscall.SIGINT {
				reason = "Keyboard Interrupt"
			}
			client.Shutdown(reason, false)
		case <-stopped:
		}
	}()

	return func() {
		signal.Stop(signals)
		close(stopped)
	}
}

// subscribeToRegisteredTopics stamps a fresh ref on every registration and sends all join
// messages concurrently.
func (client *Client) subscribeToRegisteredTopics(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, topic := range client.topics.topics() {
		ref := client.refs.Next(string(EventJoin))
		client.topics.assignRef(topic, ref)
		message := NewMessage(EventJoin, topic, nil).WithRef(ref)

		client.logger.Info("creating subscribe message", zap.String("topic", string(topic)), zap.String("ref", ref))
		group.Go(func() error {
			return client.Send(groupCtx, message)
		})
	}

	client.logger.Info("sending all topic subscribe messages")
	return group.Wait()
}

func (client *Client) startRegistrationConsumer() {
	ctx, cancel := context.WithCancel(client.lifetime)
	done := make(chan struct{})

	client.lock.Lock()
	client.registrationDone = done
	client.lock.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		client.processTopicRegistrationResponses(ctx)
	}()
}

// processTopicRegistrationResponses resolves join replies in arrival order.
func (client *Client) processTopicRegistrationResponses(ctx context.Context) {
	for {
		message, err := client.registrationQueue.waitDequeue(ctx)
		if err != nil {
			return
		}

		topic := string(message.topic)
		client.logger.Info("got topic join reply", zap.String("topic", topic), zap.Stringer("message", message))
		if ref, ok := client.topics.connectionRef(message.topic); ok {
			if replyRef, hasRef := message.Ref(); hasRef && replyRef != ref {
				client.logger.Debug("join reply ref differs from join ref", zap.String("topic", topic), zap.String("join_ref", ref), zap.String("reply_ref", replyRef))
			}
		}

		result, resolved := client.topics.resolve(message)
		client.registrationQueue.taskDone()
		if !resolved {
			client.logger.Debug("ignoring reply for resolved topic", zap.String("topic", topic))
			continue
		}
		client.metrics.topicJoined(result.Status)
		client.logger.Info("topic registration "+result.Status.String(), zap.String("topic", topic), zap.Stringer("message", message))
	}
}

func (client *Client) parseMessage(frame []byte) (ChannelMessage, error) {
	client.logger.Debug("got message", zap.ByteString("frame", frame))
	return client.codec.Decode(frame)
}

// processMessages is the read loop. It returns nil when the connection ends normally.
func (client *Client) processMessages(ctx context.Context, connection Connection) error {
	client.logger.Debug("starting socket message loop")
	for {
		frame, err := connection.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		message, err := client.parseMessage(frame)
		if err != nil {
			client.logger.Error("failed to decode message", zap.ByteString("frame", frame), zap.Error(err))
			return err
		}
		if err := client.routeMessage(message); err != nil {
			return err
		}
	}
}

// routeMessage applies the routing rules to one inbound message. It never blocks on handler
// or registration work.
func (client *Client) routeMessage(message ChannelMessage) error {
	event := message.event
	config, exists := client.events.lookup(event)
	client.metrics.messageReceived(event, exists)
	client.logger.Debug("processing message", zap.Stringer("message", message))

	switch event {
	case EventClose:
		client.logger.Info("got phoenix close event, shutting down", zap.Stringer("message", message))
		return &TopicClosedError{Topic: message.topic, Reason: ReasonUpstreamClosed}
	case EventError:
		client.logger.Error("got phoenix error event, shutting down", zap.Stringer("message", message))
		return &TopicClosedError{Topic: message.topic, Reason: ReasonUpstreamError}
	}

	if event == EventReply && client.topics.claimReply(message.topic) {
		client.registrationQueue.enqueue(message)
	}

	if !exists {
		client.metrics.messageDropped()
		client.logger.Debug("ignoring message, no event handlers registered", zap.Stringer("message", message))
		return nil
	}

	client.logger.Debug("submitting message to event queue", zap.String("event", string(event)), zap.Stringer("message", message))
	if config.queue.enqueue(message) {
		client.metrics.observeQueueDepth(event, config.queue.length())
	}
	return nil
}

// Shutdown stops the client. The first call moves it to ShuttingDown and tears everything
// down; later or concurrent calls return immediately.
//
// With waitForCompletion, workers finish the message they are handling and the executor
// drains before Shutdown returns; messages still queued are abandoned. A drain that outlasts
// WithDrainTimeout falls back to the behaviour without it. Without it, workers and task
// handlers are cancelled at once and queued pool work is dropped; pool handlers already
// running finish on their own.
func (client *Client) Shutdown(reason string, waitForCompletion bool) {
	client.lock.Lock()
	if client.state >= StateShuttingDown {
		client.lock.Unlock()
		return
	}
	client.state = StateShuttingDown
	client.reason = reason
	connection := client.connection
	executor := client.executor
	runCancel := client.runCancel
	registrationDone := client.registrationDone
	client.lock.Unlock()

	client.logger.Info("client shutting down", zap.String("reason", reason), zap.Bool("wait_for_completion", waitForCompletion))

	client.registrationQueue.close()
	if registrationDone != nil {
		<-registrationDone
	}

	configs := client.events.all()
	for _, config := range configs {
		config.abandon.Store(!waitForCompletion)
		config.cancel()
	}
	if !waitForCompletion {
		client.handlerCancel()
	}

	if runCancel != nil {
		runCancel()
	}
	if connection != nil {
		if err := connection.Close(); err != nil {
			client.logger.Debug("ignoring error closing connection", zap.Error(err))
		}
	}

	for _, config := range configs {
		config.queue.close()
	}
	if waitForCompletion && !client.drainEventQueues(configs) {
		waitForCompletion = false
		client.handlerCancel()
	}
	if waitForCompletion {
		client.workers.Wait()
	}
	if executor != nil {
		executor.Shutdown(waitForCompletion)
	}

	client.handlerCancel()
	client.lifetimeCancel()

	client.lock.Lock()
	client.state = StateClosed
	client.lock.Unlock()
	client.closed.Fire()
	client.logger.Info("client closed", zap.String("reason", reason))
}

// drainEventQueues waits for the message each worker is handling. It reports false when the
// drain timeout elapsed first.
func (client *Client) drainEventQueues(configs []*eventHandlerConfig) bool {
	ctx := client.lifetime
	if client.drainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, client.drainTimeout)
		defer cancel()
	}
	for _, config := range configs {
		if err := config.queue.join(ctx); err != nil {
			client.logger.Warn("event queue did not drain in time, abandoning in-flight handlers",
				zap.String("event", string(config.event)),
				zap.Duration("drain_timeout", client.drainTimeout))
			return false
		}
	}
	return true
}

// Close shuts the client down, waiting for in-flight handlers.
func (client *Client) Close() error {
	client.Shutdown("client closed", true)
	return nil
}
