package phx

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

type handlerKind int

const (
	poolHandlerKind handlerKind = iota
	taskHandlerKind
)

// PoolHandlerFunc is a synchronous handler executed on the client's Executor.
type PoolHandlerFunc func(message ChannelMessage, client Handle) error

// TaskHandlerFunc is a handler run on its own goroutine. ctx is cancelled when the client
// shuts down without waiting for in-flight work.
type TaskHandlerFunc func(ctx context.Context, message ChannelMessage, client Handle) error

// Handler is an event handler. Build one with PoolHandler or TaskHandler.
type Handler struct {
	kind handlerKind
	name string
	pool PoolHandlerFunc
	task TaskHandlerFunc
}

// PoolHandler wraps a synchronous handler.
func PoolHandler(handler PoolHandlerFunc) Handler {
	return Handler{kind: poolHandlerKind, pool: handler}
}

// TaskHandler wraps a handler that runs as an independent goroutine.
func TaskHandler(handler TaskHandlerFunc) Handler {
	return Handler{kind: taskHandlerKind, task: handler}
}

// Named returns a copy of the handler carrying name, used in log entries.
func (handler Handler) Named(name string) Handler {
	handler.name = name
	return handler
}

// Name returns the handler name.
func (handler Handler) Name() string { return handler.name }

// IsTask reports whether the handler runs as an independent goroutine.
func (handler Handler) IsTask() bool { return handler.kind == taskHandlerKind }

func (handler Handler) valid() bool {
	if handler.kind == taskHandlerKind {
		return handler.task != nil
	}
	return handler.pool != nil
}

type eventHandlerConfig struct {
	event Event
	queue *messageQueue

	lock            sync.RWMutex
	defaultHandlers []Handler
	topicHandlers   map[Topic][]Handler

	cancel  context.CancelFunc
	abandon atomic.Bool
	done    chan struct{}
}

func newEventHandlerConfig(event Event) *eventHandlerConfig {
	return &eventHandlerConfig{
		event:         event,
		queue:         newMessageQueue(defaultQueueCapacity),
		topicHandlers: make(map[Topic][]Handler),
		done:          make(chan struct{}),
	}
}

func (config *eventHandlerConfig) addHandlers(topic Topic, handlers []Handler) {
	config.lock.Lock()
	defer config.lock.Unlock()
	if topic != "" {
		config.topicHandlers[topic] = append(config.topicHandlers[topic], handlers...)
		return
	}
	config.defaultHandlers = append(config.defaultHandlers, handlers...)
}

// handlersFor returns the topic handlers for topic when any are registered, otherwise the
// default handlers.
func (config *eventHandlerConfig) handlersFor(topic Topic) []Handler {
	config.lock.RLock()
	defer config.lock.RUnlock()
	if handlers, exists := config.topicHandlers[topic]; exists && len(handlers) > 0 {
		return append([]Handler(nil), handlers...)
	}
	return append([]Handler(nil), config.defaultHandlers...)
}

type eventDispatchTable struct {
	lock    sync.RWMutex
	configs map[Event]*eventHandlerConfig
}

func newEventDispatchTable() *eventDispatchTable {
	return &eventDispatchTable{configs: make(map[Event]*eventHandlerConfig)}
}

func (table *eventDispatchTable) lookup(event Event) (*eventHandlerConfig, bool) {
	table.lock.RLock()
	defer table.lock.RUnlock()
	config, exists := table.configs[event]
	return config, exists
}

// getOrCreate returns the config for event, calling start for a newly created config while
// the table lock is held.
func (table *eventDispatchTable) getOrCreate(event Event, start func(*eventHandlerConfig)) *eventHandlerConfig {
	table.lock.Lock()
	defer table.lock.Unlock()
	if config, exists := table.configs[event]; exists {
		return config
	}
	config := newEventHandlerConfig(event)
	table.configs[event] = config
	start(config)
	return config
}

func (table *eventDispatchTable) all() []*eventHandlerConfig {
	table.lock.RLock()
	defer table.lock.RUnlock()
	configs := make([]*eventHandlerConfig, 0, len(table.configs))
	for _, config := range table.configs {
		configs = append(configs, config)
	}
	return configs
}

// RegisterEventHandler adds default handlers for event. Handlers accumulate across calls.
func (client *Client) RegisterEventHandler(event Event, handlers ...Handler) error {
	return client.registerEventHandler(event, "", handlers)
}

// RegisterTopicEventHandler adds handlers for event messages on topic. For that topic they
// replace the default handlers instead of adding to them.
func (client *Client) RegisterTopicEventHandler(event Event, topic Topic, handlers ...Handler) error {
	if topic == "" {
		return NewError(ConfigurationError, "topic must not be empty")
	}
	return client.registerEventHandler(event, topic, handlers)
}

func (client *Client) registerEventHandler(event Event, topic Topic, handlers []Handler) error {
	if event == "" {
		return NewError(ConfigurationError, "event must not be empty")
	}
	for index, handler := range handlers {
		if !handler.valid() {
			return NewError(ConfigurationError, fmt.Sprintf("handler %d for event %s is nil", index, event))
		}
	}
	if client.State() >= StateShuttingDown {
		return ErrClientClosed
	}

	config := client.events.getOrCreate(event, client.startEventWorker)
	config.addHandlers(topic, handlers)
	client.logger.Debug("registered event handlers",
		zap.String("event", string(event)),
		zap.String("topic", string(topic)),
		zap.Int("handlers", len(handlers)))
	return nil
}

func (client *Client) startEventWorker(config *eventHandlerConfig) {
	ctx, cancel := context.WithCancel(client.lifetime)
	config.cancel = cancel

	client.lock.Lock()
	defer client.lock.Unlock()
	if client.state >= StateShuttingDown {
		cancel()
		close(config.done)
		return
	}
	client.workers.Add(1)
	go client.eventWorker(ctx, config)
}

type handlerResult struct {
	handler Handler
	err     error
}

// eventWorker drains one event queue once the client has started.
func (client *Client) eventWorker(ctx context.Context, config *eventHandlerConfig) {
	defer client.workers.Done()
	defer close(config.done)

	logger := client.logger.Named("worker").With(zap.String("event", string(config.event)))
	logger.Debug("worker waiting for client start")
	if err := client.started.Wait(ctx); err != nil {
		logger.Debug("worker cancelled before start")
		return
	}
	logger.Debug("worker started")

	for {
		message, err := config.queue.waitDequeue(ctx)
		if err != nil {
			logger.Debug("worker stopped", zap.Error(err))
			return
		}
		client.metrics.observeQueueDepth(config.event, config.queue.length())
		logger.Debug("worker got message", zap.Stringer("message", message))

		completed := client.dispatchMessage(ctx, config, message, logger)
		config.queue.taskDone()
		if !completed {
			logger.Debug("worker abandoned in-flight handlers")
			return
		}
		if ctx.Err() != nil {
			logger.Debug("worker stopped after in-flight message")
			return
		}
	}
}

// dispatchMessage runs every handler for message and waits for all of them. It returns false
// when the worker was cancelled in abandon mode, or handler contexts were cancelled, before
// the handlers finished.
func (client *Client) dispatchMessage(ctx context.Context, config *eventHandlerConfig, message ChannelMessage, logger *zap.Logger) bool {
	handlers := config.handlersFor(message.topic)
	results := make(chan handlerResult, len(handlers))

	for _, handler := range handlers {
		if handler.kind == taskHandlerKind {
			go func() {
				results <- handlerResult{handler: handler, err: client.invokeHandler(client.handlerCtx, handler, message)}
			}()
			continue
		}

		err := client.executor.Submit(client.handlerCtx, func() {
			results <- handlerResult{handler: handler, err: client.invokeHandler(client.handlerCtx, handler, message)}
		})
		if err != nil {
			results <- handlerResult{handler: handler, err: err}
		}
	}

	cancelled := ctx.Done()
	for pending := len(handlers); pending > 0; {
		select {
		case result := <-results:
			pending--
			if result.err != nil {
				client.metrics.handlerFailed(config.event)
				logger.Error("recovered handler error",
					zap.String("topic", string(message.topic)),
					zap.String("handler", result.handler.name),
					zap.Stringer("message", message),
					zap.Error(result.err))
			}
		case <-cancelled:
			if config.abandon.Load() {
				return false
			}
			cancelled = nil
		case <-client.handlerCtx.Done():
			return false
		}
	}
	return true
}

func (client *Client) invokeHandler(ctx context.Context, handler Handler, message ChannelMessage) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = NewError(HandlerError, fmt.Sprintf("panic: %v", recovered))
		}
	}()

	if handler.kind == taskHandlerKind {
		return handler.task(ctx, message, client)
	}
	return handler.pool(message, client)
}
