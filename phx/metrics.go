package phx

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "phx"

// unhandledEventLabel replaces the event label of messages nobody handles, so peers cannot
// grow the label set.
const unhandledEventLabel = "unhandled"

// clientMetrics holds the dispatch counters of a Client. Labels are limited to protocol and
// registered event names and join status.
type clientMetrics struct {
	received        *prometheus.CounterVec
	dropped         prometheus.Counter
	sent            *prometheus.CounterVec
	handlerFailures *prometheus.CounterVec
	queueDepth      *prometheus.GaugeVec
	joins           *prometheus.CounterVec
}

func newClientMetrics(registerer prometheus.Registerer) *clientMetrics {
	metrics := &clientMetrics{
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_received_total",
			Help:      "Total number of decoded inbound messages, by protocol or handled event.",
		}, []string{"event"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_dropped_total",
			Help:      "Total number of inbound messages without a registered handler.",
		}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "messages_sent_total",
			Help:      "Total number of messages written to the socket, by event.",
		}, []string{"event"}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handler_failures_total",
			Help:      "Total number of recovered handler errors and panics, by event.",
		}, []string{"event"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "event_queue_depth",
			Help:      "Messages waiting in an event queue, by event.",
		}, []string{"event"}),
		joins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "topic_joins_total",
			Help:      "Total number of resolved topic joins, by status.",
		}, []string{"status"}),
	}
	if registerer == nil {
		return metrics
	}

	metrics.received = registerOrReuse(registerer, metrics.received)
	metrics.dropped = registerOrReuse(registerer, metrics.dropped)
	metrics.sent = registerOrReuse(registerer, metrics.sent)
	metrics.handlerFailures = registerOrReuse(registerer, metrics.handlerFailures)
	metrics.queueDepth = registerOrReuse(registerer, metrics.queueDepth)
	metrics.joins = registerOrReuse(registerer, metrics.joins)
	return metrics
}

// registerOrReuse registers collector, returning the already registered collector when an
// identical one exists (several clients sharing one registry).
func registerOrReuse[T prometheus.Collector](registerer prometheus.Registerer, collector T) T {
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}
	var alreadyRegistered prometheus.AlreadyRegisteredError
	if errors.As(err, &alreadyRegistered) {
		if existing, ok := alreadyRegistered.ExistingCollector.(T); ok {
			return existing
		}
	}
	return collector
}

func (metrics *clientMetrics) messageReceived(event Event, handled bool) {
	label := string(event)
	if !handled && !event.IsProtocol() {
		label = unhandledEventLabel
	}
	metrics.received.WithLabelValues(label).Inc()
}

func (metrics *clientMetrics) messageDropped() {
	metrics.dropped.Inc()
}

func (metrics *clientMetrics) messageSent(event Event) {
	metrics.sent.WithLabelValues(string(event)).Inc()
}

func (metrics *clientMetrics) handlerFailed(event Event) {
	metrics.handlerFailures.WithLabelValues(string(event)).Inc()
}

func (metrics *clientMetrics) observeQueueDepth(event Event, depth uint64) {
	metrics.queueDepth.WithLabelValues(string(event)).Set(float64(depth))
}

func (metrics *clientMetrics) topicJoined(status SubscriptionStatus) {
	metrics.joins.WithLabelValues(status.String()).Inc()
}
