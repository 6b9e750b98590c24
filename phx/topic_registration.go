package phx

import (
	"context"
	"sync"
)

// SubscriptionStatus is the outcome of a topic join.
type SubscriptionStatus int

// Join outcomes.
const (
	SubscriptionFailed SubscriptionStatus = iota
	SubscriptionSuccess
)

func (status SubscriptionStatus) String() string {
	if status == SubscriptionSuccess {
		return "SUCCEEDED"
	}
	return "FAILED"
}

// TopicSubscribeResult holds the join outcome and the reply that decided it.
type TopicSubscribeResult struct {
	Status  SubscriptionStatus
	Message ChannelMessage
}

// TopicRegistration tracks the join handshake of one topic.
type TopicRegistration struct {
	ConnectionRef string
	Result        *TopicSubscribeResult

	signal  *Signal
	claimed bool
}

// Signal returns the completion signal fired when the join reply is resolved.
func (registration *TopicRegistration) Signal() *Signal { return registration.signal }

type topicRegistrationTable struct {
	lock          sync.Mutex
	registrations map[Topic]*TopicRegistration
	order         []Topic
}

func newTopicRegistrationTable() *topicRegistrationTable {
	return &topicRegistrationTable{
		registrations: make(map[Topic]*TopicRegistration),
	}
}

func (table *topicRegistrationTable) register(topic Topic) (*Signal, error) {
	table.lock.Lock()
	defer table.lock.Unlock()

	if existing, exists := table.registrations[topic]; exists {
		return nil, &DuplicateTopicRegistrationError{Topic: topic, ConnectionRef: existing.ConnectionRef}
	}

	registration := &TopicRegistration{signal: NewSignal()}
	table.registrations[topic] = registration
	table.order = append(table.order, topic)
	return registration.signal, nil
}

func (table *topicRegistrationTable) len() int {
	table.lock.Lock()
	defer table.lock.Unlock()
	return len(table.registrations)
}

// topics returns registered topics in registration order.
func (table *topicRegistrationTable) topics() []Topic {
	table.lock.Lock()
	defer table.lock.Unlock()
	return append([]Topic(nil), table.order...)
}

func (table *topicRegistrationTable) assignRef(topic Topic, ref string) {
	table.lock.Lock()
	defer table.lock.Unlock()
	if registration, exists := table.registrations[topic]; exists {
		registration.ConnectionRef = ref
	}
}

func (table *topicRegistrationTable) connectionRef(topic Topic) (string, bool) {
	table.lock.Lock()
	defer table.lock.Unlock()
	registration, exists := table.registrations[topic]
	if !exists {
		return "", false
	}
	return registration.ConnectionRef, true
}

// claimReply atomically checks that topic has an unresolved registration whose reply has not
// been forwarded yet, and marks it forwarded.
func (table *topicRegistrationTable) claimReply(topic Topic) bool {
	table.lock.Lock()
	defer table.lock.Unlock()

	registration, exists := table.registrations[topic]
	if !exists || registration.claimed || registration.signal.Fired() {
		return false
	}
	registration.claimed = true
	return true
}

// resolve records the join outcome carried by message and fires the completion signal.
// Resolving an already resolved topic returns the stored result and false.
func (table *topicRegistrationTable) resolve(message ChannelMessage) (TopicSubscribeResult, bool) {
	table.lock.Lock()
	defer table.lock.Unlock()

	registration, exists := table.registrations[message.topic]
	if !exists {
		return TopicSubscribeResult{}, false
	}
	if registration.Result != nil {
		return *registration.Result, false
	}

	status := SubscriptionFailed
	if value, _ := message.payload.StringValue("status"); value == StatusOK {
		status = SubscriptionSuccess
	}
	registration.Result = &TopicSubscribeResult{Status: status, Message: message}
	registration.signal.Fire()
	return *registration.Result, true
}

func (table *topicRegistrationTable) result(topic Topic) (TopicSubscribeResult, bool) {
	table.lock.Lock()
	defer table.lock.Unlock()
	registration, exists := table.registrations[topic]
	if !exists || registration.Result == nil {
		return TopicSubscribeResult{}, false
	}
	return *registration.Result, true
}

func (table *topicRegistrationTable) signal(topic Topic) (*Signal, bool) {
	table.lock.Lock()
	defer table.lock.Unlock()
	registration, exists := table.registrations[topic]
	if !exists {
		return nil, false
	}
	return registration.signal, true
}

// wait blocks until topic's join is resolved.
func (table *topicRegistrationTable) wait(ctx context.Context, topic Topic) (TopicSubscribeResult, error) {
	signal, exists := table.signal(topic)
	if !exists {
		return TopicSubscribeResult{}, NewError(InvalidStateError, "topic "+string(topic)+" is not registered")
	}
	if err := signal.Wait(ctx); err != nil {
		return TopicSubscribeResult{}, err
	}
	result, _ := table.result(topic)
	return result, nil
}
