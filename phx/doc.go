// Package phx provides a Phoenix Channels client that joins topics over a single
// websocket and dispatches inbound events to concurrently running handlers.
//
// The primary lifecycle is:
//   - construct a Client with NewClient or NewClientFromConfig
//   - RegisterTopicSubscription for every topic to join
//   - RegisterEventHandler / RegisterTopicEventHandler for the events to handle
//   - StartProcessing, which joins all topics and runs the read loop
//   - Shutdown or Close when finished
//
// Every event name with a registered handler gets its own FIFO queue and worker, so a
// slow handler only delays later messages of the same event. Pool handlers run on a
// bounded Executor; task handlers run on their own goroutine and receive a context that
// is cancelled when the client shuts down without waiting.
//
// Handler errors and panics are recovered and logged; they never stop a worker. A
// phx_close or phx_error event from the server ends StartProcessing with a
// TopicClosedError.
//
// Errors are reported as typed errors created with NewError and can be matched with
// errors.Is against the exported sentinels.
//
// Integration tests are environment-gated and use PHX_TEST_URI, and optionally
// PHX_TEST_TOPIC.
package phx
