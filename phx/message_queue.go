package phx

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultQueueCapacity = 16

// messageQueue is an unbounded FIFO ring of ChannelMessages. Every dequeued item must be
// acknowledged with taskDone; join waits until all enqueued items were acknowledged or
// dropped by close.
type messageQueue struct {
	capacity   uint64
	_length    atomic.Uint64
	first      uint64
	last       uint64
	ring       []ChannelMessage
	closed     bool
	unfinished uint64

	lock       sync.Mutex
	notEmptyCh chan struct{}
	drainedCh  chan struct{}
}

func newMessageQueue(initialSize uint64) *messageQueue {
	if initialSize == 0 {
		initialSize = defaultQueueCapacity
	}
	queue := &messageQueue{
		capacity:   initialSize,
		ring:       make([]ChannelMessage, initialSize),
		notEmptyCh: make(chan struct{}),
		drainedCh:  make(chan struct{}),
	}
	close(queue.drainedCh)
	return queue
}

func (queue *messageQueue) notifyNotEmptyLocked() {
	close(queue.notEmptyCh)
	queue.notEmptyCh = make(chan struct{})
}

func (queue *messageQueue) length() uint64 {
	return queue._length.Load()
}

// enqueue never blocks. It reports false once the queue is closed.
func (queue *messageQueue) enqueue(message ChannelMessage) bool {
	queue.lock.Lock()
	defer queue.lock.Unlock()
	if queue.closed {
		return false
	}

	if queue.capacity == queue._length.Load() {
		queue.resize()
	}

	if queue._length.Load() != 0 {
		queue.last = (queue.last + 1) % queue.capacity
	}
	queue.ring[queue.last] = message
	queue._length.Add(1)

	if queue.unfinished == 0 {
		queue.drainedCh = make(chan struct{})
	}
	queue.unfinished++
	queue.notifyNotEmptyLocked()
	return true
}

func (queue *messageQueue) dequeueLocked() ChannelMessage {
	message := queue.ring[queue.first]
	queue.ring[queue.first] = ChannelMessage{}
	queue._length.Add(^uint64(0))

	if queue._length.Load() > 0 {
		queue.first = (queue.first + 1) % queue.capacity
	} else {
		queue.first = 0
		queue.last = 0
	}

	return message
}

// waitDequeue blocks until a message is available, the queue is closed, or ctx is done. A
// done ctx wins over queued messages.
func (queue *messageQueue) waitDequeue(ctx context.Context) (ChannelMessage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return ChannelMessage{}, err
		}
		queue.lock.Lock()
		if queue._length.Load() > 0 {
			message := queue.dequeueLocked()
			queue.lock.Unlock()
			return message, nil
		}
		if queue.closed {
			queue.lock.Unlock()
			return ChannelMessage{}, ErrClientClosed
		}
		waitCh := queue.notEmptyCh
		queue.lock.Unlock()

		select {
		case <-waitCh:
		case <-ctx.Done():
			return ChannelMessage{}, ctx.Err()
		}
	}
}

// taskDone acknowledges one dequeued message.
func (queue *messageQueue) taskDone() {
	queue.lock.Lock()
	defer queue.lock.Unlock()
	if queue.unfinished == 0 {
		return
	}
	queue.unfinished--
	if queue.unfinished == 0 {
		close(queue.drainedCh)
	}
}

// join blocks until every message still owed a taskDone has been acknowledged or ctx is done.
func (queue *messageQueue) join(ctx context.Context) error {
	queue.lock.Lock()
	drained := queue.drainedCh
	queue.lock.Unlock()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close wakes all waiters and rejects further enqueues. Pending messages are abandoned;
// messages already dequeued still hold join until they are acknowledged.
func (queue *messageQueue) close() {
	queue.lock.Lock()
	defer queue.lock.Unlock()
	if queue.closed {
		return
	}
	queue.closed = true
	dropped := queue._length.Load()
	queue.first = 0
	queue.last = 0
	queue._length.Store(0)
	queue.ring = make([]ChannelMessage, queue.capacity)
	if dropped > 0 && queue.unfinished > 0 {
		queue.unfinished -= min(dropped, queue.unfinished)
		if queue.unfinished == 0 {
			close(queue.drainedCh)
		}
	}
	queue.notifyNotEmptyLocked()
}

func (queue *messageQueue) resize() {
	newRing := make([]ChannelMessage, queue.capacity*2)

	currentLength := queue._length.Load()
	i, j := queue.first, uint64(0)
	for ; j < currentLength; j++ {
		newRing[j] = queue.ring[i]
		i = (i + 1) % queue.capacity
	}

	queue.ring = newRing
	queue.first = 0
	if j > 0 {
		queue.last = j - 1
	} else {
		queue.last = 0
	}

	queue.capacity *= 2
}
