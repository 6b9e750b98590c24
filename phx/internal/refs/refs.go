// Package refs generates correlation references for outgoing channel messages.
package refs

import (
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Generator returns a fresh reference for a message carrying event.
type Generator interface {
	Next(event string) string
}

// Sequencer hands out increasing decimal references, the scheme used by the Phoenix
// JavaScript client.
type Sequencer struct {
	next uint64
}

func NewSequencer(start uint64) *Sequencer {
	return &Sequencer{next: start}
}

func (sequencer *Sequencer) Next(string) string {
	if sequencer == nil {
		return "0"
	}
	return strconv.FormatUint(atomic.AddUint64(&sequencer.next, 1)-1, 10)
}

// UUID hands out random version 4 UUID references.
type UUID struct{}

func (UUID) Next(string) string {
	return uuid.NewString()
}

// Session prefixes sequence numbers with a per-process session id, so references stay
// unique across client instances sharing a server log.
type Session struct {
	id       string
	sequence Sequencer
}

func NewSession() *Session {
	return &Session{id: uuid.NewString(), sequence: Sequencer{next: 1}}
}

func (session *Session) ID() string { return session.id }

func (session *Session) Next(event string) string {
	return session.id + ":" + session.sequence.Next(event)
}

// Timestamped hands out "<UTC yyyymmddHHMMSS>:<event>" references. Two messages for the same
// event within one second share a reference.
type Timestamped struct {
	// Now defaults to time.Now.
	Now func() time.Time
}

func (generator Timestamped) Next(event string) string {
	now := time.Now
	if generator.Now != nil {
		now = generator.Now
	}
	return now().UTC().Format("20060102150405") + ":" + event
}
