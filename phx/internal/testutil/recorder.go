package testutil

import (
	"sync"
	"time"
)

// Recorder captures handler calls in the order they happened.
type Recorder struct {
	lock    sync.Mutex
	entries []string
	changed chan struct{}
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{changed: make(chan struct{})}
}

// Record appends entry.
func (recorder *Recorder) Record(entry string) {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	recorder.entries = append(recorder.entries, entry)
	close(recorder.changed)
	recorder.changed = make(chan struct{})
}

// Entries returns a copy of the recorded entries.
func (recorder *Recorder) Entries() []string {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	return append([]string(nil), recorder.entries...)
}

// Count returns how many times entry was recorded.
func (recorder *Recorder) Count(entry string) int {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	count := 0
	for _, recorded := range recorder.entries {
		if recorded == entry {
			count++
		}
	}
	return count
}

// WaitLen blocks until at least count entries were recorded or timeout elapses. It reports
// whether the count was reached.
func (recorder *Recorder) WaitLen(count int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		recorder.lock.Lock()
		if len(recorder.entries) >= count {
			recorder.lock.Unlock()
			return true
		}
		changed := recorder.changed
		recorder.lock.Unlock()

		select {
		case <-changed:
		case <-deadline.C:
			return false
		}
	}
}
