package sim

import (
	"sync"
	"sync/atomic"
)

// Event follows device event semantics: each record supersedes the previous
// one, and a stream wait enqueued after a record blocks until that record has
// executed. Waiting on a never-recorded event completes immediately.
type Event struct {
	id string

	// enqueuedSeq counts record operations enqueued on any stream;
	// firedSeq counts those that have executed.
	enqueuedSeq uint64

	mu       sync.Mutex
	cond     *sync.Cond
	firedSeq uint64
}

func newEvent(id string) *Event {
	e := &Event{id: id}
	e.cond = sync.NewCond(&e.mu)
	return e
}

func (e *Event) String() string { return e.id }

// nextSeq reserves the sequence number for a record being enqueued.
func (e *Event) nextSeq() uint64 {
	return atomic.AddUint64(&e.enqueuedSeq, 1)
}

// lastSeq is the sequence a wait enqueued now must observe.
func (e *Event) lastSeq() uint64 {
	return atomic.LoadUint64(&e.enqueuedSeq)
}

func (e *Event) fire(seq uint64) {
	e.mu.Lock()
	if seq > e.firedSeq {
		e.firedSeq = seq
	}
	e.mu.Unlock()
	e.cond.Broadcast()
}

func (e *Event) await(seq uint64) {
	e.mu.Lock()
	for e.firedSeq < seq {
		e.cond.Wait()
	}
	e.mu.Unlock()
}
