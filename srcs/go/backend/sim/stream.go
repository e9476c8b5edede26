package sim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/tensormesh/ragged/srcs/go/backend"
	"github.com/tensormesh/ragged/srcs/go/base"
)

var errStreamClosed = errors.New("stream closed")

// Stream executes enqueued operations in submission order on its own
// goroutine. The first failing operation latches its error; every later
// operation is skipped and BlockHostUntilDone reports the latched error with
// the stream's identity.
type Stream struct {
	exec *Executor
	id   string

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func() error
	pending int
	err     error
	closed  bool
}

func (e *Executor) NewStream() *Stream {
	n := atomic.AddInt32(&e.streamCount, 1)
	s := &Stream{
		exec: e,
		id:   fmt.Sprintf("stream[d%d:%d]", e.ordinal, n),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

func (s *Stream) String() string { return s.id }

func (s *Stream) Executor() backend.Executor { return s.exec }

func (s *Stream) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 {
			if s.closed {
				s.mu.Unlock()
				return
			}
			s.cond.Wait()
		}
		op := s.queue[0]
		s.queue = s.queue[1:]
		skip := s.err != nil
		s.mu.Unlock()

		var err error
		if !skip {
			err = op()
		}

		s.mu.Lock()
		if err != nil && s.err == nil {
			s.err = err
		}
		s.pending--
		s.mu.Unlock()
		s.cond.Broadcast()
	}
}

func (s *Stream) enqueue(op func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Wrapf(errStreamClosed, "enqueue on %s", s.id)
	}
	s.queue = append(s.queue, op)
	s.pending++
	s.cond.Broadcast()
	return nil
}

// HostCallback enqueues an arbitrary host function at the current stream
// position, like a CUDA host function. Tests use it to inject controlled
// delays and faults.
func (s *Stream) HostCallback(f func() error) error {
	return s.enqueue(f)
}

func (s *Stream) MemcpyD2H(dst []byte, src base.DeviceMemory) error {
	return s.enqueue(func() error {
		if len(dst) != src.Size() {
			return errors.Errorf("d2h copy size mismatch: host %d, device %d", len(dst), src.Size())
		}
		copy(dst, src.Data)
		return nil
	})
}

func (s *Stream) MemcpyD2D(dst, src base.DeviceMemory) error {
	return s.enqueue(func() error {
		if dst.Size() < src.Size() {
			return errors.Errorf("d2d copy overflow: dst %d, src %d", dst.Size(), src.Size())
		}
		copy(dst.Data, src.Data)
		return nil
	})
}

func (s *Stream) RecordEvent(e backend.Event) error {
	ev, ok := e.(*Event)
	if !ok {
		return errors.Errorf("%s: foreign event %v", s.id, e)
	}
	seq := ev.nextSeq()
	return s.enqueue(func() error {
		ev.fire(seq)
		return nil
	})
}

func (s *Stream) WaitForEvent(e backend.Event) error {
	ev, ok := e.(*Event)
	if !ok {
		return errors.Errorf("%s: foreign event %v", s.id, e)
	}
	seq := ev.lastSeq()
	return s.enqueue(func() error {
		ev.await(seq)
		return nil
	})
}

func (s *Stream) BlockHostUntilDone() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.pending > 0 {
		s.cond.Wait()
	}
	if s.err != nil {
		return errors.Wrapf(s.err, "%s", s.id)
	}
	if s.closed {
		return errors.Wrapf(errStreamClosed, "%s", s.id)
	}
	return nil
}

// Close stops the stream. Operations not yet executed are dropped and any
// later enqueue or host wait fails.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	if s.err == nil {
		s.err = errStreamClosed
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}

var _ backend.Stream = &Stream{}
