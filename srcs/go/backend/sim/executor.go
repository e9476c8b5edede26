// Package sim is a software implementation of the backend contracts: device
// memory is heap bytes, streams are FIFO op queues driven by one goroutine
// each, and the communicator matches send/recv pairs through in-process
// mailboxes. It exists so the collective runtime can be exercised without
// hardware.
package sim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"

	"github.com/tensormesh/ragged/srcs/go/backend"
	"github.com/tensormesh/ragged/srcs/go/base"
)

// Executor simulates one physical device with a bounded memory budget.
type Executor struct {
	ordinal  int
	capacity int

	mu        sync.Mutex
	used      int
	hostBytes int

	hostAllocs   int32
	deviceAllocs int32
	eventCount   int32
	streamCount  int32
}

func NewExecutor(ordinal, capacity int) *Executor {
	return &Executor{ordinal: ordinal, capacity: capacity}
}

func (e *Executor) DeviceOrdinal() int {
	return e.ordinal
}

func (e *Executor) Allocate(n int) base.DeviceMemory {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.used+n > e.capacity {
		klog.Warningf("device %d out of memory: want %s, %s free",
			e.ordinal, humanize.IBytes(uint64(n)), humanize.IBytes(uint64(e.capacity-e.used)))
		return base.DeviceMemory{}
	}
	e.used += n
	atomic.AddInt32(&e.deviceAllocs, 1)
	klog.V(4).Infof("device %d: allocated %s (%s in use)",
		e.ordinal, humanize.IBytes(uint64(n)), humanize.IBytes(uint64(e.used)))
	return base.DeviceMemory{Data: make([]byte, n)}
}

type hostAllocation struct {
	exec *Executor
	buf  *base.HostBuffer
}

func (a *hostAllocation) Buffer() *base.HostBuffer { return a.buf }

func (a *hostAllocation) Free() {
	a.exec.mu.Lock()
	a.exec.hostBytes -= len(a.buf.Data)
	a.exec.mu.Unlock()
}

func (e *Executor) AllocateHost(n int) (backend.HostAllocation, error) {
	e.mu.Lock()
	e.hostBytes += n
	e.mu.Unlock()
	atomic.AddInt32(&e.hostAllocs, 1)
	return &hostAllocation{exec: e, buf: base.NewHostBuffer(n)}, nil
}

func (e *Executor) CreateEvent() (backend.Event, error) {
	n := atomic.AddInt32(&e.eventCount, 1)
	return newEvent(fmt.Sprintf("event[d%d:%d]", e.ordinal, n)), nil
}

// HostAllocCount reports how many pinned host allocations were made. Tests
// use it to check initialization idempotence.
func (e *Executor) HostAllocCount() int {
	return int(atomic.LoadInt32(&e.hostAllocs))
}

// DeviceAllocCount reports how many device allocations were made.
func (e *Executor) DeviceAllocCount() int {
	return int(atomic.LoadInt32(&e.deviceAllocs))
}

// EventCount reports how many events were created.
func (e *Executor) EventCount() int {
	return int(atomic.LoadInt32(&e.eventCount))
}

var _ backend.Executor = &Executor{}
