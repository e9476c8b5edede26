// Package backend declares the narrow contracts the ragged collective runtime
// consumes from a device platform: command streams, synchronization events,
// per-device allocation, and a point-to-point communicator. Implementations
// live elsewhere (srcs/go/backend/sim provides a software one for tests).
package backend

import (
	"github.com/tensormesh/ragged/srcs/go/base"
)

// Stream is a single in-order command queue on one device. Enqueue calls
// return once the operation is queued; completion is observed through
// BlockHostUntilDone or through events.
type Stream interface {
	// MemcpyD2H enqueues a device-to-host copy of len(dst) bytes.
	MemcpyD2H(dst []byte, src base.DeviceMemory) error
	// MemcpyD2D enqueues a device-to-device copy of src.Size() bytes.
	MemcpyD2D(dst, src base.DeviceMemory) error
	// RecordEvent enqueues a signal of e at the current stream position.
	RecordEvent(e Event) error
	// WaitForEvent stalls the stream until the most recently enqueued
	// record of e has executed. Waiting on a never-recorded event is a
	// no-op.
	WaitForEvent(e Event) error
	// BlockHostUntilDone blocks the calling thread until every previously
	// enqueued operation has executed, surfacing the first failure.
	BlockHostUntilDone() error
	Executor() Executor
	String() string
}

// Event is an opaque synchronization marker created by an Executor. Events
// are reusable: each RecordEvent supersedes the previous one.
type Event interface {
	String() string
}

// HostAllocation is a pinned host buffer owned by its executor.
type HostAllocation interface {
	Buffer() *base.HostBuffer
	Free()
}

// Executor represents one physical device.
type Executor interface {
	DeviceOrdinal() int
	// AllocateHost allocates n bytes of pinned host memory.
	AllocateHost(n int) (HostAllocation, error)
	// Allocate allocates n bytes of device memory, returning a null handle
	// on exhaustion.
	Allocate(n int) base.DeviceMemory
	CreateEvent() (Event, error)
}

// Communicator is one rank's endpoint of a collective clique. Send/Recv
// enqueue onto the given stream; GroupStart/GroupEnd bracket operations that
// the backend schedules as one unit.
type Communicator interface {
	NumRanks() (int, error)
	Rank() int
	Send(mem base.DeviceMemory, dtype base.DataType, count int, peer int, stream Stream) error
	Recv(mem base.DeviceMemory, dtype base.DataType, count int, peer int, stream Stream) error
	GroupStart() error
	GroupEnd() error
}
