package ragged

import (
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/tensormesh/ragged/srcs/go/backend"
	"github.com/tensormesh/ragged/srcs/go/base"
	"github.com/tensormesh/ragged/srcs/go/plan"
	"github.com/tensormesh/ragged/srcs/go/rendezvous"
)

// Buffer names the source and destination slices of one operand. The runtime
// resolves them against the buffer allocations of each invocation.
type Buffer struct {
	Source      backend.BufferSlice
	Destination backend.BufferSlice
}

// Thunk is the schedulable unit for one ragged-all-to-all operation. One
// instance is shared by every local device participating in the operation;
// Initialize and Execute are called once per device, on that device's host
// thread.
type Thunk struct {
	config           Config
	buffers          []Buffer
	p2pMemcpyEnabled bool
	rendezvous       *rendezvous.Registry

	deviceCount atomic.Int32

	mu            sync.Mutex
	hostAllocs    map[backend.Executor][]backend.HostAllocation
	deviceScratch map[backend.Executor]base.DeviceMemory

	eventsMu    sync.Mutex
	startEvents map[backend.Executor]backend.Event
	endEvents   map[backend.Executor]backend.Event
}

// InitializeParams carries the per-device context of one Initialize call.
type InitializeParams struct {
	Executor         backend.Executor
	LocalDeviceCount int
}

// ExecuteParams carries the per-device context of one Execute call.
type ExecuteParams struct {
	Stream      backend.Stream
	Comm        backend.Communicator
	Allocations backend.BufferAllocations
	Device      plan.DeviceID
}

// New validates the operation and builds the thunk. Configuration problems
// surface here, not at execution time.
func New(op Operation, buffers []Buffer, p2pMemcpyEnabled bool, reg *rendezvous.Registry) (*Thunk, error) {
	if err := CheckImplementable(op); err != nil {
		return nil, err
	}
	if len(buffers) != len(op.OperandShapes) {
		return nil, errors.Errorf("operand count mismatch: %d shapes, %d buffers", len(op.OperandShapes), len(buffers))
	}
	t := &Thunk{
		config:           newConfig(op),
		buffers:          buffers,
		p2pMemcpyEnabled: p2pMemcpyEnabled,
		rendezvous:       reg,
		hostAllocs:       make(map[backend.Executor][]backend.HostAllocation),
		deviceScratch:    make(map[backend.Executor]base.DeviceMemory),
		startEvents:      make(map[backend.Executor]backend.Event),
		endEvents:        make(map[backend.Executor]backend.Event),
	}
	t.deviceCount.Store(-1)
	return t, nil
}

func (t *Thunk) Config() Config {
	return t.config
}

// shouldUseMemcpy gates the local-copy transport: it must be enabled and
// every replica group must be confined to one host.
func (t *Thunk) shouldUseMemcpy() bool {
	dc := int(t.deviceCount.Load())
	if !t.p2pMemcpyEnabled || dc <= 0 {
		return false
	}
	topo := plan.Topology{
		ReplicaGroups:    t.config.Collective.ReplicaGroups,
		LocalDeviceCount: dc,
	}
	return topo.SingleHost()
}

// Initialize lazily builds the resource pool of one executor: four pinned
// host buffers for the metadata snapshot, one device scratch buffer for the
// offset redistribution, and the start/end events of the local-copy path.
// It is idempotent per executor.
func (t *Thunk) Initialize(params InitializeParams) error {
	exec := params.Executor
	t.deviceCount.Store(int32(params.LocalDeviceCount))
	t.mu.Lock()
	scratchBytes := t.config.NumTotalUpdates * 8
	if _, ok := t.hostAllocs[exec]; !ok {
		allocs := make([]backend.HostAllocation, 0, NumMetadataOperands)
		for i := 0; i < NumMetadataOperands; i++ {
			a, err := exec.AllocateHost(scratchBytes)
			if err != nil {
				t.mu.Unlock()
				return errors.Wrapf(err, "failed to allocate metadata host buffer on device %d", exec.DeviceOrdinal())
			}
			allocs = append(allocs, a)
		}
		t.hostAllocs[exec] = allocs
		klog.V(3).Infof("ragged-all-to-all: allocated %d x %s host scratch on device %d",
			NumMetadataOperands, humanize.IBytes(uint64(scratchBytes)), exec.DeviceOrdinal())
	}
	if _, ok := t.deviceScratch[exec]; !ok {
		mem := exec.Allocate(scratchBytes)
		if mem.IsNull() {
			t.mu.Unlock()
			return errors.Errorf("failed to allocate output offsets scratch buffer on device %d", exec.DeviceOrdinal())
		}
		t.deviceScratch[exec] = mem
	}
	t.mu.Unlock()

	if t.shouldUseMemcpy() {
		t.eventsMu.Lock()
		defer t.eventsMu.Unlock()
		if _, ok := t.startEvents[exec]; !ok {
			e, err := exec.CreateEvent()
			if err != nil {
				return errors.Wrapf(err, "failed to create start event on device %d", exec.DeviceOrdinal())
			}
			t.startEvents[exec] = e
		}
		if _, ok := t.endEvents[exec]; !ok {
			e, err := exec.CreateEvent()
			if err != nil {
				return errors.Wrapf(err, "failed to create end event on device %d", exec.DeviceOrdinal())
			}
			t.endEvents[exec] = e
		}
	}
	return nil
}

// Execute runs one invocation for one device. It returns once the metadata
// phase is host-complete and the transport phase is enqueued and its group
// closed; transport completion is observed through the stream.
func (t *Thunk) Execute(params ExecuteParams) error {
	exec := params.Stream.Executor()

	buffers, err := t.resolveBuffers(params.Allocations)
	if err != nil {
		return err
	}

	t.mu.Lock()
	hostAllocs, ok := t.hostAllocs[exec]
	if !ok {
		t.mu.Unlock()
		return errors.Errorf("ragged-all-to-all not initialized for device %d", exec.DeviceOrdinal())
	}
	offsetScratch := t.deviceScratch[exec]
	t.mu.Unlock()

	hostBufs := make([]*base.HostBuffer, NumMetadataOperands)
	for i, a := range hostAllocs {
		hostBufs[i] = a.Buffer()
	}

	clique, rank, err := t.config.cliqueFor(params.Device)
	if err != nil {
		return err
	}

	if t.shouldUseMemcpy() {
		t.eventsMu.Lock()
		startEvent := t.startEvents[exec]
		endEvent := t.endEvents[exec]
		t.eventsMu.Unlock()
		return runMemcpy(t.config, clique, rank, buffers, params.Stream, params.Comm,
			hostBufs, startEvent, endEvent, t.rendezvous)
	}
	return runNetwork(t.config, buffers, params.Stream, params.Comm, hostBufs, offsetScratch)
}

func (t *Thunk) resolveBuffers(allocations backend.BufferAllocations) ([]base.DeviceBufferPair, error) {
	pairs := make([]base.DeviceBufferPair, len(t.buffers))
	for i, b := range t.buffers {
		src, err := allocations.Resolve(b.Source)
		if err != nil {
			return nil, errors.Wrapf(err, "operand %d source", i)
		}
		dst := src
		if b.Destination.Size > 0 {
			if dst, err = allocations.Resolve(b.Destination); err != nil {
				return nil, errors.Wrapf(err, "operand %d destination", i)
			}
		}
		pairs[i] = base.DeviceBufferPair{
			Source:      src,
			Destination: dst,
			Type:        t.config.Collective.OperandTypes[i],
		}
	}
	return pairs, nil
}
