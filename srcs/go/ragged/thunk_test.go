package ragged_test

import (
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensormesh/ragged/srcs/go/base"
	"github.com/tensormesh/ragged/srcs/go/plan"
	"github.com/tensormesh/ragged/srcs/go/ragged"
	"github.com/tensormesh/ragged/srcs/go/ragged/raggedtest"
)

const deviceMem = 16 << 20

func TestSwap(t *testing.T) {
	s := raggedtest.Swap()
	for _, memcpyEnabled := range []bool{false, true} {
		c := raggedtest.NewCluster(2, deviceMem)
		outs, err := raggedtest.Run(c, s, memcpyEnabled)
		require.NoError(t, err)
		assert.Equal(t, []byte{20}, outs[0], "memcpy=%v", memcpyEnabled)
		assert.Equal(t, []byte{10}, outs[1], "memcpy=%v", memcpyEnabled)
	}
}

func TestTransportsAgree(t *testing.T) {
	cases := []struct {
		nranks, updatesPerRank, rowElems int
		dtype                            base.DataType
	}{
		{2, 1, 1, base.U8},
		{2, 4, 3, base.F32},
		{4, 1, 2, base.F32}, // one update per participant
		{4, 3, 5, base.I64},
		{3, 2, 7, base.F16},
	}
	for _, c := range cases {
		c := c
		t.Run(fmt.Sprintf("r%d-u%d-e%d", c.nranks, c.updatesPerRank, c.rowElems), func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			s := raggedtest.Random(rng, c.nranks, c.updatesPerRank, c.rowElems, 4, c.dtype)
			want := s.ExpectedOutputs()

			netOuts, err := raggedtest.Run(raggedtest.NewCluster(c.nranks, deviceMem), s, false)
			require.NoError(t, err)
			memOuts, err := raggedtest.Run(raggedtest.NewCluster(c.nranks, deviceMem), s, true)
			require.NoError(t, err)

			for rank := 0; rank < c.nranks; rank++ {
				assert.Equal(t, want[rank], netOuts[rank], "network output of rank %d", rank)
				assert.Equal(t, netOuts[rank], memOuts[rank], "transports disagree at rank %d", rank)
			}
		})
	}
}

func TestF16Payload(t *testing.T) {
	s := raggedtest.Swap()
	s.Type = base.F16
	s.Inputs = make([][]byte, 2)
	for rank, x := range []float32{1.5, -3.25} {
		bits := base.F16Bits(x)
		s.Inputs[rank] = []byte{byte(bits), byte(bits >> 8)}
	}
	c := raggedtest.NewCluster(2, deviceMem)
	outs, err := raggedtest.Run(c, s, true)
	require.NoError(t, err)
	got0 := base.F16Value(uint16(outs[0][0]) | uint16(outs[0][1])<<8)
	got1 := base.F16Value(uint16(outs[1][0]) | uint16(outs[1][1])<<8)
	assert.Equal(t, float32(-3.25), got0)
	assert.Equal(t, float32(1.5), got1)
}

func TestInitializeIdempotent(t *testing.T) {
	s := raggedtest.Swap()
	c := raggedtest.NewCluster(2, deviceMem)
	thunk, err := ragged.New(s.Operation([]plan.ReplicaGroup{c.Clique.Devices}), s.Buffers(), true, c.Registry)
	require.NoError(t, err)

	params := ragged.InitializeParams{Executor: c.Execs[0], LocalDeviceCount: 2}
	require.NoError(t, thunk.Initialize(params))
	hostAllocs := c.Execs[0].HostAllocCount()
	deviceAllocs := c.Execs[0].DeviceAllocCount()
	events := c.Execs[0].EventCount()

	for i := 0; i < 3; i++ {
		require.NoError(t, thunk.Initialize(params))
	}
	assert.Equal(t, hostAllocs, c.Execs[0].HostAllocCount())
	assert.Equal(t, deviceAllocs, c.Execs[0].DeviceAllocCount())
	assert.Equal(t, events, c.Execs[0].EventCount())
}

func TestExecuteBeforeInitialize(t *testing.T) {
	s := raggedtest.Swap()
	c := raggedtest.NewCluster(2, deviceMem)
	thunk, err := ragged.New(s.Operation([]plan.ReplicaGroup{c.Clique.Devices}), s.Buffers(), false, c.Registry)
	require.NoError(t, err)
	allocs, err := s.Materialize(c.Execs[0], 0)
	require.NoError(t, err)
	err = thunk.Execute(ragged.ExecuteParams{
		Stream:      c.Streams[0],
		Comm:        c.Comms[0],
		Allocations: allocs,
		Device:      0,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}

func TestInitializeScratchExhaustion(t *testing.T) {
	s := raggedtest.Swap()
	c := raggedtest.NewCluster(2, deviceMem)
	thunk, err := ragged.New(s.Operation([]plan.ReplicaGroup{c.Clique.Devices}), s.Buffers(), false, c.Registry)
	require.NoError(t, err)

	// An executor with no device memory left cannot host the offsets
	// scratch buffer.
	starved := raggedtest.NewCluster(1, 0).Execs[0]
	err = thunk.Initialize(ragged.InitializeParams{Executor: starved, LocalDeviceCount: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output offsets scratch")
}

// An errored stream must surface as a transport error naming the stream, with
// the metadata snapshot discarded. A single-device group keeps the failure
// local so no peer is left hanging.
func TestErroredStreamTransportError(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	s := raggedtest.Random(rng, 1, 2, 1, 2, base.U8)
	c := raggedtest.NewCluster(1, deviceMem)
	thunk, err := ragged.New(s.Operation([]plan.ReplicaGroup{c.Clique.Devices}), s.Buffers(), false, c.Registry)
	require.NoError(t, err)
	require.NoError(t, thunk.Initialize(ragged.InitializeParams{Executor: c.Execs[0], LocalDeviceCount: 1}))
	allocs, err := s.Materialize(c.Execs[0], 0)
	require.NoError(t, err)

	c.Streams[0].Close()
	err = thunk.Execute(ragged.ExecuteParams{
		Stream:      c.Streams[0],
		Comm:        c.Comms[0],
		Allocations: allocs,
		Device:      0,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream[d0:")
}

// With the local-copy transport, a peer whose stream is stalled before its
// start-event record holds every participant back: results may only appear
// after the stall clears.
func TestMemcpyWaitsForDelayedPeer(t *testing.T) {
	s := raggedtest.Swap()
	c := raggedtest.NewCluster(2, deviceMem)

	gate := make(chan struct{})
	require.NoError(t, c.Streams[0].HostCallback(func() error {
		<-gate
		return nil
	}))

	outs := make(chan [][]byte, 1)
	errs := make(chan error, 1)
	var done int32
	go func() {
		o, err := raggedtest.Run(c, s, true)
		atomic.StoreInt32(&done, 1)
		outs <- o
		errs <- err
	}()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&done), "no participant may finish before the stalled peer signals")

	close(gate)
	gotOuts := <-outs
	require.NoError(t, <-errs)
	assert.Equal(t, [][]byte{{20}, {10}}, gotOuts)
}
