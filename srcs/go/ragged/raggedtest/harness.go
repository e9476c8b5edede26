// Package raggedtest builds in-process clusters and ragged-all-to-all
// scenarios on the sim backend, for tests and benchmarks.
package raggedtest

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/tensormesh/ragged/srcs/go/backend"
	"github.com/tensormesh/ragged/srcs/go/backend/sim"
	"github.com/tensormesh/ragged/srcs/go/base"
	"github.com/tensormesh/ragged/srcs/go/execution"
	"github.com/tensormesh/ragged/srcs/go/plan"
	"github.com/tensormesh/ragged/srcs/go/ragged"
	"github.com/tensormesh/ragged/srcs/go/rendezvous"
)

// Cluster is a set of simulated devices on one host, wired to one fabric and
// one rendezvous registry.
type Cluster struct {
	Fabric   *sim.Fabric
	Registry *rendezvous.Registry
	Execs    []*sim.Executor
	Streams  []*sim.Stream
	Clique   plan.CliqueKey
	Comms    []*sim.Communicator
}

func NewCluster(n int, memPerDevice int) *Cluster {
	c := &Cluster{
		Fabric:   sim.NewFabric(),
		Registry: rendezvous.NewRegistry(),
	}
	var devices plan.DeviceList
	for i := 0; i < n; i++ {
		devices = append(devices, plan.DeviceID(i))
	}
	c.Clique = plan.CliqueKey{Devices: devices}
	for i := 0; i < n; i++ {
		exec := sim.NewExecutor(i, memPerDevice)
		c.Execs = append(c.Execs, exec)
		c.Streams = append(c.Streams, exec.NewStream())
		c.Comms = append(c.Comms, c.Fabric.Communicator(c.Clique, i))
	}
	return c
}

func (c *Cluster) Size() int {
	return len(c.Execs)
}

// Scenario describes one ragged-all-to-all invocation: per-rank input
// payloads plus the four metadata arrays of each rank, all in the
// sender-relative encoding of the instruction.
type Scenario struct {
	NumRanks       int
	UpdatesPerRank int
	RowElems       int
	Type           base.DataType
	InputRows      int
	OutputRows     int

	Inputs        [][]byte
	InputOffsets  [][]int64
	SendSizes     [][]int64
	OutputOffsets [][]int64
	RecvSizes     [][]int64
}

func (s *Scenario) TotalUpdates() int {
	return s.NumRanks * s.UpdatesPerRank
}

func (s *Scenario) rowBytes() int {
	return s.RowElems * s.Type.Size()
}

// Swap is the minimal two-rank scenario: one update each, one row of one
// element, each rank's row landing at offset 0 of the other rank's output.
func Swap() *Scenario {
	s := &Scenario{
		NumRanks:       2,
		UpdatesPerRank: 1,
		RowElems:       1,
		Type:           base.U8,
		InputRows:      1,
		OutputRows:     1,
		Inputs:         [][]byte{{10}, {20}},
		InputOffsets:   [][]int64{{0, 0}, {0, 0}},
		SendSizes:      [][]int64{{1, 1}, {1, 1}},
		OutputOffsets:  [][]int64{{0, 0}, {0, 0}},
		RecvSizes:      [][]int64{{1, 1}, {1, 1}},
	}
	return s
}

// Random generates a consistent scenario: every (sender, receiver, update)
// triple gets a row count in [0, maxRows], receiver ranges are disjoint, and
// recv sizes mirror the matching send sizes.
func Random(rng *rand.Rand, nranks, updatesPerRank, rowElems, maxRows int, dtype base.DataType) *Scenario {
	s := &Scenario{
		NumRanks:       nranks,
		UpdatesPerRank: updatesPerRank,
		RowElems:       rowElems,
		Type:           dtype,
	}
	total := s.TotalUpdates()
	for r := 0; r < nranks; r++ {
		s.InputOffsets = append(s.InputOffsets, make([]int64, total))
		s.SendSizes = append(s.SendSizes, make([]int64, total))
		s.OutputOffsets = append(s.OutputOffsets, make([]int64, total))
		s.RecvSizes = append(s.RecvSizes, make([]int64, total))
	}

	sizes := make([][][]int64, nranks)
	for snd := range sizes {
		sizes[snd] = make([][]int64, nranks)
		for rcv := range sizes[snd] {
			sizes[snd][rcv] = make([]int64, updatesPerRank)
			for i := range sizes[snd][rcv] {
				sizes[snd][rcv][i] = int64(rng.Intn(maxRows + 1))
			}
		}
	}

	// Sender-side layout: input rows packed in (receiver, update) order.
	for snd := 0; snd < nranks; snd++ {
		var srcRow int64
		for rcv := 0; rcv < nranks; rcv++ {
			for i := 0; i < updatesPerRank; i++ {
				idx := rcv*updatesPerRank + i
				s.InputOffsets[snd][idx] = srcRow
				s.SendSizes[snd][idx] = sizes[snd][rcv][i]
				srcRow += sizes[snd][rcv][i]
			}
		}
		if int(srcRow) > s.InputRows {
			s.InputRows = int(srcRow)
		}
	}

	// Receiver-side layout: output rows packed in (sender, update) order,
	// so destination ranges never overlap.
	for rcv := 0; rcv < nranks; rcv++ {
		var dstRow int64
		for snd := 0; snd < nranks; snd++ {
			for i := 0; i < updatesPerRank; i++ {
				idx := rcv*updatesPerRank + i
				s.OutputOffsets[snd][idx] = dstRow
				s.RecvSizes[rcv][snd*updatesPerRank+i] = sizes[snd][rcv][i]
				dstRow += sizes[snd][rcv][i]
			}
		}
		if int(dstRow) > s.OutputRows {
			s.OutputRows = int(dstRow)
		}
	}
	if s.InputRows == 0 {
		s.InputRows = 1
	}
	if s.OutputRows == 0 {
		s.OutputRows = 1
	}

	for r := 0; r < nranks; r++ {
		buf := make([]byte, s.InputRows*s.rowBytes())
		rng.Read(buf)
		s.Inputs = append(s.Inputs, buf)
	}
	return s
}

// ExpectedOutputs computes the reference result of the scenario: what every
// rank's output buffer must contain after the collective.
func (s *Scenario) ExpectedOutputs() [][]byte {
	rb := s.rowBytes()
	outs := make([][]byte, s.NumRanks)
	for r := range outs {
		outs[r] = make([]byte, s.OutputRows*rb)
	}
	for snd := 0; snd < s.NumRanks; snd++ {
		for rcv := 0; rcv < s.NumRanks; rcv++ {
			for i := 0; i < s.UpdatesPerRank; i++ {
				idx := rcv*s.UpdatesPerRank + i
				n := int(s.SendSizes[snd][idx]) * rb
				src := int(s.InputOffsets[snd][idx]) * rb
				dst := int(s.OutputOffsets[snd][idx]) * rb
				copy(outs[rcv][dst:dst+n], s.Inputs[snd][src:src+n])
			}
		}
	}
	return outs
}

// Operation builds the compiler-form description of the scenario.
func (s *Scenario) Operation(groups []plan.ReplicaGroup) ragged.Operation {
	total := s.TotalUpdates()
	return ragged.Operation{
		OperandShapes: []base.Shape{
			base.NewShape(s.Type, s.InputRows, s.RowElems),
			base.NewShape(s.Type, s.OutputRows, s.RowElems),
			base.NewShape(base.I64, total),
			base.NewShape(base.I64, total),
			base.NewShape(base.I64, total),
			base.NewShape(base.I64, total),
		},
		ResultShape:   base.NewShape(s.Type, s.OutputRows, s.RowElems),
		ReplicaGroups: groups,
	}
}

// Buffers builds the operand slice descriptors: allocation i holds operand i
// in full.
func (s *Scenario) Buffers() []ragged.Buffer {
	total := s.TotalUpdates()
	sizes := []int{
		s.InputRows * s.rowBytes(),
		s.OutputRows * s.rowBytes(),
		total * 8,
		total * 8,
		total * 8,
		total * 8,
	}
	buffers := make([]ragged.Buffer, len(sizes))
	for i, n := range sizes {
		buffers[i] = ragged.Buffer{Source: backend.BufferSlice{Index: i, Offset: 0, Size: n}}
	}
	buffers[ragged.OperandOutput].Destination = buffers[ragged.OperandOutput].Source
	return buffers
}

// Materialize allocates and fills the operand buffers of one rank.
func (s *Scenario) Materialize(exec *sim.Executor, rank int) (backend.BufferAllocations, error) {
	total := s.TotalUpdates()
	allocs := make(backend.BufferAllocations, ragged.NumOperands)
	sizes := []int{
		s.InputRows * s.rowBytes(),
		s.OutputRows * s.rowBytes(),
		total * 8, total * 8, total * 8, total * 8,
	}
	for i, n := range sizes {
		mem := exec.Allocate(n)
		if mem.IsNull() {
			return nil, errors.Errorf("device %d: out of memory for operand %d", rank, i)
		}
		allocs[i] = mem
	}
	copy(allocs[ragged.OperandInput].Data, s.Inputs[rank])
	for slot, arr := range map[int][]int64{
		ragged.OperandInputOffsets:  s.InputOffsets[rank],
		ragged.OperandSendSizes:     s.SendSizes[rank],
		ragged.OperandOutputOffsets: s.OutputOffsets[rank],
		ragged.OperandRecvSizes:     s.RecvSizes[rank],
	} {
		view := (&base.HostBuffer{Data: allocs[slot].Data}).AsI64()
		copy(view, arr)
	}
	return allocs, nil
}

// Run drives the whole scenario on the cluster with one host thread per rank
// and returns each rank's output buffer contents.
func Run(c *Cluster, s *Scenario, memcpyEnabled bool) ([][]byte, error) {
	thunk, err := ragged.New(s.Operation([]plan.ReplicaGroup{c.Clique.Devices}), s.Buffers(), memcpyEnabled, c.Registry)
	if err != nil {
		return nil, err
	}
	allocs := make([]backend.BufferAllocations, c.Size())
	for rank := range allocs {
		if allocs[rank], err = s.Materialize(c.Execs[rank], rank); err != nil {
			return nil, err
		}
	}
	err = execution.Par(c.Size(), func(rank int) error {
		if err := thunk.Initialize(ragged.InitializeParams{
			Executor:         c.Execs[rank],
			LocalDeviceCount: c.Size(),
		}); err != nil {
			return err
		}
		if err := thunk.Execute(ragged.ExecuteParams{
			Stream:      c.Streams[rank],
			Comm:        c.Comms[rank],
			Allocations: allocs[rank],
			Device:      plan.DeviceID(rank),
		}); err != nil {
			return err
		}
		return c.Streams[rank].BlockHostUntilDone()
	})
	if err != nil {
		return nil, err
	}
	outs := make([][]byte, c.Size())
	for rank := range outs {
		outs[rank] = append([]byte(nil), allocs[rank][ragged.OperandOutput].Data...)
	}
	return outs, nil
}
