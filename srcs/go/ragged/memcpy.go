package ragged

import (
	"sort"

	"k8s.io/klog/v2"

	"github.com/tensormesh/ragged/srcs/go/backend"
	"github.com/tensormesh/ragged/srcs/go/base"
	"github.com/tensormesh/ragged/srcs/go/plan"
	"github.com/tensormesh/ragged/srcs/go/rendezvous"
)

// rendezvousRecord is exchanged among co-located participants at the start of
// the local-copy transport. It lives for one invocation only.
type rendezvousRecord struct {
	rank       int
	output     base.DeviceMemory
	startEvent backend.Event
	endEvent   backend.Event
}

const (
	startRendezvousName  = "start memcpy ragged-all-to-all"
	finishRendezvousName = "finish memcpy ragged-all-to-all"
)

// runMemcpy redistributes the row chunks among devices of one host without
// touching the network stack: each participant writes its chunks directly
// into its peers' output buffers with device-to-device copies.
//
// The start event of each device gates peer writes on the device's output
// buffer being ready; the end event gates each device's reads on all writes
// targeting its buffer having been issued. Both events are recorded before
// the corresponding barrier so that no participant can wait for an event
// that has not been enqueued yet.
func runMemcpy(cfg Config, clique plan.CliqueKey, rank int, buffers []base.DeviceBufferPair,
	stream backend.Stream, comm backend.Communicator, hostBufs []*base.HostBuffer,
	startEvent, endEvent backend.Event, reg *rendezvous.Registry) error {
	klog.V(3).Infof("performing memcpy ragged-all-to-all on device %d", stream.Executor().DeviceOrdinal())

	nranks, err := comm.NumRanks()
	if err != nil {
		return err
	}
	updatesPerRank := cfg.NumTotalUpdates / nranks

	md, err := loadMetadata(stream, buffers, hostBufs)
	if err != nil {
		return err
	}

	etype := buffers[OperandInput].Type
	rowElems := cfg.RaggedRowElementSize
	input := buffers[OperandInput].Source
	output := buffers[OperandOutput].Destination

	record := rendezvousRecord{
		rank:       rank,
		output:     output,
		startEvent: startEvent,
		endEvent:   endEvent,
	}

	// The rank's own chunks are copied before the start event is recorded:
	// peer writes are gated on that event, so data from a remote peer always
	// lands after the local loopback data.
	for i := 0; i < updatesPerRank; i++ {
		idx := rank*updatesPerRank + i
		sendSlice := input.Slice(etype, int(md.inputOffsets[idx])*rowElems, int(md.sendSizes[idx])*rowElems)
		dstSlice := output.Slice(etype, int(md.outputOffsets[idx])*rowElems, int(md.sendSizes[idx])*rowElems)
		if err := stream.MemcpyD2D(dstSlice, sendSlice); err != nil {
			return err
		}
	}

	// Record before the rendezvous so a peer's WaitForEvent can never be
	// enqueued ahead of this record.
	if err := stream.RecordEvent(startEvent); err != nil {
		return err
	}

	records, err := rendezvous.Exchange(reg, startRendezvousName, clique.String(), record, nranks)
	if err != nil {
		return err
	}
	// Order the records the way the clique orders its devices.
	sort.Slice(records, func(i, j int) bool { return records[i].rank < records[j].rank })

	// All output buffers must be ready before any write lands in them.
	for _, r := range records {
		if err := stream.WaitForEvent(r.startEvent); err != nil {
			return err
		}
	}

	// The local-copy path only accounts send sizes: the write lands in the
	// peer's buffer directly, so there is no separate receive bookkeeping.
	// The self copies were already issued above.
	for i := 0; i < updatesPerRank; i++ {
		for peer := 0; peer < nranks; peer++ {
			if peer == rank {
				continue
			}
			idx := peer*updatesPerRank + i
			sendSlice := input.Slice(etype, int(md.inputOffsets[idx])*rowElems, int(md.sendSizes[idx])*rowElems)
			dstSlice := records[peer].output.Slice(etype, int(md.outputOffsets[idx])*rowElems, int(md.sendSizes[idx])*rowElems)
			if err := stream.MemcpyD2D(dstSlice, sendSlice); err != nil {
				return err
			}
		}
	}

	if err := stream.RecordEvent(endEvent); err != nil {
		return err
	}

	// Sequence "record end event" before any "wait for end events".
	if err := rendezvous.Wait(reg, finishRendezvousName, clique.String(), nranks); err != nil {
		return err
	}

	// All writes targeting the local buffer are issued once every peer's
	// end event is reached.
	for _, r := range records {
		if err := stream.WaitForEvent(r.endEvent); err != nil {
			return err
		}
	}
	return nil
}
