package ragged

import (
	"k8s.io/klog/v2"

	"github.com/tensormesh/ragged/srcs/go/backend"
	"github.com/tensormesh/ragged/srcs/go/base"
)

// runNetwork exchanges the ragged row chunks through the collective backend
// with paired send/recv operations, batched as one group. The call returns
// once the group is closed; completion is observed through the stream.
func runNetwork(cfg Config, buffers []base.DeviceBufferPair, stream backend.Stream,
	comm backend.Communicator, hostBufs []*base.HostBuffer, offsetScratch base.DeviceMemory) error {
	klog.V(3).Infof("performing ragged-all-to-all on device %d", stream.Executor().DeviceOrdinal())

	nranks, err := comm.NumRanks()
	if err != nil {
		return err
	}
	updatesPerRank := cfg.NumTotalUpdates / nranks

	// Rewrite the output-offsets operand to be receiver-relative before
	// loading the metadata snapshot.
	offsetsPair := &buffers[OperandOutputOffsets]
	if err := redistributeIndexBuffer(offsetsPair.Source, offsetScratch, updatesPerRank,
		offsetsPair.Type, stream, comm); err != nil {
		return err
	}
	offsetsPair.Source = offsetScratch

	md, err := loadMetadata(stream, buffers, hostBufs)
	if err != nil {
		return err
	}

	etype := buffers[OperandInput].Type
	rowElems := cfg.RaggedRowElementSize
	input := buffers[OperandInput].Source
	output := buffers[OperandOutput].Destination

	if err := comm.GroupStart(); err != nil {
		return err
	}
	for i := 0; i < updatesPerRank; i++ {
		for peer := 0; peer < nranks; peer++ {
			idx := peer*updatesPerRank + i
			sendSlice := input.Slice(etype, int(md.inputOffsets[idx])*rowElems, int(md.sendSizes[idx])*rowElems)
			recvSlice := output.Slice(etype, int(md.outputOffsets[idx])*rowElems, int(md.recvSizes[idx])*rowElems)
			if err := comm.Send(sendSlice, etype, int(md.sendSizes[idx])*rowElems, peer, stream); err != nil {
				return err
			}
			if err := comm.Recv(recvSlice, etype, int(md.recvSizes[idx])*rowElems, peer, stream); err != nil {
				return err
			}
		}
	}
	return comm.GroupEnd()
}
