package ragged

import (
	"github.com/tensormesh/ragged/srcs/go/backend"
	"github.com/tensormesh/ragged/srcs/go/base"
)

// redistributeIndexBuffer runs a uniform all-to-all over an index array.
//
// The output-offsets operand arrives sender-relative: entry i is an offset
// into the i-th peer's output buffer. The transports need receiver-relative
// offsets into the local buffer, so the array is itself exchanged once, in
// fixed chunks of updatesPerRank entries per peer, before the main transfer.
func redistributeIndexBuffer(src, dst base.DeviceMemory, updatesPerRank int, dtype base.DataType,
	stream backend.Stream, comm backend.Communicator) error {
	nranks, err := comm.NumRanks()
	if err != nil {
		return err
	}
	if err := comm.GroupStart(); err != nil {
		return err
	}
	for peer := 0; peer < nranks; peer++ {
		offset := peer * updatesPerRank
		sendSlice := src.Slice(dtype, offset, updatesPerRank)
		recvSlice := dst.Slice(dtype, offset, updatesPerRank)
		if err := comm.Send(sendSlice, dtype, updatesPerRank, peer, stream); err != nil {
			return err
		}
		if err := comm.Recv(recvSlice, dtype, updatesPerRank, peer, stream); err != nil {
			return err
		}
	}
	if err := comm.GroupEnd(); err != nil {
		return err
	}
	return stream.BlockHostUntilDone()
}
