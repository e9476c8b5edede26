package ragged

import (
	"github.com/pkg/errors"

	"github.com/tensormesh/ragged/srcs/go/backend"
	"github.com/tensormesh/ragged/srcs/go/base"
)

// metadata is one invocation's snapshot of the four ragged metadata arrays,
// indexed by peer*updatesPerRank + localUpdate. The views alias the host
// scratch buffers and are read-only after loading.
type metadata struct {
	inputOffsets  []int64
	sendSizes     []int64
	outputOffsets []int64
	recvSizes     []int64
}

// loadMetadata copies the metadata operands (slots 2..5) from device memory
// into the host scratch buffers and blocks until the copies are done. On
// failure the whole snapshot is invalid; no partial state is kept.
func loadMetadata(stream backend.Stream, buffers []base.DeviceBufferPair, hostBufs []*base.HostBuffer) (metadata, error) {
	for i := 0; i < NumMetadataOperands; i++ {
		src := buffers[OperandInputOffsets+i].Source
		if err := stream.MemcpyD2H(hostBufs[i].Data[:src.Size()], src); err != nil {
			return metadata{}, err
		}
	}
	if err := stream.BlockHostUntilDone(); err != nil {
		return metadata{}, errors.Wrapf(err, "failed to complete all operations launched on %s", stream)
	}
	return metadata{
		inputOffsets:  hostBufs[0].AsI64(),
		sendSizes:     hostBufs[1].AsI64(),
		outputOffsets: hostBufs[2].AsI64(),
		recvSizes:     hostBufs[3].AsI64(),
	}, nil
}
