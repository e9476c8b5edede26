package backend

import (
	"github.com/pkg/errors"

	"github.com/tensormesh/ragged/srcs/go/base"
)

// BufferSlice names a byte range inside a numbered buffer allocation. Operand
// descriptors are expressed as slices and resolved against the allocations of
// one invocation.
type BufferSlice struct {
	Index  int
	Offset int
	Size   int
}

// BufferAllocations is the set of device allocations live during one
// invocation, indexed by allocation number.
type BufferAllocations []base.DeviceMemory

func (ba BufferAllocations) Resolve(s BufferSlice) (base.DeviceMemory, error) {
	if s.Index < 0 || s.Index >= len(ba) {
		return base.DeviceMemory{}, errors.Errorf("buffer allocation #%d out of range (have %d)", s.Index, len(ba))
	}
	mem := ba[s.Index]
	if s.Offset+s.Size > mem.Size() {
		return base.DeviceMemory{}, errors.Errorf("slice [%d:%d) exceeds allocation #%d of %d bytes",
			s.Offset, s.Offset+s.Size, s.Index, mem.Size())
	}
	return base.DeviceMemory{Data: mem.Data[s.Offset : s.Offset+s.Size]}, nil
}
