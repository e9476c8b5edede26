package base

import (
	"unsafe"
)

// HostBuffer is a pinned host memory region used to stage small control data
// copied off the device.
type HostBuffer struct {
	Data []byte
}

func NewHostBuffer(n int) *HostBuffer {
	return &HostBuffer{Data: make([]byte, n)}
}

// AsI64 reinterprets the buffer as a slice of int64. The buffer length must
// be a multiple of 8.
func (b *HostBuffer) AsI64() []int64 {
	if len(b.Data) == 0 {
		return nil
	}
	return unsafe.Slice((*int64)(unsafe.Pointer(&b.Data[0])), len(b.Data)/8)
}

// AsI32 reinterprets the buffer as a slice of int32.
func (b *HostBuffer) AsI32() []int32 {
	if len(b.Data) == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b.Data[0])), len(b.Data)/4)
}
