package base

// DeviceMemory is an opaque handle to a region of device-resident memory.
// The runtime only slices handles and hands them to a backend; it never
// dereferences them itself.
type DeviceMemory struct {
	Data []byte
}

func (m DeviceMemory) Size() int {
	return len(m.Data)
}

func (m DeviceMemory) IsNull() bool {
	return m.Data == nil
}

// Slice returns a sub-handle covering count elements of the given type
// starting at an element offset.
func (m DeviceMemory) Slice(dtype DataType, offset, count int) DeviceMemory {
	s := dtype.Size()
	return DeviceMemory{Data: m.Data[offset*s : (offset+count)*s]}
}

// DeviceBufferPair describes one operand of a collective operation: where to
// read it and, for output operands, where to write it. Handles are borrowed
// from the caller for the duration of one invocation.
type DeviceBufferPair struct {
	Source      DeviceMemory
	Destination DeviceMemory
	Type        DataType
}
