package base

import (
	"fmt"
	"strings"
)

// Shape describes the logical dimensions of an operand together with its
// physical layout, given as a major-to-minor dimension order.
type Shape struct {
	Dims         []int
	MajorToMinor []int
	Type         DataType
}

func NewShape(dtype DataType, dims ...int) Shape {
	mtm := make([]int, len(dims))
	for i := range mtm {
		mtm[i] = i
	}
	return Shape{Dims: dims, MajorToMinor: mtm, Type: dtype}
}

func (s Shape) ElemCount() int {
	n := 1
	for _, d := range s.Dims {
		n *= d
	}
	return n
}

func (s Shape) ByteCount() int {
	return s.ElemCount() * s.Type.Size()
}

// IsMostMajorDim reports whether dimension i occupies the most major position
// of the physical layout. Degenerate dimensions ahead of it do not count.
func (s Shape) IsMostMajorDim(i int) bool {
	for _, d := range s.MajorToMinor {
		if d == i {
			return true
		}
		if s.Dims[d] != 1 {
			return false
		}
	}
	return false
}

func (s Shape) String() string {
	parts := make([]string, len(s.Dims))
	for i, d := range s.Dims {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return fmt.Sprintf("%s[%s]", s.Type, strings.Join(parts, ","))
}
