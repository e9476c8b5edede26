// Package ragged implements the runtime thunk for the ragged all-to-all
// collective: a redistribution of variable-length row ranges of a tensor
// across the devices of a clique, where the row offsets and counts are
// themselves data loaded from device memory at run time.
package ragged

import (
	"github.com/pkg/errors"

	"github.com/tensormesh/ragged/srcs/go/base"
	"github.com/tensormesh/ragged/srcs/go/plan"
)

// Operand slot positions fixed by the instruction encoding. Slots 2..5 hold
// the four ragged metadata arrays; this contract is owned here and must not
// be re-derived elsewhere.
const (
	OperandInput         = 0
	OperandOutput        = 1
	OperandInputOffsets  = 2
	OperandSendSizes     = 3
	OperandOutputOffsets = 4
	OperandRecvSizes     = 5

	NumMetadataOperands = 4
	NumOperands         = 6
)

// Operation is the compiler-produced description of one ragged-all-to-all.
type Operation struct {
	OperandShapes []base.Shape
	ResultShape   base.Shape
	ReplicaGroups []plan.ReplicaGroup
}

// CollectiveConfig is the part of the configuration shared with other
// collective thunks.
type CollectiveConfig struct {
	ReplicaGroups []plan.ReplicaGroup
	OperandTypes  []base.DataType
}

// Config is derived once from the operation and immutable afterwards.
type Config struct {
	Collective           CollectiveConfig
	NumTotalUpdates      int
	RaggedRowElementSize int
}

func newConfig(op Operation) Config {
	types := make([]base.DataType, len(op.OperandShapes))
	for i, s := range op.OperandShapes {
		types[i] = s.Type
	}
	return Config{
		Collective: CollectiveConfig{
			ReplicaGroups: op.ReplicaGroups,
			OperandTypes:  types,
		},
		NumTotalUpdates:      op.OperandShapes[OperandInputOffsets].Dims[0],
		RaggedRowElementSize: op.ResultShape.ElemCount() / op.ResultShape.Dims[0],
	}
}

// CheckImplementable rejects operations this thunk cannot run. Violations are
// configuration errors raised at validation time, before any execution.
func CheckImplementable(op Operation) error {
	if len(op.OperandShapes) != NumOperands {
		return errors.Errorf("ragged-all-to-all requires %d operands, got %d", NumOperands, len(op.OperandShapes))
	}
	if !op.ResultShape.IsMostMajorDim(0) {
		return errors.Errorf("ragged-all-to-all requires the ragged dimension (0) in the most major position of the layout of %s", op.ResultShape)
	}
	for i := OperandInputOffsets; i <= OperandRecvSizes; i++ {
		if op.OperandShapes[i].Type != base.I64 {
			return errors.Errorf("ragged-all-to-all metadata operand %d must be i64, got %s", i, op.OperandShapes[i].Type)
		}
	}
	updates := op.OperandShapes[OperandInputOffsets].Dims[0]
	for _, g := range op.ReplicaGroups {
		if len(g) == 0 || updates%len(g) != 0 {
			return errors.Errorf("total update count %d is not divisible by replica group size %d", updates, len(g))
		}
	}
	return nil
}

// cliqueFor locates the replica group containing d. The clique key orders
// devices the way the group does, so ranks agree across participants.
func (c Config) cliqueFor(d plan.DeviceID) (plan.CliqueKey, int, error) {
	for _, g := range c.Collective.ReplicaGroups {
		if rank, ok := g.Rank(d); ok {
			return plan.CliqueKey{Devices: g}, rank, nil
		}
	}
	return plan.CliqueKey{}, -1, errors.Errorf("device %s is not in any replica group", d)
}
