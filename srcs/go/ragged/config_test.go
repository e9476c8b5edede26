package ragged

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tensormesh/ragged/srcs/go/base"
	"github.com/tensormesh/ragged/srcs/go/plan"
)

func validOperation() Operation {
	return Operation{
		OperandShapes: []base.Shape{
			base.NewShape(base.F32, 8, 4),
			base.NewShape(base.F32, 8, 4),
			base.NewShape(base.I64, 4),
			base.NewShape(base.I64, 4),
			base.NewShape(base.I64, 4),
			base.NewShape(base.I64, 4),
		},
		ResultShape:   base.NewShape(base.F32, 8, 4),
		ReplicaGroups: []plan.ReplicaGroup{{0, 1}},
	}
}

func TestConfigDerivation(t *testing.T) {
	op := validOperation()
	require.NoError(t, CheckImplementable(op))
	cfg := newConfig(op)
	assert.Equal(t, 4, cfg.NumTotalUpdates)
	assert.Equal(t, 4, cfg.RaggedRowElementSize)
	assert.Equal(t, base.I64, cfg.Collective.OperandTypes[OperandSendSizes])
}

func TestCheckImplementableOffsetType(t *testing.T) {
	op := validOperation()
	op.OperandShapes[OperandInputOffsets] = base.NewShape(base.I32, 4)
	err := CheckImplementable(op)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be i64")
}

func TestCheckImplementableLayout(t *testing.T) {
	op := validOperation()
	op.ResultShape = base.Shape{Dims: []int{8, 4}, MajorToMinor: []int{1, 0}, Type: base.F32}
	err := CheckImplementable(op)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "most major")
}

func TestCheckImplementableDivisibility(t *testing.T) {
	op := validOperation()
	op.ReplicaGroups = []plan.ReplicaGroup{{0, 1, 2}}
	err := CheckImplementable(op)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not divisible")
}

func TestCheckImplementableOperandCount(t *testing.T) {
	op := validOperation()
	op.OperandShapes = op.OperandShapes[:5]
	assert.Error(t, CheckImplementable(op))
}

func TestCliqueFor(t *testing.T) {
	cfg := newConfig(validOperation())
	clique, rank, err := cfg.cliqueFor(1)
	require.NoError(t, err)
	assert.Equal(t, 1, rank)
	assert.Equal(t, 2, clique.Size())

	_, _, err = cfg.cliqueFor(9)
	assert.Error(t, err)
}
