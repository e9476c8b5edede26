package execution

import (
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPar(t *testing.T) {
	var sum int64
	require.NoError(t, Par(8, func(rank int) error {
		atomic.AddInt64(&sum, int64(rank))
		return nil
	}))
	assert.Equal(t, int64(28), sum)
}

func TestParError(t *testing.T) {
	err := Par(4, func(rank int) error {
		if rank == 2 {
			return errors.New("rank 2 failed")
		}
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rank 2 failed")
}

func TestSeqStopsAtError(t *testing.T) {
	var ran []int
	err := Seq(4, func(rank int) error {
		ran = append(ran, rank)
		if rank == 1 {
			return errors.New("stop")
		}
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, []int{0, 1}, ran)
}
