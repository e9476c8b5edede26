package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRank(t *testing.T) {
	dl := DeviceList{2, 5, 7}
	r, ok := dl.Rank(5)
	assert.True(t, ok)
	assert.Equal(t, 1, r)
	_, ok = dl.Rank(3)
	assert.False(t, ok)
	assert.Equal(t, DeviceList{2, 7}, dl.Others(5))
}

func TestSingleHost(t *testing.T) {
	topo := Topology{
		ReplicaGroups:    []ReplicaGroup{{0, 1, 2, 3}},
		LocalDeviceCount: 4,
	}
	assert.True(t, topo.SingleHost())

	topo = Topology{
		ReplicaGroups:    []ReplicaGroup{{0, 1}, {2, 3}},
		LocalDeviceCount: 2,
	}
	assert.True(t, topo.SingleHost())

	topo = Topology{
		ReplicaGroups:    []ReplicaGroup{{0, 1, 2, 3}},
		LocalDeviceCount: 2,
	}
	assert.False(t, topo.SingleHost())
}

func TestCliqueKey(t *testing.T) {
	k := CliqueKey{Devices: DeviceList{0, 1}}
	assert.Equal(t, 2, k.Size())
	assert.Equal(t, "clique{d0,d1}", k.String())
	r, ok := k.Rank(1)
	assert.True(t, ok)
	assert.Equal(t, 1, r)
}
