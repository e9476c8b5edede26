package plan

// ReplicaGroup is one set of devices that participate in a single collective
// operation instance.
type ReplicaGroup = DeviceList

// Topology describes how global devices map onto hosts. Devices are numbered
// contiguously per host, so host(d) = d / LocalDeviceCount.
type Topology struct {
	ReplicaGroups    []ReplicaGroup
	LocalDeviceCount int
}

func (t Topology) Host(d DeviceID) int {
	return int(d) / t.LocalDeviceCount
}

// SingleHost reports whether every replica group is confined to one host,
// which is the precondition for the local-copy transport.
func (t Topology) SingleHost() bool {
	for _, g := range t.ReplicaGroups {
		if len(g) == 0 {
			continue
		}
		host := t.Host(g[0])
		for _, d := range g {
			if t.Host(d) != host {
				return false
			}
		}
	}
	return true
}

// Group returns the replica group containing d, or nil.
func (t Topology) Group(d DeviceID) ReplicaGroup {
	for _, g := range t.ReplicaGroups {
		if _, ok := g.Rank(d); ok {
			return g
		}
	}
	return nil
}
