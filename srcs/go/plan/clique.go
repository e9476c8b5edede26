package plan

import "fmt"

// CliqueKey identifies one collective operation instance by its ordered
// device list. Its string form keys rendezvous rounds and communicator
// lookups, so it must be stable across participants.
type CliqueKey struct {
	Devices DeviceList
}

func (k CliqueKey) Rank(d DeviceID) (int, bool) {
	return k.Devices.Rank(d)
}

func (k CliqueKey) Size() int {
	return len(k.Devices)
}

func (k CliqueKey) String() string {
	return fmt.Sprintf("clique{%s}", k.Devices)
}
