package plan

import (
	"fmt"
	"strings"
)

// DeviceID is the global ordinal of a device across all hosts.
type DeviceID int

func (d DeviceID) String() string {
	return fmt.Sprintf("d%d", int(d))
}

type DeviceList []DeviceID

func (dl DeviceList) String() string {
	var parts []string
	for _, d := range dl {
		parts = append(parts, d.String())
	}
	return strings.Join(parts, ",")
}

func (dl DeviceList) Rank(d DeviceID) (int, bool) {
	for i, p := range dl {
		if p == d {
			return i, true
		}
	}
	return -1, false
}

func (dl DeviceList) Others(d DeviceID) DeviceList {
	var ql DeviceList
	for _, p := range dl {
		if p != d {
			ql = append(ql, p)
		}
	}
	return ql
}
