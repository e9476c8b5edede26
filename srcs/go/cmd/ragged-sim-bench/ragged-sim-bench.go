// ragged-sim-bench runs a ragged all-to-all over the simulated backend and
// checks that the network and local-copy transports agree.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"math/rand"
	"time"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"

	"github.com/tensormesh/ragged/srcs/go/base"
	"github.com/tensormesh/ragged/srcs/go/ragged/raggedtest"
)

var (
	numDevices     = flag.Int("devices", 4, "number of simulated devices")
	updatesPerRank = flag.Int("updates", 8, "updates per participant")
	rowElems       = flag.Int("row-elems", 64, "elements per logical row")
	maxRows        = flag.Int("max-rows", 16, "max rows per update")
	seed           = flag.Int64("seed", 1, "rng seed")
	deviceMem      = flag.Int("device-mem", 64<<20, "simulated memory per device")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))
	s := raggedtest.Random(rng, *numDevices, *updatesPerRank, *rowElems, *maxRows, base.F32)
	fmt.Printf("devices=%d updates/rank=%d row=%d elems, input %s/device\n",
		*numDevices, *updatesPerRank, *rowElems,
		humanize.IBytes(uint64(s.InputRows*s.RowElems*s.Type.Size())))

	want := s.ExpectedOutputs()
	for _, memcpyEnabled := range []bool{false, true} {
		c := raggedtest.NewCluster(*numDevices, *deviceMem)
		t0 := time.Now()
		outs, err := raggedtest.Run(c, s, memcpyEnabled)
		if err != nil {
			klog.Exitf("run(memcpy=%v): %v", memcpyEnabled, err)
		}
		for rank := range outs {
			if !bytes.Equal(outs[rank], want[rank]) {
				klog.Exitf("run(memcpy=%v): rank %d output mismatch", memcpyEnabled, rank)
			}
		}
		fmt.Printf("memcpy=%-5v ok, took %v\n", memcpyEnabled, time.Since(t0))
	}
}
