package sim

import (
	"github.com/pkg/errors"

	"github.com/tensormesh/ragged/srcs/go/backend"
	"github.com/tensormesh/ragged/srcs/go/base"
	"github.com/tensormesh/ragged/srcs/go/plan"
)

// Communicator is one rank's endpoint of a clique over a Fabric. It is
// driven by a single host thread, matching how one thread drives one device.
type Communicator struct {
	fabric *Fabric
	clique plan.CliqueKey
	rank   int

	grouped bool
	sends   []commOp
	recvs   []commOp
}

type commOp struct {
	mem    base.DeviceMemory
	dtype  base.DataType
	count  int
	peer   int
	stream backend.Stream
}

func (f *Fabric) Communicator(clique plan.CliqueKey, rank int) *Communicator {
	return &Communicator{fabric: f, clique: clique, rank: rank}
}

func (c *Communicator) NumRanks() (int, error) {
	return c.clique.Size(), nil
}

func (c *Communicator) Rank() int {
	return c.rank
}

func (c *Communicator) Send(mem base.DeviceMemory, dtype base.DataType, count int, peer int, stream backend.Stream) error {
	if err := c.checkPeer(peer); err != nil {
		return err
	}
	c.sends = append(c.sends, commOp{mem, dtype, count, peer, stream})
	if !c.grouped {
		return c.flush()
	}
	return nil
}

func (c *Communicator) Recv(mem base.DeviceMemory, dtype base.DataType, count int, peer int, stream backend.Stream) error {
	if err := c.checkPeer(peer); err != nil {
		return err
	}
	c.recvs = append(c.recvs, commOp{mem, dtype, count, peer, stream})
	if !c.grouped {
		return c.flush()
	}
	return nil
}

func (c *Communicator) checkPeer(peer int) error {
	if peer < 0 || peer >= c.clique.Size() {
		return errors.Errorf("rank %d of %s: no such peer %d", c.rank, c.clique, peer)
	}
	return nil
}

func (c *Communicator) GroupStart() error {
	if c.grouped {
		return errors.Errorf("rank %d of %s: nested group", c.rank, c.clique)
	}
	c.grouped = true
	return nil
}

func (c *Communicator) GroupEnd() error {
	if !c.grouped {
		return errors.Errorf("rank %d of %s: group not started", c.rank, c.clique)
	}
	c.grouped = false
	return c.flush()
}

// flush enqueues the batched operations as one stream op. Sends deliver
// payload copies without blocking; receives block the stream until the
// matching peer send arrives.
func (c *Communicator) flush() error {
	sends, recvs := c.sends, c.recvs
	c.sends, c.recvs = nil, nil
	if len(sends) == 0 && len(recvs) == 0 {
		return nil
	}
	stream, err := c.groupStream(sends, recvs)
	if err != nil {
		return err
	}
	ss, ok := stream.(*Stream)
	if !ok {
		return errors.Errorf("rank %d of %s: foreign stream %s", c.rank, c.clique, stream)
	}
	fabric, clique, rank := c.fabric, c.clique, c.rank
	return ss.enqueue(func() error {
		for _, o := range sends {
			p := packet{data: append([]byte(nil), o.mem.Data...), dtype: o.dtype, count: o.count}
			fabric.box(clique, rank, o.peer).put(p)
		}
		deliver := func(o commOp) error {
			p := fabric.box(clique, o.peer, rank).take()
			if p.dtype != o.dtype || p.count != o.count {
				return errors.Errorf("rank %d of %s on %s: recv %d x %s from peer %d, sent %d x %s",
					rank, clique, fabric, o.count, o.dtype, o.peer, p.count, p.dtype)
			}
			copy(o.mem.Data, p.data)
			return nil
		}
		// A send to self is an immediate local copy: loopback packets land
		// before anything from a remote peer.
		for _, o := range recvs {
			if o.peer != rank {
				continue
			}
			if err := deliver(o); err != nil {
				return err
			}
		}
		for _, o := range recvs {
			if o.peer == rank {
				continue
			}
			if err := deliver(o); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Communicator) groupStream(sends, recvs []commOp) (backend.Stream, error) {
	var stream backend.Stream
	for _, o := range append(append([]commOp(nil), sends...), recvs...) {
		if stream == nil {
			stream = o.stream
		} else if stream != o.stream {
			return nil, errors.Errorf("rank %d of %s: group spans streams %s and %s",
				c.rank, c.clique, stream, o.stream)
		}
	}
	return stream, nil
}

var _ backend.Communicator = &Communicator{}
