package sim

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/tensormesh/ragged/srcs/go/base"
	"github.com/tensormesh/ragged/srcs/go/plan"
)

// Fabric carries payloads between communicators of the same process. Each
// directed (clique, src, dst) pair has one mailbox; sends append to it and
// receives block on it, so pairs are matched in submission order per pair.
type Fabric struct {
	id string

	mu    sync.Mutex
	boxes map[string]*mailbox
}

type packet struct {
	data  []byte
	dtype base.DataType
	count int
}

type mailbox struct {
	mu    sync.Mutex
	cond  *sync.Cond
	queue []packet
}

func newMailbox() *mailbox {
	b := &mailbox{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *mailbox) put(p packet) {
	b.mu.Lock()
	b.queue = append(b.queue, p)
	b.mu.Unlock()
	b.cond.Broadcast()
}

func (b *mailbox) take() packet {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.queue) == 0 {
		b.cond.Wait()
	}
	p := b.queue[0]
	b.queue = b.queue[1:]
	return p
}

func NewFabric() *Fabric {
	f := &Fabric{
		id:    uuid.NewString(),
		boxes: make(map[string]*mailbox),
	}
	klog.V(4).Infof("sim %s created", f)
	return f
}

func (f *Fabric) String() string {
	return fmt.Sprintf("fabric[%s]", f.id)
}

func (f *Fabric) box(clique plan.CliqueKey, src, dst int) *mailbox {
	key := fmt.Sprintf("%s|%s|%d->%d", f.id, clique, src, dst)
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.boxes[key]
	if !ok {
		b = newMailbox()
		f.boxes[key] = b
	}
	return b
}
