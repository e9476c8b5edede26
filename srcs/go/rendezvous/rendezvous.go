// Package rendezvous implements a named barrier at which a fixed number of
// host threads each contribute a value and every thread receives the full
// collection once all have arrived.
package rendezvous

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var warnStallAfter = 10 * time.Second

// Registry tracks in-flight rounds. It is scoped to its owner; there is no
// process-global registry.
type Registry struct {
	mu     sync.Mutex
	rounds map[string]*round
}

type round struct {
	arity  int
	values []interface{}
	done   chan struct{}
}

func NewRegistry() *Registry {
	return &Registry{rounds: make(map[string]*round)}
}

func (r *Registry) arrive(name, key string, v interface{}, n int) (*round, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := name + "|" + key
	rd, ok := r.rounds[id]
	if !ok {
		rd = &round{arity: n, done: make(chan struct{})}
		r.rounds[id] = rd
	}
	if rd.arity != n {
		return nil, errors.Errorf("rendezvous %q: inconsistent arity %d vs %d", name, n, rd.arity)
	}
	rd.values = append(rd.values, v)
	if len(rd.values) == rd.arity {
		// The round is complete. Remove it before anyone wakes so the
		// same name/key pair can be reused by the next invocation.
		delete(r.rounds, id)
		close(rd.done)
	}
	return rd, nil
}

func await(rd *round, name string) {
	t := time.NewTimer(warnStallAfter)
	defer t.Stop()
	for {
		select {
		case <-rd.done:
			return
		case <-t.C:
			klog.Warningf("rendezvous %q stalled for %v: waiting for %d participants",
				name, warnStallAfter, rd.arity)
			t.Reset(warnStallAfter)
		}
	}
}

// Exchange blocks until n participants have arrived at the (name, key) round,
// then returns every participant's value, in arrival order, to each of them.
func Exchange[T any](r *Registry, name, key string, v T, n int) ([]T, error) {
	rd, err := r.arrive(name, key, v, n)
	if err != nil {
		return nil, err
	}
	await(rd, name)
	out := make([]T, 0, n)
	for _, x := range rd.values {
		out = append(out, x.(T))
	}
	return out, nil
}

// Wait is the no-payload variant of Exchange, used purely for sequencing.
func Wait(r *Registry, name, key string, n int) error {
	_, err := Exchange(r, name, key, struct{}{}, n)
	return err
}
