// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    SkippedEvery: 100, // sample: ~every 100th skip
//	})
//
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	rc, _ := refcache.New(refcache.Options{
//	    Owner:    "billing",
//	    Source:   src,
//	    Provider: provider,
//	    GenStore: gens,
//	    Hooks:    hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"

	"github.com/unkn0wn-root/refcache"
)

// Hooks runs inner's callbacks on worker goroutines. Events are dropped
// when the queue is full.
type Hooks struct {
	inner refcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ refcache.Hooks = (*Hooks)(nil)

func New(inner refcache.Hooks, workers, qlen int) *Hooks {
	if inner == nil {
		inner = refcache.NopHooks{}
	}
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Hooks must not be
// called after Close.
func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) DefinitionSkipped(o, ns string)     { h.try(func() { h.inner.DefinitionSkipped(o, ns) }) }
func (h *Hooks) MalformedEntry(o string, e error)   { h.try(func() { h.inner.MalformedEntry(o, e) }) }
func (h *Hooks) StoreWriteFailed(o string, e error) { h.try(func() { h.inner.StoreWriteFailed(o, e) }) }
func (h *Hooks) DefinitionFilled(o, ns string, n int) {
	h.try(func() { h.inner.DefinitionFilled(o, ns, n) })
}
func (h *Hooks) DefinitionFailed(o, name string, err error) {
	h.try(func() { h.inner.DefinitionFailed(o, name, err) })
}
func (h *Hooks) NamespaceConflict(ns, existing, incoming string) {
	h.try(func() { h.inner.NamespaceConflict(ns, existing, incoming) })
}
