package refcache

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/refcache/entity"
)

// WorkingCopy is the in-memory owner document. It reads the store only on
// Load and writes it only on Flush.
type WorkingCopy struct {
	store  Store
	key    string
	doc    entity.Document
	loaded bool
}

func NewWorkingCopy(store Store, key string) *WorkingCopy {
	return &WorkingCopy{store: store, key: key}
}

// Load replaces the copy with the stored document. The copy is always usable
// afterwards: an absent document yields an empty copy, and an unreadable one
// yields an empty copy plus the read error. Scaffolds without an entities map
// are dropped and reported as malformed.
func (w *WorkingCopy) Load(ctx context.Context) error {
	w.doc = entity.Document{}
	w.loaded = true

	doc, ok, err := w.store.Read(ctx, w.key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	var bad []string
	for ns, s := range doc {
		if s.Entities == nil {
			bad = append(bad, ns)
			continue
		}
		w.doc[ns] = s
	}
	if len(bad) > 0 {
		return fmt.Errorf("%w: namespaces without entities %v", ErrMalformedCacheEntry, bad)
	}
	return nil
}

// Flush writes the whole copy back.
func (w *WorkingCopy) Flush(ctx context.Context) error {
	if !w.loaded {
		return ErrNotLoaded
	}
	return w.store.Write(ctx, w.key, w.doc)
}

func (w *WorkingCopy) Loaded() bool { return w.loaded }

func (w *WorkingCopy) Key() string { return w.key }

func (w *WorkingCopy) Scaffold(ns string) (entity.Scaffold, bool) {
	s, ok := w.doc[ns]
	return s, ok
}

// Put replaces the scaffold of one namespace; other namespaces are untouched.
func (w *WorkingCopy) Put(ns string, s entity.Scaffold) {
	if w.doc == nil {
		w.doc = entity.Document{}
	}
	w.doc[ns] = s
}

func (w *WorkingCopy) Drop(ns string) {
	delete(w.doc, ns)
}

// Document returns a shallow copy of the current state.
func (w *WorkingCopy) Document() entity.Document {
	return w.doc.Clone()
}
