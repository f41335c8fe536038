// Package providertest holds a conformance check every provider.Provider
// implementation runs in its own tests.
package providertest

import (
	"bytes"
	"context"
	"testing"

	pr "github.com/unkn0wn-root/refcache/provider"
)

// Run checks miss, round-trip, overwrite and delete semantics against p.
// The provider must be empty.
func Run(t *testing.T, p pr.Provider) {
	t.Helper()
	ctx := context.Background()

	if v, ok, err := p.Get(ctx, "refcache:missing"); err != nil || ok || v != nil {
		t.Fatalf("Get on empty store: v=%q ok=%v err=%v", v, ok, err)
	}

	doc := []byte("REFC\x01\x01payload")
	ok, err := p.Set(ctx, "refcache:owner", doc, int64(len(doc)), 0)
	if err != nil || !ok {
		t.Fatalf("Set: ok=%v err=%v", ok, err)
	}
	got, ok, err := p.Get(ctx, "refcache:owner")
	if err != nil || !ok {
		t.Fatalf("Get after Set: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, doc) {
		t.Fatalf("provider is not byte-transparent: got %q want %q", got, doc)
	}

	next := []byte("REFC\x01\x01second")
	if ok, err := p.Set(ctx, "refcache:owner", next, int64(len(next)), 0); err != nil || !ok {
		t.Fatalf("overwrite: ok=%v err=%v", ok, err)
	}
	if got, _, _ := p.Get(ctx, "refcache:owner"); !bytes.Equal(got, next) {
		t.Fatalf("overwrite not visible: got %q", got)
	}

	if err := p.Del(ctx, "refcache:owner"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, err := p.Get(ctx, "refcache:owner"); err != nil || ok {
		t.Fatalf("Get after Del: ok=%v err=%v", ok, err)
	}
	if err := p.Del(ctx, "refcache:owner"); err != nil {
		t.Fatalf("Del of missing key should not fail: %v", err)
	}
}
