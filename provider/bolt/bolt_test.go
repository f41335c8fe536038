package bolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/unkn0wn-root/refcache/provider/providertest"
)

func openTemp(t *testing.T) *Provider {
	t.Helper()
	p, err := Open(Config{Path: filepath.Join(t.TempDir(), "refcache.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestConformance(t *testing.T) {
	providertest.Run(t, openTemp(t))
}

func TestExpiredEntryIsMiss(t *testing.T) {
	ctx := context.Background()
	p := openTemp(t)

	base := time.Now()
	p.now = func() time.Time { return base }
	if _, err := p.Set(ctx, "k", []byte("v"), 1, time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, ok, _ := p.Get(ctx, "k"); !ok {
		t.Fatalf("expected hit before expiry")
	}

	base = base.Add(2 * time.Second)
	if _, ok, err := p.Get(ctx, "k"); ok || err != nil {
		t.Fatalf("expected miss after expiry, ok=%v err=%v", ok, err)
	}
}

func TestSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "refcache.db")

	p, err := Open(Config{Path: path, Bucket: "ref"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := p.Set(ctx, "refcache:geo", []byte("doc"), 3, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p, err = Open(Config{Path: path, Bucket: "ref"})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p.Close(ctx)
	if v, ok, err := p.Get(ctx, "refcache:geo"); err != nil || !ok || string(v) != "doc" {
		t.Fatalf("after reopen: v=%q ok=%v err=%v", v, ok, err)
	}
}
