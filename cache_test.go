package refcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/unkn0wn-root/refcache/entity"
	"github.com/unkn0wn-root/refcache/genstore"
	"github.com/unkn0wn-root/refcache/internal/wire"
	pr "github.com/unkn0wn-root/refcache/provider"
	"github.com/unkn0wn-root/refcache/source"
)

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type memProvider struct {
	mu     sync.Mutex
	m      map[string]memEntry
	sets   int
	reject bool
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string]memEntry)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sets++
	if p.reject {
		return false, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	p.m[key] = memEntry{v: append([]byte(nil), value...), exp: exp}
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, key)
	return nil
}
func (p *memProvider) Close(_ context.Context) error { return nil }

// countingSource wraps a Static source and counts fetches per table.
type countingSource struct {
	inner source.Source
	fail  map[string]error
	calls map[string]int
}

func newCountingSource(tables map[string][]entity.Row) *countingSource {
	return &countingSource{
		inner: &source.Static{Tables: tables},
		fail:  map[string]error{},
		calls: map[string]int{},
	}
}

func (s *countingSource) FetchKeyed(ctx context.Context, table, keyField string, cond any) (entity.Entities, error) {
	s.calls[table]++
	if err := s.fail[table]; err != nil {
		return nil, err
	}
	return s.inner.FetchKeyed(ctx, table, keyField, cond)
}

type recHooks struct {
	NopHooks
	filled    []string
	skipped   []string
	failed    []string
	malformed int
	writes    int
	conflicts [][3]string
}

func (h *recHooks) DefinitionFilled(_, ns string, _ int)       { h.filled = append(h.filled, ns) }
func (h *recHooks) DefinitionSkipped(_, ns string)             { h.skipped = append(h.skipped, ns) }
func (h *recHooks) DefinitionFailed(_, name string, _ error)   { h.failed = append(h.failed, name) }
func (h *recHooks) MalformedEntry(string, error)               { h.malformed++ }
func (h *recHooks) StoreWriteFailed(string, error)             { h.writes++ }
func (h *recHooks) NamespaceConflict(ns, existing, inc string) { h.conflicts = append(h.conflicts, [3]string{ns, existing, inc}) }

func refTables() map[string][]entity.Row {
	return map[string][]entity.Row{
		"currencies": {
			{"id": 1, "code": "EUR", "region": "eu"},
			{"id": 2, "code": "USD", "region": "us"},
			{"id": 3, "code": "PLN", "region": "eu"},
		},
		"countries": {
			{"id": 1, "name": "Poland"},
			{"id": 3, "name": "France"},
		},
		"units": {
			{"code": "kg", "name": "kilogram"},
		},
	}
}

var (
	defCurrency = Definition{Name: "currency", Table: "currencies", KeyField: "id", SourceProperty: "currencyIds"}
	defCountry  = Definition{Name: "country", Table: "countries", KeyField: "id", SourceProperty: "countryId"}
	defUnit     = Definition{Name: "unit", Table: "units", KeyField: "code", SourceProperty: "unit"}
)

func newTestCache(t *testing.T, src source.Source, mp pr.Provider, optsOpt func(*Options)) Cache {
	t.Helper()
	opts := Options{
		Owner:    "billing",
		Source:   src,
		Provider: mp,
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	rc, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return rc
}

func mustImpl(t *testing.T, rc Cache) *cache {
	t.Helper()
	impl, ok := rc.(*cache)
	if !ok {
		t.Fatalf("unexpected concrete type for Cache")
	}
	return impl
}

func codes(rows []entity.Row, field string) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		if r == nil {
			out[i] = nil
			continue
		}
		out[i] = r[field]
	}
	return out
}

func equalAny(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ==============================
// Construction
// ==============================

func TestNewRequiresOwnerSourceAndStore(t *testing.T) {
	src := newCountingSource(refTables())
	cases := []struct {
		name string
		opts Options
	}{
		{"no owner", Options{Source: src, Provider: newMemProvider()}},
		{"no source", Options{Owner: "o", Provider: newMemProvider()}},
		{"no store", Options{Owner: "o", Source: src}},
	}
	for _, tc := range cases {
		if _, err := New(tc.opts); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

// ==============================
// Population
// ==============================

func TestBootstrapIsIdempotent(t *testing.T) {
	ctx := context.Background()
	src := newCountingSource(refTables())
	rc := newTestCache(t, src, newMemProvider(), nil)
	defer rc.Close(ctx)

	rep, err := rc.Initialize(ctx, defCurrency, defCountry)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if len(rep.Filled) != 2 || len(rep.Skipped) != 0 {
		t.Fatalf("first pass: filled=%v skipped=%v", rep.Filled, rep.Skipped)
	}

	rep, err = rc.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if len(rep.Filled) != 0 || len(rep.Skipped) != 2 {
		t.Fatalf("second pass: filled=%v skipped=%v", rep.Filled, rep.Skipped)
	}
	if src.calls["currencies"] != 1 || src.calls["countries"] != 1 {
		t.Fatalf("expected one fetch per table, got %v", src.calls)
	}
	if rc.Report() != rep {
		t.Fatalf("Report() should return the last bootstrap report")
	}
}

func TestStoredDocumentIsReusedByNewInstance(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()

	first := newCountingSource(refTables())
	rc1 := newTestCache(t, first, mp, nil)
	if _, err := rc1.Initialize(ctx, defCurrency); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	second := newCountingSource(refTables())
	rc2 := newTestCache(t, second, mp, nil)
	rep, err := rc2.Initialize(ctx, defCurrency)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if second.calls["currencies"] != 0 || len(rep.Skipped) != 1 {
		t.Fatalf("expected stored namespace to be reused: calls=%v report=%+v", second.calls, rep)
	}

	// JSON round trip turns ids into float64; keys still match.
	rows, _ := rc2.Lookup("currency", 2)
	if got := codes(rows, "code"); !equalAny(got, []any{"USD"}) {
		t.Fatalf("lookup from reused document: %v", got)
	}
}

func TestAddDefinitionsDoesNotRefillPopulated(t *testing.T) {
	ctx := context.Background()
	src := newCountingSource(refTables())
	rc := newTestCache(t, src, newMemProvider(), nil)

	if _, err := rc.Initialize(ctx, defCurrency); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	rep, err := rc.AddDefinitions(ctx, defCountry)
	if err != nil {
		t.Fatalf("AddDefinitions: %v", err)
	}
	if !equalStrings(rep.Filled, []string{"country"}) || !equalStrings(rep.Skipped, []string{"currency"}) {
		t.Fatalf("unexpected report %+v", rep)
	}
	if src.calls["currencies"] != 1 {
		t.Fatalf("currency refetched: %v", src.calls)
	}
	if names := defNames(rc.Definitions()); !equalStrings(names, []string{"currency", "country"}) {
		t.Fatalf("definitions order: %v", names)
	}
}

func TestColdStartOnMalformedEntry(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	_, _ = mp.Set(ctx, "refcache:billing", []byte("not a document"), 0, 0)

	h := &recHooks{}
	src := newCountingSource(refTables())
	rc := newTestCache(t, src, mp, func(o *Options) { o.Hooks = h })

	rep, err := rc.Initialize(ctx, defCurrency)
	if err != nil {
		t.Fatalf("Initialize should not fail on malformed entry: %v", err)
	}
	if !rep.ColdStart || h.malformed != 1 {
		t.Fatalf("expected cold start + hook, got coldStart=%v hook=%d", rep.ColdStart, h.malformed)
	}
	if len(rep.Filled) != 1 {
		t.Fatalf("expected refill after cold start: %+v", rep)
	}

	// The garbage has been replaced with a valid document.
	raw, _, _ := mp.Get(ctx, "refcache:billing")
	if _, err := wire.DecodeDocument(raw); err != nil {
		t.Fatalf("stored value still malformed: %v", err)
	}
}

func TestColdStartOnAbsentDocument(t *testing.T) {
	ctx := context.Background()
	rc := newTestCache(t, newCountingSource(refTables()), newMemProvider(), nil)
	rep, err := rc.Initialize(ctx, defCurrency)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if rep.ColdStart {
		t.Fatalf("absent document is not a malformed one")
	}
	if len(rep.Filled) != 1 {
		t.Fatalf("expected fill: %+v", rep)
	}
}

func TestWriteThroughSurvivesPartialFailure(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	src := newCountingSource(refTables())
	boom := errors.New("db down")
	src.fail["countries"] = boom

	h := &recHooks{}
	rc := newTestCache(t, src, mp, func(o *Options) { o.Hooks = h })

	rep, err := rc.Initialize(ctx, defCurrency, defCountry, defUnit)
	if err == nil {
		t.Fatalf("expected bootstrap error")
	}
	var be *BootstrapError
	if !errors.As(err, &be) || be.Owner != "billing" {
		t.Fatalf("expected *BootstrapError, got %T %v", err, err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("error should unwrap to the source error: %v", err)
	}
	var de *DefinitionError
	if !errors.As(err, &de) || de.Name != "country" {
		t.Fatalf("expected DefinitionError for country, got %v", err)
	}
	if !equalStrings(rep.Filled, []string{"currency", "unit"}) || !equalStrings(rep.FailedNames(), []string{"country"}) {
		t.Fatalf("unexpected report %+v", rep)
	}
	if mp.sets != 2 {
		t.Fatalf("expected one flush per fill (2), got %d", mp.sets)
	}
	if !equalStrings(h.failed, []string{"country"}) {
		t.Fatalf("failed hook: %v", h.failed)
	}

	// A fresh reader of the store sees both filled namespaces and no sentinel.
	ps, _ := NewProviderStore(mp, StoreOptions{})
	doc, ok, err := ps.Read(ctx, "refcache:billing")
	if err != nil || !ok {
		t.Fatalf("Read: ok=%v err=%v", ok, err)
	}
	if _, ok := doc["country"]; ok {
		t.Fatalf("failed definition must not be written")
	}
	if doc.Len("currency") != 3 || doc.Len("unit") != 1 {
		t.Fatalf("unexpected stored document %+v", doc)
	}

	// Failed definitions are retried on the next bootstrap.
	delete(src.fail, "countries")
	rep, err = rc.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("Bootstrap retry: %v", err)
	}
	if !equalStrings(rep.Filled, []string{"country"}) {
		t.Fatalf("retry filled %v", rep.Filled)
	}
}

func TestMissingTableIdentifierAndKeyField(t *testing.T) {
	ctx := context.Background()
	src := newCountingSource(refTables())
	rc := newTestCache(t, src, newMemProvider(), nil)

	noTable := Definition{Name: "broken", KeyField: "id"}
	noKey := Definition{Name: "keyless", Table: "units"}
	rep, err := rc.Initialize(ctx, noTable, defUnit, noKey)
	if !errors.Is(err, ErrMissingTableIdentifier) || !errors.Is(err, ErrMissingKeyField) {
		t.Fatalf("expected both typed failures, got %v", err)
	}
	if !equalStrings(rep.Filled, []string{"unit"}) {
		t.Fatalf("sibling should still fill: %+v", rep)
	}
	if src.calls["units"] != 1 {
		t.Fatalf("source must not be called for invalid definitions: %v", src.calls)
	}
}

func TestRejectedWriteIsReportedNotFatal(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	mp.reject = true
	h := &recHooks{}
	rc := newTestCache(t, newCountingSource(refTables()), mp, func(o *Options) { o.Hooks = h })

	rep, err := rc.Initialize(ctx, defUnit)
	if !errors.Is(err, ErrWriteRejected) {
		t.Fatalf("expected ErrWriteRejected, got %v", err)
	}
	if len(rep.Persist) != 1 || h.writes != 1 {
		t.Fatalf("persist=%v hook=%d", rep.Persist, h.writes)
	}
	// The working copy still serves lookups.
	rows, _ := rc.Lookup("unit", "kg")
	if got := codes(rows, "name"); !equalAny(got, []any{"kilogram"}) {
		t.Fatalf("lookup: %v", got)
	}
}

// ==============================
// Conditions and namespaces
// ==============================

func TestNamespaceConflict(t *testing.T) {
	ctx := context.Background()
	h := &recHooks{}
	rc := newTestCache(t, newCountingSource(refTables()), newMemProvider(), func(o *Options) { o.Hooks = h })

	eu := Definition{Name: "eu", Table: "currencies", Namespace: "cur", KeyField: "id", Condition: map[string]any{"region": "eu"}}
	us := Definition{Name: "us", Table: "currencies", Namespace: "cur", KeyField: "id", Condition: map[string]any{"region": "us"}}

	rep, err := rc.Initialize(ctx, eu, us)
	if !errors.Is(err, ErrNamespaceConflict) {
		t.Fatalf("expected ErrNamespaceConflict, got %v", err)
	}
	if len(h.conflicts) != 1 || h.conflicts[0] != [3]string{"cur", "eu", "us"} {
		t.Fatalf("conflict hook: %v", h.conflicts)
	}
	if !equalStrings(rep.Filled, []string{"eu"}) || !equalStrings(rep.FailedNames(), []string{"us"}) {
		t.Fatalf("unexpected report %+v", rep)
	}

	rows, _ := rc.Lookup("eu", 1, 2)
	if got := codes(rows, "code"); !equalAny(got, []any{"EUR", nil}) {
		t.Fatalf("eu lookup: %v", got)
	}
	rows, _ = rc.Lookup("us", 2)
	if rows[0] != nil {
		t.Fatalf("conflicting definition must not read the other subset: %v", rows)
	}
}

func TestInvalidateRejectsLosingDefinition(t *testing.T) {
	ctx := context.Background()
	src := newCountingSource(refTables())
	rc := newTestCache(t, src, newMemProvider(), nil)

	eu := Definition{Name: "eu", Table: "currencies", Namespace: "cur", KeyField: "id", Condition: map[string]any{"region": "eu"}}
	us := Definition{Name: "us", Table: "currencies", Namespace: "cur", KeyField: "id", Condition: map[string]any{"region": "us"}}
	if _, err := rc.Initialize(ctx, eu, us); !errors.Is(err, ErrNamespaceConflict) {
		t.Fatalf("expected ErrNamespaceConflict, got %v", err)
	}

	err := rc.Invalidate(ctx, "us")
	if !errors.Is(err, ErrNamespaceConflict) {
		t.Fatalf("Invalidate(us): expected ErrNamespaceConflict, got %v", err)
	}
	var de *DefinitionError
	if !errors.As(err, &de) || de.Name != "us" || de.Namespace != "cur" {
		t.Fatalf("expected DefinitionError for us/cur, got %#v", err)
	}
	if _, err := rc.Refresh(ctx, "us"); !errors.Is(err, ErrNamespaceConflict) {
		t.Fatalf("Refresh(us): expected ErrNamespaceConflict, got %v", err)
	}

	rows, _ := rc.Lookup("eu", 1)
	if got := codes(rows, "code"); !equalAny(got, []any{"EUR"}) {
		t.Fatalf("holder's namespace must survive: %v", got)
	}
	if src.calls["currencies"] != 1 {
		t.Fatalf("no refill expected: %v", src.calls)
	}
	if err := rc.Invalidate(ctx, "eu"); err != nil {
		t.Fatalf("Invalidate(eu): %v", err)
	}
}

func TestSharedNamespaceSameConditionFillsOnce(t *testing.T) {
	ctx := context.Background()
	src := newCountingSource(refTables())
	rc := newTestCache(t, src, newMemProvider(), nil)

	a := Definition{Name: "a", Table: "currencies", Namespace: "cur", KeyField: "id", SourceProperty: "x"}
	b := Definition{Name: "b", Table: "currencies", Namespace: "cur", KeyField: "id", SourceProperty: "y"}
	rep, err := rc.Initialize(ctx, a, b)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !equalStrings(rep.Filled, []string{"a"}) || !equalStrings(rep.Skipped, []string{"b"}) {
		t.Fatalf("unexpected report %+v", rep)
	}
	if src.calls["currencies"] != 1 {
		t.Fatalf("calls: %v", src.calls)
	}
}

func TestConditionChangeCausesRefill(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	src := newCountingSource(refTables())

	eu := Definition{Name: "currency", Table: "currencies", KeyField: "id", Condition: map[string]any{"region": "eu"}}
	rc1 := newTestCache(t, src, mp, nil)
	if _, err := rc1.Initialize(ctx, eu); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	us := eu
	us.Condition = map[string]any{"region": "us"}
	rc2 := newTestCache(t, src, mp, nil)
	rep, err := rc2.Initialize(ctx, us)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if !equalStrings(rep.Filled, []string{"currency"}) || src.calls["currencies"] != 2 {
		t.Fatalf("expected refill on condition change: report=%+v calls=%v", rep, src.calls)
	}
	rows, _ := rc2.Lookup("currency", 1, 2)
	if got := codes(rows, "code"); !equalAny(got, []any{nil, "USD"}) {
		t.Fatalf("lookup after refill: %v", got)
	}
}

func TestConditionKeyOverridesFingerprint(t *testing.T) {
	ctx := context.Background()
	calls := 0
	src := source.Func(func(_ context.Context, _, _ string, cond any) (entity.Entities, error) {
		calls++
		return entity.Entities{"1": {"id": 1}}, nil
	})
	mp := newMemProvider()

	// functions cannot be encoded; ConditionKey names the subset instead
	d := Definition{Name: "d", Table: "t", KeyField: "id", Condition: func() {}, ConditionKey: "all"}
	for i := 0; i < 2; i++ {
		rc := newTestCache(t, src, mp, nil)
		if _, err := rc.Initialize(ctx, d); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected ConditionKey to make the namespace reusable, calls=%d", calls)
	}
}

// ==============================
// Invalidation
// ==============================

func TestInvalidateCausesRefill(t *testing.T) {
	ctx := context.Background()
	src := newCountingSource(refTables())
	rc := newTestCache(t, src, newMemProvider(), nil)

	if _, err := rc.Initialize(ctx, defCurrency, defCountry); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := rc.Invalidate(ctx, "currency"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	rows, _ := rc.Lookup("currency", 1)
	if rows[0] != nil {
		t.Fatalf("invalidated namespace should read as missing")
	}

	rep, err := rc.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if !equalStrings(rep.Filled, []string{"currency"}) || !equalStrings(rep.Skipped, []string{"country"}) {
		t.Fatalf("unexpected report %+v", rep)
	}
	if src.calls["currencies"] != 2 || src.calls["countries"] != 1 {
		t.Fatalf("calls: %v", src.calls)
	}

	if err := rc.Invalidate(ctx, "nope"); !errors.Is(err, ErrUnknownDefinition) {
		t.Fatalf("expected ErrUnknownDefinition, got %v", err)
	}
}

func TestRefreshRefillsOneDefinition(t *testing.T) {
	ctx := context.Background()
	src := newCountingSource(refTables())
	rc := newTestCache(t, src, newMemProvider(), nil)
	if _, err := rc.Initialize(ctx, defCurrency, defUnit); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	src.inner.(*source.Static).Tables["units"] = []entity.Row{{"code": "kg", "name": "kilo"}}
	rep, err := rc.Refresh(ctx, "unit")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if !equalStrings(rep.Filled, []string{"unit"}) {
		t.Fatalf("unexpected report %+v", rep)
	}
	rows, _ := rc.Lookup("unit", "kg")
	if got := codes(rows, "name"); !equalAny(got, []any{"kilo"}) {
		t.Fatalf("lookup after refresh: %v", got)
	}
}

func TestInvalidationIsSharedThroughRedisGenStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	newGens := func() genstore.GenStore {
		gs, err := genstore.NewRedisGenStore(genstore.RedisConfig{Client: rdb})
		if err != nil {
			t.Fatalf("NewRedisGenStore: %v", err)
		}
		return gs
	}
	mp := newMemProvider()
	srcA := newCountingSource(refTables())
	srcB := newCountingSource(refTables())
	a := newTestCache(t, srcA, mp, func(o *Options) { o.GenStore = newGens() })
	b := newTestCache(t, srcB, mp, func(o *Options) { o.GenStore = newGens() })

	if _, err := a.Initialize(ctx, defCurrency); err != nil {
		t.Fatalf("a.Initialize: %v", err)
	}
	if _, err := b.Initialize(ctx, defCurrency); err != nil {
		t.Fatalf("b.Initialize: %v", err)
	}
	if srcB.calls["currencies"] != 0 {
		t.Fatalf("b should reuse a's document: %v", srcB.calls)
	}

	if err := a.Invalidate(ctx, "currency"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if v, err := mr.Get("refgen:billing/currency"); err != nil || v != "1" {
		t.Fatalf("generation key = %q err=%v", v, err)
	}

	rep, err := b.Bootstrap(ctx)
	if err != nil {
		t.Fatalf("b.Bootstrap: %v", err)
	}
	if !equalStrings(rep.Filled, []string{"currency"}) || srcB.calls["currencies"] != 1 {
		t.Fatalf("b should refill after a's invalidation: report=%+v calls=%v", rep, srcB.calls)
	}
}

func storedGen(t *testing.T, mp pr.Provider, ns string) uint64 {
	t.Helper()
	st, err := NewProviderStore(mp, StoreOptions{})
	if err != nil {
		t.Fatalf("NewProviderStore: %v", err)
	}
	doc, ok, err := st.Read(context.Background(), "refcache:billing")
	if err != nil || !ok {
		t.Fatalf("Read: ok=%v err=%v", ok, err)
	}
	s, ok := doc[ns]
	if !ok {
		t.Fatalf("namespace %q not stored", ns)
	}
	return s.Gen
}

func TestRefreshedDocumentIsReusedByFreshInstance(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()

	a := newTestCache(t, newCountingSource(refTables()), mp, nil)
	if _, err := a.Initialize(ctx, defCurrency); err != nil {
		t.Fatalf("a.Initialize: %v", err)
	}
	if _, err := a.Refresh(ctx, "currency"); err != nil {
		t.Fatalf("a.Refresh: %v", err)
	}
	if g := storedGen(t, mp, "currency"); g != 1 {
		t.Fatalf("stored gen after refresh = %d, want 1", g)
	}

	// b has its own local generations, all at 0
	srcB := newCountingSource(refTables())
	b := newTestCache(t, srcB, mp, nil)
	rep, err := b.Initialize(ctx, defCurrency)
	if err != nil {
		t.Fatalf("b.Initialize: %v", err)
	}
	if srcB.calls["currencies"] != 0 || !equalStrings(rep.Skipped, []string{"currency"}) {
		t.Fatalf("b should reuse the refreshed document: calls=%v report=%+v", srcB.calls, rep)
	}
	if g := storedGen(t, mp, "currency"); g != 1 {
		t.Fatalf("stored gen lowered to %d", g)
	}
}

type failingGens struct{ genstore.GenStore }

func (failingGens) SnapshotMany(context.Context, []string) (map[string]uint64, error) {
	return nil, errors.New("gens unavailable")
}

func TestRefillNeverLowersStoredGeneration(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()

	a := newTestCache(t, newCountingSource(refTables()), mp, nil)
	if _, err := a.Initialize(ctx, defCurrency); err != nil {
		t.Fatalf("a.Initialize: %v", err)
	}
	if _, err := a.Refresh(ctx, "currency"); err != nil {
		t.Fatalf("a.Refresh: %v", err)
	}

	// changed condition forces a refill while generations are unreadable
	srcB := newCountingSource(refTables())
	b := newTestCache(t, srcB, mp, func(o *Options) { o.GenStore = failingGens{genstore.NewLocalGenStore()} })
	eu := defCurrency
	eu.Condition = map[string]any{"region": "eu"}
	rep, err := b.Initialize(ctx, eu)
	if err != nil {
		t.Fatalf("b.Initialize: %v", err)
	}
	if !equalStrings(rep.Filled, []string{"currency"}) || srcB.calls["currencies"] != 1 {
		t.Fatalf("expected refill: report=%+v calls=%v", rep, srcB.calls)
	}
	if g := storedGen(t, mp, "currency"); g != 1 {
		t.Fatalf("stored gen = %d, want 1", g)
	}
}

// ==============================
// Lookup
// ==============================

type invoice struct {
	CurrencyIDs []int
	CountryID   int64
}

func (i invoice) CacheKeys(p string) any {
	switch p {
	case "currencyIds":
		return i.CurrencyIDs
	case "countryId":
		return i.CountryID
	}
	return nil
}

func TestLookupPreservesOrderAndDuplicates(t *testing.T) {
	ctx := context.Background()
	rc := newTestCache(t, newCountingSource(refTables()), newMemProvider(), nil)
	if _, err := rc.Initialize(ctx, defCurrency, defCountry); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	rows, err := rc.GetCachedEntities("currency", AccessorOf(invoice{CurrencyIDs: []int{3, 1, 3, 99}}))
	if err != nil {
		t.Fatalf("GetCachedEntities: %v", err)
	}
	if got := codes(rows, "code"); !equalAny(got, []any{"PLN", "EUR", "PLN", nil}) {
		t.Fatalf("order/duplicates/miss: %v", got)
	}
	if rows[3] != nil {
		t.Fatalf("miss must be the nil sentinel")
	}
}

func TestLookupNormalizesScalars(t *testing.T) {
	ctx := context.Background()
	rc := newTestCache(t, newCountingSource(refTables()), newMemProvider(), nil)
	if _, err := rc.Initialize(ctx, defCountry); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	for _, v := range []any{3, int64(3), float64(3), "3", uint8(3)} {
		rows, err := rc.GetCachedEntities("country", MapAccessor(map[string]any{"countryId": v}))
		if err != nil {
			t.Fatalf("GetCachedEntities(%T): %v", v, err)
		}
		if got := codes(rows, "name"); !equalAny(got, []any{"France"}) {
			t.Fatalf("%T(%v) resolved to %v", v, v, got)
		}
	}

	rows, _ := rc.GetCachedEntities("country", MapAccessor(map[string]any{}))
	if len(rows) != 0 {
		t.Fatalf("nil property should yield no rows, got %v", rows)
	}
	rows, _ = rc.GetCachedEntities("country", MapAccessor(map[string]any{"countryId": []any{1, struct{}{}, 3}}))
	if got := codes(rows, "name"); !equalAny(got, []any{"Poland", nil, "France"}) {
		t.Fatalf("unconvertible key should be missing in place: %v", got)
	}
}

func TestNamespaceIsolation(t *testing.T) {
	ctx := context.Background()
	rc := newTestCache(t, newCountingSource(refTables()), newMemProvider(), nil)
	if _, err := rc.Initialize(ctx, defCurrency, defCountry); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	cur, _ := rc.Lookup("currency", 1)
	cty, _ := rc.Lookup("country", 1)
	if cur[0]["code"] != "EUR" || cty[0]["name"] != "Poland" {
		t.Fatalf("same key must resolve per namespace: %v / %v", cur, cty)
	}
	if _, ok := cty[0]["code"]; ok {
		t.Fatalf("country row leaked currency fields: %v", cty[0])
	}
}

func TestLookupUnknownDefinition(t *testing.T) {
	rc := newTestCache(t, newCountingSource(refTables()), newMemProvider(), nil)
	if _, err := rc.GetCachedEntities("nope", MapAccessor(nil)); !errors.Is(err, ErrUnknownDefinition) {
		t.Fatalf("expected ErrUnknownDefinition, got %v", err)
	}
	var de *DefinitionError
	if _, err := rc.Lookup("nope", 1); !errors.As(err, &de) || de.Name != "nope" {
		t.Fatalf("expected *DefinitionError, got %v", err)
	}
}

func TestLookupBeforeBootstrapIsAllMissing(t *testing.T) {
	rc := newTestCache(t, newCountingSource(refTables()), newMemProvider(), nil)
	mustImpl(t, rc).reg.Register(defCurrency)

	rows, err := rc.Lookup("currency", 1, 2)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(rows) != 2 || rows[0] != nil || rows[1] != nil {
		t.Fatalf("expected all missing, got %v", rows)
	}
}

// ==============================
// Disabled
// ==============================

func TestDisabledCache(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	src := newCountingSource(refTables())
	rc := newTestCache(t, src, mp, func(o *Options) { o.Disabled = true })

	if rc.Enabled() {
		t.Fatalf("Enabled() should be false")
	}
	rep, err := rc.Initialize(ctx, defCurrency)
	if err != nil || !rep.Disabled {
		t.Fatalf("disabled bootstrap: rep=%+v err=%v", rep, err)
	}
	if len(src.calls) != 0 || mp.sets != 0 {
		t.Fatalf("disabled cache touched adapters: calls=%v sets=%d", src.calls, mp.sets)
	}
	rows, _ := rc.Lookup("currency", 1)
	if rows[0] != nil {
		t.Fatalf("disabled lookups are all missing")
	}
	if err := rc.Invalidate(ctx, "currency"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
}

// ==============================
// Options
// ==============================

func TestTTLAndKeyPrefixReachProvider(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	rc := newTestCache(t, newCountingSource(refTables()), mp, func(o *Options) {
		o.TTL = time.Hour
		o.KeyPrefix = "ref"
	})
	if _, err := rc.Initialize(ctx, defUnit); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	e, ok := mp.m["ref:billing"]
	if !ok {
		t.Fatalf("expected document under ref:billing, have %v", mp.m)
	}
	if e.exp.IsZero() {
		t.Fatalf("TTL not forwarded")
	}
}

func TestFilledAtUsesClock(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rc := newTestCache(t, newCountingSource(refTables()), newMemProvider(), func(o *Options) {
		o.Now = func() time.Time { return at }
	})
	if _, err := rc.Initialize(ctx, defUnit); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	s, ok := mustImpl(t, rc).wc.Scaffold("unit")
	if !ok || !s.FilledAt.Equal(at) {
		t.Fatalf("FilledAt = %v", s.FilledAt)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func defNames(defs []Definition) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Name
	}
	return out
}
