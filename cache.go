package refcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/unkn0wn-root/refcache/entity"
	gen "github.com/unkn0wn-root/refcache/genstore"
	"github.com/unkn0wn-root/refcache/internal/util"
	"github.com/unkn0wn-root/refcache/source"
)

const defaultKeyPrefix = "refcache"

type cache struct {
	mu sync.RWMutex

	owner   string
	src     source.Source
	store   Store
	gen     gen.GenStore
	log     Logger
	hooks   Hooks
	now     func() time.Time
	enabled bool

	reg  *Registry
	wc   *WorkingCopy
	last *Report
}

func newCache(opts Options) (*cache, error) {
	if opts.Owner == "" {
		return nil, fmt.Errorf("refcache: owner is required")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("refcache: source is required")
	}

	store := opts.Store
	if store == nil {
		if opts.Provider == nil {
			return nil, fmt.Errorf("refcache: store or provider is required")
		}
		ps, err := NewProviderStore(opts.Provider, StoreOptions{Codec: opts.Codec, TTL: opts.TTL})
		if err != nil {
			return nil, err
		}
		store = ps
	}

	c := &cache{
		owner:   opts.Owner,
		src:     opts.Source,
		store:   store,
		enabled: !opts.Disabled,
		reg:     NewRegistry(),
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.gen = coalesce[gen.GenStore](opts.GenStore, gen.NewLocalGenStore())
	prefix := coalesce(opts.KeyPrefix, defaultKeyPrefix)
	if opts.Now != nil {
		c.now = opts.Now
	} else {
		c.now = time.Now
	}

	c.wc = NewWorkingCopy(store, util.StoreKey(prefix, c.owner))
	return c, nil
}

func (c *cache) Enabled() bool { return c.enabled }

func (c *cache) Owner() string { return c.owner }

func (c *cache) Close(ctx context.Context) error {
	// Close gen store first (best effort)
	if c.gen != nil {
		_ = c.gen.Close(ctx)
	}
	return c.store.Close(ctx)
}

func (c *cache) Initialize(ctx context.Context, defs ...Definition) (*Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.register(defs)
	return c.bootstrap(ctx)
}

func (c *cache) AddDefinitions(ctx context.Context, defs ...Definition) (*Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.register(defs)
	return c.bootstrap(ctx)
}

func (c *cache) Bootstrap(ctx context.Context) (*Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bootstrap(ctx)
}

func (c *cache) register(defs []Definition) {
	for _, d := range defs {
		if others := c.reg.Conflicts(d); len(others) > 0 {
			ns := d.StorageNamespace()
			c.hooks.NamespaceConflict(ns, others[0], d.Name)
			c.log.Warn("namespace shared with a different condition", Fields{
				"owner": c.owner, "namespace": ns, "definition": d.Name, "existing": others,
			})
		}
		c.reg.Register(d)
	}
}

func (c *cache) bootstrap(ctx context.Context) (*Report, error) {
	start := c.now()
	rep := &Report{Owner: c.owner}
	defer func() {
		rep.Took = c.now().Sub(start)
		c.last = rep
	}()

	if !c.enabled {
		rep.Disabled = true
		return rep, nil
	}

	if !c.wc.Loaded() {
		if err := c.wc.Load(ctx); err != nil {
			rep.ColdStart = true
			if errors.Is(err, ErrMalformedCacheEntry) {
				c.hooks.MalformedEntry(c.owner, err)
			}
			c.log.Warn("owner document unreadable; starting cold", Fields{"owner": c.owner, "err": err})
		}
	}

	defs := c.reg.Definitions()
	gens := c.snapshotGens(ctx, defs)

	// first definition (registration order) to claim a namespace owns it
	claimed := make(map[string]Definition, len(defs))
	for _, d := range defs {
		ns, fp := d.StorageNamespace(), d.ConditionFingerprint()

		prev, held := claimed[ns]
		if !held {
			claimed[ns] = d
		} else if prev.ConditionFingerprint() != fp {
			c.fail(rep, d, fmt.Errorf("%w: held by %q", ErrNamespaceConflict, prev.Name))
			continue
		}

		// a scaffold filled at or after the current generation is fresh;
		// other instances may run their own counters behind a shared store
		cur := gens[util.GenKey(c.owner, ns)]
		s, cached := c.wc.Scaffold(ns)
		if cached && s.Condition == fp && s.Gen >= cur {
			rep.Skipped = append(rep.Skipped, d.Name)
			c.hooks.DefinitionSkipped(c.owner, ns)
			continue
		}
		if cached && s.Gen > cur {
			cur = s.Gen // never write a generation backwards
		}

		n, err := c.fill(ctx, d, ns, fp, cur)
		if err != nil {
			c.fail(rep, d, err)
			continue
		}
		rep.Filled = append(rep.Filled, d.Name)
		c.hooks.DefinitionFilled(c.owner, ns, n)
		c.log.Debug("definition filled", Fields{"owner": c.owner, "definition": d.Name, "namespace": ns, "entities": n})

		// write-through per fill
		if err := c.wc.Flush(ctx); err != nil {
			rep.Persist = append(rep.Persist, err)
			c.hooks.StoreWriteFailed(c.owner, err)
			c.log.Error("flush failed", Fields{"owner": c.owner, "definition": d.Name, "err": err})
		}
	}

	return rep, rep.Err()
}

func (c *cache) snapshotGens(ctx context.Context, defs []Definition) map[string]uint64 {
	keys := make([]string, 0, len(defs))
	seen := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		k := util.GenKey(c.owner, d.StorageNamespace())
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	gens, err := c.gen.SnapshotMany(ctx, keys)
	if err != nil {
		// unknown generations read as 0, so every cached scaffold counts as fresh
		c.log.Warn("generation snapshot failed", Fields{"owner": c.owner, "err": err})
		return map[string]uint64{}
	}
	return gens
}

func (c *cache) fill(ctx context.Context, d Definition, ns, fp string, g uint64) (int, error) {
	if d.Table == "" {
		return 0, ErrMissingTableIdentifier
	}
	if d.KeyField == "" {
		return 0, ErrMissingKeyField
	}
	ents, err := c.src.FetchKeyed(ctx, d.Table, d.KeyField, d.Condition)
	if err != nil {
		return 0, fmt.Errorf("fetch %q: %w", d.Table, err)
	}
	if ents == nil {
		ents = entity.Entities{}
	}
	c.wc.Put(ns, entity.Scaffold{
		Entities:  ents,
		Condition: fp,
		Gen:       g,
		FilledAt:  c.now().UTC(),
	})
	return len(ents), nil
}

func (c *cache) fail(rep *Report, d Definition, err error) {
	de := &DefinitionError{Name: d.Name, Namespace: d.StorageNamespace(), Err: err}
	rep.Failed = append(rep.Failed, de)
	c.hooks.DefinitionFailed(c.owner, d.Name, err)
	c.log.Warn("definition not populated", Fields{"owner": c.owner, "definition": d.Name, "err": err})
}

func (c *cache) Invalidate(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.invalidate(ctx, name)
}

func (c *cache) invalidate(ctx context.Context, name string) error {
	d, err := c.reg.Get(name)
	if err != nil {
		return err
	}
	if !c.enabled {
		return nil
	}
	ns := d.StorageNamespace()
	if h, ok := c.reg.Holder(ns); ok && h.Name != d.Name && h.ConditionFingerprint() != d.ConditionFingerprint() {
		return &DefinitionError{Name: d.Name, Namespace: ns, Err: fmt.Errorf("%w: held by %q", ErrNamespaceConflict, h.Name)}
	}
	newGen, err := c.gen.Bump(ctx, util.GenKey(c.owner, ns))
	if err != nil {
		return fmt.Errorf("refcache: bump %q: %w", ns, err)
	}
	c.log.Debug("invalidated namespace (bumped gen)", Fields{"owner": c.owner, "namespace": ns, "newGen": newGen})
	if !c.wc.Loaded() {
		return nil
	}
	c.wc.Drop(ns)
	return c.wc.Flush(ctx)
}

func (c *cache) Refresh(ctx context.Context, name string) (*Report, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.invalidate(ctx, name); err != nil {
		return nil, err
	}
	return c.bootstrap(ctx)
}

func (c *cache) GetCachedEntities(name string, from Accessor) ([]entity.Row, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, err := c.reg.Get(name)
	if err != nil {
		return nil, err
	}
	var keys []lookupKey
	if from != nil {
		keys = keysOf(from(d.SourceProperty))
	}
	return c.resolve(d, keys), nil
}

func (c *cache) Lookup(name string, keys ...any) ([]entity.Row, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, err := c.reg.Get(name)
	if err != nil {
		return nil, err
	}
	var lk []lookupKey
	if len(keys) == 1 {
		lk = keysOf(keys[0])
	} else {
		lk = keysOf(keys)
	}
	return c.resolve(d, lk), nil
}

// resolve reads the namespace only when it holds d's row subset.
func (c *cache) resolve(d Definition, keys []lookupKey) []entity.Row {
	var ents entity.Entities
	if c.enabled && c.wc.Loaded() {
		if s, ok := c.wc.Scaffold(d.StorageNamespace()); ok && s.Condition == d.ConditionFingerprint() {
			ents = s.Entities
		}
	}
	return resolve(ents, keys)
}

func (c *cache) Definitions() []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reg.Definitions()
}

func (c *cache) Report() *Report {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}
