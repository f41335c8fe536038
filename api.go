package refcache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/refcache/codec"
	"github.com/unkn0wn-root/refcache/entity"
	gen "github.com/unkn0wn-root/refcache/genstore"
	pr "github.com/unkn0wn-root/refcache/provider"
	"github.com/unkn0wn-root/refcache/source"
)

// Cache is the read-through reference data cache of one owner.
//
// Populating (Initialize, AddDefinitions, Bootstrap, Invalidate, Refresh)
// talks to the source and the store. Lookups never do: they only read the
// in-memory working copy.
type Cache interface {
	Enabled() bool
	Owner() string
	Close(context.Context) error

	// Population
	Initialize(ctx context.Context, defs ...Definition) (*Report, error)
	AddDefinitions(ctx context.Context, defs ...Definition) (*Report, error)
	Bootstrap(ctx context.Context) (*Report, error)
	Invalidate(ctx context.Context, name string) error
	Refresh(ctx context.Context, name string) (*Report, error)

	// Lookup (order and duplicates preserved; misses are entity.Missing)
	GetCachedEntities(name string, from Accessor) ([]entity.Row, error)
	Lookup(name string, keys ...any) ([]entity.Row, error)

	Definitions() []Definition
	Report() *Report
}

// Options configure a Cache. Owner and Source are required, plus either a
// Store or a Provider.
type Options struct {
	// Required
	Owner  string        // store key suffix, e.g. "billing"
	Source source.Source // where definitions are filled from

	Store    Store           // full control over persistence; wins over Provider
	Provider pr.Provider     // byte store used through the default ProviderStore
	Codec    c.DocumentCodec // nil => JSON

	Logger    Logger        // if nil, NopLogger is used
	Hooks     Hooks         // if nil, NopHooks is used
	GenStore  gen.GenStore  // nil => LocalGenStore (in-process)
	TTL       time.Duration // forwarded to the provider; 0 => no expiry
	KeyPrefix string        // default "refcache"
	Disabled  bool          // default false (enabled)
	Now       func() time.Time
}

func New(opts Options) (Cache, error) {
	return newCache(opts)
}
