package refcache

import (
	"context"
	"errors"
	"fmt"
	"time"

	c "github.com/unkn0wn-root/refcache/codec"
	"github.com/unkn0wn-root/refcache/entity"
	"github.com/unkn0wn-root/refcache/internal/wire"
	pr "github.com/unkn0wn-root/refcache/provider"
)

// Store persists whole owner documents. Read returns (doc, true, nil) on hit,
// (nil, false, nil) when absent, and an error wrapping ErrMalformedCacheEntry
// when the stored value is not an owner document.
type Store interface {
	Read(ctx context.Context, key string) (entity.Document, bool, error)
	Write(ctx context.Context, key string, doc entity.Document) error
	Close(ctx context.Context) error
}

type SetCostFunc func(key string, raw []byte) int64

// ProviderStore is the Store used by default: owner documents are encoded
// with a codec, framed by the wire envelope and kept in a byte provider.
type ProviderStore struct {
	provider pr.Provider
	codec    c.DocumentCodec
	ttl      time.Duration
	cost     SetCostFunc
}

var _ Store = (*ProviderStore)(nil)

type StoreOptions struct {
	Codec c.DocumentCodec // nil => JSON
	TTL   time.Duration   // forwarded on every write; 0 => no expiry
	Cost  SetCostFunc     // nil => encoded size
}

func NewProviderStore(p pr.Provider, opts StoreOptions) (*ProviderStore, error) {
	if p == nil {
		return nil, errors.New("refcache: provider is required")
	}
	s := &ProviderStore{provider: p, codec: opts.Codec, ttl: opts.TTL, cost: opts.Cost}
	if s.codec == nil {
		s.codec = c.JSON[entity.Document]{}
	}
	if s.cost == nil {
		s.cost = func(_ string, raw []byte) int64 { return int64(len(raw)) }
	}
	return s, nil
}

func (s *ProviderStore) Read(ctx context.Context, key string) (entity.Document, bool, error) {
	raw, ok, err := s.provider.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	payload, err := wire.DecodeDocument(raw)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrMalformedCacheEntry, err)
	}
	doc, err := s.codec.Decode(payload)
	if err != nil {
		return nil, false, fmt.Errorf("%w: decode: %v", ErrMalformedCacheEntry, err)
	}
	if doc == nil {
		return nil, false, fmt.Errorf("%w: not a mapping", ErrMalformedCacheEntry)
	}
	return doc, true, nil
}

func (s *ProviderStore) Write(ctx context.Context, key string, doc entity.Document) error {
	payload, err := s.codec.Encode(doc)
	if err != nil {
		return fmt.Errorf("refcache: encode %q: %w", key, err)
	}
	raw := wire.EncodeDocument(payload)
	ok, err := s.provider.Set(ctx, key, raw, s.cost(key, raw), s.ttl)
	if err != nil {
		return err
	}
	if !ok {
		return ErrWriteRejected
	}
	return nil
}

func (s *ProviderStore) Close(ctx context.Context) error {
	return s.provider.Close(ctx)
}
