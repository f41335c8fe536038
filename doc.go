// Package refcache is a read-through cache of reference data ("lookup
// lists") for one owner.
//
// Definitions name the lists: a table, the field the rows are keyed by, an
// optional filter condition, and the consumer property that holds the keys to
// resolve. Bootstrap fills every definition that is not already cached and
// writes the owner document back after each fill, so a failing definition
// never costs the ones filled before it.
//
// Components:
//   - Source: table reader (gormdb, dynamo, Static, Func).
//   - Store: persists whole owner documents. ProviderStore puts them in a
//     byte Provider (Ristretto, BigCache, Redis, bbolt, Badger) through a
//     Codec and the wire envelope.
//   - GenStore: generation per namespace. Invalidate bumps it and the next
//     bootstrap refills; a Redis GenStore spreads that to other processes.
//
// Keys:
//
//	refcache:<owner>           - owner document in the provider
//	<owner>/<namespace>        - generation counter
//
// Usage:
//
//	rc, _ := refcache.New(refcache.Options{Owner: "billing", Source: src, Provider: p})
//	_, err := rc.Initialize(ctx, defs...)
//	rows, _ := rc.GetCachedEntities("currency", refcache.MapAccessor(invoice))
package refcache
