package refcache

import (
	"reflect"

	"github.com/unkn0wn-root/refcache/entity"
	"github.com/unkn0wn-root/refcache/internal/util"
)

// Accessor hands the cache the value of one consumer property. It is called
// with a definition's SourceProperty and may return nil, a scalar, or a
// slice/array of scalars.
type Accessor func(property string) any

// KeySource is implemented by consumer types that expose their own lookup keys.
type KeySource interface {
	CacheKeys(property string) any
}

// AccessorOf adapts a KeySource.
func AccessorOf(ks KeySource) Accessor {
	if ks == nil {
		return func(string) any { return nil }
	}
	return ks.CacheKeys
}

// MapAccessor reads properties from a plain map.
func MapAccessor(m map[string]any) Accessor {
	return func(p string) any { return m[p] }
}

// keysOf flattens v into lookup keys. Elements that cannot be rendered as a
// key yield ok=false at their position so they resolve to Missing.
func keysOf(v any) []lookupKey {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			break // []byte is a scalar
		}
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]lookupKey, rv.Len())
		for i := range out {
			out[i] = toKey(rv.Index(i).Interface())
		}
		return out
	}
	return []lookupKey{toKey(v)}
}

type lookupKey struct {
	s  string
	ok bool
}

func toKey(v any) lookupKey {
	if v == nil {
		return lookupKey{}
	}
	s, err := util.Key(v)
	if err != nil {
		return lookupKey{}
	}
	return lookupKey{s: s, ok: true}
}

// resolve maps keys to rows in order, duplicates included.
func resolve(ents entity.Entities, keys []lookupKey) []entity.Row {
	out := make([]entity.Row, len(keys))
	for i, k := range keys {
		if !k.ok {
			out[i] = entity.Missing
			continue
		}
		if r, ok := ents[k.s]; ok {
			out[i] = r
		} else {
			out[i] = entity.Missing
		}
	}
	return out
}
