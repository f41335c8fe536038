// Package source defines the backing-table contract the cache populates from.
//
// A Source is only called on a cold namespace. Implementations receive the
// definition's condition verbatim and decide which condition types they accept.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/refcache/entity"
	"github.com/unkn0wn-root/refcache/internal/util"
)

// ErrUnsupportedCondition is returned when a Source cannot interpret the
// condition it was given.
var ErrUnsupportedCondition = errors.New("source: unsupported condition")

// Source fetches the rows of table matching condition, keyed by keyField.
// Rows sharing a key value overwrite earlier ones (see KeyRows).
type Source interface {
	FetchKeyed(ctx context.Context, table, keyField string, condition any) (entity.Entities, error)
}

// Func adapts a function to Source.
type Func func(ctx context.Context, table, keyField string, condition any) (entity.Entities, error)

func (f Func) FetchKeyed(ctx context.Context, table, keyField string, condition any) (entity.Entities, error) {
	return f(ctx, table, keyField, condition)
}

// KeyRows keys rows by the value of keyField. Rows lacking the field are
// skipped. When two rows share a key value the later one wins.
func KeyRows(rows []entity.Row, keyField string) (entity.Entities, error) {
	out := make(entity.Entities, len(rows))
	for i, r := range rows {
		v, ok := r[keyField]
		if !ok || v == nil {
			continue
		}
		k, err := util.Key(v)
		if err != nil {
			return nil, fmt.Errorf("source: row %d: key %q: %w", i, keyField, err)
		}
		out[k] = r
	}
	return out, nil
}

// Static serves rows from memory. Tables map a table name to its rows.
// Conditions are equality filters (map[string]any) or nil.
type Static struct {
	Tables map[string][]entity.Row
}

var _ Source = (*Static)(nil)

func (s *Static) FetchKeyed(_ context.Context, table, keyField string, condition any) (entity.Entities, error) {
	rows, ok := s.Tables[table]
	if !ok {
		return nil, fmt.Errorf("source: unknown table %q", table)
	}
	var eq map[string]any
	switch c := condition.(type) {
	case nil:
	case map[string]any:
		eq = c
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedCondition, condition)
	}
	matched := make([]entity.Row, 0, len(rows))
	for _, r := range rows {
		if Matches(r, eq) {
			matched = append(matched, r)
		}
	}
	return KeyRows(matched, keyField)
}

// Matches reports whether every field in eq equals the row's value for it,
// comparing by canonical key form.
func Matches(r entity.Row, eq map[string]any) bool {
	for f, want := range eq {
		got, ok := r[f]
		if !ok {
			return false
		}
		gs, err1 := util.Key(got)
		ws, err2 := util.Key(want)
		if err1 != nil || err2 != nil || gs != ws {
			return false
		}
	}
	return true
}
