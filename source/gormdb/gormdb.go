// Package gormdb reads reference tables through gorm.
//
// Accepted conditions:
//
//	nil                      - every row
//	map[string]any           - column equality, ANDed
//	string                   - raw WHERE clause without arguments
//	Where{Query, Args}       - WHERE clause with bind arguments
//	Scope                    - arbitrary gorm scope; pair it with a Definition.ConditionKey
package gormdb

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/unkn0wn-root/refcache/entity"
	"github.com/unkn0wn-root/refcache/source"
)

var ErrNilDB = errors.New("gormdb: nil db")

// Where is a parameterized WHERE clause.
type Where struct {
	Query string
	Args  []any
}

// Scope narrows the query with any gorm chain.
type Scope func(*gorm.DB) *gorm.DB

type Source struct {
	db *gorm.DB
}

var _ source.Source = (*Source)(nil)

func New(db *gorm.DB) (*Source, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	return &Source{db: db}, nil
}

func (s *Source) FetchKeyed(ctx context.Context, table, keyField string, condition any) (entity.Entities, error) {
	q := s.db.WithContext(ctx).Table(table)
	switch c := condition.(type) {
	case nil:
	case map[string]any:
		q = q.Where(c)
	case string:
		q = q.Where(c)
	case Where:
		q = q.Where(c.Query, c.Args...)
	case *Where:
		q = q.Where(c.Query, c.Args...)
	case Scope:
		q = q.Scopes(c)
	default:
		return nil, fmt.Errorf("gormdb: %w: %T", source.ErrUnsupportedCondition, condition)
	}

	var raw []map[string]any
	if err := q.Find(&raw).Error; err != nil {
		return nil, fmt.Errorf("gormdb: fetch %s: %w", table, err)
	}
	rows := make([]entity.Row, len(raw))
	for i, r := range raw {
		rows[i] = entity.Row(r)
	}
	return source.KeyRows(rows, keyField)
}
