// Package dynamo reads reference tables from DynamoDB with paginated Scans.
//
// Accepted conditions: nil, map[string]any (attribute equality, ANDed) and
// Filter for arbitrary condition expressions.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/unkn0wn-root/refcache/entity"
	"github.com/unkn0wn-root/refcache/source"
)

var ErrNilClient = errors.New("dynamo source: nil client")

// ScanAPI is the slice of the DynamoDB client this source needs.
type ScanAPI interface {
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Filter carries a prebuilt condition expression. ID is its cache identity:
// two filters with the same ID are assumed to select the same rows.
type Filter struct {
	ID   string
	Cond expression.ConditionBuilder
}

func (f Filter) Fingerprint() string { return "dynamo:" + f.ID }

type Config struct {
	Client ScanAPI
	// ConsistentRead requests strongly consistent scans.
	ConsistentRead bool
	// PageSize caps items per Scan page; 0 leaves it to DynamoDB.
	PageSize int32
}

type Source struct {
	client     ScanAPI
	consistent bool
	pageSize   int32
}

var _ source.Source = (*Source)(nil)

func New(cfg Config) (*Source, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Source{client: cfg.Client, consistent: cfg.ConsistentRead, pageSize: cfg.PageSize}, nil
}

func (s *Source) FetchKeyed(ctx context.Context, table, keyField string, condition any) (entity.Entities, error) {
	in := &dynamodb.ScanInput{TableName: aws.String(table)}
	if s.consistent {
		in.ConsistentRead = aws.Bool(true)
	}
	if s.pageSize > 0 {
		in.Limit = aws.Int32(s.pageSize)
	}

	cond, ok, err := buildCondition(condition)
	if err != nil {
		return nil, err
	}
	if ok {
		expr, err := expression.NewBuilder().WithFilter(cond).Build()
		if err != nil {
			return nil, fmt.Errorf("dynamo source: build filter: %w", err)
		}
		in.FilterExpression = expr.Filter()
		in.ExpressionAttributeNames = expr.Names()
		in.ExpressionAttributeValues = expr.Values()
	}

	var rows []entity.Row
	for {
		out, err := s.client.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("dynamo source: scan %s: %w", table, err)
		}
		for _, item := range out.Items {
			var r map[string]any
			if err := attributevalue.UnmarshalMap(item, &r); err != nil {
				return nil, fmt.Errorf("dynamo source: unmarshal %s: %w", table, err)
			}
			rows = append(rows, entity.Row(r))
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	return source.KeyRows(rows, keyField)
}

func buildCondition(condition any) (expression.ConditionBuilder, bool, error) {
	switch c := condition.(type) {
	case nil:
		return expression.ConditionBuilder{}, false, nil
	case Filter:
		return c.Cond, true, nil
	case map[string]any:
		if len(c) == 0 {
			return expression.ConditionBuilder{}, false, nil
		}
		// sorted for a stable expression across calls
		names := make([]string, 0, len(c))
		for n := range c {
			names = append(names, n)
		}
		sort.Strings(names)
		cond := expression.Name(names[0]).Equal(expression.Value(c[names[0]]))
		for _, n := range names[1:] {
			cond = cond.And(expression.Name(n).Equal(expression.Value(c[n])))
		}
		return cond, true, nil
	default:
		return expression.ConditionBuilder{}, false, fmt.Errorf("dynamo source: %w: %T", source.ErrUnsupportedCondition, condition)
	}
}
