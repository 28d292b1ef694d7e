// Package memdb is an in-memory stand-in for the DynamoDB operations used by
// the store package. It evaluates only the condition expressions that package
// emits: attribute_not_exists(x), attribute_exists(x) and x = :v.
package memdb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Index is a secondary index keyed on a single string attribute, optionally
// sorted by a second string attribute.
type Index struct {
	Name     string
	Attr     string
	SortAttr string
}

type table struct {
	key     string
	items   map[string]map[string]types.AttributeValue
	indexes map[string]Index
}

// DB holds tables in memory. It is safe for concurrent use.
type DB struct {
	mu     sync.Mutex
	tables map[string]*table

	TransactCalls int
}

func New() *DB {
	return &DB{tables: map[string]*table{}}
}

// CreateTable registers a table with a string partition key.
func (d *DB) CreateTable(name, key string, indexes ...Index) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &table{key: key, items: map[string]map[string]types.AttributeValue{}, indexes: map[string]Index{}}
	for _, ix := range indexes {
		t.indexes[ix.Name] = ix
	}
	d.tables[name] = t
}

// Len returns the number of items in a table.
func (d *DB) Len(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.tables[name]; ok {
		return len(t.items)
	}
	return 0
}

func (d *DB) GetItem(_ context.Context, params *dyn.GetItemInput, _ ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, pk, err := d.locate(params.TableName, params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := t.items[pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(item)}, nil
}

func (d *DB) PutItem(_ context.Context, params *dyn.PutItemInput, _ ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, pk, err := d.locateItem(params.TableName, params.Item)
	if err != nil {
		return nil, err
	}
	ok, err := eval(params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, t.items[pk])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	t.items[pk] = clone(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (d *DB) Query(_ context.Context, params *dyn.QueryInput, _ ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[deref(params.TableName)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: strPtr("table not found: " + deref(params.TableName))}
	}

	attr, sortAttr := t.key, ""
	if params.IndexName != nil {
		ix, ok := t.indexes[*params.IndexName]
		if !ok {
			return nil, fmt.Errorf("memdb: unknown index %s", *params.IndexName)
		}
		attr, sortAttr = ix.Attr, ix.SortAttr
	}

	lhs, rhs, ok := strings.Cut(deref(params.KeyConditionExpression), " = ")
	if !ok {
		return nil, fmt.Errorf("memdb: unsupported key condition %q", deref(params.KeyConditionExpression))
	}
	if name := resolveName(strings.TrimSpace(lhs), params.ExpressionAttributeNames); name != attr {
		return nil, fmt.Errorf("memdb: key condition on %s, index is on %s", name, attr)
	}
	want := params.ExpressionAttributeValues[strings.TrimSpace(rhs)]

	var out []map[string]types.AttributeValue
	for _, item := range t.items {
		if equal(item[attr], want) {
			out = append(out, clone(item))
		}
	}

	by := sortAttr
	if by == "" {
		by = t.key
	}
	sort.Slice(out, func(i, j int) bool { return str(out[i][by]) < str(out[j][by]) })
	if params.ScanIndexForward != nil && !*params.ScanIndexForward {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if params.Limit != nil && int(*params.Limit) < len(out) {
		out = out[:*params.Limit]
	}
	return &dyn.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func (d *DB) TransactWriteItems(_ context.Context, params *dyn.TransactWriteItemsInput, _ ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.TransactCalls++

	type staged struct {
		t    *table
		pk   string
		item map[string]types.AttributeValue
	}
	var puts []staged
	seen := map[string]bool{}
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false

	for i, it := range params.TransactItems {
		var (
			t      *table
			pk     string
			err    error
			cond   *string
			names  map[string]string
			values map[string]types.AttributeValue
			tbl    *string
		)
		switch {
		case it.Put != nil:
			tbl = it.Put.TableName
			t, pk, err = d.locateItem(tbl, it.Put.Item)
			cond, names, values = it.Put.ConditionExpression, it.Put.ExpressionAttributeNames, it.Put.ExpressionAttributeValues
		case it.ConditionCheck != nil:
			tbl = it.ConditionCheck.TableName
			t, pk, err = d.locate(tbl, it.ConditionCheck.Key)
			cond, names, values = it.ConditionCheck.ConditionExpression, it.ConditionCheck.ExpressionAttributeNames, it.ConditionCheck.ExpressionAttributeValues
		default:
			return nil, fmt.Errorf("memdb: transact item %d: only Put and ConditionCheck are supported", i)
		}
		if err != nil {
			return nil, err
		}

		id := deref(tbl) + "/" + pk
		if seen[id] {
			return nil, fmt.Errorf("memdb: transaction touches %s more than once", id)
		}
		seen[id] = true

		ok, err := eval(cond, names, values, t.items[pk])
		if err != nil {
			return nil, err
		}
		if ok {
			reasons[i] = types.CancellationReason{Code: strPtr("None")}
		} else {
			reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed"), Message: strPtr("The conditional request failed")}
			failed = true
		}
		if it.Put != nil {
			puts = append(puts, staged{t: t, pk: pk, item: it.Put.Item})
		}
	}

	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, p := range puts {
		p.t.items[p.pk] = clone(p.item)
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (d *DB) locate(name *string, key map[string]types.AttributeValue) (*table, string, error) {
	t, ok := d.tables[deref(name)]
	if !ok {
		return nil, "", &types.ResourceNotFoundException{Message: strPtr("table not found: " + deref(name))}
	}
	s, ok := key[t.key].(*types.AttributeValueMemberS)
	if !ok {
		return nil, "", fmt.Errorf("memdb: %s: missing string key %s", deref(name), t.key)
	}
	return t, s.Value, nil
}

func (d *DB) locateItem(name *string, item map[string]types.AttributeValue) (*table, string, error) {
	t, ok := d.tables[deref(name)]
	if !ok {
		return nil, "", &types.ResourceNotFoundException{Message: strPtr("table not found: " + deref(name))}
	}
	return d.locate(name, map[string]types.AttributeValue{t.key: item[t.key]})
}

func eval(expr *string, names map[string]string, values map[string]types.AttributeValue, current map[string]types.AttributeValue) (bool, error) {
	e := strings.TrimSpace(deref(expr))
	switch {
	case e == "":
		return true, nil
	case strings.HasPrefix(e, "attribute_not_exists(") && strings.HasSuffix(e, ")"):
		name := resolveName(e[len("attribute_not_exists("):len(e)-1], names)
		_, exists := current[name]
		return !exists, nil
	case strings.HasPrefix(e, "attribute_exists(") && strings.HasSuffix(e, ")"):
		name := resolveName(e[len("attribute_exists("):len(e)-1], names)
		_, exists := current[name]
		return exists, nil
	}
	lhs, rhs, ok := strings.Cut(e, " = ")
	if !ok {
		return false, fmt.Errorf("memdb: unsupported condition %q", e)
	}
	want, ok := values[strings.TrimSpace(rhs)]
	if !ok {
		return false, fmt.Errorf("memdb: condition references unknown value %s", rhs)
	}
	return equal(current[resolveName(strings.TrimSpace(lhs), names)], want), nil
}

func resolveName(s string, names map[string]string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#") {
		if n, ok := names[s]; ok {
			return n
		}
	}
	return s
}

func equal(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	}
	return false
}

func str(v types.AttributeValue) string {
	switch av := v.(type) {
	case *types.AttributeValueMemberS:
		return av.Value
	case *types.AttributeValueMemberN:
		return av.Value
	}
	return ""
}

func clone(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func strPtr(s string) *string { return &s }
