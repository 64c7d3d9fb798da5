// Package awstest provides in-memory stand-ins for the AWS clients used in tests.
package awstest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Dynamo is a small in-memory DynamoDB. It understands the expression subset the stores
// use: SET clauses, conditions joined with AND (attribute_exists, attribute_not_exists,
// comparisons and IN), all-or-nothing TransactWriteItems and Query over registered
// indexes. All calls are serialized by one mutex so conditional writes behave atomically
// under concurrent callers.
type Dynamo struct {
	mu      sync.Mutex
	keys    map[string]string
	indexes map[string]map[string]index
	tables  map[string]map[string]map[string]types.AttributeValue

	failTransactAt  int
	failTransactErr error

	PutCalls      int
	GetCalls      int
	UpdateCalls   int
	TransactCalls int

	// FailNext, when set, is returned by the next call of any kind and then cleared.
	FailNext error
}

// NewDynamo returns an empty Dynamo. tables maps table name to partition key attribute.
func NewDynamo(tables map[string]string) *Dynamo {
	d := &Dynamo{
		keys:    map[string]string{},
		indexes: map[string]map[string]index{},
		tables:  map[string]map[string]map[string]types.AttributeValue{},
	}
	for name, pk := range tables {
		d.keys[name] = pk
		d.tables[name] = map[string]map[string]types.AttributeValue{}
		d.indexes[name] = map[string]index{}
	}
	return d
}

type index struct {
	hash, rng string
}

// AddIndex registers a secondary index for Query. rangeKey may be empty.
func (d *Dynamo) AddIndex(table, name, hashKey, rangeKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.indexes[table][name] = index{hash: hashKey, rng: rangeKey}
}

// FailTransact makes the n-th TransactWriteItems call (counting from 1) return err.
func (d *Dynamo) FailTransact(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failTransactAt = n
	d.failTransactErr = err
}

// Item returns a copy of the stored item, or nil.
func (d *Dynamo) Item(table, key string) map[string]types.AttributeValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	item, ok := d.tables[table][key]
	if !ok {
		return nil
	}
	return copyItem(item)
}

// Len returns the number of items in a table.
func (d *Dynamo) Len(table string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tables[table])
}

// Seed stores an item directly, bypassing conditions.
func (d *Dynamo) Seed(table string, item map[string]types.AttributeValue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pk, err := d.pkOf(table, item)
	if err != nil {
		panic(err)
	}
	d.tables[table][pk] = copyItem(item)
}

func (d *Dynamo) takeFailure() error {
	err := d.FailNext
	d.FailNext = nil
	return err
}

func (d *Dynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.PutCalls++
	if err := d.takeFailure(); err != nil {
		return nil, err
	}
	table := *params.TableName
	pk, err := d.pkOf(table, params.Item)
	if err != nil {
		return nil, err
	}
	ok, err := evalCondition(params.ConditionExpression, d.tables[table][pk], params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	d.tables[table][pk] = copyItem(params.Item)
	return &dyn.PutItemOutput{}, nil
}

func (d *Dynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.GetCalls++
	if err := d.takeFailure(); err != nil {
		return nil, err
	}
	table := *params.TableName
	pk, err := d.pkOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := d.tables[table][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: copyItem(item)}, nil
}

func (d *Dynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.UpdateCalls++
	if err := d.takeFailure(); err != nil {
		return nil, err
	}
	table := *params.TableName
	pk, err := d.pkOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	current := d.tables[table][pk]
	ok, err := evalCondition(params.ConditionExpression, current, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	updated, err := applyUpdate(current, params.Key, params.UpdateExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	d.tables[table][pk] = updated
	out := &dyn.UpdateItemOutput{}
	if params.ReturnValues == types.ReturnValueAllNew {
		out.Attributes = copyItem(updated)
	}
	return out, nil
}

func (d *Dynamo) DeleteItem(ctx context.Context, params *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(); err != nil {
		return nil, err
	}
	table := *params.TableName
	pk, err := d.pkOf(table, params.Key)
	if err != nil {
		return nil, err
	}
	ok, err := evalCondition(params.ConditionExpression, d.tables[table][pk], params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	delete(d.tables[table], pk)
	return &dyn.DeleteItemOutput{}, nil
}

// Scan returns every matching item in key order; pagination is not simulated.
func (d *Dynamo) Scan(ctx context.Context, params *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(); err != nil {
		return nil, err
	}
	table := *params.TableName
	keys := make([]string, 0, len(d.tables[table]))
	for k := range d.tables[table] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := &dyn.ScanOutput{}
	for _, k := range keys {
		item := d.tables[table][k]
		ok, err := evalCondition(params.FilterExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Items = append(out.Items, copyItem(item))
		}
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

// Query returns the items matching the key condition, ordered by the index range key.
// Limit counts items before the filter is applied, as DynamoDB does.
func (d *Dynamo) Query(ctx context.Context, params *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.takeFailure(); err != nil {
		return nil, err
	}
	table := *params.TableName
	pkName, ok := d.keys[table]
	if !ok {
		return nil, fmt.Errorf("awstest: unknown table %q", table)
	}
	idx := index{hash: pkName}
	if params.IndexName != nil {
		idx, ok = d.indexes[table][*params.IndexName]
		if !ok {
			return nil, fmt.Errorf("awstest: unknown index %q on %q", *params.IndexName, table)
		}
	}

	var matched []map[string]types.AttributeValue
	for _, item := range d.tables[table] {
		if _, ok := item[idx.hash]; !ok {
			continue
		}
		ok, err := evalCondition(params.KeyConditionExpression, item, params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, item)
		}
	}
	forward := params.ScanIndexForward == nil || *params.ScanIndexForward
	sort.Slice(matched, func(i, j int) bool {
		if idx.rng != "" {
			if c, ok := compare(matched[i][idx.rng], matched[j][idx.rng]); ok && c != 0 {
				return (c < 0) == forward
			}
		}
		return keyString(matched[i], pkName) < keyString(matched[j], pkName)
	})

	start := 0
	if params.ExclusiveStartKey != nil {
		after := keyString(params.ExclusiveStartKey, pkName)
		for i, item := range matched {
			if keyString(item, pkName) == after {
				start = i + 1
				break
			}
		}
	}

	out := &dyn.QueryOutput{}
	examined := 0
	for i := start; i < len(matched); i++ {
		if params.Limit != nil && examined == int(*params.Limit) {
			out.LastEvaluatedKey = lastKey(matched[i-1], pkName, idx)
			break
		}
		examined++
		ok, err := evalCondition(params.FilterExpression, matched[i], params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Items = append(out.Items, copyItem(matched[i]))
		}
	}
	out.Count = int32(len(out.Items))
	out.ScannedCount = int32(examined)
	return out, nil
}

func keyString(item map[string]types.AttributeValue, pkName string) string {
	if v, ok := item[pkName].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func lastKey(item map[string]types.AttributeValue, pkName string, idx index) map[string]types.AttributeValue {
	key := map[string]types.AttributeValue{pkName: item[pkName], idx.hash: item[idx.hash]}
	if idx.rng != "" {
		if v, ok := item[idx.rng]; ok {
			key[idx.rng] = v
		}
	}
	return key
}

func (d *Dynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.TransactCalls++
	if err := d.takeFailure(); err != nil {
		return nil, err
	}
	if d.failTransactAt == d.TransactCalls {
		return nil, d.failTransactErr
	}

	type write struct {
		table, pk string
		item      map[string]types.AttributeValue
	}
	var writes []write
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	canceled := false

	for i, it := range params.TransactItems {
		reasons[i] = types.CancellationReason{Code: strPtr("None")}
		switch {
		case it.Put != nil:
			p := it.Put
			table := *p.TableName
			pk, err := d.pkOf(table, p.Item)
			if err != nil {
				return nil, err
			}
			ok, err := evalCondition(p.ConditionExpression, d.tables[table][pk], p.ExpressionAttributeNames, p.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			if !ok {
				reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed")}
				canceled = true
				continue
			}
			writes = append(writes, write{table, pk, copyItem(p.Item)})
		case it.Update != nil:
			u := it.Update
			table := *u.TableName
			pk, err := d.pkOf(table, u.Key)
			if err != nil {
				return nil, err
			}
			current := d.tables[table][pk]
			ok, err := evalCondition(u.ConditionExpression, current, u.ExpressionAttributeNames, u.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			if !ok {
				reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed")}
				canceled = true
				continue
			}
			updated, err := applyUpdate(current, u.Key, u.UpdateExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			writes = append(writes, write{table, pk, updated})
		case it.ConditionCheck != nil:
			c := it.ConditionCheck
			table := *c.TableName
			pk, err := d.pkOf(table, c.Key)
			if err != nil {
				return nil, err
			}
			ok, err := evalCondition(c.ConditionExpression, d.tables[table][pk], c.ExpressionAttributeNames, c.ExpressionAttributeValues)
			if err != nil {
				return nil, err
			}
			if !ok {
				reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed")}
				canceled = true
			}
		default:
			return nil, errors.New("awstest: unsupported transact item")
		}
	}

	if canceled {
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}
	for _, w := range writes {
		d.tables[w.table][w.pk] = w.item
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (d *Dynamo) pkOf(table string, item map[string]types.AttributeValue) (string, error) {
	pkName, ok := d.keys[table]
	if !ok {
		return "", fmt.Errorf("awstest: unknown table %q", table)
	}
	v, ok := item[pkName].(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("awstest: missing string key %q for table %q", pkName, table)
	}
	return v.Value, nil
}

func applyUpdate(current, key map[string]types.AttributeValue, expr *string, names map[string]string, values map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	var item map[string]types.AttributeValue
	if current == nil {
		item = copyItem(key)
	} else {
		item = copyItem(current)
	}
	if expr == nil {
		return item, nil
	}
	e := strings.TrimSpace(*expr)
	if !strings.HasPrefix(e, "SET ") {
		return nil, fmt.Errorf("awstest: unsupported update expression %q", e)
	}
	for _, clause := range strings.Split(strings.TrimPrefix(e, "SET "), ",") {
		parts := strings.SplitN(clause, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("awstest: bad SET clause %q", clause)
		}
		name := resolveName(strings.TrimSpace(parts[0]), names)
		v, ok := values[strings.TrimSpace(parts[1])]
		if !ok {
			return nil, fmt.Errorf("awstest: missing value %q", strings.TrimSpace(parts[1]))
		}
		item[name] = v
	}
	return item, nil
}

func evalCondition(expr *string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	if expr == nil || strings.TrimSpace(*expr) == "" {
		return true, nil
	}
	for _, clause := range strings.Split(*expr, " AND ") {
		ok, err := evalClause(strings.TrimSpace(clause), item, names, values)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func evalClause(c string, item map[string]types.AttributeValue, names map[string]string, values map[string]types.AttributeValue) (bool, error) {
	switch {
	case strings.HasPrefix(c, "attribute_not_exists(") && strings.HasSuffix(c, ")"):
		name := resolveName(c[len("attribute_not_exists("):len(c)-1], names)
		_, exists := item[name]
		return !exists, nil
	case strings.HasPrefix(c, "attribute_exists(") && strings.HasSuffix(c, ")"):
		name := resolveName(c[len("attribute_exists("):len(c)-1], names)
		_, exists := item[name]
		return exists, nil
	}

	if i := strings.Index(c, " IN ("); i > 0 && strings.HasSuffix(c, ")") {
		lhs := item[resolveName(strings.TrimSpace(c[:i]), names)]
		for _, ref := range strings.Split(c[i+len(" IN ("):len(c)-1], ",") {
			v, ok := values[strings.TrimSpace(ref)]
			if !ok {
				return false, fmt.Errorf("awstest: missing value %q", ref)
			}
			if cmp, ok := compare(lhs, v); ok && cmp == 0 {
				return true, nil
			}
		}
		return false, nil
	}

	for _, op := range []string{"<>", "<=", ">=", "=", "<", ">"} {
		i := strings.Index(c, " "+op+" ")
		if i < 0 {
			continue
		}
		lhs := item[resolveName(strings.TrimSpace(c[:i]), names)]
		ref := strings.TrimSpace(c[i+len(op)+2:])
		rhs, ok := values[ref]
		if !ok {
			return false, fmt.Errorf("awstest: missing value %q", ref)
		}
		cmp, comparable := compare(lhs, rhs)
		if !comparable {
			return op == "<>", nil
		}
		switch op {
		case "=":
			return cmp == 0, nil
		case "<>":
			return cmp != 0, nil
		case "<":
			return cmp < 0, nil
		case "<=":
			return cmp <= 0, nil
		case ">":
			return cmp > 0, nil
		default:
			return cmp >= 0, nil
		}
	}
	return false, fmt.Errorf("awstest: unsupported condition %q", c)
}

func compare(a, b types.AttributeValue) (int, bool) {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false
		}
		return strings.Compare(av.Value, bv.Value), true
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, false
		}
		x, err1 := strconv.ParseFloat(av.Value, 64)
		y, err2 := strconv.ParseFloat(bv.Value, 64)
		if err1 != nil || err2 != nil {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		if !ok || av.Value != bv.Value {
			return 1, ok
		}
		return 0, true
	}
	return 0, false
}

func resolveName(n string, names map[string]string) string {
	n = strings.TrimSpace(n)
	if strings.HasPrefix(n, "#") {
		if real, ok := names[n]; ok {
			return real
		}
	}
	return n
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func strPtr(s string) *string { return &s }
