package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/marketplace-orderflow/internal/aws"
)

type docRef struct {
	table string
	id    string
}

type readState struct {
	col     Collection
	id      string
	item    map[string]types.AttributeValue
	version int64
}

func (rs *readState) exists() bool { return rs.item != nil }

// Txn stages reads and writes for a single commit.
type Txn struct {
	client     aws.DynamoDBAPI
	reads      map[docRef]*readState
	readOrder  []docRef
	writes     map[docRef]types.TransactWriteItem
	writeOrder []docRef
}

func newTxn(client aws.DynamoDBAPI) *Txn {
	return &Txn{
		client: client,
		reads:  make(map[docRef]*readState),
		writes: make(map[docRef]types.TransactWriteItem),
	}
}

// Get reads a document and records its version. out may be nil when only
// existence matters. Reading the same document twice returns the first snapshot.
func (t *Txn) Get(ctx context.Context, col Collection, id string, out any) (bool, error) {
	if len(t.writes) > 0 {
		return false, fmt.Errorf("get %s/%s: %w", col.Table, id, ErrReadAfterWrite)
	}

	ref := docRef{table: col.Table, id: id}
	rs, ok := t.reads[ref]
	if !ok {
		item, err := getItem(ctx, t.client, col, id)
		if err != nil {
			return false, err
		}
		rs = &readState{col: col, id: id, item: item}
		if item != nil {
			v, err := versionOf(item)
			if err != nil {
				return false, fmt.Errorf("%s/%s: %w", col.Table, id, err)
			}
			rs.version = v
		}
		t.reads[ref] = rs
		t.readOrder = append(t.readOrder, ref)
	}

	if !rs.exists() {
		return false, nil
	}
	if out != nil {
		if err := attributevalue.UnmarshalMap(rs.item, out); err != nil {
			return false, fmt.Errorf("unmarshal %s/%s: %w", col.Table, id, err)
		}
	}
	return true, nil
}

// Put stages a full replacement of a document previously read by this
// transaction. The commit fails with ErrConflict if the document changed.
func (t *Txn) Put(col Collection, id string, doc any) error {
	ref := docRef{table: col.Table, id: id}
	rs, ok := t.reads[ref]
	if !ok {
		return fmt.Errorf("put %s/%s: %w", col.Table, id, ErrNotRead)
	}
	return t.stage(col, id, doc, rs.exists(), rs.version)
}

// Create stages a write of a new document. The commit fails with ErrConflict if
// a document with the same key already exists.
func (t *Txn) Create(col Collection, id string, doc any) error {
	ref := docRef{table: col.Table, id: id}
	if rs, ok := t.reads[ref]; ok && rs.exists() {
		return fmt.Errorf("create %s/%s: %w", col.Table, id, ErrConflict)
	}
	return t.stage(col, id, doc, false, 0)
}

// Pending reports the number of staged writes.
func (t *Txn) Pending() int { return len(t.writes) }

func (t *Txn) stage(col Collection, id string, doc any, exists bool, version int64) error {
	item, err := attributevalue.MarshalMap(doc)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", col.Table, id, err)
	}
	item[col.Key] = &types.AttributeValueMemberS{Value: id}
	item[versionAttr] = numberAttr(version + 1)

	cond, names, values := condition(col, exists, version)
	ref := docRef{table: col.Table, id: id}
	if _, dup := t.writes[ref]; !dup {
		t.writeOrder = append(t.writeOrder, ref)
	}
	t.writes[ref] = types.TransactWriteItem{
		Put: &types.Put{
			TableName:                 awsString(col.Table),
			Item:                      item,
			ConditionExpression:       cond,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
		},
	}
	return nil
}

func (t *Txn) commit(ctx context.Context) error {
	if len(t.writes) == 0 {
		return nil
	}

	items := make([]types.TransactWriteItem, 0, len(t.writes)+len(t.reads))
	for _, ref := range t.writeOrder {
		items = append(items, t.writes[ref])
	}
	for _, ref := range t.readOrder {
		if _, written := t.writes[ref]; written {
			continue
		}
		rs := t.reads[ref]
		cond, names, values := condition(rs.col, rs.exists(), rs.version)
		items = append(items, types.TransactWriteItem{
			ConditionCheck: &types.ConditionCheck{
				TableName:                 awsString(rs.col.Table),
				Key:                       keyOf(rs.col, rs.id),
				ConditionExpression:       cond,
				ExpressionAttributeNames:  names,
				ExpressionAttributeValues: values,
			},
		})
	}
	if len(items) > maxTransactItems {
		return fmt.Errorf("transaction touches %d items, limit is %d", len(items), maxTransactItems)
	}

	_, err := t.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		if isConflict(err) {
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return fmt.Errorf("transact write items: %w", err)
	}
	return nil
}

func condition(col Collection, exists bool, version int64) (*string, map[string]string, map[string]types.AttributeValue) {
	if !exists {
		return awsString("attribute_not_exists(#k)"), map[string]string{"#k": col.Key}, nil
	}
	return awsString("#v = :v"),
		map[string]string{"#v": versionAttr},
		map[string]types.AttributeValue{":v": numberAttr(version)}
}

func isConflict(err error) bool {
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		for _, r := range tce.CancellationReasons {
			if r.Code == nil {
				continue
			}
			switch *r.Code {
			case "ConditionalCheckFailed", "TransactionConflict":
				return true
			}
		}
		return false
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "TransactionConflictException", "ConditionalCheckFailedException":
			return true
		}
	}
	return false
}

func versionOf(item map[string]types.AttributeValue) (int64, error) {
	av, ok := item[versionAttr]
	if !ok {
		return 0, nil
	}
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("version attribute is %T, want number", av)
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse version: %w", err)
	}
	return v, nil
}

func numberAttr(v int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}
