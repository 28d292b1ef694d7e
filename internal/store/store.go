// Package store runs optimistic, versioned transactions against DynamoDB.
//
// Every document carries a numeric "version" attribute. A transaction reads
// documents with strongly consistent GetItem calls, remembers the version it
// saw, and commits all staged writes in one TransactWriteItems call whose
// conditions assert nothing it read has changed. All reads must precede all
// writes. On a condition failure the whole closure is re-run.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/aws"
)

const (
	versionAttr        = "version"
	maxTransactItems   = 100
	defaultMaxAttempts = 5
	defaultBackoff     = 15 * time.Millisecond
)

var (
	// ErrConflict means a document read by the transaction changed before commit.
	ErrConflict = errors.New("store: transaction conflict")
	// ErrReadAfterWrite is returned when Get is called after a write was staged.
	ErrReadAfterWrite = errors.New("store: read after write in transaction")
	// ErrNotRead is returned when Put targets a document the transaction never read.
	ErrNotRead = errors.New("store: write to document not read in transaction")
)

// Collection names a table and its string partition key attribute.
type Collection struct {
	Table string
	Key   string
}

// Runner executes transactions with retry on conflict.
type Runner struct {
	client      aws.DynamoDBAPI
	logger      *zap.Logger
	maxAttempts int
	backoff     time.Duration
}

// NewRunner returns a Runner. A nil logger disables logging.
func NewRunner(client aws.DynamoDBAPI, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		client:      client,
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
}

// WithMaxAttempts overrides how many times a conflicting transaction is re-run.
func (r *Runner) WithMaxAttempts(n int) *Runner {
	if n > 0 {
		r.maxAttempts = n
	}
	return r
}

// Run executes fn inside a transaction and commits its staged writes. fn may be
// invoked more than once; it must not perform external side effects.
func (r *Runner) Run(ctx context.Context, fn func(ctx context.Context, tx *Txn) error) error {
	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		tx := newTxn(r.client)
		if err = fn(ctx, tx); err != nil {
			return err
		}
		if err = tx.commit(ctx); err == nil {
			return nil
		}
		if !errors.Is(err, ErrConflict) {
			return err
		}

		r.logger.Debug("transaction conflict, retrying", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.backoff * time.Duration(attempt)):
		}
	}
	return err
}

// Get reads a single document outside any transaction. It reports whether the
// document exists.
func (r *Runner) Get(ctx context.Context, col Collection, id string, out any) (bool, error) {
	item, err := getItem(ctx, r.client, col, id)
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(item, out); err != nil {
		return false, fmt.Errorf("unmarshal %s/%s: %w", col.Table, id, err)
	}
	return true, nil
}

// Query describes an equality lookup on a secondary index.
type Query struct {
	Index      string
	Attr       string
	Value      string
	Limit      int32
	Descending bool
}

// Query runs q against col and unmarshals the items into out, a pointer to a slice.
func (r *Runner) Query(ctx context.Context, col Collection, q Query, out any) error {
	input := &dyn.QueryInput{
		TableName:                &col.Table,
		KeyConditionExpression:   awsString("#a = :v"),
		ExpressionAttributeNames: map[string]string{"#a": q.Attr},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":v": &types.AttributeValueMemberS{Value: q.Value},
		},
		ScanIndexForward: boolPtr(!q.Descending),
	}
	if q.Index != "" {
		input.IndexName = &q.Index
	}
	if q.Limit > 0 {
		input.Limit = &q.Limit
	}

	res, err := r.client.Query(ctx, input)
	if err != nil {
		return fmt.Errorf("query %s.%s: %w", col.Table, q.Index, err)
	}
	if err := attributevalue.UnmarshalListOfMaps(res.Items, out); err != nil {
		return fmt.Errorf("unmarshal query result: %w", err)
	}
	return nil
}

func getItem(ctx context.Context, client aws.DynamoDBAPI, col Collection, id string) (map[string]types.AttributeValue, error) {
	out, err := client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &col.Table,
		Key:            keyOf(col, id),
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", col.Table, id, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return out.Item, nil
}

func keyOf(col Collection, id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		col.Key: &types.AttributeValueMemberS{Value: id},
	}
}

func awsString(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
