package memdb

import (
	"context"
	"errors"
	"testing"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(id, version string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id":      &types.AttributeValueMemberS{Value: id},
		"version": &types.AttributeValueMemberN{Value: version},
	}
}

func TestTransactWriteItems_AllOrNothing(t *testing.T) {
	db := New()
	db.CreateTable("t", "id")
	ctx := context.Background()

	_, err := db.PutItem(ctx, &dyn.PutItemInput{TableName: strPtr("t"), Item: item("a", "1")})
	require.NoError(t, err)

	_, err = db.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: []types.TransactWriteItem{
		{Put: &types.Put{TableName: strPtr("t"), Item: item("b", "1"),
			ConditionExpression: strPtr("attribute_not_exists(#k)"), ExpressionAttributeNames: map[string]string{"#k": "id"}}},
		{ConditionCheck: &types.ConditionCheck{TableName: strPtr("t"), Key: map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: "a"}},
			ConditionExpression: strPtr("#v = :v"), ExpressionAttributeNames: map[string]string{"#v": "version"},
			ExpressionAttributeValues: map[string]types.AttributeValue{":v": &types.AttributeValueMemberN{Value: "2"}}}},
	}})

	var tce *types.TransactionCanceledException
	require.True(t, errors.As(err, &tce))
	assert.Equal(t, "None", *tce.CancellationReasons[0].Code)
	assert.Equal(t, "ConditionalCheckFailed", *tce.CancellationReasons[1].Code)
	assert.Equal(t, 1, db.Len("t"))
}

func TestPutItem_UnsupportedCondition(t *testing.T) {
	db := New()
	db.CreateTable("t", "id")
	_, err := db.PutItem(context.Background(), &dyn.PutItemInput{
		TableName: strPtr("t"), Item: item("a", "1"), ConditionExpression: strPtr("size(x) > 1"),
	})
	assert.ErrorContains(t, err, "unsupported condition")
}

func TestGetItem_UnknownTable(t *testing.T) {
	_, err := New().GetItem(context.Background(), &dyn.GetItemInput{TableName: strPtr("nope")})
	var rnf *types.ResourceNotFoundException
	assert.True(t, errors.As(err, &rnf))
}
