package dynamo

import (
	"context"
	"strconv"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-faster/errors"
)

// mockDynamo is an in-memory two-table DynamoDB that understands the
// condition expressions used by InventoryStore.
type mockDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue

	// beforeTransact runs inside TransactWriteItems before conditions are
	// checked, to simulate a concurrent writer.
	beforeTransact func(m *mockDynamo)
	transactCalls  int
	failTransact   error
}

var _ DynamoDBAPI = (*mockDynamo)(nil)

func newMockDynamo() *mockDynamo {
	return &mockDynamo{tables: map[string]map[string]map[string]types.AttributeValue{}}
}

func keyOf(item map[string]types.AttributeValue) string {
	for _, name := range []string{adjustmentKey, stockKey} {
		if v, ok := item[name].(*types.AttributeValueMemberS); ok {
			return v.Value
		}
	}
	return ""
}

func (m *mockDynamo) table(name string) map[string]map[string]types.AttributeValue {
	t, ok := m.tables[name]
	if !ok {
		t = map[string]map[string]types.AttributeValue{}
		m.tables[name] = t
	}
	return t
}

func (m *mockDynamo) setStockLocked(table, id string, n int) {
	t := m.table(table)
	item, ok := t[id]
	if !ok {
		item = map[string]types.AttributeValue{stockKey: &types.AttributeValueMemberS{Value: id}}
		t[id] = item
	}
	item["stock"] = &types.AttributeValueMemberN{Value: strconv.Itoa(n)}
}

func stockValue(item map[string]types.AttributeValue) string {
	if v, ok := item["stock"].(*types.AttributeValueMemberN); ok {
		return v.Value
	}
	return ""
}

func (m *mockDynamo) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.table(aws.ToString(params.TableName))[keyOf(params.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table(aws.ToString(params.TableName))[keyOf(params.Item)] = params.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (m *mockDynamo) TransactWriteItems(_ context.Context, params *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactCalls++
	if len(params.TransactItems) > maxTransactItems {
		return nil, errors.Errorf("too many transaction items: %d", len(params.TransactItems))
	}
	if m.failTransact != nil {
		return nil, m.failTransact
	}
	if m.beforeTransact != nil {
		hook := m.beforeTransact
		m.beforeTransact = nil
		hook(m)
	}

	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, it := range params.TransactItems {
		reasons[i].Code = aws.String("None")
		switch {
		case it.Put != nil && aws.ToString(it.Put.ConditionExpression) == adjustmentNotExists:
			if _, ok := m.table(aws.ToString(it.Put.TableName))[keyOf(it.Put.Item)]; ok {
				reasons[i].Code = aws.String(conditionFailed)
				failed = true
			}
		case it.Update != nil && aws.ToString(it.Update.ConditionExpression) == productExists:
			if _, ok := m.table(aws.ToString(it.Update.TableName))[keyOf(it.Update.Key)]; !ok {
				reasons[i].Code = aws.String(conditionFailed)
				failed = true
			}
		case it.Update != nil && aws.ToString(it.Update.ConditionExpression) == stockUnchanged:
			item := m.table(aws.ToString(it.Update.TableName))[keyOf(it.Update.Key)]
			want := it.Update.ExpressionAttributeValues[":current"].(*types.AttributeValueMemberN).Value
			if item == nil || stockValue(item) != want {
				reasons[i].Code = aws.String(conditionFailed)
				failed = true
			}
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, it := range params.TransactItems {
		switch {
		case it.Put != nil:
			m.table(aws.ToString(it.Put.TableName))[keyOf(it.Put.Item)] = it.Put.Item
		case it.Update != nil:
			next, err := strconv.Atoi(it.Update.ExpressionAttributeValues[":next"].(*types.AttributeValueMemberN).Value)
			if err != nil {
				return nil, errors.Wrap(err, "parse next")
			}
			m.setStockLocked(aws.ToString(it.Update.TableName), keyOf(it.Update.Key), next)
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (m *mockDynamo) Scan(_ context.Context, params *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var items []map[string]types.AttributeValue
	for _, item := range m.table(aws.ToString(params.TableName)) {
		items = append(items, item)
	}
	return &dynamodb.ScanOutput{Items: items, Count: int32(len(items))}, nil
}
