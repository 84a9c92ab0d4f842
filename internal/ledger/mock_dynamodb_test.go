package ledger

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo is a small in-memory double for the DynamoDB calls the ledger
// issues. It understands exactly the condition/update expressions the Store
// builds; it is intentionally not a general DynamoDB implementation.
type mockDynamo struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue
}

func newMockDynamo() *mockDynamo {
	return &mockDynamo{tables: map[string]map[string]map[string]types.AttributeValue{}}
}

func (m *mockDynamo) ensureTable(tbl string) {
	if _, ok := m.tables[tbl]; !ok {
		m.tables[tbl] = map[string]map[string]types.AttributeValue{}
	}
}

// itemPK resolves the table key. Op records carry both op_token and
// customer_id, so op_token must win; customer items never carry op_token.
func itemPK(item map[string]types.AttributeValue) (string, error) {
	for _, k := range []string{"op_token", "customer_id"} {
		if v, ok := item[k]; ok {
			if s, ok := v.(*types.AttributeValueMemberS); ok {
				return s.Value, nil
			}
		}
	}
	return "", errors.New("no primary key attribute")
}

func numAttr(item map[string]types.AttributeValue, name string) int {
	v, ok := item[name]
	if !ok {
		return 0
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	i, _ := strconv.Atoi(n.Value)
	return i
}

func intVal(vals map[string]types.AttributeValue, name string) int {
	n := vals[name].(*types.AttributeValueMemberN)
	i, _ := strconv.Atoi(n.Value)
	return i
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)
	pk, err := itemPK(params.Item)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil && strings.HasPrefix(*params.ConditionExpression, "attribute_not_exists(") {
		if _, exists := m.tables[table][pk]; exists {
			return nil, &types.ConditionalCheckFailedException{}
		}
	}
	m.tables[table][pk] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)
	pk, err := itemPK(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.tables[table][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

// checkBalanceCondition evaluates the two condition shapes the ledger uses.
func (m *mockDynamo) checkBalanceCondition(table, pk, cond string, vals map[string]types.AttributeValue) error {
	item, exists := m.tables[table][pk]
	if strings.Contains(cond, "attribute_exists(customer_id)") && !exists {
		return &types.ConditionalCheckFailedException{}
	}
	if strings.Contains(cond, "point_balance >= :floor") {
		if numAttr(item, "point_balance") < intVal(vals, ":floor") {
			return &types.ConditionalCheckFailedException{}
		}
	}
	return nil
}

// applyBalanceDelta applies "SET point_balance = point_balance + :pts, updated_at = :ua".
func (m *mockDynamo) applyBalanceDelta(table, pk string, vals map[string]types.AttributeValue) map[string]types.AttributeValue {
	item := m.tables[table][pk]
	newBalance := numAttr(item, "point_balance") + intVal(vals, ":pts")
	item["point_balance"] = &types.AttributeValueMemberN{Value: strconv.Itoa(newBalance)}
	if ua, ok := vals[":ua"]; ok {
		item["updated_at"] = ua
	}
	m.tables[table][pk] = item
	return item
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)
	pk, err := itemPK(params.Key)
	if err != nil {
		return nil, err
	}
	if params.ConditionExpression != nil {
		if err := m.checkBalanceCondition(table, pk, *params.ConditionExpression, params.ExpressionAttributeValues); err != nil {
			return nil, err
		}
	}
	item := m.applyBalanceDelta(table, pk, params.ExpressionAttributeValues)
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// first pass: verify every condition, recording per-item outcomes so the
	// caller can tell which leg cancelled the transaction
	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, it := range params.TransactItems {
		reasons[i] = types.CancellationReason{Code: strPtr("None")}
		if p := it.Put; p != nil {
			table := *p.TableName
			m.ensureTable(table)
			pk, err := itemPK(p.Item)
			if err != nil {
				return nil, err
			}
			if p.ConditionExpression != nil && strings.HasPrefix(*p.ConditionExpression, "attribute_not_exists(") {
				if _, exists := m.tables[table][pk]; exists {
					reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed")}
					failed = true
				}
			}
		}
		if u := it.Update; u != nil {
			table := *u.TableName
			m.ensureTable(table)
			pk, err := itemPK(u.Key)
			if err != nil {
				return nil, err
			}
			if u.ConditionExpression != nil {
				if err := m.checkBalanceCondition(table, pk, *u.ConditionExpression, u.ExpressionAttributeValues); err != nil {
					reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed")}
					failed = true
				}
			}
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}

	// second pass: apply
	for _, it := range params.TransactItems {
		if p := it.Put; p != nil {
			pk, _ := itemPK(p.Item)
			m.tables[*p.TableName][pk] = p.Item
		}
		if u := it.Update; u != nil {
			pk, _ := itemPK(u.Key)
			m.applyBalanceDelta(*u.TableName, pk, u.ExpressionAttributeValues)
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func strPtr(s string) *string { return &s }

// seedCustomer inserts a customer record directly, bypassing the store.
func (m *mockDynamo) seedCustomer(table, customerID string, balance, completed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureTable(table)
	m.tables[table][customerID] = map[string]types.AttributeValue{
		"customer_id":           &types.AttributeValueMemberS{Value: customerID},
		"point_balance":         &types.AttributeValueMemberN{Value: strconv.Itoa(balance)},
		"completed_order_count": &types.AttributeValueMemberN{Value: strconv.Itoa(completed)},
		"created_at":            &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		"updated_at":            &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
	}
}
