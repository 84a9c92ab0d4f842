package orders

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// mockDynamo stores items per table in a nested map: table -> pkValue -> item.
// It evaluates exactly the condition and update expressions this package and
// the ledger issue; anything else is applied naively.
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

// pkOf resolves the table key. Items can carry several of these attributes
// (an idempotency record holds order_id, an op record holds customer_id), so
// the probe order matters: each table's own key attribute comes before any
// attribute that is a mere payload field elsewhere.
func pkOf(attrs map[string]types.AttributeValue) (string, error) {
	for _, k := range []string{"idempotency_key", "order_id", "op_token", "customer_id"} {
		if v, ok := attrs[k]; ok {
			if s, ok := v.(*types.AttributeValueMemberS); ok {
				return s.Value, nil
			}
		}
	}
	return "", errors.New("no primary key attribute")
}

func mockNum(item map[string]types.AttributeValue, name string) int {
	if v, ok := item[name].(*types.AttributeValueMemberN); ok {
		i, _ := strconv.Atoi(v.Value)
		return i
	}
	return 0
}

func mockVal(vals map[string]types.AttributeValue, name string) int {
	if v, ok := vals[name].(*types.AttributeValueMemberN); ok {
		i, _ := strconv.Atoi(v.Value)
		return i
	}
	return 0
}

// checkCondition evaluates the condition shapes used across the stores.
func checkCondition(item map[string]types.AttributeValue, exists bool, cond string, vals map[string]types.AttributeValue) bool {
	switch {
	case strings.HasPrefix(cond, "attribute_not_exists("):
		return !exists
	case cond == "#s = :expected":
		curr, ok := item["status"].(*types.AttributeValueMemberS)
		if !ok {
			return false
		}
		expected := vals[":expected"].(*types.AttributeValueMemberS).Value
		return curr.Value == expected
	case cond == "#s = :expected AND points_awarded = :no":
		curr, ok := item["status"].(*types.AttributeValueMemberS)
		if !ok {
			return false
		}
		if curr.Value != vals[":expected"].(*types.AttributeValueMemberS).Value {
			return false
		}
		awarded, ok := item["points_awarded"].(*types.AttributeValueMemberBOOL)
		return ok && !awarded.Value
	case cond == "attribute_exists(customer_id) AND completed_order_count = :prev":
		if !exists {
			return false
		}
		return mockNum(item, "completed_order_count") == mockVal(vals, ":prev")
	case cond == "attribute_exists(customer_id)":
		return exists
	case cond == "attribute_exists(customer_id) AND point_balance >= :floor":
		return exists && mockNum(item, "point_balance") >= mockVal(vals, ":floor")
	}
	return true
}

// applyUpdate mutates item per the update expression shapes the stores build.
func applyUpdate(item map[string]types.AttributeValue, expr string, vals map[string]types.AttributeValue) {
	if strings.Contains(expr, "#s = :new") {
		item["status"] = vals[":new"]
	}
	if strings.Contains(expr, "#s = :delivered") {
		item["status"] = vals[":delivered"]
	}
	if strings.Contains(expr, "points_awarded = :yes") {
		item["points_awarded"] = vals[":yes"]
	}
	if strings.Contains(expr, "point_balance = point_balance + :pts") {
		n := mockNum(item, "point_balance") + mockVal(vals, ":pts")
		item["point_balance"] = &types.AttributeValueMemberN{Value: strconv.Itoa(n)}
	}
	if strings.Contains(expr, "completed_order_count = :next") {
		item["completed_order_count"] = vals[":next"]
	}
	if strings.Contains(expr, "attempts = if_not_exists(attempts, :zero) + :inc") {
		n := mockNum(item, "attempts") + mockVal(vals, ":inc")
		item["attempts"] = &types.AttributeValueMemberN{Value: strconv.Itoa(n)}
	}
	if ua, ok := vals[":ua"]; ok {
		item["updated_at"] = ua
	}
}

func (m *mockDynamo) PutItem(ctx context.Context, params *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)
	pk, err := pkOf(params.Item)
	if err != nil {
		return nil, err
	}
	item, exists := m.tables[table][pk]
	if params.ConditionExpression != nil &&
		!checkCondition(item, exists, *params.ConditionExpression, params.Item) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	m.tables[table][pk] = params.Item
	return &dyn.PutItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, params *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)
	pk, err := pkOf(params.Key)
	if err != nil {
		return nil, err
	}
	item, ok := m.tables[table][pk]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: item}, nil
}

func (m *mockDynamo) UpdateItem(ctx context.Context, params *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := *params.TableName
	m.ensureTable(table)
	pk, err := pkOf(params.Key)
	if err != nil {
		return nil, err
	}
	item, exists := m.tables[table][pk]
	if !exists {
		// attempts bookkeeping tolerates a fresh item; conditioned updates do not
		if params.ConditionExpression != nil {
			return nil, &types.ConditionalCheckFailedException{}
		}
		item = map[string]types.AttributeValue{}
		for k, v := range params.Key {
			item[k] = v
		}
	}
	if params.ConditionExpression != nil &&
		!checkCondition(item, exists, *params.ConditionExpression, params.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{}
	}
	applyUpdate(item, *params.UpdateExpression, params.ExpressionAttributeValues)
	m.tables[table][pk] = item
	return &dyn.UpdateItemOutput{Attributes: item}, nil
}

func (m *mockDynamo) TransactWriteItems(ctx context.Context, params *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	for i, it := range params.TransactItems {
		reasons[i] = types.CancellationReason{Code: mockStr("None")}
		var table, cond string
		var attrs, vals map[string]types.AttributeValue
		switch {
		case it.Put != nil:
			table = *it.Put.TableName
			attrs = it.Put.Item
			vals = it.Put.Item
			if it.Put.ConditionExpression != nil {
				cond = *it.Put.ConditionExpression
			}
		case it.Update != nil:
			table = *it.Update.TableName
			attrs = it.Update.Key
			vals = it.Update.ExpressionAttributeValues
			if it.Update.ConditionExpression != nil {
				cond = *it.Update.ConditionExpression
			}
		default:
			continue
		}
		m.ensureTable(table)
		pk, err := pkOf(attrs)
		if err != nil {
			return nil, err
		}
		item, exists := m.tables[table][pk]
		if cond != "" && !checkCondition(item, exists, cond, vals) {
			reasons[i] = types.CancellationReason{Code: mockStr("ConditionalCheckFailed")}
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}

	for _, it := range params.TransactItems {
		if p := it.Put; p != nil {
			pk, _ := pkOf(p.Item)
			m.tables[*p.TableName][pk] = p.Item
		}
		if u := it.Update; u != nil {
			pk, _ := pkOf(u.Key)
			item, exists := m.tables[*u.TableName][pk]
			if !exists {
				item = map[string]types.AttributeValue{}
				for k, v := range u.Key {
					item[k] = v
				}
			}
			applyUpdate(item, *u.UpdateExpression, u.ExpressionAttributeValues)
			m.tables[*u.TableName][pk] = item
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func mockStr(s string) *string { return &s }

func (m *mockDynamo) seedOrder(table string, o Order) {
	item, _ := attributevalue.MarshalMap(o)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureTable(table)
	m.tables[table][o.OrderID] = item
}

func (m *mockDynamo) seedCustomer(table, customerID string, balance, completed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureTable(table)
	now := time.Now().UTC().Format(time.RFC3339)
	m.tables[table][customerID] = map[string]types.AttributeValue{
		"customer_id":           &types.AttributeValueMemberS{Value: customerID},
		"point_balance":         &types.AttributeValueMemberN{Value: strconv.Itoa(balance)},
		"completed_order_count": &types.AttributeValueMemberN{Value: strconv.Itoa(completed)},
		"created_at":            &types.AttributeValueMemberS{Value: now},
		"updated_at":            &types.AttributeValueMemberS{Value: now},
	}
}

func (m *mockDynamo) customerBalance(table, customerID string) (balance, completed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.tables[table][customerID]
	return mockNum(item, "point_balance"), mockNum(item, "completed_order_count")
}
