package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/zaikakitchen/loyalty-orderflow/internal/aws"
)

// ErrStatusMismatch is returned when a conditional status update loses to a
// concurrent writer.
var ErrStatusMismatch = errors.New("status mismatch/conditional failed")

// ErrAwardConflict is returned when the delivered-with-award transaction is
// cancelled: either the order moved, points were already awarded, or the
// customer counter changed since it was read.
var ErrAwardConflict = errors.New("deliver/award transaction conflicted")

// Store encapsulates operations on the orders table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new orders Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// CreateWithIdempotencyTransaction atomically creates:
//   - idempotency record in idempotencyTable (with ConditionExpression attribute_not_exists(idempotency_key))
//   - order record in the orders table
//
// It marshals both items and issues a TransactWriteItems call.
// idempotencyItem must be a serializable struct with attribute idempotency_key present.
// order is the Order struct to persist; order.OrderID must be set by the caller.
func (s *Store) CreateWithIdempotencyTransaction(ctx context.Context, idempotencyTable string, idempotencyItem interface{}, order Order, ttlWindow time.Duration) error {
	idempMap, err := attributevalue.MarshalMap(idempotencyItem)
	if err != nil {
		return fmt.Errorf("marshal idempotency item: %w", err)
	}
	// ensure idempotency TTL if the caller did not include one
	if _, ok := idempMap["expires_at"]; !ok && ttlWindow > 0 {
		expires := s.nowFunc().Add(ttlWindow).Unix()
		idempMap["expires_at"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expires)}
	}

	now := s.nowFunc()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	orderMap, err := attributevalue.MarshalMap(order)
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}

	transactItems := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           &idempotencyTable,
				Item:                idempMap,
				ConditionExpression: awsString("attribute_not_exists(idempotency_key)"),
			},
		},
		{
			Put: &types.Put{
				TableName:           &s.tableName,
				Item:                orderMap,
				ConditionExpression: awsString("attribute_not_exists(order_id)"),
			},
		},
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: transactItems})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("transaction canceled (likely idempotency key exists): %w", err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Item, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// UpdateStatus conditionally updates the order status from expected -> newStatus.
// Returns nil on success, ErrStatusMismatch if the condition failed.
func (s *Store) UpdateStatus(ctx context.Context, orderID, expectedStatus, newStatus string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:         awsString("SET #s = :new, updated_at = :ua"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":new":      &types.AttributeValueMemberS{Value: newStatus},
			":expected": &types.AttributeValueMemberS{Value: expectedStatus},
			":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		ConditionExpression: awsString("#s = :expected"),
	}

	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// DeliverParams carries everything DeliverAndAward needs. PrevCompleted must
// be the counter value the caller just read; the transaction is conditioned
// on it so a concurrent completion forces a re-read and a fresh earning
// computation.
type DeliverParams struct {
	OrderID        string
	ExpectedStatus string
	CustomerID     string
	PrevCompleted  int
	NewCompleted   int
	Points         int
}

// DeliverAndAward commits the delivered transition and the points award as a
// single DynamoDB transaction across the orders and customers tables:
//   - order: status -> DELIVERED and points_awarded -> true, conditioned on
//     the expected status and points_awarded still being false
//   - customer: balance credited and completed_order_count bumped, conditioned
//     on the counter the caller read
//
// Either both commit or neither does. Returns ErrAwardConflict when the
// transaction is cancelled by any of the conditions.
func (s *Store) DeliverAndAward(ctx context.Context, customersTable string, p DeliverParams) error {
	now := s.nowFunc().Format(time.RFC3339)

	transactItems := []types.TransactWriteItem{
		{
			Update: &types.Update{
				TableName: &s.tableName,
				Key: map[string]types.AttributeValue{
					"order_id": &types.AttributeValueMemberS{Value: p.OrderID},
				},
				UpdateExpression:         awsString("SET #s = :delivered, points_awarded = :yes, updated_at = :ua"),
				ExpressionAttributeNames: map[string]string{"#s": "status"},
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":delivered": &types.AttributeValueMemberS{Value: StatusDelivered},
					":expected":  &types.AttributeValueMemberS{Value: p.ExpectedStatus},
					":yes":       &types.AttributeValueMemberBOOL{Value: true},
					":no":        &types.AttributeValueMemberBOOL{Value: false},
					":ua":        &types.AttributeValueMemberS{Value: now},
				},
				ConditionExpression: awsString("#s = :expected AND points_awarded = :no"),
			},
		},
		{
			Update: &types.Update{
				TableName: &customersTable,
				Key: map[string]types.AttributeValue{
					"customer_id": &types.AttributeValueMemberS{Value: p.CustomerID},
				},
				UpdateExpression: awsString("SET point_balance = point_balance + :pts, completed_order_count = :next, updated_at = :ua"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":pts":  &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", p.Points)},
					":next": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", p.NewCompleted)},
					":prev": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", p.PrevCompleted)},
					":ua":   &types.AttributeValueMemberS{Value: now},
				},
				ConditionExpression: awsString("attribute_exists(customer_id) AND completed_order_count = :prev"),
			},
		},
	}

	_, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: transactItems})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			return fmt.Errorf("%w: %s", ErrAwardConflict, err)
		}
		return fmt.Errorf("transact write: %w", err)
	}
	return nil
}

// IncrementAttempts increases the attempts counter by 1 (useful for worker retries)
func (s *Store) IncrementAttempts(ctx context.Context, orderID string) error {
	now := s.nowFunc()
	input := &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression: awsString("SET attempts = if_not_exists(attempts, :zero) + :inc, updated_at = :ua"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":zero": &types.AttributeValueMemberN{Value: "0"},
			":inc":  &types.AttributeValueMemberN{Value: "1"},
			":ua":   &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
		},
		// never create a phantom order row for an unknown id
		ConditionExpression: awsString("attribute_exists(order_id)"),
		ReturnValues:        types.ReturnValueUpdatedNew,
	}
	_, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil
		}
		return fmt.Errorf("increment attempts: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
