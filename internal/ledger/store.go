package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/zaikakitchen/loyalty-orderflow/internal/aws"
	"github.com/zaikakitchen/loyalty-orderflow/internal/loyalty"
)

// Typed failures callers can act on.
var (
	ErrCustomerNotFound    = errors.New("customer not found")
	ErrInsufficientBalance = errors.New("insufficient point balance")
	ErrInvalidChunk        = errors.New("points must be a whole multiple of the redemption chunk")
)

// Store is the single authority over customer point balances. Every mutation
// is a conditional DynamoDB write, so concurrent operations against the same
// customer serialize on the table, never in application memory.
type Store struct {
	client         aws.DynamoDBAPI
	customersTable string
	opsTable       string
	ttlWindow      time.Duration
	policy         loyalty.Policy
	nowFunc        func() time.Time
}

// NewStore creates a ledger Store. opsTable holds idempotency records for
// token-carrying mutations; ttlWindow bounds how long replays are remembered.
func NewStore(client aws.DynamoDBAPI, customersTable, opsTable string, ttlWindow time.Duration, policy loyalty.Policy) *Store {
	return &Store{
		client:         client,
		customersTable: customersTable,
		opsTable:       opsTable,
		ttlWindow:      ttlWindow,
		policy:         policy,
		nowFunc:        time.Now,
	}
}

// Get fetches a customer by id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, customerID string) (*Customer, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.customersTable,
		Key: map[string]types.AttributeValue{
			"customer_id": &types.AttributeValueMemberS{Value: customerID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var c Customer
	if err := attributevalue.UnmarshalMap(out.Item, &c); err != nil {
		return nil, fmt.Errorf("unmarshal customer: %w", err)
	}
	return &c, nil
}

// CreateIfAbsent creates a zero-balance customer record on first touch (first
// authentication). If the record already exists it is returned unchanged.
func (s *Store) CreateIfAbsent(ctx context.Context, customerID string) (*Customer, error) {
	now := s.nowFunc()
	c := Customer{
		CustomerID: customerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	item, err := attributevalue.MarshalMap(c)
	if err != nil {
		return nil, fmt.Errorf("marshal customer: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.customersTable,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(customer_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			existing, getErr := s.Get(ctx, customerID)
			if getErr != nil {
				return nil, getErr
			}
			if existing == nil {
				return nil, fmt.Errorf("customer vanished after conditional put: %s", customerID)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("put item: %w", err)
	}
	return &c, nil
}

// Award credits points to a customer and returns the new balance. A negative
// amount is a programming error and panics. With a non-empty opToken the
// credit is applied at most once per token; a replay returns the current
// balance without mutating anything.
func (s *Store) Award(ctx context.Context, customerID string, points int, opToken string) (int, error) {
	if points < 0 {
		panic(fmt.Sprintf("ledger: negative award of %d points for customer %s", points, customerID))
	}
	if opToken == "" {
		return s.applyDelta(ctx, customerID, points, false)
	}
	return s.transactDelta(ctx, customerID, points, OpAward, opToken, false)
}

// Redeem debits points from a customer and returns the new balance. Fails
// with ErrInvalidChunk unless points is a whole chunk multiple, and with
// ErrInsufficientBalance if the guarded decrement would go below zero; the
// balance is untouched in both cases.
func (s *Store) Redeem(ctx context.Context, customerID string, points int, opToken string) (int, error) {
	if !s.policy.ValidChunk(points) {
		return 0, ErrInvalidChunk
	}
	if opToken == "" {
		return s.applyDelta(ctx, customerID, -points, true)
	}
	return s.transactDelta(ctx, customerID, -points, OpRedeem, opToken, true)
}

// Refund re-credits points after a downstream failure (the compensation half
// of the checkout two-step). Same contract as Award.
func (s *Store) Refund(ctx context.Context, customerID string, points int, opToken string) (int, error) {
	if points < 0 {
		panic(fmt.Sprintf("ledger: negative refund of %d points for customer %s", points, customerID))
	}
	if opToken == "" {
		return s.applyDelta(ctx, customerID, points, false)
	}
	return s.transactDelta(ctx, customerID, points, OpRefund, opToken, false)
}

// applyDelta performs the read-free conditional balance update. guarded adds
// the non-negative-balance precondition used by debits.
func (s *Store) applyDelta(ctx context.Context, customerID string, delta int, guarded bool) (int, error) {
	input := s.deltaUpdateInput(customerID, delta, guarded)
	input.ReturnValues = types.ReturnValueAllNew

	out, err := s.client.UpdateItem(ctx, input)
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return 0, s.classifyConditionFailure(ctx, customerID, guarded)
		}
		return 0, fmt.Errorf("update item: %w", err)
	}

	var c Customer
	if err := attributevalue.UnmarshalMap(out.Attributes, &c); err != nil {
		return 0, fmt.Errorf("unmarshal updated customer: %w", err)
	}
	return c.PointBalance, nil
}

// transactDelta pairs the balance update with a conditional put of the op
// record so retries cannot double-apply. TransactWriteItems returns no item
// attributes, so the new balance is read back afterwards.
func (s *Store) transactDelta(ctx context.Context, customerID string, delta int, kind, opToken string, guarded bool) (int, error) {
	now := s.nowFunc()
	points := delta
	if points < 0 {
		points = -points
	}
	rec := OpRecord{
		OpToken:    opToken,
		CustomerID: customerID,
		Kind:       kind,
		Points:     points,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttlWindow).Unix(),
	}
	recMap, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return 0, fmt.Errorf("marshal op record: %w", err)
	}

	deltaInput := s.deltaUpdateInput(customerID, delta, guarded)
	items := []types.TransactWriteItem{
		{
			Put: &types.Put{
				TableName:           &s.opsTable,
				Item:                recMap,
				ConditionExpression: awsString("attribute_not_exists(op_token)"),
			},
		},
		{
			Update: &types.Update{
				TableName:                 deltaInput.TableName,
				Key:                       deltaInput.Key,
				UpdateExpression:          deltaInput.UpdateExpression,
				ConditionExpression:       deltaInput.ConditionExpression,
				ExpressionAttributeValues: deltaInput.ExpressionAttributeValues,
			},
		},
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) {
			// index 0 is the op-token put: a replayed token means the mutation
			// already committed, so report the current balance as success.
			if cancelledAt(tce, 0) {
				return s.currentBalance(ctx, customerID)
			}
			if cancelledAt(tce, 1) {
				return 0, s.classifyConditionFailure(ctx, customerID, guarded)
			}
		}
		return 0, fmt.Errorf("transact write: %w", err)
	}

	return s.currentBalance(ctx, customerID)
}

// deltaUpdateInput builds the conditional balance update shared by the plain
// and transactional paths.
func (s *Store) deltaUpdateInput(customerID string, delta int, guarded bool) *dyn.UpdateItemInput {
	now := s.nowFunc()
	cond := "attribute_exists(customer_id)"
	vals := map[string]types.AttributeValue{
		":pts": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", delta)},
		":ua":  &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
	}
	if guarded {
		cond = "attribute_exists(customer_id) AND point_balance >= :floor"
		vals[":floor"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", -delta)}
	}
	return &dyn.UpdateItemInput{
		TableName: &s.customersTable,
		Key: map[string]types.AttributeValue{
			"customer_id": &types.AttributeValueMemberS{Value: customerID},
		},
		UpdateExpression:          awsString("SET point_balance = point_balance + :pts, updated_at = :ua"),
		ConditionExpression:       awsString(cond),
		ExpressionAttributeValues: vals,
	}
}

// classifyConditionFailure tells a missing customer apart from an
// insufficient balance after a guarded update was rejected.
func (s *Store) classifyConditionFailure(ctx context.Context, customerID string, guarded bool) error {
	if !guarded {
		return ErrCustomerNotFound
	}
	c, err := s.Get(ctx, customerID)
	if err != nil {
		return err
	}
	if c == nil {
		return ErrCustomerNotFound
	}
	return ErrInsufficientBalance
}

func (s *Store) currentBalance(ctx context.Context, customerID string) (int, error) {
	c, err := s.Get(ctx, customerID)
	if err != nil {
		return 0, err
	}
	if c == nil {
		return 0, ErrCustomerNotFound
	}
	return c.PointBalance, nil
}

func cancelledAt(tce *types.TransactionCanceledException, idx int) bool {
	if idx >= len(tce.CancellationReasons) {
		return false
	}
	code := tce.CancellationReasons[idx].Code
	return code != nil && *code == "ConditionalCheckFailed"
}

func awsString(s string) *string { return &s }
