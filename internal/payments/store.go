package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/imrishuroy/docmarket-payments/internal/aws"
)

var (
	// ErrNotFound is returned when no attempt exists for the id.
	ErrNotFound = errors.New("payment attempt not found")
	// ErrAlreadyExists is returned by Create when the id is taken.
	ErrAlreadyExists = errors.New("payment attempt already exists")
	// ErrStatusMismatch is returned when a guarded transition is not allowed from the current status.
	ErrStatusMismatch = errors.New("payment status mismatch/conditional failed")
)

// Store encapsulates operations on the payments table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new payments Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

func (s *Store) stamp(a *Attempt) {
	now := s.nowFunc().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
}

// Create persists a new attempt. The payment id must be unused.
func (s *Store) Create(ctx context.Context, a *Attempt) error {
	s.stamp(a)
	item, err := attributevalue.MarshalMap(a)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(payment_id)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// CreateItem returns the transactional put for a new attempt, for callers that write the
// attempt together with other records.
func (s *Store) CreateItem(a *Attempt) (types.TransactWriteItem, error) {
	s.stamp(a)
	item, err := attributevalue.MarshalMap(a)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal attempt: %w", err)
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.tableName,
			Item:                item,
			ConditionExpression: awsString("attribute_not_exists(payment_id)"),
		},
	}, nil
}

// Get fetches an attempt by id with a strongly consistent read. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, paymentID string) (*Attempt, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(paymentID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var a Attempt
	if err := attributevalue.UnmarshalMap(out.Item, &a); err != nil {
		return nil, fmt.Errorf("unmarshal attempt: %w", err)
	}
	return &a, nil
}

// MarkPaid moves an attempt to success. It is allowed from pending or success only, so a
// failed attempt never flips back; the order reference is left untouched.
// Returns ErrNotFound or ErrStatusMismatch when the guard rejects the write.
func (s *Store) MarkPaid(ctx context.Context, paymentID string) (*Attempt, error) {
	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      s.key(paymentID),
		UpdateExpression:         awsString("SET #s = :success, updated_at = :ua"),
		ConditionExpression:      awsString("attribute_exists(payment_id) AND #s IN (:pending, :success)"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":success": &types.AttributeValueMemberS{Value: string(StatusSuccess)},
			":pending": &types.AttributeValueMemberS{Value: string(StatusPending)},
			":ua":      &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, s.guardError(ctx, paymentID)
		}
		return nil, fmt.Errorf("update item (mark paid): %w", err)
	}
	var a Attempt
	if err := attributevalue.UnmarshalMap(out.Attributes, &a); err != nil {
		return nil, fmt.Errorf("unmarshal attempt: %w", err)
	}
	return &a, nil
}

// MarkFailed moves a pending attempt to failed and records a note.
func (s *Store) MarkFailed(ctx context.Context, paymentID, note string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      s.key(paymentID),
		UpdateExpression:         awsString("SET #s = :failed, note = :n, updated_at = :ua"),
		ConditionExpression:      awsString("#s = :pending"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":failed":  &types.AttributeValueMemberS{Value: string(StatusFailed)},
			":pending": &types.AttributeValueMemberS{Value: string(StatusPending)},
			":n":       &types.AttributeValueMemberS{Value: note},
			":ua":      &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return s.guardError(ctx, paymentID)
		}
		return fmt.Errorf("update item (mark failed): %w", err)
	}
	return nil
}

// LinkOrderItem returns the transactional update that sets the order reference and marks
// the attempt paid. The condition makes it succeed at most once per attempt and never for a
// failed attempt.
func (s *Store) LinkOrderItem(paymentID, orderID string) types.TransactWriteItem {
	return types.TransactWriteItem{
		Update: &types.Update{
			TableName:                &s.tableName,
			Key:                      s.key(paymentID),
			UpdateExpression:         awsString("SET order_id = :oid, #s = :success, updated_at = :ua"),
			ConditionExpression:      awsString("attribute_exists(payment_id) AND attribute_not_exists(order_id) AND #s IN (:pending, :success)"),
			ExpressionAttributeNames: map[string]string{"#s": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":oid":     &types.AttributeValueMemberS{Value: orderID},
				":success": &types.AttributeValueMemberS{Value: string(StatusSuccess)},
				":pending": &types.AttributeValueMemberS{Value: string(StatusPending)},
				":ua":      &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339)},
			},
		},
	}
}

func (s *Store) guardError(ctx context.Context, paymentID string) error {
	a, err := s.Get(ctx, paymentID)
	if err != nil {
		return err
	}
	if a == nil {
		return ErrNotFound
	}
	return fmt.Errorf("%w: attempt %s is %s", ErrStatusMismatch, paymentID, a.Status)
}

func (s *Store) key(paymentID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"payment_id": &types.AttributeValueMemberS{Value: paymentID},
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
