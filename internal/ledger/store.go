package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/imrishuroy/docmarket-payments/internal/aws"
	"github.com/imrishuroy/docmarket-payments/internal/payments"
)

var (
	// ErrNotFound is returned when no entry exists for the correlation id.
	ErrNotFound = errors.New("ledger entry not found")
	// ErrDuplicate is returned when the correlation id is already recorded.
	ErrDuplicate = errors.New("ledger entry already exists")
)

// Store encapsulates operations on the transactions table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

// NewStore creates a new ledger Store.
func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

func (s *Store) prepare(e *Entry) (map[string]types.AttributeValue, error) {
	if e.GatewayOrderID == "" {
		return nil, errors.New("ledger entry requires a gateway order id")
	}
	if e.TransactionID == "" {
		e.TransactionID = uuid.NewString()
	}
	now := s.nowFunc().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	item, err := attributevalue.MarshalMap(e)
	if err != nil {
		return nil, fmt.Errorf("marshal ledger entry: %w", err)
	}
	return item, nil
}

// Create appends a new entry. The correlation id must not be recorded yet.
func (s *Store) Create(ctx context.Context, e *Entry) error {
	item, err := s.prepare(e)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(gateway_order_id)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// CreateItem returns the transactional put for a new entry.
func (s *Store) CreateItem(e *Entry) (types.TransactWriteItem, error) {
	item, err := s.prepare(e)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.tableName,
			Item:                item,
			ConditionExpression: awsString("attribute_not_exists(gateway_order_id)"),
		},
	}, nil
}

// Get fetches an entry by correlation id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, gatewayOrderID string) (*Entry, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            s.key(gatewayOrderID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var e Entry
	if err := attributevalue.UnmarshalMap(out.Item, &e); err != nil {
		return nil, fmt.Errorf("unmarshal ledger entry: %w", err)
	}
	return &e, nil
}

// RecordObservation overwrites the status and raw gateway response of an existing entry.
// Concurrent observations are last-writer-wins.
func (s *Store) RecordObservation(ctx context.Context, gatewayOrderID string, status payments.Status, raw []byte) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                &s.tableName,
		Key:                      s.key(gatewayOrderID),
		UpdateExpression:         awsString("SET #s = :s, raw = :raw, updated_at = :ua"),
		ConditionExpression:      awsString("attribute_exists(gateway_order_id)"),
		ExpressionAttributeNames: map[string]string{"#s": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":s":   &types.AttributeValueMemberS{Value: string(status)},
			":raw": &types.AttributeValueMemberS{Value: string(raw)},
			":ua":  &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("update item (observation): %w", err)
	}
	return nil
}

// LinkOrder stores the fulfillment order reference on an entry. It is idempotent.
func (s *Store) LinkOrder(ctx context.Context, gatewayOrderID, orderID string) error {
	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:           &s.tableName,
		Key:                 s.key(gatewayOrderID),
		UpdateExpression:    awsString("SET order_id = :oid, updated_at = :ua"),
		ConditionExpression: awsString("attribute_exists(gateway_order_id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":oid": &types.AttributeValueMemberS{Value: orderID},
			":ua":  &types.AttributeValueMemberS{Value: s.nowFunc().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrNotFound
		}
		return fmt.Errorf("update item (link order): %w", err)
	}
	return nil
}

func (s *Store) key(gatewayOrderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"gateway_order_id": &types.AttributeValueMemberS{Value: gatewayOrderID},
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
