package orders

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/docmarket-payments/internal/aws"
)

var (
	// ErrStatusMismatch is returned by UpdateStatus when the order is no longer in the expected status.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
	// ErrInvalidStatus is returned for an unknown fulfillment status.
	ErrInvalidStatus = errors.New("invalid order status")
	// ErrInvalidCursor is returned when a page cursor cannot be decoded.
	ErrInvalidCursor = errors.New("invalid page cursor")
)

// Secondary indexes on the orders table, both ranged by created_at.
const (
	PayerIndex    = "payer_id-created_at-index"
	ProviderIndex = "provider_id-created_at-index"
)

// Page is one page of a listing, newest first. NextCursor is empty on the last page.
type Page struct {
	Orders     []Order `json:"orders"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

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

// CreateItem returns the transactional put for a new order. The put fails if the order id
// is already taken. Only the order materializer writes new orders.
func (s *Store) CreateItem(o *Order) (types.TransactWriteItem, error) {
	now := s.nowFunc().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.OrderedAt.IsZero() {
		o.OrderedAt = o.CreatedAt
	}
	o.UpdatedAt = now

	item, err := attributevalue.MarshalMap(o)
	if err != nil {
		return types.TransactWriteItem{}, fmt.Errorf("marshal order item: %w", err)
	}
	return types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.tableName,
			Item:                item,
			ConditionExpression: awsString("attribute_not_exists(order_id)"),
		},
	}, nil
}

// Get fetches an order by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	key := map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.tableName,
		Key:            key,
		ConsistentRead: awsBool(true),
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

// UpdateStatus conditionally moves the order from expectedStatus to newStatus and stamps the
// timestamp that belongs to the new status. Returns the updated order, or ErrStatusMismatch
// if the condition failed.
func (s *Store) UpdateStatus(ctx context.Context, orderID, expectedStatus, newStatus string) (*Order, error) {
	if !ValidStatus(newStatus) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}
	now := s.nowFunc().UTC()
	updateExpr := "SET #s = :new, updated_at = :ua"
	values := map[string]types.AttributeValue{
		":new":      &types.AttributeValueMemberS{Value: newStatus},
		":expected": &types.AttributeValueMemberS{Value: expectedStatus},
		":ua":       &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
	}
	if field := timestampField(newStatus); field != "" {
		updateExpr += ", " + field + " = :ts"
		values[":ts"] = &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)}
	}

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"order_id": &types.AttributeValueMemberS{Value: orderID},
		},
		UpdateExpression:          &updateExpr,
		ExpressionAttributeNames:  map[string]string{"#s": "status"},
		ExpressionAttributeValues: values,
		ConditionExpression:       awsString("#s = :expected"),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var sc *types.ConditionalCheckFailedException
		if errors.As(err, &sc) {
			return nil, ErrStatusMismatch
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	var o Order
	if err := attributevalue.UnmarshalMap(out.Attributes, &o); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	return &o, nil
}

// ListByPayer returns the payer's orders, newest first.
func (s *Store) ListByPayer(ctx context.Context, payerID string, limit int32, cursor string) (*Page, error) {
	return s.query(ctx, PayerIndex, "payer_id", payerID, "", limit, cursor)
}

// ListByProvider returns the provider's orders, newest first, optionally restricted to one
// fulfillment status.
func (s *Store) ListByProvider(ctx context.Context, providerID, status string, limit int32, cursor string) (*Page, error) {
	return s.query(ctx, ProviderIndex, "provider_id", providerID, status, limit, cursor)
}

func (s *Store) query(ctx context.Context, indexName, keyAttr, keyValue, status string, limit int32, cursor string) (*Page, error) {
	startKey, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	in := &dyn.QueryInput{
		TableName:              &s.tableName,
		IndexName:              awsString(indexName),
		KeyConditionExpression: awsString("#k = :k"),
		ExpressionAttributeNames: map[string]string{
			"#k": keyAttr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":k": &types.AttributeValueMemberS{Value: keyValue},
		},
		ScanIndexForward:  awsBool(false),
		ExclusiveStartKey: startKey,
	}
	if limit > 0 {
		in.Limit = &limit
	}
	if status != "" {
		in.FilterExpression = awsString("#s = :s")
		in.ExpressionAttributeNames["#s"] = "status"
		in.ExpressionAttributeValues[":s"] = &types.AttributeValueMemberS{Value: status}
	}

	out, err := s.client.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", indexName, err)
	}
	page := &Page{Orders: []Order{}}
	if err := attributevalue.UnmarshalListOfMaps(out.Items, &page.Orders); err != nil {
		return nil, fmt.Errorf("unmarshal orders: %w", err)
	}
	if page.NextCursor, err = encodeCursor(out.LastEvaluatedKey); err != nil {
		return nil, err
	}
	return page, nil
}

// Cursors are the LastEvaluatedKey of a query, all string attributes, as base64 JSON.
func encodeCursor(key map[string]types.AttributeValue) (string, error) {
	if len(key) == 0 {
		return "", nil
	}
	flat := make(map[string]string, len(key))
	for k, v := range key {
		sv, ok := v.(*types.AttributeValueMemberS)
		if !ok {
			return "", fmt.Errorf("encode cursor: non-string key attribute %q", k)
		}
		flat[k] = sv.Value
	}
	data, err := json.Marshal(flat)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeCursor(cursor string) (map[string]types.AttributeValue, error) {
	if cursor == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	var flat map[string]string
	if err := json.Unmarshal(data, &flat); err != nil || flat["order_id"] == "" {
		return nil, ErrInvalidCursor
	}
	key := make(map[string]types.AttributeValue, len(flat))
	for k, v := range flat {
		key[k] = &types.AttributeValueMemberS{Value: v}
	}
	return key, nil
}

func awsString(s string) *string { return &s }
func awsBool(b bool) *bool       { return &b }
