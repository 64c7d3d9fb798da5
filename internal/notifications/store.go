package notifications

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

// ErrDuplicate is returned when the notification id is already stored.
var ErrDuplicate = errors.New("notification already exists")

// Store encapsulates operations on the notifications table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
	nowFunc   func() time.Time
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{
		client:    client,
		tableName: tableName,
		nowFunc:   time.Now,
	}
}

// Create stores a notification once.
func (s *Store) Create(ctx context.Context, n *Notification) error {
	now := s.nowFunc().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}
	if n.Status == "" {
		n.Status = StatusActive
	}
	item, err := attributevalue.MarshalMap(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &s.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(notification_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		var apiErr smithy.APIError
		if errors.As(err, &ccf) || (errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException") {
			return ErrDuplicate
		}
		return fmt.Errorf("put item: %w", err)
	}
	return nil
}

// ListResolved returns every resolved notification. Title and age filtering is left to
// the caller because timestamps are stored as strings.
func (s *Store) ListResolved(ctx context.Context) ([]Notification, error) {
	var (
		out   []Notification
		start map[string]types.AttributeValue
	)
	for {
		page, err := s.client.Scan(ctx, &dyn.ScanInput{
			TableName:                &s.tableName,
			FilterExpression:         awsString("#s = :resolved"),
			ExpressionAttributeNames: map[string]string{"#s": "status"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":resolved": &types.AttributeValueMemberS{Value: StatusResolved},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var batch []Notification
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("unmarshal notifications: %w", err)
		}
		out = append(out, batch...)
		if len(page.LastEvaluatedKey) == 0 {
			return out, nil
		}
		start = page.LastEvaluatedKey
	}
}

// Delete removes a notification by id.
func (s *Store) Delete(ctx context.Context, notificationID string) error {
	_, err := s.client.DeleteItem(ctx, &dyn.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"notification_id": &types.AttributeValueMemberS{Value: notificationID},
		},
	})
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

func awsString(s string) *string { return &s }
