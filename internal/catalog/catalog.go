// Package catalog reads service metadata owned by the catalog collaborator.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/docmarket-payments/internal/aws"
	"github.com/imrishuroy/docmarket-payments/internal/cache"
)

// ErrNotFound is returned when the catalog has no such service.
var ErrNotFound = errors.New("service not found")

// Service is the subset of catalog data snapshotted onto orders.
type Service struct {
	ServiceID  string  `dynamodbav:"service_id" json:"service_id"`
	Title      string  `dynamodbav:"title" json:"title"`
	Price      float64 `dynamodbav:"price" json:"price"`
	ProviderID string  `dynamodbav:"provider_id" json:"provider_id"`
}

// Store reads the services table.
type Store struct {
	client    aws.DynamoDBAPI
	tableName string
}

func NewStore(client aws.DynamoDBAPI, tableName string) *Store {
	return &Store{client: client, tableName: tableName}
}

// Lookup returns the service or ErrNotFound.
func (s *Store) Lookup(ctx context.Context, serviceID string) (*Service, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]types.AttributeValue{
			"service_id": &types.AttributeValueMemberS{Value: serviceID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var svc Service
	if err := attributevalue.UnmarshalMap(out.Item, &svc); err != nil {
		return nil, fmt.Errorf("unmarshal service: %w", err)
	}
	return &svc, nil
}

// Reader is satisfied by Store and CachedReader.
type Reader interface {
	Lookup(ctx context.Context, serviceID string) (*Service, error)
}

// CachedReader memoizes lookups through a get-or-refresh cache.
type CachedReader struct {
	next  Reader
	cache *cache.Cache
	ttl   time.Duration
}

func NewCachedReader(next Reader, c *cache.Cache, ttl time.Duration) *CachedReader {
	return &CachedReader{next: next, cache: c, ttl: ttl}
}

func (r *CachedReader) Lookup(ctx context.Context, serviceID string) (*Service, error) {
	svc, err := cache.GetOrRefresh(ctx, r.cache, "service:"+serviceID, r.ttl, func(ctx context.Context) (Service, error) {
		s, err := r.next.Lookup(ctx, serviceID)
		if err != nil {
			return Service{}, err
		}
		return *s, nil
	})
	if err != nil {
		return nil, err
	}
	return &svc, nil
}
