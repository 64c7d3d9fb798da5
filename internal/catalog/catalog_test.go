package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/docmarket-payments/internal/aws/awstest"
	"github.com/imrishuroy/docmarket-payments/internal/cache"
)

func seededDB() *awstest.Dynamo {
	db := awstest.NewDynamo(map[string]string{"services": "service_id"})
	db.Seed("services", map[string]types.AttributeValue{
		"service_id":  &types.AttributeValueMemberS{Value: "svc-1"},
		"title":       &types.AttributeValueMemberS{Value: "Passport assistance"},
		"price":       &types.AttributeValueMemberN{Value: "500"},
		"provider_id": &types.AttributeValueMemberS{Value: "prov-1"},
	})
	return db
}

func TestStoreLookup(t *testing.T) {
	s := NewStore(seededDB(), "services")
	svc, err := s.Lookup(context.Background(), "svc-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if svc.Title != "Passport assistance" || svc.Price != 500 || svc.ProviderID != "prov-1" {
		t.Fatalf("unexpected service: %+v", svc)
	}
	if _, err := s.Lookup(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCachedReaderHitsStoreOnce(t *testing.T) {
	db := seededDB()
	r := NewCachedReader(NewStore(db, "services"), cache.New(nil, "catalog", nil), time.Minute)

	for i := 0; i < 3; i++ {
		svc, err := r.Lookup(context.Background(), "svc-1")
		if err != nil || svc.Title != "Passport assistance" {
			t.Fatalf("lookup %d: %+v, %v", i, svc, err)
		}
	}
	if db.GetCalls != 1 {
		t.Fatalf("expected one table read, got %d", db.GetCalls)
	}

	if _, err := r.Lookup(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound through cache, got %v", err)
	}
}
