package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imrishuroy/docmarket-payments/internal/aws/awstest"
)

func seedOrder(t *testing.T, s *Store, db *awstest.Dynamo, o *Order) {
	t.Helper()
	item, err := s.CreateItem(o)
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	if _, err := db.TransactWriteItems(context.Background(), &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{item},
	}); err != nil {
		t.Fatalf("transact: %v", err)
	}
}

func TestCreateItemRejectsDuplicateOrderID(t *testing.T) {
	db := awstest.NewDynamo(map[string]string{"orders": "order_id"})
	s := NewStore(db, "orders")
	seedOrder(t, s, db, &Order{OrderID: "o1", PayerID: "u1", Status: StatusReceived})

	item, err := s.CreateItem(&Order{OrderID: "o1", PayerID: "u2", Status: StatusReceived})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	_, err = db.TransactWriteItems(context.Background(), &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{item},
	})
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		t.Fatalf("expected TransactionCanceledException, got %v", err)
	}

	got, err := s.Get(context.Background(), "o1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PayerID != "u1" {
		t.Fatalf("order overwritten: %+v", got)
	}
	if got.OrderedAt.IsZero() {
		t.Fatalf("expected ordered_at to be stamped")
	}
}

func TestUpdateStatusStampsTimestamp(t *testing.T) {
	db := awstest.NewDynamo(map[string]string{"orders": "order_id"})
	s := NewStore(db, "orders")
	fixed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	s.nowFunc = func() time.Time { return fixed }
	seedOrder(t, s, db, &Order{OrderID: "o1", Status: StatusReceived})

	o, err := s.UpdateStatus(context.Background(), "o1", StatusReceived, StatusOutForDelivery)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if o.Status != StatusOutForDelivery {
		t.Fatalf("expected out_for_delivery, got %s", o.Status)
	}
	if o.DispatchedAt == nil || !o.DispatchedAt.Equal(fixed) {
		t.Fatalf("expected dispatched_at %v, got %v", fixed, o.DispatchedAt)
	}
	if o.DeliveredAt != nil {
		t.Fatalf("delivered_at should be unset")
	}
}

func TestUpdateStatusConditional(t *testing.T) {
	db := awstest.NewDynamo(map[string]string{"orders": "order_id"})
	s := NewStore(db, "orders")
	seedOrder(t, s, db, &Order{OrderID: "o1", Status: StatusReceived})

	if _, err := s.UpdateStatus(context.Background(), "o1", StatusGenerated, StatusDelivered); !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}
	if _, err := s.UpdateStatus(context.Background(), "o1", StatusReceived, "shipped"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if _, err := s.UpdateStatus(context.Background(), "missing", StatusReceived, StatusGenerated); !errors.Is(err, ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch for missing order, got %v", err)
	}
}

func newIndexedStore(t *testing.T) (*Store, *awstest.Dynamo) {
	t.Helper()
	db := awstest.NewDynamo(map[string]string{"orders": "order_id"})
	db.AddIndex("orders", PayerIndex, "payer_id", "created_at")
	db.AddIndex("orders", ProviderIndex, "provider_id", "created_at")
	return NewStore(db, "orders"), db
}

func seedListing(t *testing.T, s *Store, db *awstest.Dynamo) {
	t.Helper()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, o := range []Order{
		{OrderID: "o1", PayerID: "u1", ProviderID: "p1", Status: StatusReceived},
		{OrderID: "o2", PayerID: "u1", ProviderID: "p1", Status: StatusDelivered},
		{OrderID: "o3", PayerID: "u2", ProviderID: "p1", Status: StatusReceived},
		{OrderID: "o4", PayerID: "u1", ProviderID: "p2", Status: StatusReceived},
		{OrderID: "o5", PayerID: "u2", ProviderID: "p1", Status: StatusReceived},
	} {
		o := o
		o.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		seedOrder(t, s, db, &o)
	}
}

func orderIDs(p *Page) []string {
	ids := make([]string, 0, len(p.Orders))
	for _, o := range p.Orders {
		ids = append(ids, o.OrderID)
	}
	return ids
}

func TestListByPayerNewestFirst(t *testing.T) {
	s, db := newIndexedStore(t)
	seedListing(t, s, db)

	page, err := s.ListByPayer(context.Background(), "u1", 10, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := orderIDs(page)
	if len(got) != 3 || got[0] != "o4" || got[1] != "o2" || got[2] != "o1" {
		t.Fatalf("unexpected order %v", got)
	}
	if page.NextCursor != "" {
		t.Fatalf("expected last page, got cursor %q", page.NextCursor)
	}
}

func TestListByProviderPagesWithStatusFilter(t *testing.T) {
	s, db := newIndexedStore(t)
	seedListing(t, s, db)
	ctx := context.Background()

	first, err := s.ListByProvider(ctx, "p1", StatusReceived, 2, "")
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if first.NextCursor == "" {
		t.Fatalf("expected a cursor after the first page")
	}
	second, err := s.ListByProvider(ctx, "p1", StatusReceived, 2, first.NextCursor)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}

	var all []string
	all = append(all, orderIDs(first)...)
	all = append(all, orderIDs(second)...)
	if second.NextCursor != "" {
		third, err := s.ListByProvider(ctx, "p1", StatusReceived, 2, second.NextCursor)
		if err != nil {
			t.Fatalf("third page: %v", err)
		}
		all = append(all, orderIDs(third)...)
	}
	if len(all) != 3 || all[0] != "o5" || all[1] != "o3" || all[2] != "o1" {
		t.Fatalf("unexpected received orders across pages: %v", all)
	}
}

func TestListRejectsBadCursor(t *testing.T) {
	s, _ := newIndexedStore(t)
	if _, err := s.ListByPayer(context.Background(), "u1", 10, "not-a-cursor!"); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("expected ErrInvalidCursor, got %v", err)
	}
}
