package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/imrishuroy/docmarket-payments/internal/aws"
	"github.com/imrishuroy/docmarket-payments/internal/aws/awstest"
	"github.com/imrishuroy/docmarket-payments/internal/gateway"
	"github.com/imrishuroy/docmarket-payments/internal/ledger"
	"github.com/imrishuroy/docmarket-payments/internal/materialize"
	"github.com/imrishuroy/docmarket-payments/internal/orders"
	"github.com/imrishuroy/docmarket-payments/internal/payments"
)

const testSecret = "whsec_test"

type fakeGateway struct {
	mu        sync.Mutex
	statuses  map[string]string
	createErr error
	fetchErr  error
	creates   int
	fetches   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: map[string]string{}}
}

func (g *fakeGateway) CreateRemoteOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.RemoteOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates++
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.statuses[req.CorrelationID] = "ACTIVE"
	return &gateway.RemoteOrder{
		OrderID:          req.CorrelationID,
		Status:           "ACTIVE",
		PaymentSessionID: "session_" + req.CorrelationID,
		Raw:              json.RawMessage(fmt.Sprintf(`{"order_id":%q,"order_status":"ACTIVE"}`, req.CorrelationID)),
	}, nil
}

func (g *fakeGateway) FetchRemoteOrder(ctx context.Context, correlationID string) (*gateway.RemoteOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetches++
	if g.fetchErr != nil {
		return nil, g.fetchErr
	}
	status, ok := g.statuses[correlationID]
	if !ok {
		return nil, &gateway.APIError{StatusCode: 404, Code: "order_not_found"}
	}
	return &gateway.RemoteOrder{
		OrderID: correlationID,
		Status:  status,
		Raw:     json.RawMessage(fmt.Sprintf(`{"order_id":%q,"order_status":%q,"seq":%d}`, correlationID, status, g.fetches)),
	}, nil
}

func (g *fakeGateway) setStatus(corr, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[corr] = status
}

func (g *fakeGateway) counts() (creates, fetches int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creates, g.fetches
}

type fixture struct {
	db       *awstest.Dynamo
	cw       *awstest.CloudWatch
	gw       *fakeGateway
	attempts *payments.Store
	ledger   *ledger.Store
	orders   *orders.Store
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := awstest.NewDynamo(map[string]string{
		"payments":     "payment_id",
		"transactions": "gateway_order_id",
		"orders":       "order_id",
	})
	cw := &awstest.CloudWatch{}
	metrics := aws.NewMetrics(cw, "Test", nil)
	f := &fixture{
		db:       db,
		cw:       cw,
		gw:       newFakeGateway(),
		attempts: payments.NewStore(db, "payments"),
		ledger:   ledger.NewStore(db, "transactions"),
		orders:   orders.NewStore(db, "orders"),
	}
	m := materialize.New(materialize.Deps{
		DynamoDB: db,
		Attempts: f.attempts,
		Orders:   f.orders,
		Ledger:   f.ledger,
		Metrics:  metrics,
	})
	f.svc = NewService(Config{
		FrontendURL:   "https://app.example",
		BackendURL:    "https://api.example",
		WebhookSecret: testSecret,
	}, Deps{
		DynamoDB:     db,
		Attempts:     f.attempts,
		Ledger:       f.ledger,
		Orders:       f.orders,
		Materializer: m,
		Gateway:      f.gw,
		Metrics:      metrics,
	})
	return f
}

func validInput(method payments.Method) InitiateInput {
	return InitiateInput{
		PayerID:         "user-1",
		ProviderID:      "prov-1",
		ServiceID:       "svc-1",
		Amount:          500,
		Method:          method,
		Address:         payments.Address{Line: "7 Residency Road", City: "Bengaluru", Pincode: "560025"},
		AppointmentSlot: "2026-04-10 15:00",
		Customer:        payments.Customer{Name: "Meera", Email: "meera@example.com", Phone: "9000000001"},
	}
}

func (f *fixture) initiateGateway(t *testing.T) *InitiateResult {
	t.Helper()
	res, err := f.svc.Initiate(context.Background(), validInput(payments.MethodGateway))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	return res
}

func signedWebhook(corr string) WebhookInput {
	body := []byte(fmt.Sprintf(`{"type":"PAYMENT_SUCCESS_WEBHOOK","data":{"order":{"order_id":%q},"customer_details":{"customer_name":"Meera K","customer_email":"meera.k@example.com"}}}`, corr))
	ts := "1767225600"
	return WebhookInput{Timestamp: ts, Signature: Sign(testSecret, ts, body), Body: body}
}
