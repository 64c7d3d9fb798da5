package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/docmarket-payments/internal/auth"
	"github.com/imrishuroy/docmarket-payments/internal/aws/awstest"
	"github.com/imrishuroy/docmarket-payments/internal/gateway"
	"github.com/imrishuroy/docmarket-payments/internal/ledger"
	"github.com/imrishuroy/docmarket-payments/internal/materialize"
	"github.com/imrishuroy/docmarket-payments/internal/orders"
	"github.com/imrishuroy/docmarket-payments/internal/payments"
	"github.com/imrishuroy/docmarket-payments/internal/reconcile"
)

const webhookSecret = "whsec_handlers"

type stubGateway struct {
	mu       sync.Mutex
	statuses map[string]string
}

func (g *stubGateway) CreateRemoteOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.RemoteOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[req.CorrelationID] = "ACTIVE"
	return &gateway.RemoteOrder{OrderID: req.CorrelationID, Status: "ACTIVE", PaymentSessionID: "sess_1", Raw: []byte(`{}`)}, nil
}

func (g *stubGateway) FetchRemoteOrder(ctx context.Context, corr string) (*gateway.RemoteOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return &gateway.RemoteOrder{OrderID: corr, Status: g.statuses[corr], Raw: []byte(`{"order_status":"` + g.statuses[corr] + `"}`)}, nil
}

type testServer struct {
	router   *gin.Engine
	gw       *stubGateway
	db       *awstest.Dynamo
	verifier *auth.Verifier
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := awstest.NewDynamo(map[string]string{
		"payments":     "payment_id",
		"transactions": "gateway_order_id",
		"orders":       "order_id",
	})
	db.AddIndex("orders", orders.PayerIndex, "payer_id", "created_at")
	db.AddIndex("orders", orders.ProviderIndex, "provider_id", "created_at")
	attempts := payments.NewStore(db, "payments")
	ledgerStore := ledger.NewStore(db, "transactions")
	orderStore := orders.NewStore(db, "orders")
	gw := &stubGateway{statuses: map[string]string{}}

	m := materialize.New(materialize.Deps{DynamoDB: db, Attempts: attempts, Orders: orderStore, Ledger: ledgerStore})
	svc := reconcile.NewService(reconcile.Config{WebhookSecret: webhookSecret}, reconcile.Deps{
		DynamoDB:     db,
		Attempts:     attempts,
		Ledger:       ledgerStore,
		Orders:       orderStore,
		Materializer: m,
		Gateway:      gw,
	})

	verifier := auth.NewVerifier("access-secret")
	r := gin.New()
	cfg := HandlerConfig{
		Payments: svc,
		Orders:   orders.NewService(orderStore, nil, nil),
		Verifier: verifier,
	}
	RegisterPaymentsRoutes(r, cfg)
	RegisterOrdersRoutes(r, cfg)
	return &testServer{router: r, gw: gw, db: db, verifier: verifier}
}

func (s *testServer) token(t *testing.T, id string, provider bool) string {
	t.Helper()
	claims := auth.Claims{ID: id}
	if provider {
		claims.Type = auth.TypeServiceProvider
	}
	tok, err := s.verifier.Sign(claims)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func (s *testServer) do(method, path, token string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func initiateBody(method string) []byte {
	return []byte(fmt.Sprintf(`{
		"provider_id": "prov-1",
		"service_id": "svc-1",
		"amount": 500,
		"address": "7 Residency Road",
		"pincode": "560025",
		"appointment_slot": "2026-04-10 15:00",
		"customer_name": "Meera",
		"customer_email": "meera@example.com",
		"customer_phone": "9000000001",
		"method": %q
	}`, method))
}

func TestInitiateRequiresToken(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/api/payments/initiate", "", initiateBody("cashfree"), nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestInitiateValidationFails(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/api/payments/initiate", s.token(t, "user-1", false), []byte(`{"amount": 10.005}`), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if decode(t, w)["error"] != "validation_failed" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
	if s.db.Len("payments") != 0 {
		t.Fatalf("no attempt should be written")
	}
}

func TestInitiateRejectsForeignPayer(t *testing.T) {
	s := newTestServer(t)
	body := bytes.Replace(initiateBody("cod"), []byte(`"provider_id"`), []byte(`"payer_id": "user-2", "provider_id"`), 1)
	w := s.do(http.MethodPost, "/api/payments/initiate", s.token(t, "user-1", false), body, nil)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestInitiateCOD(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/api/payments/initiate", s.token(t, "user-1", false), initiateBody("cod"), nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	order, ok := body["order"].(map[string]any)
	if !ok || order["status"] != orders.StatusReceived || body["paid"] != false {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
}

func TestGatewayFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	tok := s.token(t, "user-1", false)

	w := s.do(http.MethodPost, "/api/payments/initiate", tok, initiateBody("cashfree"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("initiate: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	init := decode(t, w)
	corr, _ := init["gateway_order_id"].(string)
	paymentID, _ := init["payment_id"].(string)
	if corr == "" || init["payment_session_id"] != "sess_1" {
		t.Fatalf("unexpected initiate body %s", w.Body.String())
	}

	verifyPath := "/api/payments/verify?order_id=" + corr + "&paymentId=" + paymentID
	w = s.do(http.MethodGet, verifyPath, tok, nil, nil)
	if w.Code != http.StatusOK || decode(t, w)["paid"] != false {
		t.Fatalf("pending verify: %d %s", w.Code, w.Body.String())
	}

	s.gw.mu.Lock()
	s.gw.statuses[corr] = "PAID"
	s.gw.mu.Unlock()

	w = s.do(http.MethodGet, verifyPath, tok, nil, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("first paid verify: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	w = s.do(http.MethodGet, verifyPath, tok, nil, nil)
	if w.Code != http.StatusOK || decode(t, w)["paid"] != true {
		t.Fatalf("repeat verify: expected 200 paid, got %d: %s", w.Code, w.Body.String())
	}
	if s.db.Len("orders") != 1 {
		t.Fatalf("expected one order, got %d", s.db.Len("orders"))
	}

	w = s.do(http.MethodGet, "/api/payments/"+paymentID, tok, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("invoice: %d %s", w.Code, w.Body.String())
	}
	w = s.do(http.MethodGet, "/api/payments/"+paymentID, s.token(t, "user-9", false), nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign invoice: expected 404, got %d", w.Code)
	}
}

func TestVerifyRequiresOrderID(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/api/payments/verify", s.token(t, "user-1", false), nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestWebhookResponses(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/api/payments/webhook", "", []byte(`{}`), nil)
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("ping: %d %q", w.Code, w.Body.String())
	}

	body := []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK","data":{"order":{"order_id":"cf_unknown"}}}`)
	headers := map[string]string{
		HeaderWebhookTimestamp: "1767225600",
		HeaderWebhookSignature: reconcile.Sign(webhookSecret, "1767225600", body),
	}
	w = s.do(http.MethodPost, "/api/payments/webhook", "", body, headers)
	if w.Code != http.StatusOK {
		t.Fatalf("unknown correlation id: expected 200, got %d", w.Code)
	}

	headers[HeaderWebhookSignature] = reconcile.Sign("wrong-secret", "1767225600", body)
	w = s.do(http.MethodPost, "/api/payments/webhook", "", body, headers)
	if w.Code != http.StatusBadRequest || decode(t, w)["error"] != "invalid_signature" {
		t.Fatalf("bad signature: %d %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), webhookSecret) {
		t.Fatalf("secret leaked in response")
	}
}

func TestWebhookMaterializesOrder(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/api/payments/initiate", s.token(t, "user-1", false), initiateBody("gateway"), nil)
	corr, _ := decode(t, w)["gateway_order_id"].(string)

	s.gw.mu.Lock()
	s.gw.statuses[corr] = "PAID"
	s.gw.mu.Unlock()

	body := []byte(`{"type":"PAYMENT_SUCCESS_WEBHOOK","data":{"order":{"order_id":"` + corr + `"}}}`)
	headers := map[string]string{
		HeaderWebhookTimestamp: "1767225600",
		HeaderWebhookSignature: reconcile.Sign(webhookSecret, "1767225600", body),
	}
	for i := 0; i < 3; i++ {
		if w := s.do(http.MethodPost, "/api/payments/webhook", "", body, headers); w.Code != http.StatusOK {
			t.Fatalf("delivery %d: %d %s", i, w.Code, w.Body.String())
		}
	}
	if s.db.Len("orders") != 1 {
		t.Fatalf("expected one order, got %d", s.db.Len("orders"))
	}
}

func TestOrderRoutes(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/api/payments/initiate", s.token(t, "user-1", false), initiateBody("cod"), nil)
	order, _ := decode(t, w)["order"].(map[string]any)
	orderID, _ := order["order_id"].(string)
	if orderID == "" {
		t.Fatalf("no order id in %s", w.Body.String())
	}

	if w := s.do(http.MethodGet, "/api/orders/"+orderID, s.token(t, "prov-1", true), nil, nil); w.Code != http.StatusOK {
		t.Fatalf("provider read: %d", w.Code)
	}
	if w := s.do(http.MethodGet, "/api/orders/"+orderID, s.token(t, "user-7", false), nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("stranger read: expected 404, got %d", w.Code)
	}

	update := []byte(`{"status":"generated"}`)
	if w := s.do(http.MethodPut, "/api/orders/provider/"+orderID, s.token(t, "user-1", false), update, nil); w.Code != http.StatusForbidden {
		t.Fatalf("payer update: expected 403, got %d", w.Code)
	}
	if w := s.do(http.MethodPut, "/api/orders/provider/"+orderID, s.token(t, "prov-1", true), []byte(`{"status":"lost"}`), nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad status: expected 400, got %d", w.Code)
	}
	w = s.do(http.MethodPut, "/api/orders/provider/"+orderID, s.token(t, "prov-1", true), update, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("provider update: %d %s", w.Code, w.Body.String())
	}
	updated, _ := decode(t, w)["order"].(map[string]any)
	if updated["status"] != orders.StatusGenerated || updated["generated_at"] == nil {
		t.Fatalf("unexpected order %s", w.Body.String())
	}
}

func (s *testServer) codOrder(t *testing.T) string {
	t.Helper()
	w := s.do(http.MethodPost, "/api/payments/initiate", s.token(t, "user-1", false), initiateBody("cod"), nil)
	order, _ := decode(t, w)["order"].(map[string]any)
	orderID, _ := order["order_id"].(string)
	if orderID == "" {
		t.Fatalf("no order id in %s", w.Body.String())
	}
	return orderID
}

func TestOrderListingRoutes(t *testing.T) {
	s := newTestServer(t)
	first := s.codOrder(t)
	second := s.codOrder(t)

	w := s.do(http.MethodGet, "/api/orders/user/user-1?limit=1", s.token(t, "user-1", false), nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("payer listing: %d %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	list, _ := body["orders"].([]any)
	cursor, _ := body["next_cursor"].(string)
	if len(list) != 1 || cursor == "" {
		t.Fatalf("expected one order and a cursor: %s", w.Body.String())
	}
	w = s.do(http.MethodGet, "/api/orders/user/user-1?limit=1&cursor="+cursor, s.token(t, "user-1", false), nil, nil)
	next, _ := decode(t, w)["orders"].([]any)
	if w.Code != http.StatusOK || len(next) != 1 {
		t.Fatalf("second page: %d %s", w.Code, w.Body.String())
	}
	seen := map[string]bool{}
	for _, o := range append(list, next...) {
		m, _ := o.(map[string]any)
		id, _ := m["order_id"].(string)
		seen[id] = true
	}
	if !seen[first] || !seen[second] {
		t.Fatalf("pages should cover both orders, got %v", seen)
	}

	if w := s.do(http.MethodGet, "/api/orders/user/user-1", s.token(t, "user-7", false), nil, nil); w.Code != http.StatusForbidden {
		t.Fatalf("foreign listing: expected 403, got %d", w.Code)
	}
	if w := s.do(http.MethodGet, "/api/orders/user/user-1?cursor=%25%25", s.token(t, "user-1", false), nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad cursor: expected 400, got %d", w.Code)
	}

	update := []byte(`{"status":"generated"}`)
	if w := s.do(http.MethodPut, "/api/orders/provider/"+first, s.token(t, "prov-1", true), update, nil); w.Code != http.StatusOK {
		t.Fatalf("provider update: %d", w.Code)
	}
	w = s.do(http.MethodGet, "/api/orders/provider/prov-1?status=generated", s.token(t, "prov-1", true), nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("provider listing: %d %s", w.Code, w.Body.String())
	}
	filtered, _ := decode(t, w)["orders"].([]any)
	if len(filtered) != 1 || filtered[0].(map[string]any)["order_id"] != first {
		t.Fatalf("status filter: %s", w.Body.String())
	}
	w = s.do(http.MethodGet, "/api/orders/provider/prov-1?status=all", s.token(t, "prov-1", true), nil, nil)
	if all, _ := decode(t, w)["orders"].([]any); len(all) != 2 {
		t.Fatalf("all statuses: %s", w.Body.String())
	}
	if w := s.do(http.MethodGet, "/api/orders/provider/prov-1?status=lost", s.token(t, "prov-1", true), nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad status filter: expected 400, got %d", w.Code)
	}
	if w := s.do(http.MethodGet, "/api/orders/provider/prov-1", s.token(t, "user-1", false), nil, nil); w.Code != http.StatusForbidden {
		t.Fatalf("payer on provider listing: expected 403, got %d", w.Code)
	}
}

func TestBulkStatusRoute(t *testing.T) {
	s := newTestServer(t)
	first := s.codOrder(t)
	second := s.codOrder(t)

	body := []byte(fmt.Sprintf(`{"updates":[
		{"order_id":%q,"status":"generated"},
		{"order_id":%q,"status":"lost"},
		{"order_id":"missing","status":"delivered"}
	]}`, first, second))
	w := s.do(http.MethodPost, "/api/orders/provider/bulk-status", s.token(t, "prov-1", true), body, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("bulk: %d %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	updated, _ := out["updated"].([]any)
	failed, _ := out["failed"].([]any)
	if len(updated) != 1 || len(failed) != 2 {
		t.Fatalf("unexpected bulk result %s", w.Body.String())
	}
	if updated[0].(map[string]any)["order_id"] != first {
		t.Fatalf("wrong order updated: %s", w.Body.String())
	}

	if w := s.do(http.MethodPost, "/api/orders/provider/bulk-status", s.token(t, "prov-1", true), []byte(`{"updates":[]}`), nil); w.Code != http.StatusBadRequest {
		t.Fatalf("empty bulk: expected 400, got %d", w.Code)
	}
	if w := s.do(http.MethodPost, "/api/orders/provider/bulk-status", s.token(t, "user-1", false), body, nil); w.Code != http.StatusForbidden {
		t.Fatalf("payer bulk: expected 403, got %d", w.Code)
	}
}

func TestInvoiceRoute(t *testing.T) {
	s := newTestServer(t)
	orderID := s.codOrder(t)

	w := s.do(http.MethodGet, "/api/orders/user/invoice/"+orderID, s.token(t, "user-1", false), nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("invoice: %d %s", w.Code, w.Body.String())
	}
	inv, _ := decode(t, w)["invoice"].(map[string]any)
	payment, _ := inv["payment"].(map[string]any)
	tx, _ := inv["transaction"].(map[string]any)
	if payment["order_id"] != orderID || tx["provider"] != ledger.ProviderCOD {
		t.Fatalf("unexpected invoice %s", w.Body.String())
	}
	if w := s.do(http.MethodGet, "/api/orders/user/invoice/"+orderID, s.token(t, "user-7", false), nil, nil); w.Code != http.StatusNotFound {
		t.Fatalf("stranger invoice: expected 404, got %d", w.Code)
	}
}
