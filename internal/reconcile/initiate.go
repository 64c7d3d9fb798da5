package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/docmarket-payments/internal/aws"
	"github.com/imrishuroy/docmarket-payments/internal/gateway"
	"github.com/imrishuroy/docmarket-payments/internal/ledger"
	"github.com/imrishuroy/docmarket-payments/internal/orders"
	"github.com/imrishuroy/docmarket-payments/internal/payments"
)

// InitiateInput is a validated payment request.
type InitiateInput struct {
	PayerID         string
	ProviderID      string
	ServiceID       string
	Amount          float64
	Method          payments.Method
	Address         payments.Address
	AppointmentSlot string
	Customer        payments.Customer
}

// InitiateResult describes the new attempt. COD results carry the order; gateway results
// carry the session handle for checkout.
type InitiateResult struct {
	PaymentID        string
	TransactionID    string
	GatewayOrderID   string
	PaymentSessionID string
	Method           payments.Method
	Order            *orders.Order
}

func (in InitiateInput) validate() error {
	var missing []string
	for name, v := range map[string]string{
		"payer_id":         in.PayerID,
		"provider_id":      in.ProviderID,
		"service_id":       in.ServiceID,
		"address":          in.Address.Line,
		"appointment_slot": in.AppointmentSlot,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if in.Amount <= 0 {
		missing = append(missing, "amount")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing or invalid %s", ErrValidation, strings.Join(missing, ", "))
	}
	if in.Method != payments.MethodGateway && in.Method != payments.MethodCOD {
		return fmt.Errorf("%w: unknown method %q", ErrValidation, in.Method)
	}
	return nil
}

// Initiate creates a payment attempt and its ledger entry. COD attempts are materialized
// immediately; gateway attempts open a remote order.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (*InitiateResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if in.Method == payments.MethodCOD {
		return s.initiateCOD(ctx, in)
	}
	return s.initiateGateway(ctx, in)
}

func (s *Service) newAttempt(in InitiateInput, prefix string) *payments.Attempt {
	id := s.newID()
	return &payments.Attempt{
		PaymentID:       id,
		PayerID:         in.PayerID,
		ProviderID:      in.ProviderID,
		ServiceID:       in.ServiceID,
		Amount:          in.Amount,
		Currency:        s.cfg.Currency,
		Method:          in.Method,
		Status:          payments.StatusPending,
		Address:         in.Address,
		AppointmentSlot: in.AppointmentSlot,
		Customer:        in.Customer,
		GatewayOrderID:  fmt.Sprintf("%s_%s_%d", prefix, id, s.nowFunc().UnixMilli()),
	}
}

func newEntry(a *payments.Attempt, provider string) *ledger.Entry {
	return &ledger.Entry{
		GatewayOrderID: a.GatewayOrderID,
		PaymentID:      a.PaymentID,
		PayerID:        a.PayerID,
		ProviderID:     a.ProviderID,
		ServiceID:      a.ServiceID,
		Provider:       provider,
		Amount:         a.Amount,
		Currency:       a.Currency,
		Status:         payments.StatusPending,
	}
}

// createRecords writes the attempt and its ledger entry in one transaction.
func (s *Service) createRecords(ctx context.Context, a *payments.Attempt, e *ledger.Entry) error {
	attemptItem, err := s.attempts.CreateItem(a)
	if err != nil {
		return err
	}
	entryItem, err := s.ledger.CreateItem(e)
	if err != nil {
		return err
	}
	_, err = s.dynamo.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{attemptItem, entryItem},
	})
	if err != nil {
		return fmt.Errorf("transact write attempt: %w", err)
	}
	return nil
}

func (s *Service) initiateCOD(ctx context.Context, in InitiateInput) (*InitiateResult, error) {
	attempt := s.newAttempt(in, "cod")
	entry := newEntry(attempt, ledger.ProviderCOD)
	if err := s.createRecords(ctx, attempt, entry); err != nil {
		return nil, err
	}

	res, err := s.materializer.Materialize(ctx, attempt.PaymentID, nil)
	if err != nil {
		s.closeAttempt(ctx, attempt, "order_creation_failed", err)
		return nil, fmt.Errorf("materialize cod order: %w", err)
	}
	s.logger.Info("cod payment initiated",
		zap.String("payment_id", attempt.PaymentID),
		zap.String("order_id", res.Order.OrderID))

	return &InitiateResult{
		PaymentID:      attempt.PaymentID,
		TransactionID:  entry.TransactionID,
		GatewayOrderID: attempt.GatewayOrderID,
		Method:         payments.MethodCOD,
		Order:          res.Order,
	}, nil
}

func (s *Service) initiateGateway(ctx context.Context, in InitiateInput) (*InitiateResult, error) {
	attempt := s.newAttempt(in, "cf")
	entry := newEntry(attempt, ledger.ProviderGateway)
	if err := s.createRecords(ctx, attempt, entry); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	remote, err := s.gateway.CreateRemoteOrder(callCtx, gateway.CreateOrderRequest{
		CorrelationID: attempt.GatewayOrderID,
		Amount:        attempt.Amount,
		Currency:      attempt.Currency,
		Customer: gateway.Customer{
			ID:    attempt.PayerID,
			Name:  attempt.Customer.Name,
			Email: attempt.Customer.Email,
			Phone: attempt.Customer.Phone,
		},
		ReturnURL: s.returnURL(attempt.PaymentID),
		NotifyURL: s.cfg.BackendURL + "/api/payments/webhook",
		Note:      "service:" + attempt.ServiceID,
	})
	if err != nil {
		s.metrics.Count(ctx, aws.MetricGatewayErrors, 1)
		s.closeAttempt(ctx, attempt, createFailureReason(err), err)
		return nil, fmt.Errorf("%w: create remote order: %v", ErrUpstream, err)
	}

	if err := s.ledger.RecordObservation(ctx, attempt.GatewayOrderID, remote.PaymentStatus(), remote.Raw); err != nil {
		s.logger.Warn("record create response failed",
			zap.String("gateway_order_id", attempt.GatewayOrderID),
			zap.Error(err))
	}
	s.logger.Info("gateway payment initiated",
		zap.String("payment_id", attempt.PaymentID),
		zap.String("gateway_order_id", attempt.GatewayOrderID))

	return &InitiateResult{
		PaymentID:        attempt.PaymentID,
		TransactionID:    entry.TransactionID,
		GatewayOrderID:   attempt.GatewayOrderID,
		PaymentSessionID: remote.PaymentSessionID,
		Method:           payments.MethodGateway,
	}, nil
}

// createFailureReason classifies a failed remote order creation. Transport failures and
// timeouts are unavailability; anything the gateway answered is a rejection.
func createFailureReason(err error) string {
	var apiErr *gateway.APIError
	if !gateway.IsTransport(err) && errors.As(err, &apiErr) {
		return "gateway_rejected"
	}
	return "gateway_unavailable"
}

// closeAttempt fails an attempt that could not be completed and records the failure on its
// ledger entry, so a late callback for the correlation id still resolves to a known entry.
// An attempt that already moved past pending is left alone.
func (s *Service) closeAttempt(ctx context.Context, a *payments.Attempt, reason string, cause error) {
	s.logger.Warn("closing payment attempt",
		zap.String("payment_id", a.PaymentID),
		zap.String("gateway_order_id", a.GatewayOrderID),
		zap.String("reason", reason),
		zap.Error(cause))

	if err := s.attempts.MarkFailed(ctx, a.PaymentID, reason); err != nil {
		s.logger.Error("mark attempt failed", zap.String("payment_id", a.PaymentID), zap.Error(err))
		return
	}
	raw, _ := json.Marshal(map[string]string{"error": reason})
	if err := s.ledger.RecordObservation(ctx, a.GatewayOrderID, payments.StatusFailed, raw); err != nil {
		s.logger.Error("record ledger failure", zap.String("gateway_order_id", a.GatewayOrderID), zap.Error(err))
	}
}

func (s *Service) returnURL(paymentID string) string {
	if s.cfg.FrontendURL == "" {
		return ""
	}
	return s.cfg.FrontendURL + "/payment/success?paymentId=" + url.QueryEscape(paymentID) + "&order_id={order_id}"
}
