// Package reconcile implements the payment entry points: initiate, verify and webhook.
// Verify and webhook share one path that records the gateway observation on the ledger
// and hands paid attempts to the order materializer.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/docmarket-payments/internal/aws"
	"github.com/imrishuroy/docmarket-payments/internal/gateway"
	"github.com/imrishuroy/docmarket-payments/internal/ledger"
	"github.com/imrishuroy/docmarket-payments/internal/materialize"
	"github.com/imrishuroy/docmarket-payments/internal/orders"
	"github.com/imrishuroy/docmarket-payments/internal/payments"
)

// Gateway is the remote order API.
type Gateway interface {
	CreateRemoteOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.RemoteOrder, error)
	FetchRemoteOrder(ctx context.Context, correlationID string) (*gateway.RemoteOrder, error)
}

// Config holds the settings of the entry points.
type Config struct {
	FrontendURL    string
	BackendURL     string
	WebhookSecret  string
	GatewayTimeout time.Duration
	Currency       string
}

// Deps groups the collaborators of a Service. Metrics is optional.
type Deps struct {
	DynamoDB     aws.DynamoDBAPI
	Attempts     *payments.Store
	Ledger       *ledger.Store
	Orders       *orders.Store
	Materializer *materialize.Materializer
	Gateway      Gateway
	Metrics      *aws.Metrics
	Logger       *zap.Logger
}

// Service wires the entry points together.
type Service struct {
	dynamo       aws.DynamoDBAPI
	attempts     *payments.Store
	ledger       *ledger.Store
	orders       *orders.Store
	materializer *materialize.Materializer
	gateway      Gateway
	metrics      *aws.Metrics
	logger       *zap.Logger
	cfg          Config

	newID   func() string
	nowFunc func() time.Time
}

func NewService(cfg Config, d Deps) *Service {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = gateway.DefaultTimeout
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		dynamo:       d.DynamoDB,
		attempts:     d.Attempts,
		ledger:       d.Ledger,
		orders:       d.Orders,
		materializer: d.Materializer,
		gateway:      d.Gateway,
		metrics:      d.Metrics,
		logger:       logger,
		cfg:          cfg,
		newID:        uuid.NewString,
		nowFunc:      time.Now,
	}
}

// GetPayment returns an attempt to its payer or provider. Anyone else gets ErrNotFound.
func (s *Service) GetPayment(ctx context.Context, paymentID, callerID string) (*payments.Attempt, error) {
	a, err := s.attempts.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if a == nil || (a.PayerID != callerID && a.ProviderID != callerID) {
		return nil, ErrNotFound
	}
	return a, nil
}

// Observation is the outcome of reconciling one attempt against the gateway.
type Observation struct {
	PaymentID      string
	GatewayOrderID string
	GatewayStatus  string
	Status         payments.Status
	Paid           bool
	Order          *orders.Order
	Created        bool
	Retryable      bool
}

// apply moves the attempt according to the observed gateway status and materializes the
// order for paid attempts.
func (s *Service) apply(ctx context.Context, attempt *payments.Attempt, status payments.Status, observed *payments.Customer) (*Observation, error) {
	obs := &Observation{
		PaymentID:      attempt.PaymentID,
		GatewayOrderID: attempt.GatewayOrderID,
		Status:         status,
	}

	switch status {
	case payments.StatusSuccess:
		if !attempt.HasOrder() {
			if _, err := s.attempts.MarkPaid(ctx, attempt.PaymentID); err != nil {
				if errors.Is(err, payments.ErrStatusMismatch) {
					s.logger.Error("gateway reports paid for a failed attempt",
						zap.String("payment_id", attempt.PaymentID),
						zap.String("gateway_order_id", attempt.GatewayOrderID))
					obs.Status = payments.StatusFailed
					return obs, nil
				}
				return nil, fmt.Errorf("mark paid: %w", err)
			}
		}
		res, err := s.materializer.Materialize(ctx, attempt.PaymentID, observed)
		if err != nil {
			if errors.Is(err, materialize.ErrAttemptFailed) {
				obs.Status = payments.StatusFailed
				return obs, nil
			}
			return nil, fmt.Errorf("materialize: %w", err)
		}
		obs.Paid = true
		obs.Order = res.Order
		obs.Created = res.Created

	case payments.StatusFailed:
		if err := s.attempts.MarkFailed(ctx, attempt.PaymentID, "gateway reported FAILED"); err != nil {
			if !errors.Is(err, payments.ErrStatusMismatch) {
				return nil, fmt.Errorf("mark failed: %w", err)
			}
			if attempt.Status == payments.StatusSuccess {
				s.logger.Error("gateway reports failed for a paid attempt",
					zap.String("payment_id", attempt.PaymentID),
					zap.String("gateway_order_id", attempt.GatewayOrderID))
			}
		}
	}
	return obs, nil
}

// fetch reads the remote order under the gateway timeout.
func (s *Service) fetch(ctx context.Context, correlationID string) (*gateway.RemoteOrder, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	remote, err := s.gateway.FetchRemoteOrder(callCtx, correlationID)
	if err != nil {
		s.metrics.Count(ctx, aws.MetricGatewayErrors, 1)
		s.logger.Warn("gateway fetch failed",
			zap.String("gateway_order_id", correlationID),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return remote, nil
}
