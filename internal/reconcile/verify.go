package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/docmarket-payments/internal/ledger"
	"github.com/imrishuroy/docmarket-payments/internal/payments"
)

// VerifyInput is the redirect-time confirmation from the payer's browser.
type VerifyInput struct {
	CorrelationID string
	PaymentIDHint string
	CallerID      string
}

// Verify fetches the authoritative gateway status for a correlation id, records it on the
// ledger and materializes the order when the payment is confirmed. It is safe to repeat.
//
// The attempt is resolved from the ledger entry. The hint is only used when no entry
// exists, and only if the hinted attempt carries the same correlation id. Either way the
// attempt must belong to the caller.
func (s *Service) Verify(ctx context.Context, in VerifyInput) (*Observation, error) {
	if in.CorrelationID == "" {
		return nil, fmt.Errorf("%w: order_id is required", ErrValidation)
	}

	entry, err := s.ledger.Get(ctx, in.CorrelationID)
	if err != nil {
		return nil, err
	}
	attempt, err := s.resolveAttempt(ctx, entry, in)
	if err != nil {
		return nil, err
	}

	if entry != nil && entry.Provider == ledger.ProviderCOD {
		return s.codObservation(ctx, attempt)
	}

	remote, err := s.fetch(ctx, in.CorrelationID)
	if err != nil {
		obs := &Observation{
			PaymentID:      attempt.PaymentID,
			GatewayOrderID: in.CorrelationID,
			Status:         payments.StatusPending,
			Retryable:      true,
		}
		if attempt.Status == payments.StatusFailed {
			obs.Status = payments.StatusFailed
			obs.Retryable = false
			return obs, nil
		}
		if attempt.HasOrder() {
			res, mErr := s.materializer.Materialize(ctx, attempt.PaymentID, nil)
			if mErr == nil {
				obs.Status = payments.StatusSuccess
				obs.Paid = true
				obs.Order = res.Order
				obs.Retryable = false
			}
		}
		return obs, nil
	}

	status := remote.PaymentStatus()
	if entry != nil {
		if err := s.ledger.RecordObservation(ctx, in.CorrelationID, status, remote.Raw); err != nil {
			return nil, fmt.Errorf("record observation: %w", err)
		}
	}
	obs, err := s.apply(ctx, attempt, status, nil)
	if err != nil {
		return nil, err
	}
	obs.GatewayOrderID = in.CorrelationID
	obs.GatewayStatus = remote.Status
	return obs, nil
}

func (s *Service) resolveAttempt(ctx context.Context, entry *ledger.Entry, in VerifyInput) (*payments.Attempt, error) {
	var (
		attempt *payments.Attempt
		err     error
	)
	switch {
	case entry != nil:
		attempt, err = s.attempts.Get(ctx, entry.PaymentID)
	case in.PaymentIDHint != "":
		attempt, err = s.attempts.Get(ctx, in.PaymentIDHint)
		if err == nil && attempt != nil && attempt.GatewayOrderID != in.CorrelationID {
			s.logger.Warn("verify hint does not match correlation id",
				zap.String("payment_id", in.PaymentIDHint),
				zap.String("gateway_order_id", in.CorrelationID))
			attempt = nil
		}
	}
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, fmt.Errorf("%w: payment", ErrNotFound)
	}
	if in.CallerID != "" && attempt.PayerID != in.CallerID {
		return nil, fmt.Errorf("%w: payment", ErrNotFound)
	}
	return attempt, nil
}

// codObservation reports a COD attempt without asking the gateway, which never saw it. A
// pending attempt without an order had its materialization interrupted and is retried.
func (s *Service) codObservation(ctx context.Context, attempt *payments.Attempt) (*Observation, error) {
	obs := &Observation{
		PaymentID:      attempt.PaymentID,
		GatewayOrderID: attempt.GatewayOrderID,
		Status:         attempt.Status,
	}
	if attempt.Status == payments.StatusPending && !attempt.HasOrder() {
		res, err := s.materializer.Materialize(ctx, attempt.PaymentID, nil)
		if err != nil {
			return nil, fmt.Errorf("materialize cod order: %w", err)
		}
		s.logger.Info("cod order materialized on verify",
			zap.String("payment_id", attempt.PaymentID),
			zap.String("order_id", res.Order.OrderID))
		obs.Status = payments.StatusSuccess
		obs.Order = res.Order
		obs.Created = res.Created
		return obs, nil
	}
	if !attempt.HasOrder() {
		return obs, nil
	}
	o, err := s.orders.Get(ctx, attempt.OrderID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, errors.New("cod attempt references a missing order")
	}
	obs.Order = o
	return obs, nil
}
