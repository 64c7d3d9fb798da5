package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/imrishuroy/docmarket-payments/internal/ledger"
	"github.com/imrishuroy/docmarket-payments/internal/orders"
	"github.com/imrishuroy/docmarket-payments/internal/payments"
)

// Invoice is the billing view of an order: the order, the attempt that paid for it and the
// last gateway response recorded for that attempt.
type Invoice struct {
	Order           *orders.Order     `json:"order"`
	Payment         *payments.Attempt `json:"payment"`
	Transaction     *ledger.Entry     `json:"transaction,omitempty"`
	GatewayResponse json.RawMessage   `json:"gateway_response,omitempty"`
}

// GetInvoice looks up the payment behind an order. Only the payer or the provider of the
// order can see it.
func (s *Service) GetInvoice(ctx context.Context, orderID, callerID string) (*Invoice, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil || (o.PayerID != callerID && o.ProviderID != callerID) {
		return nil, fmt.Errorf("%w: order", ErrNotFound)
	}
	if o.PaymentID == "" {
		return nil, fmt.Errorf("%w: payment for order", ErrNotFound)
	}
	a, err := s.attempts.Get(ctx, o.PaymentID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, fmt.Errorf("%w: payment for order", ErrNotFound)
	}
	e, err := s.ledger.Get(ctx, a.GatewayOrderID)
	if err != nil {
		return nil, err
	}
	return &Invoice{
		Order:           o,
		Payment:         a,
		Transaction:     e,
		GatewayResponse: e.RawJSON(),
	}, nil
}
