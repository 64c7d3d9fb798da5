package ledger

import (
	"encoding/json"
	"time"

	"github.com/imrishuroy/docmarket-payments/internal/payments"
)

// Provider names recorded on ledger entries.
const (
	ProviderGateway = "Cashfree"
	ProviderCOD     = "COD"
)

// Entry records one gateway interaction for a payment attempt. The gateway correlation id
// is the partition key, so it is unique across the ledger.
type Entry struct {
	GatewayOrderID string          `dynamodbav:"gateway_order_id" json:"gateway_order_id"` // PK
	TransactionID  string          `dynamodbav:"transaction_id" json:"transaction_id"`
	PaymentID      string          `dynamodbav:"payment_id" json:"payment_id"`
	PayerID        string          `dynamodbav:"payer_id,omitempty" json:"payer_id,omitempty"`
	ProviderID     string          `dynamodbav:"provider_id,omitempty" json:"provider_id,omitempty"`
	ServiceID      string          `dynamodbav:"service_id,omitempty" json:"service_id,omitempty"`
	Provider       string          `dynamodbav:"provider" json:"provider"`
	Amount         float64         `dynamodbav:"amount" json:"amount"`
	Currency       string          `dynamodbav:"currency" json:"currency"`
	Status         payments.Status `dynamodbav:"status" json:"status"`
	Raw            string          `dynamodbav:"raw,omitempty" json:"raw,omitempty"`
	OrderID        string          `dynamodbav:"order_id,omitempty" json:"order_id,omitempty"`
	CreatedAt      time.Time       `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `dynamodbav:"updated_at" json:"updated_at"`
}

// RawJSON returns the last recorded gateway response as JSON, or nil.
func (e *Entry) RawJSON() json.RawMessage {
	if e == nil || e.Raw == "" {
		return nil
	}
	return json.RawMessage(e.Raw)
}
