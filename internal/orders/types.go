package orders

import (
	"time"

	"github.com/imrishuroy/docmarket-payments/internal/payments"
)

// Fulfillment statuses
const (
	StatusPending        = "pending"
	StatusReceived       = "received"
	StatusGenerated      = "generated"
	StatusOutForDelivery = "out_for_delivery"
	StatusDelivered      = "delivered"
)

// Payment statuses carried on the order
const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
	PaymentFailed  = "failed"
)

// ValidStatus reports whether s is a known fulfillment status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusReceived, StatusGenerated, StatusOutForDelivery, StatusDelivered:
		return true
	}
	return false
}

// timestampField maps a status to the attribute stamped when the order enters it.
func timestampField(status string) string {
	switch status {
	case StatusGenerated:
		return "generated_at"
	case StatusOutForDelivery:
		return "dispatched_at"
	case StatusDelivered:
		return "delivered_at"
	}
	return ""
}

// Order represents the item stored in the orders table.
type Order struct {
	OrderID         string            `dynamodbav:"order_id" json:"order_id"` // PK
	PaymentID       string            `dynamodbav:"payment_id,omitempty" json:"payment_id,omitempty"`
	PayerID         string            `dynamodbav:"payer_id" json:"payer_id"`
	ProviderID      string            `dynamodbav:"provider_id" json:"provider_id"`
	ServiceID       string            `dynamodbav:"service_id" json:"service_id"`
	ServiceTitle    string            `dynamodbav:"service_title,omitempty" json:"service_title,omitempty"`
	Address         payments.Address  `dynamodbav:"address" json:"address"`
	AppointmentSlot string            `dynamodbav:"appointment_slot" json:"appointment_slot"`
	Customer        payments.Customer `dynamodbav:"customer" json:"customer"`
	Total           float64           `dynamodbav:"total" json:"total"`
	Currency        string            `dynamodbav:"currency" json:"currency"`
	Method          payments.Method   `dynamodbav:"method" json:"method"`
	Status          string            `dynamodbav:"status" json:"status"`
	PaymentStatus   string            `dynamodbav:"payment_status" json:"payment_status"`
	OrderedAt       time.Time         `dynamodbav:"ordered_at" json:"ordered_at"`
	GeneratedAt     *time.Time        `dynamodbav:"generated_at,omitempty" json:"generated_at,omitempty"`
	DispatchedAt    *time.Time        `dynamodbav:"dispatched_at,omitempty" json:"dispatched_at,omitempty"`
	DeliveredAt     *time.Time        `dynamodbav:"delivered_at,omitempty" json:"delivered_at,omitempty"`
	CreatedAt       time.Time         `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `dynamodbav:"updated_at" json:"updated_at"`
}
