package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/imrishuroy/docmarket-payments/internal/payments"
)

// ErrTransport marks failures where the gateway could not be reached or did not answer in
// time. Callers treat it as retryable.
var ErrTransport = errors.New("gateway transport failure")

// APIError is a response from the gateway reporting that it rejected the request.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("gateway returned %d", e.StatusCode)
}

// Customer is sent with every remote order.
type Customer struct {
	ID    string `json:"customer_id"`
	Name  string `json:"customer_name"`
	Email string `json:"customer_email"`
	Phone string `json:"customer_phone"`
}

// withDefaults fills the fields the gateway requires.
func (c Customer) withDefaults() Customer {
	if c.ID == "" {
		c.ID = "guest"
	}
	if c.Name == "" {
		c.Name = DefaultCustomerName
	}
	if c.Email == "" {
		c.Email = DefaultCustomerEmail
	}
	if c.Phone == "" {
		c.Phone = DefaultCustomerPhone
	}
	return c
}

// Placeholder contact values used when the payer supplied none.
const (
	DefaultCustomerName  = "NA"
	DefaultCustomerEmail = "na@example.com"
	DefaultCustomerPhone = "9999999999"
)

// CreateOrderRequest describes a remote order to open.
type CreateOrderRequest struct {
	CorrelationID string
	Amount        float64
	Currency      string
	Customer      Customer
	ReturnURL     string
	NotifyURL     string
	Note          string
}

type createOrderPayload struct {
	OrderID         string    `json:"order_id"`
	OrderAmount     float64   `json:"order_amount"`
	OrderCurrency   string    `json:"order_currency"`
	CustomerDetails Customer  `json:"customer_details"`
	OrderMeta       orderMeta `json:"order_meta"`
	OrderNote       string    `json:"order_note,omitempty"`
}

type orderMeta struct {
	ReturnURL string `json:"return_url,omitempty"`
	NotifyURL string `json:"notify_url,omitempty"`
}

// RemoteOrder is the gateway's view of an order.
type RemoteOrder struct {
	OrderID          string          `json:"order_id"`
	Status           string          `json:"order_status"`
	PaymentSessionID string          `json:"payment_session_id,omitempty"`
	Raw              json.RawMessage `json:"-"`
}

// PaymentStatus maps the gateway status onto the local payment status.
func (r *RemoteOrder) PaymentStatus() payments.Status {
	return MapStatus(r.Status)
}

// MapStatus is the single mapping from gateway order status to payment status used by
// every reconciliation path.
func MapStatus(gatewayStatus string) payments.Status {
	switch gatewayStatus {
	case "PAID":
		return payments.StatusSuccess
	case "FAILED":
		return payments.StatusFailed
	default:
		return payments.StatusPending
	}
}
