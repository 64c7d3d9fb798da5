package payments

import "time"

// Status is the payment status shared by attempts and ledger entries.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Method is how the payer settles the attempt.
type Method string

const (
	MethodGateway Method = "gateway"
	MethodCOD     Method = "cod"
)

// Address is the delivery snapshot taken at initiation.
type Address struct {
	Line     string `dynamodbav:"line" json:"address"`
	Pincode  string `dynamodbav:"pincode,omitempty" json:"pincode,omitempty"`
	City     string `dynamodbav:"city,omitempty" json:"city,omitempty"`
	District string `dynamodbav:"district,omitempty" json:"district,omitempty"`
	State    string `dynamodbav:"state_name,omitempty" json:"state_name,omitempty"`
	Country  string `dynamodbav:"country,omitempty" json:"country,omitempty"`
}

// Customer is the contact snapshot taken at initiation.
type Customer struct {
	Name  string `dynamodbav:"name,omitempty" json:"customer_name,omitempty"`
	Email string `dynamodbav:"email,omitempty" json:"customer_email,omitempty"`
	Phone string `dynamodbav:"phone,omitempty" json:"customer_phone,omitempty"`
}

// Attempt is one payer intent to pay for a service, stored in the payments table.
// OrderID is written once, together with StatusSuccess, by the order materializer.
type Attempt struct {
	PaymentID       string    `dynamodbav:"payment_id" json:"payment_id"` // PK
	PayerID         string    `dynamodbav:"payer_id" json:"payer_id"`
	ProviderID      string    `dynamodbav:"provider_id" json:"provider_id"`
	ServiceID       string    `dynamodbav:"service_id" json:"service_id"`
	Amount          float64   `dynamodbav:"amount" json:"amount"`
	Currency        string    `dynamodbav:"currency" json:"currency"`
	Method          Method    `dynamodbav:"method" json:"method"`
	Status          Status    `dynamodbav:"status" json:"status"`
	Address         Address   `dynamodbav:"address" json:"address"`
	AppointmentSlot string    `dynamodbav:"appointment_slot" json:"appointment_slot"`
	Customer        Customer  `dynamodbav:"customer" json:"customer"`
	GatewayOrderID  string    `dynamodbav:"gateway_order_id,omitempty" json:"gateway_order_id,omitempty"`
	OrderID         string    `dynamodbav:"order_id,omitempty" json:"order_id,omitempty"`
	Note            string    `dynamodbav:"note,omitempty" json:"-"`
	CreatedAt       time.Time `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt       time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

// HasOrder reports whether the attempt has been materialized.
func (a *Attempt) HasOrder() bool {
	return a != nil && a.OrderID != ""
}
