package validation

// InitiatePaymentRequest is the payload for POST /api/payments/initiate
type InitiatePaymentRequest struct {
	PayerID         string  `json:"payer_id,omitempty"`                         // defaults to the caller
	ProviderID      string  `json:"provider_id" validate:"required"`            // fulfilling provider
	ServiceID       string  `json:"service_id" validate:"required"`             // catalog service
	Amount          float64 `json:"amount" validate:"required,gt=0"`            // rupees, at most two decimals
	Address         string  `json:"address" validate:"required"`                // free-text delivery address
	AppointmentSlot string  `json:"appointment_slot" validate:"required"`       // provider appointment
	Pincode         string  `json:"pincode,omitempty" validate:"omitempty,numeric,len=6"`
	City            string  `json:"city,omitempty"`
	District        string  `json:"district,omitempty"`
	StateName       string  `json:"state_name,omitempty"`
	Country         string  `json:"country,omitempty"`
	CustomerName    string  `json:"customer_name,omitempty" validate:"omitempty,max=100"`
	CustomerEmail   string  `json:"customer_email,omitempty" validate:"omitempty,email"`
	CustomerPhone   string  `json:"customer_phone,omitempty" validate:"omitempty,numeric,min=10,max=15"`
	Method          string  `json:"method,omitempty" validate:"omitempty,oneof=gateway cashfree cod"`
	TermsAccepted   *bool   `json:"terms_accepted,omitempty"` // absent means accepted
}

// VerifyPaymentQuery is the query string of GET /api/payments/verify
type VerifyPaymentQuery struct {
	OrderID   string `form:"order_id" validate:"required"` // gateway correlation id
	PaymentID string `form:"paymentId"`                    // optional attempt hint
}

// UpdateOrderStatusRequest is the payload for PUT /api/orders/provider/:id
type UpdateOrderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending received generated out_for_delivery delivered"`
}

// ListOrdersQuery is the query string of GET /api/orders/user/:userId
type ListOrdersQuery struct {
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=100"`
	Cursor string `form:"cursor"` // next_cursor of the previous page
}

// ProviderOrdersQuery is the query string of GET /api/orders/provider/:providerId
type ProviderOrdersQuery struct {
	Status string `form:"status" validate:"omitempty,oneof=all pending received generated out_for_delivery delivered"`
	Limit  int    `form:"limit" validate:"omitempty,min=1,max=100"`
	Cursor string `form:"cursor"`
}

// StatusUpdateItem is one entry of a bulk status update. Items are checked one by one and
// a bad item is reported back instead of failing the request.
type StatusUpdateItem struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// BulkStatusRequest is the payload for POST /api/orders/provider/bulk-status
type BulkStatusRequest struct {
	Updates []StatusUpdateItem `json:"updates" validate:"required,min=1,max=50"`
}
