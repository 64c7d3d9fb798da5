package notifications

import "time"

// Titles used by the order flow.
const (
	TitleOrderReceived      = "Order Received"
	TitleOrderStatusUpdated = "Order Status Updated"
)

// CleanupTitles are the order-update titles the janitor removes once resolved and stale.
var CleanupTitles = []string{"Order Update", "Order Status Updated", "Order Status Update"}

// Statuses
const (
	StatusActive   = "active"
	StatusResolved = "resolved"
)

// Notification is an in-app message for a payer or provider.
type Notification struct {
	NotificationID string            `dynamodbav:"notification_id" json:"notification_id"` // PK
	RecipientID    string            `dynamodbav:"recipient_id" json:"recipient_id"`
	RecipientType  string            `dynamodbav:"recipient_type" json:"recipient_type"`
	SenderID       string            `dynamodbav:"sender_id" json:"sender_id"`
	SenderType     string            `dynamodbav:"sender_type" json:"sender_type"`
	Title          string            `dynamodbav:"title" json:"title"`
	Message        string            `dynamodbav:"message" json:"message"`
	Type           string            `dynamodbav:"notification_type" json:"notification_type"`
	Data           map[string]string `dynamodbav:"data,omitempty" json:"data,omitempty"`
	Status         string            `dynamodbav:"status" json:"status"`
	Read           bool              `dynamodbav:"read" json:"read"`
	CreatedAt      time.Time         `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt      time.Time         `dynamodbav:"updated_at" json:"updated_at"`
}
