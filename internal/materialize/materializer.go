// Package materialize turns a paid payment attempt into exactly one fulfillment order.
package materialize

import (
	"context"
	"errors"
	"fmt"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/docmarket-payments/internal/aws"
	"github.com/imrishuroy/docmarket-payments/internal/catalog"
	"github.com/imrishuroy/docmarket-payments/internal/gateway"
	"github.com/imrishuroy/docmarket-payments/internal/ledger"
	"github.com/imrishuroy/docmarket-payments/internal/notifications"
	"github.com/imrishuroy/docmarket-payments/internal/orders"
	"github.com/imrishuroy/docmarket-payments/internal/payments"
)

var (
	// ErrAttemptNotFound is returned when the payment attempt does not exist.
	ErrAttemptNotFound = errors.New("payment attempt not found")
	// ErrAttemptFailed is returned when the attempt is failed and can never produce an order.
	ErrAttemptFailed = errors.New("payment attempt is failed")
)

// Notifier delivers best-effort notifications.
type Notifier interface {
	Notify(n notifications.Notification)
}

// Result is the order backing a paid attempt. Created is true only for the call that
// wrote it.
type Result struct {
	Order   *orders.Order
	Created bool
}

// Materializer is the only writer of orders created from payment attempts.
type Materializer struct {
	dynamo   aws.DynamoDBAPI
	attempts *payments.Store
	orders   *orders.Store
	ledger   *ledger.Store
	catalog  catalog.Reader
	notifier Notifier
	metrics  *aws.Metrics
	logger   *zap.Logger
	newID    func() string
}

// Deps groups the collaborators of a Materializer. Catalog, Notifier and Metrics are optional.
type Deps struct {
	DynamoDB aws.DynamoDBAPI
	Attempts *payments.Store
	Orders   *orders.Store
	Ledger   *ledger.Store
	Catalog  catalog.Reader
	Notifier Notifier
	Metrics  *aws.Metrics
	Logger   *zap.Logger
}

func New(d Deps) *Materializer {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Materializer{
		dynamo:   d.DynamoDB,
		attempts: d.Attempts,
		orders:   d.Orders,
		ledger:   d.Ledger,
		catalog:  d.Catalog,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

// Materialize returns the order for the attempt, creating it if none exists yet. observed
// carries customer details reported by the gateway and wins over the attempt snapshot.
//
// The order put and the attempt's order reference are written in one transaction guarded
// by attribute_not_exists(order_id) on the attempt, so concurrent callers for the same
// attempt produce a single order and the losers return the winner's.
func (m *Materializer) Materialize(ctx context.Context, attemptID string, observed *payments.Customer) (*Result, error) {
	attempt, err := m.attempts.Get(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("load attempt: %w", err)
	}
	if attempt == nil {
		return nil, ErrAttemptNotFound
	}
	if attempt.HasOrder() {
		return m.existing(ctx, attempt)
	}
	if attempt.Status == payments.StatusFailed {
		return nil, ErrAttemptFailed
	}

	order := m.buildOrder(ctx, attempt, observed)
	orderItem, err := m.orders.CreateItem(order)
	if err != nil {
		return nil, err
	}
	_, err = m.dynamo.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			orderItem,
			m.attempts.LinkOrderItem(attempt.PaymentID, order.OrderID),
		},
	})
	if err != nil {
		var tce *types.TransactionCanceledException
		if !errors.As(err, &tce) {
			return nil, fmt.Errorf("transact write order: %w", err)
		}
		return m.resolveConflict(ctx, attemptID, err)
	}

	m.afterCreate(ctx, attempt, order)
	return &Result{Order: order, Created: true}, nil
}

func (m *Materializer) existing(ctx context.Context, attempt *payments.Attempt) (*Result, error) {
	o, err := m.orders.Get(ctx, attempt.OrderID)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	if o == nil {
		return nil, fmt.Errorf("attempt %s references missing order %s", attempt.PaymentID, attempt.OrderID)
	}
	return &Result{Order: o}, nil
}

func (m *Materializer) resolveConflict(ctx context.Context, attemptID string, cause error) (*Result, error) {
	attempt, err := m.attempts.Get(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("reload attempt after conflict: %w", err)
	}
	if attempt == nil {
		return nil, ErrAttemptNotFound
	}
	if !attempt.HasOrder() {
		if attempt.Status == payments.StatusFailed {
			return nil, ErrAttemptFailed
		}
		return nil, fmt.Errorf("materialize attempt %s: %w", attemptID, cause)
	}
	m.metrics.Count(ctx, aws.MetricMaterializeConflicts, 1)
	m.logger.Info("materialize lost race, returning existing order",
		zap.String("payment_id", attemptID),
		zap.String("order_id", attempt.OrderID))
	return m.existing(ctx, attempt)
}

func (m *Materializer) buildOrder(ctx context.Context, a *payments.Attempt, observed *payments.Customer) *orders.Order {
	customer := a.Customer
	if observed != nil {
		if observed.Name != "" {
			customer.Name = observed.Name
		}
		if observed.Email != "" {
			customer.Email = observed.Email
		}
		if observed.Phone != "" {
			customer.Phone = observed.Phone
		}
	}
	if customer.Name == "" {
		customer.Name = gateway.DefaultCustomerName
	}
	if customer.Email == "" {
		customer.Email = gateway.DefaultCustomerEmail
	}
	if customer.Phone == "" {
		customer.Phone = gateway.DefaultCustomerPhone
	}

	paymentStatus := orders.PaymentPaid
	if a.Method == payments.MethodCOD {
		paymentStatus = orders.PaymentPending
	}

	return &orders.Order{
		OrderID:         m.newID(),
		PaymentID:       a.PaymentID,
		PayerID:         a.PayerID,
		ProviderID:      a.ProviderID,
		ServiceID:       a.ServiceID,
		ServiceTitle:    m.serviceTitle(ctx, a.ServiceID),
		Address:         a.Address,
		AppointmentSlot: a.AppointmentSlot,
		Customer:        customer,
		Total:           a.Amount,
		Currency:        a.Currency,
		Method:          a.Method,
		Status:          orders.StatusReceived,
		PaymentStatus:   paymentStatus,
	}
}

func (m *Materializer) serviceTitle(ctx context.Context, serviceID string) string {
	if m.catalog == nil {
		return ""
	}
	svc, err := m.catalog.Lookup(ctx, serviceID)
	if err != nil {
		if !errors.Is(err, catalog.ErrNotFound) {
			m.logger.Warn("catalog lookup failed", zap.String("service_id", serviceID), zap.Error(err))
		}
		return ""
	}
	return svc.Title
}

// afterCreate runs the best-effort follow-ups of a new order.
func (m *Materializer) afterCreate(ctx context.Context, a *payments.Attempt, o *orders.Order) {
	m.logger.Info("order materialized",
		zap.String("payment_id", a.PaymentID),
		zap.String("order_id", o.OrderID),
		zap.String("method", string(a.Method)))
	m.metrics.Count(ctx, aws.MetricOrdersMaterialized, 1)

	if a.GatewayOrderID != "" && m.ledger != nil {
		if err := m.ledger.LinkOrder(ctx, a.GatewayOrderID, o.OrderID); err != nil {
			m.logger.Warn("ledger order link failed",
				zap.String("gateway_order_id", a.GatewayOrderID),
				zap.Error(err))
		}
	}

	if m.notifier != nil {
		title := o.ServiceTitle
		if title == "" {
			title = "your service"
		}
		m.notifier.Notify(notifications.Notification{
			RecipientID:   o.PayerID,
			RecipientType: "user",
			SenderID:      o.ProviderID,
			SenderType:    "system",
			Title:         notifications.TitleOrderReceived,
			Message:       fmt.Sprintf("Your order for %s (#%s) has been received.", title, o.OrderID),
			Type:          "transaction",
			Data:          map[string]string{"order_id": o.OrderID, "payment_id": a.PaymentID},
		})
	}
}
