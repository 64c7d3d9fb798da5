package orders

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/docmarket-payments/internal/notifications"
)

var (
	// ErrNotFound is returned when an order does not exist or is not visible to the caller.
	ErrNotFound = errors.New("order not found")
	// ErrForbidden is returned when a caller lists orders that belong to someone else.
	ErrForbidden = errors.New("not allowed for this caller")
)

// Listing page sizes
const (
	DefaultPayerPageSize    = 20
	DefaultProviderPageSize = 9
	MaxPageSize             = 100
)

// Notifier delivers best-effort notifications.
type Notifier interface {
	Notify(n notifications.Notification)
}

// Service exposes order reads and provider fulfillment updates.
type Service struct {
	store    *Store
	notifier Notifier
	logger   *zap.Logger
}

// NewService creates a Service. notifier may be nil.
func NewService(store *Store, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, notifier: notifier, logger: logger}
}

// Get returns the order to its payer or provider.
func (s *Service) Get(ctx context.Context, orderID, callerID string) (*Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil || (o.PayerID != callerID && o.ProviderID != callerID) {
		return nil, ErrNotFound
	}
	return o, nil
}

// UpdateStatus moves an order owned by providerID to status. A concurrent change between
// the read and the write surfaces as ErrStatusMismatch.
func (s *Service) UpdateStatus(ctx context.Context, orderID, providerID, status string) (*Order, error) {
	if !ValidStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if orderID == "" {
		return nil, ErrNotFound
	}
	current, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if current == nil || current.ProviderID != providerID {
		return nil, ErrNotFound
	}
	if current.Status == status {
		return current, nil
	}

	updated, err := s.store.UpdateStatus(ctx, orderID, current.Status, status)
	if err != nil {
		return nil, err
	}
	s.logger.Info("order status updated",
		zap.String("order_id", orderID),
		zap.String("from", current.Status),
		zap.String("to", status))

	if s.notifier != nil {
		s.notifier.Notify(notifications.Notification{
			RecipientID:   updated.PayerID,
			RecipientType: "user",
			SenderID:      updated.ProviderID,
			SenderType:    "service_provider",
			Title:         notifications.TitleOrderStatusUpdated,
			Message:       fmt.Sprintf("Your order #%s is now %s.", orderID, statusLabel(status)),
			Type:          "order",
			Data:          map[string]string{"order_id": orderID, "status": status},
		})
	}
	return updated, nil
}

// ListForPayer lists the caller's own orders.
func (s *Service) ListForPayer(ctx context.Context, payerID, callerID string, limit int, cursor string) (*Page, error) {
	if payerID != callerID {
		return nil, ErrForbidden
	}
	return s.store.ListByPayer(ctx, payerID, pageSize(limit, DefaultPayerPageSize), cursor)
}

// ListForProvider lists the orders assigned to the calling provider. An empty status or
// "all" lists every status.
func (s *Service) ListForProvider(ctx context.Context, providerID, callerID, status string, limit int, cursor string) (*Page, error) {
	if providerID != callerID {
		return nil, ErrForbidden
	}
	if status == "all" {
		status = ""
	}
	if status != "" && !ValidStatus(status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.store.ListByProvider(ctx, providerID, status, pageSize(limit, DefaultProviderPageSize), cursor)
}

func pageSize(limit, def int) int32 {
	switch {
	case limit <= 0:
		return int32(def)
	case limit > MaxPageSize:
		return MaxPageSize
	}
	return int32(limit)
}

// StatusUpdate is one item of a bulk status change.
type StatusUpdate struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// BulkFailure reports why one item of a bulk change was not applied.
type BulkFailure struct {
	OrderID string `json:"order_id"`
	Error   string `json:"error"`
}

// BulkResult holds the per-item outcomes of UpdateStatusBulk.
type BulkResult struct {
	Updated []StatusUpdate `json:"updated"`
	Failed  []BulkFailure  `json:"failed"`
}

// UpdateStatusBulk applies each update independently through UpdateStatus. A failed item
// never stops the others.
func (s *Service) UpdateStatusBulk(ctx context.Context, providerID string, updates []StatusUpdate) *BulkResult {
	res := &BulkResult{Updated: []StatusUpdate{}, Failed: []BulkFailure{}}
	for _, u := range updates {
		o, err := s.UpdateStatus(ctx, u.OrderID, providerID, u.Status)
		if err != nil {
			res.Failed = append(res.Failed, BulkFailure{OrderID: u.OrderID, Error: s.bulkReason(u.OrderID, err)})
			continue
		}
		res.Updated = append(res.Updated, StatusUpdate{OrderID: o.OrderID, Status: o.Status})
	}
	s.logger.Info("bulk order status update",
		zap.String("provider_id", providerID),
		zap.Int("updated", len(res.Updated)),
		zap.Int("failed", len(res.Failed)))
	return res
}

func (s *Service) bulkReason(orderID string, err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "order not found"
	case errors.Is(err, ErrInvalidStatus):
		return "invalid status"
	case errors.Is(err, ErrStatusMismatch):
		return "order was modified concurrently"
	}
	s.logger.Error("bulk status item failed", zap.String("order_id", orderID), zap.Error(err))
	return "update failed"
}

func statusLabel(status string) string {
	switch status {
	case StatusOutForDelivery:
		return "out for delivery"
	default:
		return status
	}
}
