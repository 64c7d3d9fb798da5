package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imrishuroy/docmarket-payments/internal/aws"
)

// Sender publishes a message body to the notifications queue.
type Sender interface {
	Send(ctx context.Context, messageBody string, attributes map[string]string) error
}

// Dispatcher delivers notifications in the background. Failures are logged and never
// reach the caller.
type Dispatcher struct {
	sender  Sender
	store   *Store
	logger  *zap.Logger
	timeout time.Duration

	wg sync.WaitGroup
}

// NewDispatcher queues notifications through sender. When no queue is configured the
// notification is written to store directly.
func NewDispatcher(sender Sender, store *Store, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sender:  sender,
		store:   store,
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// Notify schedules delivery and returns immediately.
func (d *Dispatcher) Notify(n Notification) {
	if d == nil {
		return
	}
	if n.NotificationID == "" {
		n.NotificationID = uuid.NewString()
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.deliver(ctx, n); err != nil {
			d.logger.Warn("notification dispatch failed",
				zap.String("notification_id", n.NotificationID),
				zap.String("recipient_id", n.RecipientID),
				zap.String("title", n.Title),
				zap.Error(err))
		}
	}()
}

// Wait blocks until every scheduled delivery has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, n Notification) error {
	if d.sender != nil {
		body, err := json.Marshal(n)
		if err != nil {
			return err
		}
		err = d.sender.Send(ctx, string(body), map[string]string{
			"notification_type": n.Type,
			"recipient_id":      n.RecipientID,
		})
		if !errors.Is(err, aws.ErrNoQueue) {
			return err
		}
	}
	if d.store == nil {
		return errors.New("no notification sink configured")
	}
	if err := d.store.Create(ctx, &n); err != nil && !errors.Is(err, ErrDuplicate) {
		return err
	}
	return nil
}
