package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"go.uber.org/zap"
)

// Processor persists notifications delivered through SQS.
type Processor struct {
	store  *Store
	logger *zap.Logger
}

func NewProcessor(store *Store, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{store: store, logger: logger}
}

// Handle receives an SQS batch event and stores each notification. Redelivered messages
// are ignored; any other failure is returned so Lambda retries the batch.
func (p *Processor) Handle(ctx context.Context, ev events.SQSEvent) error {
	for _, rec := range ev.Records {
		if err := p.processMessage(ctx, rec); err != nil {
			p.logger.Error("notification processing failed",
				zap.String("message_id", rec.MessageId),
				zap.Error(err))
			return err
		}
	}
	return nil
}

func (p *Processor) processMessage(ctx context.Context, rec events.SQSMessage) error {
	var n Notification
	if err := json.Unmarshal([]byte(rec.Body), &n); err != nil {
		return fmt.Errorf("invalid message body: %w", err)
	}
	if n.NotificationID == "" || n.RecipientID == "" {
		return fmt.Errorf("notification missing id or recipient (message %s)", rec.MessageId)
	}

	err := p.store.Create(ctx, &n)
	if errors.Is(err, ErrDuplicate) {
		p.logger.Info("duplicate notification delivery",
			zap.String("notification_id", n.NotificationID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	p.logger.Debug("notification stored",
		zap.String("notification_id", n.NotificationID),
		zap.String("title", n.Title))
	return nil
}
