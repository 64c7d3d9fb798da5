package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/imrishuroy/docmarket-payments/internal/aws"
	"github.com/imrishuroy/docmarket-payments/internal/ledger"
	"github.com/imrishuroy/docmarket-payments/internal/payments"
)

// Webhook outcomes
const (
	OutcomePing      = "ping"
	OutcomeIgnored   = "ignored"
	OutcomeProcessed = "processed"
)

// WebhookInput is a raw gateway callback.
type WebhookInput struct {
	Timestamp string
	Signature string
	Body      []byte
}

// WebhookResult reports what was done with an accepted callback.
type WebhookResult struct {
	Outcome     string
	Observation *Observation
}

type webhookEvent struct {
	Type string `json:"type"`
	Data struct {
		Order *struct {
			OrderID string `json:"order_id"`
		} `json:"order"`
		Payment *struct {
			OrderID       string `json:"order_id"`
			PaymentStatus string `json:"payment_status"`
		} `json:"payment"`
		CustomerDetails *struct {
			Name  string `json:"customer_name"`
			Email string `json:"customer_email"`
			Phone string `json:"customer_phone"`
		} `json:"customer_details"`
	} `json:"data"`
}

func (e *webhookEvent) correlationID() string {
	if e.Data.Order != nil && e.Data.Order.OrderID != "" {
		return e.Data.Order.OrderID
	}
	if e.Data.Payment != nil {
		return e.Data.Payment.OrderID
	}
	return ""
}

func (e *webhookEvent) customer() *payments.Customer {
	cd := e.Data.CustomerDetails
	if cd == nil {
		return nil
	}
	return &payments.Customer{Name: cd.Name, Email: cd.Email, Phone: cd.Phone}
}

// HandleWebhook authenticates a gateway callback and reconciles the attempt it names. The
// event body is only used to find the correlation id; the status always comes from a
// fresh fetch. A callback with neither signature header is a connectivity check.
func (s *Service) HandleWebhook(ctx context.Context, in WebhookInput) (*WebhookResult, error) {
	if in.Timestamp == "" && in.Signature == "" {
		s.logger.Info("webhook ping acknowledged")
		return &WebhookResult{Outcome: OutcomePing}, nil
	}
	if !VerifySignature(s.cfg.WebhookSecret, in.Timestamp, in.Body, in.Signature) {
		s.metrics.Count(ctx, aws.MetricWebhookSignatureRejected, 1)
		s.logger.Warn("webhook signature rejected",
			zap.String("timestamp", in.Timestamp),
			zap.Int("body_bytes", len(in.Body)))
		return nil, ErrAuthentication
	}

	var ev webhookEvent
	if err := json.Unmarshal(in.Body, &ev); err != nil {
		return nil, fmt.Errorf("%w: malformed event body", ErrValidation)
	}
	corr := ev.correlationID()
	if corr == "" {
		s.logger.Info("webhook without correlation id ignored", zap.String("type", ev.Type))
		return &WebhookResult{Outcome: OutcomeIgnored}, nil
	}

	entry, err := s.ledger.Get(ctx, corr)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		s.logger.Info("webhook for unknown correlation id ignored", zap.String("gateway_order_id", corr))
		return &WebhookResult{Outcome: OutcomeIgnored}, nil
	}
	if entry.Provider == ledger.ProviderCOD {
		s.logger.Info("webhook for cod attempt ignored", zap.String("gateway_order_id", corr))
		return &WebhookResult{Outcome: OutcomeIgnored}, nil
	}
	attempt, err := s.attempts.Get(ctx, entry.PaymentID)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		s.logger.Warn("ledger entry without attempt",
			zap.String("gateway_order_id", corr),
			zap.String("payment_id", entry.PaymentID))
		return &WebhookResult{Outcome: OutcomeIgnored}, nil
	}

	remote, err := s.fetch(ctx, corr)
	if err != nil {
		return nil, err
	}
	status := remote.PaymentStatus()
	if err := s.ledger.RecordObservation(ctx, corr, status, remote.Raw); err != nil {
		return nil, fmt.Errorf("record observation: %w", err)
	}
	obs, err := s.apply(ctx, attempt, status, ev.customer())
	if err != nil {
		return nil, err
	}
	obs.GatewayOrderID = corr
	obs.GatewayStatus = remote.Status

	s.logger.Info("webhook processed",
		zap.String("type", ev.Type),
		zap.String("gateway_order_id", corr),
		zap.String("status", string(obs.Status)),
		zap.Bool("order_created", obs.Created))
	return &WebhookResult{Outcome: OutcomeProcessed, Observation: obs}, nil
}
