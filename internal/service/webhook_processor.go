package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ghostzx3/telegrupos-payments/internal/domain"
	"github.com/ghostzx3/telegrupos-payments/internal/logger"
	"github.com/ghostzx3/telegrupos-payments/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// WebhookProcessor applies provider notifications. Deliveries are
// at-least-once; the store's conditional write makes them idempotent.
type WebhookProcessor struct {
	repo               domain.PaymentRepository
	gateway            domain.PixGateway
	eventPublisher     domain.PaymentEventPublisher
	verifyWithProvider bool
	now                func() time.Time
}

type WebhookOption func(*WebhookProcessor)

// WithProviderConfirmation re-reads the charge from the provider before
// trusting a paid notification.
func WithProviderConfirmation(gateway domain.PixGateway) WebhookOption {
	return func(p *WebhookProcessor) {
		p.gateway = gateway
		p.verifyWithProvider = gateway != nil
	}
}

func WithWebhookClock(now func() time.Time) WebhookOption {
	return func(p *WebhookProcessor) { p.now = now }
}

func NewWebhookProcessor(repo domain.PaymentRepository, eventPublisher domain.PaymentEventPublisher, opts ...WebhookOption) *WebhookProcessor {
	p := &WebhookProcessor{
		repo:           repo,
		eventPublisher: eventPublisher,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *WebhookProcessor) Handle(ctx context.Context, n domain.WebhookNotification) (domain.WebhookResult, error) {
	ctx, span := tracer.Start(ctx, "WebhookProcessor.Handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("pix.external_id", n.TransactionID),
		attribute.String("pix.status", n.RawStatus),
	)

	ignored := domain.WebhookResult{Received: true, Processed: false}

	logger.Info("received webhook notification",
		zap.String("external_id", n.TransactionID),
		zap.String("status", n.RawStatus),
	)

	if n.Status != domain.StatusPaid {
		metrics.IncWebhook(metrics.WebhookIgnored)
		return ignored, nil
	}
	if n.TransactionID == "" {
		logger.Warn("paid notification without transaction id")
		metrics.IncWebhook(metrics.WebhookNotFound)
		return ignored, domain.NewNotFoundError("notification has no transaction id")
	}

	payment, err := p.repo.GetByExternalID(ctx, n.TransactionID)
	if err != nil {
		logger.Error("failed to fetch payment by external id", zap.Error(err), zap.String("external_id", n.TransactionID))
		metrics.IncWebhook(metrics.WebhookError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return ignored, err
	}
	if payment == nil {
		logger.Warn("payment not found for received webhook", zap.String("external_id", n.TransactionID))
		metrics.IncWebhook(metrics.WebhookNotFound)
		return ignored, domain.NewNotFoundError(fmt.Sprintf("no payment for transaction %s", n.TransactionID))
	}

	if payment.Status == domain.StatusPaid {
		logger.Info("duplicate webhook delivery", zap.String("payment_id", payment.ID))
		metrics.IncWebhook(metrics.WebhookDuplicate)
		return ignored, nil
	}
	if payment.Status != domain.StatusPending {
		logger.Warn("paid notification for a payment that is not pending",
			zap.String("payment_id", payment.ID),
			zap.String("status", string(payment.Status)),
		)
		metrics.IncWebhook(metrics.WebhookIgnored)
		return ignored, nil
	}

	if n.Amount != 0 && n.Amount != payment.Amount {
		logger.Error("webhook amount does not match payment",
			zap.String("payment_id", payment.ID),
			zap.Int64("expected", payment.Amount),
			zap.Int64("received", n.Amount),
		)
		metrics.IncWebhook(metrics.WebhookRejected)
		return ignored, nil
	}

	if p.verifyWithProvider {
		status, err := p.gateway.GetStatus(ctx, payment.ExternalID)
		if err != nil {
			logger.Error("failed to confirm payment with provider", zap.Error(err), zap.String("payment_id", payment.ID))
			metrics.IncWebhook(metrics.WebhookError)
			span.RecordError(err)
			return ignored, err
		}
		if status.Status != domain.StatusPaid {
			logger.Warn("provider does not confirm paid notification",
				zap.String("payment_id", payment.ID),
				zap.String("provider_status", string(status.Status)),
			)
			metrics.IncWebhook(metrics.WebhookRejected)
			return ignored, nil
		}
	}

	paidAt := p.now().UTC()
	grant := domain.NewEntitlementGrant(payment, paidAt)
	applied, err := p.repo.MarkPaid(ctx, payment.ID, paidAt, grant)
	if err != nil {
		logger.Error("failed to mark payment paid", zap.Error(err), zap.String("payment_id", payment.ID))
		metrics.IncWebhook(metrics.WebhookError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition failed")
		// The payment exists, so no store failure here may read as an unknown transaction.
		return ignored, fmt.Errorf("mark payment %s paid: %v", payment.ID, err)
	}
	if !applied {
		logger.Info("lost race to a concurrent delivery", zap.String("payment_id", payment.ID))
		metrics.IncWebhook(metrics.WebhookDuplicate)
		return ignored, nil
	}

	metrics.IncWebhook(metrics.WebhookProcessed)
	metrics.IncPaymentPaid(string(payment.PlanType), payment.Amount)
	logger.Info("payment marked paid",
		zap.String("payment_id", payment.ID),
		zap.String("group_id", payment.GroupID),
		zap.Time("entitled_until", grant.ExpiresAt),
	)

	p.publishPaid(ctx, payment, grant)

	return domain.WebhookResult{Received: true, Processed: true}, nil
}

// publishPaid never fails the delivery; the provider must not retry because
// a downstream fan-out failed.
func (p *WebhookProcessor) publishPaid(ctx context.Context, payment *domain.Payment, grant domain.EntitlementGrant) {
	if p.eventPublisher == nil {
		return
	}
	err := p.eventPublisher.PublishPaymentPaid(ctx, domain.PaymentPaidEvent{
		PaymentID:    payment.ID,
		ExternalID:   payment.ExternalID,
		GroupID:      payment.GroupID,
		UserID:       payment.UserID,
		PlanType:     payment.PlanType,
		Amount:       payment.Amount,
		PaidAt:       grant.GrantedAt,
		EntitledTill: grant.ExpiresAt,
	})
	if err != nil {
		logger.Error("failed to publish payment paid event", zap.Error(err), zap.String("payment_id", payment.ID))
		return
	}
	logger.Info("payment paid event published", zap.String("payment_id", payment.ID))
}
