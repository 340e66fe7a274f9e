package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ghostzx3/telegrupos-payments/internal/domain"
	"github.com/ghostzx3/telegrupos-payments/internal/logger"
	"github.com/ghostzx3/telegrupos-payments/internal/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const defaultChargeTTL = time.Hour

var tracer = otel.Tracer("github.com/ghostzx3/telegrupos-payments/internal/service")

type PaymentService struct {
	repo        domain.PaymentRepository
	users       domain.UserDirectory
	gateway     domain.PixGateway
	prices      domain.PriceTable
	chargeTTL   time.Duration
	callbackURL string
	now         func() time.Time
}

type Option func(*PaymentService)

func WithChargeTTL(ttl time.Duration) Option {
	return func(s *PaymentService) {
		if ttl > 0 {
			s.chargeTTL = ttl
		}
	}
}

// WithCallbackURL sets the webhook URL sent to the provider with every charge.
func WithCallbackURL(url string) Option {
	return func(s *PaymentService) { s.callbackURL = url }
}

func WithPriceTable(prices domain.PriceTable) Option {
	return func(s *PaymentService) { s.prices = prices }
}

func WithClock(now func() time.Time) Option {
	return func(s *PaymentService) { s.now = now }
}

func NewPaymentService(repo domain.PaymentRepository, users domain.UserDirectory, gateway domain.PixGateway, opts ...Option) *PaymentService {
	s := &PaymentService{
		repo:      repo,
		users:     users,
		gateway:   gateway,
		prices:    domain.DefaultPriceTable(),
		chargeTTL: defaultChargeTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreatePayment prices the plan, opens a charge with the provider and persists
// it as pending. Nothing is stored unless the provider returned a usable charge.
func (s *PaymentService) CreatePayment(ctx context.Context, userID string, req domain.CreatePaymentRequest) (*domain.CreatePaymentResponse, error) {
	ctx, span := tracer.Start(ctx, "PaymentService.CreatePayment")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.group_id", req.GroupID),
		attribute.String("payment.plan_type", string(req.PlanType)),
		attribute.Int("payment.duration_days", req.Duration),
	)

	amount, err := s.prices.Price(req.PlanType, req.Duration)
	if err != nil {
		logger.Warn("rejected payment request",
			zap.Error(err),
			zap.String("plan_type", string(req.PlanType)),
			zap.Int("duration", req.Duration),
		)
		span.SetStatus(codes.Error, "invalid plan")
		return nil, err
	}

	profile, err := s.users.GetPayerProfile(ctx, userID)
	if err != nil {
		logger.Error("failed to load payer profile", zap.Error(err), zap.String("user_id", userID))
		span.RecordError(err)
		return nil, err
	}
	if profile == nil {
		return nil, domain.NewNotFoundError(fmt.Sprintf("user %s not found", userID))
	}

	now := s.now()
	externalRef := fmt.Sprintf("%s:%s:%d", userID, req.GroupID, now.Unix())

	logger.Info("creating pix charge",
		zap.String("external_reference", externalRef),
		zap.Int64("amount", amount),
	)

	charge, err := s.gateway.CreateCharge(ctx, domain.ChargeRequest{
		Amount:            amount,
		Description:       fmt.Sprintf("%s plan - %d days", req.PlanType, req.Duration),
		PayerEmail:        profile.Email,
		PayerName:         profile.Name,
		ExpiresInSeconds:  int(s.chargeTTL / time.Second),
		CallbackURL:       s.callbackURL,
		ExternalReference: externalRef,
	})
	if err != nil {
		logger.Error("failed to create pix charge",
			zap.Error(err),
			zap.String("kind", string(domain.KindOf(err))),
			zap.String("external_reference", externalRef),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.KindOf(err)))
		return nil, err
	}

	expiresAt := charge.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(s.chargeTTL)
	}

	payment := domain.Payment{
		ID:           uuid.New().String(),
		ExternalID:   charge.ExternalID,
		ExternalRef:  externalRef,
		UserID:       userID,
		GroupID:      req.GroupID,
		PlanType:     req.PlanType,
		DurationDays: req.Duration,
		Amount:       amount,
		PixCode:      charge.PixCode,
		QRCodeImage:  charge.QRCodeImage,
		Status:       domain.StatusPending,
		ExpiresAt:    expiresAt.UTC(),
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}

	if err := s.repo.Save(ctx, payment); err != nil {
		logger.Error("failed to save payment",
			zap.Error(err),
			zap.String("payment_id", payment.ID),
			zap.String("external_id", payment.ExternalID),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return nil, err
	}

	metrics.IncPaymentCreated(string(payment.PlanType))
	span.SetAttributes(attribute.String("payment.id", payment.ID))
	logger.Info("payment created successfully",
		zap.String("payment_id", payment.ID),
		zap.String("external_id", payment.ExternalID),
		zap.String("status", string(payment.Status)),
	)

	return &domain.CreatePaymentResponse{
		PaymentID:   payment.ID,
		ExternalID:  payment.ExternalID,
		PixCode:     payment.PixCode,
		QRCodeImage: payment.QRCodeImage,
		Amount:      payment.Amount,
		ExpiresAt:   payment.ExpiresAt,
	}, nil
}
