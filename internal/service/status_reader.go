package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ghostzx3/telegrupos-payments/internal/domain"
	"github.com/ghostzx3/telegrupos-payments/internal/logger"
	"go.uber.org/zap"
)

// StatusCache stores terminal status views. Get returns (nil, nil) on a miss.
type StatusCache interface {
	Get(ctx context.Context, paymentID string) (*domain.StatusView, error)
	Put(ctx context.Context, view domain.StatusView) error
}

// ReconciliationReader serves polling clients. It never writes a payment;
// expiry is computed on every read.
type ReconciliationReader struct {
	repo  domain.PaymentRepository
	cache StatusCache
	now   func() time.Time
}

func NewReconciliationReader(repo domain.PaymentRepository, cache StatusCache) *ReconciliationReader {
	return &ReconciliationReader{repo: repo, cache: cache, now: time.Now}
}

// GetStatus reports a payment owned by userID. Someone else's payment is
// reported as not found.
func (r *ReconciliationReader) GetStatus(ctx context.Context, userID, paymentID string) (*domain.StatusView, error) {
	ctx, span := tracer.Start(ctx, "ReconciliationReader.GetStatus")
	defer span.End()

	if r.cache != nil {
		view, err := r.cache.Get(ctx, paymentID)
		if err != nil {
			logger.Warn("status cache unavailable, reading store", zap.Error(err), zap.String("payment_id", paymentID))
		} else if view != nil {
			return ownedView(view, userID, paymentID)
		}
	}

	payment, err := r.repo.GetByID(ctx, paymentID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if payment == nil {
		return nil, domain.NewNotFoundError(fmt.Sprintf("payment %s not found", paymentID))
	}

	view := &domain.StatusView{
		PaymentID: payment.ID,
		UserID:    payment.UserID,
		Status:    payment.Status,
		PaidAt:    payment.PaidAt,
		ExpiresAt: payment.ExpiresAt,
		Expired:   payment.ExpiredAt(r.now()),
	}

	if r.cache != nil && view.Status == domain.StatusPaid {
		if err := r.cache.Put(ctx, *view); err != nil {
			logger.Warn("failed to cache status", zap.Error(err), zap.String("payment_id", paymentID))
		}
	}

	return ownedView(view, userID, paymentID)
}

func ownedView(view *domain.StatusView, userID, paymentID string) (*domain.StatusView, error) {
	if view.UserID != userID {
		return nil, domain.NewNotFoundError(fmt.Sprintf("payment %s not found", paymentID))
	}
	return view, nil
}
