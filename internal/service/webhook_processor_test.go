package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ghostzx3/telegrupos-payments/internal/domain"
)

func seedPending(t *testing.T, repo *memRepo) domain.Payment {
	t.Helper()
	p := domain.Payment{
		ID:           "p-1",
		ExternalID:   "tx-1",
		UserID:       "u1",
		GroupID:      "g1",
		PlanType:     domain.PlanPremium,
		DurationDays: 30,
		Amount:       4999,
		Status:       domain.StatusPending,
		ExpiresAt:    fixedNow.Add(time.Hour),
		CreatedAt:    fixedNow.Add(-time.Hour),
	}
	if err := repo.Save(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	return p
}

func paidNotification() domain.WebhookNotification {
	return domain.WebhookNotification{
		TransactionID: "tx-1",
		Status:        domain.StatusPaid,
		RawStatus:     "approved",
		Amount:        4999,
	}
}

func TestWebhook_HappyPathStartsEntitlementAtConfirmation(t *testing.T) {
	repo := newMemRepo()
	seedPending(t, repo)
	pub := &MockPublisher{}
	webhookTime := fixedNow.Add(10 * time.Minute)
	proc := NewWebhookProcessor(repo, pub, WithWebhookClock(func() time.Time { return webhookTime }))

	res, err := proc.Handle(context.Background(), paidNotification())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Received || !res.Processed {
		t.Errorf("expected processed, got %+v", res)
	}

	stored, _ := repo.GetByID(context.Background(), "p-1")
	if stored.Status != domain.StatusPaid || stored.PaidAt == nil || !stored.PaidAt.Equal(webhookTime) {
		t.Errorf("unexpected stored payment %+v", stored)
	}
	if len(repo.grants) != 1 {
		t.Fatalf("expected one grant, got %d", len(repo.grants))
	}
	g := repo.grants[0]
	if g.GroupID != "g1" || g.PlanType != domain.PlanPremium || !g.ExpiresAt.Equal(webhookTime.AddDate(0, 0, 30)) {
		t.Errorf("unexpected grant %+v", g)
	}
	if len(pub.events) != 1 || pub.events[0].PaymentID != "p-1" {
		t.Errorf("expected one paid event, got %+v", pub.events)
	}
}

func TestWebhook_DuplicateDeliveryIsIdempotent(t *testing.T) {
	repo := newMemRepo()
	seedPending(t, repo)
	pub := &MockPublisher{}
	proc := NewWebhookProcessor(repo, pub)

	first, err := proc.Handle(context.Background(), paidNotification())
	if err != nil || !first.Processed {
		t.Fatalf("expected first delivery processed, got %+v, %v", first, err)
	}
	second, err := proc.Handle(context.Background(), paidNotification())
	if err != nil {
		t.Fatalf("duplicate must not error, got %v", err)
	}
	if !second.Received || second.Processed {
		t.Errorf("expected received but not processed, got %+v", second)
	}
	if len(repo.grants) != 1 || len(pub.events) != 1 {
		t.Errorf("side effects applied %d times, events %d", len(repo.grants), len(pub.events))
	}
}

func TestWebhook_ConcurrentDeliveriesTransitionOnce(t *testing.T) {
	repo := newMemRepo()
	seedPending(t, repo)
	pub := &MockPublisher{}
	proc := NewWebhookProcessor(repo, pub)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		processed int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := proc.Handle(context.Background(), paidNotification())
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if res.Processed {
				mu.Lock()
				processed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if processed != 1 {
		t.Errorf("expected exactly one processed delivery, got %d", processed)
	}
	if len(repo.grants) != 1 {
		t.Errorf("expected one grant, got %d", len(repo.grants))
	}
}

func TestWebhook_NonPaidStatusIsAcknowledged(t *testing.T) {
	repo := newMemRepo()
	seedPending(t, repo)
	proc := NewWebhookProcessor(repo, nil)

	n := paidNotification()
	n.Status = domain.StatusPending
	n.RawStatus = "waiting_payment"
	res, err := proc.Handle(context.Background(), n)
	if err != nil || !res.Received || res.Processed {
		t.Errorf("expected acknowledged only, got %+v, %v", res, err)
	}
	stored, _ := repo.GetByID(context.Background(), "p-1")
	if stored.Status != domain.StatusPending {
		t.Errorf("status changed to %s", stored.Status)
	}
}

func TestWebhook_UnknownTransactionIsNotFound(t *testing.T) {
	proc := NewWebhookProcessor(newMemRepo(), nil)

	n := paidNotification()
	n.TransactionID = "tx-404"
	_, err := proc.Handle(context.Background(), n)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestWebhook_MissingTransactionIDIsNotFound(t *testing.T) {
	proc := NewWebhookProcessor(newMemRepo(), nil)

	n := paidNotification()
	n.TransactionID = ""
	res, err := proc.Handle(context.Background(), n)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if res.Processed {
		t.Error("expected nothing processed")
	}
}

func TestWebhook_MissingGroupIsInternalFailure(t *testing.T) {
	repo := newMemRepo()
	seedPending(t, repo)
	repo.markPaidErr = domain.NewNotFoundError("group g1 not found")
	pub := &MockPublisher{}
	proc := NewWebhookProcessor(repo, pub)

	res, err := proc.Handle(context.Background(), paidNotification())
	if err == nil {
		t.Fatal("expected an error")
	}
	if errors.Is(err, domain.ErrNotFound) {
		t.Errorf("known payment must not be reported as not found, got %v", err)
	}
	if res.Processed || len(pub.events) != 0 {
		t.Errorf("expected nothing processed or published, got %+v, %d events", res, len(pub.events))
	}
}

func TestWebhook_AmountMismatchIsRefused(t *testing.T) {
	repo := newMemRepo()
	seedPending(t, repo)
	proc := NewWebhookProcessor(repo, nil)

	n := paidNotification()
	n.Amount = 100
	res, err := proc.Handle(context.Background(), n)
	if err != nil || res.Processed {
		t.Fatalf("expected refusal without error, got %+v, %v", res, err)
	}
	stored, _ := repo.GetByID(context.Background(), "p-1")
	if stored.Status != domain.StatusPending {
		t.Errorf("expected payment to stay pending, got %s", stored.Status)
	}
}

func TestWebhook_ProviderConfirmation(t *testing.T) {
	tests := []struct {
		name      string
		status    *domain.ChargeStatus
		err       error
		processed bool
		wantErr   error
	}{
		{"confirmed", &domain.ChargeStatus{ExternalID: "tx-1", Status: domain.StatusPaid}, nil, true, nil},
		{"not paid at provider", &domain.ChargeStatus{ExternalID: "tx-1", Status: domain.StatusPending}, nil, false, nil},
		{"provider down", nil, domain.NewUnavailableError("payment provider unavailable", nil), false, domain.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMemRepo()
			seedPending(t, repo)
			gw := &MockGateway{GetStatusFunc: func(ctx context.Context, externalID string) (*domain.ChargeStatus, error) {
				return tt.status, tt.err
			}}
			proc := NewWebhookProcessor(repo, nil, WithProviderConfirmation(gw))

			res, err := proc.Handle(context.Background(), paidNotification())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Processed != tt.processed {
				t.Errorf("expected processed=%v, got %v", tt.processed, res.Processed)
			}
		})
	}
}

func TestWebhook_PublishFailureDoesNotFailDelivery(t *testing.T) {
	repo := newMemRepo()
	seedPending(t, repo)
	pub := &MockPublisher{PublishFunc: func(ctx context.Context, event domain.PaymentPaidEvent) error {
		return errors.New("sns unavailable")
	}}
	proc := NewWebhookProcessor(repo, pub)

	res, err := proc.Handle(context.Background(), paidNotification())
	if err != nil || !res.Processed {
		t.Fatalf("expected processed despite publish failure, got %+v, %v", res, err)
	}
}
