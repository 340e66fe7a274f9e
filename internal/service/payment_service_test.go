package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ghostzx3/telegrupos-payments/internal/domain"
)

var fixedNow = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

// memRepo is an in-memory PaymentRepository with the same conditional
// semantics as the real stores.
type memRepo struct {
	mu          sync.Mutex
	payments    map[string]domain.Payment
	grants      []domain.EntitlementGrant
	saveErr     error
	markPaidErr error
}

func newMemRepo() *memRepo {
	return &memRepo{payments: map[string]domain.Payment{}}
}

func (m *memRepo) Save(ctx context.Context, payment domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	for _, p := range m.payments {
		if p.ExternalID == payment.ExternalID {
			return domain.NewConflictError("external id already registered", nil)
		}
	}
	m.payments[payment.ID] = payment
	return nil
}

func (m *memRepo) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memRepo) GetByExternalID(ctx context.Context, externalID string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.ExternalID == externalID {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (m *memRepo) MarkPaid(ctx context.Context, id string, paidAt time.Time, grant domain.EntitlementGrant) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markPaidErr != nil {
		return false, m.markPaidErr
	}
	p, ok := m.payments[id]
	if !ok || p.Status != domain.StatusPending {
		return false, nil
	}
	p.Status = domain.StatusPaid
	p.PaidAt = &paidAt
	m.payments[id] = p
	m.grants = append(m.grants, grant)
	return true, nil
}

func (m *memRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments)
}

type MockUsers struct {
	GetPayerProfileFunc func(ctx context.Context, userID string) (*domain.PayerProfile, error)
}

func (m *MockUsers) GetPayerProfile(ctx context.Context, userID string) (*domain.PayerProfile, error) {
	if m.GetPayerProfileFunc != nil {
		return m.GetPayerProfileFunc(ctx, userID)
	}
	return &domain.PayerProfile{UserID: userID, Email: "ana@example.com", Name: "Ana"}, nil
}

type MockGateway struct {
	mu               sync.Mutex
	calls            int
	CreateChargeFunc func(ctx context.Context, req domain.ChargeRequest) (*domain.Charge, error)
	GetStatusFunc    func(ctx context.Context, externalID string) (*domain.ChargeStatus, error)
}

func (m *MockGateway) CreateCharge(ctx context.Context, req domain.ChargeRequest) (*domain.Charge, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return m.CreateChargeFunc(ctx, req)
}

func (m *MockGateway) GetStatus(ctx context.Context, externalID string) (*domain.ChargeStatus, error) {
	return m.GetStatusFunc(ctx, externalID)
}

type MockPublisher struct {
	mu          sync.Mutex
	events      []domain.PaymentPaidEvent
	PublishFunc func(ctx context.Context, event domain.PaymentPaidEvent) error
}

func (m *MockPublisher) PublishPaymentPaid(ctx context.Context, event domain.PaymentPaidEvent) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, event)
	}
	return nil
}

func okGateway() *MockGateway {
	return &MockGateway{
		CreateChargeFunc: func(ctx context.Context, req domain.ChargeRequest) (*domain.Charge, error) {
			return &domain.Charge{
				ExternalID:  "tx-1",
				PixCode:     "00020126pix",
				QRCodeImage: "iVBORw0",
				Status:      domain.StatusPending,
				Amount:      req.Amount,
			}, nil
		},
	}
}

func TestCreatePayment_Success(t *testing.T) {
	repo := newMemRepo()
	gw := okGateway()
	var sent domain.ChargeRequest
	inner := gw.CreateChargeFunc
	gw.CreateChargeFunc = func(ctx context.Context, req domain.ChargeRequest) (*domain.Charge, error) {
		sent = req
		return inner(ctx, req)
	}

	svc := NewPaymentService(repo, &MockUsers{}, gw,
		WithClock(func() time.Time { return fixedNow }),
		WithCallbackURL("https://pay.example.com/payments/webhook"),
	)

	resp, err := svc.CreatePayment(context.Background(), "u1", domain.CreatePaymentRequest{
		GroupID:  "g1",
		PlanType: domain.PlanPremium,
		Duration: 30,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if resp.Amount != 4999 {
		t.Errorf("expected amount 4999, got %d", resp.Amount)
	}
	if !resp.ExpiresAt.Equal(fixedNow.Add(time.Hour)) {
		t.Errorf("expected expiresAt now+1h, got %s", resp.ExpiresAt)
	}
	if sent.ExpiresInSeconds != 3600 || sent.PayerEmail != "ana@example.com" {
		t.Errorf("unexpected charge request %+v", sent)
	}
	if sent.ExternalReference != "u1:g1:1792152000" {
		t.Errorf("unexpected external reference %s", sent.ExternalReference)
	}

	stored, _ := repo.GetByID(context.Background(), resp.PaymentID)
	if stored == nil {
		t.Fatal("payment was not persisted")
	}
	if stored.Status != domain.StatusPending || stored.PaidAt != nil {
		t.Errorf("expected pending without paidAt, got %+v", stored)
	}
	if stored.ExternalID != "tx-1" || stored.UserID != "u1" || stored.DurationDays != 30 {
		t.Errorf("unexpected stored payment %+v", stored)
	}
}

func TestCreatePayment_UsesProviderExpiry(t *testing.T) {
	providerExpiry := fixedNow.Add(30 * time.Minute)
	gw := &MockGateway{CreateChargeFunc: func(ctx context.Context, req domain.ChargeRequest) (*domain.Charge, error) {
		return &domain.Charge{ExternalID: "tx-2", PixCode: "000201", ExpiresAt: providerExpiry}, nil
	}}
	svc := NewPaymentService(newMemRepo(), &MockUsers{}, gw, WithClock(func() time.Time { return fixedNow }))

	resp, err := svc.CreatePayment(context.Background(), "u1", domain.CreatePaymentRequest{GroupID: "g1", PlanType: domain.PlanBoost, Duration: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.ExpiresAt.Equal(providerExpiry) {
		t.Errorf("expected provider expiry, got %s", resp.ExpiresAt)
	}
}

func TestCreatePayment_UnknownPlanMakesNoCall(t *testing.T) {
	repo := newMemRepo()
	gw := okGateway()
	svc := NewPaymentService(repo, &MockUsers{}, gw)

	_, err := svc.CreatePayment(context.Background(), "u1", domain.CreatePaymentRequest{
		GroupID:  "g1",
		PlanType: domain.PlanPremium,
		Duration: 14,
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if gw.calls != 0 {
		t.Errorf("expected no gateway call, got %d", gw.calls)
	}
	if repo.count() != 0 {
		t.Error("expected no payment record")
	}
}

func TestCreatePayment_GatewayFailureLeavesNoRecord(t *testing.T) {
	failures := map[string]error{
		"auth":        domain.NewAuthError("provider rejected credentials", nil),
		"unavailable": domain.NewUnavailableError("payment provider unavailable", nil),
		"validation":  domain.NewValidationError("value must be at least 50", nil),
	}
	for name, failure := range failures {
		t.Run(name, func(t *testing.T) {
			repo := newMemRepo()
			gw := &MockGateway{CreateChargeFunc: func(ctx context.Context, req domain.ChargeRequest) (*domain.Charge, error) {
				return nil, failure
			}}
			svc := NewPaymentService(repo, &MockUsers{}, gw)

			_, err := svc.CreatePayment(context.Background(), "u1", domain.CreatePaymentRequest{GroupID: "g1", PlanType: domain.PlanFeatured, Duration: 7})
			if !errors.Is(err, failure) {
				t.Fatalf("expected %v to propagate, got %v", failure, err)
			}
			if repo.count() != 0 {
				t.Error("expected no payment record after gateway failure")
			}
		})
	}
}

func TestCreatePayment_UnknownUser(t *testing.T) {
	gw := okGateway()
	users := &MockUsers{GetPayerProfileFunc: func(ctx context.Context, userID string) (*domain.PayerProfile, error) {
		return nil, nil
	}}
	svc := NewPaymentService(newMemRepo(), users, gw)

	_, err := svc.CreatePayment(context.Background(), "ghost", domain.CreatePaymentRequest{GroupID: "g1", PlanType: domain.PlanPremium, Duration: 7})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if gw.calls != 0 {
		t.Errorf("expected no gateway call, got %d", gw.calls)
	}
}

func TestCreatePayment_SaveFailure(t *testing.T) {
	repo := newMemRepo()
	repo.saveErr = errors.New("dynamodb throttled")
	svc := NewPaymentService(repo, &MockUsers{}, okGateway())

	if _, err := svc.CreatePayment(context.Background(), "u1", domain.CreatePaymentRequest{GroupID: "g1", PlanType: domain.PlanPremium, Duration: 7}); err == nil {
		t.Fatal("expected save error to propagate")
	}
}
