package domain

import (
	"context"
	"time"
)

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusPaid      PaymentStatus = "paid"
	StatusExpired   PaymentStatus = "expired"
	StatusCancelled PaymentStatus = "cancelled"
)

// IsTerminal reports whether no further persisted transition can happen.
func (s PaymentStatus) IsTerminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

type PlanType string

const (
	PlanPremium  PlanType = "premium"
	PlanFeatured PlanType = "featured"
	PlanBoost    PlanType = "boost"
)

// Payment is one purchase attempt for a time-boxed entitlement on a group.
// Only Status and PaidAt ever change after creation.
type Payment struct {
	ID           string        `json:"id" dynamodbav:"id"`
	ExternalID   string        `json:"external_id" dynamodbav:"external_id"`
	ExternalRef  string        `json:"external_reference" dynamodbav:"external_reference"`
	UserID       string        `json:"user_id" dynamodbav:"user_id"`
	GroupID      string        `json:"group_id" dynamodbav:"group_id"`
	PlanType     PlanType      `json:"plan_type" dynamodbav:"plan_type"`
	DurationDays int           `json:"duration_days" dynamodbav:"duration_days"`
	Amount       int64         `json:"amount" dynamodbav:"amount"`
	PixCode      string        `json:"pix_code" dynamodbav:"pix_code"`
	QRCodeImage  string        `json:"qr_code_image" dynamodbav:"qr_code_image"`
	Status       PaymentStatus `json:"status" dynamodbav:"status"`
	ExpiresAt    time.Time     `json:"expires_at" dynamodbav:"expires_at"`
	PaidAt       *time.Time    `json:"paid_at,omitempty" dynamodbav:"paid_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" dynamodbav:"updated_at"`
}

// ExpiredAt reports whether a pending payment has passed its deadline at now.
// Expiration is never persisted; it is a view over (status, expiresAt).
func (p *Payment) ExpiredAt(now time.Time) bool {
	return p.Status == StatusPending && now.After(p.ExpiresAt)
}

// EntitlementGrant is the side effect of a confirmed payment on its group.
type EntitlementGrant struct {
	GroupID   string
	PlanType  PlanType
	GrantedAt time.Time
	ExpiresAt time.Time
}

// NewEntitlementGrant starts the entitlement clock at confirmation time.
func NewEntitlementGrant(p *Payment, confirmedAt time.Time) EntitlementGrant {
	return EntitlementGrant{
		GroupID:   p.GroupID,
		PlanType:  p.PlanType,
		GrantedAt: confirmedAt,
		ExpiresAt: confirmedAt.AddDate(0, 0, p.DurationDays),
	}
}

// PayerProfile is the display info sent to the provider.
type PayerProfile struct {
	UserID string
	Email  string
	Name   string
}

type CreatePaymentRequest struct {
	GroupID  string   `json:"groupId" binding:"required"`
	PlanType PlanType `json:"planType" binding:"required"`
	Duration int      `json:"duration" binding:"required"`
}

type CreatePaymentResponse struct {
	PaymentID   string    `json:"paymentId"`
	ExternalID  string    `json:"externalId"`
	PixCode     string    `json:"pixCode"`
	QRCodeImage string    `json:"qrCodeImage"`
	Amount      int64     `json:"amount"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// StatusView is what the polling client sees.
type StatusView struct {
	PaymentID string        `json:"paymentId"`
	UserID    string        `json:"-"`
	Status    PaymentStatus `json:"status"`
	PaidAt    *time.Time    `json:"paidAt"`
	ExpiresAt time.Time     `json:"expiresAt"`
	Expired   bool          `json:"expired"`
}

// WebhookNotification is the provider callback after alias normalization.
type WebhookNotification struct {
	TransactionID     string
	Status            PaymentStatus
	RawStatus         string
	Amount            int64
	ExternalReference string
}

// WebhookResult tells the provider whether anything changed.
type WebhookResult struct {
	Received  bool `json:"received"`
	Processed bool `json:"processed"`
}

// ChargeRequest is what PaymentService asks the provider for.
type ChargeRequest struct {
	Amount            int64  `validate:"gt=0"`
	Description       string `validate:"required"`
	PayerEmail        string `validate:"required,email"`
	PayerName         string `validate:"required"`
	ExpiresInSeconds  int    `validate:"gte=0"`
	CallbackURL       string `validate:"omitempty,url"`
	ExternalReference string
}

// Charge is the canonical shape of a provider charge, whatever field names it came with.
type Charge struct {
	ExternalID  string
	PixCode     string
	QRCodeImage string
	Status      PaymentStatus
	Amount      int64
	ExpiresAt   time.Time
	PaidAt      *time.Time
}

type ChargeStatus struct {
	ExternalID string
	Status     PaymentStatus
	PaidAt     *time.Time
}

type PaymentPaidEvent struct {
	PaymentID    string    `json:"payment_id"`
	ExternalID   string    `json:"external_id"`
	GroupID      string    `json:"group_id"`
	UserID       string    `json:"user_id"`
	PlanType     PlanType  `json:"plan_type"`
	Amount       int64     `json:"amount"`
	PaidAt       time.Time `json:"paid_at"`
	EntitledTill time.Time `json:"entitled_till"`
}

// PaymentRepository persists payments. Lookups return (nil, nil) when nothing matches.
type PaymentRepository interface {
	Save(ctx context.Context, payment Payment) error
	GetByID(ctx context.Context, id string) (*Payment, error)
	GetByExternalID(ctx context.Context, externalID string) (*Payment, error)
	// MarkPaid sets status=paid and paidAt only if the payment is still pending,
	// applying grant in the same atomic write. applied is false when the payment
	// was not pending, which callers treat as an already handled delivery.
	MarkPaid(ctx context.Context, id string, paidAt time.Time, grant EntitlementGrant) (applied bool, err error)
}

// UserDirectory resolves payer display info for a user id.
type UserDirectory interface {
	GetPayerProfile(ctx context.Context, userID string) (*PayerProfile, error)
}

type PixGateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	GetStatus(ctx context.Context, externalID string) (*ChargeStatus, error)
}

type PaymentEventPublisher interface {
	PublishPaymentPaid(ctx context.Context, event PaymentPaidEvent) error
}
