package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/ghostzx3/telegrupos-payments/internal/domain"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

const uniqueViolation = "23505"

//go:embed schema.sql
var schemaSQL string

// Connect opens a pool and checks the database answers.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// PaymentRepository implements domain.PaymentRepository on Postgres.
type PaymentRepository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool, now: time.Now}
}

func (r *PaymentRepository) Save(ctx context.Context, p domain.Payment) error {
	const sql = `
INSERT INTO payments (id, external_id, external_reference, user_id, group_id, plan_type,
  duration_days, amount, pix_code, qr_code_image, status, expires_at, paid_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15);
`
	_, err := r.pool.Exec(ctx, sql,
		p.ID,
		p.ExternalID,
		p.ExternalRef,
		p.UserID,
		p.GroupID,
		string(p.PlanType),
		p.DurationDays,
		p.Amount,
		p.PixCode,
		p.QRCodeImage,
		string(p.Status),
		p.ExpiresAt,
		p.PaidAt,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.NewConflictError("payment or external id already exists", err)
		}
		return fmt.Errorf("postgres Save payment: %w", err)
	}
	return nil
}

const selectPayment = `
SELECT id, external_id, external_reference, user_id, group_id, plan_type, duration_days,
  amount, pix_code, qr_code_image, status, expires_at, paid_at, created_at, updated_at
FROM payments
`

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	return r.getOne(ctx, selectPayment+"WHERE id = $1;", id)
}

func (r *PaymentRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Payment, error) {
	return r.getOne(ctx, selectPayment+"WHERE external_id = $1;", externalID)
}

func (r *PaymentRepository) getOne(ctx context.Context, sql string, arg string) (*domain.Payment, error) {
	var (
		p        domain.Payment
		planType string
		status   string
	)
	err := r.pool.QueryRow(ctx, sql, arg).Scan(
		&p.ID,
		&p.ExternalID,
		&p.ExternalRef,
		&p.UserID,
		&p.GroupID,
		&planType,
		&p.DurationDays,
		&p.Amount,
		&p.PixCode,
		&p.QRCodeImage,
		&status,
		&p.ExpiresAt,
		&p.PaidAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres payment scan: %w", err)
	}
	p.PlanType = domain.PlanType(planType)
	p.Status = domain.PaymentStatus(status)
	return &p, nil
}

// MarkPaid runs the pending->paid compare-and-set and the entitlement write
// in one transaction. Zero rows on the CAS means another delivery won.
func (r *PaymentRepository) MarkPaid(ctx context.Context, id string, paidAt time.Time, grant domain.EntitlementGrant) (bool, error) {
	groupSQL, groupArgs, err := entitlementUpdate(grant)
	if err != nil {
		return false, err
	}
	now := r.now().UTC()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("postgres MarkPaid begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
UPDATE payments SET status = $2, paid_at = $3, updated_at = $4
WHERE id = $1 AND status = $5;
`, id, string(domain.StatusPaid), paidAt, now, string(domain.StatusPending))
	if err != nil {
		return false, fmt.Errorf("postgres MarkPaid update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	tag, err = tx.Exec(ctx, groupSQL, append(groupArgs, now)...)
	if err != nil {
		return false, fmt.Errorf("postgres MarkPaid update group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, domain.NewNotFoundError(fmt.Sprintf("group %s not found", grant.GroupID))
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("postgres MarkPaid commit: %w", err)
	}
	return true, nil
}

// entitlementUpdate returns the group statement for the plan; updated_at is
// always the last placeholder.
func entitlementUpdate(grant domain.EntitlementGrant) (string, []interface{}, error) {
	switch grant.PlanType {
	case domain.PlanPremium:
		return `UPDATE listing_groups SET is_premium = TRUE, premium_expires_at = $2, updated_at = $3 WHERE id = $1;`,
			[]interface{}{grant.GroupID, grant.ExpiresAt}, nil
	case domain.PlanFeatured:
		return `UPDATE listing_groups SET is_featured = TRUE, featured_expires_at = $2, updated_at = $3 WHERE id = $1;`,
			[]interface{}{grant.GroupID, grant.ExpiresAt}, nil
	case domain.PlanBoost:
		return `UPDATE listing_groups SET boosted_at = $2, boost_expires_at = $3, updated_at = $4 WHERE id = $1;`,
			[]interface{}{grant.GroupID, grant.GrantedAt, grant.ExpiresAt}, nil
	}
	return "", nil, domain.NewValidationError(fmt.Sprintf("unknown plan type %q", grant.PlanType), nil)
}

var _ domain.PaymentRepository = (*PaymentRepository)(nil)
