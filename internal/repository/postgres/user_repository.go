package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ghostzx3/telegrupos-payments/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) GetPayerProfile(ctx context.Context, userID string) (*domain.PayerProfile, error) {
	profile := domain.PayerProfile{UserID: userID}
	err := r.pool.QueryRow(ctx, `SELECT email, name FROM users WHERE id = $1;`, userID).
		Scan(&profile.Email, &profile.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres GetPayerProfile: %w", err)
	}
	return &profile, nil
}

var _ domain.UserDirectory = (*UserRepository)(nil)
