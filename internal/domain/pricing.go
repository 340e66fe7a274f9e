package domain

import (
	"fmt"
	"strings"
)

// PriceTable maps plan type and duration in days to an amount in centavos.
type PriceTable map[PlanType]map[int]int64

func DefaultPriceTable() PriceTable {
	return PriceTable{
		PlanPremium: {
			7:  1490,
			30: 4999,
			90: 12990,
		},
		PlanFeatured: {
			7:  990,
			30: 2990,
		},
		PlanBoost: {
			1: 490,
			3: 990,
		},
	}
}

func (t PriceTable) Price(plan PlanType, durationDays int) (int64, error) {
	byDuration, ok := t[plan]
	if !ok {
		return 0, NewValidationError(fmt.Sprintf("unknown plan type %q", plan), nil)
	}
	amount, ok := byDuration[durationDays]
	if !ok {
		return 0, NewValidationError(fmt.Sprintf("no price for %s plan with %d days", plan, durationDays), nil)
	}
	return amount, nil
}

// NormalizeStatus maps the provider's many spellings onto our four statuses.
// Unknown values are reported as pending, the only non-terminal state.
func NormalizeStatus(raw string) PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "paid", "approved", "completed", "complete", "confirmed", "succeeded", "success", "concluida", "settled":
		return StatusPaid
	case "expired", "expirada", "overdue":
		return StatusExpired
	case "cancelled", "canceled", "refunded", "rejected", "failed", "removida_pelo_usuario_recebedor", "removida_pelo_psp":
		return StatusCancelled
	default:
		return StatusPending
	}
}
