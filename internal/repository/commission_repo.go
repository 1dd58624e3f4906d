package repository

import (
	"context"
	"fmt"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

type CommissionPolicyRepository interface {
	ListActive(ctx context.Context) ([]domain.CommissionPolicy, error)
}

type commissionPolicyRepo struct {
	db *pgxpool.Pool
}

func NewCommissionPolicyRepository(db *pgxpool.Pool) CommissionPolicyRepository {
	return &commissionPolicyRepo{db: db}
}

// ListActive loads every is_active policy. Window and project type matching
// happen in the calculator so the table can be cached as a whole.
func (r *commissionPolicyRepo) ListActive(ctx context.Context) ([]domain.CommissionPolicy, error) {
	query := `
		SELECT id, commission_type, commission_rate, fixed_amount,
		       minimum_commission, maximum_commission,
		       COALESCE(applies_to_project_types, '{}'), is_active,
		       effective_from, effective_until, created_at
		FROM commission_settings
		WHERE is_active = TRUE
		ORDER BY effective_from DESC
	`

	rows, err := conn(ctx, r.db).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list commission policies: %w", err)
	}
	defer rows.Close()

	var out []domain.CommissionPolicy
	for rows.Next() {
		var p domain.CommissionPolicy
		if err := rows.Scan(
			&p.ID,
			&p.CommissionType,
			&p.CommissionRate,
			&p.FixedAmount,
			&p.MinimumCommission,
			&p.MaximumCommission,
			&p.AppliesToProjectTypes,
			&p.IsActive,
			&p.EffectiveFrom,
			&p.EffectiveUntil,
			&p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan commission policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
