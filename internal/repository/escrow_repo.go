package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type EscrowRepository interface {
	// Create inserts the holding unless one already exists for its
	// transaction. created is false on the duplicate path and e.ID is set to
	// the existing row's id.
	Create(ctx context.Context, e *domain.EscrowHolding) (created bool, err error)
	GetByID(ctx context.Context, id string) (*domain.EscrowHolding, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.EscrowHolding, error)
	ListByProject(ctx context.Context, projectID string) ([]*domain.EscrowHolding, error)
	UpdateIf(ctx context.Context, id string, expected []domain.EscrowStatus, upd domain.EscrowUpdate) (int64, error)
	AssignFreelancer(ctx context.Context, projectID, freelancerID string) (int64, error)
}

type escrowRepo struct {
	db *pgxpool.Pool
}

func NewEscrowRepository(db *pgxpool.Pool) EscrowRepository {
	return &escrowRepo{db: db}
}

const escrowColumns = `
	id, transaction_id, project_id, client_id, freelancer_id,
	held_amount, platform_commission, freelancer_amount, status::text,
	hold_reason, release_conditions, auto_release_date, released_at,
	created_at, updated_at`

func (r *escrowRepo) Create(ctx context.Context, e *domain.EscrowHolding) (bool, error) {
	query := `
		INSERT INTO escrow_holdings (
			id, transaction_id, project_id, client_id, freelancer_id,
			held_amount, platform_commission, freelancer_amount, status,
			hold_reason, release_conditions, auto_release_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (transaction_id) DO NOTHING
		RETURNING created_at, updated_at
	`

	db := conn(ctx, r.db)
	err := db.QueryRow(ctx, query,
		e.ID,
		e.TransactionID,
		e.ProjectID,
		e.ClientID,
		e.FreelancerID,
		e.HeldAmount,
		e.PlatformCommission,
		e.FreelancerAmount,
		string(e.Status),
		e.HoldReason,
		e.ReleaseConditions,
		e.AutoReleaseDate,
	).Scan(&e.CreatedAt, &e.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		if err := db.QueryRow(ctx,
			`SELECT id FROM escrow_holdings WHERE transaction_id = $1`, e.TransactionID,
		).Scan(&e.ID); err != nil {
			return false, fmt.Errorf("failed to load existing escrow: %w", err)
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create escrow: %w", err)
	}
	return true, nil
}

func (r *escrowRepo) GetByID(ctx context.Context, id string) (*domain.EscrowHolding, error) {
	return r.getOne(ctx, `SELECT `+escrowColumns+` FROM escrow_holdings WHERE id = $1`, id)
}

func (r *escrowRepo) GetByTransactionID(ctx context.Context, transactionID string) (*domain.EscrowHolding, error) {
	return r.getOne(ctx, `SELECT `+escrowColumns+` FROM escrow_holdings WHERE transaction_id = $1`, transactionID)
}

func (r *escrowRepo) ListByProject(ctx context.Context, projectID string) ([]*domain.EscrowHolding, error) {
	rows, err := conn(ctx, r.db).Query(ctx,
		`SELECT `+escrowColumns+` FROM escrow_holdings WHERE project_id = $1 ORDER BY created_at DESC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list escrows: %w", err)
	}
	defer rows.Close()

	var out []*domain.EscrowHolding
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan escrow: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *escrowRepo) UpdateIf(ctx context.Context, id string, expected []domain.EscrowStatus, upd domain.EscrowUpdate) (int64, error) {
	if len(expected) == 0 {
		return 0, fmt.Errorf("%w: no expected escrow status", domain.ErrInvalidTransition)
	}

	query := `
		UPDATE escrow_holdings
		SET
			status = COALESCE($3::escrow_status, status),
			released_at = COALESCE(released_at, $4),
			hold_reason = COALESCE($5, hold_reason),
			freelancer_id = COALESCE($6, freelancer_id),
			updated_at = NOW()
		WHERE id = $1 AND status::text = ANY($2::text[])
	`

	statuses := make([]string, len(expected))
	for i, s := range expected {
		statuses[i] = string(s)
	}

	var status *string
	if upd.Status != nil {
		s := string(*upd.Status)
		status = &s
	}

	tag, err := conn(ctx, r.db).Exec(ctx, query, id, statuses, status, upd.ReleasedAt, upd.HoldReason, upd.FreelancerID)
	if err != nil {
		return 0, fmt.Errorf("failed to update escrow: %w", err)
	}
	return tag.RowsAffected(), nil
}

// AssignFreelancer fills freelancer_id on the project's open holdings.
func (r *escrowRepo) AssignFreelancer(ctx context.Context, projectID, freelancerID string) (int64, error) {
	query := `
		UPDATE escrow_holdings
		SET freelancer_id = $2, updated_at = NOW()
		WHERE project_id = $1 AND status IN ('held', 'disputed')
	`
	tag, err := conn(ctx, r.db).Exec(ctx, query, projectID, freelancerID)
	if err != nil {
		return 0, fmt.Errorf("failed to assign freelancer: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *escrowRepo) getOne(ctx context.Context, query string, args ...any) (*domain.EscrowHolding, error) {
	e, err := scanEscrow(conn(ctx, r.db).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEscrowNotFound
		}
		return nil, fmt.Errorf("failed to get escrow: %w", err)
	}
	return e, nil
}

func scanEscrow(row pgx.Row) (*domain.EscrowHolding, error) {
	var (
		e      domain.EscrowHolding
		status string
	)
	err := row.Scan(
		&e.ID,
		&e.TransactionID,
		&e.ProjectID,
		&e.ClientID,
		&e.FreelancerID,
		&e.HeldAmount,
		&e.PlatformCommission,
		&e.FreelancerAmount,
		&status,
		&e.HoldReason,
		&e.ReleaseConditions,
		&e.AutoReleaseDate,
		&e.ReleasedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = domain.EscrowStatus(status)
	return &e, nil
}
