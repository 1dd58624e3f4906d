// internal/repository/transaction_repo.go
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// activePayoutIndex allows one pending/processing payout per escrow.
const activePayoutIndex = "transactions_active_payout_uidx"

type TransactionRepository interface {
	Create(ctx context.Context, tx *domain.Transaction) error
	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	GetByProviderID(ctx context.Context, providerTxID string) (*domain.Transaction, error)
	// GetByReference matches our own reference number or the originator id
	// the gateway echoed back.
	GetByReference(ctx context.Context, reference string) (*domain.Transaction, error)
	ListByProject(ctx context.Context, projectID string) ([]*domain.Transaction, error)
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Transaction, error)
	FindActivePayout(ctx context.Context, escrowID string) (*domain.Transaction, error)

	// UpdateIf applies upd only while the row's status is one of expected and
	// returns the number of rows changed. Zero means another writer got there
	// first.
	UpdateIf(ctx context.Context, id string, expected []domain.TransactionStatus, upd domain.TransactionUpdate) (int64, error)
}

type transactionRepo struct {
	db *pgxpool.Pool
}

func NewTransactionRepository(db *pgxpool.Pool) TransactionRepository {
	return &transactionRepo{db: db}
}

const transactionColumns = `
	id, project_id, payer_id, recipient_id, transaction_type::text, payment_method::text,
	amount, currency, status::text, phone_number, description,
	provider_transaction_id, reference_number, receipt_number, metadata,
	created_at, updated_at, completed_at`

func (r *transactionRepo) Create(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, project_id, payer_id, recipient_id, transaction_type, payment_method,
			amount, currency, status, phone_number, description,
			provider_transaction_id, reference_number, receipt_number, metadata, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at, updated_at
	`

	metadataJSON, err := json.Marshal(orEmpty(tx.Metadata))
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	err = conn(ctx, r.db).QueryRow(ctx, query,
		tx.ID,
		tx.ProjectID,
		tx.PayerID,
		tx.RecipientID,
		string(tx.TransactionType),
		string(tx.PaymentMethod),
		tx.Amount,
		tx.Currency,
		string(tx.Status),
		tx.PhoneNumber,
		tx.Description,
		tx.ProviderTransactionID,
		tx.ReferenceNumber,
		tx.ReceiptNumber,
		metadataJSON,
		tx.CompletedAt,
	).Scan(&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, activePayoutIndex) {
			return domain.ErrPayoutInProgress
		}
		return fmt.Errorf("failed to create transaction: %w", err)
	}
	return nil
}

func (r *transactionRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *transactionRepo) GetByProviderID(ctx context.Context, providerTxID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE provider_transaction_id = $1
		ORDER BY created_at DESC
		LIMIT 1`
	return r.getOne(ctx, query, providerTxID)
}

func (r *transactionRepo) GetByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE reference_number = $1 OR metadata->>'originator_conversation_id' = $1
		ORDER BY created_at DESC
		LIMIT 1`
	return r.getOne(ctx, query, reference)
}

func (r *transactionRepo) ListByProject(ctx context.Context, projectID string) ([]*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE project_id = $1
		ORDER BY created_at DESC`
	return r.list(ctx, query, projectID)
}

// ListStale returns processing transactions last touched before olderThan,
// oldest first.
func (r *transactionRepo) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = 'processing' AND updated_at < $1
		ORDER BY created_at ASC
		LIMIT $2`
	return r.list(ctx, query, olderThan, limit)
}

func (r *transactionRepo) FindActivePayout(ctx context.Context, escrowID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE transaction_type = 'payout'
		  AND status IN ('pending', 'processing')
		  AND metadata->>'escrow_id' = $1
		LIMIT 1`
	return r.getOne(ctx, query, escrowID)
}

func (r *transactionRepo) UpdateIf(ctx context.Context, id string, expected []domain.TransactionStatus, upd domain.TransactionUpdate) (int64, error) {
	if len(expected) == 0 {
		return 0, fmt.Errorf("%w: no expected status", domain.ErrInvalidTransition)
	}

	query := `
		UPDATE transactions
		SET
			status = COALESCE($3::transaction_status, status),
			provider_transaction_id = COALESCE($4, provider_transaction_id),
			reference_number = COALESCE($5, reference_number),
			receipt_number = COALESCE($6, receipt_number),
			metadata = COALESCE(metadata, '{}'::jsonb) || $7::jsonb,
			completed_at = COALESCE(completed_at, $8),
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

	patchJSON, err := json.Marshal(orEmpty(upd.MetadataPatch))
	if err != nil {
		return 0, fmt.Errorf("failed to encode metadata patch: %w", err)
	}

	tag, err := conn(ctx, r.db).Exec(ctx, query,
		id,
		statuses,
		status,
		upd.ProviderTransactionID,
		upd.ReferenceNumber,
		upd.ReceiptNumber,
		patchJSON,
		upd.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err, activePayoutIndex) {
			return 0, domain.ErrPayoutInProgress
		}
		return 0, fmt.Errorf("failed to update transaction: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *transactionRepo) getOne(ctx context.Context, query string, args ...any) (*domain.Transaction, error) {
	tx, err := scanTransaction(conn(ctx, r.db).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

func (r *transactionRepo) list(ctx context.Context, query string, args ...any) ([]*domain.Transaction, error) {
	rows, err := conn(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		tx                     domain.Transaction
		txType, method, status string
	)
	err := row.Scan(
		&tx.ID,
		&tx.ProjectID,
		&tx.PayerID,
		&tx.RecipientID,
		&txType,
		&method,
		&tx.Amount,
		&tx.Currency,
		&status,
		&tx.PhoneNumber,
		&tx.Description,
		&tx.ProviderTransactionID,
		&tx.ReferenceNumber,
		&tx.ReceiptNumber,
		&tx.Metadata,
		&tx.CreatedAt,
		&tx.UpdatedAt,
		&tx.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	tx.TransactionType = domain.TransactionType(txType)
	tx.PaymentMethod = domain.PaymentMethod(method)
	tx.Status = domain.TransactionStatus(status)
	if tx.Metadata == nil {
		tx.Metadata = domain.Metadata{}
	}
	return &tx, nil
}

func orEmpty(m domain.Metadata) domain.Metadata {
	if m == nil {
		return domain.Metadata{}
	}
	return m
}
