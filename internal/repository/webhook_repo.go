package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookRepository is the append-only inbound callback log.
type WebhookRepository interface {
	Create(ctx context.Context, w *domain.PaymentWebhook) error
	GetByID(ctx context.Context, id string) (*domain.PaymentWebhook, error)
	MarkProcessed(ctx context.Context, id string, transactionID, errorMessage *string, at time.Time) error
	// RecordError attaches a diagnostic and leaves the row unprocessed for
	// replay.
	RecordError(ctx context.Context, id, errorMessage string) error
}

type webhookRepo struct {
	db *pgxpool.Pool
}

func NewWebhookRepository(db *pgxpool.Pool) WebhookRepository {
	return &webhookRepo{db: db}
}

func (r *webhookRepo) Create(ctx context.Context, w *domain.PaymentWebhook) error {
	query := `
		INSERT INTO payment_webhooks (id, webhook_type, provider_transaction_id, payload, processed)
		VALUES ($1, $2, $3, $4, FALSE)
		RETURNING created_at
	`
	payload := []byte(w.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	if err := conn(ctx, r.db).QueryRow(ctx, query, w.ID, w.WebhookType, w.ProviderTransactionID, payload).Scan(&w.CreatedAt); err != nil {
		return fmt.Errorf("failed to store webhook: %w", err)
	}
	return nil
}

func (r *webhookRepo) GetByID(ctx context.Context, id string) (*domain.PaymentWebhook, error) {
	query := `
		SELECT id, webhook_type, provider_transaction_id, payload, processed,
		       processed_at, error_message, transaction_id, created_at
		FROM payment_webhooks
		WHERE id = $1
	`
	var (
		w       domain.PaymentWebhook
		payload []byte
	)
	err := conn(ctx, r.db).QueryRow(ctx, query, id).Scan(
		&w.ID,
		&w.WebhookType,
		&w.ProviderTransactionID,
		&payload,
		&w.Processed,
		&w.ProcessedAt,
		&w.ErrorMessage,
		&w.TransactionID,
		&w.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWebhookNotFound
		}
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	w.Payload = payload
	return &w, nil
}

// MarkProcessed flips processed and attaches diagnostics. The payload itself
// is never touched.
func (r *webhookRepo) MarkProcessed(ctx context.Context, id string, transactionID, errorMessage *string, at time.Time) error {
	query := `
		UPDATE payment_webhooks
		SET processed = TRUE,
		    processed_at = $2,
		    transaction_id = COALESCE($3, transaction_id),
		    error_message = $4
		WHERE id = $1
	`
	tag, err := conn(ctx, r.db).Exec(ctx, query, id, at, transactionID, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to mark webhook processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWebhookNotFound
	}
	return nil
}

func (r *webhookRepo) RecordError(ctx context.Context, id, errorMessage string) error {
	query := `UPDATE payment_webhooks SET error_message = $2 WHERE id = $1 AND NOT processed`
	if _, err := conn(ctx, r.db).Exec(ctx, query, id, errorMessage); err != nil {
		return fmt.Errorf("failed to record webhook error: %w", err)
	}
	return nil
}
