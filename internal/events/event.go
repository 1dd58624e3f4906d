// Package events carries settlement state changes out of the service: redis
// pub/sub for the realtime feed, kafka for downstream consumers.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"

	"go.uber.org/zap"
)

const (
	TypeTransactionCreated    = "transaction.created"
	TypeTransactionProcessing = "transaction.processing"
	TypeTransactionCompleted  = "transaction.completed"
	TypeTransactionFailed     = "transaction.failed"
	TypeTransactionRefunded   = "transaction.refunded"
	TypeEscrowHeld            = "escrow.held"
	TypeEscrowReleased        = "escrow.released"
	TypeEscrowDisputed        = "escrow.disputed"
	TypeEscrowRefunded        = "escrow.refunded"
)

// Event is one settlement state change.
type Event struct {
	EventType       string    `json:"event_type"`
	TransactionID   string    `json:"transaction_id"`
	ProjectID       string    `json:"project_id"`
	EscrowID        string    `json:"escrow_id,omitempty"`
	TransactionType string    `json:"transaction_type,omitempty"`
	Status          string    `json:"status"`
	Amount          string    `json:"amount,omitempty"`
	Currency        string    `json:"currency,omitempty"`
	ReceiptNumber   string    `json:"receipt_number,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// TransactionEvent builds the event for tx's current state.
func TransactionEvent(eventType string, tx *domain.Transaction) *Event {
	ev := &Event{
		EventType:       eventType,
		TransactionID:   tx.ID,
		ProjectID:       tx.ProjectID,
		TransactionType: string(tx.TransactionType),
		Status:          string(tx.Status),
		Amount:          tx.Amount.StringFixed(2),
		Currency:        tx.Currency,
		ReceiptNumber:   domain.Deref(tx.ReceiptNumber),
	}
	if id, ok := tx.Metadata.String(domain.MetaEscrowID); ok {
		ev.EscrowID = id
	}
	if reason, ok := tx.Metadata.String(domain.MetaFailureReason); ok {
		ev.ErrorMessage = reason
	}
	return ev
}

// EscrowEvent builds the event for an escrow change. TransactionID is the
// transaction that caused it so realtime subscribers of that transaction see it.
func EscrowEvent(eventType string, e *domain.EscrowHolding, causedBy string) *Event {
	return &Event{
		EventType:     eventType,
		TransactionID: causedBy,
		ProjectID:     e.ProjectID,
		EscrowID:      e.ID,
		Status:        string(e.Status),
		Amount:        e.HeldAmount.StringFixed(2),
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev *Event) error
}

// Multi fans one event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev *Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Nop struct{}

func (Nop) Publish(context.Context, *Event) error { return nil }

// Logged wraps a publisher so failures are logged and never returned. Event
// delivery is best effort; the ledger is the source of truth.
type Logged struct {
	next   Publisher
	logger *zap.Logger
}

func NewLogged(next Publisher, logger *zap.Logger) *Logged {
	return &Logged{next: next, logger: logger}
}

func (l *Logged) Publish(ctx context.Context, ev *Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if err := l.next.Publish(ctx, ev); err != nil {
		l.logger.Warn("failed to publish settlement event",
			zap.String("event_type", ev.EventType),
			zap.String("transaction_id", ev.TransactionID),
			zap.Error(err))
	}
	return nil
}
