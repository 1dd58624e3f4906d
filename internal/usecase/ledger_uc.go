package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"
	"github.com/RemisonBarawa/Freelance-App/internal/events"
	"github.com/RemisonBarawa/Freelance-App/internal/repository"
	"github.com/RemisonBarawa/Freelance-App/pkg/id"

	"go.uber.org/zap"
)

type LedgerUsecase struct {
	repos     *repository.Repositories
	notifier  *Notifier
	publisher events.Publisher
	now       func() time.Time
	logger    *zap.Logger
}

func NewLedgerUsecase(repos *repository.Repositories, notifier *Notifier, publisher events.Publisher, logger *zap.Logger) *LedgerUsecase {
	return &LedgerUsecase{
		repos:     repos,
		notifier:  notifier,
		publisher: publisher,
		now:       time.Now,
		logger:    logger,
	}
}

func (uc *LedgerUsecase) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	return uc.repos.Transactions.GetByID(ctx, transactionID)
}

// Refund records a manual reversal of a completed payment. The original row
// moves to refunded, a new refund transaction carries the money movement and
// the escrow, if still held or disputed, becomes refunded. It is refused while
// a payout of the same escrow is in flight.
func (uc *LedgerUsecase) Refund(ctx context.Context, originalID, reason string) (*domain.Transaction, error) {
	if reason == "" {
		reason = "Refund issued"
	}

	original, err := uc.repos.Transactions.GetByID(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if original.TransactionType != domain.TxTypePayment || original.Status != domain.TxStatusCompleted {
		return nil, fmt.Errorf("%w: %s transaction is %s", domain.ErrRefundNotAllowed, original.TransactionType, original.Status)
	}

	escrow, err := uc.repos.Escrows.GetByTransactionID(ctx, original.ID)
	if err != nil && !errors.Is(err, domain.ErrEscrowNotFound) {
		return nil, err
	}
	if escrow != nil {
		if escrow.Status != domain.EscrowStatusHeld && escrow.Status != domain.EscrowStatusDisputed {
			return nil, fmt.Errorf("%w: escrow is %s", domain.ErrRefundNotAllowed, escrow.Status)
		}
		if domain.Deref(escrow.HoldReason) == domain.LatePayoutHoldReason {
			return nil, fmt.Errorf("%w: escrow was paid out after its payout failed", domain.ErrRefundNotAllowed)
		}
		// the freelancer may already be getting paid from this escrow
		if _, err := uc.repos.Transactions.FindActivePayout(ctx, escrow.ID); err == nil {
			return nil, domain.ErrPayoutInProgress
		} else if !errors.Is(err, domain.ErrTransactionNotFound) {
			return nil, err
		}
	}

	now := uc.now()
	refund := &domain.Transaction{
		ID:              id.NewID(),
		ProjectID:       original.ProjectID,
		RecipientID:     original.PayerID,
		TransactionType: domain.TxTypeRefund,
		PaymentMethod:   original.PaymentMethod,
		Amount:          original.Amount,
		Currency:        original.Currency,
		Status:          domain.TxStatusCompleted,
		PhoneNumber:     original.PhoneNumber,
		Description:     domain.StrPtr("Refund of transaction " + original.ID),
		Metadata: domain.Metadata{
			domain.MetaOriginalTxID: original.ID,
			domain.MetaRefundReason: reason,
		},
		CompletedAt: &now,
	}

	err = uc.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		n, err := uc.repos.Transactions.UpdateIf(ctx, original.ID, []domain.TransactionStatus{domain.TxStatusCompleted}, domain.TransactionUpdate{
			Status: domain.StatusPtr(domain.TxStatusRefunded),
			MetadataPatch: domain.Metadata{
				domain.MetaRefundTxID:   refund.ID,
				domain.MetaRefundReason: reason,
			},
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: transaction changed concurrently", domain.ErrRefundNotAllowed)
		}

		if err := uc.repos.Transactions.Create(ctx, refund); err != nil {
			return err
		}

		if escrow == nil {
			return nil
		}
		n, err = uc.repos.Escrows.UpdateIf(ctx, escrow.ID,
			[]domain.EscrowStatus{domain.EscrowStatusHeld, domain.EscrowStatusDisputed},
			domain.EscrowUpdate{
				Status:     domain.EscrowStatusPtr(domain.EscrowStatusRefunded),
				HoldReason: &reason,
			})
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: escrow changed concurrently", domain.ErrRefundNotAllowed)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	uc.logger.Info("payment refunded",
		zap.String("transaction_id", original.ID),
		zap.String("refund_transaction_id", refund.ID),
		zap.String("amount", refund.Amount.StringFixed(2)))

	original.Status = domain.TxStatusRefunded
	evs := []*events.Event{
		events.TransactionEvent(events.TypeTransactionRefunded, original),
		events.TransactionEvent(events.TypeTransactionCompleted, refund),
	}
	if escrow != nil {
		escrow.Status = domain.EscrowStatusRefunded
		evs = append(evs, events.EscrowEvent(events.TypeEscrowRefunded, escrow, original.ID))
	}
	for _, ev := range evs {
		if err := uc.publisher.Publish(ctx, ev); err != nil {
			uc.logger.Warn("failed to publish settlement event", zap.String("event_type", ev.EventType), zap.Error(err))
		}
	}

	uc.notifier.send(ctx, userNotice(domain.Deref(original.PayerID), domain.NotifyPaymentRefunded,
		fmt.Sprintf("Your payment of %s has been refunded.", formatAmount(original.Currency, original.Amount)),
		original.ProjectID, domain.PriorityHigh).withIcon("rotate-ccw"))

	return refund, nil
}
