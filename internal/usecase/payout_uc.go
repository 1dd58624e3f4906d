package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"
	"github.com/RemisonBarawa/Freelance-App/internal/events"
	"github.com/RemisonBarawa/Freelance-App/internal/metrics"
	"github.com/RemisonBarawa/Freelance-App/internal/provider"
	"github.com/RemisonBarawa/Freelance-App/internal/provider/mpesa"
	"github.com/RemisonBarawa/Freelance-App/internal/repository"
	"github.com/RemisonBarawa/Freelance-App/pkg/id"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type ReleaseEscrowResult struct {
	PayoutTransactionID string          `json:"payoutTransactionId"`
	ConversationID      string          `json:"conversationId"`
	Amount              decimal.Decimal `json:"amount"`
}

type PayoutUsecase struct {
	repos          *repository.Repositories
	provider       provider.PaymentProvider
	notifier       *Notifier
	publisher      events.Publisher
	requestTimeout time.Duration
	now            func() time.Time
	logger         *zap.Logger
}

func NewPayoutUsecase(
	repos *repository.Repositories,
	paymentProvider provider.PaymentProvider,
	notifier *Notifier,
	publisher events.Publisher,
	requestTimeout time.Duration,
	logger *zap.Logger,
) *PayoutUsecase {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &PayoutUsecase{
		repos:          repos,
		provider:       paymentProvider,
		notifier:       notifier,
		publisher:      publisher,
		requestTimeout: requestTimeout,
		now:            time.Now,
		logger:         logger,
	}
}

// ReleaseEscrow starts the payout of a held escrow to its freelancer. The
// escrow is not released here: it flips when the payout transaction
// completes through the callback or poller path.
func (uc *PayoutUsecase) ReleaseEscrow(ctx context.Context, escrowID, reason string) (*ReleaseEscrowResult, error) {
	if reason == "" {
		reason = domain.DefaultReleaseReason
	}

	escrow, err := uc.repos.Escrows.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if escrow.Status != domain.EscrowStatusHeld {
		return nil, fmt.Errorf("%w: status is %s", domain.ErrEscrowNotHeld, escrow.Status)
	}
	if escrow.FreelancerID == nil || *escrow.FreelancerID == "" {
		return nil, fmt.Errorf("%w: no freelancer assigned", domain.ErrNoPayoutDestination)
	}
	if !escrow.FreelancerAmount.IsPositive() {
		return nil, fmt.Errorf("%w: nothing to pay out", domain.ErrInvalidAmount)
	}

	phone, err := uc.payoutPhone(ctx, *escrow.FreelancerID)
	if err != nil {
		return nil, err
	}

	if _, err := uc.repos.Transactions.FindActivePayout(ctx, escrow.ID); err == nil {
		return nil, domain.ErrPayoutInProgress
	} else if !errors.Is(err, domain.ErrTransactionNotFound) {
		return nil, err
	}

	title := escrow.ProjectID
	if project, err := uc.repos.Projects.GetByID(ctx, escrow.ProjectID); err == nil && project.Title != "" {
		title = project.Title
	}

	tx := &domain.Transaction{
		ID:              id.NewID(),
		ProjectID:       escrow.ProjectID,
		RecipientID:     escrow.FreelancerID,
		TransactionType: domain.TxTypePayout,
		PaymentMethod:   domain.PaymentMethodMpesaSTK,
		Amount:          escrow.FreelancerAmount,
		Currency:        domain.DefaultCurrency,
		Status:          domain.TxStatusProcessing,
		PhoneNumber:     &phone,
		Description:     domain.StrPtr("Payout for project: " + title),
		ReferenceNumber: domain.StrPtr(id.GenerateReference("PO")),
		Metadata: domain.Metadata{
			domain.MetaEscrowID:      escrow.ID,
			domain.MetaReleaseReason: reason,
		},
	}
	if err := uc.repos.Transactions.Create(ctx, tx); err != nil {
		return nil, err
	}
	uc.publish(ctx, events.TransactionEvent(events.TypeTransactionProcessing, tx))

	uc.logger.Info("initiating escrow payout",
		zap.String("escrow_id", escrow.ID),
		zap.String("transaction_id", tx.ID),
		zap.String("amount", tx.Amount.StringFixed(2)))

	payoutCtx, cancel := context.WithTimeout(ctx, uc.requestTimeout)
	defer cancel()

	timer := prometheus.NewTimer(metrics.ProviderRequestDuration.WithLabelValues(metrics.OpPayout))
	resp, err := uc.provider.InitiatePayout(payoutCtx, &provider.PayoutRequest{
		OriginatorConversationID: *tx.ReferenceNumber,
		PhoneNumber:              phone,
		Amount:                   tx.Amount,
		Remarks:                  "Payout for project: " + title,
		Occasion:                 id.AccountReference(escrow.ProjectID),
	})
	timer.ObserveDuration()
	if err != nil {
		metrics.PayoutsInitiated.WithLabelValues("rejected").Inc()
		return nil, uc.failPayout(ctx, tx, err)
	}
	metrics.PayoutsInitiated.WithLabelValues("accepted").Inc()

	_, err = uc.repos.Transactions.UpdateIf(ctx, tx.ID, []domain.TransactionStatus{domain.TxStatusProcessing}, domain.TransactionUpdate{
		ProviderTransactionID: domain.StrPtr(resp.ConversationID),
		MetadataPatch: domain.Metadata{
			domain.MetaConversationID:   resp.ConversationID,
			domain.MetaOriginatorConvID: resp.OriginatorConversationID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record payout acceptance: %w", err)
	}

	uc.logger.Info("escrow payout accepted",
		zap.String("escrow_id", escrow.ID),
		zap.String("transaction_id", tx.ID),
		zap.String("conversation_id", resp.ConversationID))

	uc.notifier.send(ctx, userNotice(*escrow.FreelancerID, domain.NotifyPayoutInitiated,
		fmt.Sprintf("Payment of %s is on its way to your M-Pesa number.", formatAmount(tx.Currency, tx.Amount)),
		escrow.ProjectID, domain.PriorityHigh).withIcon("dollar-sign"))

	return &ReleaseEscrowResult{
		PayoutTransactionID: tx.ID,
		ConversationID:      resp.ConversationID,
		Amount:              tx.Amount,
	}, nil
}

func (uc *PayoutUsecase) payoutPhone(ctx context.Context, freelancerID string) (string, error) {
	profile, err := uc.repos.Profiles.GetByID(ctx, freelancerID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", fmt.Errorf("%w: freelancer profile not found", domain.ErrNoPayoutDestination)
	}
	if err != nil {
		return "", err
	}
	if profile.PhoneNumber == nil || *profile.PhoneNumber == "" {
		return "", fmt.Errorf("%w: freelancer has no phone number", domain.ErrNoPayoutDestination)
	}

	phone, err := mpesa.NormalizePhone(*profile.PhoneNumber)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrNoPayoutDestination, err)
	}
	return phone, nil
}

// failPayout fails a payout the gateway did not accept. The escrow is left
// held so the release can be retried.
func (uc *PayoutUsecase) failPayout(ctx context.Context, tx *domain.Transaction, cause error) error {
	uc.logger.Warn("escrow payout not accepted",
		zap.String("transaction_id", tx.ID),
		zap.Error(cause))

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	reason := cause.Error()
	var perr *domain.ProviderError
	if errors.As(cause, &perr) && perr.Message != "" {
		reason = perr.Message
	}

	now := uc.now()
	n, err := uc.repos.Transactions.UpdateIf(writeCtx, tx.ID, []domain.TransactionStatus{domain.TxStatusProcessing}, domain.TransactionUpdate{
		Status:      domain.StatusPtr(domain.TxStatusFailed),
		CompletedAt: &now,
		MetadataPatch: domain.Metadata{
			domain.MetaError:         reason,
			domain.MetaFailureReason: reason,
		},
	})
	if err != nil {
		uc.logger.Error("failed to mark payout failed",
			zap.String("transaction_id", tx.ID),
			zap.Error(err))
	} else if n > 0 {
		tx.Status = domain.TxStatusFailed
		uc.publish(writeCtx, events.TransactionEvent(events.TypeTransactionFailed, tx))
	}

	if perr != nil {
		return cause
	}
	return fmt.Errorf("%w: %w", domain.ErrPayoutRejected, cause)
}

func (uc *PayoutUsecase) publish(ctx context.Context, ev *events.Event) {
	if err := uc.publisher.Publish(ctx, ev); err != nil {
		uc.logger.Warn("failed to publish settlement event",
			zap.String("event_type", ev.EventType),
			zap.String("transaction_id", ev.TransactionID),
			zap.Error(err))
	}
}
