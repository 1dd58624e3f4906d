package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"
	"github.com/RemisonBarawa/Freelance-App/internal/events"
	"github.com/RemisonBarawa/Freelance-App/internal/repository"

	"go.uber.org/zap"
)

type EscrowUsecase struct {
	repos     *repository.Repositories
	notifier  *Notifier
	publisher events.Publisher
	logger    *zap.Logger
}

func NewEscrowUsecase(repos *repository.Repositories, notifier *Notifier, publisher events.Publisher, logger *zap.Logger) *EscrowUsecase {
	return &EscrowUsecase{
		repos:     repos,
		notifier:  notifier,
		publisher: publisher,
		logger:    logger,
	}
}

func (uc *EscrowUsecase) GetEscrow(ctx context.Context, escrowID string) (*domain.EscrowHolding, error) {
	return uc.repos.Escrows.GetByID(ctx, escrowID)
}

func (uc *EscrowUsecase) ListProjectEscrows(ctx context.Context, projectID string) ([]*domain.EscrowHolding, error) {
	return uc.repos.Escrows.ListByProject(ctx, projectID)
}

// OpenDispute freezes a held escrow. A disputed escrow cannot be released
// until the dispute is resolved elsewhere.
func (uc *EscrowUsecase) OpenDispute(ctx context.Context, escrowID, reason string) (*domain.EscrowHolding, error) {
	if reason == "" {
		reason = "Dispute opened"
	}

	if _, err := uc.repos.Transactions.FindActivePayout(ctx, escrowID); err == nil {
		return nil, domain.ErrPayoutInProgress
	} else if !errors.Is(err, domain.ErrTransactionNotFound) {
		return nil, err
	}

	n, err := uc.repos.Escrows.UpdateIf(ctx, escrowID, []domain.EscrowStatus{domain.EscrowStatusHeld}, domain.EscrowUpdate{
		Status:     domain.EscrowStatusPtr(domain.EscrowStatusDisputed),
		HoldReason: &reason,
	})
	if err != nil {
		return nil, err
	}

	escrow, err := uc.repos.Escrows.GetByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: status is %s", domain.ErrEscrowNotHeld, escrow.Status)
	}

	uc.logger.Info("escrow disputed",
		zap.String("escrow_id", escrow.ID),
		zap.String("project_id", escrow.ProjectID))

	if err := uc.publisher.Publish(ctx, events.EscrowEvent(events.TypeEscrowDisputed, escrow, escrow.TransactionID)); err != nil {
		uc.logger.Warn("failed to publish settlement event", zap.String("escrow_id", escrow.ID), zap.Error(err))
	}
	uc.notifier.send(ctx,
		userNotice(escrow.ClientID, domain.NotifyEscrowDisputed,
			"A dispute has been opened on your project payment. Funds stay in escrow until it is resolved.",
			escrow.ProjectID, domain.PriorityHigh).withIcon("alert-triangle"),
		adminNotice(domain.NotifyEscrowDisputed,
			fmt.Sprintf("Escrow %s for project %s is disputed: %s", escrow.ID, escrow.ProjectID, reason),
			escrow.ProjectID, domain.PriorityHigh).withIcon("alert-triangle"),
	)
	return escrow, nil
}

// AssignFreelancer assigns the project and points its open escrows at the
// freelancer so they can be paid out later.
func (uc *EscrowUsecase) AssignFreelancer(ctx context.Context, projectID, freelancerID string) (int64, error) {
	if freelancerID == "" {
		return 0, fmt.Errorf("%w: freelancerId is required", domain.ErrInvalidRequest)
	}
	if _, err := uc.repos.Profiles.GetByID(ctx, freelancerID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, fmt.Errorf("%w: freelancer profile not found", domain.ErrInvalidRequest)
		}
		return 0, err
	}

	var updated int64
	err := uc.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := uc.repos.Projects.Assign(ctx, projectID, freelancerID); err != nil {
			return err
		}
		n, err := uc.repos.Escrows.AssignFreelancer(ctx, projectID, freelancerID)
		updated = n
		return err
	})
	if err != nil {
		return 0, err
	}

	uc.logger.Info("project assigned",
		zap.String("project_id", projectID),
		zap.String("freelancer_id", freelancerID),
		zap.Int64("escrows_updated", updated))
	return updated, nil
}
