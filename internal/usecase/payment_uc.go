// internal/usecase/payment_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RemisonBarawa/Freelance-App/internal/commission"
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

type InitiatePaymentRequest struct {
	ProjectID   string          `json:"projectId"`
	PhoneNumber string          `json:"phoneNumber"`
	Amount      decimal.Decimal `json:"amount"`
}

type InitiatePaymentResult struct {
	TransactionID     string `json:"transactionId"`
	CheckoutRequestID string `json:"checkoutRequestId"`
	MerchantRequestID string `json:"merchantRequestId"`
	CustomerMessage   string `json:"customerMessage,omitempty"`
}

type PaymentUsecase struct {
	repos          *repository.Repositories
	resolver       *commission.Resolver
	provider       provider.PaymentProvider
	publisher      events.Publisher
	currency       string
	requestTimeout time.Duration
	now            func() time.Time
	logger         *zap.Logger
}

func NewPaymentUsecase(
	repos *repository.Repositories,
	resolver *commission.Resolver,
	paymentProvider provider.PaymentProvider,
	publisher events.Publisher,
	currency string,
	requestTimeout time.Duration,
	logger *zap.Logger,
) *PaymentUsecase {
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return &PaymentUsecase{
		repos:          repos,
		resolver:       resolver,
		provider:       paymentProvider,
		publisher:      publisher,
		currency:       currency,
		requestTimeout: requestTimeout,
		now:            time.Now,
		logger:         logger,
	}
}

// InitiatePayment validates the request, records a pending payment with its
// commission breakdown and sends the push prompt. The transaction never stays
// pending: it is either processing (prompt accepted) or failed on return.
func (uc *PaymentUsecase) InitiatePayment(ctx context.Context, req *InitiatePaymentRequest) (*InitiatePaymentResult, error) {
	if !req.Amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	phone, err := mpesa.NormalizePhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	project, err := uc.repos.Projects.GetByID(ctx, req.ProjectID)
	if err != nil {
		return nil, err
	}

	split, err := uc.resolver.Compute(ctx, req.Amount, project.ProjectType, uc.now())
	if err != nil {
		return nil, err
	}
	if split.NetAmount.IsNegative() {
		return nil, fmt.Errorf("%w: commission %s exceeds amount %s",
			domain.ErrInvalidAmount, split.Commission.StringFixed(2), req.Amount.StringFixed(2))
	}

	uc.logger.Info("initiating payment",
		zap.String("project_id", project.ID),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.String("platform_commission", split.Commission.StringFixed(2)),
		zap.String("policy_id", split.PolicyID))

	tx := &domain.Transaction{
		ID:              id.NewID(),
		ProjectID:       project.ID,
		PayerID:         project.ClientID,
		TransactionType: domain.TxTypePayment,
		PaymentMethod:   domain.PaymentMethodMpesaSTK,
		Amount:          req.Amount,
		Currency:        uc.currency,
		Status:          domain.TxStatusPending,
		PhoneNumber:     &phone,
		Description:     domain.StrPtr("Payment for project: " + project.Title),
		ReferenceNumber: domain.StrPtr(id.GenerateReference("PAY")),
		Metadata:        split.Metadata(),
	}
	if err := uc.repos.Transactions.Create(ctx, tx); err != nil {
		return nil, err
	}
	uc.publish(ctx, events.TransactionEvent(events.TypeTransactionCreated, tx))

	pushCtx, cancel := context.WithTimeout(ctx, uc.requestTimeout)
	defer cancel()

	timer := prometheus.NewTimer(metrics.ProviderRequestDuration.WithLabelValues(metrics.OpPush))
	resp, err := uc.provider.InitiatePush(pushCtx, &provider.PushRequest{
		PhoneNumber:      phone,
		Amount:           req.Amount,
		AccountReference: id.AccountReference(project.ID),
		Description:      "Payment for " + project.Title,
	})
	timer.ObserveDuration()
	if err != nil {
		metrics.PaymentsInitiated.WithLabelValues("rejected").Inc()
		return nil, uc.failInitiation(ctx, tx, err)
	}

	n, err := uc.repos.Transactions.UpdateIf(ctx, tx.ID, []domain.TransactionStatus{domain.TxStatusPending}, domain.TransactionUpdate{
		Status:                domain.StatusPtr(domain.TxStatusProcessing),
		ProviderTransactionID: domain.StrPtr(resp.CheckoutRequestID),
		MetadataPatch: domain.Metadata{
			domain.MetaCheckoutRequestID: resp.CheckoutRequestID,
			domain.MetaMerchantRequestID: resp.MerchantRequestID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record push acceptance: %w", err)
	}
	metrics.PaymentsInitiated.WithLabelValues("accepted").Inc()
	if n == 0 {
		uc.logger.Warn("payment left pending before acceptance was recorded",
			zap.String("transaction_id", tx.ID),
			zap.String("checkout_request_id", resp.CheckoutRequestID))
	} else {
		uc.logger.Info("push payment accepted",
			zap.String("transaction_id", tx.ID),
			zap.String("checkout_request_id", resp.CheckoutRequestID))
		tx.Status = domain.TxStatusProcessing
		tx.ProviderTransactionID = domain.StrPtr(resp.CheckoutRequestID)
		uc.publish(ctx, events.TransactionEvent(events.TypeTransactionProcessing, tx))
	}

	return &InitiatePaymentResult{
		TransactionID:     tx.ID,
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

// failInitiation moves a payment whose push never got accepted to failed and
// returns the error to surface. Provider rejections keep their code and
// message; transport problems are wrapped as a rejection too.
func (uc *PaymentUsecase) failInitiation(ctx context.Context, tx *domain.Transaction, cause error) error {
	uc.logger.Warn("push payment not accepted",
		zap.String("transaction_id", tx.ID),
		zap.Error(cause))

	// the request context may already be done; the failure must still land
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	reason := cause.Error()
	var perr *domain.ProviderError
	if errors.As(cause, &perr) && perr.Message != "" {
		reason = perr.Message
	}

	now := uc.now()
	n, err := uc.repos.Transactions.UpdateIf(writeCtx, tx.ID, []domain.TransactionStatus{domain.TxStatusPending}, domain.TransactionUpdate{
		Status:      domain.StatusPtr(domain.TxStatusFailed),
		CompletedAt: &now,
		MetadataPatch: domain.Metadata{
			domain.MetaError:         reason,
			domain.MetaFailureReason: reason,
		},
	})
	if err != nil {
		uc.logger.Error("failed to mark payment failed",
			zap.String("transaction_id", tx.ID),
			zap.Error(err))
	} else if n > 0 {
		tx.Status = domain.TxStatusFailed
		uc.publish(writeCtx, events.TransactionEvent(events.TypeTransactionFailed, tx))
	}

	if perr != nil {
		return cause
	}
	return fmt.Errorf("%w: %w", domain.ErrPaymentRejected, cause)
}

// ListProjectTransactions returns every transaction for a project, latest first.
func (uc *PaymentUsecase) ListProjectTransactions(ctx context.Context, projectID string) ([]*domain.Transaction, error) {
	if _, err := uc.repos.Projects.GetByID(ctx, projectID); err != nil {
		return nil, err
	}
	return uc.repos.Transactions.ListByProject(ctx, projectID)
}

func (uc *PaymentUsecase) publish(ctx context.Context, ev *events.Event) {
	if err := uc.publisher.Publish(ctx, ev); err != nil {
		uc.logger.Warn("failed to publish settlement event",
			zap.String("event_type", ev.EventType),
			zap.String("transaction_id", ev.TransactionID),
			zap.Error(err))
	}
}
