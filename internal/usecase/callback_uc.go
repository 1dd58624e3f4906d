// internal/usecase/callback_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"
	"github.com/RemisonBarawa/Freelance-App/internal/metrics"
	"github.com/RemisonBarawa/Freelance-App/internal/provider"
	"github.com/RemisonBarawa/Freelance-App/internal/provider/mpesa"
	"github.com/RemisonBarawa/Freelance-App/internal/repository"
	"github.com/RemisonBarawa/Freelance-App/pkg/id"

	"go.uber.org/zap"
)

type callbackParser func(payload []byte) (*provider.CallbackResult, error)

var callbackParsers = map[string]callbackParser{
	domain.WebhookTypeSTKCallback: mpesa.ParseSTKCallback,
	domain.WebhookTypeB2CResult:   mpesa.ParseB2CResult,
	domain.WebhookTypeB2CTimeout:  mpesa.ParseB2CTimeout,
}

type CallbackUsecase struct {
	repos   *repository.Repositories
	settler *Settler
	now     func() time.Time
	logger  *zap.Logger
}

func NewCallbackUsecase(repos *repository.Repositories, settler *Settler, logger *zap.Logger) *CallbackUsecase {
	return &CallbackUsecase{
		repos:   repos,
		settler: settler,
		now:     time.Now,
		logger:  logger,
	}
}

// HandleSTKCallback records and reconciles a push-payment callback. A nil
// error means the payload is durably stored; processing problems after that
// are recorded on the webhook row, not returned.
func (uc *CallbackUsecase) HandleSTKCallback(ctx context.Context, payload []byte) error {
	return uc.handle(ctx, domain.WebhookTypeSTKCallback, payload)
}

func (uc *CallbackUsecase) HandleB2CResult(ctx context.Context, payload []byte) error {
	return uc.handle(ctx, domain.WebhookTypeB2CResult, payload)
}

func (uc *CallbackUsecase) HandleB2CTimeout(ctx context.Context, payload []byte) error {
	return uc.handle(ctx, domain.WebhookTypeB2CTimeout, payload)
}

func (uc *CallbackUsecase) handle(ctx context.Context, webhookType string, payload []byte) error {
	uc.logger.Info("received provider callback",
		zap.String("webhook_type", webhookType),
		zap.Int("payload_size", len(payload)))

	parse := callbackParsers[webhookType]
	res, parseErr := parse(payload)

	webhook := &domain.PaymentWebhook{
		ID:          id.NewID(),
		WebhookType: webhookType,
		Payload:     domain.RawPayload(payload),
	}
	if parseErr == nil {
		webhook.ProviderTransactionID = domain.StrPtr(firstNonEmpty(res.CorrelationID, res.SecondaryID))
	}
	if err := uc.repos.Webhooks.Create(ctx, webhook); err != nil {
		metrics.CallbacksReceived.WithLabelValues(webhookType, "store_failed").Inc()
		uc.logger.Error("failed to store provider callback",
			zap.String("webhook_type", webhookType),
			zap.Error(err))
		return err
	}

	result := uc.process(ctx, webhook, res, parseErr, metrics.SourceCallback)
	metrics.CallbacksReceived.WithLabelValues(webhookType, result).Inc()
	return nil
}

// ReplayWebhook runs a stored webhook through reconciliation again. Replaying
// a webhook whose transaction is already settled changes nothing.
func (uc *CallbackUsecase) ReplayWebhook(ctx context.Context, webhookID string) (*domain.PaymentWebhook, error) {
	webhook, err := uc.repos.Webhooks.GetByID(ctx, webhookID)
	if err != nil {
		return nil, err
	}

	parse, ok := callbackParsers[webhook.WebhookType]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported webhook type %q", domain.ErrInvalidRequest, webhook.WebhookType)
	}

	uc.logger.Info("replaying provider callback",
		zap.String("webhook_id", webhook.ID),
		zap.String("webhook_type", webhook.WebhookType))

	res, parseErr := parse(webhook.Payload)
	result := uc.process(ctx, webhook, res, parseErr, metrics.SourceReplay)
	metrics.CallbacksReceived.WithLabelValues(webhook.WebhookType, "replay_"+result).Inc()

	return uc.repos.Webhooks.GetByID(ctx, webhook.ID)
}

// process reconciles one stored webhook and returns a short result label.
func (uc *CallbackUsecase) process(ctx context.Context, webhook *domain.PaymentWebhook, res *provider.CallbackResult, parseErr error, source string) string {
	if parseErr != nil {
		uc.logger.Warn("invalid provider callback",
			zap.String("webhook_id", webhook.ID),
			zap.Error(parseErr))
		uc.markProcessed(ctx, webhook.ID, nil, parseErr.Error())
		return "invalid"
	}

	tx, err := uc.lookup(ctx, res)
	if errors.Is(err, domain.ErrTransactionNotFound) {
		uc.logger.Warn("no transaction for provider callback",
			zap.String("webhook_id", webhook.ID),
			zap.String("correlation_id", res.CorrelationID),
			zap.String("secondary_id", res.SecondaryID))
		uc.markProcessed(ctx, webhook.ID, nil, "transaction not found for provider id "+firstNonEmpty(res.CorrelationID, res.SecondaryID))
		return "unmatched"
	}
	if err != nil {
		// left unprocessed so a replay can pick it up
		uc.logger.Error("failed to look up transaction for callback",
			zap.String("webhook_id", webhook.ID),
			zap.String("correlation_id", res.CorrelationID),
			zap.Error(err))
		uc.recordError(ctx, webhook.ID, "transaction lookup failed: "+err.Error())
		return "error"
	}

	if res.Outcome == provider.OutcomePending {
		uc.logger.Info("provider reports transaction still processing",
			zap.String("transaction_id", tx.ID),
			zap.String("result_code", res.ResultCode))
		uc.markProcessed(ctx, webhook.ID, &tx.ID, "")
		return "pending"
	}

	st := SettlementFromCallback(res, source)
	current, applied, err := uc.settler.Settle(ctx, tx, st)
	if err != nil {
		uc.recordError(ctx, webhook.ID, err.Error())
		return "error"
	}
	if applied {
		uc.markProcessed(ctx, webhook.ID, &tx.ID, "")
		return "settled"
	}

	flagged, err := uc.settler.FlagLateSuccess(ctx, current, st)
	if err != nil {
		uc.logger.Error("failed to record late payout result",
			zap.String("webhook_id", webhook.ID),
			zap.String("transaction_id", tx.ID),
			zap.Error(err))
		uc.recordError(ctx, webhook.ID, err.Error())
		return "error"
	}
	if flagged {
		uc.markProcessed(ctx, webhook.ID, &tx.ID, "success reported after the transaction was marked failed")
		return "late_success"
	}

	uc.markProcessed(ctx, webhook.ID, &tx.ID, "")
	return "duplicate"
}

// lookup finds the transaction a callback belongs to. Payout results that
// carry only the originator id are matched on our reference.
func (uc *CallbackUsecase) lookup(ctx context.Context, res *provider.CallbackResult) (*domain.Transaction, error) {
	if res.CorrelationID != "" {
		tx, err := uc.repos.Transactions.GetByProviderID(ctx, res.CorrelationID)
		if err == nil || !errors.Is(err, domain.ErrTransactionNotFound) || res.SecondaryID == "" {
			return tx, err
		}
	}
	if res.SecondaryID == "" {
		return nil, domain.ErrTransactionNotFound
	}
	return uc.repos.Transactions.GetByReference(ctx, res.SecondaryID)
}

func (uc *CallbackUsecase) recordError(ctx context.Context, webhookID, message string) {
	if err := uc.repos.Webhooks.RecordError(ctx, webhookID, message); err != nil {
		uc.logger.Error("failed to record webhook error",
			zap.String("webhook_id", webhookID),
			zap.Error(err))
	}
}

func (uc *CallbackUsecase) markProcessed(ctx context.Context, webhookID string, transactionID *string, errorMessage string) {
	if err := uc.repos.Webhooks.MarkProcessed(ctx, webhookID, transactionID, domain.StrPtr(errorMessage), uc.now()); err != nil {
		uc.logger.Error("failed to mark webhook processed",
			zap.String("webhook_id", webhookID),
			zap.Error(err))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
