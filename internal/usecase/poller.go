package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"
	"github.com/RemisonBarawa/Freelance-App/internal/metrics"
	"github.com/RemisonBarawa/Freelance-App/internal/provider"
	"github.com/RemisonBarawa/Freelance-App/internal/repository"
	"github.com/RemisonBarawa/Freelance-App/pkg/cache"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	pollAttemptNamespace = "poll_attempts"

	DefaultPollMaxAttempts = 60
	DefaultPollInterval    = 5 * time.Second
	DefaultAttemptWindow   = 24 * time.Hour
)

type StatusRequest struct {
	TransactionID     string `json:"transactionId"`
	CheckoutRequestID string `json:"checkoutRequestId"`
}

type StatusResult struct {
	Transaction *domain.Transaction   `json:"transaction"`
	Escrow      *domain.EscrowHolding `json:"escrow,omitempty"`
	// Attempts is the number of status checks recorded so far.
	Attempts int64 `json:"attempts,omitempty"`
}

type PollerConfig struct {
	MaxAttempts    int
	Interval       time.Duration
	AttemptWindow  time.Duration
	RequestTimeout time.Duration
}

// StatusPoller is the active reconciliation fallback for transactions whose
// callback has not arrived. Outcomes go through the same Settler as callbacks.
type StatusPoller struct {
	repos    *repository.Repositories
	provider provider.PaymentProvider
	settler  *Settler
	attempts cache.Counter
	cfg      PollerConfig
	logger   *zap.Logger
}

func NewStatusPoller(
	repos *repository.Repositories,
	paymentProvider provider.PaymentProvider,
	settler *Settler,
	attempts cache.Counter,
	cfg PollerConfig,
	logger *zap.Logger,
) *StatusPoller {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultPollMaxAttempts
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = DefaultAttemptWindow
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &StatusPoller{
		repos:    repos,
		provider: paymentProvider,
		settler:  settler,
		attempts: attempts,
		cfg:      cfg,
		logger:   logger,
	}
}

// CheckStatus returns the transaction, reconciling it first when it is still
// processing. Each reconciling call counts one attempt; once the bound is
// reached without a verdict the transaction fails with reason timeout.
func (p *StatusPoller) CheckStatus(ctx context.Context, req *StatusRequest) (*StatusResult, error) {
	tx, err := p.lookup(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &StatusResult{Transaction: tx}
	if tx.Status == domain.TxStatusProcessing {
		result.Transaction, result.Attempts = p.reconcile(ctx, tx)
	}

	if result.Transaction.Status == domain.TxStatusCompleted && result.Transaction.TransactionType == domain.TxTypePayment {
		escrow, err := p.repos.Escrows.GetByTransactionID(ctx, result.Transaction.ID)
		switch {
		case err == nil:
			result.Escrow = escrow
		case !errors.Is(err, domain.ErrEscrowNotFound):
			p.logger.Warn("failed to load escrow for completed payment",
				zap.String("transaction_id", result.Transaction.ID),
				zap.Error(err))
		}
	}
	return result, nil
}

func (p *StatusPoller) lookup(ctx context.Context, req *StatusRequest) (*domain.Transaction, error) {
	switch {
	case req.TransactionID != "":
		return p.repos.Transactions.GetByID(ctx, req.TransactionID)
	case req.CheckoutRequestID != "":
		return p.repos.Transactions.GetByProviderID(ctx, req.CheckoutRequestID)
	}
	return nil, domain.ErrMissingIdentifier
}

// reconcile runs one attempt against a processing transaction and returns
// its latest state. Errors are logged; the caller still gets a status.
func (p *StatusPoller) reconcile(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, int64) {
	attempt, err := p.attempts.IncrWithExpire(ctx, pollAttemptNamespace, tx.ID, p.cfg.AttemptWindow)
	if err != nil {
		p.logger.Warn("failed to record poll attempt",
			zap.String("transaction_id", tx.ID),
			zap.Error(err))
	}
	bound := int64(p.cfg.MaxAttempts)

	if attempt > bound {
		return p.timeout(ctx, tx, attempt), attempt
	}

	// payouts have no synchronous query; their verdict comes from the
	// result/timeout callbacks and only the bound applies here
	if tx.TransactionType != domain.TxTypePayment || tx.ProviderTransactionID == nil {
		if attempt == bound {
			return p.timeout(ctx, tx, attempt), attempt
		}
		return tx, attempt
	}

	queryCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	timer := prometheus.NewTimer(metrics.ProviderRequestDuration.WithLabelValues(metrics.OpQuery))
	res, err := p.provider.QueryPush(queryCtx, *tx.ProviderTransactionID)
	timer.ObserveDuration()
	if err != nil {
		metrics.StatusPolls.WithLabelValues("error").Inc()
		p.logger.Warn("status query failed",
			zap.String("transaction_id", tx.ID),
			zap.Int64("attempt", attempt),
			zap.Error(err))
		if attempt == bound {
			return p.timeout(ctx, tx, attempt), attempt
		}
		return tx, attempt
	}
	metrics.StatusPolls.WithLabelValues(res.Outcome.String()).Inc()

	if res.Outcome == provider.OutcomePending {
		p.logger.Debug("transaction still processing at provider",
			zap.String("transaction_id", tx.ID),
			zap.Int64("attempt", attempt),
			zap.String("result_code", res.ResultCode))
		if attempt == bound {
			return p.timeout(ctx, tx, attempt), attempt
		}
		return tx, attempt
	}

	settled, _, err := p.settler.Settle(ctx, tx, &Settlement{
		Outcome:           res.Outcome,
		ResultCode:        res.ResultCode,
		ResultDescription: res.ResultDesc,
		RawKey:            domain.MetaQueryResult,
		Raw:               res.Raw,
		Source:            metrics.SourcePoller,
	})
	if err != nil {
		return tx, attempt
	}
	p.clearAttempts(ctx, tx.ID)
	return settled, attempt
}

func (p *StatusPoller) timeout(ctx context.Context, tx *domain.Transaction, attempt int64) *domain.Transaction {
	p.logger.Warn("status poll bound reached, failing transaction",
		zap.String("transaction_id", tx.ID),
		zap.Int64("attempts", attempt),
		zap.Int("max_attempts", p.cfg.MaxAttempts))

	settled, _, err := p.settler.Settle(ctx, tx, &Settlement{
		Outcome:       provider.OutcomeFailed,
		FailureReason: domain.FailureReasonTimeout,
		Source:        metrics.SourceTimeout,
	})
	if err != nil {
		return tx
	}
	p.clearAttempts(ctx, tx.ID)
	return settled
}

func (p *StatusPoller) clearAttempts(ctx context.Context, transactionID string) {
	if err := p.attempts.Delete(ctx, pollAttemptNamespace, transactionID); err != nil {
		p.logger.Debug("failed to clear poll attempts",
			zap.String("transaction_id", transactionID),
			zap.Error(err))
	}
}

// PollUntilSettled checks the transaction at interval until it is terminal,
// the attempt bound fails it, or ctx is done. Abandoning it has no side
// effects beyond the attempts already recorded.
func (p *StatusPoller) PollUntilSettled(ctx context.Context, transactionID string, interval time.Duration) (*StatusResult, error) {
	if interval <= 0 {
		interval = p.cfg.Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := p.CheckStatus(ctx, &StatusRequest{TransactionID: transactionID})
		if err != nil {
			return nil, err
		}
		if res.Transaction.Status.IsTerminal() {
			return res, nil
		}

		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-ticker.C:
		}
	}
}

type SweepReport struct {
	Checked int `json:"checked"`
	Settled int `json:"settled"`
	Errors  int `json:"errors"`
}

// SweepStale checks every transaction stuck in processing for longer than
// olderThan once.
func (p *StatusPoller) SweepStale(ctx context.Context, olderThan time.Duration, limit int) (*SweepReport, error) {
	stale, err := p.repos.Transactions.ListStale(ctx, p.settler.now().Add(-olderThan), limit)
	if err != nil {
		return nil, err
	}

	report := &SweepReport{}
	for _, tx := range stale {
		if ctx.Err() != nil {
			break
		}
		report.Checked++

		res, err := p.CheckStatus(ctx, &StatusRequest{TransactionID: tx.ID})
		if err != nil {
			report.Errors++
			p.logger.Error("stale transaction check failed",
				zap.String("transaction_id", tx.ID),
				zap.Error(err))
			continue
		}
		if res.Transaction.Status.IsTerminal() {
			report.Settled++
		}
	}

	p.logger.Info("stale transaction sweep finished",
		zap.Int("checked", report.Checked),
		zap.Int("settled", report.Settled),
		zap.Int("errors", report.Errors))
	return report, ctx.Err()
}
