package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"
	"github.com/RemisonBarawa/Freelance-App/internal/events"
	"github.com/RemisonBarawa/Freelance-App/internal/metrics"
	"github.com/RemisonBarawa/Freelance-App/internal/provider"
	"github.com/RemisonBarawa/Freelance-App/internal/repository"
	"github.com/RemisonBarawa/Freelance-App/pkg/id"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Settlement is a provider verdict on one transaction, from a callback, a
// status query or the poll bound.
type Settlement struct {
	Outcome           provider.Outcome
	ResultCode        string
	ResultDescription string

	ReceiptNumber   string
	Amount          decimal.Decimal
	PhoneNumber     string
	TransactionDate string

	// FailureReason overrides ResultDescription in metadata.failure_reason.
	FailureReason string

	// Raw is stored under RawKey in the transaction metadata.
	RawKey string
	Raw    map[string]interface{}

	// Source labels the entry point for logs and metrics.
	Source string
}

// SettlementFromCallback maps a parsed webhook onto a settlement.
func SettlementFromCallback(res *provider.CallbackResult, source string) *Settlement {
	return &Settlement{
		Outcome:           res.Outcome,
		ResultCode:        res.ResultCode,
		ResultDescription: res.ResultDescription,
		ReceiptNumber:     res.ReceiptNumber,
		Amount:            res.Amount,
		PhoneNumber:       res.PhoneNumber,
		TransactionDate:   res.TransactionDate,
		RawKey:            domain.MetaCallbackResult,
		Raw:               res.Raw,
		Source:            source,
	}
}

func (st *Settlement) failureReason() string {
	switch {
	case st.FailureReason != "":
		return st.FailureReason
	case st.ResultDescription != "":
		return st.ResultDescription
	case st.ResultCode != "":
		return "provider result code " + st.ResultCode
	}
	return "unknown provider failure"
}

func (st *Settlement) metadata() domain.Metadata {
	m := domain.Metadata{}
	if st.Raw != nil {
		key := st.RawKey
		if key == "" {
			key = domain.MetaCallbackResult
		}
		m[key] = st.Raw
	}

	if st.Outcome != provider.OutcomeSuccess {
		m[domain.MetaFailureReason] = st.failureReason()
		return m
	}
	if !st.Amount.IsZero() {
		m[domain.MetaAmountPaid] = st.Amount.String()
	}
	if st.TransactionDate != "" {
		m[domain.MetaTransactionDate] = st.TransactionDate
	}
	if st.PhoneNumber != "" {
		m[domain.MetaPhoneNumber] = st.PhoneNumber
	}
	return m
}

// followUp is what a settled transaction emits once its database work has
// committed.
type followUp struct {
	events  []*events.Event
	notices []notice
}

type effectFunc func(ctx context.Context, tx *domain.Transaction, st *Settlement, now time.Time) (followUp, error)

// settlementEffect is the per-type side effect of reaching a terminal state.
type settlementEffect struct {
	complete effectFunc
	fail     effectFunc
}

// Settler is the single finalization path shared by callbacks, the status
// poller and webhook replay.
type Settler struct {
	repos           *repository.Repositories
	notifier        *Notifier
	publisher       events.Publisher
	autoReleaseDays int
	effects         map[domain.TransactionType]settlementEffect
	now             func() time.Time
	logger          *zap.Logger
}

func NewSettler(
	repos *repository.Repositories,
	notifier *Notifier,
	publisher events.Publisher,
	autoReleaseDays int,
	logger *zap.Logger,
) *Settler {
	s := &Settler{
		repos:           repos,
		notifier:        notifier,
		publisher:       publisher,
		autoReleaseDays: autoReleaseDays,
		now:             time.Now,
		logger:          logger,
	}
	s.effects = map[domain.TransactionType]settlementEffect{
		domain.TxTypePayment: {complete: s.completePayment, fail: s.failPayment},
		domain.TxTypePayout:  {complete: s.completePayout, fail: s.failPayout},
	}
	return s
}

// Settle moves tx to the terminal state st reports and fires the side effects
// for its type. The status guard makes it safe to call any number of times
// from any entry point: only the first caller to observe a non-terminal row
// applies anything. applied reports whether this call was that caller.
func (s *Settler) Settle(ctx context.Context, tx *domain.Transaction, st *Settlement) (result *domain.Transaction, applied bool, err error) {
	if st.Outcome == provider.OutcomePending || tx.Status.IsTerminal() {
		return tx, false, nil
	}

	now := s.now()
	status := domain.TxStatusCompleted
	if st.Outcome == provider.OutcomeFailed {
		status = domain.TxStatusFailed
	}

	upd := domain.TransactionUpdate{
		Status:        domain.StatusPtr(status),
		CompletedAt:   &now,
		MetadataPatch: st.metadata(),
	}
	if status == domain.TxStatusCompleted {
		upd.ReceiptNumber = domain.StrPtr(st.ReceiptNumber)
	}

	var (
		settled *domain.Transaction
		follow  followUp
	)
	err = s.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		n, err := s.repos.Transactions.UpdateIf(ctx, tx.ID, domain.SettleableStatuses, upd)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}

		settled, err = s.repos.Transactions.GetByID(ctx, tx.ID)
		if err != nil {
			return err
		}

		effect := s.effects[settled.TransactionType]
		run := effect.complete
		if status == domain.TxStatusFailed {
			run = effect.fail
		}
		if run == nil {
			return nil
		}
		follow, err = run(ctx, settled, st, now)
		return err
	})
	if err != nil {
		s.logger.Error("failed to settle transaction",
			zap.String("transaction_id", tx.ID),
			zap.String("source", st.Source),
			zap.Error(err))
		return nil, false, fmt.Errorf("failed to settle transaction %s: %w", tx.ID, err)
	}

	if settled == nil {
		s.logger.Info("transaction already settled, skipping",
			zap.String("transaction_id", tx.ID),
			zap.String("source", st.Source))
		current, err := s.repos.Transactions.GetByID(ctx, tx.ID)
		if err != nil {
			return tx, false, nil
		}
		return current, false, nil
	}

	s.logger.Info("transaction settled",
		zap.String("transaction_id", settled.ID),
		zap.String("transaction_type", string(settled.TransactionType)),
		zap.String("status", string(settled.Status)),
		zap.String("result_code", st.ResultCode),
		zap.String("source", st.Source))
	metrics.Settlements.WithLabelValues(string(settled.TransactionType), string(settled.Status), st.Source).Inc()

	eventType := events.TypeTransactionCompleted
	if status == domain.TxStatusFailed {
		eventType = events.TypeTransactionFailed
	}
	s.publish(ctx, append([]*events.Event{events.TransactionEvent(eventType, settled)}, follow.events...)...)
	s.notifier.send(ctx, follow.notices...)

	return settled, true, nil
}

func (s *Settler) publish(ctx context.Context, evs ...*events.Event) {
	for _, ev := range evs {
		if err := s.publisher.Publish(ctx, ev); err != nil {
			s.logger.Warn("failed to publish settlement event",
				zap.String("event_type", ev.EventType),
				zap.String("transaction_id", ev.TransactionID),
				zap.Error(err))
		}
	}
}

func (s *Settler) completePayment(ctx context.Context, tx *domain.Transaction, st *Settlement, now time.Time) (followUp, error) {
	var f followUp

	escrow, err := domain.NewEscrowHolding(tx, st.Amount, s.autoReleaseDays, now)
	if err != nil {
		return f, err
	}
	escrow.ID = id.NewID()

	created, err := s.repos.Escrows.Create(ctx, escrow)
	if err != nil {
		return f, err
	}
	if created {
		f.events = append(f.events, events.EscrowEvent(events.TypeEscrowHeld, escrow, tx.ID))
	}

	opened, err := s.repos.Projects.OpenForBidding(ctx, tx.ProjectID)
	if err != nil {
		return f, err
	}

	s.logger.Info("payment settled into escrow",
		zap.String("transaction_id", tx.ID),
		zap.String("escrow_id", escrow.ID),
		zap.Bool("escrow_created", created),
		zap.Bool("project_opened", opened),
		zap.String("held_amount", escrow.HeldAmount.StringFixed(2)))

	amount := formatAmount(tx.Currency, escrow.HeldAmount)
	f.notices = append(f.notices,
		userNotice(domain.Deref(tx.PayerID), domain.NotifyPaymentSuccess,
			fmt.Sprintf("Payment of %s received. Your project is now open for bidding.", amount),
			tx.ProjectID, domain.PriorityHigh).withIcon("check-circle"),
		adminNotice(domain.NotifyPaymentReceived,
			fmt.Sprintf("New payment received: %s for project %s", amount, tx.ProjectID),
			tx.ProjectID, domain.PriorityMedium).withIcon("dollar-sign"),
	)
	return f, nil
}

func (s *Settler) failPayment(_ context.Context, tx *domain.Transaction, st *Settlement, _ time.Time) (followUp, error) {
	var f followUp

	n := userNotice(domain.Deref(tx.PayerID), domain.NotifyPaymentFailed,
		fmt.Sprintf("Payment failed: %s. Please try again.", st.failureReason()),
		tx.ProjectID, domain.PriorityHigh).withIcon("x-circle")
	if st.FailureReason == domain.FailureReasonTimeout {
		n = userNotice(domain.Deref(tx.PayerID), domain.NotifyPaymentTimeout,
			"We could not confirm your M-Pesa payment in time. Please retry or contact support.",
			tx.ProjectID, domain.PriorityHigh).withIcon("clock")
	}
	f.notices = append(f.notices, n)
	return f, nil
}

func (s *Settler) completePayout(ctx context.Context, tx *domain.Transaction, st *Settlement, now time.Time) (followUp, error) {
	var f followUp

	escrowID, ok := tx.Metadata.String(domain.MetaEscrowID)
	if !ok {
		s.logger.Error("completed payout has no escrow reference",
			zap.String("transaction_id", tx.ID))
		f.notices = append(f.notices, adminNotice(domain.NotifyPayoutCompleted,
			fmt.Sprintf("Payout %s completed without an escrow reference; manual review required", tx.ID),
			tx.ProjectID, domain.PriorityUrgent))
		return f, nil
	}

	reason := domain.DefaultReleaseReason
	if r, ok := tx.Metadata.String(domain.MetaReleaseReason); ok && r != "" {
		reason = r
	}

	n, err := s.repos.Escrows.UpdateIf(ctx, escrowID, []domain.EscrowStatus{domain.EscrowStatusHeld}, domain.EscrowUpdate{
		Status:     domain.EscrowStatusPtr(domain.EscrowStatusReleased),
		ReleasedAt: &now,
		HoldReason: &reason,
	})
	if err != nil {
		return f, err
	}

	amount := formatAmount(tx.Currency, tx.Amount)
	if n == 0 {
		s.logger.Warn("payout completed but escrow was no longer held",
			zap.String("transaction_id", tx.ID),
			zap.String("escrow_id", escrowID))
		f.notices = append(f.notices, adminNotice(domain.NotifyPayoutCompleted,
			fmt.Sprintf("Payout of %s completed but escrow %s was not held; manual review required", amount, escrowID),
			tx.ProjectID, domain.PriorityUrgent))
	} else {
		escrow, err := s.repos.Escrows.GetByID(ctx, escrowID)
		if err != nil {
			return f, err
		}
		f.events = append(f.events, events.EscrowEvent(events.TypeEscrowReleased, escrow, tx.ID))
		f.notices = append(f.notices, adminNotice(domain.NotifyEscrowReleased,
			fmt.Sprintf("Escrow funds released: %s for project %s", amount, tx.ProjectID),
			tx.ProjectID, domain.PriorityMedium).withIcon("check-circle"))
	}

	s.logger.Info("payout settled",
		zap.String("transaction_id", tx.ID),
		zap.String("escrow_id", escrowID),
		zap.String("receipt_number", st.ReceiptNumber))

	f.notices = append(f.notices, userNotice(domain.Deref(tx.RecipientID), domain.NotifyPayoutCompleted,
		fmt.Sprintf("Payment of %s has been sent to your M-Pesa number.", amount),
		tx.ProjectID, domain.PriorityHigh).withIcon("dollar-sign"))
	return f, nil
}

func (s *Settler) failPayout(_ context.Context, tx *domain.Transaction, st *Settlement, _ time.Time) (followUp, error) {
	var f followUp

	escrowID, _ := tx.Metadata.String(domain.MetaEscrowID)
	s.logger.Warn("payout failed, escrow stays held",
		zap.String("transaction_id", tx.ID),
		zap.String("escrow_id", escrowID),
		zap.String("reason", st.failureReason()))

	f.notices = append(f.notices, adminNotice(domain.NotifyPayoutFailed,
		fmt.Sprintf("Payout of %s for escrow %s failed: %s. Funds remain in escrow.",
			formatAmount(tx.Currency, tx.Amount), escrowID, st.failureReason()),
		tx.ProjectID, domain.PriorityHigh).withIcon("alert-triangle"))
	return f, nil
}

// FlagLateSuccess handles a provider success for a payout this side already
// failed, usually through the poll bound. The row keeps its failed status; the
// receipt is appended to its metadata, the escrow is frozen as disputed so it
// cannot be paid out again, and admins are alerted. It reports whether
// anything was recorded; repeats of the same late result record nothing.
func (s *Settler) FlagLateSuccess(ctx context.Context, tx *domain.Transaction, st *Settlement) (bool, error) {
	if tx == nil || tx.TransactionType != domain.TxTypePayout ||
		tx.Status != domain.TxStatusFailed || st.Outcome != provider.OutcomeSuccess {
		return false, nil
	}
	if _, seen := tx.Metadata[domain.MetaLateSuccess]; seen {
		return false, nil
	}

	now := s.now()
	late := map[string]interface{}{
		"receipt_number": st.ReceiptNumber,
		"result_code":    st.ResultCode,
		"received_at":    now.UTC().Format(time.RFC3339),
		"source":         st.Source,
	}
	if st.Raw != nil {
		late["result"] = st.Raw
	}
	escrowID, _ := tx.Metadata.String(domain.MetaEscrowID)
	reason := domain.LatePayoutHoldReason

	var frozen *domain.EscrowHolding
	err := s.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		n, err := s.repos.Transactions.UpdateIf(ctx, tx.ID, []domain.TransactionStatus{domain.TxStatusFailed}, domain.TransactionUpdate{
			MetadataPatch: domain.Metadata{domain.MetaLateSuccess: late},
		})
		if err != nil || n == 0 || escrowID == "" {
			return err
		}

		n, err = s.repos.Escrows.UpdateIf(ctx, escrowID, []domain.EscrowStatus{domain.EscrowStatusHeld}, domain.EscrowUpdate{
			Status:     domain.EscrowStatusPtr(domain.EscrowStatusDisputed),
			HoldReason: &reason,
		})
		if err != nil || n == 0 {
			return err
		}
		frozen, err = s.repos.Escrows.GetByID(ctx, escrowID)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to record late payout result for %s: %w", tx.ID, err)
	}

	s.logger.Error("provider confirmed a payout already marked failed",
		zap.String("transaction_id", tx.ID),
		zap.String("escrow_id", escrowID),
		zap.String("receipt_number", st.ReceiptNumber),
		zap.Bool("escrow_frozen", frozen != nil))
	metrics.Settlements.WithLabelValues(string(tx.TransactionType), "late_success", st.Source).Inc()

	if frozen != nil {
		s.publish(ctx, events.EscrowEvent(events.TypeEscrowDisputed, frozen, tx.ID))
	}
	s.notifier.send(ctx, adminNotice(domain.NotifyPayoutLate,
		fmt.Sprintf("Payout %s of %s was confirmed by M-Pesa (receipt %s) after it was marked failed. Escrow %s is frozen; do not release or refund it before reconciling.",
			tx.ID, formatAmount(tx.Currency, tx.Amount), st.ReceiptNumber, escrowID),
		tx.ProjectID, domain.PriorityUrgent).withIcon("alert-octagon"))
	return true, nil
}

func formatAmount(currency string, amount decimal.Decimal) string {
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	return currency + " " + amount.StringFixed(2)
}
