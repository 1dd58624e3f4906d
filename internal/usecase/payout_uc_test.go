package usecase

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReleaseEscrow_PayoutThenReleaseOnResult(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	escrow := h.heldEscrow(t, 5000)

	res, err := h.payouts.ReleaseEscrow(ctx, escrow.ID, "")
	require.NoError(t, err)
	assert.Equal(t, testConversation, res.ConversationID)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(4500)))

	require.Len(t, h.provider.payouts, 1)
	assert.Equal(t, "254708374149", h.provider.payouts[0].PhoneNumber)
	assert.True(t, h.provider.payouts[0].Amount.Equal(decimal.NewFromInt(4500)))

	payout, err := h.repos.Transactions.GetByID(ctx, res.PayoutTransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxTypePayout, payout.TransactionType)
	assert.Equal(t, domain.TxStatusProcessing, payout.Status)
	assert.Equal(t, testFreelancerID, domain.Deref(payout.RecipientID))
	assert.Equal(t, testConversation, domain.Deref(payout.ProviderTransactionID))
	assert.Equal(t, escrow.ID, payout.Metadata[domain.MetaEscrowID])
	assert.Equal(t, domain.DefaultReleaseReason, payout.Metadata[domain.MetaReleaseReason])

	// escrow stays held until the payout result arrives
	current, err := h.repos.Escrows.GetByID(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusHeld, current.Status)
	assert.Len(t, h.notificationsOfType(domain.NotifyPayoutInitiated), 1)

	require.NoError(t, h.callbacks.HandleB2CResult(ctx, b2cResult(testConversation, 0)))

	payout, err = h.repos.Transactions.GetByID(ctx, res.PayoutTransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusCompleted, payout.Status)
	assert.Equal(t, "NLJ41HAY6Q", domain.Deref(payout.ReceiptNumber))

	current, err = h.repos.Escrows.GetByID(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusReleased, current.Status)
	assert.NotNil(t, current.ReleasedAt)
	assert.Len(t, h.notificationsOfType(domain.NotifyPayoutCompleted), 1)
	assert.Len(t, h.notificationsOfType(domain.NotifyEscrowReleased), 1)
}

func TestReleaseEscrow_NotHeld(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	escrow := h.heldEscrow(t, 5000)

	_, err := h.repos.Escrows.UpdateIf(ctx, escrow.ID, []domain.EscrowStatus{domain.EscrowStatusHeld}, domain.EscrowUpdate{
		Status: domain.EscrowStatusPtr(domain.EscrowStatusReleased),
	})
	require.NoError(t, err)

	_, err = h.payouts.ReleaseEscrow(ctx, escrow.ID, "")
	assert.ErrorIs(t, err, domain.ErrEscrowNotHeld)
	assert.Zero(t, h.provider.payoutCount())
	for _, tx := range h.store.Transactions() {
		assert.NotEqual(t, domain.TxTypePayout, tx.TransactionType)
	}
}

func TestReleaseEscrow_Preconditions(t *testing.T) {
	t.Run("unknown escrow", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.payouts.ReleaseEscrow(context.Background(), "missing", "")
		assert.ErrorIs(t, err, domain.ErrEscrowNotFound)
	})

	t.Run("no freelancer assigned", func(t *testing.T) {
		h := newHarness(t)
		_, escrow := h.settlePayment(t, 5000)
		_, err := h.payouts.ReleaseEscrow(context.Background(), escrow.ID, "")
		assert.ErrorIs(t, err, domain.ErrNoPayoutDestination)
	})

	t.Run("freelancer without phone", func(t *testing.T) {
		h := newHarness(t)
		h.store.PutProfile(domain.Profile{ID: testFreelancerID, FullName: "Freelancer"})
		escrow := h.heldEscrow(t, 5000)
		_, err := h.payouts.ReleaseEscrow(context.Background(), escrow.ID, "")
		assert.ErrorIs(t, err, domain.ErrNoPayoutDestination)
		assert.Zero(t, h.provider.payoutCount())
	})
}

func TestReleaseEscrow_RejectionKeepsEscrowHeld(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	escrow := h.heldEscrow(t, 5000)

	h.provider.payoutErr = &domain.ProviderError{
		Kind:    domain.ErrPayoutRejected,
		Code:    "2001",
		Message: "The initiator information is invalid.",
	}
	_, err := h.payouts.ReleaseEscrow(ctx, escrow.ID, "")
	assert.ErrorIs(t, err, domain.ErrPayoutRejected)

	current, err := h.repos.Escrows.GetByID(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusHeld, current.Status)

	var payouts []domain.Transaction
	for _, tx := range h.store.Transactions() {
		if tx.TransactionType == domain.TxTypePayout {
			payouts = append(payouts, tx)
		}
	}
	require.Len(t, payouts, 1)
	assert.Equal(t, domain.TxStatusFailed, payouts[0].Status)
	assert.Equal(t, "The initiator information is invalid.", payouts[0].Metadata[domain.MetaFailureReason])

	// a retry is allowed once the failed payout is closed
	h.provider.payoutErr = nil
	_, err = h.payouts.ReleaseEscrow(ctx, escrow.ID, "")
	require.NoError(t, err)
}

func TestReleaseEscrow_OnePayoutAtATime(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	escrow := h.heldEscrow(t, 5000)

	_, err := h.payouts.ReleaseEscrow(ctx, escrow.ID, "")
	require.NoError(t, err)

	_, err = h.payouts.ReleaseEscrow(ctx, escrow.ID, "")
	assert.ErrorIs(t, err, domain.ErrPayoutInProgress)
	assert.Equal(t, 1, h.provider.payoutCount())
}

func TestB2CResult_FailureKeepsEscrowHeld(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	escrow := h.heldEscrow(t, 5000)

	res, err := h.payouts.ReleaseEscrow(ctx, escrow.ID, "Milestone approved")
	require.NoError(t, err)

	require.NoError(t, h.callbacks.HandleB2CTimeout(ctx, b2cResult(testConversation, 1)))

	payout, err := h.repos.Transactions.GetByID(ctx, res.PayoutTransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusFailed, payout.Status)

	current, err := h.repos.Escrows.GetByID(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusHeld, current.Status)
	assert.Len(t, h.notificationsOfType(domain.NotifyPayoutFailed), 1)
}

func TestB2CResult_EscrowNoLongerHeldAlertsAdmins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	escrow := h.heldEscrow(t, 5000)

	res, err := h.payouts.ReleaseEscrow(ctx, escrow.ID, "")
	require.NoError(t, err)

	_, err = h.repos.Escrows.UpdateIf(ctx, escrow.ID, []domain.EscrowStatus{domain.EscrowStatusHeld}, domain.EscrowUpdate{
		Status: domain.EscrowStatusPtr(domain.EscrowStatusDisputed),
	})
	require.NoError(t, err)

	require.NoError(t, h.callbacks.HandleB2CResult(ctx, b2cResult(testConversation, 0)))

	payout, err := h.repos.Transactions.GetByID(ctx, res.PayoutTransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusCompleted, payout.Status)

	current, err := h.repos.Escrows.GetByID(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusDisputed, current.Status)

	var urgent int
	for _, n := range h.store.Notifications() {
		if n.Priority == domain.PriorityUrgent {
			urgent++
		}
	}
	assert.Equal(t, 1, urgent)
}

func TestB2CResult_LateSuccessAfterTimeoutFreezesEscrow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	escrow := h.heldEscrow(t, 5000)

	res, err := h.payouts.ReleaseEscrow(ctx, escrow.ID, "")
	require.NoError(t, err)

	// payouts have no status query, so the poll bound fails them
	for i := 0; i < DefaultPollMaxAttempts; i++ {
		_, err := h.poller.CheckStatus(ctx, &StatusRequest{TransactionID: res.PayoutTransactionID})
		require.NoError(t, err)
	}
	payout, err := h.repos.Transactions.GetByID(ctx, res.PayoutTransactionID)
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusFailed, payout.Status)
	assert.Equal(t, domain.FailureReasonTimeout, payout.Metadata[domain.MetaFailureReason])

	for i := 0; i < 2; i++ {
		require.NoError(t, h.callbacks.HandleB2CResult(ctx, b2cResult(testConversation, 0)))
	}

	payout, err = h.repos.Transactions.GetByID(ctx, res.PayoutTransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusFailed, payout.Status)
	late, ok := payout.Metadata[domain.MetaLateSuccess].(map[string]interface{})
	require.True(t, ok, "late result recorded in metadata")
	assert.Equal(t, "NLJ41HAY6Q", late["receipt_number"])

	current, err := h.repos.Escrows.GetByID(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusDisputed, current.Status)
	assert.Equal(t, domain.LatePayoutHoldReason, domain.Deref(current.HoldReason))

	notices := h.notificationsOfType(domain.NotifyPayoutLate)
	require.Len(t, notices, 1)
	assert.Equal(t, domain.PriorityUrgent, notices[0].Priority)

	// the money already went out: no second payout, no refund
	_, err = h.payouts.ReleaseEscrow(ctx, escrow.ID, "")
	assert.ErrorIs(t, err, domain.ErrEscrowNotHeld)
	assert.Equal(t, 1, h.provider.payoutCount())

	_, err = h.ledger.Refund(ctx, escrow.TransactionID, "")
	assert.ErrorIs(t, err, domain.ErrRefundNotAllowed)
}

func TestB2CResult_MatchedOnOriginatorID(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	escrow := h.heldEscrow(t, 5000)

	res, err := h.payouts.ReleaseEscrow(ctx, escrow.ID, "")
	require.NoError(t, err)

	payout, err := h.repos.Transactions.GetByID(ctx, res.PayoutTransactionID)
	require.NoError(t, err)
	reference := domain.Deref(payout.ReferenceNumber)
	assert.True(t, strings.HasPrefix(reference, "PO-"), reference)
	require.Len(t, h.provider.payouts, 1)
	assert.Equal(t, reference, h.provider.payouts[0].OriginatorConversationID)

	body := fmt.Sprintf(`{"Result":{"ResultCode":0,"ResultDesc":"ok","OriginatorConversationID":%q,"TransactionID":"NLJ41HAY6Q"}}`, reference)
	require.NoError(t, h.callbacks.HandleB2CResult(ctx, []byte(body)))

	payout, err = h.repos.Transactions.GetByID(ctx, res.PayoutTransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusCompleted, payout.Status)

	current, err := h.repos.Escrows.GetByID(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusReleased, current.Status)

	var matched bool
	for _, w := range h.store.Webhooks() {
		if w.WebhookType == domain.WebhookTypeB2CResult {
			matched = true
			assert.True(t, w.Processed)
			assert.Equal(t, payout.ID, domain.Deref(w.TransactionID))
			assert.Equal(t, reference, domain.Deref(w.ProviderTransactionID))
		}
	}
	assert.True(t, matched)
}
