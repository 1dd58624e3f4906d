package usecase

import (
	"context"
	"testing"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignFreelancer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, escrow := h.settlePayment(t, 5000)

	n, err := h.escrows.AssignFreelancer(ctx, testProjectID, testFreelancerID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	current, err := h.escrows.GetEscrow(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, testFreelancerID, domain.Deref(current.FreelancerID))

	project, _ := h.store.Project(testProjectID)
	assert.Equal(t, domain.ProjectStatusInProgress, project.Status)
	assert.Equal(t, testFreelancerID, domain.Deref(project.AssignedTo))

	_, err = h.escrows.AssignFreelancer(ctx, testProjectID, "ghost")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = h.escrows.AssignFreelancer(ctx, "missing", testFreelancerID)
	assert.ErrorIs(t, err, domain.ErrProjectNotFound)
}

func TestOpenDispute(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	escrow := h.heldEscrow(t, 5000)

	disputed, err := h.escrows.OpenDispute(ctx, escrow.ID, "Work not delivered")
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusDisputed, disputed.Status)
	assert.Equal(t, "Work not delivered", domain.Deref(disputed.HoldReason))
	assert.Len(t, h.notificationsOfType(domain.NotifyEscrowDisputed), 2)

	// disputed funds cannot be paid out
	_, err = h.payouts.ReleaseEscrow(ctx, escrow.ID, "")
	assert.ErrorIs(t, err, domain.ErrEscrowNotHeld)

	_, err = h.escrows.OpenDispute(ctx, escrow.ID, "again")
	assert.ErrorIs(t, err, domain.ErrEscrowNotHeld)

	_, err = h.escrows.OpenDispute(ctx, "missing", "")
	assert.ErrorIs(t, err, domain.ErrEscrowNotFound)
}

func TestOpenDispute_RejectedWhilePayoutProcessing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	escrow := h.heldEscrow(t, 5000)

	_, err := h.payouts.ReleaseEscrow(ctx, escrow.ID, "")
	require.NoError(t, err)

	_, err = h.escrows.OpenDispute(ctx, escrow.ID, "too late")
	assert.ErrorIs(t, err, domain.ErrPayoutInProgress)

	current, err := h.escrows.GetEscrow(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusHeld, current.Status)
}

func TestRefund_RejectedWhilePayoutProcessing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	escrow := h.heldEscrow(t, 5000)

	res, err := h.payouts.ReleaseEscrow(ctx, escrow.ID, "")
	require.NoError(t, err)

	_, err = h.ledger.Refund(ctx, escrow.TransactionID, "Client changed their mind")
	assert.ErrorIs(t, err, domain.ErrPayoutInProgress)

	original, err := h.ledger.GetTransaction(ctx, escrow.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusCompleted, original.Status)
	for _, tx := range h.store.Transactions() {
		assert.NotEqual(t, domain.TxTypeRefund, tx.TransactionType)
	}

	// the payout result still releases the escrow normally
	require.NoError(t, h.callbacks.HandleB2CResult(ctx, b2cResult(testConversation, 0)))

	payout, err := h.repos.Transactions.GetByID(ctx, res.PayoutTransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusCompleted, payout.Status)

	current, err := h.escrows.GetEscrow(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusReleased, current.Status)
}

func TestRefund_HeldPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tx, escrow := h.settlePayment(t, 5000)

	refund, err := h.ledger.Refund(ctx, tx.ID, "Project cancelled")
	require.NoError(t, err)
	assert.Equal(t, domain.TxTypeRefund, refund.TransactionType)
	assert.Equal(t, domain.TxStatusCompleted, refund.Status)
	assert.True(t, refund.Amount.Equal(tx.Amount))
	assert.Equal(t, testClientID, domain.Deref(refund.RecipientID))
	assert.Equal(t, tx.ID, refund.Metadata[domain.MetaOriginalTxID])

	original, err := h.ledger.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusRefunded, original.Status)
	assert.Equal(t, refund.ID, original.Metadata[domain.MetaRefundTxID])

	current, err := h.escrows.GetEscrow(ctx, escrow.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusRefunded, current.Status)
	assert.Len(t, h.notificationsOfType(domain.NotifyPaymentRefunded), 1)

	_, err = h.ledger.Refund(ctx, tx.ID, "")
	assert.ErrorIs(t, err, domain.ErrRefundNotAllowed)
}

func TestRefund_NotAllowed(t *testing.T) {
	t.Run("processing payment", func(t *testing.T) {
		h := newHarness(t)
		txID := h.pay(t, 1000)
		_, err := h.ledger.Refund(context.Background(), txID, "")
		assert.ErrorIs(t, err, domain.ErrRefundNotAllowed)
	})

	t.Run("released escrow", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		escrow := h.heldEscrow(t, 5000)
		_, err := h.payouts.ReleaseEscrow(ctx, escrow.ID, "")
		require.NoError(t, err)
		require.NoError(t, h.callbacks.HandleB2CResult(ctx, b2cResult(testConversation, 0)))

		_, err = h.ledger.Refund(ctx, escrow.TransactionID, "")
		assert.ErrorIs(t, err, domain.ErrRefundNotAllowed)

		original, err := h.ledger.GetTransaction(ctx, escrow.TransactionID)
		require.NoError(t, err)
		assert.Equal(t, domain.TxStatusCompleted, original.Status)
	})

	t.Run("unknown transaction", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.ledger.Refund(context.Background(), "missing", "")
		assert.ErrorIs(t, err, domain.ErrTransactionNotFound)
	})
}
