package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"
	"github.com/RemisonBarawa/Freelance-App/internal/events"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitiatePayment_AcceptedGoesProcessing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.payments.InitiatePayment(ctx, &InitiatePaymentRequest{
		ProjectID:   testProjectID,
		PhoneNumber: "0708 374 149",
		Amount:      decimal.NewFromInt(5000),
	})
	require.NoError(t, err)
	assert.Equal(t, testCheckoutID, res.CheckoutRequestID)
	assert.Equal(t, testMerchantID, res.MerchantRequestID)

	tx, err := h.repos.Transactions.GetByID(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusProcessing, tx.Status)
	assert.Equal(t, domain.TxTypePayment, tx.TransactionType)
	assert.Equal(t, testCheckoutID, domain.Deref(tx.ProviderTransactionID))
	assert.True(t, strings.HasPrefix(domain.Deref(tx.ReferenceNumber), "PAY-"), domain.Deref(tx.ReferenceNumber))
	assert.Equal(t, testMerchantID, tx.Metadata[domain.MetaMerchantRequestID])
	assert.Equal(t, testClientID, domain.Deref(tx.PayerID))
	assert.Equal(t, "254708374149", domain.Deref(tx.PhoneNumber))
	assert.Equal(t, "Payment for project: Landing page", domain.Deref(tx.Description))

	commission, freelancer := tx.CommissionSplit()
	assert.True(t, commission.Equal(decimal.NewFromInt(500)), "commission %s", commission)
	assert.True(t, freelancer.Equal(decimal.NewFromInt(4500)), "freelancer %s", freelancer)
	assert.Equal(t, "pol-1", tx.Metadata[domain.MetaCommissionPolicyID])

	require.Len(t, h.provider.pushes, 1)
	assert.Equal(t, "PROJECT_"+testProjectID, h.provider.pushes[0].AccountReference)
	assert.Equal(t, "254708374149", h.provider.pushes[0].PhoneNumber)
}

func TestInitiatePayment_MinimumCommission(t *testing.T) {
	h := newHarness(t)

	txID := h.pay(t, 100)

	tx, err := h.repos.Transactions.GetByID(context.Background(), txID)
	require.NoError(t, err)
	commission, freelancer := tx.CommissionSplit()
	assert.True(t, commission.Equal(decimal.NewFromInt(50)), "commission %s", commission)
	assert.True(t, freelancer.Equal(decimal.NewFromInt(50)), "freelancer %s", freelancer)
}

func TestInitiatePayment_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  InitiatePaymentRequest
		want error
	}{
		{"zero amount", InitiatePaymentRequest{ProjectID: testProjectID, PhoneNumber: "0708374149"}, domain.ErrInvalidAmount},
		{"negative amount", InitiatePaymentRequest{ProjectID: testProjectID, PhoneNumber: "0708374149", Amount: decimal.NewFromInt(-5)}, domain.ErrInvalidAmount},
		{"bad phone", InitiatePaymentRequest{ProjectID: testProjectID, PhoneNumber: "12345", Amount: decimal.NewFromInt(100)}, domain.ErrInvalidPhoneNumber},
		{"unknown project", InitiatePaymentRequest{ProjectID: "nope", PhoneNumber: "0708374149", Amount: decimal.NewFromInt(100)}, domain.ErrProjectNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.payments.InitiatePayment(context.Background(), &tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, h.store.Transactions(), "no transaction may be written")
			assert.Empty(t, h.provider.pushes)
		})
	}
}

func TestInitiatePayment_ProviderRejectionFailsTransaction(t *testing.T) {
	h := newHarness(t)
	h.provider.pushErr = &domain.ProviderError{
		Kind:    domain.ErrPaymentRejected,
		Code:    "400.002.02",
		Message: "Bad Request - Invalid PhoneNumber",
	}

	_, err := h.payments.InitiatePayment(context.Background(), &InitiatePaymentRequest{
		ProjectID:   testProjectID,
		PhoneNumber: "0708374149",
		Amount:      decimal.NewFromInt(500),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPaymentRejected)

	var perr *domain.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "400.002.02", perr.Code)

	txs := h.store.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TxStatusFailed, txs[0].Status)
	assert.Equal(t, "Bad Request - Invalid PhoneNumber", txs[0].Metadata[domain.MetaFailureReason])
	assert.NotNil(t, txs[0].CompletedAt)
}

func TestInitiatePayment_TransportErrorIsRejection(t *testing.T) {
	h := newHarness(t)
	h.provider.pushErr = domain.ErrProviderUnavailable

	_, err := h.payments.InitiatePayment(context.Background(), &InitiatePaymentRequest{
		ProjectID:   testProjectID,
		PhoneNumber: "0708374149",
		Amount:      decimal.NewFromInt(500),
	})
	assert.ErrorIs(t, err, domain.ErrPaymentRejected)
	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)

	txs := h.store.Transactions()
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TxStatusFailed, txs[0].Status)
}

func TestInitiatePayment_PublishesLifecycleEvents(t *testing.T) {
	h := newHarness(t)

	rec := &recordingPublisher{}
	h.payments.publisher = events.Multi{h.hub, rec}

	h.pay(t, 1000)

	require.Len(t, rec.events, 2)
	assert.Equal(t, events.TypeTransactionCreated, rec.events[0].EventType)
	assert.Equal(t, events.TypeTransactionProcessing, rec.events[1].EventType)
	assert.Equal(t, "1000.00", rec.events[1].Amount)
}

func TestListProjectTransactions(t *testing.T) {
	h := newHarness(t)
	h.pay(t, 100)
	h.pay(t, 200)

	txs, err := h.payments.ListProjectTransactions(context.Background(), testProjectID)
	require.NoError(t, err)
	assert.Len(t, txs, 2)

	_, err = h.payments.ListProjectTransactions(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrProjectNotFound)
}

type recordingPublisher struct {
	events []*events.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev *events.Event) error {
	r.events = append(r.events, ev)
	return nil
}
