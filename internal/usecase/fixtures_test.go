package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/RemisonBarawa/Freelance-App/internal/commission"
	"github.com/RemisonBarawa/Freelance-App/internal/domain"
	"github.com/RemisonBarawa/Freelance-App/internal/events"
	"github.com/RemisonBarawa/Freelance-App/internal/provider"
	"github.com/RemisonBarawa/Freelance-App/internal/repository"
	"github.com/RemisonBarawa/Freelance-App/internal/repository/memory"
	"github.com/RemisonBarawa/Freelance-App/pkg/cache"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testProjectID    = "proj-1"
	testClientID     = "client-1"
	testFreelancerID = "free-1"
	testCheckoutID   = "ws_CO_191220191020363925"
	testMerchantID   = "29115-34620561-1"
	testConversation = "AG_20191219_00004e48cf7e3533f581"
)

type fakeProvider struct {
	mu sync.Mutex

	pushErr   error
	payoutErr error
	// query answers QueryPush; nil means pending.
	query func(checkoutRequestID string) (*provider.QueryResult, error)

	pushes  []*provider.PushRequest
	queries int
	payouts []*provider.PayoutRequest
}

func (f *fakeProvider) GetName() string { return "fake" }

func (f *fakeProvider) InitiatePush(_ context.Context, req *provider.PushRequest) (*provider.PushResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, req)
	if f.pushErr != nil {
		return nil, f.pushErr
	}
	return &provider.PushResponse{
		MerchantRequestID:   testMerchantID,
		CheckoutRequestID:   testCheckoutID,
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	}, nil
}

func (f *fakeProvider) QueryPush(_ context.Context, checkoutRequestID string) (*provider.QueryResult, error) {
	f.mu.Lock()
	f.queries++
	query := f.query
	f.mu.Unlock()

	if query != nil {
		return query(checkoutRequestID)
	}
	return &provider.QueryResult{
		CheckoutRequestID: checkoutRequestID,
		ResultCode:        "4999",
		ResultDesc:        "The transaction is still under processing",
		Outcome:           provider.OutcomePending,
	}, nil
}

func (f *fakeProvider) InitiatePayout(_ context.Context, req *provider.PayoutRequest) (*provider.PayoutResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payouts = append(f.payouts, req)
	if f.payoutErr != nil {
		return nil, f.payoutErr
	}
	return &provider.PayoutResponse{
		ConversationID:           testConversation,
		OriginatorConversationID: "10571-7910404-1",
		ResponseCode:             "0",
		ResponseDescription:      "Accept the service request successfully.",
	}, nil
}

func (f *fakeProvider) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

func (f *fakeProvider) payoutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payouts)
}

type harness struct {
	store    *memory.Store
	repos    *repository.Repositories
	provider *fakeProvider
	hub      *events.Hub

	settler   *Settler
	payments  *PaymentUsecase
	callbacks *CallbackUsecase
	poller    *StatusPoller
	payouts   *PayoutUsecase
	escrows   *EscrowUsecase
	ledger    *LedgerUsecase
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := memory.NewStore()
	store.PutProject(domain.Project{
		ID:          testProjectID,
		ClientID:    domain.StrPtr(testClientID),
		Title:       "Landing page",
		ProjectType: "web",
		Status:      domain.ProjectStatusPendingApproval,
	})
	store.PutProfile(domain.Profile{ID: testClientID, FullName: "Client", Role: "client"})
	store.PutProfile(domain.Profile{
		ID:          testFreelancerID,
		FullName:    "Freelancer",
		PhoneNumber: domain.StrPtr("0708374149"),
		Role:        "freelancer",
	})
	store.PutPolicy(domain.CommissionPolicy{
		ID:                "pol-1",
		CommissionType:    domain.CommissionTypePercentage,
		CommissionRate:    decimal.RequireFromString("0.10"),
		MinimumCommission: domain.DecimalPtr(decimal.NewFromInt(50)),
		IsActive:          true,
		EffectiveFrom:     time.Now().Add(-24 * time.Hour),
	})

	logger := zap.NewNop()
	repos := store.Repositories()
	fake := &fakeProvider{}
	hub := events.NewHub()
	notifier := NewNotifier(repos.Notifications, logger)
	resolver := commission.NewResolver(repos.Policies, cache.NewMemory(), time.Minute, logger)
	settler := NewSettler(repos, notifier, hub, domain.DefaultAutoReleaseDays, logger)

	return &harness{
		store:     store,
		repos:     repos,
		provider:  fake,
		hub:       hub,
		settler:   settler,
		payments:  NewPaymentUsecase(repos, resolver, fake, hub, "KES", time.Second, logger),
		callbacks: NewCallbackUsecase(repos, settler, logger),
		poller:    NewStatusPoller(repos, fake, settler, cache.NewMemory(), PollerConfig{}, logger),
		payouts:   NewPayoutUsecase(repos, fake, notifier, hub, time.Second, logger),
		escrows:   NewEscrowUsecase(repos, notifier, hub, logger),
		ledger:    NewLedgerUsecase(repos, notifier, hub, logger),
	}
}

// pay initiates a payment of amount and returns the transaction id.
func (h *harness) pay(t *testing.T, amount int64) string {
	t.Helper()
	res, err := h.payments.InitiatePayment(context.Background(), &InitiatePaymentRequest{
		ProjectID:   testProjectID,
		PhoneNumber: "0708374149",
		Amount:      decimal.NewFromInt(amount),
	})
	require.NoError(t, err)
	return res.TransactionID
}

// settlePayment runs a successful push callback for amount and returns the
// resulting escrow.
func (h *harness) settlePayment(t *testing.T, amount int64) (*domain.Transaction, *domain.EscrowHolding) {
	t.Helper()
	ctx := context.Background()

	txID := h.pay(t, amount)
	require.NoError(t, h.callbacks.HandleSTKCallback(ctx, stkCallback(testCheckoutID, 0, amount)))

	tx, err := h.repos.Transactions.GetByID(ctx, txID)
	require.NoError(t, err)
	escrow, err := h.repos.Escrows.GetByTransactionID(ctx, txID)
	require.NoError(t, err)
	return tx, escrow
}

// heldEscrow settles a payment and assigns the freelancer to its project.
func (h *harness) heldEscrow(t *testing.T, amount int64) *domain.EscrowHolding {
	t.Helper()
	_, escrow := h.settlePayment(t, amount)
	_, err := h.escrows.AssignFreelancer(context.Background(), testProjectID, testFreelancerID)
	require.NoError(t, err)
	escrow, err = h.repos.Escrows.GetByID(context.Background(), escrow.ID)
	require.NoError(t, err)
	return escrow
}

func (h *harness) notificationsOfType(kind string) []domain.Notification {
	var out []domain.Notification
	for _, n := range h.store.Notifications() {
		if n.NotificationType == kind {
			out = append(out, n)
		}
	}
	return out
}

func stkCallback(checkoutID string, resultCode int, amount int64) []byte {
	if resultCode != 0 {
		return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{
			"MerchantRequestID":%q,
			"CheckoutRequestID":%q,
			"ResultCode":%d,
			"ResultDesc":"Request cancelled by user"}}}`, testMerchantID, checkoutID, resultCode))
	}
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{
		"MerchantRequestID":%q,
		"CheckoutRequestID":%q,
		"ResultCode":0,
		"ResultDesc":"The service request is processed successfully.",
		"CallbackMetadata":{"Item":[
			{"Name":"Amount","Value":%d},
			{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},
			{"Name":"TransactionDate","Value":20191219102115},
			{"Name":"PhoneNumber","Value":254708374149}]}}}}`, testMerchantID, checkoutID, amount))
}

func b2cResult(conversationID string, resultCode int) []byte {
	return []byte(fmt.Sprintf(`{"Result":{
		"ResultType":0,
		"ResultCode":%d,
		"ResultDesc":"The service request is processed successfully.",
		"OriginatorConversationID":"10571-7910404-1",
		"ConversationID":%q,
		"TransactionID":"NLJ41HAY6Q",
		"ResultParameters":{"ResultParameter":[
			{"Key":"TransactionReceipt","Value":"NLJ41HAY6Q"},
			{"Key":"ReceiverPartyPublicName","Value":"254708374149 - Jane Doe"}]}}}`, resultCode, conversationID))
}
