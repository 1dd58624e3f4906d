package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/RemisonBarawa/Freelance-App/config"
	"github.com/RemisonBarawa/Freelance-App/internal/commission"
	"github.com/RemisonBarawa/Freelance-App/internal/domain"
	"github.com/RemisonBarawa/Freelance-App/internal/events"
	"github.com/RemisonBarawa/Freelance-App/internal/handler"
	"github.com/RemisonBarawa/Freelance-App/internal/middleware"
	"github.com/RemisonBarawa/Freelance-App/internal/provider"
	"github.com/RemisonBarawa/Freelance-App/internal/repository/memory"
	"github.com/RemisonBarawa/Freelance-App/internal/usecase"
	"github.com/RemisonBarawa/Freelance-App/pkg/cache"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	jwtSecret    = "router-test-secret"
	projectID    = "proj-1"
	clientID     = "client-1"
	freelancerID = "free-1"
	checkoutID   = "ws_CO_191220191020363925"
	conversation = "AG_20191219_00004e48cf7e3533f581"
)

type stubProvider struct{}

func (stubProvider) GetName() string { return "stub" }

func (stubProvider) InitiatePush(context.Context, *provider.PushRequest) (*provider.PushResponse, error) {
	return &provider.PushResponse{
		MerchantRequestID: "29115-34620561-1",
		CheckoutRequestID: checkoutID,
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

func (stubProvider) QueryPush(_ context.Context, id string) (*provider.QueryResult, error) {
	return &provider.QueryResult{CheckoutRequestID: id, ResultCode: "4999", Outcome: provider.OutcomePending}, nil
}

func (stubProvider) InitiatePayout(context.Context, *provider.PayoutRequest) (*provider.PayoutResponse, error) {
	return &provider.PayoutResponse{
		ConversationID:           conversation,
		OriginatorConversationID: "10571-7910404-1",
		ResponseCode:             "0",
	}, nil
}

type testServer struct {
	handler http.Handler
	store   *memory.Store
}

func newTestServer(t *testing.T, rateLimit int) *testServer {
	t.Helper()

	store := memory.NewStore()
	store.PutProject(domain.Project{
		ID:          projectID,
		ClientID:    domain.StrPtr(clientID),
		Title:       "Landing page",
		ProjectType: "web",
		Status:      domain.ProjectStatusPendingApproval,
	})
	store.PutProfile(domain.Profile{ID: clientID, FullName: "Client", Role: "client"})
	store.PutProfile(domain.Profile{ID: freelancerID, FullName: "Freelancer", PhoneNumber: domain.StrPtr("0708374149"), Role: "freelancer"})
	store.PutPolicy(domain.CommissionPolicy{
		ID:             "pol-1",
		CommissionType: domain.CommissionTypePercentage,
		CommissionRate: decimal.RequireFromString("0.10"),
		IsActive:       true,
		EffectiveFrom:  time.Now().Add(-time.Hour),
	})

	logger := zap.NewNop()
	repos := store.Repositories()
	hub := events.NewHub()
	counter := cache.NewMemory()
	notifier := usecase.NewNotifier(repos.Notifications, logger)
	resolver := commission.NewResolver(repos.Policies, counter, time.Minute, logger)
	settler := usecase.NewSettler(repos, notifier, hub, domain.DefaultAutoReleaseDays, logger)
	secrets := config.NewMemorySecretStore(map[string]string{
		config.SecretConsumerKey: "abcdefghijklmnop",
		config.SecretShortcode:   "174379",
	})

	paymentUC := usecase.NewPaymentUsecase(repos, resolver, stubProvider{}, hub, "KES", time.Second, logger)
	callbackUC := usecase.NewCallbackUsecase(repos, settler, logger)
	poller := usecase.NewStatusPoller(repos, stubProvider{}, settler, counter, usecase.PollerConfig{}, logger)
	payoutUC := usecase.NewPayoutUsecase(repos, stubProvider{}, notifier, hub, time.Second, logger)
	escrowUC := usecase.NewEscrowUsecase(repos, notifier, hub, logger)
	ledgerUC := usecase.NewLedgerUsecase(repos, notifier, hub, logger)
	secretsUC := usecase.NewSecretsUsecase(secrets, notifier, logger)

	h := Handlers{
		Payment:  handler.NewPaymentHandler(paymentUC, poller, ledgerUC, logger),
		Callback: handler.NewCallbackHandler(callbackUC, logger),
		Escrow:   handler.NewEscrowHandler(payoutUC, escrowUC, ledgerUC, logger),
		Admin:    handler.NewAdminHandler(secretsUC, callbackUC, poller, logger),
		Stream:   handler.NewTransactionStreamHandler(hub, ledgerUC, []string{"*"}, logger),
	}
	auth := middleware.NewAuthMiddleware(middleware.NewHMACVerifier(jwtSecret, ""), logger)

	return &testServer{
		handler: SetupRoutes(h, auth, counter, config.ServerConfig{
			RequestTimeout: 5 * time.Second,
			AllowedOrigins: []string{"*"},
			RateLimit:      rateLimit,
			RateWindow:     time.Minute,
		}, logger),
		store: store,
	}
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return signed
}

type envelope struct {
	Success bool            `json:"success"`
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case []byte:
			buf.Write(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &env)
	}
	return rec, env
}

func (s *testServer) initiate(t *testing.T, amount int) string {
	t.Helper()
	rec, env := s.do(t, http.MethodPost, "/api/v1/payments/initiate", token(t, clientID, "client"), map[string]interface{}{
		"projectId":   projectID,
		"phoneNumber": "0708374149",
		"amount":      amount,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result usecase.InitiatePaymentResult
	require.NoError(t, json.Unmarshal(env.Data, &result))
	require.NotEmpty(t, result.TransactionID)
	assert.Equal(t, checkoutID, result.CheckoutRequestID)
	return result.TransactionID
}

func stkSuccess(amount int) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{
		"MerchantRequestID":"29115-34620561-1",
		"CheckoutRequestID":%q,
		"ResultCode":0,
		"ResultDesc":"The service request is processed successfully.",
		"CallbackMetadata":{"Item":[
			{"Name":"Amount","Value":%d},
			{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},
			{"Name":"TransactionDate","Value":20191219102115},
			{"Name":"PhoneNumber","Value":254708374149}]}}}}`, checkoutID, amount))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 100)

	rec, _ := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestPaymentsRequireToken(t *testing.T) {
	s := newTestServer(t, 100)

	rec, env := s.do(t, http.MethodPost, "/api/v1/payments/initiate", "", map[string]interface{}{"projectId": projectID})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, env.Success)
	assert.Equal(t, "No token provided", env.Error)

	rec, env = s.do(t, http.MethodPost, "/api/v1/payments/initiate", "not-a-jwt", map[string]interface{}{"projectId": projectID})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid or expired token", env.Error)
}

func TestInitiateValidationErrors(t *testing.T) {
	s := newTestServer(t, 100)
	bearer := token(t, clientID, "client")

	tests := []struct {
		name   string
		body   interface{}
		status int
	}{
		{"zero amount", map[string]interface{}{"projectId": projectID, "phoneNumber": "0708374149", "amount": 0}, http.StatusBadRequest},
		{"bad phone", map[string]interface{}{"projectId": projectID, "phoneNumber": "12", "amount": 100}, http.StatusBadRequest},
		{"unknown project", map[string]interface{}{"projectId": "nope", "phoneNumber": "0708374149", "amount": 100}, http.StatusNotFound},
		{"malformed body", []byte(`{"projectId":`), http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := s.do(t, http.MethodPost, "/api/v1/payments/initiate", bearer, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.False(t, env.Success)
			assert.NotEmpty(t, env.Error)
		})
	}
}

func TestPaymentSettlesThroughCallback(t *testing.T) {
	s := newTestServer(t, 100)
	bearer := token(t, clientID, "client")

	txID := s.initiate(t, 5000)

	rec, _ := s.do(t, http.MethodPost, "/api/v1/callbacks/mpesa/stk", "", stkSuccess(5000))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, rec.Body.String())

	rec, env := s.do(t, http.MethodPost, "/api/v1/payments/status", bearer, map[string]string{"transactionId": txID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var status usecase.StatusResult
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.Equal(t, domain.TxStatusCompleted, status.Transaction.Status)
	require.NotNil(t, status.Escrow)
	assert.Equal(t, domain.EscrowStatusHeld, status.Escrow.Status)
	assert.True(t, status.Escrow.FreelancerAmount.Equal(decimal.NewFromInt(4500)))

	rec, env = s.do(t, http.MethodGet, "/api/v1/projects/"+projectID+"/transactions", bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var txs []domain.Transaction
	require.NoError(t, json.Unmarshal(env.Data, &txs))
	assert.Len(t, txs, 1)
}

func TestCallbackAcknowledgesGarbage(t *testing.T) {
	s := newTestServer(t, 100)

	rec, _ := s.do(t, http.MethodPost, "/api/v1/callbacks/mpesa/b2c/result", "", []byte("not json"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ResultCode":0,"ResultDesc":"Accepted"}`, rec.Body.String())
	assert.Len(t, s.store.Webhooks(), 1)
}

func TestStatusRequiresIdentifier(t *testing.T) {
	s := newTestServer(t, 100)

	rec, env := s.do(t, http.MethodPost, "/api/v1/payments/status", token(t, clientID, "client"), map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.ErrMissingIdentifier.Error(), env.Error)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	s := newTestServer(t, 100)

	rec, env := s.do(t, http.MethodGet, "/api/v1/admin/mpesa/secrets", token(t, clientID, "client"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Insufficient permissions", env.Error)

	rec, env = s.do(t, http.MethodGet, "/api/v1/admin/mpesa/secrets", token(t, "admin-1", RoleAdmin), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var secrets map[string]string
	require.NoError(t, json.Unmarshal(env.Data, &secrets))
	assert.Equal(t, "abcd****mnop", secrets[config.SecretConsumerKey])
	assert.Equal(t, "174379", secrets[config.SecretShortcode])
}

func TestUpdateSecretsRejectsMissingRequired(t *testing.T) {
	s := newTestServer(t, 100)

	rec, env := s.do(t, http.MethodPut, "/api/v1/admin/mpesa/secrets", token(t, "admin-1", RoleAdmin), map[string]string{
		config.SecretConsumerKey: "key",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Error, config.SecretPasskey)
}

func TestEscrowReleaseFlow(t *testing.T) {
	s := newTestServer(t, 100)
	admin := token(t, "admin-1", RoleAdmin)

	txID := s.initiate(t, 5000)
	rec, _ := s.do(t, http.MethodPost, "/api/v1/callbacks/mpesa/stk", "", stkSuccess(5000))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := s.do(t, http.MethodGet, "/api/v1/projects/"+projectID+"/escrows", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var escrows []domain.EscrowHolding
	require.NoError(t, json.Unmarshal(env.Data, &escrows))
	require.Len(t, escrows, 1)
	escrowID := escrows[0].ID
	assert.Equal(t, txID, escrows[0].TransactionID)

	// nobody assigned yet
	rec, _ = s.do(t, http.MethodPost, "/api/v1/escrow/"+escrowID+"/release", admin, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec, _ = s.do(t, http.MethodPost, "/api/v1/projects/"+projectID+"/assign", admin, map[string]string{"freelancerId": freelancerID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env = s.do(t, http.MethodPost, "/api/v1/escrow/"+escrowID+"/release", admin, map[string]string{"reason": "Delivered"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var release usecase.ReleaseEscrowResult
	require.NoError(t, json.Unmarshal(env.Data, &release))
	assert.Equal(t, conversation, release.ConversationID)
	assert.True(t, release.Amount.Equal(decimal.NewFromInt(4500)))

	rec, _ = s.do(t, http.MethodPost, "/api/v1/escrow/"+escrowID+"/release", admin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReleaseRequiresAdmin(t *testing.T) {
	s := newTestServer(t, 100)

	rec, _ := s.do(t, http.MethodPost, "/api/v1/escrow/esc-1/release", token(t, clientID, "client"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimitOnPayments(t *testing.T) {
	s := newTestServer(t, 2)
	bearer := token(t, clientID, "client")
	body := map[string]string{"transactionId": "missing"}

	for i := 0; i < 2; i++ {
		rec, _ := s.do(t, http.MethodPost, "/api/v1/payments/status", bearer, body)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	rec, _ := s.do(t, http.MethodPost, "/api/v1/payments/status", bearer, body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestReplayUnknownWebhook(t *testing.T) {
	s := newTestServer(t, 100)

	rec, _ := s.do(t, http.MethodPost, "/api/v1/admin/webhooks/missing/replay", token(t, "admin-1", RoleAdmin), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReconcileRejectsBadDuration(t *testing.T) {
	s := newTestServer(t, 100)

	rec, _ := s.do(t, http.MethodPost, "/api/v1/admin/reconcile?olderThan=soon", token(t, "admin-1", RoleAdmin), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env := s.do(t, http.MethodPost, "/api/v1/admin/reconcile?olderThan=1m&limit=5", token(t, "admin-1", RoleAdmin), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report usecase.SweepReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Zero(t, report.Checked)
}

func TestTransactionStream(t *testing.T) {
	s := newTestServer(t, 100)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	txID := s.initiate(t, 5000)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/transactions/" + txID + "?token=" + token(t, clientID, "client")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var snapshot struct {
		Type string             `json:"type"`
		Data domain.Transaction `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, "snapshot", snapshot.Type)
	assert.Equal(t, domain.TxStatusProcessing, snapshot.Data.Status)

	rec, _ := s.do(t, http.MethodPost, "/api/v1/callbacks/mpesa/stk", "", stkSuccess(5000))
	require.Equal(t, http.StatusOK, rec.Code)

	var frame struct {
		Type  string       `json:"type"`
		Event events.Event `json:"event"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "event", frame.Type)
	assert.Equal(t, events.TypeTransactionCompleted, frame.Event.EventType)
	assert.Equal(t, txID, frame.Event.TransactionID)

	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, events.TypeEscrowHeld, frame.Event.EventType)
}

func TestTransactionStreamUnknownTransaction(t *testing.T) {
	s := newTestServer(t, 100)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws/transactions/missing?token=" + token(t, clientID, "client")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
