// internal/provider/mpesa/mpesa.go
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/RemisonBarawa/Freelance-App/config"
	"github.com/RemisonBarawa/Freelance-App/internal/domain"
	"github.com/RemisonBarawa/Freelance-App/internal/provider"

	"go.uber.org/zap"
)

// Callback routes served by this service. Configured callback base URLs are
// joined with these.
const (
	STKCallbackPath = "/api/v1/callbacks/mpesa/stk"
	B2CResultPath   = "/api/v1/callbacks/mpesa/b2c/result"
	B2CTimeoutPath  = "/api/v1/callbacks/mpesa/b2c/timeout"
)

const (
	timestampLayout = "20060102150405"
	providerName    = "mpesa"
)

// CredentialSource supplies gateway credentials per call so rotated secrets
// take effect without a restart.
type CredentialSource interface {
	Load(ctx context.Context) (config.MpesaCredentials, error)
}

type MpesaProvider struct {
	creds      CredentialSource
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
	logger     *zap.Logger
}

func NewMpesaProvider(cfg config.MpesaConfig, creds CredentialSource, logger *zap.Logger) *MpesaProvider {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &MpesaProvider{
		creds:      creds,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
		logger:     logger,
	}
}

func (m *MpesaProvider) GetName() string {
	return providerName
}

// APIError is a non-200 gateway response.
type APIError struct {
	StatusCode int
	RequestID  string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mpesa api error %d: %s %s", e.StatusCode, e.Code, e.Message)
}

// ============================================
// STK PUSH (Lipa Na M-Pesa Online)
// ============================================

type STKPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        Code   `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// InitiatePush acquires a fresh token and sends the signed push request. A
// non-zero response code comes back as a *domain.ProviderError wrapping
// domain.ErrPaymentRejected.
func (m *MpesaProvider) InitiatePush(ctx context.Context, req *provider.PushRequest) (*provider.PushResponse, error) {
	creds, err := m.loadCreds(ctx)
	if err != nil {
		return nil, err
	}
	if missing := creds.MissingForPush(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderNotReady, strings.Join(missing, ", "))
	}

	token, err := m.getAccessToken(ctx, creds)
	if err != nil {
		return nil, err
	}

	timestamp, password := m.password(creds)
	request := STKPushRequest{
		BusinessShortCode: creds.Shortcode,
		Password:          password,
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            wholeUnits(req.Amount),
		PartyA:            req.PhoneNumber,
		PartyB:            creds.Shortcode,
		PhoneNumber:       req.PhoneNumber,
		CallBackURL:       joinURL(creds.CallbackURL, STKCallbackPath),
		AccountReference:  req.AccountReference,
		TransactionDesc:   req.Description,
	}

	var response STKPushResponse
	if err := m.makeRequest(ctx, http.MethodPost, m.baseURL+"/mpesa/stkpush/v1/processrequest", token, request, &response); err != nil {
		return nil, rejection(domain.ErrPaymentRejected, err)
	}

	out := &provider.PushResponse{
		MerchantRequestID:   response.MerchantRequestID,
		CheckoutRequestID:   response.CheckoutRequestID,
		ResponseCode:        response.ResponseCode.String(),
		ResponseDescription: response.ResponseDescription,
		CustomerMessage:     response.CustomerMessage,
	}

	if !response.ResponseCode.IsZero() || response.CheckoutRequestID == "" {
		return out, &domain.ProviderError{
			Kind:    domain.ErrPaymentRejected,
			Code:    response.ResponseCode.String(),
			Message: firstNonEmpty(response.ResponseDescription, "STK Push failed"),
		}
	}

	return out, nil
}

type STKQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type STKQueryResponse struct {
	ResponseCode        Code   `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          Code   `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

// QueryPush queries a push by checkout request id. The gateway answers
// 500.001.1001 with an HTTP error while the payer has not acted yet; that
// comes back as a pending result, not an error.
func (m *MpesaProvider) QueryPush(ctx context.Context, checkoutRequestID string) (*provider.QueryResult, error) {
	creds, err := m.loadCreds(ctx)
	if err != nil {
		return nil, err
	}
	if missing := creds.MissingForPush(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderNotReady, strings.Join(missing, ", "))
	}

	token, err := m.getAccessToken(ctx, creds)
	if err != nil {
		return nil, err
	}

	timestamp, password := m.password(creds)
	request := STKQueryRequest{
		BusinessShortCode: creds.Shortcode,
		Password:          password,
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	var response STKQueryResponse
	err = m.makeRequest(ctx, http.MethodPost, m.baseURL+"/mpesa/stkpushquery/v1/query", token, request, &response)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && IsPending(apiErr.Code) {
			return &provider.QueryResult{
				CheckoutRequestID: checkoutRequestID,
				ResultCode:        apiErr.Code,
				ResultDesc:        apiErr.Message,
				Outcome:           provider.OutcomePending,
				Raw: map[string]interface{}{
					"errorCode":    apiErr.Code,
					"errorMessage": apiErr.Message,
				},
			}, nil
		}
		return nil, fmt.Errorf("%w: stk query: %v", domain.ErrProviderUnavailable, err)
	}

	resultCode := response.ResultCode.String()
	return &provider.QueryResult{
		CheckoutRequestID: checkoutRequestID,
		ResultCode:        resultCode,
		ResultDesc:        response.ResultDesc,
		Outcome:           Classify(resultCode),
		Raw: map[string]interface{}{
			"ResponseCode":        response.ResponseCode.String(),
			"ResponseDescription": response.ResponseDescription,
			"MerchantRequestID":   response.MerchantRequestID,
			"CheckoutRequestID":   response.CheckoutRequestID,
			"ResultCode":          resultCode,
			"ResultDesc":          response.ResultDesc,
		},
	}, nil
}

// ============================================
// B2C (Business to Customer)
// ============================================

type B2CRequest struct {
	OriginatorConversationID string `json:"OriginatorConversationID,omitempty"`
	InitiatorName            string `json:"InitiatorName"`
	SecurityCredential       string `json:"SecurityCredential"`
	CommandID                string `json:"CommandID"`
	Amount                   int64  `json:"Amount"`
	PartyA                   string `json:"PartyA"`
	PartyB                   string `json:"PartyB"`
	Remarks                  string `json:"Remarks"`
	QueueTimeOutURL          string `json:"QueueTimeOutURL"`
	ResultURL                string `json:"ResultURL"`
	Occasion                 string `json:"Occasion"`
}

type B2CResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             Code   `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

// InitiatePayout sends a BusinessPayment B2C request.
func (m *MpesaProvider) InitiatePayout(ctx context.Context, req *provider.PayoutRequest) (*provider.PayoutResponse, error) {
	creds, err := m.loadCreds(ctx)
	if err != nil {
		return nil, err
	}
	if missing := creds.MissingForPayout(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrProviderNotReady, strings.Join(missing, ", "))
	}

	token, err := m.getAccessToken(ctx, creds)
	if err != nil {
		return nil, err
	}

	resultURL := creds.ResultURL
	if resultURL == "" {
		resultURL = joinURL(creds.CallbackURL, B2CResultPath)
	}
	timeoutURL := creds.QueueTimeoutURL
	if timeoutURL == "" {
		timeoutURL = joinURL(creds.CallbackURL, B2CTimeoutPath)
	}

	request := B2CRequest{
		OriginatorConversationID: req.OriginatorConversationID,
		InitiatorName:            creds.InitiatorName,
		SecurityCredential:       creds.SecurityCredential,
		CommandID:                "BusinessPayment",
		Amount:                   wholeUnits(req.Amount),
		PartyA:                   creds.Shortcode,
		PartyB:                   req.PhoneNumber,
		Remarks:                  req.Remarks,
		QueueTimeOutURL:          timeoutURL,
		ResultURL:                resultURL,
		Occasion:                 req.Occasion,
	}

	var response B2CResponse
	if err := m.makeRequest(ctx, http.MethodPost, m.baseURL+"/mpesa/b2c/v1/paymentrequest", token, request, &response); err != nil {
		return nil, rejection(domain.ErrPayoutRejected, err)
	}

	out := &provider.PayoutResponse{
		ConversationID:           response.ConversationID,
		OriginatorConversationID: response.OriginatorConversationID,
		ResponseCode:             response.ResponseCode.String(),
		ResponseDescription:      response.ResponseDescription,
	}

	if !response.ResponseCode.IsZero() || response.ConversationID == "" {
		return out, &domain.ProviderError{
			Kind:    domain.ErrPayoutRejected,
			Code:    response.ResponseCode.String(),
			Message: firstNonEmpty(response.ResponseDescription, "B2C payment failed"),
		}
	}

	return out, nil
}

// ============================================
// SHARED HELPERS
// ============================================

func (m *MpesaProvider) loadCreds(ctx context.Context) (config.MpesaCredentials, error) {
	creds, err := m.creds.Load(ctx)
	if err != nil {
		return config.MpesaCredentials{}, fmt.Errorf("%w: %v", domain.ErrProviderNotReady, err)
	}
	return creds, nil
}

// password derives the short-lived STK password from shortcode, passkey and
// the request timestamp.
func (m *MpesaProvider) password(creds config.MpesaCredentials) (timestamp, password string) {
	timestamp = m.now().Format(timestampLayout)
	password = base64.StdEncoding.EncodeToString([]byte(creds.Shortcode + creds.Passkey + timestamp))
	return timestamp, password
}

// getAccessToken gets an OAuth token. Tokens are never reused across calls.
func (m *MpesaProvider) getAccessToken(ctx context.Context, creds config.MpesaCredentials) (string, error) {
	url := m.baseURL + "/oauth/v1/generate?grant_type=client_credentials"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	auth := base64.StdEncoding.EncodeToString([]byte(creds.ConsumerKey + ":" + creds.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+auth)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: token request: %v", domain.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: failed to get token: status %d: %s", domain.ErrProviderUnavailable, resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: failed to decode token: %v", domain.ErrProviderUnavailable, err)
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", domain.ErrProviderUnavailable)
	}

	return result.AccessToken, nil
}

// makeRequest posts payload and decodes a 200 body into out. Non-200 answers
// are returned as *APIError.
func (m *MpesaProvider) makeRequest(ctx context.Context, method, url, token string, payload, out interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	m.logger.Debug("mpesa response",
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(responseBody)))

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var body struct {
			RequestID    string `json:"requestId"`
			ErrorCode    Code   `json:"errorCode"`
			ErrorMessage string `json:"errorMessage"`
		}
		if json.Unmarshal(responseBody, &body) == nil {
			apiErr.RequestID = body.RequestID
			apiErr.Code = body.ErrorCode.String()
			apiErr.Message = firstNonEmpty(body.ErrorMessage, apiErr.Message)
		}
		return apiErr
	}

	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// rejection maps a request error: gateway answers become provider errors of
// kind, everything else is an availability failure.
func rejection(kind, err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &domain.ProviderError{Kind: kind, Code: apiErr.Code, Message: apiErr.Message}
	}
	return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
}

func joinURL(base, path string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, path) {
		return base
	}
	return base + path
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
