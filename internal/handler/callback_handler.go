// internal/handler/callback_handler.go
package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/RemisonBarawa/Freelance-App/internal/usecase"
	"github.com/RemisonBarawa/Freelance-App/pkg/response"

	"go.uber.org/zap"
)

// callbackAck is the body M-Pesa expects back from every callback URL.
type callbackAck struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

type CallbackHandler struct {
	callbackUC *usecase.CallbackUsecase
	logger     *zap.Logger
}

func NewCallbackHandler(callbackUC *usecase.CallbackUsecase, logger *zap.Logger) *CallbackHandler {
	return &CallbackHandler{
		callbackUC: callbackUC,
		logger:     logger,
	}
}

// HandleSTKCallback handles the M-Pesa STK push result.
func (h *CallbackHandler) HandleSTKCallback(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "stk", h.callbackUC.HandleSTKCallback)
}

// HandleB2CResult handles the M-Pesa B2C payout result.
func (h *CallbackHandler) HandleB2CResult(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "b2c_result", h.callbackUC.HandleB2CResult)
}

// HandleB2CTimeout handles the M-Pesa B2C queue timeout notice.
func (h *CallbackHandler) HandleB2CTimeout(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, "b2c_timeout", h.callbackUC.HandleB2CTimeout)
}

// handle always answers 200 so the provider does not retry. Processing runs
// inline: the payload is stored before reconciliation, so a slow or failed
// reconciliation can be replayed later.
func (h *CallbackHandler) handle(w http.ResponseWriter, r *http.Request, kind string, process func(context.Context, []byte) error) {
	h.logger.Info("received M-Pesa callback",
		zap.String("kind", kind),
		zap.String("remote_addr", r.RemoteAddr))

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.logger.Error("failed to read callback payload",
			zap.String("kind", kind),
			zap.Error(err))
		h.ack(w, 1, "Failed to read payload")
		return
	}

	if err := process(r.Context(), payload); err != nil {
		h.logger.Error("failed to record M-Pesa callback",
			zap.String("kind", kind),
			zap.Error(err))
		h.ack(w, 1, "Failed to record callback")
		return
	}

	h.ack(w, 0, "Accepted")
}

func (h *CallbackHandler) ack(w http.ResponseWriter, code int, desc string) {
	response.Raw(w, http.StatusOK, callbackAck{ResultCode: code, ResultDesc: desc})
}
