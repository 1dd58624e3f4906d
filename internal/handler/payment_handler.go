// internal/handler/payment_handler.go
package handler

import (
	"net/http"

	"github.com/RemisonBarawa/Freelance-App/internal/usecase"
	"github.com/RemisonBarawa/Freelance-App/pkg/response"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	paymentUC *usecase.PaymentUsecase
	poller    *usecase.StatusPoller
	ledgerUC  *usecase.LedgerUsecase
	logger    *zap.Logger
}

func NewPaymentHandler(
	paymentUC *usecase.PaymentUsecase,
	poller *usecase.StatusPoller,
	ledgerUC *usecase.LedgerUsecase,
	logger *zap.Logger,
) *PaymentHandler {
	return &PaymentHandler{
		paymentUC: paymentUC,
		poller:    poller,
		ledgerUC:  ledgerUC,
		logger:    logger,
	}
}

// InitiatePayment sends an STK push for a project deposit.
func (h *PaymentHandler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req usecase.InitiatePaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.paymentUC.InitiatePayment(r.Context(), &req)
	if err != nil {
		h.logger.Warn("payment initiation failed",
			zap.String("project_id", req.ProjectID),
			zap.Error(err))
		writeError(w, r, h.logger, err)
		return
	}

	response.Message(w, http.StatusOK, "Payment prompt sent. Complete it on your phone.", result)
}

// CheckStatus reconciles a processing payment against the provider and
// returns its current state.
func (h *PaymentHandler) CheckStatus(w http.ResponseWriter, r *http.Request) {
	var req usecase.StatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	result, err := h.poller.CheckStatus(r.Context(), &req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, result)
}

func (h *PaymentHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.ledgerUC.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, tx)
}

func (h *PaymentHandler) ListProjectTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.paymentUC.ListProjectTransactions(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, txs)
}
