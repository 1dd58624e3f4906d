// internal/handler/escrow_handler.go
package handler

import (
	"net/http"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"
	"github.com/RemisonBarawa/Freelance-App/internal/usecase"
	"github.com/RemisonBarawa/Freelance-App/pkg/response"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type reasonRequest struct {
	Reason string `json:"reason"`
}

type assignRequest struct {
	FreelancerID string `json:"freelancerId"`
}

type EscrowHandler struct {
	payoutUC *usecase.PayoutUsecase
	escrowUC *usecase.EscrowUsecase
	ledgerUC *usecase.LedgerUsecase
	logger   *zap.Logger
}

func NewEscrowHandler(
	payoutUC *usecase.PayoutUsecase,
	escrowUC *usecase.EscrowUsecase,
	ledgerUC *usecase.LedgerUsecase,
	logger *zap.Logger,
) *EscrowHandler {
	return &EscrowHandler{
		payoutUC: payoutUC,
		escrowUC: escrowUC,
		ledgerUC: ledgerUC,
		logger:   logger,
	}
}

func (h *EscrowHandler) GetEscrow(w http.ResponseWriter, r *http.Request) {
	escrow, err := h.escrowUC.GetEscrow(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, escrow)
}

func (h *EscrowHandler) ListProjectEscrows(w http.ResponseWriter, r *http.Request) {
	escrows, err := h.escrowUC.ListProjectEscrows(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, escrows)
}

// ReleaseEscrow starts the payout to the assigned freelancer. The body is
// optional.
func (h *EscrowHandler) ReleaseEscrow(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}

	escrowID := chi.URLParam(r, "id")
	result, err := h.payoutUC.ReleaseEscrow(r.Context(), escrowID, req.Reason)
	if err != nil {
		h.logger.Warn("escrow release failed",
			zap.String("escrow_id", escrowID),
			zap.Error(err))
		writeError(w, r, h.logger, err)
		return
	}

	response.Message(w, http.StatusOK, "Payout initiated", result)
}

func (h *EscrowHandler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}

	escrow, err := h.escrowUC.OpenDispute(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.Message(w, http.StatusOK, "Dispute opened", escrow)
}

func (h *EscrowHandler) RefundTransaction(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}

	refund, err := h.ledgerUC.Refund(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.Message(w, http.StatusOK, "Payment refunded", refund)
}

func (h *EscrowHandler) AssignFreelancer(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if req.FreelancerID == "" {
		writeError(w, r, h.logger, domain.ErrInvalidRequest)
		return
	}

	projectID := chi.URLParam(r, "projectID")
	updated, err := h.escrowUC.AssignFreelancer(r.Context(), projectID, req.FreelancerID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{
		"projectId":      projectID,
		"freelancerId":   req.FreelancerID,
		"escrowsUpdated": updated,
	})
}
