// internal/handler/admin_handler.go
package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"
	"github.com/RemisonBarawa/Freelance-App/internal/usecase"
	"github.com/RemisonBarawa/Freelance-App/pkg/response"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	defaultSweepAge   = 10 * time.Minute
	defaultSweepLimit = 100
)

type AdminHandler struct {
	secretsUC  *usecase.SecretsUsecase
	callbackUC *usecase.CallbackUsecase
	poller     *usecase.StatusPoller
	logger     *zap.Logger
}

func NewAdminHandler(
	secretsUC *usecase.SecretsUsecase,
	callbackUC *usecase.CallbackUsecase,
	poller *usecase.StatusPoller,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		secretsUC:  secretsUC,
		callbackUC: callbackUC,
		poller:     poller,
		logger:     logger,
	}
}

func (h *AdminHandler) GetSecrets(w http.ResponseWriter, r *http.Request) {
	secrets, err := h.secretsUC.GetMasked(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, secrets)
}

func (h *AdminHandler) UpdateSecrets(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if err := decodeJSON(w, r, &values); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	updated, err := h.secretsUC.Update(r.Context(), values)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.Message(w, http.StatusOK, "M-Pesa configuration updated", map[string]interface{}{
		"updatedKeys": updated,
	})
}

func (h *AdminHandler) ReplayWebhook(w http.ResponseWriter, r *http.Request) {
	webhook, err := h.callbackUC.ReplayWebhook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, webhook)
}

// SweepStale reconciles processing transactions older than ?olderThan
// (a Go duration, default 10m), at most ?limit of them.
func (h *AdminHandler) SweepStale(w http.ResponseWriter, r *http.Request) {
	olderThan := defaultSweepAge
	if v := r.URL.Query().Get("olderThan"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, r, h.logger, domain.ErrInvalidRequest)
			return
		}
		olderThan = d
	}

	limit := defaultSweepLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, r, h.logger, domain.ErrInvalidRequest)
			return
		}
		limit = n
	}

	report, err := h.poller.SweepStale(r.Context(), olderThan, limit)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	response.JSON(w, http.StatusOK, report)
}
