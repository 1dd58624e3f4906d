package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"
	"github.com/RemisonBarawa/Freelance-App/pkg/response"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// statusFor maps a domain error onto its HTTP status. Unknown errors are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidPhoneNumber),
		errors.Is(err, domain.ErrMissingIdentifier),
		errors.Is(err, domain.ErrMissingSecrets),
		errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrProjectNotFound),
		errors.Is(err, domain.ErrTransactionNotFound),
		errors.Is(err, domain.ErrEscrowNotFound),
		errors.Is(err, domain.ErrWebhookNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEscrowNotHeld),
		errors.Is(err, domain.ErrPayoutInProgress),
		errors.Is(err, domain.ErrRefundNotAllowed),
		errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoPayoutDestination),
		errors.Is(err, domain.ErrInvalidPolicy):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrProviderUnavailable),
		errors.Is(err, domain.ErrProviderNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrPaymentRejected),
		errors.Is(err, domain.ErrPayoutRejected):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeError answers with the mapped status. Provider rejections carry the
// provider's own message; internal errors are logged and hidden.
func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status := statusFor(err)

	msg := err.Error()
	var perr *domain.ProviderError
	if errors.As(err, &perr) && perr.Message != "" {
		msg = perr.Message
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		msg = "Internal server error"
	}

	response.Error(w, status, msg)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return domain.ErrInvalidRequest
	}
	return nil
}
