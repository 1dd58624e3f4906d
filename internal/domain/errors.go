package domain

import (
	"errors"
	"fmt"
)

// Generic
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
)

// Validation
var (
	ErrInvalidAmount      = errors.New("amount must be greater than 0")
	ErrInvalidPhoneNumber = errors.New("invalid phone number")
	ErrProjectNotFound    = errors.New("project not found")
	ErrInvalidPolicy      = errors.New("no active commission policy")
	ErrMissingIdentifier  = errors.New("either transactionId or checkoutRequestId is required")
	ErrMissingSecrets     = errors.New("missing required secrets")
)

// Ledger
var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidTransition   = errors.New("invalid transaction status transition")
	ErrRefundNotAllowed    = errors.New("transaction cannot be refunded")
)

// Provider
var (
	ErrPaymentRejected     = errors.New("payment rejected by provider")
	ErrPayoutRejected      = errors.New("payout rejected by provider")
	ErrProviderUnavailable = errors.New("payment provider unavailable")
	ErrProviderNotReady    = errors.New("payment provider credentials not configured")
)

// Escrow
var (
	ErrEscrowNotFound        = errors.New("escrow holding not found")
	ErrEscrowNotHeld         = errors.New("escrow holding is not held")
	ErrNoPayoutDestination   = errors.New("no payout destination for escrow")
	ErrPayoutInProgress      = errors.New("a payout for this escrow is already processing")
	ErrEscrowRequiresPayment = errors.New("escrow can only be created from a payment transaction")
)

// Webhooks
var (
	ErrWebhookNotFound = errors.New("webhook not found")
)

// ProviderError carries the provider's own code and message for a rejected
// push or payout. It unwraps to the matching sentinel.
type ProviderError struct {
	Kind    error
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%v: %s (code %s)", e.Kind, e.Message, e.Code)
}

func (e *ProviderError) Unwrap() error {
	return e.Kind
}
