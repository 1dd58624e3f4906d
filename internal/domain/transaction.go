// internal/domain/transaction.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string
type TransactionType string
type PaymentMethod string

const (
	TxStatusPending    TransactionStatus = "pending"
	TxStatusProcessing TransactionStatus = "processing"
	TxStatusCompleted  TransactionStatus = "completed"
	TxStatusFailed     TransactionStatus = "failed"
	TxStatusCancelled  TransactionStatus = "cancelled"
	TxStatusRefunded   TransactionStatus = "refunded"
)

const (
	TxTypePayment    TransactionType = "payment"
	TxTypePayout     TransactionType = "payout"
	TxTypeCommission TransactionType = "commission"
	TxTypeRefund     TransactionType = "refund"
	TxTypePenalty    TransactionType = "penalty"
)

const (
	PaymentMethodMpesaSTK        PaymentMethod = "mpesa_stk"
	PaymentMethodMpesaPaybill    PaymentMethod = "mpesa_paybill"
	PaymentMethodMpesaTillNumber PaymentMethod = "mpesa_tillnumber"
)

// DefaultCurrency is the only currency the mobile-money leg settles in.
const DefaultCurrency = "KES"

// Metadata keys written by the settlement flow.
const (
	MetaCommissionRate     = "commission_rate"
	MetaCommissionPolicyID = "commission_policy_id"
	MetaPlatformCommission = "platform_commission"
	MetaFreelancerAmount   = "freelancer_amount"
	MetaCheckoutRequestID  = "checkout_request_id"
	MetaMerchantRequestID  = "merchant_request_id"
	MetaConversationID     = "conversation_id"
	MetaOriginatorConvID   = "originator_conversation_id"
	MetaFailureReason      = "failure_reason"
	MetaError              = "error"
	MetaEscrowID           = "escrow_id"
	MetaReleaseReason      = "release_reason"
	MetaCallbackResult     = "callback_result"
	MetaQueryResult        = "stk_query_result"
	MetaAmountPaid         = "amount_paid"
	MetaTransactionDate    = "transaction_date"
	MetaPhoneNumber        = "phone_number"
	MetaOriginalTxID       = "original_transaction_id"
	MetaRefundReason       = "refund_reason"
	MetaRefundTxID         = "refund_transaction_id"
	MetaLateSuccess        = "late_success"
)

// FailureReasonTimeout marks transactions failed by the status poller bound.
const FailureReasonTimeout = "timeout"

// Transaction is one money movement on the ledger.
type Transaction struct {
	ID              string            `json:"id" db:"id"`
	ProjectID       string            `json:"project_id" db:"project_id"`
	PayerID         *string           `json:"payer_id,omitempty" db:"payer_id"`
	RecipientID     *string           `json:"recipient_id,omitempty" db:"recipient_id"`
	TransactionType TransactionType   `json:"transaction_type" db:"transaction_type"`
	PaymentMethod   PaymentMethod     `json:"payment_method" db:"payment_method"`
	Amount          decimal.Decimal   `json:"amount" db:"amount"`
	Currency        string            `json:"currency" db:"currency"`
	Status          TransactionStatus `json:"status" db:"status"`
	PhoneNumber     *string           `json:"phone_number,omitempty" db:"phone_number"`
	Description     *string           `json:"description,omitempty" db:"description"`

	ProviderTransactionID *string `json:"provider_transaction_id,omitempty" db:"provider_transaction_id"`
	ReferenceNumber       *string `json:"reference_number,omitempty" db:"reference_number"`
	ReceiptNumber         *string `json:"receipt_number,omitempty" db:"receipt_number"`

	Metadata Metadata `json:"metadata,omitempty" db:"metadata"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// TransactionUpdate is the set of fields a guarded update may write.
// Nil fields are left untouched; MetadataPatch is merged into the existing map.
type TransactionUpdate struct {
	Status                *TransactionStatus
	ProviderTransactionID *string
	ReferenceNumber       *string
	ReceiptNumber         *string
	MetadataPatch         Metadata
	CompletedAt           *time.Time
}

// IsTerminal reports whether no provider-driven transition can leave s.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TxStatusCompleted, TxStatusFailed, TxStatusCancelled, TxStatusRefunded:
		return true
	}
	return false
}

func (s TransactionStatus) Valid() bool {
	switch s {
	case TxStatusPending, TxStatusProcessing, TxStatusCompleted,
		TxStatusFailed, TxStatusCancelled, TxStatusRefunded:
		return true
	}
	return false
}

func (t TransactionType) Valid() bool {
	switch t {
	case TxTypePayment, TxTypePayout, TxTypeCommission, TxTypeRefund, TxTypePenalty:
		return true
	}
	return false
}

var transitions = map[TransactionStatus][]TransactionStatus{
	TxStatusPending:    {TxStatusProcessing, TxStatusFailed},
	TxStatusProcessing: {TxStatusCompleted, TxStatusFailed, TxStatusCancelled},
	// refund is the only exit from a terminal state and always creates a
	// separate refund transaction.
	TxStatusCompleted: {TxStatusRefunded},
	TxStatusFailed:    {TxStatusRefunded},
	TxStatusCancelled: {TxStatusRefunded},
}

// CanTransition reports whether the ledger state machine allows from -> to.
func CanTransition(from, to TransactionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SettleableStatuses are the states a provider outcome may finalize.
// pending is included because a fast callback can land before the
// initiator records the processing flip.
var SettleableStatuses = []TransactionStatus{TxStatusPending, TxStatusProcessing}

// CommissionSplit returns the commission breakdown recorded at initiation.
func (t *Transaction) CommissionSplit() (commission, freelancer decimal.Decimal) {
	commission, _ = t.Metadata.Decimal(MetaPlatformCommission)
	freelancer, ok := t.Metadata.Decimal(MetaFreelancerAmount)
	if !ok {
		freelancer = t.Amount.Sub(commission)
	}
	return commission, freelancer
}

func StatusPtr(s TransactionStatus) *TransactionStatus {
	return &s
}

func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func TimePtr(t time.Time) *time.Time {
	return &t
}

func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
