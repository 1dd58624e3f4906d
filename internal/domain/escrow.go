// internal/domain/escrow.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type EscrowStatus string

const (
	EscrowStatusHeld     EscrowStatus = "held"
	EscrowStatusReleased EscrowStatus = "released"
	EscrowStatusDisputed EscrowStatus = "disputed"
	EscrowStatusRefunded EscrowStatus = "refunded"
)

const (
	DefaultAutoReleaseDays = 30
	DefaultHoldReason      = "Payment received, awaiting project completion"
	DefaultReleaseReason   = "Project completed successfully"
	LatePayoutHoldReason   = "Payout confirmed by M-Pesa after it was marked failed"
)

// EscrowHolding is the funds held against one project, one-to-one with the
// payment transaction that funded it.
type EscrowHolding struct {
	ID                 string          `json:"id" db:"id"`
	TransactionID      string          `json:"transaction_id" db:"transaction_id"`
	ProjectID          string          `json:"project_id" db:"project_id"`
	ClientID           string          `json:"client_id" db:"client_id"`
	FreelancerID       *string         `json:"freelancer_id,omitempty" db:"freelancer_id"`
	HeldAmount         decimal.Decimal `json:"held_amount" db:"held_amount"`
	PlatformCommission decimal.Decimal `json:"platform_commission" db:"platform_commission"`
	FreelancerAmount   decimal.Decimal `json:"freelancer_amount" db:"freelancer_amount"`
	Status             EscrowStatus    `json:"status" db:"status"`
	HoldReason         *string         `json:"hold_reason,omitempty" db:"hold_reason"`
	ReleaseConditions  *string         `json:"release_conditions,omitempty" db:"release_conditions"`
	AutoReleaseDate    *time.Time      `json:"auto_release_date,omitempty" db:"auto_release_date"`
	ReleasedAt         *time.Time      `json:"released_at,omitempty" db:"released_at"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// NewEscrowHolding builds the holding for a completed payment. held is the
// amount the provider confirmed; the commission recorded at initiation is
// capped at held and the freelancer share is the remainder, so
// HeldAmount == PlatformCommission + FreelancerAmount holds exactly.
func NewEscrowHolding(tx *Transaction, held decimal.Decimal, autoReleaseDays int, now time.Time) (*EscrowHolding, error) {
	if tx.TransactionType != TxTypePayment {
		return nil, ErrEscrowRequiresPayment
	}
	if !held.IsPositive() {
		held = tx.Amount
	}
	held = held.Round(2)

	commission, _ := tx.CommissionSplit()
	commission = commission.Round(2)
	if commission.IsNegative() {
		commission = decimal.Zero
	}
	if commission.GreaterThan(held) {
		commission = held
	}

	if autoReleaseDays <= 0 {
		autoReleaseDays = DefaultAutoReleaseDays
	}
	autoRelease := now.AddDate(0, 0, autoReleaseDays)

	clientID := Deref(tx.PayerID)

	return &EscrowHolding{
		TransactionID:      tx.ID,
		ProjectID:          tx.ProjectID,
		ClientID:           clientID,
		HeldAmount:         held,
		PlatformCommission: commission,
		FreelancerAmount:   held.Sub(commission),
		Status:             EscrowStatusHeld,
		HoldReason:         StrPtr(DefaultHoldReason),
		AutoReleaseDate:    &autoRelease,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// Balanced reports whether the split invariant holds.
func (e *EscrowHolding) Balanced() bool {
	return e.HeldAmount.Equal(e.PlatformCommission.Add(e.FreelancerAmount))
}

func (s EscrowStatus) Valid() bool {
	switch s {
	case EscrowStatusHeld, EscrowStatusReleased, EscrowStatusDisputed, EscrowStatusRefunded:
		return true
	}
	return false
}

// EscrowUpdate is the set of fields a guarded escrow update may write. Nil
// fields are left untouched; ReleasedAt is only ever set once.
type EscrowUpdate struct {
	Status       *EscrowStatus
	ReleasedAt   *time.Time
	HoldReason   *string
	FreelancerID *string
}

func EscrowStatusPtr(s EscrowStatus) *EscrowStatus {
	return &s
}
