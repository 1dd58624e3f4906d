package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	CommissionTypePercentage = "percentage"
	CommissionTypeFixed      = "fixed"
)

// CommissionPolicy is a versioned, effective-dated fee rule
// (commission_settings table).
type CommissionPolicy struct {
	ID                    string           `json:"id" db:"id"`
	CommissionType        string           `json:"commission_type" db:"commission_type"`
	CommissionRate        decimal.Decimal  `json:"commission_rate" db:"commission_rate"`
	FixedAmount           *decimal.Decimal `json:"fixed_amount,omitempty" db:"fixed_amount"`
	MinimumCommission     *decimal.Decimal `json:"minimum_commission,omitempty" db:"minimum_commission"`
	MaximumCommission     *decimal.Decimal `json:"maximum_commission,omitempty" db:"maximum_commission"`
	AppliesToProjectTypes []string         `json:"applies_to_project_types,omitempty" db:"applies_to_project_types"`
	IsActive              bool             `json:"is_active" db:"is_active"`
	EffectiveFrom         time.Time        `json:"effective_from" db:"effective_from"`
	EffectiveUntil        *time.Time       `json:"effective_until,omitempty" db:"effective_until"`
	CreatedAt             time.Time        `json:"created_at" db:"created_at"`
}

// ActiveAt reports whether the policy window contains now:
// effective_from <= now < effective_until (open-ended when nil).
func (p *CommissionPolicy) ActiveAt(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	if now.Before(p.EffectiveFrom) {
		return false
	}
	if p.EffectiveUntil != nil && !now.Before(*p.EffectiveUntil) {
		return false
	}
	return true
}

// AppliesTo matches the project type. An empty applicability list matches
// every project type.
func (p *CommissionPolicy) AppliesTo(projectType string) bool {
	if len(p.AppliesToProjectTypes) == 0 {
		return true
	}
	for _, t := range p.AppliesToProjectTypes {
		if strings.EqualFold(strings.TrimSpace(t), projectType) {
			return true
		}
	}
	return false
}

func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
