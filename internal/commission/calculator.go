// internal/commission/calculator.go
package commission

import (
	"fmt"
	"time"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"

	"github.com/shopspring/decimal"
)

// Result is the platform fee and net split for one amount.
type Result struct {
	PolicyID       string          `json:"policy_id"`
	CommissionType string          `json:"commission_type"`
	Rate           decimal.Decimal `json:"commission_rate"`
	Commission     decimal.Decimal `json:"platform_commission"`
	NetAmount      decimal.Decimal `json:"freelancer_amount"`
	CalculatedFrom string          `json:"calculated_from"`
}

// Metadata renders the breakdown the way it is stored on the payment
// transaction and later read back when the escrow is created.
func (r *Result) Metadata() domain.Metadata {
	return domain.Metadata{
		domain.MetaCommissionPolicyID: r.PolicyID,
		domain.MetaCommissionRate:     r.Rate.String(),
		domain.MetaPlatformCommission: r.Commission.StringFixed(2),
		domain.MetaFreelancerAmount:   r.NetAmount.StringFixed(2),
	}
}

// SelectPolicy picks the active policy for projectType at now. When more than
// one window matches, the most recently effective policy wins.
func SelectPolicy(policies []domain.CommissionPolicy, projectType string, now time.Time) (*domain.CommissionPolicy, error) {
	var selected *domain.CommissionPolicy
	for i := range policies {
		p := &policies[i]
		if !p.ActiveAt(now) || !p.AppliesTo(projectType) {
			continue
		}
		if selected == nil || p.EffectiveFrom.After(selected.EffectiveFrom) {
			selected = p
		}
	}
	if selected == nil {
		return nil, domain.ErrInvalidPolicy
	}
	return selected, nil
}

// Calculate computes commission and net amount. It has no side effects and is
// deterministic for a given policy table and now.
func Calculate(amount decimal.Decimal, projectType string, now time.Time, policies []domain.CommissionPolicy) (*Result, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	policy, err := SelectPolicy(policies, projectType, now)
	if err != nil {
		return nil, err
	}

	return FromPolicy(amount, policy)
}

// FromPolicy applies one policy to amount. The clamps always win, so a
// minimum commission above a tiny amount yields a negative NetAmount; callers
// that move money decide whether to accept that.
func FromPolicy(amount decimal.Decimal, policy *domain.CommissionPolicy) (*Result, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	res := &Result{
		PolicyID:       policy.ID,
		CommissionType: policy.CommissionType,
	}

	var fee decimal.Decimal
	switch policy.CommissionType {
	case domain.CommissionTypeFixed:
		if policy.FixedAmount == nil {
			return nil, fmt.Errorf("%w: fixed policy %s has no fixed_amount", domain.ErrInvalidPolicy, policy.ID)
		}
		fee = *policy.FixedAmount
		res.CalculatedFrom = fmt.Sprintf("fixed: %s", fee.StringFixed(2))
	case domain.CommissionTypePercentage, "":
		if policy.CommissionRate.IsNegative() || policy.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
			return nil, fmt.Errorf("%w: rate out of range: %s", domain.ErrInvalidPolicy, policy.CommissionRate)
		}
		fee = amount.Mul(policy.CommissionRate)
		res.Rate = policy.CommissionRate
		res.CalculatedFrom = fmt.Sprintf("percentage: %s", policy.CommissionRate.Mul(decimal.NewFromInt(100)).String()) + "%"
	default:
		return nil, fmt.Errorf("%w: unsupported commission type %q", domain.ErrInvalidPolicy, policy.CommissionType)
	}

	original := fee
	if policy.MinimumCommission != nil && fee.LessThan(*policy.MinimumCommission) {
		fee = *policy.MinimumCommission
		res.CalculatedFrom += fmt.Sprintf(" -> min %s applied (was %s)", fee.StringFixed(2), original.StringFixed(2))
	}
	if policy.MaximumCommission != nil && fee.GreaterThan(*policy.MaximumCommission) {
		fee = *policy.MaximumCommission
		res.CalculatedFrom += fmt.Sprintf(" -> max %s applied (was %s)", fee.StringFixed(2), original.StringFixed(2))
	}

	fee = fee.Round(2)
	if fee.IsNegative() {
		fee = decimal.Zero
	}

	res.Commission = fee
	res.NetAmount = amount.Sub(fee)
	return res, nil
}
