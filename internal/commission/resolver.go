package commission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/RemisonBarawa/Freelance-App/internal/domain"
	"github.com/RemisonBarawa/Freelance-App/pkg/cache"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	cacheNamespace = "commission"
	cacheKey       = "policies"
	DefaultTTL     = 5 * time.Minute
)

// PolicySource loads the active commission policy table.
type PolicySource interface {
	ListActive(ctx context.Context) ([]domain.CommissionPolicy, error)
}

// Resolver feeds Calculate from the policy table, caching the table since
// policies change rarely.
type Resolver struct {
	source PolicySource
	cache  cache.Store
	ttl    time.Duration
	logger *zap.Logger
}

// NewResolver builds a resolver. store may be nil to disable caching.
func NewResolver(source PolicySource, store cache.Store, ttl time.Duration, logger *zap.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Resolver{
		source: source,
		cache:  store,
		ttl:    ttl,
		logger: logger,
	}
}

// Compute resolves the active policy for projectType at now and applies it.
func (r *Resolver) Compute(ctx context.Context, amount decimal.Decimal, projectType string, now time.Time) (*Result, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}

	policies, err := r.policies(ctx)
	if err != nil {
		return nil, err
	}

	return Calculate(amount, projectType, now, policies)
}

// Invalidate drops the cached policy table.
func (r *Resolver) Invalidate(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Delete(ctx, cacheNamespace, cacheKey)
}

func (r *Resolver) policies(ctx context.Context) ([]domain.CommissionPolicy, error) {
	if r.cache != nil {
		val, err := r.cache.Get(ctx, cacheNamespace, cacheKey)
		if err == nil {
			var cached []domain.CommissionPolicy
			if jsonErr := json.Unmarshal([]byte(val), &cached); jsonErr == nil {
				return cached, nil
			}
		} else if !errors.Is(err, cache.ErrMiss) {
			r.logger.Warn("commission policy cache read failed", zap.Error(err))
		}
	}

	policies, err := r.source.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load commission policies: %w", err)
	}

	if r.cache != nil {
		if data, err := json.Marshal(policies); err == nil {
			if err := r.cache.Set(ctx, cacheNamespace, cacheKey, data, r.ttl); err != nil {
				r.logger.Warn("commission policy cache write failed", zap.Error(err))
			}
		}
	}

	return policies, nil
}
