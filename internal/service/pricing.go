package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"repay/internal/domain"
	"repay/internal/repository"
)

// Pricing defaults.
const (
	DefaultBranch   = "서울"
	DefaultMaxPrice = int64(33000)
)

// PricingOptions contains the price calculation configuration.
type PricingOptions struct {
	DefaultBranch string // Schedule used when a branch has none of its own
	MaxPrice      int64  // Upper bound of one charge, 0 disables the cap
}

// DefaultPricingOptions returns the default pricing configuration.
func DefaultPricingOptions() PricingOptions {
	return PricingOptions{
		DefaultBranch: DefaultBranch,
		MaxPrice:      DefaultMaxPrice,
	}
}

// PriceCalculator computes the amount owed for a ride. Fee schedules are
// loaded lazily and kept for the lifetime of the calculator, so create one
// per run.
type PriceCalculator struct {
	fees repository.FeeRepository
	opts PricingOptions

	mu    sync.Mutex
	cache map[string]*domain.FeeSchedule // nil entry: branch has no schedule
}

// NewPriceCalculator creates a new PriceCalculator.
func NewPriceCalculator(fees repository.FeeRepository, opts PricingOptions) *PriceCalculator {
	if opts.DefaultBranch == "" {
		opts.DefaultBranch = DefaultBranch
	}
	return &PriceCalculator{
		fees:  fees,
		opts:  opts,
		cache: make(map[string]*domain.FeeSchedule),
	}
}

// Price returns the amount owed for a ride of the given length on a branch.
func (c *PriceCalculator) Price(ctx context.Context, branch string, minutes int64) (int64, error) {
	fee, err := c.schedule(ctx, branch)
	if err != nil {
		return 0, err
	}
	return c.amount(fee, minutes), nil
}

// amount applies the tariff. The cap only bounds the per-minute part, a bare
// start cost is never clamped.
func (c *PriceCalculator) amount(fee *domain.FeeSchedule, minutes int64) int64 {
	billed := minutes - fee.FreeMinutes
	if billed <= 0 {
		return fee.StartCost
	}

	amount := fee.StartCost + fee.PerMinuteCost*billed
	if c.opts.MaxPrice > 0 && amount > c.opts.MaxPrice {
		return c.opts.MaxPrice
	}
	return amount
}

func (c *PriceCalculator) schedule(ctx context.Context, branch string) (*domain.FeeSchedule, error) {
	fee, err := c.lookup(ctx, branch)
	if err != nil {
		return nil, err
	}
	if fee != nil {
		return fee, nil
	}

	if branch != c.opts.DefaultBranch {
		fee, err = c.lookup(ctx, c.opts.DefaultBranch)
		if err != nil {
			return nil, err
		}
		if fee != nil {
			return fee, nil
		}
	}

	return nil, fmt.Errorf("%w: %q (default %q)", ErrNoFeeSchedule, branch, c.opts.DefaultBranch)
}

// lookup returns the cached schedule of a branch, or nil if it has none.
func (c *PriceCalculator) lookup(ctx context.Context, branch string) (*domain.FeeSchedule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if fee, ok := c.cache[branch]; ok {
		return fee, nil
	}

	fee, err := c.fees.GetByBranch(ctx, branch)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		fee = nil
	}

	c.cache[branch] = fee
	return fee, nil
}
