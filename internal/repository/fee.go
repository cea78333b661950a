package repository

import (
	"context"

	"repay/internal/domain"
)

// FeeRepository provides the per-branch tariffs.
type FeeRepository interface {
	// GetByBranch retrieves the fee schedule of a branch.
	// Returns ErrNotFound if the branch has no schedule.
	GetByBranch(ctx context.Context, branch string) (*domain.FeeSchedule, error)
}
