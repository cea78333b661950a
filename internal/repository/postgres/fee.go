package postgres

import (
	"context"
	"database/sql"
	"errors"

	"repay/internal/domain"
	"repay/internal/repository"
)

// FeeRepository is a PostgreSQL implementation of repository.FeeRepository.
type FeeRepository struct {
	q Querier
}

// NewFeeRepository creates a new PostgreSQL fee repository.
func NewFeeRepository(db *sql.DB) *FeeRepository {
	return &FeeRepository{q: db}
}

// GetByBranch retrieves the fee schedule of a branch.
func (r *FeeRepository) GetByBranch(ctx context.Context, branch string) (*domain.FeeSchedule, error) {
	query := `
		SELECT branch, start_cost, free_minutes, per_minute_cost
		FROM fee_schedules WHERE branch = $1
	`

	var fee domain.FeeSchedule
	err := r.q.QueryRowContext(ctx, query, branch).Scan(
		&fee.Branch,
		&fee.StartCost,
		&fee.FreeMinutes,
		&fee.PerMinuteCost,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	return &fee, nil
}

// Ensure FeeRepository implements repository.FeeRepository.
var _ repository.FeeRepository = (*FeeRepository)(nil)
