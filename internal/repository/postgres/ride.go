package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"repay/internal/domain"
	"repay/internal/repository"
)

// RideRepository is a PostgreSQL implementation of repository.RideRepository.
// Canonical rides live in `rides`, the per-user copies in `user_rides`.
type RideRepository struct {
	db *sql.DB
}

// NewRideRepository creates a new PostgreSQL ride repository.
func NewRideRepository(db *sql.DB) *RideRepository {
	return &RideRepository{db: db}
}

const rideColumns = `id, user_id, branch, started_at, ended_at, repay_level, repay_at, payment_ref, cost`

const userRideColumns = `ride_id, user_id, branch, started_at, ended_at, unpaid, repay_level, repay_at`

// FindUnpaid returns a page of the unpaid-ride backlog.
func (r *RideRepository) FindUnpaid(ctx context.Context, q repository.UnpaidQuery) (*repository.UnpaidPage, error) {
	query := `
		SELECT ` + rideColumns + `
		FROM rides
		WHERE payment_ref IS NULL
		  AND ended_at > $1
		  AND (ended_at, id) > ($2, $3)`
	args := []any{q.After, q.Cursor.EndedAt, q.Cursor.RideID}

	if q.OwnerID != "" {
		args = append(args, q.OwnerID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}

	args = append(args, q.Limit)
	query += fmt.Sprintf(" ORDER BY ended_at, id LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := &repository.UnpaidPage{End: q.Cursor}
	for rows.Next() {
		ride, err := scanRideRow(rows)
		if err != nil {
			return nil, err
		}
		page.Add(ride)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return page, nil
}

// GetByID retrieves the canonical ride record.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE id = $1`

	ride, err := scanRide(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return ride, nil
}

// LatestUnpaidForUser returns the user's most recently ended unpaid ride.
// Returns nil if the user owes nothing.
func (r *RideRepository) LatestUnpaidForUser(ctx context.Context, userID string) (*domain.Ride, error) {
	query := `
		SELECT ` + userRideColumns + `
		FROM user_rides
		WHERE user_id = $1 AND unpaid
		ORDER BY ended_at DESC
		LIMIT 1
	`

	ride, err := scanUserRide(r.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ride, nil
}

// ListUnpaidForUser returns all unpaid rides of a user, newest first.
func (r *RideRepository) ListUnpaidForUser(ctx context.Context, userID string) ([]*domain.Ride, error) {
	query := `
		SELECT ` + userRideColumns + `
		FROM user_rides
		WHERE user_id = $1 AND unpaid
		ORDER BY ended_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rides []*domain.Ride
	for rows.Next() {
		ride, err := scanUserRide(rows)
		if err != nil {
			return nil, err
		}
		rides = append(rides, ride)
	}
	return rides, rows.Err()
}

// Escalate stores the new dunning level on both projections. The canonical
// update only applies to unpaid rides whose level is lower than the new one,
// so a level never decreases.
func (r *RideRepository) Escalate(ctx context.Context, userID, rideID string, level int, at time.Time) error {
	return withTx(ctx, r.db, func(q Querier) error {
		result, err := q.ExecContext(ctx, `
			UPDATE rides SET repay_level = $1, repay_at = $2
			WHERE id = $3 AND payment_ref IS NULL AND repay_level < $1`,
			level, toNullTime(at), rideID,
		)
		if err != nil {
			return err
		}
		if err := expectRow(result); err != nil {
			return err
		}

		// The per-user copy may be missing on legacy rides.
		_, err = q.ExecContext(ctx, `
			UPDATE user_rides SET repay_level = $1, repay_at = $2
			WHERE user_id = $3 AND ride_id = $4`,
			level, toNullTime(at), userID, rideID,
		)
		return err
	})
}

// MarkPaid records the payment and resets the escalation state on both projections.
func (r *RideRepository) MarkPaid(ctx context.Context, userID, rideID, paymentRef string, amount int64) error {
	return withTx(ctx, r.db, func(q Querier) error {
		var existing sql.NullString
		err := q.QueryRowContext(ctx, `SELECT payment_ref FROM rides WHERE id = $1 FOR UPDATE`, rideID).Scan(&existing)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return repository.ErrNotFound
			}
			return err
		}
		if existing.Valid && existing.String != paymentRef {
			return repository.ErrAlreadyPaid
		}

		if _, err := q.ExecContext(ctx, `
			UPDATE rides SET cost = $1, payment_ref = $2, repay_level = 0, repay_at = NULL
			WHERE id = $3`,
			amount, paymentRef, rideID,
		); err != nil {
			return err
		}

		_, err = q.ExecContext(ctx, `
			UPDATE user_rides SET unpaid = FALSE, repay_level = 0, repay_at = NULL
			WHERE user_id = $1 AND ride_id = $2`,
			userID, rideID,
		)
		return err
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*domain.Ride, error) {
	ride, err := scanRideRow(row)
	if err != nil {
		return nil, err
	}
	if err := ride.Validate(); err != nil {
		return nil, err
	}
	return ride, nil
}

// scanRideRow reads a canonical ride without validating it. Columns the app
// may leave empty are scanned as nullable.
func scanRideRow(row rowScanner) (*domain.Ride, error) {
	var ride domain.Ride
	var userID, branch sql.NullString
	var startedAt, repayAt sql.NullTime
	var paymentRef sql.NullString
	var cost sql.NullInt64

	if err := row.Scan(
		&ride.ID,
		&userID,
		&branch,
		&startedAt,
		&ride.EndedAt,
		&ride.RepayLevel,
		&repayAt,
		&paymentRef,
		&cost,
	); err != nil {
		return nil, err
	}

	ride.UserID = userID.String
	ride.Branch = branch.String
	if startedAt.Valid {
		ride.StartedAt = startedAt.Time
	}
	if repayAt.Valid {
		ride.RepayAt = repayAt.Time
	}
	if paymentRef.Valid {
		ride.PaymentRef = paymentRef.String
	}
	if cost.Valid {
		ride.Cost = cost.Int64
	}
	ride.Unpaid = !ride.Resolved()
	return &ride, nil
}

func scanUserRide(row rowScanner) (*domain.Ride, error) {
	var ride domain.Ride
	var repayAt sql.NullTime

	if err := row.Scan(
		&ride.ID,
		&ride.UserID,
		&ride.Branch,
		&ride.StartedAt,
		&ride.EndedAt,
		&ride.Unpaid,
		&ride.RepayLevel,
		&repayAt,
	); err != nil {
		return nil, err
	}

	if repayAt.Valid {
		ride.RepayAt = repayAt.Time
	}

	if err := ride.Validate(); err != nil {
		return nil, err
	}
	return &ride, nil
}

func expectRow(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Ensure RideRepository implements repository.RideRepository.
var _ repository.RideRepository = (*RideRepository)(nil)
