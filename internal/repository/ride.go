package repository

import (
	"context"
	"time"

	"repay/internal/domain"
)

// UnpaidQuery selects a page of the unpaid-ride backlog.
type UnpaidQuery struct {
	After   time.Time     // Only rides that ended strictly after this instant.
	Cursor  domain.Cursor // Keyset position; rides at or before it are skipped.
	OwnerID string        // Restricts the scan to one owner when set.
	Limit   int
}

// RideRepository defines the persistence operations for rides. A ride lives in
// two projections (canonical and per-user copy); mutating methods update both
// in a single unit.
type RideRepository interface {
	// FindUnpaid returns canonical rides without a payment reference, ordered
	// by (ended_at, id) ascending, starting after the query cursor. Malformed
	// rows are reported in the page, not as an error.
	FindUnpaid(ctx context.Context, q UnpaidQuery) (*UnpaidPage, error)

	// GetByID retrieves the canonical ride record.
	GetByID(ctx context.Context, id string) (*domain.Ride, error)

	// LatestUnpaidForUser returns the user's most recently ended unpaid ride
	// from the per-user copy. Returns nil if the user owes nothing.
	LatestUnpaidForUser(ctx context.Context, userID string) (*domain.Ride, error)

	// ListUnpaidForUser returns all unpaid rides on the per-user copy, newest first.
	ListUnpaidForUser(ctx context.Context, userID string) ([]*domain.Ride, error)

	// Escalate stores a new dunning level and escalation time on both projections.
	Escalate(ctx context.Context, userID, rideID string, level int, at time.Time) error

	// MarkPaid records the payment and clears the escalation state on both projections.
	MarkPaid(ctx context.Context, userID, rideID, paymentRef string, amount int64) error
}

// InvalidRide is a backlog row that failed validation.
type InvalidRide struct {
	Position domain.Cursor
	Err      error
}

// UnpaidPage is one page of the backlog scan. Rows that fail validation are
// reported in Invalid instead of failing the page, and End still moves past
// them.
type UnpaidPage struct {
	Rides   []*domain.Ride
	Invalid []InvalidRide
	End     domain.Cursor // Position of the last row scanned, valid or not.
}

// Add appends a scanned row to the page.
func (p *UnpaidPage) Add(ride *domain.Ride) {
	p.End = ride.Position()
	if err := ride.Validate(); err != nil {
		p.Skip(ride.Position(), err)
		return
	}
	p.Rides = append(p.Rides, ride)
}

// Skip records a row that could not be turned into a valid ride.
func (p *UnpaidPage) Skip(pos domain.Cursor, err error) {
	p.End = pos
	p.Invalid = append(p.Invalid, InvalidRide{Position: pos, Err: err})
}

// Empty reports whether the scan returned no rows at all.
func (p *UnpaidPage) Empty() bool {
	return len(p.Rides) == 0 && len(p.Invalid) == 0
}

// Next returns the position after the page, or cursor when the page is empty.
func (p *UnpaidPage) Next(cursor domain.Cursor) domain.Cursor {
	if p.Empty() {
		return cursor
	}
	return p.End
}
