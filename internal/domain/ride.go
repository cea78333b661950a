package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRecord is returned when a stored record lacks a required field.
var ErrInvalidRecord = errors.New("invalid record")

// Ride represents a finished rental. The same ride is stored twice: the
// canonical record and a denormalized copy under its owner.
type Ride struct {
	ID         string
	UserID     string
	Branch     string
	StartedAt  time.Time
	EndedAt    time.Time
	Unpaid     bool      // Only meaningful on the per-user copy.
	RepayLevel int       // Dunning level, 0 = never escalated.
	RepayAt    time.Time // Last escalation, zero if never escalated.
	PaymentRef string    // Set once the ride is paid.
	Cost       int64
}

// Resolved reports whether the ride has been paid.
func (r *Ride) Resolved() bool {
	return r.PaymentRef != ""
}

// Minutes returns the ride duration in whole minutes.
func (r *Ride) Minutes() int64 {
	return int64(r.EndedAt.Sub(r.StartedAt) / time.Minute)
}

// Position returns the backlog cursor pointing at this ride.
func (r *Ride) Position() Cursor {
	return Cursor{EndedAt: r.EndedAt, RideID: r.ID}
}

// Validate checks the fields every ride record must carry.
func (r *Ride) Validate() error {
	switch {
	case r.ID == "":
		return fmt.Errorf("%w: ride id is empty", ErrInvalidRecord)
	case r.UserID == "":
		return fmt.Errorf("%w: ride %s has no owner", ErrInvalidRecord, r.ID)
	case r.Branch == "":
		return fmt.Errorf("%w: ride %s has no branch", ErrInvalidRecord, r.ID)
	case r.StartedAt.IsZero():
		return fmt.Errorf("%w: ride %s has no start time", ErrInvalidRecord, r.ID)
	case r.EndedAt.IsZero():
		return fmt.Errorf("%w: ride %s has no end time", ErrInvalidRecord, r.ID)
	case r.EndedAt.Before(r.StartedAt):
		return fmt.Errorf("%w: ride %s ended before it started", ErrInvalidRecord, r.ID)
	case r.RepayLevel < 0:
		return fmt.Errorf("%w: ride %s has negative repay level", ErrInvalidRecord, r.ID)
	}
	return nil
}

// Cursor is a keyset position in the unpaid-ride backlog, ordered by
// (EndedAt, RideID). The zero value points before the first ride.
type Cursor struct {
	EndedAt time.Time `json:"ended_at"`
	RideID  string    `json:"ride_id"`
}

// IsZero reports whether the cursor points at the start of the backlog.
func (c Cursor) IsZero() bool {
	return c.EndedAt.IsZero() && c.RideID == ""
}

// After reports whether c is strictly past other in backlog order.
func (c Cursor) After(other Cursor) bool {
	if !c.EndedAt.Equal(other.EndedAt) {
		return c.EndedAt.After(other.EndedAt)
	}
	return c.RideID > other.RideID
}
