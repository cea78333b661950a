// Package docstore implements the repositories on Cloud Firestore, using the
// collection layout of the rental app: ride/{id}, users/{uid},
// users/{uid}/ride/{doc} and cost/{branch}.
package docstore

import (
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"repay/internal/domain"
	"repay/internal/repository"
)

const (
	rideCollection     = "ride"
	userCollection     = "users"
	userRideCollection = "ride"
	costCollection     = "cost"
)

// rideDoc mirrors a canonical ride document.
type rideDoc struct {
	UID        string     `firestore:"uid"`
	Branch     string     `firestore:"branch"`
	StartTime  time.Time  `firestore:"start_time"`
	EndTime    time.Time  `firestore:"end_time"`
	RepayLevel int        `firestore:"repayLevel"`
	RepayTime  *time.Time `firestore:"repayTime"`
	Payment    *string    `firestore:"payment"`
	Cost       *int64     `firestore:"cost"`
}

// userRideDoc mirrors the per-user copy. Ref points at the canonical
// document as "ride/{id}"; "unpaied" is the field name the app writes.
type userRideDoc struct {
	Ref        string     `firestore:"ref"`
	Branch     string     `firestore:"branch"`
	StartTime  time.Time  `firestore:"start_time"`
	EndTime    time.Time  `firestore:"end_time"`
	Unpaid     bool       `firestore:"unpaied"`
	RepayLevel int        `firestore:"repayLevel"`
	RepayTime  *time.Time `firestore:"repayTime"`
}

type userDoc struct {
	Name    string     `firestore:"name"`
	Phone   string     `firestore:"phone"`
	Birth   *time.Time `firestore:"birth"`
	BillKey []string   `firestore:"billkey"`
}

type costDoc struct {
	StartCost int64 `firestore:"startCost"`
	FreeTime  int64 `firestore:"freeTime"`
	AddedCost int64 `firestore:"addedCost"`
}

func (d rideDoc) toDomain(id string) (*domain.Ride, error) {
	ride := d.ride(id)
	if err := ride.Validate(); err != nil {
		return nil, err
	}
	return ride, nil
}

// ride converts the document without validating it.
func (d rideDoc) ride(id string) *domain.Ride {
	ride := &domain.Ride{
		ID:         id,
		UserID:     d.UID,
		Branch:     d.Branch,
		StartedAt:  d.StartTime,
		EndedAt:    d.EndTime,
		RepayLevel: d.RepayLevel,
	}
	if d.RepayTime != nil {
		ride.RepayAt = *d.RepayTime
	}
	if d.Payment != nil {
		ride.PaymentRef = *d.Payment
	}
	if d.Cost != nil {
		ride.Cost = *d.Cost
	}
	ride.Unpaid = !ride.Resolved()
	return ride
}

func (d userRideDoc) toDomain(userID string) (*domain.Ride, error) {
	id, err := rideIDFromRef(d.Ref)
	if err != nil {
		return nil, err
	}

	ride := &domain.Ride{
		ID:         id,
		UserID:     userID,
		Branch:     d.Branch,
		StartedAt:  d.StartTime,
		EndedAt:    d.EndTime,
		Unpaid:     d.Unpaid,
		RepayLevel: d.RepayLevel,
	}
	if d.RepayTime != nil {
		ride.RepayAt = *d.RepayTime
	}

	if err := ride.Validate(); err != nil {
		return nil, err
	}
	return ride, nil
}

func (d userDoc) toDomain(id string) *domain.User {
	user := &domain.User{
		ID:          id,
		Name:        d.Name,
		Phone:       d.Phone,
		BillingKeys: d.BillKey,
	}
	if d.Birth != nil {
		user.Birthday = *d.Birth
	}
	return user
}

func rideRef(id string) string {
	return rideCollection + "/" + id
}

func rideIDFromRef(ref string) (string, error) {
	id, ok := strings.CutPrefix(ref, rideCollection+"/")
	if !ok || id == "" {
		return "", fmt.Errorf("%w: malformed ride ref %q", domain.ErrInvalidRecord, ref)
	}
	return id, nil
}

// mapNotFound converts the gRPC NotFound status into repository.ErrNotFound.
func mapNotFound(err error) error {
	if status.Code(err) == codes.NotFound {
		return repository.ErrNotFound
	}
	return err
}
