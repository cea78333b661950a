package docstore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"repay/internal/domain"
	"repay/internal/repository"
)

// RideRepository is a Firestore implementation of repository.RideRepository.
type RideRepository struct {
	client *firestore.Client
}

// NewRideRepository creates a new Firestore ride repository.
func NewRideRepository(client *firestore.Client) *RideRepository {
	return &RideRepository{client: client}
}

func (r *RideRepository) rides() *firestore.CollectionRef {
	return r.client.Collection(rideCollection)
}

func (r *RideRepository) userRides(userID string) *firestore.CollectionRef {
	return r.client.Collection(userCollection).Doc(userID).Collection(userRideCollection)
}

// FindUnpaid returns a page of the unpaid-ride backlog.
func (r *RideRepository) FindUnpaid(ctx context.Context, q repository.UnpaidQuery) (*repository.UnpaidPage, error) {
	query := r.rides().
		Where("payment", "==", nil).
		Where("end_time", ">", q.After)
	if q.OwnerID != "" {
		query = query.Where("uid", "==", q.OwnerID)
	}
	query = query.
		OrderBy("end_time", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc)
	if !q.Cursor.IsZero() {
		query = query.StartAfter(q.Cursor.EndedAt, q.Cursor.RideID)
	}

	snaps, err := query.Limit(q.Limit).Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}

	page := &repository.UnpaidPage{End: q.Cursor}
	for _, snap := range snaps {
		var doc rideDoc
		if err := snap.DataTo(&doc); err != nil {
			page.Skip(snapshotPosition(snap), fmt.Errorf("%w: ride %s: %v", domain.ErrInvalidRecord, snap.Ref.ID, err))
			continue
		}
		page.Add(doc.ride(snap.Ref.ID))
	}
	return page, nil
}

// snapshotPosition reads the backlog position of a document that could not
// be decoded. The query only matches documents with a timestamp end_time.
func snapshotPosition(snap *firestore.DocumentSnapshot) domain.Cursor {
	pos := domain.Cursor{RideID: snap.Ref.ID}
	if v, err := snap.DataAt("end_time"); err == nil {
		if t, ok := v.(time.Time); ok {
			pos.EndedAt = t
		}
	}
	return pos
}

// GetByID retrieves the canonical ride record.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	snap, err := r.rides().Doc(id).Get(ctx)
	if err != nil {
		return nil, mapNotFound(err)
	}

	var doc rideDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return doc.toDomain(id)
}

// LatestUnpaidForUser returns the user's most recently ended unpaid ride.
// Returns nil if the user owes nothing.
func (r *RideRepository) LatestUnpaidForUser(ctx context.Context, userID string) (*domain.Ride, error) {
	snaps, err := r.userRides(userID).
		Where("unpaied", "==", true).
		OrderBy("end_time", firestore.Desc).
		Limit(1).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}

	var doc userRideDoc
	if err := snaps[0].DataTo(&doc); err != nil {
		return nil, err
	}
	return doc.toDomain(userID)
}

// ListUnpaidForUser returns all unpaid rides of a user, newest first.
func (r *RideRepository) ListUnpaidForUser(ctx context.Context, userID string) ([]*domain.Ride, error) {
	snaps, err := r.userRides(userID).
		Where("unpaied", "==", true).
		OrderBy("end_time", firestore.Desc).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}

	rides := make([]*domain.Ride, 0, len(snaps))
	for _, snap := range snaps {
		var doc userRideDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		ride, err := doc.toDomain(userID)
		if err != nil {
			return nil, err
		}
		rides = append(rides, ride)
	}
	return rides, nil
}

// Escalate stores the new dunning level on the canonical ride and every
// per-user copy in one transaction. Paid rides and rides already at or above
// the level are left untouched and reported as not found.
func (r *RideRepository) Escalate(ctx context.Context, userID, rideID string, level int, at time.Time) error {
	updates := []firestore.Update{
		{Path: "repayLevel", Value: level},
		{Path: "repayTime", Value: at},
	}

	return r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		canonical := r.rides().Doc(rideID)
		snap, err := tx.Get(canonical)
		if err != nil {
			return mapNotFound(err)
		}

		var doc rideDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.Payment != nil || doc.RepayLevel >= level {
			return repository.ErrNotFound
		}

		copies, err := tx.Documents(r.userRides(userID).Where("ref", "==", rideRef(rideID))).GetAll()
		if err != nil {
			return err
		}

		if err := tx.Update(canonical, updates); err != nil {
			return err
		}
		for _, c := range copies {
			if err := tx.Update(c.Ref, updates); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkPaid records the payment and resets the escalation state on both projections.
func (r *RideRepository) MarkPaid(ctx context.Context, userID, rideID, paymentRef string, amount int64) error {
	return r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		canonical := r.rides().Doc(rideID)
		snap, err := tx.Get(canonical)
		if err != nil {
			return mapNotFound(err)
		}

		var doc rideDoc
		if err := snap.DataTo(&doc); err != nil {
			return err
		}
		if doc.Payment != nil && *doc.Payment != paymentRef {
			return repository.ErrAlreadyPaid
		}

		copies, err := tx.Documents(r.userRides(userID).Where("ref", "==", rideRef(rideID))).GetAll()
		if err != nil {
			return err
		}

		if err := tx.Update(canonical, []firestore.Update{
			{Path: "cost", Value: amount},
			{Path: "payment", Value: paymentRef},
			{Path: "repayLevel", Value: 0},
			{Path: "repayTime", Value: nil},
		}); err != nil {
			return err
		}
		for _, c := range copies {
			if err := tx.Update(c.Ref, []firestore.Update{
				{Path: "unpaied", Value: false},
				{Path: "repayLevel", Value: 0},
				{Path: "repayTime", Value: nil},
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// Ensure RideRepository implements repository.RideRepository.
var _ repository.RideRepository = (*RideRepository)(nil)
