package docstore

import (
	"context"

	"cloud.google.com/go/firestore"

	"repay/internal/domain"
	"repay/internal/repository"
)

// UserRepository is a Firestore implementation of repository.UserRepository.
type UserRepository struct {
	client *firestore.Client
}

// NewUserRepository creates a new Firestore user repository.
func NewUserRepository(client *firestore.Client) *UserRepository {
	return &UserRepository{client: client}
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	snap, err := r.client.Collection(userCollection).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapNotFound(err)
	}

	var doc userDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return doc.toDomain(id), nil
}

// GetByPhone retrieves a user by phone number.
func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	snaps, err := r.client.Collection(userCollection).
		Where("phone", "==", phone).
		Limit(1).
		Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, repository.ErrNotFound
	}

	var doc userDoc
	if err := snaps[0].DataTo(&doc); err != nil {
		return nil, err
	}
	return doc.toDomain(snaps[0].Ref.ID), nil
}

// Ensure UserRepository implements repository.UserRepository.
var _ repository.UserRepository = (*UserRepository)(nil)
