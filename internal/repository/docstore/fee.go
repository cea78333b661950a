package docstore

import (
	"context"

	"cloud.google.com/go/firestore"

	"repay/internal/domain"
	"repay/internal/repository"
)

// FeeRepository reads branch tariffs from the cost collection.
type FeeRepository struct {
	client *firestore.Client
}

// NewFeeRepository creates a new Firestore fee repository.
func NewFeeRepository(client *firestore.Client) *FeeRepository {
	return &FeeRepository{client: client}
}

// GetByBranch retrieves the fee schedule of a branch.
func (r *FeeRepository) GetByBranch(ctx context.Context, branch string) (*domain.FeeSchedule, error) {
	snap, err := r.client.Collection(costCollection).Doc(branch).Get(ctx)
	if err != nil {
		return nil, mapNotFound(err)
	}

	var doc costDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return &domain.FeeSchedule{
		Branch:        branch,
		StartCost:     doc.StartCost,
		FreeMinutes:   doc.FreeTime,
		PerMinuteCost: doc.AddedCost,
	}, nil
}

// Ensure FeeRepository implements repository.FeeRepository.
var _ repository.FeeRepository = (*FeeRepository)(nil)
