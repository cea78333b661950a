package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"repay/internal/repository"
)

// OverrideRide is one ride settled by a manual override.
type OverrideRide struct {
	RideID     string `json:"ride_id"`
	Branch     string `json:"branch"`
	Minutes    int64  `json:"minutes"`
	Amount     int64  `json:"amount"`
	PaymentRef string `json:"payment_ref"`
}

// OverrideResult is returned by OverrideService.MarkPaidByPhone.
type OverrideResult struct {
	UserID  string         `json:"user_id"`
	Rides   []OverrideRide `json:"rides"`
	Skipped []string       `json:"skipped,omitempty"` // Already paid under another reference
}

// OverrideService settles a customer's rides by hand, bypassing escalation
// and the payment gateway. Used by customer service for corrections.
type OverrideService struct {
	users   repository.UserRepository
	rides   repository.RideRepository
	fees    repository.FeeRepository
	pricing PricingOptions
	log     *zap.Logger
}

// NewOverrideService creates a new OverrideService.
func NewOverrideService(
	users repository.UserRepository,
	rides repository.RideRepository,
	fees repository.FeeRepository,
	pricing PricingOptions,
	log *zap.Logger,
) *OverrideService {
	return &OverrideService{
		users:   users,
		rides:   rides,
		fees:    fees,
		pricing: pricing,
		log:     log,
	}
}

// MarkPaidByPhone marks every unpaid ride of the user owning phone as paid
// with a synthetic manual reference. Fee schedules are read fresh on every
// call.
func (s *OverrideService) MarkPaidByPhone(ctx context.Context, phone string) (*OverrideResult, error) {
	phone, err := NormalizePhone(phone)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}

	rides, err := s.rides.ListUnpaidForUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list unpaid rides: %w", err)
	}

	pricing := NewPriceCalculator(s.fees, s.pricing)
	result := &OverrideResult{UserID: user.ID, Rides: []OverrideRide{}}
	for _, ride := range rides {
		amount, err := pricing.Price(ctx, ride.Branch, ride.Minutes())
		if err != nil {
			return result, fmt.Errorf("price ride %s: %w", ride.ID, err)
		}

		ref := NewManualRef()
		if err := s.rides.MarkPaid(ctx, user.ID, ride.ID, ref, amount); err != nil {
			if errors.Is(err, repository.ErrAlreadyPaid) {
				s.log.Info("ride already paid, skipping", zap.String("ride_id", ride.ID))
				result.Skipped = append(result.Skipped, ride.ID)
				continue
			}
			return result, fmt.Errorf("mark ride %s paid: %w", ride.ID, err)
		}

		s.log.Info("ride marked paid manually",
			zap.String("user_id", user.ID),
			zap.String("ride_id", ride.ID),
			zap.String("payment_ref", ref),
			zap.Int64("amount", amount),
		)
		result.Rides = append(result.Rides, OverrideRide{
			RideID:     ride.ID,
			Branch:     ride.Branch,
			Minutes:    ride.Minutes(),
			Amount:     amount,
			PaymentRef: ref,
		})
	}

	return result, nil
}

// NormalizePhone strips separators from a phone number and checks what is
// left is a plausible number.
func NormalizePhone(phone string) (string, error) {
	phone = strings.NewReplacer("-", "", " ", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))

	digits := strings.TrimPrefix(phone, "+")
	if len(digits) < 9 || len(digits) > 15 {
		return "", ErrInvalidPhone
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return "", ErrInvalidPhone
		}
	}
	return phone, nil
}
