package service

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"repay/internal/domain"
)

var kst = time.FixedZone("KST", 9*60*60)

// fixture wires the repayment services over in-memory mocks.
type fixture struct {
	rides   *MockRideRepository
	users   *MockUserRepository
	fees    *MockFeeRepository
	gateway *MockGateway
	sms     *MockSMSSender
	webhook *MockWebhook
	sleeper *recordingSleeper
	clock   *fakeClock

	pricing  *PriceCalculator
	payments *PaymentAttempter
	notifier *NotificationService
	engine   *EscalationEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zap.NewNop()

	f := &fixture{
		rides:   NewMockRideRepository(),
		users:   NewMockUserRepository(),
		fees:    NewMockFeeRepository(),
		gateway: NewMockGateway(),
		sms:     NewMockSMSSender(),
		webhook: &MockWebhook{},
		sleeper: &recordingSleeper{},
		clock:   &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, kst)},
	}
	f.fees.AddSchedule(&domain.FeeSchedule{Branch: DefaultBranch, StartCost: 1000, FreeMinutes: 5, PerMinuteCost: 100})

	f.pricing = NewPriceCalculator(f.fees, DefaultPricingOptions())
	f.payments = NewPaymentAttempter(f.gateway, PaymentOptions{
		RetryDelay: DefaultRetryDelay,
		Sleep:      f.sleeper.Sleep,
	}, log)
	f.notifier = NewNotificationService(f.sms, f.webhook, NotificationOptions{Location: kst}, log)
	f.engine = NewEscalationEngine(f.rides, f.pricing, f.payments, f.notifier, EscalationOptions{
		MaxLevel:       4,
		CooldownDays:   7,
		MinRideMinutes: 1,
		Location:       kst,
		Now:            f.clock.Now,
	}, log)
	return f
}

func (f *fixture) addUser(id, phone string, billingKeys ...string) *domain.User {
	user := &domain.User{
		ID:          id,
		Name:        "rider " + id,
		Phone:       phone,
		Birthday:    time.Date(1995, 4, 2, 0, 0, 0, 0, time.UTC),
		BillingKeys: billingKeys,
	}
	f.users.AddUser(user)
	return user
}

// addRide stores an unpaid 65-minute ride (7000 KRW on the default tariff).
func (f *fixture) addRide(id, userID string, endedAt time.Time, level int, repayAt time.Time) *domain.Ride {
	ride := &domain.Ride{
		ID:         id,
		UserID:     userID,
		Branch:     DefaultBranch,
		StartedAt:  endedAt.Add(-65 * time.Minute),
		EndedAt:    endedAt,
		RepayLevel: level,
		RepayAt:    repayAt,
	}
	f.rides.AddRide(ride)
	return ride
}

func (f *fixture) newRunner(state RunState, opts RunOptions) *Runner {
	if opts.Location == nil {
		opts.Location = kst
	}
	if opts.Now == nil {
		opts.Now = f.clock.Now
	}
	return NewRunner(f.rides, f.users, f.engine, f.notifier, state, nil, opts, zap.NewNop())
}
