package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"repay/internal/domain"
	"repay/internal/repository"
)

// ──────────────────────────────────────────────
// MOCK RIDE REPOSITORY
// ──────────────────────────────────────────────

// MockRideRepository keeps both ride projections in memory.
type MockRideRepository struct {
	mu        sync.RWMutex
	canonical map[string]*domain.Ride
	copies    map[string]*domain.Ride // keyed by ride id

	// Counters for verification
	EscalateCallCount int32
	MarkPaidCallCount int32
	FindCallCount     int32

	// Error injection
	EscalateError error
	MarkPaidError error
	PanicOnMarkPaid bool
}

// NewMockRideRepository creates a new mock ride repository.
func NewMockRideRepository() *MockRideRepository {
	return &MockRideRepository{
		canonical: make(map[string]*domain.Ride),
		copies:    make(map[string]*domain.Ride),
	}
}

// AddRide stores a ride in both projections.
func (m *MockRideRepository) AddRide(ride *domain.Ride) {
	m.mu.Lock()
	defer m.mu.Unlock()
	canonical := *ride
	m.canonical[ride.ID] = &canonical
	userCopy := *ride
	userCopy.Unpaid = !ride.Resolved()
	m.copies[ride.ID] = &userCopy
}

// SetPaymentRef marks only the canonical record paid, leaving the user copy stale.
func (m *MockRideRepository) SetPaymentRef(rideID, ref string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.canonical[rideID].PaymentRef = ref
}

// RemoveCanonical drops the canonical record, keeping the user copy.
func (m *MockRideRepository) RemoveCanonical(rideID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.canonical, rideID)
}

// Canonical returns a copy of the canonical record.
func (m *MockRideRepository) Canonical(rideID string) domain.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.canonical[rideID]
}

// UserCopy returns a copy of the per-user record.
func (m *MockRideRepository) UserCopy(rideID string) domain.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.copies[rideID]
}

func (m *MockRideRepository) FindUnpaid(ctx context.Context, q repository.UnpaidQuery) (*repository.UnpaidPage, error) {
	atomic.AddInt32(&m.FindCallCount, 1)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rides []*domain.Ride
	for _, r := range m.canonical {
		if r.Resolved() || !r.EndedAt.After(q.After) || !r.Position().After(q.Cursor) {
			continue
		}
		if q.OwnerID != "" && r.UserID != q.OwnerID {
			continue
		}
		copy := *r
		rides = append(rides, &copy)
	}
	sort.Slice(rides, func(i, j int) bool {
		return rides[j].Position().After(rides[i].Position())
	})
	if len(rides) > q.Limit {
		rides = rides[:q.Limit]
	}

	page := &repository.UnpaidPage{End: q.Cursor}
	for _, r := range rides {
		page.Add(r)
	}
	return page, nil
}

func (m *MockRideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ride, ok := m.canonical[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *ride
	return &copy, nil
}

func (m *MockRideRepository) LatestUnpaidForUser(ctx context.Context, userID string) (*domain.Ride, error) {
	rides, _ := m.ListUnpaidForUser(ctx, userID)
	if len(rides) == 0 {
		return nil, nil
	}
	return rides[0], nil
}

func (m *MockRideRepository) ListUnpaidForUser(ctx context.Context, userID string) ([]*domain.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rides []*domain.Ride
	for _, r := range m.copies {
		if r.UserID == userID && r.Unpaid {
			copy := *r
			rides = append(rides, &copy)
		}
	}
	sort.Slice(rides, func(i, j int) bool {
		return rides[i].Position().After(rides[j].Position())
	})
	return rides, nil
}

func (m *MockRideRepository) Escalate(ctx context.Context, userID, rideID string, level int, at time.Time) error {
	atomic.AddInt32(&m.EscalateCallCount, 1)
	if m.EscalateError != nil {
		return m.EscalateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ride, ok := m.canonical[rideID]
	if !ok || ride.Resolved() || ride.RepayLevel >= level {
		return repository.ErrNotFound
	}
	ride.RepayLevel = level
	ride.RepayAt = at
	if c, ok := m.copies[rideID]; ok {
		c.RepayLevel = level
		c.RepayAt = at
	}
	return nil
}

func (m *MockRideRepository) MarkPaid(ctx context.Context, userID, rideID, paymentRef string, amount int64) error {
	atomic.AddInt32(&m.MarkPaidCallCount, 1)
	if m.PanicOnMarkPaid {
		panic("mark paid: connection reset")
	}
	if m.MarkPaidError != nil {
		return m.MarkPaidError
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ride, ok := m.canonical[rideID]
	if !ok {
		return repository.ErrNotFound
	}
	if ride.PaymentRef != "" && ride.PaymentRef != paymentRef {
		return repository.ErrAlreadyPaid
	}
	ride.PaymentRef = paymentRef
	ride.Cost = amount
	ride.RepayLevel = 0
	ride.RepayAt = time.Time{}
	if c, ok := m.copies[rideID]; ok {
		c.Unpaid = false
		c.RepayLevel = 0
		c.RepayAt = time.Time{}
	}
	return nil
}

// ──────────────────────────────────────────────
// MOCK USER REPOSITORY
// ──────────────────────────────────────────────

// MockUserRepository is a mock implementation of UserRepository.
type MockUserRepository struct {
	mu    sync.RWMutex
	users map[string]*domain.User

	GetByIDCallCount int32

	// PanicID makes GetByID panic for that user.
	PanicID string
}

// NewMockUserRepository creates a new mock user repository.
func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{users: make(map[string]*domain.User)}
}

// AddUser adds a user to the mock repository.
func (m *MockUserRepository) AddUser(user *domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	atomic.AddInt32(&m.GetByIDCallCount, 1)
	if m.PanicID != "" && id == m.PanicID {
		panic("corrupt user record")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *user
	return &copy, nil
}

func (m *MockUserRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Phone == phone {
			copy := *u
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

// ──────────────────────────────────────────────
// MOCK FEE REPOSITORY
// ──────────────────────────────────────────────

// MockFeeRepository is a mock implementation of FeeRepository.
type MockFeeRepository struct {
	mu   sync.RWMutex
	fees map[string]*domain.FeeSchedule

	GetCallCount int32
	GetError     error
}

// NewMockFeeRepository creates a new mock fee repository.
func NewMockFeeRepository() *MockFeeRepository {
	return &MockFeeRepository{fees: make(map[string]*domain.FeeSchedule)}
}

// AddSchedule adds a fee schedule.
func (m *MockFeeRepository) AddSchedule(fee *domain.FeeSchedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fees[fee.Branch] = fee
}

func (m *MockFeeRepository) GetByBranch(ctx context.Context, branch string) (*domain.FeeSchedule, error) {
	atomic.AddInt32(&m.GetCallCount, 1)
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	fee, ok := m.fees[branch]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *fee
	return &copy, nil
}

// ──────────────────────────────────────────────
// MOCK GATEWAY
// ──────────────────────────────────────────────

// MockGateway answers charges from a per-billing-key script.
type MockGateway struct {
	mu       sync.Mutex
	Requests []ChargeRequest

	// Results by billing key; keys not listed are paid.
	Results map[string]*ChargeResult
	// Errors by billing key.
	Errors map[string]error
}

// NewMockGateway creates a new mock gateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		Results: make(map[string]*ChargeResult),
		Errors:  make(map[string]error),
	}
}

func (m *MockGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if err, ok := m.Errors[req.BillingKey]; ok {
		return nil, err
	}
	if res, ok := m.Results[req.BillingKey]; ok {
		return res, nil
	}
	return &ChargeResult{Status: ChargeStatusPaid, ImpUID: "imp_" + req.BillingKey}, nil
}

// CallCount returns how many charges were sent.
func (m *MockGateway) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// ──────────────────────────────────────────────
// MOCK NOTIFIERS
// ──────────────────────────────────────────────

// MockSMSSender records sent messages.
type MockSMSSender struct {
	mu       sync.Mutex
	Messages []SMSMessage

	// FailFor makes Send fail for these phone numbers.
	FailFor map[string]error
}

// NewMockSMSSender creates a new mock SMS sender.
func NewMockSMSSender() *MockSMSSender {
	return &MockSMSSender{FailFor: make(map[string]error)}
}

func (m *MockSMSSender) Send(ctx context.Context, msg SMSMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.FailFor[msg.To]; ok {
		return err
	}
	m.Messages = append(m.Messages, msg)
	return nil
}

// Sent returns a snapshot of the sent messages.
func (m *MockSMSSender) Sent() []SMSMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SMSMessage(nil), m.Messages...)
}

// CountTemplate returns how many messages used tmpl.
func (m *MockSMSSender) CountTemplate(tmpl Template) int {
	count := 0
	for _, msg := range m.Sent() {
		if msg.Template == tmpl {
			count++
		}
	}
	return count
}

// MockWebhook records posted lines.
type MockWebhook struct {
	mu    sync.Mutex
	Lines []string
}

func (m *MockWebhook) Post(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Lines = append(m.Lines, text)
	return nil
}

// ──────────────────────────────────────────────
// CLOCK AND SLEEPER
// ──────────────────────────────────────────────

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSleeper records requested delays without waiting.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
	err    error
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return s.err
}

var errGatewayTimeout = errors.New("gateway timeout")
