package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"repay/internal/domain"
	"repay/internal/repository"
)

// Outcome is what the escalation engine did for one user.
type Outcome string

const (
	OutcomeNoRide      Outcome = "no_ride"      // Nothing owed on the user copy
	OutcomeCooldown    Outcome = "cooldown"     // Escalated less than CooldownDays ago
	OutcomeNoContact   Outcome = "no_contact"   // Escalated, but no phone on file
	OutcomeTrivial     Outcome = "trivial"      // Escalated, ride too short to bill
	OutcomeAlreadyPaid Outcome = "already_paid" // Canonical ride missing or paid
	OutcomeManual      Outcome = "manual"       // Level ceiling reached
	OutcomePaid        Outcome = "paid"
	OutcomeNotified    Outcome = "notified"
	OutcomeAmbiguous   Outcome = "ambiguous" // Charge outcome unknown, link sent anyway
)

// Counted reports whether the outcome is a customer-facing action.
func (o Outcome) Counted() bool {
	switch o {
	case OutcomePaid, OutcomeNotified, OutcomeAmbiguous:
		return true
	}
	return false
}

// UserResult describes the processing of one user's latest unpaid ride.
type UserResult struct {
	Outcome        Outcome
	RideID         string
	Level          int // Dunning level after this pass
	Escalated      bool
	Attempted      bool // A charge was sent to the gateway
	Amount         int64
	TransactionRef string
	Template       Template
}

// Counted reports whether the result consumes the daily quota.
func (r *UserResult) Counted() bool {
	return r.Attempted || r.Outcome.Counted()
}

// Escalation defaults.
const (
	DefaultMaxLevel       = 4
	DefaultCooldownDays   = 7
	DefaultMinRideMinutes = int64(1)
)

// EscalationOptions contains the escalation configuration.
type EscalationOptions struct {
	MaxLevel       int            // Level at which the case goes to manual handling
	CooldownDays   int            // Calendar days between two escalations
	MinRideMinutes int64          // Rides at or below this length are never billed
	Location       *time.Location // Zone calendar days are counted in
	Now            func() time.Time
}

// DefaultEscalationOptions returns the default escalation configuration.
func DefaultEscalationOptions() EscalationOptions {
	return EscalationOptions{
		MaxLevel:       DefaultMaxLevel,
		CooldownDays:   DefaultCooldownDays,
		MinRideMinutes: DefaultMinRideMinutes,
		Location:       time.UTC,
		Now:            time.Now,
	}
}

// EscalationEngine decides, for one user, whether to wait, escalate, charge
// or send a payment link.
type EscalationEngine struct {
	rides    repository.RideRepository
	pricing  *PriceCalculator
	payments *PaymentAttempter
	notifier *NotificationService
	opts     EscalationOptions
	log      *zap.Logger
}

// NewEscalationEngine creates a new EscalationEngine.
func NewEscalationEngine(
	rides repository.RideRepository,
	pricing *PriceCalculator,
	payments *PaymentAttempter,
	notifier *NotificationService,
	opts EscalationOptions,
	log *zap.Logger,
) *EscalationEngine {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &EscalationEngine{
		rides:    rides,
		pricing:  pricing,
		payments: payments,
		notifier: notifier,
		opts:     opts,
		log:      log,
	}
}

// ProcessUser handles the user's most recently ended unpaid ride. Only one
// ride per user is handled per pass. The returned result is non-nil even
// when an error is returned, so the caller can account for actions that
// happened before the failure, a panic included.
func (e *EscalationEngine) ProcessUser(ctx context.Context, user *domain.User) (res *UserResult, err error) {
	res = &UserResult{}
	log := e.log.With(zap.String("user_id", user.ID))

	defer func() {
		if p := recover(); p != nil {
			log.Error("panic while processing user",
				zap.Any("panic", p),
				zap.Stack("stack"),
			)
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	ride, err := e.rides.LatestUnpaidForUser(ctx, user.ID)
	if err != nil {
		return res, fmt.Errorf("latest unpaid ride: %w", err)
	}
	if ride == nil {
		log.Debug("no unpaid ride on user copy")
		res.Outcome = OutcomeNoRide
		return res, nil
	}

	res.RideID = ride.ID
	res.Level = ride.RepayLevel
	log = log.With(zap.String("ride_id", ride.ID))

	now := e.opts.Now()
	if !ride.RepayAt.IsZero() && e.elapsedDays(ride.RepayAt, now) < e.opts.CooldownDays {
		log.Debug("escalated recently, skipping", zap.Time("repay_at", ride.RepayAt))
		res.Outcome = OutcomeCooldown
		return res, nil
	}

	level := ride.RepayLevel + 1
	if err := e.rides.Escalate(ctx, user.ID, ride.ID, level, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Info("ride no longer escalatable")
			res.Outcome = OutcomeAlreadyPaid
			return res, nil
		}
		return res, fmt.Errorf("escalate ride: %w", err)
	}
	res.Escalated = true
	res.Level = level
	log = log.With(zap.Int("level", level))

	if !user.HasContact() {
		log.Info("user has no phone number, abandoning user")
		res.Outcome = OutcomeNoContact
		return res, nil
	}

	if ride.Minutes() <= e.opts.MinRideMinutes {
		log.Info("ride too short to bill", zap.Int64("minutes", ride.Minutes()))
		res.Outcome = OutcomeTrivial
		return res, nil
	}

	detail, err := e.rides.GetByID(ctx, ride.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn("canonical ride missing")
			res.Outcome = OutcomeAlreadyPaid
			return res, nil
		}
		return res, fmt.Errorf("get ride detail: %w", err)
	}
	if detail.Resolved() {
		log.Info("ride already paid", zap.String("payment_ref", detail.PaymentRef))
		res.Outcome = OutcomeAlreadyPaid
		return res, nil
	}

	if level >= e.opts.MaxLevel {
		log.Info("level ceiling reached, left to manual handling")
		res.Outcome = OutcomeManual
		return res, nil
	}

	amount, err := e.pricing.Price(ctx, detail.Branch, detail.Minutes())
	if err != nil {
		return res, fmt.Errorf("price ride: %w", err)
	}
	res.Amount = amount

	if user.HasBillingKeys() {
		attempt, err := e.payments.Attempt(ctx, user, detail, amount)
		res.Attempted = true
		res.TransactionRef = attempt.TransactionRef
		if err != nil {
			return res, fmt.Errorf("charge ride: %w", err)
		}

		switch attempt.Status {
		case AttemptPaid:
			res.Outcome = OutcomePaid
			if err := e.rides.MarkPaid(ctx, user.ID, ride.ID, attempt.TransactionRef, amount); err != nil {
				return res, fmt.Errorf("mark ride paid with %s: %w", attempt.TransactionRef, err)
			}
			res.Template = TemplateCompleted
			if err := e.notifier.NotifyCompleted(ctx, user, detail, amount); err != nil {
				log.Warn("completion message not sent", zap.Error(err))
			}
			return res, nil
		case AttemptAmbiguous:
			res.Outcome = OutcomeAmbiguous
		default:
			log.Info("automatic payment failed, sending payment link", zap.String("reason", attempt.Reason))
		}
	}

	res.Template = e.template(level)
	if err := e.notifier.NotifyUnpaid(ctx, res.Template, user, detail, amount); err != nil {
		return res, fmt.Errorf("send payment link: %w", err)
	}
	if res.Outcome != OutcomeAmbiguous {
		res.Outcome = OutcomeNotified
	}
	return res, nil
}

// template picks the wording for a payment link: the warning from
// MaxLevel-1 upwards, the notice below.
func (e *EscalationEngine) template(level int) Template {
	if level < e.opts.MaxLevel-1 {
		return TemplateNotice
	}
	return TemplateWarning
}

// elapsedDays counts calendar-day boundaries between from and to in the
// configured zone.
func (e *EscalationEngine) elapsedDays(from, to time.Time) int {
	fy, fm, fd := from.In(e.opts.Location).Date()
	ty, tm, td := to.In(e.opts.Location).Date()

	start := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	end := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start).Hours() / 24)
}
