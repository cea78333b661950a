package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"repay/internal/domain"
)

// ChargeStatusPaid is the gateway status of a successful charge.
const ChargeStatusPaid = "paid"

// DefaultRetryDelay is the pause between two billing keys of one user.
const DefaultRetryDelay = 3 * time.Second

// ChargeRequest is a recurring charge against a stored billing key.
type ChargeRequest struct {
	BillingKey  string
	MerchantUID string // Idempotency key, shared by all keys of one attempt
	Amount      int64
	Name        string
	BuyerName   string
	BuyerTel    string
}

// ChargeResult is the gateway's answer to a charge.
type ChargeResult struct {
	Status     string
	FailReason string
	ImpUID     string
}

// Gateway is the interface for the payment gateway's recurring-charge API.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
}

// AttemptStatus is the overall outcome of trying every billing key of a user.
type AttemptStatus string

const (
	AttemptPaid   AttemptStatus = "PAID"
	AttemptFailed AttemptStatus = "FAILED"
	// AttemptAmbiguous means the gateway errored and the charge may or may
	// not have gone through. The ride is never marked paid on this status.
	AttemptAmbiguous AttemptStatus = "AMBIGUOUS"
)

// AttemptResult is returned by PaymentAttempter.Attempt.
type AttemptResult struct {
	Status         AttemptStatus
	TransactionRef string
	Reason         string
}

// Sleeper pauses between billing keys. It returns early with the context's
// error when ctx is cancelled.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PaymentOptions contains the automatic payment configuration.
type PaymentOptions struct {
	RetryDelay time.Duration
	Sleep      Sleeper // Defaults to SleepContext
}

// PaymentAttempter charges a ride against the user's stored billing keys.
type PaymentAttempter struct {
	gateway    Gateway
	retryDelay time.Duration
	sleep      Sleeper
	log        *zap.Logger
}

// NewPaymentAttempter creates a new PaymentAttempter.
func NewPaymentAttempter(gateway Gateway, opts PaymentOptions, log *zap.Logger) *PaymentAttempter {
	if opts.Sleep == nil {
		opts.Sleep = SleepContext
	}
	return &PaymentAttempter{
		gateway:    gateway,
		retryDelay: opts.RetryDelay,
		sleep:      opts.Sleep,
		log:        log,
	}
}

// Attempt tries the user's billing keys in order until one is charged. One
// transaction reference is used for the whole sequence so the gateway can
// reject duplicates. A gateway error stops the sequence as ambiguous, unless
// the charge never left, which stops it as failed.
func (p *PaymentAttempter) Attempt(ctx context.Context, user *domain.User, ride *domain.Ride, amount int64) (AttemptResult, error) {
	result := AttemptResult{
		Status:         AttemptFailed,
		TransactionRef: NewTransactionRef(),
	}

	if !user.HasBillingKeys() {
		result.Reason = ErrNoBillingKeys.Error()
		return result, nil
	}

	for i, key := range user.BillingKeys {
		if i > 0 && p.retryDelay > 0 {
			if err := p.sleep(ctx, p.retryDelay); err != nil {
				return result, err
			}
		}

		res, err := p.gateway.Charge(ctx, ChargeRequest{
			BillingKey:  key,
			MerchantUID: result.TransactionRef,
			Amount:      amount,
			Name:        ride.Branch,
			BuyerName:   user.DisplayName(),
			BuyerTel:    user.Phone,
		})
		if errors.Is(err, ErrChargeNotSent) {
			p.log.Warn("charge not sent",
				zap.String("user_id", user.ID),
				zap.String("ride_id", ride.ID),
				zap.Int("key_index", i),
				zap.Error(err),
			)
			result.Status = AttemptFailed
			result.Reason = err.Error()
			return result, nil
		}
		if err != nil {
			p.log.Warn("charge outcome unknown",
				zap.String("user_id", user.ID),
				zap.String("ride_id", ride.ID),
				zap.String("merchant_uid", result.TransactionRef),
				zap.Error(err),
			)
			result.Status = AttemptAmbiguous
			result.Reason = err.Error()
			return result, nil
		}

		if res.Status == ChargeStatusPaid {
			p.log.Info("charge succeeded",
				zap.String("user_id", user.ID),
				zap.String("ride_id", ride.ID),
				zap.Int("key_index", i),
				zap.String("imp_uid", res.ImpUID),
			)
			result.Status = AttemptPaid
			result.Reason = ""
			return result, nil
		}

		p.log.Info("charge failed",
			zap.String("user_id", user.ID),
			zap.String("ride_id", ride.ID),
			zap.Int("key_index", i),
			zap.String("status", res.Status),
			zap.String("reason", res.FailReason),
		)
		result.Reason = res.FailReason
	}

	return result, nil
}

// NewTransactionRef returns a fresh merchant uid for an automatic charge.
func NewTransactionRef() string {
	return "repay-" + uuid.New().String()
}

// NewManualRef returns a synthetic payment reference for a manual override.
func NewManualRef() string {
	return "manual-" + uuid.New().String()
}
