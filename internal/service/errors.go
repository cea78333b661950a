package service

import "errors"

var (
	// ErrNoFeeSchedule is returned when neither the ride's branch nor the
	// default branch has a fee schedule. It is the only error that aborts a run.
	ErrNoFeeSchedule = errors.New("no fee schedule for branch")

	// ErrRunInProgress is returned when another run holds the run lock.
	ErrRunInProgress = errors.New("repayment run already in progress")

	// ErrInvalidPhone is returned when a phone number is empty or malformed.
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrNoBillingKeys is returned when an automatic charge is requested for a
	// user without stored credentials.
	ErrNoBillingKeys = errors.New("user has no billing keys")

	// ErrChargeNotSent is wrapped by gateways when a charge failed before the
	// request left, so no money can have moved.
	ErrChargeNotSent = errors.New("charge not sent")
)
