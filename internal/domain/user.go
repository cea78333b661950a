package domain

import "time"

// User represents a rider profile. The repayment job never creates or deletes users.
type User struct {
	ID          string
	Name        string
	Phone       string
	Birthday    time.Time
	BillingKeys []string // Stored gateway credentials, tried in order.
}

// DisplayName returns the user's name or a placeholder when none is stored.
func (u *User) DisplayName() string {
	if u.Name == "" {
		return "unknown"
	}
	return u.Name
}

// HasContact reports whether the user can be reached by SMS.
func (u *User) HasContact() bool {
	return u.Phone != ""
}

// HasBillingKeys reports whether an automatic charge can be attempted.
func (u *User) HasBillingKeys() bool {
	return len(u.BillingKeys) > 0
}
