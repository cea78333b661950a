package domain

// FeeSchedule is the tariff for one branch. Amounts are whole KRW.
type FeeSchedule struct {
	Branch        string
	StartCost     int64
	FreeMinutes   int64
	PerMinuteCost int64
}
