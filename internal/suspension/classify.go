package suspension

import "time"

// Status is a client's standing for the current billing month.
type Status string

const (
	StatusCurrent Status = "current"
	StatusGrace   Status = "grace"
	StatusOverdue Status = "overdue"
)

// Verdict is the classification of one client on one day.
type Verdict struct {
	ClientID           int64  `json:"client_id"`
	Status             Status `json:"status"`
	GraceDaysRemaining int    `json:"grace_days_remaining"`
}

// Classify places an account relative to its billing day. The billing day is
// clamped to the month length so day 31 means the last day in short months.
//
//	current  paid, or today is on or before the billing day
//	grace    unpaid, billing day < today < billing day + grace days
//	overdue  unpaid, today >= billing day + grace days
func Classify(billingDay, graceDays int, paid bool, now time.Time) Verdict {
	if paid {
		return Verdict{Status: StatusCurrent}
	}

	days := time.Date(now.Year(), now.Month()+1, 0, 0, 0, 0, 0, now.Location()).Day()
	if billingDay < 1 {
		billingDay = 1
	}
	if billingDay > days {
		billingDay = days
	}
	if graceDays < 0 {
		graceDays = 0
	}

	today := now.Day()
	deadline := billingDay + graceDays
	switch {
	case today <= billingDay:
		return Verdict{Status: StatusCurrent}
	case today < deadline:
		return Verdict{Status: StatusGrace, GraceDaysRemaining: deadline - today}
	default:
		return Verdict{Status: StatusOverdue}
	}
}
