package levy

import (
	"sort"
	"time"
)

// =============================================================================
// DUE-DATE CALCULATOR
// =============================================================================

// DueCheck is the outcome of IsDue.
type DueCheck struct {
	IsDue       bool
	NextDueDate Date

	// PeriodRecognized is false when the period in force is unknown or empty.
	// Collection is then always allowed.
	PeriodRecognized bool
}

// IsDue decides whether a new collection is due.
//
// lastPaid is the most recent actual paid record (nil when the trader has
// never paid). With no prior payment the trader is always due and the next
// due date is today. An unrecognized period fails open: always due.
func IsDue(lastPaid *PaymentRecord, period Period, today Date, loc *time.Location) DueCheck {
	if !period.Valid() {
		return DueCheck{IsDue: true, NextDueDate: today, PeriodRecognized: false}
	}
	if lastPaid == nil {
		return DueCheck{IsDue: true, NextDueDate: today, PeriodRecognized: true}
	}

	next, _ := period.Next(DateOf(lastPaid.PaymentDate, loc))
	return DueCheck{
		IsDue:            today.AfterOrEqual(next),
		NextDueDate:      next,
		PeriodRecognized: true,
	}
}

// WindowKey names the collection window a new actual payment settles.
// Two confirmations that observe the same history produce the same key, so a
// uniqueness constraint on (trader, window key) admits only one of them.
func WindowKey(check DueCheck, lastPaid *PaymentRecord, period Period, today Date) string {
	if !check.PeriodRecognized {
		return "adhoc:" + today.String()
	}
	if lastPaid == nil {
		return string(period) + ":" + today.String()
	}
	return string(period) + ":" + check.NextDueDate.String()
}

// =============================================================================
// HISTORY HELPERS
// =============================================================================

// Actual returns the records that represent real collections, dropping setup
// records. The input slice is not modified.
func Actual(history []PaymentRecord) []PaymentRecord {
	out := make([]PaymentRecord, 0, len(history))
	for _, r := range history {
		if !r.IsSetup {
			out = append(out, r)
		}
	}
	return out
}

// LastPaid returns the most recent actual paid record, or nil.
func LastPaid(history []PaymentRecord) *PaymentRecord {
	var last *PaymentRecord
	for i := range history {
		r := &history[i]
		if r.IsSetup || r.Status != StatusPaid {
			continue
		}
		if last == nil || r.PaymentDate.After(last.PaymentDate) {
			last = r
		}
	}
	if last == nil {
		return nil
	}
	cp := *last
	return &cp
}

// SortByPaymentDate orders records oldest first, breaking ties by ID.
func SortByPaymentDate(history []PaymentRecord) {
	sort.SliceStable(history, func(i, j int) bool {
		if history[i].PaymentDate.Equal(history[j].PaymentDate) {
			return history[i].ID < history[j].ID
		}
		return history[i].PaymentDate.Before(history[j].PaymentDate)
	})
}
