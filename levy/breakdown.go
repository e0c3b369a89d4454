/*
breakdown.go - Arrears and breakdown calculation

PURPOSE:
  Computes what a trader owes right now: the current levy for their
  occupancy type plus every outstanding amount from their history, grouped
  per occupancy type.

RULES:
  - Current levy: the active rate amount, for the trader's occupancy type only
  - Unpaid levy: sum of actual records with status pending, unpaid or failed,
    bucketed by the occupancy type recorded on each record
  - Total: sum of every bucket's current and unpaid amounts
  - OverdueDays: from the oldest pending/unpaid record (ordered by due date,
    else payment date); days past its due date, never negative
  - Standing: "Overdue" if any outstanding record is past due,
    else "Pending" if any record is pending/unpaid, else "Up to Date"

PURITY:
  ComputeBreakdown reads only its arguments. The same trader, rate, history
  and today always yield the same Breakdown.

SEE ALSO:
  - due.go: IsDue, folded into the breakdown
  - collection/workflow.go: Builds quotes from breakdowns
*/
package levy

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Standing is the tri-state payment status shown to agents.
type Standing string

const (
	StandingOverdue  Standing = "Overdue"
	StandingPending  Standing = "Pending"
	StandingUpToDate Standing = "Up to Date"
)

// TypeLevy is one occupancy type's share of a breakdown.
type TypeLevy struct {
	Current decimal.Decimal
	Unpaid  decimal.Decimal
}

func (t TypeLevy) Total() decimal.Decimal { return t.Current.Add(t.Unpaid) }

// Breakdown is the computed levy position of one trader.
type Breakdown struct {
	TraderID      TraderID
	OccupancyType OccupancyType
	Period        Period

	// Levies has an entry for every occupancy type, zero when unused.
	Levies map[OccupancyType]TypeLevy
	Total  decimal.Decimal

	OverdueDays     int
	Standing        Standing
	LastPaymentDate *Date

	Due DueCheck
}

// Sum recomputes the total from the per-type buckets.
func (b Breakdown) Sum() decimal.Decimal {
	sum := decimal.Zero
	for _, t := range b.Levies {
		sum = sum.Add(t.Total())
	}
	return sum
}

// ComputeBreakdown builds the trader's breakdown against the active rate.
// Setup records in history are ignored.
func ComputeBreakdown(trader Trader, rate RateSetting, history []PaymentRecord, today Date, loc *time.Location) Breakdown {
	actual := Actual(history)

	levies := make(map[OccupancyType]TypeLevy, len(OccupancyTypes))
	for _, t := range OccupancyTypes {
		levies[t] = TypeLevy{Current: decimal.Zero, Unpaid: decimal.Zero}
	}

	own := levies[trader.OccupancyType]
	own.Current = rate.Amount
	levies[trader.OccupancyType] = own

	for _, r := range actual {
		if !r.Status.Outstanding() {
			continue
		}
		bucket := levies[r.OccupancyType]
		bucket.Unpaid = bucket.Unpaid.Add(r.Amount)
		levies[r.OccupancyType] = bucket
	}

	b := Breakdown{
		TraderID:      trader.ID,
		OccupancyType: trader.OccupancyType,
		Period:        rate.Period,
		Levies:        levies,
		OverdueDays:   overdueDays(actual, today, loc),
		Standing:      standing(actual, today),
	}
	b.Total = b.Sum()

	last := LastPaid(actual)
	if last != nil {
		d := DateOf(last.PaymentDate, loc)
		b.LastPaymentDate = &d
	}
	b.Due = IsDue(last, rate.Period, today, loc)
	return b
}

func overdueDays(actual []PaymentRecord, today Date, loc *time.Location) int {
	type candidate struct {
		key Date
		rec PaymentRecord
	}
	var open []candidate
	for _, r := range actual {
		if r.Status != StatusPending && r.Status != StatusUnpaid {
			continue
		}
		key := DateOf(r.PaymentDate, loc)
		if r.DueDate != nil {
			key = *r.DueDate
		}
		open = append(open, candidate{key: key, rec: r})
	}
	if len(open) == 0 {
		return 0
	}

	sort.SliceStable(open, func(i, j int) bool {
		if open[i].key.Equal(open[j].key) {
			return open[i].rec.ID < open[j].rec.ID
		}
		return open[i].key.Before(open[j].key)
	})

	oldest := open[0].rec
	if oldest.DueDate == nil || !oldest.DueDate.Before(today) {
		return 0
	}
	days := DaysBetween(*oldest.DueDate, today)
	if days < 0 {
		return 0
	}
	return days
}

func standing(actual []PaymentRecord, today Date) Standing {
	pending := false
	for _, r := range actual {
		if r.Status != StatusPaid && r.DueDate != nil && r.DueDate.Before(today) {
			return StandingOverdue
		}
		if r.Status == StatusPending || r.Status == StatusUnpaid {
			pending = true
		}
	}
	if pending {
		return StandingPending
	}
	return StandingUpToDate
}
