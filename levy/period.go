package levy

import "strings"

// =============================================================================
// PERIOD - How often a levy falls due
// =============================================================================

// Period is the collection frequency configured for a levy rate.
//
// Examples:
//   - Weekly levy paid on March 3: next due March 10
//   - Monthly levy paid on January 31: next due March 3 (AddDate normalization)
type Period string

const (
	PeriodDaily      Period = "daily"
	PeriodWeekly     Period = "weekly"
	PeriodBiWeekly   Period = "bi_weekly"
	PeriodMonthly    Period = "monthly"
	PeriodQuarterly  Period = "quarterly"
	PeriodHalfYearly Period = "half_yearly"
	PeriodYearly     Period = "yearly"
)

var Periods = []Period{
	PeriodDaily,
	PeriodWeekly,
	PeriodBiWeekly,
	PeriodMonthly,
	PeriodQuarterly,
	PeriodHalfYearly,
	PeriodYearly,
}

func (p Period) Valid() bool {
	for _, known := range Periods {
		if p == known {
			return true
		}
	}
	return false
}

// ParsePeriod normalizes common spellings ("bi-weekly", "Half Yearly") to a
// Period. Unknown input is returned as-is and fails Valid.
func ParsePeriod(s string) Period {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	return Period(norm)
}

// Next returns the day one period after d. The bool is false when the period
// is not recognized.
func (p Period) Next(d Date) (Date, bool) {
	switch p {
	case PeriodDaily:
		return d.AddDays(1), true
	case PeriodWeekly:
		return d.AddDays(7), true
	case PeriodBiWeekly:
		return d.AddDays(14), true
	case PeriodMonthly:
		return d.AddMonths(1), true
	case PeriodQuarterly:
		return d.AddMonths(3), true
	case PeriodHalfYearly:
		return d.AddMonths(6), true
	case PeriodYearly:
		return d.AddYears(1), true
	default:
		return d, false
	}
}
