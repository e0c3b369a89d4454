package levy

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateSetting is the levy amount and period for one (market, occupancy type)
// pair. At most one setting per pair is active at a time; activating a new
// one supersedes the old without touching recorded payments.
type RateSetting struct {
	ID            string
	MarketID      MarketID
	OccupancyType OccupancyType
	Amount        decimal.Decimal
	Period        Period
	Active        bool
	CreatedBy     string
	CreatedAt     time.Time
}

// Validate checks the invariants of a setting before it is activated.
func (r RateSetting) Validate() error {
	if r.MarketID == "" {
		return &ValidationError{Field: "market_id", Message: "is required"}
	}
	if !r.OccupancyType.Valid() {
		return &ValidationError{Field: "occupancy_type", Message: "unknown occupancy type " + string(r.OccupancyType)}
	}
	if r.Amount.IsNegative() {
		return &ValidationError{Field: "amount", Message: "must not be negative"}
	}
	if !r.Period.Valid() {
		return &ValidationError{Field: "period", Message: "unknown period " + string(r.Period)}
	}
	return nil
}

// SetupRecord builds the history entry documenting that this rate was
// configured for a trader. Setup records never count toward arrears.
func (r RateSetting) SetupRecord(id RecordID, trader Trader, at time.Time) PaymentRecord {
	return PaymentRecord{
		ID:            id,
		TraderID:      trader.ID,
		Amount:        r.Amount,
		Period:        r.Period,
		OccupancyType: trader.OccupancyType,
		Method:        MethodCash,
		Status:        StatusPaid,
		PaymentDate:   at,
		IsSetup:       true,
		Note:          "levy configured: " + r.Amount.StringFixed(2) + " " + string(r.Period),
		CreatedAt:     at,
	}
}
