/*
Package levy provides the market levy reconciliation engine.

PURPOSE:
  This package contains the domain types and pure algorithms that decide
  what a market trader owes. Given a trader's occupancy type, the market's
  active levy rate and the trader's payment history, the engine computes
  the current levy, accumulated arrears, overdue days and whether a new
  collection is due.

KEY CONCEPTS IN THIS FILE (types.go):
  - Trader: a stall holder, classified by OccupancyType within a market
  - Agent: a collection agent ("goodboy") working a market
  - PaymentRecord: an immutable entry in a trader's levy history
  - Identifiers: type-safe IDs for traders, agents, markets, caretakers

DESIGN PRINCIPLES:
  1. Immutability: payment records are appended, never edited
  2. Precision: amounts use decimal.Decimal, never float64
  3. Type Safety: distinct ID types prevent mixing trader/agent IDs
  4. Setup vs actual: setup records document rate configuration and are
     excluded from every arrears and due-date calculation

SEE ALSO:
  - period.go: Levy periods and due-date arithmetic
  - breakdown.go: Arrears and breakdown calculation
  - authorize.go: Collection authorization gate
  - store.go: Persistence interfaces
*/
package levy

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TraderID string
type AgentID string
type MarketID string
type CaretakerID string
type RecordID string

// =============================================================================
// OCCUPANCY TYPE - What kind of stall a trader holds
// =============================================================================

type OccupancyType string

const (
	OccupancyOpenSpace OccupancyType = "open_space"
	OccupancyKiosk     OccupancyType = "kiosk"
	OccupancyShop      OccupancyType = "shop"
	OccupancyWarehouse OccupancyType = "warehouse"
)

// OccupancyTypes lists every occupancy type in display order.
var OccupancyTypes = []OccupancyType{
	OccupancyOpenSpace,
	OccupancyKiosk,
	OccupancyShop,
	OccupancyWarehouse,
}

func (o OccupancyType) Valid() bool {
	for _, t := range OccupancyTypes {
		if o == t {
			return true
		}
	}
	return false
}

// =============================================================================
// PAYMENT STATUS / METHOD
// =============================================================================

type PaymentStatus string

const (
	StatusPaid    PaymentStatus = "paid"
	StatusPending PaymentStatus = "pending"
	StatusUnpaid  PaymentStatus = "unpaid"
	StatusFailed  PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case StatusPaid, StatusPending, StatusUnpaid, StatusFailed:
		return true
	}
	return false
}

// Outstanding reports whether a record with this status still counts as owed.
// Failed collections are treated like unpaid ones.
func (s PaymentStatus) Outstanding() bool {
	return s == StatusPending || s == StatusUnpaid || s == StatusFailed
}

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCard         PaymentMethod = "card"
	MethodMobileMoney  PaymentMethod = "mobile_money"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodBankTransfer, MethodCard, MethodMobileMoney:
		return true
	}
	return false
}

// =============================================================================
// DIRECTORY ENTITIES - Read by the engine, managed elsewhere
// =============================================================================

// Trader is a market stall holder who owes a periodic levy.
type Trader struct {
	ID            TraderID
	BusinessName  string
	OccupancyType OccupancyType
	MarketID      MarketID
	CaretakerID   CaretakerID // empty when no caretaker supervises the trader
	TaxID         string      // scannable identifier printed on the trader's card
	CreatedAt     time.Time
}

// Agent is a collection agent (a "goodboy").
type Agent struct {
	ID          AgentID
	Name        string
	MarketID    MarketID
	CaretakerID CaretakerID
	CreatedAt   time.Time
}

// Caretaker supervises a market's agents and traders.
type Caretaker struct {
	ID        CaretakerID
	Name      string
	MarketID  MarketID
	CreatedAt time.Time
}

// =============================================================================
// PAYMENT RECORD - Immutable levy history entry
// =============================================================================

type PaymentRecord struct {
	ID            RecordID
	TraderID      TraderID
	CollectedBy   AgentID // empty for setup records
	Amount        decimal.Decimal
	Period        Period
	OccupancyType OccupancyType // occupancy at the time of payment
	Method        PaymentMethod
	Status        PaymentStatus
	PaymentDate   time.Time
	DueDate       *Date
	IsSetup       bool
	Incentive     decimal.NullDecimal
	Note          string

	// IdempotencyKey is supplied by the caller on confirmation. Unique.
	IdempotencyKey string

	// WindowKey names the collection window an actual paid record settles.
	// Unique per trader among actual paid records.
	WindowKey string

	CreatedAt time.Time
}

// CollectionEntry is a paid record joined with the payer's name, as shown on
// an agent's dashboard.
type CollectionEntry struct {
	Record    PaymentRecord
	PayerName string
}
