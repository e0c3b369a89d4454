/*
store.go - Persistence interfaces consumed by the levy engine

PURPOSE:
  Defines what the engine needs from storage. Directory and rate data are
  read-only from the engine's point of view; payment history is
  append-only.

KEY INTERFACES:
  Directory:    Trader and agent lookups
  RateRegistry: Active rate per (market, occupancy type)
  PaymentStore: Append-only levy history
  TxStore:      All of the above inside one atomic transaction

NOT-FOUND CONVENTION:
  Single-entity lookups return (nil, nil) when nothing matches. The caller
  decides which ErrXxxNotFound to report.

UNIQUENESS:
  AppendPayment must reject, at the storage boundary:
  - a second actual paid record with the same (TraderID, WindowKey)
  - a reused IdempotencyKey
  Both surface as ErrDuplicateCollection.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite with unique indexes
  - levy/store/memory.go: In-memory for tests
*/
package levy

import (
	"context"
	"time"
)

type Directory interface {
	// TraderByIdentifier resolves a scanned identifier: trader ID first,
	// then tax ID.
	TraderByIdentifier(ctx context.Context, identifier string) (*Trader, error)

	Agent(ctx context.Context, id AgentID) (*Agent, error)

	// TradersInMarket returns every trader in the market.
	TradersInMarket(ctx context.Context, market MarketID) ([]Trader, error)
}

type RateRegistry interface {
	ActiveRate(ctx context.Context, market MarketID, occupancy OccupancyType) (*RateSetting, error)
}

// PaymentStore is append-only. No Update, no Delete.
type PaymentStore interface {
	// History returns every record for the trader, oldest first.
	History(ctx context.Context, trader TraderID) ([]PaymentRecord, error)

	// PaymentByIdempotencyKey returns the record written with key, or nil.
	PaymentByIdempotencyKey(ctx context.Context, key string) (*PaymentRecord, error)

	AppendPayment(ctx context.Context, rec PaymentRecord) error

	// Collections returns the agent's actual paid records with payment time
	// in [from, to), newest first, joined with the payer's business name.
	Collections(ctx context.Context, agent AgentID, from, to time.Time) ([]CollectionEntry, error)
}

// Store is everything the engine reads and writes.
type Store interface {
	Directory
	RateRegistry
	PaymentStore
	AuditSink
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the Store it received
	// is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
