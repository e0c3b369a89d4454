/*
Package collection orchestrates levy collection for field agents.

PURPOSE:
  Turns a scanned trader identifier into a quote, and a confirmed quote
  into an appended payment record. Also aggregates an agent's collections
  for the dashboard (dashboard.go).

WORKFLOW:
  Start -> TraderResolved -> Authorized -> RateResolved -> BreakdownComputed
        -> Quoted            (read-only inquiry)
        -> RecordPersisted   (confirmed collection)

  Authorization always completes before any rate or history is read.

CONFIRMATION:
  Confirm repeats every step inside one store transaction, so the due-date
  check and the insert observe the same history. Appending the payment is
  the last operation of that transaction. Two agents confirming the same
  trader at once compute the same window key; the store's uniqueness
  constraint admits only one.

ERRORS:
  Business-rule failures (levy.ErrNotFound, levy.ErrUnauthorized,
  levy.ErrRateNotConfigured, levy.ErrValidation, levy.ErrDuplicateCollection)
  are returned as-is. Anything else from the store is wrapped in a
  *levy.PersistenceError; the caller may retry those.

SEE ALSO:
  - levy/breakdown.go: ComputeBreakdown
  - levy/authorize.go: Authorize
  - api/collections.go: HTTP handlers
*/
package collection

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/levy-engine/levy"
)

// CallbackPath is where a quote's ConfirmRef is redeemed.
const CallbackPath = "/api/collections/confirm"

// Service holds the dependencies of the collection workflow.
type Service struct {
	Store    levy.TxStore
	Location *time.Location

	// Now is the clock. Tests pin it.
	Now func() time.Time

	// Observers are notified of audit events after they are durable.
	// Failures are logged, never returned.
	Observers []levy.AuditSink

	// DefaultPageSize applies to dashboards requested without per_page.
	DefaultPageSize int
}

// NewService creates a workflow over store with the wall clock.
func NewService(store levy.TxStore, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		Store:           store,
		Location:        loc,
		Now:             time.Now,
		DefaultPageSize: 10,
	}
}

func (s *Service) today() (time.Time, levy.Date) {
	now := s.Now()
	return now, levy.DateOf(now, s.Location)
}

// =============================================================================
// QUOTE
// =============================================================================

type QuoteInput struct {
	Actor            levy.Actor
	TraderIdentifier string
	AgentID          levy.AgentID
}

// Quote is what an agent sees after scanning a trader.
type Quote struct {
	Trader    levy.Trader
	AgentID   levy.AgentID
	Rate      levy.RateSetting
	Breakdown levy.Breakdown
	TotalDue  decimal.Decimal

	// ConfirmRef is the idempotency key to send back on confirmation.
	ConfirmRef   string
	CallbackPath string
	QuotedAt     time.Time
}

// Quote computes what the trader owes. It has no side effect other than one
// audit event.
func (s *Service) Quote(ctx context.Context, in QuoteInput) (*Quote, error) {
	now, today := s.today()

	res, err := s.resolve(ctx, s.Store, in.Actor, levy.ActionQuote, in.TraderIdentifier, in.AgentID)
	if err != nil {
		log.Printf("[Collection] quote denied trader=%q agent=%s: %v", in.TraderIdentifier, in.AgentID, err)
		return nil, s.classify("quote", err)
	}

	history, err := s.Store.History(ctx, res.trader.ID)
	if err != nil {
		return nil, s.classify("quote", err)
	}

	b := levy.ComputeBreakdown(res.trader, res.rate, history, today, s.Location)
	q := &Quote{
		Trader:       res.trader,
		AgentID:      res.agent.ID,
		Rate:         res.rate,
		Breakdown:    b,
		TotalDue:     b.Total,
		ConfirmRef:   uuid.NewString(),
		CallbackPath: CallbackPath,
		QuotedAt:     now,
	}

	event := levy.AuditEvent{
		ID:       uuid.NewString(),
		Activity: levy.AuditQuote,
		Detail:   fmt.Sprintf("quoted %s to %s (%s)", b.Total.StringFixed(2), res.trader.BusinessName, b.Standing),
		ActorID:  in.Actor.ID,
		TraderID: res.trader.ID,
		At:       now,
	}
	if err := s.Store.Record(ctx, event); err != nil {
		log.Printf("[Collection] failed to record quote audit for %s: %v", res.trader.ID, err)
	} else {
		s.notify(ctx, event)
	}
	return q, nil
}

// =============================================================================
// CONFIRM
// =============================================================================

type ConfirmInput struct {
	Actor            levy.Actor
	TraderIdentifier string
	AgentID          levy.AgentID
	Amount           decimal.Decimal
	Period           string // optional; must match the active rate when given
	Method           levy.PaymentMethod
	IdempotencyKey   string
	Incentive        decimal.NullDecimal
	Note             string
}

// Receipt is returned for a confirmed collection.
type Receipt struct {
	Record levy.PaymentRecord

	// Breakdown reflects the trader's position after the collection.
	Breakdown levy.Breakdown

	// Replayed is true when the idempotency key matched an earlier
	// confirmation; nothing new was written.
	Replayed bool
}

func (in ConfirmInput) validate() (ConfirmInput, error) {
	if in.TraderIdentifier == "" {
		return in, &levy.ValidationError{Field: "trader", Message: "is required"}
	}
	if in.AgentID == "" {
		return in, &levy.ValidationError{Field: "agent", Message: "is required"}
	}
	if !in.Amount.IsPositive() {
		return in, &levy.ValidationError{Field: "amount", Message: "must be greater than zero"}
	}
	if in.Method == "" {
		in.Method = levy.MethodCash
	}
	if !in.Method.Valid() {
		return in, &levy.ValidationError{Field: "method", Message: "unknown payment method " + string(in.Method)}
	}
	if in.Incentive.Valid && in.Incentive.Decimal.IsNegative() {
		return in, &levy.ValidationError{Field: "incentive", Message: "must not be negative"}
	}
	if in.Period != "" && !levy.ParsePeriod(in.Period).Valid() {
		return in, &levy.ValidationError{Field: "period", Message: "unknown period " + in.Period}
	}
	return in, nil
}

// sameCollection reports whether in repeats the confirmation that wrote
// prior. Only an exact repeat is replayed; any other reuse of the key is a
// duplicate and nothing is written.
func (in ConfirmInput) sameCollection(prior levy.PaymentRecord, trader levy.TraderID) bool {
	return prior.TraderID == trader &&
		prior.CollectedBy == in.AgentID &&
		prior.Amount.Equal(in.Amount) &&
		prior.Method == in.Method
}

// Confirm records a collection. Every check runs again inside the
// transaction; the payment insert is the final write.
func (s *Service) Confirm(ctx context.Context, in ConfirmInput) (*Receipt, error) {
	in, err := in.validate()
	if err != nil {
		return nil, err
	}
	if in.IdempotencyKey == "" {
		in.IdempotencyKey = uuid.NewString()
	}

	now, today := s.today()
	var (
		receipt Receipt
		event   levy.AuditEvent
	)

	err = s.Store.WithTx(ctx, func(tx levy.Store) error {
		res, err := s.resolve(ctx, tx, in.Actor, levy.ActionConfirm, in.TraderIdentifier, in.AgentID)
		if err != nil {
			return err
		}
		if in.Period != "" && levy.ParsePeriod(in.Period) != res.rate.Period {
			return &levy.ValidationError{Field: "period", Message: fmt.Sprintf("active rate is %s, not %s", res.rate.Period, in.Period)}
		}

		if prior, err := tx.PaymentByIdempotencyKey(ctx, in.IdempotencyKey); err != nil {
			return err
		} else if prior != nil {
			if !in.sameCollection(*prior, res.trader.ID) {
				return &levy.DuplicateCollectionError{TraderID: res.trader.ID, WindowKey: prior.WindowKey}
			}
			history, err := tx.History(ctx, res.trader.ID)
			if err != nil {
				return err
			}
			receipt = Receipt{
				Record:    *prior,
				Breakdown: levy.ComputeBreakdown(res.trader, res.rate, history, today, s.Location),
				Replayed:  true,
			}
			return nil
		}

		history, err := tx.History(ctx, res.trader.ID)
		if err != nil {
			return err
		}
		last := levy.LastPaid(history)
		due := levy.IsDue(last, res.rate.Period, today, s.Location)
		window := levy.WindowKey(due, last, res.rate.Period, today)
		if !due.IsDue {
			return &levy.DuplicateCollectionError{TraderID: res.trader.ID, WindowKey: window, NextDueDate: due.NextDueDate}
		}

		rec := levy.PaymentRecord{
			ID:             levy.RecordID(uuid.NewString()),
			TraderID:       res.trader.ID,
			CollectedBy:    res.agent.ID,
			Amount:         in.Amount,
			Period:         res.rate.Period,
			OccupancyType:  res.trader.OccupancyType,
			Method:         in.Method,
			Status:         levy.StatusPaid,
			PaymentDate:    now,
			Incentive:      in.Incentive,
			Note:           in.Note,
			IdempotencyKey: in.IdempotencyKey,
			WindowKey:      window,
			CreatedAt:      now,
		}
		if next, ok := res.rate.Period.Next(today); ok {
			rec.DueDate = &next
		}

		event = levy.AuditEvent{
			ID:       uuid.NewString(),
			Activity: levy.AuditCollection,
			Detail:   fmt.Sprintf("collected %s %s from %s via %s", rec.Amount.StringFixed(2), rec.Period, res.trader.BusinessName, rec.Method),
			ActorID:  in.Actor.ID,
			TraderID: res.trader.ID,
			At:       now,
		}
		if err := tx.Record(ctx, event); err != nil {
			return err
		}
		if err := tx.AppendPayment(ctx, rec); err != nil {
			return err
		}

		receipt = Receipt{
			Record:    rec,
			Breakdown: levy.ComputeBreakdown(res.trader, res.rate, append(history, rec), today, s.Location),
		}
		return nil
	})
	if err != nil {
		log.Printf("[Collection] confirm rejected trader=%q agent=%s: %v", in.TraderIdentifier, in.AgentID, err)
		return nil, s.classify("confirm", err)
	}

	if receipt.Replayed {
		log.Printf("[Collection] replayed confirmation %s for trader %s", in.IdempotencyKey, receipt.Record.TraderID)
		return &receipt, nil
	}
	log.Printf("[Collection] recorded %s from trader %s (window %s)", receipt.Record.Amount.StringFixed(2), receipt.Record.TraderID, receipt.Record.WindowKey)
	s.notify(ctx, event)
	return &receipt, nil
}

// =============================================================================
// SHARED STEPS
// =============================================================================

type resolved struct {
	trader levy.Trader
	agent  levy.Agent
	rate   levy.RateSetting
}

// resolve runs Start through RateResolved against store.
func (s *Service) resolve(ctx context.Context, store levy.Store, actor levy.Actor, action levy.Action, identifier string, agentID levy.AgentID) (*resolved, error) {
	if identifier == "" {
		return nil, &levy.ValidationError{Field: "trader", Message: "is required"}
	}
	if agentID == "" {
		return nil, &levy.ValidationError{Field: "agent", Message: "is required"}
	}
	if err := levy.Permit(actor, action); err != nil {
		return nil, err
	}

	agent, err := store.Agent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, levy.ErrAgentNotFound
	}
	if err := levy.PermitAgent(actor, action, *agent); err != nil {
		return nil, err
	}

	trader, err := store.TraderByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if trader == nil {
		return nil, levy.ErrTraderNotFound
	}

	if err := levy.Authorize(*agent, *trader); err != nil {
		return nil, err
	}

	rate, err := store.ActiveRate(ctx, trader.MarketID, trader.OccupancyType)
	if err != nil {
		return nil, err
	}
	if rate == nil {
		return nil, fmt.Errorf("%w for %s in market %s", levy.ErrRateNotConfigured, trader.OccupancyType, trader.MarketID)
	}

	return &resolved{trader: *trader, agent: *agent, rate: *rate}, nil
}

// classify leaves business-rule errors untouched and wraps the rest.
func (s *Service) classify(op string, err error) error {
	if levy.IsClientError(err) {
		return err
	}
	return &levy.PersistenceError{Op: op, Recorded: false, Err: err}
}

func (s *Service) notify(ctx context.Context, event levy.AuditEvent) {
	for _, o := range s.Observers {
		if err := o.Record(ctx, event); err != nil {
			log.Printf("[Collection] audit observer failed: %v", err)
		}
	}
}
