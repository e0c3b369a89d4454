package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/warp/levy-engine/levy"
)

// =============================================================================
// TRADER STORE
// =============================================================================

// SaveTrader inserts or replaces a trader's directory entry. It does not
// write setup records; use UpdateTrader for occupancy or market changes.
func (s *Store) SaveTrader(ctx context.Context, t levy.Trader) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO traders (`+traderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			business_name = excluded.business_name,
			occupancy_type = excluded.occupancy_type,
			market_id = excluded.market_id,
			caretaker_id = excluded.caretaker_id,
			tax_id = excluded.tax_id`,
		t.ID, t.BusinessName, t.OccupancyType, t.MarketID,
		nullString(string(t.CaretakerID)), nullString(t.TaxID), formatTime(t.CreatedAt),
	)
	if isUniqueOn(err, "tax_id") {
		return &levy.ValidationError{Field: "tax_id", Message: "already registered to another trader"}
	}
	return err
}

// GetTrader retrieves a trader by ID.
func (s *Store) GetTrader(ctx context.Context, id levy.TraderID) (*levy.Trader, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+traderColumns+" FROM traders WHERE id = ?", id)
	t, err := scanTrader(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTraders returns traders in market, or all traders when market is
// empty.
func (s *Store) ListTraders(ctx context.Context, market levy.MarketID) ([]levy.Trader, error) {
	if market != "" {
		return s.TradersInMarket(ctx, market)
	}
	return s.queryTraders(ctx, "SELECT "+traderColumns+" FROM traders ORDER BY market_id, business_name, id")
}

// UpdateTrader changes a trader's directory entry. When the occupancy type
// or market changes and the new pair has an active rate, a setup record
// documenting that rate is appended to the trader's history in the same
// transaction.
func (s *Store) UpdateTrader(ctx context.Context, t levy.Trader, actor string) (*levy.Trader, *levy.PaymentRecord, error) {
	now := s.Now()
	var (
		updated levy.Trader
		setup   *levy.PaymentRecord
	)

	err := s.withTx(ctx, func(q *queries) error {
		row := q.q.QueryRowContext(ctx, "SELECT "+traderColumns+" FROM traders WHERE id = ?", t.ID)
		old, err := scanTrader(row)
		if errors.Is(err, sql.ErrNoRows) {
			return levy.ErrTraderNotFound
		}
		if err != nil {
			return err
		}

		_, err = q.q.ExecContext(ctx, `
			UPDATE traders
			SET business_name = ?, occupancy_type = ?, market_id = ?, caretaker_id = ?, tax_id = ?
			WHERE id = ?`,
			t.BusinessName, t.OccupancyType, t.MarketID,
			nullString(string(t.CaretakerID)), nullString(t.TaxID), t.ID,
		)
		if isUniqueOn(err, "tax_id") {
			return &levy.ValidationError{Field: "tax_id", Message: "already registered to another trader"}
		}
		if err != nil {
			return err
		}
		t.CreatedAt = old.CreatedAt
		updated = t

		if old.OccupancyType == t.OccupancyType && old.MarketID == t.MarketID {
			return nil
		}

		rate, err := q.ActiveRate(ctx, t.MarketID, t.OccupancyType)
		if err != nil {
			return err
		}
		if rate != nil {
			rec := rate.SetupRecord(levy.RecordID(uuid.NewString()), t, now)
			if err := q.AppendPayment(ctx, rec); err != nil {
				return err
			}
			setup = &rec
		}

		return q.Record(ctx, levy.AuditEvent{
			ID:       uuid.NewString(),
			Activity: levy.AuditTraderChange,
			Detail: fmt.Sprintf("%s/%s -> %s/%s",
				old.MarketID, old.OccupancyType, t.MarketID, t.OccupancyType),
			ActorID:  actor,
			TraderID: t.ID,
			At:       now,
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return &updated, setup, nil
}

// DeleteTrader removes a trader with no payment history. Setup records
// count as history.
func (s *Store) DeleteTrader(ctx context.Context, id levy.TraderID) error {
	return s.withTx(ctx, func(q *queries) error {
		var hasPayments bool
		if err := q.q.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM levy_payments WHERE trader_id = ?)", id,
		).Scan(&hasPayments); err != nil {
			return fmt.Errorf("failed to check payments: %w", err)
		}
		if hasPayments {
			return levy.ErrTraderHasPayments
		}

		res, err := q.q.ExecContext(ctx, "DELETE FROM traders WHERE id = ?", id)
		if isForeignKeyError(err) {
			return levy.ErrTraderHasPayments
		}
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return levy.ErrTraderNotFound
		}
		return nil
	})
}

// =============================================================================
// AGENT STORE
// =============================================================================

// SaveAgent inserts or replaces an agent.
func (s *Store) SaveAgent(ctx context.Context, a levy.Agent) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			market_id = excluded.market_id,
			caretaker_id = excluded.caretaker_id`,
		a.ID, a.Name, a.MarketID, nullString(string(a.CaretakerID)), formatTime(a.CreatedAt),
	)
	return err
}

// ListAgents returns agents in market, or every agent when market is empty.
func (s *Store) ListAgents(ctx context.Context, market levy.MarketID) ([]levy.Agent, error) {
	query := "SELECT " + agentColumns + " FROM agents"
	var args []any
	if market != "" {
		query += " WHERE market_id = ?"
		args = append(args, market)
	}
	rows, err := s.db.QueryContext(ctx, query+" ORDER BY name, id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []levy.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// =============================================================================
// CARETAKER STORE
// =============================================================================

// SaveCaretaker inserts or replaces a caretaker.
func (s *Store) SaveCaretaker(ctx context.Context, c levy.Caretaker) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO caretakers (id, name, market_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			market_id = excluded.market_id`,
		c.ID, c.Name, c.MarketID, formatTime(c.CreatedAt),
	)
	return err
}

// ListCaretakers returns caretakers in market, or all when market is empty.
func (s *Store) ListCaretakers(ctx context.Context, market levy.MarketID) ([]levy.Caretaker, error) {
	query := "SELECT id, name, market_id, created_at FROM caretakers"
	var args []any
	if market != "" {
		query += " WHERE market_id = ?"
		args = append(args, market)
	}
	rows, err := s.db.QueryContext(ctx, query+" ORDER BY name, id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var caretakers []levy.Caretaker
	for rows.Next() {
		var (
			c         levy.Caretaker
			createdAt string
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.MarketID, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTime(createdAt)
		caretakers = append(caretakers, c)
	}
	return caretakers, rows.Err()
}

// =============================================================================
// RATE ADMINISTRATION
// =============================================================================

// ActivateRate makes rate the active setting for its (market, occupancy)
// pair, deactivating the previous one. With recordSetup, every trader of
// that pair gets a setup record. All of it commits or none of it does.
func (s *Store) ActivateRate(ctx context.Context, rate levy.RateSetting, recordSetup bool) (*levy.RateSetting, []levy.PaymentRecord, error) {
	if err := rate.Validate(); err != nil {
		return nil, nil, err
	}
	now := s.Now()
	if rate.ID == "" {
		rate.ID = uuid.NewString()
	}
	rate.Active = true
	rate.CreatedAt = now

	var setups []levy.PaymentRecord
	err := s.withTx(ctx, func(q *queries) error {
		if _, err := q.q.ExecContext(ctx,
			"UPDATE rate_settings SET active = 0 WHERE market_id = ? AND occupancy_type = ? AND active = 1",
			rate.MarketID, rate.OccupancyType,
		); err != nil {
			return err
		}
		if err := q.insertRate(ctx, rate); err != nil {
			return err
		}

		if recordSetup {
			traders, err := q.TradersInMarket(ctx, rate.MarketID)
			if err != nil {
				return err
			}
			for _, t := range traders {
				if t.OccupancyType != rate.OccupancyType {
					continue
				}
				rec := rate.SetupRecord(levy.RecordID(uuid.NewString()), t, now)
				if err := q.AppendPayment(ctx, rec); err != nil {
					return err
				}
				setups = append(setups, rec)
			}
		}

		return q.Record(ctx, levy.AuditEvent{
			ID:       uuid.NewString(),
			Activity: levy.AuditRateActivate,
			Detail: fmt.Sprintf("%s %s in %s: %s %s (%d setup records)",
				rate.ID, rate.OccupancyType, rate.MarketID, rate.Amount.StringFixed(2), rate.Period, len(setups)),
			ActorID: rate.CreatedBy,
			At:      now,
		})
	})
	if err != nil {
		return nil, nil, err
	}
	return &rate, setups, nil
}

// ListActiveRates returns active settings in market, or in every market
// when market is empty.
func (s *Store) ListActiveRates(ctx context.Context, market levy.MarketID) ([]levy.RateSetting, error) {
	query := "SELECT " + rateColumns + " FROM rate_settings WHERE active = 1"
	var args []any
	if market != "" {
		query += " AND market_id = ?"
		args = append(args, market)
	}
	return s.queryRates(ctx, query+" ORDER BY market_id, occupancy_type", args...)
}

// RateHistory returns every setting ever activated for the pair, newest
// first.
func (s *Store) RateHistory(ctx context.Context, market levy.MarketID, occupancy levy.OccupancyType) ([]levy.RateSetting, error) {
	return s.queryRates(ctx,
		"SELECT "+rateColumns+" FROM rate_settings WHERE market_id = ? AND occupancy_type = ? ORDER BY created_at DESC, rowid DESC",
		market, occupancy,
	)
}

// =============================================================================
// AUDIT QUERIES
// =============================================================================

// AuditEvents returns the most recent events, newest first, optionally
// restricted to one actor.
func (s *Store) AuditEvents(ctx context.Context, actor string, limit int) ([]levy.AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := "SELECT id, activity, detail, actor_id, trader_id, at FROM audit_events"
	var args []any
	if actor != "" {
		query += " WHERE actor_id = ?"
		args = append(args, actor)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query+" ORDER BY at DESC, rowid DESC LIMIT ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []levy.AuditEvent
	for rows.Next() {
		var (
			e                         levy.AuditEvent
			detail, actorID, traderID sql.NullString
			at                        string
		)
		if err := rows.Scan(&e.ID, &e.Activity, &detail, &actorID, &traderID, &at); err != nil {
			return nil, err
		}
		e.Detail = detail.String
		e.ActorID = actorID.String
		e.TraderID = levy.TraderID(traderID.String)
		e.At = parseTime(at)
		events = append(events, e)
	}
	return events, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	return s.withTx(ctx, func(q *queries) error {
		tables := []string{"levy_payments", "audit_events", "rate_settings", "traders", "agents", "caretakers"}
		for _, table := range tables {
			if _, err := q.q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return err
			}
		}
		return nil
	})
}
