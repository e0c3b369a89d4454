// Package store provides in-memory levy.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/levy-engine/levy"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu    sync.RWMutex
	state state
}

type state struct {
	traders     map[levy.TraderID]levy.Trader
	agents      map[levy.AgentID]levy.Agent
	rates       []levy.RateSetting
	payments    map[levy.TraderID][]levy.PaymentRecord
	idempotency map[string]levy.PaymentRecord
	windows     map[windowKey]bool
	audit       []levy.AuditEvent
}

type windowKey struct {
	TraderID levy.TraderID
	Window   string
}

func NewMemory() *Memory {
	return &Memory{state: state{
		traders:     make(map[levy.TraderID]levy.Trader),
		agents:      make(map[levy.AgentID]levy.Agent),
		payments:    make(map[levy.TraderID][]levy.PaymentRecord),
		idempotency: make(map[string]levy.PaymentRecord),
		windows:     make(map[windowKey]bool),
	}}
}

// =============================================================================
// FIXTURE SETTERS
// =============================================================================

func (m *Memory) SaveTrader(t levy.Trader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.traders[t.ID] = t
}

func (m *Memory) SaveAgent(a levy.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.agents[a.ID] = a
}

// ActivateRate supersedes any active setting for the same pair.
func (m *Memory) ActivateRate(r levy.RateSetting) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.state.rates {
		if m.state.rates[i].MarketID == r.MarketID && m.state.rates[i].OccupancyType == r.OccupancyType {
			m.state.rates[i].Active = false
		}
	}
	r.Active = true
	m.state.rates = append(m.state.rates, r)
}

// AuditEvents returns a copy of every recorded event.
func (m *Memory) AuditEvents() []levy.AuditEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]levy.AuditEvent(nil), m.state.audit...)
}

// =============================================================================
// levy.Store
// =============================================================================

func (m *Memory) TraderByIdentifier(_ context.Context, identifier string) (*levy.Trader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.traderByIdentifier(identifier), nil
}

func (m *Memory) Agent(_ context.Context, id levy.AgentID) (*levy.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.agent(id), nil
}

func (m *Memory) TradersInMarket(_ context.Context, market levy.MarketID) ([]levy.Trader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.tradersInMarket(market), nil
}

func (m *Memory) ActiveRate(_ context.Context, market levy.MarketID, occupancy levy.OccupancyType) (*levy.RateSetting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.activeRate(market, occupancy), nil
}

func (m *Memory) History(_ context.Context, trader levy.TraderID) ([]levy.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.history(trader), nil
}

func (m *Memory) PaymentByIdempotencyKey(_ context.Context, key string) (*levy.PaymentRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.byIdempotencyKey(key), nil
}

// AppendPayment adds a single record. Append-only.
func (m *Memory) AppendPayment(_ context.Context, rec levy.PaymentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.appendPayment(rec)
}

func (m *Memory) Collections(_ context.Context, agent levy.AgentID, from, to time.Time) ([]levy.CollectionEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.collections(agent, from, to), nil
}

func (m *Memory) Record(_ context.Context, e levy.AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.audit = append(m.state.audit, e)
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole of fn, so transactions are serial.
func (m *Memory) WithTx(_ context.Context, fn func(levy.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&txView{s: &m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

type txView struct {
	s *state
}

func (v *txView) TraderByIdentifier(_ context.Context, identifier string) (*levy.Trader, error) {
	return v.s.traderByIdentifier(identifier), nil
}

func (v *txView) Agent(_ context.Context, id levy.AgentID) (*levy.Agent, error) {
	return v.s.agent(id), nil
}

func (v *txView) TradersInMarket(_ context.Context, market levy.MarketID) ([]levy.Trader, error) {
	return v.s.tradersInMarket(market), nil
}

func (v *txView) ActiveRate(_ context.Context, market levy.MarketID, occupancy levy.OccupancyType) (*levy.RateSetting, error) {
	return v.s.activeRate(market, occupancy), nil
}

func (v *txView) History(_ context.Context, trader levy.TraderID) ([]levy.PaymentRecord, error) {
	return v.s.history(trader), nil
}

func (v *txView) PaymentByIdempotencyKey(_ context.Context, key string) (*levy.PaymentRecord, error) {
	return v.s.byIdempotencyKey(key), nil
}

func (v *txView) AppendPayment(_ context.Context, rec levy.PaymentRecord) error {
	return v.s.appendPayment(rec)
}

func (v *txView) Collections(_ context.Context, agent levy.AgentID, from, to time.Time) ([]levy.CollectionEntry, error) {
	return v.s.collections(agent, from, to), nil
}

func (v *txView) Record(_ context.Context, e levy.AuditEvent) error {
	v.s.audit = append(v.s.audit, e)
	return nil
}

// =============================================================================
// STATE (callers hold the lock)
// =============================================================================

func (s *state) traderByIdentifier(identifier string) *levy.Trader {
	if t, ok := s.traders[levy.TraderID(identifier)]; ok {
		return &t
	}
	for _, t := range s.traders {
		if t.TaxID != "" && t.TaxID == identifier {
			return &t
		}
	}
	return nil
}

func (s *state) agent(id levy.AgentID) *levy.Agent {
	if a, ok := s.agents[id]; ok {
		return &a
	}
	return nil
}

func (s *state) tradersInMarket(market levy.MarketID) []levy.Trader {
	var out []levy.Trader
	for _, t := range s.traders {
		if t.MarketID == market {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *state) activeRate(market levy.MarketID, occupancy levy.OccupancyType) *levy.RateSetting {
	for _, r := range s.rates {
		if r.Active && r.MarketID == market && r.OccupancyType == occupancy {
			return &r
		}
	}
	return nil
}

func (s *state) history(trader levy.TraderID) []levy.PaymentRecord {
	return append([]levy.PaymentRecord(nil), s.payments[trader]...)
}

func (s *state) byIdempotencyKey(key string) *levy.PaymentRecord {
	if rec, ok := s.idempotency[key]; ok {
		return &rec
	}
	return nil
}

func (s *state) appendPayment(rec levy.PaymentRecord) error {
	if rec.IdempotencyKey != "" {
		if _, ok := s.idempotency[rec.IdempotencyKey]; ok {
			return &levy.DuplicateCollectionError{TraderID: rec.TraderID, WindowKey: rec.WindowKey}
		}
	}
	wk := windowKey{TraderID: rec.TraderID, Window: rec.WindowKey}
	enforced := !rec.IsSetup && rec.Status == levy.StatusPaid && rec.WindowKey != ""
	if enforced && s.windows[wk] {
		return &levy.DuplicateCollectionError{TraderID: rec.TraderID, WindowKey: rec.WindowKey}
	}

	txs := s.payments[rec.TraderID]
	// Binary search for insertion point keeps history ordered by payment date
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].PaymentDate.After(rec.PaymentDate)
	})
	txs = append(txs, levy.PaymentRecord{})
	copy(txs[i+1:], txs[i:])
	txs[i] = rec
	s.payments[rec.TraderID] = txs

	if rec.IdempotencyKey != "" {
		s.idempotency[rec.IdempotencyKey] = rec
	}
	if enforced {
		s.windows[wk] = true
	}
	return nil
}

func (s *state) collections(agent levy.AgentID, from, to time.Time) []levy.CollectionEntry {
	var out []levy.CollectionEntry
	for traderID, recs := range s.payments {
		for _, r := range recs {
			if r.IsSetup || r.Status != levy.StatusPaid || r.CollectedBy != agent {
				continue
			}
			if r.PaymentDate.Before(from) || !r.PaymentDate.Before(to) {
				continue
			}
			out = append(out, levy.CollectionEntry{Record: r, PayerName: s.traders[traderID].BusinessName})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Record.PaymentDate.Equal(out[j].Record.PaymentDate) {
			return out[i].Record.ID > out[j].Record.ID
		}
		return out[i].Record.PaymentDate.After(out[j].Record.PaymentDate)
	})
	return out
}

func (s *state) clone() state {
	c := state{
		traders:     make(map[levy.TraderID]levy.Trader, len(s.traders)),
		agents:      make(map[levy.AgentID]levy.Agent, len(s.agents)),
		rates:       append([]levy.RateSetting(nil), s.rates...),
		payments:    make(map[levy.TraderID][]levy.PaymentRecord, len(s.payments)),
		idempotency: make(map[string]levy.PaymentRecord, len(s.idempotency)),
		windows:     make(map[windowKey]bool, len(s.windows)),
		audit:       append([]levy.AuditEvent(nil), s.audit...),
	}
	for k, v := range s.traders {
		c.traders[k] = v
	}
	for k, v := range s.agents {
		c.agents[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = append([]levy.PaymentRecord(nil), v...)
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	for k, v := range s.windows {
		c.windows[k] = v
	}
	return c
}

var _ levy.TxStore = (*Memory)(nil)
