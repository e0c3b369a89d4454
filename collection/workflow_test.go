package collection_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/levy-engine/collection"
	"github.com/warp/levy-engine/levy"
	"github.com/warp/levy-engine/levy/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var lagos = time.FixedZone("WAT", 60*60)

// June 20 2025, 10:00 in Lagos.
var now = time.Date(2025, time.June, 20, 10, 0, 0, 0, lagos)

var (
	gb1      = levy.Actor{ID: "gb-1", Role: levy.RoleGoodboy}
	gbBodija = levy.Actor{ID: "gb-bodija", Role: levy.RoleGoodboy}
)

func naira(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func fixture() *store.Memory {
	m := store.NewMemory()
	m.SaveAgent(levy.Agent{ID: "gb-1", Name: "Tunde", MarketID: "oja-oba", CaretakerID: "ct-1"})
	m.SaveAgent(levy.Agent{ID: "gb-bodija", Name: "Sola", MarketID: "bodija"})
	m.SaveTrader(levy.Trader{
		ID:            "trader-1",
		BusinessName:  "Mama Nkechi Provisions",
		OccupancyType: levy.OccupancyShop,
		MarketID:      "oja-oba",
		CaretakerID:   "ct-1",
		TaxID:         "TIN-0001",
	})
	m.ActivateRate(levy.RateSetting{
		ID:            "rate-shop",
		MarketID:      "oja-oba",
		OccupancyType: levy.OccupancyShop,
		Amount:        naira(500),
		Period:        levy.PeriodWeekly,
	})
	return m
}

func newService(s levy.TxStore) *collection.Service {
	svc := collection.NewService(s, lagos)
	svc.Now = func() time.Time { return now }
	return svc
}

func confirmInput(key string) collection.ConfirmInput {
	return collection.ConfirmInput{
		Actor:            gb1,
		TraderIdentifier: "TIN-0001",
		AgentID:          "gb-1",
		Amount:           naira(500),
		Method:           levy.MethodCash,
		IdempotencyKey:   key,
	}
}

// spyStore counts financial reads made outside transactions.
type spyStore struct {
	*store.Memory
	mu          sync.Mutex
	rateReads   int
	historyRead int
}

func (s *spyStore) ActiveRate(ctx context.Context, m levy.MarketID, o levy.OccupancyType) (*levy.RateSetting, error) {
	s.mu.Lock()
	s.rateReads++
	s.mu.Unlock()
	return s.Memory.ActiveRate(ctx, m, o)
}

func (s *spyStore) History(ctx context.Context, t levy.TraderID) ([]levy.PaymentRecord, error) {
	s.mu.Lock()
	s.historyRead++
	s.mu.Unlock()
	return s.Memory.History(ctx, t)
}

// brokenStore fails every payment insert.
type brokenStore struct {
	*store.Memory
}

type brokenTx struct {
	levy.Store
}

func (brokenTx) AppendPayment(context.Context, levy.PaymentRecord) error {
	return errors.New("disk I/O error")
}

func (b *brokenStore) WithTx(ctx context.Context, fn func(levy.Store) error) error {
	return b.Memory.WithTx(ctx, func(s levy.Store) error { return fn(brokenTx{s}) })
}

// =============================================================================
// QUOTE
// =============================================================================

func TestQuote_ZeroHistory(t *testing.T) {
	// GIVEN: Weekly ₦500 shop rate, trader has never paid
	// WHEN: The agent scans the trader's card
	// THEN: ₦500 due now, "Up to Date"
	m := fixture()
	svc := newService(m)

	q, err := svc.Quote(context.Background(), collection.QuoteInput{Actor: gb1, TraderIdentifier: "TIN-0001", AgentID: "gb-1"})

	require.NoError(t, err)
	assert.Equal(t, "500", q.TotalDue.String())
	assert.Equal(t, levy.StandingUpToDate, q.Breakdown.Standing)
	assert.True(t, q.Breakdown.Due.IsDue)
	assert.NotEmpty(t, q.ConfirmRef)
	assert.Equal(t, collection.CallbackPath, q.CallbackPath)

	events := m.AuditEvents()
	require.Len(t, events, 1)
	assert.Equal(t, levy.AuditQuote, events[0].Activity)
	assert.Equal(t, "gb-1", events[0].ActorID)
}

func TestQuote_OverdueArrears(t *testing.T) {
	m := fixture()
	due := levy.DateOf(now, lagos).AddDays(-10)
	require.NoError(t, m.AppendPayment(context.Background(), levy.PaymentRecord{
		ID:            "r1",
		TraderID:      "trader-1",
		Amount:        naira(500),
		Period:        levy.PeriodWeekly,
		OccupancyType: levy.OccupancyShop,
		Status:        levy.StatusUnpaid,
		PaymentDate:   now.AddDate(0, 0, -17),
		DueDate:       &due,
	}))
	svc := newService(m)

	q, err := svc.Quote(context.Background(), collection.QuoteInput{Actor: gb1, TraderIdentifier: "trader-1", AgentID: "gb-1"})

	require.NoError(t, err)
	assert.Equal(t, "500", q.Breakdown.Levies[levy.OccupancyShop].Current.String())
	assert.Equal(t, "500", q.Breakdown.Levies[levy.OccupancyShop].Unpaid.String())
	assert.Equal(t, "1000", q.TotalDue.String())
	assert.Equal(t, 10, q.Breakdown.OverdueDays)
	assert.Equal(t, levy.StandingOverdue, q.Breakdown.Standing)
}

func TestQuote_OtherMarket_ReadsNothing(t *testing.T) {
	// GIVEN: Agent from Bodija market
	// WHEN: Quoting a trader in Oja Oba
	// THEN: MarketMismatch, and no rate or history was read
	spy := &spyStore{Memory: fixture()}
	svc := newService(spy)

	q, err := svc.Quote(context.Background(), collection.QuoteInput{Actor: gbBodija, TraderIdentifier: "TIN-0001", AgentID: "gb-bodija"})

	assert.Nil(t, q)
	require.ErrorIs(t, err, levy.ErrUnauthorized)
	var authErr *levy.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, levy.MarketMismatch, authErr.Reason)
	assert.Zero(t, spy.rateReads)
	assert.Zero(t, spy.historyRead)
	assert.Empty(t, spy.AuditEvents())
}

func TestQuote_Failures(t *testing.T) {
	m := fixture()
	m.SaveTrader(levy.Trader{ID: "kiosk-1", OccupancyType: levy.OccupancyKiosk, MarketID: "oja-oba"})
	svc := newService(m)
	ctx := context.Background()

	_, err := svc.Quote(ctx, collection.QuoteInput{Actor: gb1, TraderIdentifier: "nobody", AgentID: "gb-1"})
	assert.ErrorIs(t, err, levy.ErrTraderNotFound)

	_, err = svc.Quote(ctx, collection.QuoteInput{Actor: levy.Actor{ID: "ghost", Role: levy.RoleAdmin}, TraderIdentifier: "trader-1", AgentID: "ghost"})
	assert.ErrorIs(t, err, levy.ErrAgentNotFound)

	_, err = svc.Quote(ctx, collection.QuoteInput{Actor: gb1, TraderIdentifier: "kiosk-1", AgentID: "gb-1"})
	assert.ErrorIs(t, err, levy.ErrRateNotConfigured)

	// A goodboy cannot quote as another agent.
	_, err = svc.Quote(ctx, collection.QuoteInput{Actor: gbBodija, TraderIdentifier: "trader-1", AgentID: "gb-1"})
	var roleErr *levy.RoleError
	assert.ErrorAs(t, err, &roleErr)

	_, err = svc.Quote(ctx, collection.QuoteInput{Actor: gb1, AgentID: "gb-1"})
	assert.ErrorIs(t, err, levy.ErrValidation)
}

// =============================================================================
// CONFIRM
// =============================================================================

func TestConfirm_RecordsPaidCollection(t *testing.T) {
	m := fixture()
	svc := newService(m)
	ctx := context.Background()

	receipt, err := svc.Confirm(ctx, confirmInput("ref-1"))

	require.NoError(t, err)
	assert.False(t, receipt.Replayed)
	rec := receipt.Record
	assert.Equal(t, levy.StatusPaid, rec.Status)
	assert.False(t, rec.IsSetup)
	assert.Equal(t, levy.AgentID("gb-1"), rec.CollectedBy)
	assert.Equal(t, levy.PeriodWeekly, rec.Period)
	assert.Equal(t, levy.OccupancyShop, rec.OccupancyType)
	assert.Equal(t, "weekly:2025-06-20", rec.WindowKey)
	require.NotNil(t, rec.DueDate)
	assert.Equal(t, "2025-06-27", rec.DueDate.String())
	assert.False(t, receipt.Breakdown.Due.IsDue)

	history, _ := m.History(ctx, "trader-1")
	assert.Len(t, history, 1)

	events := m.AuditEvents()
	require.Len(t, events, 1)
	assert.Equal(t, levy.AuditCollection, events[0].Activity)
}

func TestConfirm_NotDue_RejectedAsDuplicate(t *testing.T) {
	m := fixture()
	svc := newService(m)
	ctx := context.Background()

	_, err := svc.Confirm(ctx, confirmInput("ref-1"))
	require.NoError(t, err)

	// Three days later the weekly levy is not yet due.
	svc.Now = func() time.Time { return now.AddDate(0, 0, 3) }
	_, err = svc.Confirm(ctx, confirmInput("ref-2"))

	var dup *levy.DuplicateCollectionError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "2025-06-27", dup.NextDueDate.String())

	// A week later it is.
	svc.Now = func() time.Time { return now.AddDate(0, 0, 7) }
	receipt, err := svc.Confirm(ctx, confirmInput("ref-3"))
	require.NoError(t, err)
	assert.Equal(t, "weekly:2025-06-27", receipt.Record.WindowKey)
}

func TestConfirm_IdempotentReplay(t *testing.T) {
	m := fixture()
	svc := newService(m)
	ctx := context.Background()

	first, err := svc.Confirm(ctx, confirmInput("ref-1"))
	require.NoError(t, err)

	again, err := svc.Confirm(ctx, confirmInput("ref-1"))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Record.ID, again.Record.ID)

	history, _ := m.History(ctx, "trader-1")
	assert.Len(t, history, 1)
	assert.Len(t, m.AuditEvents(), 1)
}

func TestConfirm_KeyReusedForDifferentCollection(t *testing.T) {
	// GIVEN: A confirmation stored under ref-1
	// WHEN: ref-1 arrives again with a different payload
	// THEN: It is a duplicate; no receipt is replayed and nothing is written
	tests := []struct {
		name   string
		change func(m *store.Memory, in *collection.ConfirmInput)
	}{
		{
			name: "different agent",
			change: func(m *store.Memory, in *collection.ConfirmInput) {
				m.SaveAgent(levy.Agent{ID: "gb-2", Name: "Kunle", MarketID: "oja-oba", CaretakerID: "ct-1"})
				in.Actor = levy.Actor{ID: "gb-2", Role: levy.RoleGoodboy}
				in.AgentID = "gb-2"
			},
		},
		{
			name: "different amount",
			change: func(m *store.Memory, in *collection.ConfirmInput) {
				in.Amount = naira(9999)
			},
		},
		{
			name: "different method",
			change: func(m *store.Memory, in *collection.ConfirmInput) {
				in.Method = levy.MethodCard
			},
		},
		{
			name: "different trader",
			change: func(m *store.Memory, in *collection.ConfirmInput) {
				m.SaveTrader(levy.Trader{
					ID:            "trader-2",
					BusinessName:  "Baba Sule Spices",
					OccupancyType: levy.OccupancyShop,
					MarketID:      "oja-oba",
					CaretakerID:   "ct-1",
					TaxID:         "TIN-0002",
				})
				in.TraderIdentifier = "TIN-0002"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := fixture()
			svc := newService(m)
			ctx := context.Background()

			_, err := svc.Confirm(ctx, confirmInput("ref-1"))
			require.NoError(t, err)

			in := confirmInput("ref-1")
			tt.change(m, &in)
			receipt, err := svc.Confirm(ctx, in)

			assert.ErrorIs(t, err, levy.ErrDuplicateCollection)
			assert.Nil(t, receipt)
			history, _ := m.History(ctx, "trader-1")
			assert.Len(t, history, 1)
			other, _ := m.History(ctx, "trader-2")
			assert.Empty(t, other)
			assert.Len(t, m.AuditEvents(), 1)
		})
	}
}

func TestConfirm_ConcurrentConfirmsPersistOnce(t *testing.T) {
	// GIVEN: Two agents' devices confirm the same trader at the same moment
	// THEN: Exactly one record is written; the other is a duplicate
	m := fixture()
	svc := newService(m)
	ctx := context.Background()

	const attempts = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, dups int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Confirm(ctx, confirmInput("ref-"+string(rune('a'+i))))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, levy.ErrDuplicateCollection):
				dups++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, dups)
	history, _ := m.History(ctx, "trader-1")
	assert.Len(t, history, 1)
}

func TestConfirm_Validation(t *testing.T) {
	svc := newService(fixture())
	ctx := context.Background()

	in := confirmInput("ref-1")
	in.Amount = naira(-500)
	_, err := svc.Confirm(ctx, in)
	assert.ErrorIs(t, err, levy.ErrValidation)

	in = confirmInput("ref-1")
	in.Method = "barter"
	_, err = svc.Confirm(ctx, in)
	assert.ErrorIs(t, err, levy.ErrValidation)

	in = confirmInput("ref-1")
	in.Period = "monthly"
	_, err = svc.Confirm(ctx, in)
	var vErr *levy.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "period", vErr.Field)

	in = confirmInput("ref-1")
	in.Period = "Weekly"
	_, err = svc.Confirm(ctx, in)
	assert.NoError(t, err)
}

func TestConfirm_Unauthorized_NothingWritten(t *testing.T) {
	m := fixture()
	svc := newService(m)
	ctx := context.Background()

	in := confirmInput("ref-1")
	in.Actor = gbBodija
	in.AgentID = "gb-bodija"
	_, err := svc.Confirm(ctx, in)

	assert.ErrorIs(t, err, levy.ErrUnauthorized)
	history, _ := m.History(ctx, "trader-1")
	assert.Empty(t, history)
	assert.Empty(t, m.AuditEvents())
}

func TestConfirm_PersistenceFailure_NotRecorded(t *testing.T) {
	m := fixture()
	svc := newService(&brokenStore{Memory: m})
	ctx := context.Background()

	_, err := svc.Confirm(ctx, confirmInput("ref-1"))

	require.ErrorIs(t, err, levy.ErrPersistence)
	var pErr *levy.PersistenceError
	require.ErrorAs(t, err, &pErr)
	assert.False(t, pErr.Recorded)
	assert.True(t, levy.IsRetryable(err))

	// The audit event written before the failed insert was rolled back.
	assert.Empty(t, m.AuditEvents())
	history, _ := m.History(ctx, "trader-1")
	assert.Empty(t, history)
}

func TestConfirm_ObserversNotifiedAfterCommit(t *testing.T) {
	m := fixture()
	svc := newService(m)
	observer := store.NewMemory()
	svc.Observers = []levy.AuditSink{observer}

	_, err := svc.Confirm(context.Background(), confirmInput("ref-1"))
	require.NoError(t, err)

	events := observer.AuditEvents()
	require.Len(t, events, 1)
	assert.Equal(t, levy.AuditCollection, events[0].Activity)
}
