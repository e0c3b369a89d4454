package sqlite_test

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
	"github.com/warp/levy-engine/store/sqlite"
)

var lagos = time.FixedZone("WAT", 60*60)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveCaretaker(ctx, levy.Caretaker{ID: "ct-1", Name: "Iya Oja", MarketID: "oja-oba"}))
	require.NoError(t, s.SaveAgent(ctx, levy.Agent{ID: "gb-1", Name: "Tunde", MarketID: "oja-oba", CaretakerID: "ct-1"}))
	require.NoError(t, s.SaveTrader(ctx, levy.Trader{
		ID: "trader-1", BusinessName: "Mama Nkechi Provisions", OccupancyType: levy.OccupancyShop,
		MarketID: "oja-oba", CaretakerID: "ct-1", TaxID: "TIN-0001",
	}))
	_, _, err := s.ActivateRate(ctx, levy.RateSetting{
		ID: "rate-shop", MarketID: "oja-oba", OccupancyType: levy.OccupancyShop,
		Amount: decimal.NewFromInt(500), Period: levy.PeriodWeekly, CreatedBy: "admin",
	}, false)
	require.NoError(t, err)
}

func paid(id, window string, at time.Time) levy.PaymentRecord {
	due := levy.DateOf(at, lagos).AddDays(7)
	return levy.PaymentRecord{
		ID:            levy.RecordID(id),
		TraderID:      "trader-1",
		CollectedBy:   "gb-1",
		Amount:        decimal.NewFromInt(500),
		Period:        levy.PeriodWeekly,
		OccupancyType: levy.OccupancyShop,
		Method:        levy.MethodCash,
		Status:        levy.StatusPaid,
		PaymentDate:   at,
		DueDate:       &due,
		WindowKey:     window,
	}
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestStore_TraderByIdentifier(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	byID, err := s.TraderByIdentifier(ctx, "trader-1")
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, levy.CaretakerID("ct-1"), byID.CaretakerID)

	byTax, err := s.TraderByIdentifier(ctx, "TIN-0001")
	require.NoError(t, err)
	require.NotNil(t, byTax)
	assert.Equal(t, byID.ID, byTax.ID)

	missing, err := s.TraderByIdentifier(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	agent, err := s.Agent(ctx, "gb-1")
	require.NoError(t, err)
	require.NotNil(t, agent)
	assert.Equal(t, levy.MarketID("oja-oba"), agent.MarketID)
}

func TestStore_SaveTrader_DuplicateTaxID(t *testing.T) {
	s := newStore(t)
	seed(t, s)

	err := s.SaveTrader(context.Background(), levy.Trader{
		ID: "trader-2", BusinessName: "Copycat", OccupancyType: levy.OccupancyKiosk,
		MarketID: "oja-oba", TaxID: "TIN-0001",
	})
	var vErr *levy.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "tax_id", vErr.Field)
}

func TestStore_DeleteTrader_GuardedByPayments(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.AppendPayment(ctx, paid("r1", "weekly:2025-05-01", time.Now())))
	assert.ErrorIs(t, s.DeleteTrader(ctx, "trader-1"), levy.ErrTraderHasPayments)

	require.NoError(t, s.SaveTrader(ctx, levy.Trader{ID: "fresh", BusinessName: "New Stall", OccupancyType: levy.OccupancyKiosk, MarketID: "oja-oba"}))
	assert.NoError(t, s.DeleteTrader(ctx, "fresh"))
	assert.ErrorIs(t, s.DeleteTrader(ctx, "fresh"), levy.ErrTraderNotFound)
}

func TestStore_DeleteTrader_SetupRecordCountsAsHistory(t *testing.T) {
	// GIVEN: A trader whose only record is a setup record
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()
	_, setups, err := s.ActivateRate(ctx, levy.RateSetting{
		ID: "rate-shop-2", MarketID: "oja-oba", OccupancyType: levy.OccupancyShop,
		Amount: decimal.NewFromInt(600), Period: levy.PeriodWeekly, CreatedBy: "admin",
	}, true)
	require.NoError(t, err)
	require.Len(t, setups, 1)

	// WHEN: Deleting the trader
	err = s.DeleteTrader(ctx, "trader-1")

	// THEN: The delete is refused and the trader is kept
	assert.ErrorIs(t, err, levy.ErrTraderHasPayments)
	trader, err := s.GetTrader(ctx, "trader-1")
	require.NoError(t, err)
	assert.NotNil(t, trader)
}

func TestStore_ActivateRate_DuplicateID(t *testing.T) {
	// GIVEN: An active rate with a known ID
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	// WHEN: Activating another setting under the same ID
	_, _, err := s.ActivateRate(ctx, levy.RateSetting{
		ID: "rate-shop", MarketID: "oja-oba", OccupancyType: levy.OccupancyShop,
		Amount: decimal.NewFromInt(700), Period: levy.PeriodWeekly, CreatedBy: "admin",
	}, false)

	// THEN: The ID is rejected and the original stays active
	var vErr *levy.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "id", vErr.Field)
	active, err := s.ActiveRate(ctx, "oja-oba", levy.OccupancyShop)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "500", active.Amount.String())
}

func TestStore_UpdateTrader_WritesSetupRecord(t *testing.T) {
	// GIVEN: A shop trader and an active warehouse rate
	// WHEN: The trader moves into a warehouse
	// THEN: A setup record documents the warehouse rate; arrears are unchanged
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	_, _, err := s.ActivateRate(ctx, levy.RateSetting{
		MarketID: "oja-oba", OccupancyType: levy.OccupancyWarehouse,
		Amount: decimal.NewFromInt(2000), Period: levy.PeriodMonthly,
	}, false)
	require.NoError(t, err)

	trader, _ := s.GetTrader(ctx, "trader-1")
	trader.OccupancyType = levy.OccupancyWarehouse
	updated, setup, err := s.UpdateTrader(ctx, *trader, "ct-1")
	require.NoError(t, err)
	assert.Equal(t, levy.OccupancyWarehouse, updated.OccupancyType)
	require.NotNil(t, setup)
	assert.True(t, setup.IsSetup)
	assert.Equal(t, "2000", setup.Amount.String())

	history, err := s.History(ctx, "trader-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.True(t, history[0].IsSetup)
	assert.Nil(t, levy.LastPaid(history))

	// Renaming alone writes nothing.
	updated.BusinessName = "Mama Nkechi Warehouse"
	_, setup, err = s.UpdateTrader(ctx, *updated, "ct-1")
	require.NoError(t, err)
	assert.Nil(t, setup)

	_, _, err = s.UpdateTrader(ctx, levy.Trader{ID: "ghost"}, "ct-1")
	assert.ErrorIs(t, err, levy.ErrTraderNotFound)
}

// =============================================================================
// RATE REGISTRY
// =============================================================================

func TestStore_ActivateRate_Supersedes(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	next, setups, err := s.ActivateRate(ctx, levy.RateSetting{
		MarketID: "oja-oba", OccupancyType: levy.OccupancyShop,
		Amount: decimal.NewFromInt(750), Period: levy.PeriodWeekly, CreatedBy: "admin",
	}, true)
	require.NoError(t, err)
	require.Len(t, setups, 1)
	assert.Equal(t, levy.TraderID("trader-1"), setups[0].TraderID)

	active, err := s.ActiveRate(ctx, "oja-oba", levy.OccupancyShop)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, next.ID, active.ID)
	assert.Equal(t, "750", active.Amount.String())

	history, err := s.RateHistory(ctx, "oja-oba", levy.OccupancyShop)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Active)
	assert.False(t, history[1].Active)

	all, err := s.ListActiveRates(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	none, err := s.ActiveRate(ctx, "oja-oba", levy.OccupancyKiosk)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestStore_ActivateRate_Invalid(t *testing.T) {
	s := newStore(t)
	_, _, err := s.ActivateRate(context.Background(), levy.RateSetting{
		MarketID: "oja-oba", OccupancyType: levy.OccupancyShop, Amount: decimal.NewFromInt(-1), Period: levy.PeriodWeekly,
	}, false)
	assert.ErrorIs(t, err, levy.ErrValidation)
}

// =============================================================================
// PAYMENT STORE
// =============================================================================

func TestStore_AppendPayment_RoundTrip(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	at := time.Date(2025, 6, 20, 9, 30, 0, 0, lagos)
	rec := paid("r1", "weekly:2025-06-20", at)
	rec.IdempotencyKey = "key-1"
	rec.Incentive = decimal.NewNullDecimal(decimal.NewFromInt(50))
	rec.Note = "morning round"
	require.NoError(t, s.AppendPayment(ctx, rec))

	history, err := s.History(ctx, "trader-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	got := history[0]
	assert.True(t, got.PaymentDate.Equal(at))
	assert.Equal(t, "500", got.Amount.String())
	assert.True(t, got.Incentive.Valid)
	assert.Equal(t, "50", got.Incentive.Decimal.String())
	require.NotNil(t, got.DueDate)
	assert.Equal(t, "2025-06-27", got.DueDate.String())
	assert.Equal(t, levy.AgentID("gb-1"), got.CollectedBy)
	assert.Equal(t, "morning round", got.Note)

	byKey, err := s.PaymentByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, byKey)
	assert.Equal(t, rec.ID, byKey.ID)
}

func TestStore_AppendPayment_WindowUniqueness(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.AppendPayment(ctx, paid("r1", "weekly:2025-06-20", now)))

	err := s.AppendPayment(ctx, paid("r2", "weekly:2025-06-20", now.Add(time.Minute)))
	var dup *levy.DuplicateCollectionError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "weekly:2025-06-20", dup.WindowKey)

	// Pending and setup records never occupy a window.
	pending := paid("r3", "weekly:2025-06-20", now)
	pending.Status = levy.StatusPending
	assert.NoError(t, s.AppendPayment(ctx, pending))
	setup := paid("r4", "weekly:2025-06-20", now)
	setup.IsSetup = true
	assert.NoError(t, s.AppendPayment(ctx, setup))

	first := paid("r5", "weekly:2025-06-27", now)
	first.IdempotencyKey = "key-1"
	require.NoError(t, s.AppendPayment(ctx, first))
	again := paid("r6", "weekly:2025-07-04", now)
	again.IdempotencyKey = "key-1"
	assert.ErrorIs(t, s.AppendPayment(ctx, again), levy.ErrDuplicateCollection)
}

func TestStore_AppendPayment_UnknownTrader(t *testing.T) {
	s := newStore(t)
	rec := paid("r1", "weekly:2025-06-20", time.Now())
	rec.TraderID = "ghost"
	assert.ErrorIs(t, s.AppendPayment(context.Background(), rec), levy.ErrTraderNotFound)
}

func TestStore_Collections(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, lagos)

	require.NoError(t, s.AppendPayment(ctx, paid("may", "w0", base.Add(-time.Hour))))
	require.NoError(t, s.AppendPayment(ctx, paid("june-1", "w1", base)))
	require.NoError(t, s.AppendPayment(ctx, paid("june-2", "w2", base.AddDate(0, 0, 7))))
	other := paid("other", "w3", base.AddDate(0, 0, 8))
	other.CollectedBy = "gb-2"
	require.NoError(t, s.AppendPayment(ctx, other))

	entries, err := s.Collections(ctx, "gb-1", base, base.AddDate(0, 1, 0))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, levy.RecordID("june-2"), entries[0].Record.ID)
	assert.Equal(t, levy.RecordID("june-1"), entries[1].Record.ID)
	assert.Equal(t, "Mama Nkechi Provisions", entries[0].PayerName)
}

func TestStore_WithTx_RollsBackOnError(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx levy.Store) error {
		require.NoError(t, tx.Record(ctx, levy.AuditEvent{ID: "e1", Activity: levy.AuditCollection, At: time.Now()}))
		require.NoError(t, tx.AppendPayment(ctx, paid("r1", "weekly:2025-06-20", time.Now())))

		// The transaction sees its own write.
		history, err := tx.History(ctx, "trader-1")
		require.NoError(t, err)
		require.Len(t, history, 1)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	history, _ := s.History(ctx, "trader-1")
	assert.Empty(t, history)
	events, _ := s.AuditEvents(ctx, "", 10)
	for _, e := range events {
		assert.NotEqual(t, "e1", e.ID)
	}
}

// =============================================================================
// END TO END
// =============================================================================

func TestStore_Confirm_RecordsCollection(t *testing.T) {
	// GIVEN: A weekly shop trader who has never paid
	s := newStore(t)
	seed(t, s)
	svc := collection.NewService(s, lagos)
	svc.Now = func() time.Time { return time.Date(2025, 6, 20, 10, 0, 0, 0, lagos) }
	ctx := context.Background()
	in := collection.ConfirmInput{
		Actor:            levy.Actor{ID: "gb-1", Role: levy.RoleGoodboy},
		TraderIdentifier: "TIN-0001",
		AgentID:          "gb-1",
		Amount:           decimal.NewFromInt(500),
		IdempotencyKey:   "device-a",
	}

	// WHEN: The agent confirms the levy
	receipt, err := svc.Confirm(ctx, in)

	// THEN: One paid record is written for today's window
	require.NoError(t, err)
	assert.False(t, receipt.Replayed)
	assert.Equal(t, "weekly:2025-06-20", receipt.Record.WindowKey)

	history, err := s.History(ctx, "trader-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, levy.StatusPaid, history[0].Status)
	assert.Equal(t, "device-a", history[0].IdempotencyKey)
	assert.Equal(t, "weekly:2025-06-20", history[0].WindowKey)

	// WHEN: The device resends the same confirmation
	again, err := svc.Confirm(ctx, in)

	// THEN: The stored record is replayed
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, receipt.Record.ID, again.Record.ID)

	// WHEN: The key is reused for a different amount
	in.Amount = decimal.NewFromInt(9999)
	_, err = svc.Confirm(ctx, in)

	// THEN: It is a duplicate and nothing new is written
	assert.ErrorIs(t, err, levy.ErrDuplicateCollection)
	history, err = s.History(ctx, "trader-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	missing, err := s.PaymentByIdempotencyKey(ctx, "device-z")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_ConcurrentConfirms_PersistOnce(t *testing.T) {
	// GIVEN: Two devices confirm the same trader at the same instant
	// THEN: Exactly one record is written
	s := newStore(t)
	seed(t, s)
	svc := collection.NewService(s, lagos)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []error
	)
	for _, key := range []string{"device-a", "device-b"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, err := svc.Confirm(ctx, collection.ConfirmInput{
				Actor:            levy.Actor{ID: "gb-1", Role: levy.RoleGoodboy},
				TraderIdentifier: "TIN-0001",
				AgentID:          "gb-1",
				Amount:           decimal.NewFromInt(500),
				IdempotencyKey:   key,
			})
			mu.Lock()
			results = append(results, err)
			mu.Unlock()
		}(key)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, levy.ErrDuplicateCollection):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, dup)

	history, err := s.History(ctx, "trader-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)

	events, err := s.AuditEvents(ctx, "gb-1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, levy.AuditCollection, events[0].Activity)
}

func TestStore_Reset(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()
	require.NoError(t, s.AppendPayment(ctx, paid("r1", "w", time.Now())))

	require.NoError(t, s.Reset(ctx))

	traders, err := s.ListTraders(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, traders)
	rates, err := s.ListActiveRates(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, rates)
}
