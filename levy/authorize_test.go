package levy_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/levy-engine/levy"
)

func TestAuthorize(t *testing.T) {
	trader := levy.Trader{ID: "t1", MarketID: "oja-oba", CaretakerID: "ct-1"}

	tests := []struct {
		name   string
		agent  levy.Agent
		trader levy.Trader
		reason levy.AuthReason
	}{
		{
			name:   "same market and caretaker",
			agent:  levy.Agent{ID: "a1", MarketID: "oja-oba", CaretakerID: "ct-1"},
			trader: trader,
		},
		{
			name:   "trader without caretaker admits any agent in market",
			agent:  levy.Agent{ID: "a1", MarketID: "oja-oba", CaretakerID: "ct-9"},
			trader: levy.Trader{ID: "t2", MarketID: "oja-oba"},
		},
		{
			name:   "different caretaker",
			agent:  levy.Agent{ID: "a1", MarketID: "oja-oba", CaretakerID: "ct-2"},
			trader: trader,
			reason: levy.SupervisorMismatch,
		},
		{
			name:   "agent without caretaker for supervised trader",
			agent:  levy.Agent{ID: "a1", MarketID: "oja-oba"},
			trader: trader,
			reason: levy.SupervisorMismatch,
		},
		{
			name:   "different market, trader without caretaker",
			agent:  levy.Agent{ID: "a1", MarketID: "bodija"},
			trader: levy.Trader{ID: "t2", MarketID: "oja-oba"},
			reason: levy.MarketMismatch,
		},
		{
			name:   "market mismatch reported before supervisor mismatch",
			agent:  levy.Agent{ID: "a1", MarketID: "bodija", CaretakerID: "ct-2"},
			trader: trader,
			reason: levy.MarketMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := levy.Authorize(tt.agent, tt.trader)
			if tt.reason == "" {
				assert.NoError(t, err)
				assert.True(t, levy.InJurisdiction(tt.agent, tt.trader))
				return
			}

			require.Error(t, err)
			assert.True(t, errors.Is(err, levy.ErrUnauthorized))
			var authErr *levy.AuthError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, tt.reason, authErr.Reason)
			assert.True(t, levy.IsClientError(err))
			assert.False(t, levy.IsRetryable(err))
		})
	}
}

func TestPermitAgent(t *testing.T) {
	agent := levy.Agent{ID: "gb-1", MarketID: "oja-oba", CaretakerID: "ct-1"}

	assert.NoError(t, levy.PermitAgent(levy.Actor{ID: "gb-1", Role: levy.RoleGoodboy}, levy.ActionQuote, agent))
	assert.NoError(t, levy.PermitAgent(levy.Actor{ID: "root", Role: levy.RoleAdmin}, levy.ActionConfirm, agent))
	assert.NoError(t, levy.PermitAgent(levy.Actor{ID: "ct-1", Role: levy.RoleCaretaker}, levy.ActionViewDashboard, agent))

	// Goodboys cannot act for each other.
	err := levy.PermitAgent(levy.Actor{ID: "gb-2", Role: levy.RoleGoodboy}, levy.ActionQuote, agent)
	assert.ErrorIs(t, err, levy.ErrUnauthorized)

	// Caretakers see dashboards but do not collect.
	err = levy.PermitAgent(levy.Actor{ID: "ct-1", Role: levy.RoleCaretaker}, levy.ActionConfirm, agent)
	var roleErr *levy.RoleError
	assert.ErrorAs(t, err, &roleErr)

	// Caretakers only see their own agents.
	err = levy.PermitAgent(levy.Actor{ID: "ct-2", Role: levy.RoleCaretaker}, levy.ActionViewDashboard, agent)
	assert.ErrorIs(t, err, levy.ErrUnauthorized)

	// Vendors have no collection rights.
	assert.Error(t, levy.Permit(levy.Actor{ID: "v1", Role: levy.RoleVendor}, levy.ActionViewRates))
}

func TestRateSetting_Validate(t *testing.T) {
	valid := levy.RateSetting{MarketID: "m", OccupancyType: levy.OccupancyKiosk, Amount: naira(0), Period: levy.PeriodDaily}
	assert.NoError(t, valid.Validate())

	negative := valid
	negative.Amount = naira(-1)
	assert.ErrorIs(t, negative.Validate(), levy.ErrValidation)

	badPeriod := valid
	badPeriod.Period = "hourly"
	var vErr *levy.ValidationError
	require.ErrorAs(t, badPeriod.Validate(), &vErr)
	assert.Equal(t, "period", vErr.Field)

	badType := valid
	badType.OccupancyType = "mall"
	assert.ErrorIs(t, badType.Validate(), levy.ErrValidation)
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, levy.IsNotFound(levy.ErrTraderNotFound))
	assert.True(t, levy.IsNotFound(levy.ErrAgentNotFound))
	assert.True(t, levy.IsClientError(&levy.DuplicateCollectionError{TraderID: "t1", WindowKey: "weekly:2025-01-01"}))

	pe := &levy.PersistenceError{Op: "confirm", Err: errors.New("disk full")}
	assert.True(t, levy.IsRetryable(pe))
	assert.False(t, levy.IsClientError(pe))
	assert.Contains(t, pe.Error(), "recorded: false")
}
