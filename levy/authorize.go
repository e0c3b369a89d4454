package levy

import "fmt"

// =============================================================================
// COLLECTION AUTHORIZATION GATE
// =============================================================================

type AuthReason string

const (
	MarketMismatch     AuthReason = "market_mismatch"
	SupervisorMismatch AuthReason = "supervisor_mismatch"
)

// AuthError is returned when an agent may not collect from a trader.
type AuthError struct {
	Reason   AuthReason
	AgentID  AgentID
	TraderID TraderID
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("agent %s may not collect from trader %s: %s", e.AgentID, e.TraderID, e.Reason)
}

func (e *AuthError) Unwrap() error { return ErrUnauthorized }

// Authorize verifies the agent works the trader's market and, when the
// trader has a caretaker, answers to that same caretaker. The market check
// always runs first.
func Authorize(agent Agent, trader Trader) error {
	if agent.MarketID != trader.MarketID {
		return &AuthError{Reason: MarketMismatch, AgentID: agent.ID, TraderID: trader.ID}
	}
	if trader.CaretakerID != "" && agent.CaretakerID != trader.CaretakerID {
		return &AuthError{Reason: SupervisorMismatch, AgentID: agent.ID, TraderID: trader.ID}
	}
	return nil
}

// InJurisdiction reports whether Authorize would admit the agent for the
// trader.
func InJurisdiction(agent Agent, trader Trader) bool {
	return Authorize(agent, trader) == nil
}
