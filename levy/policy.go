package levy

import "fmt"

// =============================================================================
// ROLE POLICY - One place for "may this caller do that?"
// =============================================================================

// Role is the claim supplied by the identity service. The engine trusts it.
type Role string

const (
	RoleGoodboy   Role = "goodboy"
	RoleCaretaker Role = "caretaker"
	RoleAdmin     Role = "admin"
	RoleVendor    Role = "vendor"
)

func (r Role) Valid() bool {
	switch r {
	case RoleGoodboy, RoleCaretaker, RoleAdmin, RoleVendor:
		return true
	}
	return false
}

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role Role
}

// System is the actor used by CLI seeding and scenario loading.
var System = Actor{ID: "system", Role: RoleAdmin}

type Action string

const (
	ActionQuote           Action = "levy.quote"
	ActionConfirm         Action = "levy.confirm"
	ActionViewDashboard   Action = "levy.dashboard"
	ActionViewHistory     Action = "levy.history"
	ActionManageRates     Action = "rates.manage"
	ActionViewRates       Action = "rates.view"
	ActionViewDirectory   Action = "directory.view"
	ActionManageDirectory Action = "directory.manage"
	ActionViewAudit       Action = "audit.view"
	ActionLoadScenario    Action = "scenario.load"
)

var grants = map[Action][]Role{
	ActionQuote:           {RoleGoodboy, RoleAdmin},
	ActionConfirm:         {RoleGoodboy, RoleAdmin},
	ActionViewDashboard:   {RoleGoodboy, RoleCaretaker, RoleAdmin},
	ActionViewHistory:     {RoleGoodboy, RoleCaretaker, RoleAdmin},
	ActionManageRates:     {RoleAdmin},
	ActionViewRates:       {RoleGoodboy, RoleCaretaker, RoleAdmin},
	ActionViewDirectory:   {RoleGoodboy, RoleCaretaker, RoleAdmin},
	ActionManageDirectory: {RoleCaretaker, RoleAdmin},
	ActionViewAudit:       {RoleAdmin},
	ActionLoadScenario:    {RoleAdmin},
}

// RoleError is returned when the actor's role does not grant the action.
type RoleError struct {
	Actor  Actor
	Action Action
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("%s %q may not perform %s", e.Actor.Role, e.Actor.ID, e.Action)
}

func (e *RoleError) Unwrap() error { return ErrUnauthorized }

// Permit checks the role table.
func Permit(actor Actor, action Action) error {
	for _, r := range grants[action] {
		if r == actor.Role {
			return nil
		}
	}
	return &RoleError{Actor: actor, Action: action}
}

// PermitAgent checks the role table and that the actor may act for agent:
// goodboys only as themselves, caretakers only for agents they supervise.
func PermitAgent(actor Actor, action Action, agent Agent) error {
	if err := Permit(actor, action); err != nil {
		return err
	}
	switch actor.Role {
	case RoleAdmin:
		return nil
	case RoleGoodboy:
		if AgentID(actor.ID) == agent.ID {
			return nil
		}
	case RoleCaretaker:
		if agent.CaretakerID != "" && CaretakerID(actor.ID) == agent.CaretakerID {
			return nil
		}
	}
	return &RoleError{Actor: actor, Action: action}
}
