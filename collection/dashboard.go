package collection

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/levy-engine/levy"
)

// =============================================================================
// DASHBOARD AGGREGATOR
// =============================================================================

const maxPageSize = 100

type DashboardInput struct {
	Actor   levy.Actor
	AgentID levy.AgentID

	// From and To bound the window, inclusive. Nil means first day of the
	// current month through today.
	From *levy.Date
	To   *levy.Date

	// Search filters payments by payer name, case-insensitively.
	Search  string
	Page    int
	PerPage int
}

type Dashboard struct {
	AgentID levy.AgentID
	From    levy.Date
	To      levy.Date

	// TraderCount is every trader the agent may collect from. Not windowed.
	TraderCount int

	// TotalLevies sums the agent's collections in the window, before search.
	TotalLevies decimal.Decimal

	Payments   []levy.CollectionEntry
	Page       int
	PerPage    int
	Total      int // payments matching the search
	TotalPages int
}

// Dashboard summarizes an agent's collections. Search is applied to the
// whole window before slicing out the requested page.
func (s *Service) Dashboard(ctx context.Context, in DashboardInput) (*Dashboard, error) {
	if in.AgentID == "" {
		return nil, &levy.ValidationError{Field: "agent", Message: "is required"}
	}
	if err := levy.Permit(in.Actor, levy.ActionViewDashboard); err != nil {
		return nil, err
	}

	agent, err := s.Store.Agent(ctx, in.AgentID)
	if err != nil {
		return nil, s.classify("dashboard", err)
	}
	if agent == nil {
		return nil, levy.ErrAgentNotFound
	}
	if err := levy.PermitAgent(in.Actor, levy.ActionViewDashboard, *agent); err != nil {
		return nil, err
	}

	_, today := s.today()
	from := levy.StartOfMonth(today)
	to := today
	if in.From != nil {
		from = *in.From
	}
	if in.To != nil {
		to = *in.To
	}
	if to.Before(from) {
		return nil, &levy.ValidationError{Field: "to", Message: "must not be before from"}
	}

	page, perPage := in.Page, in.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = s.DefaultPageSize
	}
	if perPage < 1 {
		perPage = 10
	}
	if perPage > maxPageSize {
		perPage = maxPageSize
	}

	traders, err := s.Store.TradersInMarket(ctx, agent.MarketID)
	if err != nil {
		return nil, s.classify("dashboard", err)
	}
	count := 0
	for _, t := range traders {
		if levy.InJurisdiction(*agent, t) {
			count++
		}
	}

	entries, err := s.Store.Collections(ctx, agent.ID, from.Start(s.Location), to.AddDays(1).Start(s.Location))
	if err != nil {
		return nil, s.classify("dashboard", err)
	}

	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(e.Record.Amount)
	}

	filtered := filterByPayer(entries, in.Search)
	d := &Dashboard{
		AgentID:     agent.ID,
		From:        from,
		To:          to,
		TraderCount: count,
		TotalLevies: total,
		Payments:    paginate(filtered, page, perPage),
		Page:        page,
		PerPage:     perPage,
		Total:       len(filtered),
		TotalPages:  (len(filtered) + perPage - 1) / perPage,
	}
	return d, nil
}

func filterByPayer(entries []levy.CollectionEntry, search string) []levy.CollectionEntry {
	needle := strings.ToLower(strings.TrimSpace(search))
	if needle == "" {
		return entries
	}
	var out []levy.CollectionEntry
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.PayerName), needle) {
			out = append(out, e)
		}
	}
	return out
}

func paginate(entries []levy.CollectionEntry, page, perPage int) []levy.CollectionEntry {
	start := (page - 1) * perPage
	if start >= len(entries) {
		return []levy.CollectionEntry{}
	}
	end := start + perPage
	if end > len(entries) {
		end = len(entries)
	}
	return entries[start:end]
}
