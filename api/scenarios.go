/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	market data for demos and integration tests. Each scenario is a YAML
	file under scenarios/ embedded into the binary.

AVAILABLE SCENARIOS:

	market-day:  One market, arrears, a settled trader, an unconfigured
	             occupancy type and an agent from another market
	rate-change: A shop rate raised mid-month with setup records

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create caretakers, agents and traders
 3. Activate rates in file order (later entries supersede earlier ones)
 4. Append payment history, dated relative to today

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "market-day"}

USAGE VIA CLI:

	levyd seed market-day

ADDING NEW SCENARIOS:
 1. Add scenarios/<id>.yaml
 2. Nothing else; files are discovered at startup

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Other handlers
  - cmd/levyd/admin.go: levyd seed
*/
package api

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/levy-engine/levy"
	"github.com/warp/levy-engine/store/sqlite"
	"gopkg.in/yaml.v3"
)

//go:embed scenarios/*.yaml
var scenarioFiles embed.FS

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// Scenario is the YAML layout of a demo scenario.
type Scenario struct {
	ScenarioDTO `yaml:",inline"`

	Caretakers []struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		MarketID string `yaml:"market_id"`
	} `yaml:"caretakers"`

	Agents []struct {
		ID          string `yaml:"id"`
		Name        string `yaml:"name"`
		MarketID    string `yaml:"market_id"`
		CaretakerID string `yaml:"caretaker_id"`
	} `yaml:"agents"`

	Traders []struct {
		ID            string `yaml:"id"`
		BusinessName  string `yaml:"business_name"`
		OccupancyType string `yaml:"occupancy_type"`
		MarketID      string `yaml:"market_id"`
		CaretakerID   string `yaml:"caretaker_id"`
		TaxID         string `yaml:"tax_id"`
	} `yaml:"traders"`

	Rates []struct {
		ID            string `yaml:"id"`
		MarketID      string `yaml:"market_id"`
		OccupancyType string `yaml:"occupancy_type"`
		Amount        string `yaml:"amount"`
		Period        string `yaml:"period"`
		RecordSetup   bool   `yaml:"record_setup"`
	} `yaml:"rates"`

	Payments []struct {
		ID          string `yaml:"id"`
		TraderID    string `yaml:"trader_id"`
		CollectedBy string `yaml:"collected_by"`
		Amount      string `yaml:"amount"`
		Period      string `yaml:"period"`
		Status      string `yaml:"status"`
		Method      string `yaml:"method"`
		DaysAgo     int    `yaml:"days_ago"`
		DueDaysAgo  *int   `yaml:"due_days_ago"`
	} `yaml:"payments"`
}

// Scenarios returns every embedded scenario, sorted by ID.
func Scenarios() ([]Scenario, error) {
	entries, err := scenarioFiles.ReadDir("scenarios")
	if err != nil {
		return nil, err
	}

	var out []Scenario
	for _, e := range entries {
		data, err := scenarioFiles.ReadFile(path.Join("scenarios", e.Name()))
		if err != nil {
			return nil, err
		}
		var s Scenario
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to parse scenario %s: %w", e.Name(), err)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func findScenario(id string) (*Scenario, error) {
	all, err := Scenarios()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == id {
			return &all[i], nil
		}
	}
	return nil, &levy.ValidationError{Field: "scenario_id", Message: "unknown scenario " + id}
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	all, err := Scenarios()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read scenarios", err)
		return
	}

	dtos := make([]ScenarioDTO, 0, len(all))
	for _, s := range all {
		dtos = append(dtos, s.ScenarioDTO)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	s, err := findScenario(h.currentScenario)
	if err != nil {
		writeJSON(w, http.StatusOK, ScenarioDTO{ID: h.currentScenario, Name: h.currentScenario})
		return
	}
	writeJSON(w, http.StatusOK, s.ScenarioDTO)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	h.currentScenario = ""
	if err := SeedScenario(r.Context(), h.Store, req.ScenarioID, h.Collections.Now(), h.Location); err != nil {
		writeDomainError(w, "failed to load scenario", err)
		return
	}
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeDomainError(w, "failed to reset database", err)
		return
	}
	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADER
// =============================================================================

// SeedScenario resets store and loads scenario id. Payment dates are
// relative to now in loc.
func SeedScenario(ctx context.Context, store *sqlite.Store, id string, now time.Time, loc *time.Location) error {
	s, err := findScenario(id)
	if err != nil {
		return err
	}
	if err := store.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset database: %w", err)
	}

	for _, c := range s.Caretakers {
		if err := store.SaveCaretaker(ctx, levy.Caretaker{ID: levy.CaretakerID(c.ID), Name: c.Name, MarketID: levy.MarketID(c.MarketID)}); err != nil {
			return fmt.Errorf("caretaker %s: %w", c.ID, err)
		}
	}
	for _, a := range s.Agents {
		agent := levy.Agent{ID: levy.AgentID(a.ID), Name: a.Name, MarketID: levy.MarketID(a.MarketID), CaretakerID: levy.CaretakerID(a.CaretakerID)}
		if err := store.SaveAgent(ctx, agent); err != nil {
			return fmt.Errorf("agent %s: %w", a.ID, err)
		}
	}
	for _, t := range s.Traders {
		trader := levy.Trader{
			ID:            levy.TraderID(t.ID),
			BusinessName:  t.BusinessName,
			OccupancyType: levy.OccupancyType(t.OccupancyType),
			MarketID:      levy.MarketID(t.MarketID),
			CaretakerID:   levy.CaretakerID(t.CaretakerID),
			TaxID:         t.TaxID,
		}
		if err := store.SaveTrader(ctx, trader); err != nil {
			return fmt.Errorf("trader %s: %w", t.ID, err)
		}
	}

	// Payments go in before rates so that setup records written by a
	// later rate activation follow the history they document.
	today := levy.DateOf(now, loc)
	for _, p := range s.Payments {
		amount, err := decimal.NewFromString(p.Amount)
		if err != nil {
			return fmt.Errorf("payment %s amount: %w", p.ID, err)
		}
		trader, err := store.GetTrader(ctx, levy.TraderID(p.TraderID))
		if err != nil {
			return err
		}
		if trader == nil {
			return fmt.Errorf("payment %s: %w", p.ID, levy.ErrTraderNotFound)
		}

		rec := levy.PaymentRecord{
			ID:            levy.RecordID(p.ID),
			TraderID:      trader.ID,
			CollectedBy:   levy.AgentID(p.CollectedBy),
			Amount:        amount,
			Period:        levy.ParsePeriod(p.Period),
			OccupancyType: trader.OccupancyType,
			Method:        levy.PaymentMethod(p.Method),
			Status:        levy.PaymentStatus(p.Status),
			PaymentDate:   now.AddDate(0, 0, -p.DaysAgo),
			WindowKey:     "scenario:" + p.ID,
			CreatedAt:     now,
		}
		if rec.Method == "" {
			rec.Method = levy.MethodCash
		}
		if !rec.Status.Valid() {
			return fmt.Errorf("payment %s: unknown status %q", p.ID, p.Status)
		}
		if p.DueDaysAgo != nil {
			due := today.AddDays(-*p.DueDaysAgo)
			rec.DueDate = &due
		}
		if err := store.AppendPayment(ctx, rec); err != nil {
			return fmt.Errorf("payment %s: %w", p.ID, err)
		}
	}

	for _, r := range s.Rates {
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil {
			return fmt.Errorf("rate %s amount: %w", r.ID, err)
		}
		_, _, err = store.ActivateRate(ctx, levy.RateSetting{
			ID:            r.ID,
			MarketID:      levy.MarketID(r.MarketID),
			OccupancyType: levy.OccupancyType(r.OccupancyType),
			Amount:        amount,
			Period:        levy.ParsePeriod(r.Period),
			CreatedBy:     levy.System.ID,
		}, r.RecordSetup)
		if err != nil {
			return fmt.Errorf("rate %s: %w", r.ID, err)
		}
	}

	return nil
}
