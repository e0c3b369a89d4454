/*
handlers.go - HTTP API handlers for the levy engine

PURPOSE:
  Exposes the collection workflow and the directory/rate registry via REST.
  Handles HTTP request/response, JSON serialization, and delegates to the
  collection service and the sqlite store.

ENDPOINTS:
  Collections (collections.go):
    POST   /api/collections/quote          Quote what a trader owes
    POST   /api/collections/confirm        Record a collection
    GET    /api/agents/{id}/dashboard      Agent's collections summary

  Traders:
    GET    /api/traders                    List traders (?market=)
    POST   /api/traders                    Create trader
    GET    /api/traders/{id}               Get trader
    PUT    /api/traders/{id}               Update trader (may write a setup record)
    DELETE /api/traders/{id}               Delete trader without payments
    GET    /api/traders/{id}/payments      Payment history

  Agents / Caretakers:
    GET    /api/agents, /api/caretakers    List (?market=)
    POST   /api/agents, /api/caretakers    Create or replace

  Rates:
    GET    /api/rates                      Active rates (?market=)
    POST   /api/rates                      Activate a rate (supersedes)
    GET    /api/rates/history              ?market=&occupancy_type=

  Audit:
    GET    /api/audit                      ?actor=&limit=

REQUEST FLOW:
  1. Authenticate (auth.go) and check the role table
  2. Parse and validate input
  3. Call the collection service or the store
  4. Serialize response

ERROR HANDLING:
  Domain errors map to HTTP status in statusFor:
  - 400: levy.ErrValidation, malformed JSON
  - 403: levy.ErrUnauthorized
  - 404: levy.ErrNotFound
  - 409: levy.ErrDuplicateCollection, levy.ErrTraderHasPayments
  - 422: levy.ErrRateNotConfigured
  - 503: levy.ErrPersistence (retryable)
  - 500: anything else

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/warp/levy-engine/collection"
	"github.com/warp/levy-engine/levy"
	"github.com/warp/levy-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       *sqlite.Store
	Collections *collection.Service
	Location    *time.Location

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a handler over store. The collection service shares
// the store and the levy timezone.
func NewHandler(store *sqlite.Store, loc *time.Location) *Handler {
	svc := collection.NewService(store, loc)
	return &Handler{
		Store:       store,
		Collections: svc,
		Location:    svc.Location,
	}
}

// Health reports whether the database answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// TRADER ENDPOINTS
// =============================================================================

func (h *Handler) ListTraders(w http.ResponseWriter, r *http.Request) {
	traders, err := h.Store.ListTraders(r.Context(), levy.MarketID(r.URL.Query().Get("market")))
	if err != nil {
		writeDomainError(w, "failed to list traders", err)
		return
	}

	dtos := make([]TraderDTO, 0, len(traders))
	for _, t := range traders {
		dtos = append(dtos, toTraderDTO(t))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetTrader(w http.ResponseWriter, r *http.Request) {
	trader, err := h.Store.GetTrader(r.Context(), levy.TraderID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "failed to get trader", err)
		return
	}
	if trader == nil {
		writeDomainError(w, "trader not found", levy.ErrTraderNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toTraderDTO(*trader))
}

func (h *Handler) CreateTrader(w http.ResponseWriter, r *http.Request) {
	var req TraderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	trader, err := traderFromRequest(req)
	if err != nil {
		writeDomainError(w, "invalid trader", err)
		return
	}

	existing, err := h.Store.GetTrader(r.Context(), trader.ID)
	if err != nil {
		writeDomainError(w, "failed to create trader", err)
		return
	}
	if existing != nil {
		writeError(w, http.StatusConflict, "trader already exists", nil)
		return
	}

	if err := h.Store.SaveTrader(r.Context(), trader); err != nil {
		writeDomainError(w, "failed to create trader", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTraderDTO(trader))
}

// UpdateTrader changes a trader. Moving to another occupancy type or market
// appends a setup record for the new rate, if one is active.
func (h *Handler) UpdateTrader(w http.ResponseWriter, r *http.Request) {
	var req TraderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	req.ID = chi.URLParam(r, "id")
	trader, err := traderFromRequest(req)
	if err != nil {
		writeDomainError(w, "invalid trader", err)
		return
	}

	actor, _ := ActorFrom(r.Context())
	updated, setup, err := h.Store.UpdateTrader(r.Context(), trader, actor.ID)
	if err != nil {
		writeDomainError(w, "failed to update trader", err)
		return
	}

	resp := UpdateTraderResponse{Trader: toTraderDTO(*updated)}
	if setup != nil {
		dto := toPaymentDTO(*setup, h.Location)
		resp.SetupRecord = &dto
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) DeleteTrader(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteTrader(r.Context(), levy.TraderID(chi.URLParam(r, "id"))); err != nil {
		writeDomainError(w, "failed to delete trader", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetPayments returns the trader's full history, setup records included,
// oldest first.
func (h *Handler) GetPayments(w http.ResponseWriter, r *http.Request) {
	id := levy.TraderID(chi.URLParam(r, "id"))
	trader, err := h.Store.GetTrader(r.Context(), id)
	if err != nil {
		writeDomainError(w, "failed to get payments", err)
		return
	}
	if trader == nil {
		writeDomainError(w, "trader not found", levy.ErrTraderNotFound)
		return
	}

	history, err := h.Store.History(r.Context(), id)
	if err != nil {
		writeDomainError(w, "failed to get payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTOs(history, h.Location))
}

func traderFromRequest(req TraderRequest) (levy.Trader, error) {
	t := levy.Trader{
		ID:            levy.TraderID(req.ID),
		BusinessName:  req.BusinessName,
		OccupancyType: levy.OccupancyType(req.OccupancyType),
		MarketID:      levy.MarketID(req.MarketID),
		CaretakerID:   levy.CaretakerID(req.CaretakerID),
		TaxID:         req.TaxID,
	}
	switch {
	case t.BusinessName == "":
		return t, &levy.ValidationError{Field: "business_name", Message: "is required"}
	case t.MarketID == "":
		return t, &levy.ValidationError{Field: "market_id", Message: "is required"}
	case !t.OccupancyType.Valid():
		return t, &levy.ValidationError{Field: "occupancy_type", Message: "unknown occupancy type " + req.OccupancyType}
	}
	return t, nil
}

// =============================================================================
// AGENT & CARETAKER ENDPOINTS
// =============================================================================

func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Store.ListAgents(r.Context(), levy.MarketID(r.URL.Query().Get("market")))
	if err != nil {
		writeDomainError(w, "failed to list agents", err)
		return
	}

	dtos := make([]AgentDTO, 0, len(agents))
	for _, a := range agents {
		dtos = append(dtos, toAgentDTO(a))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req AgentDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" || req.MarketID == "" {
		writeDomainError(w, "invalid agent", &levy.ValidationError{Field: "agent", Message: "id, name and market_id are required"})
		return
	}

	agent := levy.Agent{
		ID:          levy.AgentID(req.ID),
		Name:        req.Name,
		MarketID:    levy.MarketID(req.MarketID),
		CaretakerID: levy.CaretakerID(req.CaretakerID),
	}
	if err := h.Store.SaveAgent(r.Context(), agent); err != nil {
		writeDomainError(w, "failed to save agent", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAgentDTO(agent))
}

func (h *Handler) ListCaretakers(w http.ResponseWriter, r *http.Request) {
	caretakers, err := h.Store.ListCaretakers(r.Context(), levy.MarketID(r.URL.Query().Get("market")))
	if err != nil {
		writeDomainError(w, "failed to list caretakers", err)
		return
	}

	dtos := make([]CaretakerDTO, 0, len(caretakers))
	for _, c := range caretakers {
		dtos = append(dtos, toCaretakerDTO(c))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateCaretaker(w http.ResponseWriter, r *http.Request) {
	var req CaretakerDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" || req.MarketID == "" {
		writeDomainError(w, "invalid caretaker", &levy.ValidationError{Field: "caretaker", Message: "id, name and market_id are required"})
		return
	}

	c := levy.Caretaker{ID: levy.CaretakerID(req.ID), Name: req.Name, MarketID: levy.MarketID(req.MarketID)}
	if err := h.Store.SaveCaretaker(r.Context(), c); err != nil {
		writeDomainError(w, "failed to save caretaker", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCaretakerDTO(c))
}

// =============================================================================
// RATE ENDPOINTS
// =============================================================================

func (h *Handler) ListRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.Store.ListActiveRates(r.Context(), levy.MarketID(r.URL.Query().Get("market")))
	if err != nil {
		writeDomainError(w, "failed to list rates", err)
		return
	}
	writeJSON(w, http.StatusOK, toRateDTOs(rates))
}

// ActivateRate supersedes the active rate for the pair. Recorded payments
// keep the amount and period they were collected under.
func (h *Handler) ActivateRate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	actor, _ := ActorFrom(r.Context())
	rate, setups, err := h.Store.ActivateRate(r.Context(), levy.RateSetting{
		MarketID:      levy.MarketID(req.MarketID),
		OccupancyType: levy.OccupancyType(req.OccupancyType),
		Amount:        req.Amount,
		Period:        levy.ParsePeriod(req.Period),
		CreatedBy:     actor.ID,
	}, req.RecordSetup)
	if err != nil {
		writeDomainError(w, "failed to activate rate", err)
		return
	}
	writeJSON(w, http.StatusCreated, ActivateRateResponse{Rate: toRateDTO(*rate), SetupRecords: len(setups)})
}

func (h *Handler) RateHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	market, occupancy := levy.MarketID(q.Get("market")), levy.OccupancyType(q.Get("occupancy_type"))
	if market == "" || !occupancy.Valid() {
		writeDomainError(w, "invalid query", &levy.ValidationError{Field: "query", Message: "market and a valid occupancy_type are required"})
		return
	}

	rates, err := h.Store.RateHistory(r.Context(), market, occupancy)
	if err != nil {
		writeDomainError(w, "failed to get rate history", err)
		return
	}
	writeJSON(w, http.StatusOK, toRateDTOs(rates))
}

func toRateDTOs(rates []levy.RateSetting) []RateDTO {
	dtos := make([]RateDTO, 0, len(rates))
	for _, r := range rates {
		dtos = append(dtos, toRateDTO(r))
	}
	return dtos
}

// =============================================================================
// AUDIT ENDPOINTS
// =============================================================================

func (h *Handler) ListAuditEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.Store.AuditEvents(r.Context(), r.URL.Query().Get("actor"), limit)
	if err != nil {
		writeDomainError(w, "failed to list audit events", err)
		return
	}

	dtos := make([]AuditEventDTO, 0, len(events))
	for _, e := range events {
		dtos = append(dtos, toAuditEventDTO(e, h.Location))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps err to a status and a stable code.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status, code := statusFor(err)
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: err.Error()})
}

func statusFor(err error) (int, string) {
	switch {
	case levy.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, levy.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, levy.ErrRateNotConfigured):
		return http.StatusUnprocessableEntity, "rate_not_configured"
	case errors.Is(err, levy.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, levy.ErrDuplicateCollection):
		return http.StatusConflict, "duplicate_collection"
	case errors.Is(err, levy.ErrTraderHasPayments):
		return http.StatusConflict, "trader_has_payments"
	case levy.IsRetryable(err):
		return http.StatusServiceUnavailable, "persistence"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
