package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/warp/levy-engine/collection"
	"github.com/warp/levy-engine/levy"
)

// =============================================================================
// COLLECTION ENDPOINTS
// =============================================================================

// Quote answers a card scan. Failures carry no breakdown or amounts.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	actor, _ := ActorFrom(r.Context())
	q, err := h.Collections.Quote(r.Context(), collection.QuoteInput{
		Actor:            actor,
		TraderIdentifier: req.Trader,
		AgentID:          levy.AgentID(req.Agent),
	})
	if err != nil {
		writeDomainError(w, "quote failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toQuoteDTO(q, h.Location))
}

// Confirm records a collection. Every response says whether it was recorded.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ConfirmErrorResponse{
			ErrorResponse: ErrorResponse{Error: "invalid request body", Code: "validation", Details: err.Error()},
		})
		return
	}

	actor, _ := ActorFrom(r.Context())
	receipt, err := h.Collections.Confirm(r.Context(), collection.ConfirmInput{
		Actor:            actor,
		TraderIdentifier: req.Trader,
		AgentID:          levy.AgentID(req.Agent),
		Amount:           req.Amount,
		Period:           req.Period,
		Method:           levy.PaymentMethod(req.Method),
		IdempotencyKey:   req.IdempotencyKey,
		Incentive:        req.Incentive,
		Note:             req.Note,
	})
	if err != nil {
		status, code := statusFor(err)
		resp := ConfirmErrorResponse{ErrorResponse: ErrorResponse{Error: "collection not recorded", Code: code, Details: err.Error()}}
		var pErr *levy.PersistenceError
		if errors.As(err, &pErr) {
			resp.Recorded = pErr.Recorded
		}
		writeJSON(w, status, resp)
		return
	}

	status := http.StatusCreated
	if receipt.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, toReceiptDTO(receipt, h.Location))
}

// Dashboard lists an agent's collections.
// Query: from, to (YYYY-MM-DD), search, page, per_page.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := collection.DashboardInput{
		AgentID: levy.AgentID(chi.URLParam(r, "id")),
		Search:  q.Get("search"),
	}
	in.Actor, _ = ActorFrom(r.Context())

	for _, p := range []struct {
		name string
		dst  **levy.Date
	}{{"from", &in.From}, {"to", &in.To}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		d, err := levy.ParseDate(raw)
		if err != nil {
			writeDomainError(w, "invalid query", &levy.ValidationError{Field: p.name, Message: "must be YYYY-MM-DD"})
			return
		}
		*p.dst = &d
	}
	in.Page, _ = strconv.Atoi(q.Get("page"))
	in.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	d, err := h.Collections.Dashboard(r.Context(), in)
	if err != nil {
		writeDomainError(w, "dashboard failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardDTO(d, h.Location))
}
