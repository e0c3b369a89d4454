/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the levy domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Amounts are decimal strings ("500.00") in responses. Requests accept
  either a JSON number or a string.

DATES:
  Calendar days are "YYYY-MM-DD" in the levy timezone. Instants are RFC3339.

VALIDATION:
  Validation is done in handlers and the collection workflow, not in DTOs.

SEE ALSO:
  - handlers.go, collections.go: Use these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/levy-engine/collection"
	"github.com/warp/levy-engine/levy"
)

// =============================================================================
// DIRECTORY
// =============================================================================

type TraderDTO struct {
	ID            string `json:"id"`
	BusinessName  string `json:"business_name"`
	OccupancyType string `json:"occupancy_type"`
	MarketID      string `json:"market_id"`
	CaretakerID   string `json:"caretaker_id,omitempty"`
	TaxID         string `json:"tax_id,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// TraderRequest creates or updates a trader.
type TraderRequest struct {
	ID            string `json:"id"`
	BusinessName  string `json:"business_name"`
	OccupancyType string `json:"occupancy_type"`
	MarketID      string `json:"market_id"`
	CaretakerID   string `json:"caretaker_id"`
	TaxID         string `json:"tax_id"`
}

// UpdateTraderResponse reports the setup record written when the occupancy
// type or market changed.
type UpdateTraderResponse struct {
	Trader      TraderDTO   `json:"trader"`
	SetupRecord *PaymentDTO `json:"setup_record,omitempty"`
}

type AgentDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MarketID    string `json:"market_id"`
	CaretakerID string `json:"caretaker_id,omitempty"`
}

type CaretakerDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MarketID string `json:"market_id"`
}

// =============================================================================
// RATES
// =============================================================================

type RateDTO struct {
	ID            string `json:"id"`
	MarketID      string `json:"market_id"`
	OccupancyType string `json:"occupancy_type"`
	Amount        string `json:"amount"`
	Period        string `json:"period"`
	Active        bool   `json:"active"`
	CreatedBy     string `json:"created_by,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
}

type ActivateRateRequest struct {
	MarketID      string          `json:"market_id"`
	OccupancyType string          `json:"occupancy_type"`
	Amount        decimal.Decimal `json:"amount"`
	Period        string          `json:"period"`

	// RecordSetup appends a setup record to every affected trader.
	RecordSetup bool `json:"record_setup"`
}

type ActivateRateResponse struct {
	Rate         RateDTO `json:"rate"`
	SetupRecords int     `json:"setup_records"`
}

// =============================================================================
// PAYMENTS & BREAKDOWN
// =============================================================================

type PaymentDTO struct {
	ID            string  `json:"id"`
	TraderID      string  `json:"trader_id"`
	CollectedBy   string  `json:"collected_by,omitempty"`
	Amount        string  `json:"amount"`
	Period        string  `json:"period"`
	OccupancyType string  `json:"occupancy_type"`
	Method        string  `json:"method"`
	Status        string  `json:"status"`
	PaymentDate   string  `json:"payment_date"`
	DueDate       *string `json:"due_date,omitempty"`
	IsSetup       bool    `json:"is_setup"`
	Incentive     *string `json:"incentive,omitempty"`
	Note          string  `json:"note,omitempty"`
	WindowKey     string  `json:"window_key,omitempty"`
}

type LevyDTO struct {
	Current string `json:"current"`
	Unpaid  string `json:"unpaid"`
	Total   string `json:"total"`
}

type BreakdownDTO struct {
	OccupancyType    string             `json:"occupancy_type"`
	Period           string             `json:"period"`
	Levies           map[string]LevyDTO `json:"levies"`
	Total            string             `json:"total"`
	OverdueDays      int                `json:"overdue_days"`
	Standing         string             `json:"standing"`
	LastPaymentDate  *string            `json:"last_payment_date,omitempty"`
	IsDue            bool               `json:"is_due"`
	NextDueDate      string             `json:"next_due_date"`
	PeriodRecognized bool               `json:"period_recognized"`
}

// =============================================================================
// COLLECTIONS
// =============================================================================

type QuoteRequest struct {
	Trader string `json:"trader"` // trader ID or tax ID, as scanned
	Agent  string `json:"agent"`
}

type QuoteDTO struct {
	Trader       TraderDTO    `json:"trader"`
	Agent        string       `json:"agent"`
	Rate         RateDTO      `json:"rate"`
	Breakdown    BreakdownDTO `json:"breakdown"`
	TotalDue     string       `json:"total_due"`
	ConfirmRef   string       `json:"confirm_ref"`
	CallbackPath string       `json:"callback_path"`
	QuotedAt     string       `json:"quoted_at"`
}

type ConfirmRequest struct {
	Trader         string              `json:"trader"`
	Agent          string              `json:"agent"`
	Amount         decimal.Decimal     `json:"amount"`
	Period         string              `json:"period,omitempty"`
	Method         string              `json:"method,omitempty"`
	IdempotencyKey string              `json:"idempotency_key"`
	Incentive      decimal.NullDecimal `json:"incentive"`
	Note           string              `json:"note,omitempty"`
}

// ReceiptDTO answers a successful confirmation. Replayed marks a repeat of an
// earlier one; the collection is recorded either way.
type ReceiptDTO struct {
	Recorded  bool         `json:"recorded"`
	Replayed  bool         `json:"replayed"`
	Payment   PaymentDTO   `json:"payment"`
	Breakdown BreakdownDTO `json:"breakdown"`
}

// ConfirmErrorResponse tells the device whether anything was written.
type ConfirmErrorResponse struct {
	ErrorResponse
	Recorded bool `json:"recorded"`
}

type CollectionDTO struct {
	PaymentDTO
	PayerName string `json:"payer_name"`
}

type DashboardDTO struct {
	Agent       string          `json:"agent"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	TraderCount int             `json:"trader_count"`
	TotalLevies string          `json:"total_levies"`
	Payments    []CollectionDTO `json:"payments"`
	Page        int             `json:"page"`
	PerPage     int             `json:"per_page"`
	Total       int             `json:"total"`
	TotalPages  int             `json:"total_pages"`
}

// =============================================================================
// AUDIT & SCENARIOS
// =============================================================================

type AuditEventDTO struct {
	ID       string `json:"id"`
	Activity string `json:"activity"`
	Detail   string `json:"detail"`
	ActorID  string `json:"actor_id,omitempty"`
	TraderID string `json:"trader_id,omitempty"`
	At       string `json:"at"`
}

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// LoadScenarioRequest is the request to load a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func money(d decimal.Decimal) string { return d.StringFixed(2) }

func toTraderDTO(t levy.Trader) TraderDTO {
	dto := TraderDTO{
		ID:            string(t.ID),
		BusinessName:  t.BusinessName,
		OccupancyType: string(t.OccupancyType),
		MarketID:      string(t.MarketID),
		CaretakerID:   string(t.CaretakerID),
		TaxID:         t.TaxID,
	}
	if !t.CreatedAt.IsZero() {
		dto.CreatedAt = t.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toAgentDTO(a levy.Agent) AgentDTO {
	return AgentDTO{ID: string(a.ID), Name: a.Name, MarketID: string(a.MarketID), CaretakerID: string(a.CaretakerID)}
}

func toCaretakerDTO(c levy.Caretaker) CaretakerDTO {
	return CaretakerDTO{ID: string(c.ID), Name: c.Name, MarketID: string(c.MarketID)}
}

func toRateDTO(r levy.RateSetting) RateDTO {
	dto := RateDTO{
		ID:            r.ID,
		MarketID:      string(r.MarketID),
		OccupancyType: string(r.OccupancyType),
		Amount:        money(r.Amount),
		Period:        string(r.Period),
		Active:        r.Active,
		CreatedBy:     r.CreatedBy,
	}
	if !r.CreatedAt.IsZero() {
		dto.CreatedAt = r.CreatedAt.Format(time.RFC3339)
	}
	return dto
}

func toPaymentDTO(p levy.PaymentRecord, loc *time.Location) PaymentDTO {
	dto := PaymentDTO{
		ID:            string(p.ID),
		TraderID:      string(p.TraderID),
		CollectedBy:   string(p.CollectedBy),
		Amount:        money(p.Amount),
		Period:        string(p.Period),
		OccupancyType: string(p.OccupancyType),
		Method:        string(p.Method),
		Status:        string(p.Status),
		PaymentDate:   p.PaymentDate.In(loc).Format(time.RFC3339),
		IsSetup:       p.IsSetup,
		Note:          p.Note,
		WindowKey:     p.WindowKey,
	}
	if p.DueDate != nil {
		s := p.DueDate.String()
		dto.DueDate = &s
	}
	if p.Incentive.Valid {
		s := money(p.Incentive.Decimal)
		dto.Incentive = &s
	}
	return dto
}

func toPaymentDTOs(records []levy.PaymentRecord, loc *time.Location) []PaymentDTO {
	out := make([]PaymentDTO, 0, len(records))
	for _, p := range records {
		out = append(out, toPaymentDTO(p, loc))
	}
	return out
}

func toBreakdownDTO(b levy.Breakdown) BreakdownDTO {
	dto := BreakdownDTO{
		OccupancyType:    string(b.OccupancyType),
		Period:           string(b.Period),
		Levies:           make(map[string]LevyDTO, len(b.Levies)),
		Total:            money(b.Total),
		OverdueDays:      b.OverdueDays,
		Standing:         string(b.Standing),
		IsDue:            b.Due.IsDue,
		NextDueDate:      b.Due.NextDueDate.String(),
		PeriodRecognized: b.Due.PeriodRecognized,
	}
	for occupancy, l := range b.Levies {
		dto.Levies[string(occupancy)] = LevyDTO{
			Current: money(l.Current),
			Unpaid:  money(l.Unpaid),
			Total:   money(l.Total()),
		}
	}
	if b.LastPaymentDate != nil {
		s := b.LastPaymentDate.String()
		dto.LastPaymentDate = &s
	}
	return dto
}

func toQuoteDTO(q *collection.Quote, loc *time.Location) QuoteDTO {
	return QuoteDTO{
		Trader:       toTraderDTO(q.Trader),
		Agent:        string(q.AgentID),
		Rate:         toRateDTO(q.Rate),
		Breakdown:    toBreakdownDTO(q.Breakdown),
		TotalDue:     money(q.TotalDue),
		ConfirmRef:   q.ConfirmRef,
		CallbackPath: q.CallbackPath,
		QuotedAt:     q.QuotedAt.In(loc).Format(time.RFC3339),
	}
}

func toReceiptDTO(r *collection.Receipt, loc *time.Location) ReceiptDTO {
	return ReceiptDTO{
		Recorded:  true,
		Replayed:  r.Replayed,
		Payment:   toPaymentDTO(r.Record, loc),
		Breakdown: toBreakdownDTO(r.Breakdown),
	}
}

func toDashboardDTO(d *collection.Dashboard, loc *time.Location) DashboardDTO {
	dto := DashboardDTO{
		Agent:       string(d.AgentID),
		From:        d.From.String(),
		To:          d.To.String(),
		TraderCount: d.TraderCount,
		TotalLevies: money(d.TotalLevies),
		Payments:    make([]CollectionDTO, 0, len(d.Payments)),
		Page:        d.Page,
		PerPage:     d.PerPage,
		Total:       d.Total,
		TotalPages:  d.TotalPages,
	}
	for _, e := range d.Payments {
		dto.Payments = append(dto.Payments, CollectionDTO{PaymentDTO: toPaymentDTO(e.Record, loc), PayerName: e.PayerName})
	}
	return dto
}

func toAuditEventDTO(e levy.AuditEvent, loc *time.Location) AuditEventDTO {
	return AuditEventDTO{
		ID:       e.ID,
		Activity: string(e.Activity),
		Detail:   e.Detail,
		ActorID:  e.ActorID,
		TraderID: string(e.TraderID),
		At:       e.At.In(loc).Format(time.RFC3339),
	}
}
