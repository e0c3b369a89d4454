package levy

import (
	"context"
	"log"
	"time"
)

// =============================================================================
// AUDIT - Who did what when (storage and retention live elsewhere)
// =============================================================================

type AuditActivity string

const (
	AuditQuote        AuditActivity = "levy_quote"
	AuditCollection   AuditActivity = "levy_collection"
	AuditRateActivate AuditActivity = "rate_activated"
	AuditTraderChange AuditActivity = "trader_changed"
)

type AuditEvent struct {
	ID       string
	Activity AuditActivity
	Detail   string
	ActorID  string
	TraderID TraderID
	At       time.Time
}

// AuditSink receives one event per quote and per confirmed collection.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

// LogAuditSink writes audit events to the standard logger.
type LogAuditSink struct{}

func (LogAuditSink) Record(_ context.Context, e AuditEvent) error {
	log.Printf("[Audit] %s actor=%s trader=%s %s", e.Activity, e.ActorID, e.TraderID, e.Detail)
	return nil
}
