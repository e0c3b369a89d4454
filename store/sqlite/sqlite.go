/*
Package sqlite provides a SQLite-backed implementation of the levy storage
interfaces.

PURPOSE:
  Implements levy.TxStore (directory lookups, rate registry, append-only
  payment history, audit sink) plus the directory and rate administration
  used by the HTTP layer. In production the same schema ports to
  PostgreSQL with minor dialect changes.

INTERFACES IMPLEMENTED:
  levy.Directory:    Trader and agent lookups
  levy.RateRegistry: Active rate per (market, occupancy type)
  levy.PaymentStore: Append-only levy history
  levy.AuditSink:    audit_events table
  levy.TxStore:      All of the above inside one SQL transaction

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on levy_payments
  - No DELETE statements on levy_payments
  - Traders owning payments cannot be deleted (FOREIGN KEY ... RESTRICT)

KEY TABLES:
  levy_payments: Immutable history of collections and setup records
  rate_settings: Rate versions; at most one active per pair
  traders, agents, caretakers: Directory
  audit_events: Quote and collection audit trail

INDEXES:
  - idx_levy_payments_window: One actual paid record per (trader, window).
    This is what makes two simultaneous confirmations persist once.
  - idempotency_key UNIQUE: Replayed confirmations
  - idx_rate_settings_active: One active rate per (market, occupancy)
  - idx_levy_payments_collector_date: Dashboard (hot path)

CONCURRENCY:
  The pool is limited to one connection, so SQLite sees a single writer and
  ":memory:" databases are shared by every caller. WithTx holds that
  connection for the whole transaction; other callers wait for it.

USAGE:
  store, err := sqlite.New("./data/levy.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := collection.NewService(store, loc)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - levy/store.go: Interface definitions
  - levy/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/warp/levy-engine/levy"
)

// Store implements levy.TxStore using SQLite.
type Store struct {
	queries
	db *sql.DB

	// Now stamps created_at columns and setup records.
	Now func() time.Time
}

var _ levy.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: queries{q: db}, db: db, Now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Directory
	CREATE TABLE IF NOT EXISTS caretakers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		market_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS traders (
		id TEXT PRIMARY KEY,
		business_name TEXT NOT NULL,
		occupancy_type TEXT NOT NULL,
		market_id TEXT NOT NULL,
		caretaker_id TEXT,
		tax_id TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_traders_market
		ON traders(market_id, occupancy_type);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		market_id TEXT NOT NULL,
		caretaker_id TEXT,
		created_at TEXT NOT NULL
	);

	-- Rate registry (versioned, never updated except the active flag)
	CREATE TABLE IF NOT EXISTS rate_settings (
		id TEXT PRIMARY KEY,
		market_id TEXT NOT NULL,
		occupancy_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		period TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 0,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_rate_settings_active
		ON rate_settings(market_id, occupancy_type)
		WHERE active = 1;

	-- Levy payments (append-only)
	CREATE TABLE IF NOT EXISTS levy_payments (
		id TEXT PRIMARY KEY,
		trader_id TEXT NOT NULL REFERENCES traders(id) ON DELETE RESTRICT,
		collected_by TEXT,
		amount TEXT NOT NULL,
		period TEXT NOT NULL,
		occupancy_type TEXT NOT NULL,
		method TEXT NOT NULL,
		status TEXT NOT NULL,
		payment_date TEXT NOT NULL,
		due_date TEXT,
		is_setup INTEGER NOT NULL DEFAULT 0,
		incentive TEXT,
		note TEXT,
		idempotency_key TEXT UNIQUE,
		window_key TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: one actual paid collection per trader per window
	CREATE UNIQUE INDEX IF NOT EXISTS idx_levy_payments_window
		ON levy_payments(trader_id, window_key)
		WHERE is_setup = 0 AND status = 'paid' AND window_key IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_levy_payments_trader_date
		ON levy_payments(trader_id, payment_date);

	CREATE INDEX IF NOT EXISTS idx_levy_payments_collector_date
		ON levy_payments(collected_by, payment_date DESC);

	-- Audit trail
	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		activity TEXT NOT NULL,
		detail TEXT,
		actor_id TEXT,
		trader_id TEXT,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_audit_events_at
		ON audit_events(at DESC);
	CREATE INDEX IF NOT EXISTS idx_audit_events_actor
		ON audit_events(actor_id, at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (levy.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. Every read fn makes
// through the Store it receives sees the transaction's own writes.
func (s *Store) WithTx(ctx context.Context, fn func(store levy.Store) error) error {
	return s.withTx(ctx, func(q *queries) error { return fn(q) })
}

func (s *Store) withTx(ctx context.Context, fn func(q *queries) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements levy.Store over either the pool or an open
// transaction.
type queries struct {
	q querier
}

var _ levy.Store = (*queries)(nil)

// =============================================================================
// DIRECTORY (levy.Directory interface)
// =============================================================================

const traderColumns = `id, business_name, occupancy_type, market_id, caretaker_id, tax_id, created_at`

// TraderByIdentifier matches the trader ID first, then the tax ID.
func (d *queries) TraderByIdentifier(ctx context.Context, identifier string) (*levy.Trader, error) {
	row := d.q.QueryRowContext(ctx,
		"SELECT "+traderColumns+" FROM traders WHERE id = ? OR tax_id = ? ORDER BY (id = ?) DESC LIMIT 1",
		identifier, identifier, identifier,
	)
	t, err := scanTrader(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (d *queries) Agent(ctx context.Context, id levy.AgentID) (*levy.Agent, error) {
	row := d.q.QueryRowContext(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE id = ?", id,
	)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (d *queries) TradersInMarket(ctx context.Context, market levy.MarketID) ([]levy.Trader, error) {
	return d.queryTraders(ctx,
		"SELECT "+traderColumns+" FROM traders WHERE market_id = ? ORDER BY business_name, id", market,
	)
}

func (d *queries) queryTraders(ctx context.Context, query string, args ...any) ([]levy.Trader, error) {
	rows, err := d.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query traders: %w", err)
	}
	defer rows.Close()

	var traders []levy.Trader
	for rows.Next() {
		t, err := scanTrader(rows)
		if err != nil {
			return nil, err
		}
		traders = append(traders, t)
	}
	return traders, rows.Err()
}

// =============================================================================
// RATE REGISTRY (levy.RateRegistry interface)
// =============================================================================

const rateColumns = `id, market_id, occupancy_type, amount, period, active, created_by, created_at`

func (d *queries) ActiveRate(ctx context.Context, market levy.MarketID, occupancy levy.OccupancyType) (*levy.RateSetting, error) {
	row := d.q.QueryRowContext(ctx,
		"SELECT "+rateColumns+" FROM rate_settings WHERE market_id = ? AND occupancy_type = ? AND active = 1",
		market, occupancy,
	)
	r, err := scanRate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (d *queries) queryRates(ctx context.Context, query string, args ...any) ([]levy.RateSetting, error) {
	rows, err := d.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rate settings: %w", err)
	}
	defer rows.Close()

	var rates []levy.RateSetting
	for rows.Next() {
		r, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

func (d *queries) insertRate(ctx context.Context, r levy.RateSetting) error {
	_, err := d.q.ExecContext(ctx, `
		INSERT INTO rate_settings (`+rateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.MarketID, r.OccupancyType, r.Amount, r.Period, r.Active,
		nullString(r.CreatedBy), formatTime(r.CreatedAt),
	)
	switch {
	case isUniqueOn(err, "rate_settings.id"):
		return &levy.ValidationError{Field: "id", Message: "rate setting " + r.ID + " already exists"}
	case isConstraintError(err, sqlite3.ErrConstraintUnique):
		// idx_rate_settings_active: another activation for the pair committed first.
		return &levy.ValidationError{Field: "occupancy_type",
			Message: fmt.Sprintf("another %s rate in %s is already active", r.OccupancyType, r.MarketID)}
	}
	return err
}

// =============================================================================
// PAYMENT STORE (levy.PaymentStore interface)
// =============================================================================

const paymentColumns = `p.id, p.trader_id, p.collected_by, p.amount, p.period, p.occupancy_type,
	p.method, p.status, p.payment_date, p.due_date, p.is_setup, p.incentive, p.note,
	p.idempotency_key, p.window_key, p.created_at`

// History returns every record for the trader, oldest first.
func (d *queries) History(ctx context.Context, trader levy.TraderID) ([]levy.PaymentRecord, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT `+paymentColumns+`
		FROM levy_payments p
		WHERE p.trader_id = ?
		ORDER BY p.payment_date ASC, p.created_at ASC, p.id ASC`,
		trader,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var history []levy.PaymentRecord
	for rows.Next() {
		rec, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, rec)
	}
	return history, rows.Err()
}

func (d *queries) PaymentByIdempotencyKey(ctx context.Context, key string) (*levy.PaymentRecord, error) {
	if key == "" {
		return nil, nil
	}
	row := d.q.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM levy_payments p WHERE p.idempotency_key = ?", key,
	)
	rec, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// AppendPayment inserts a record. Append-only.
func (d *queries) AppendPayment(ctx context.Context, rec levy.PaymentRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := d.q.ExecContext(ctx, `
		INSERT INTO levy_payments
		(id, trader_id, collected_by, amount, period, occupancy_type, method, status,
		 payment_date, due_date, is_setup, incentive, note, idempotency_key, window_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.TraderID,
		nullString(string(rec.CollectedBy)),
		rec.Amount,
		rec.Period,
		rec.OccupancyType,
		rec.Method,
		rec.Status,
		formatTime(rec.PaymentDate),
		nullDate(rec.DueDate),
		rec.IsSetup,
		rec.Incentive,
		nullString(rec.Note),
		nullString(rec.IdempotencyKey),
		nullString(rec.WindowKey),
		formatTime(createdAt),
	)

	switch {
	case err == nil:
		return nil
	case isConstraintError(err, sqlite3.ErrConstraintUnique):
		// Both the idempotency key and the window index mean the collection
		// already exists.
		return &levy.DuplicateCollectionError{TraderID: rec.TraderID, WindowKey: rec.WindowKey}
	case isForeignKeyError(err):
		return levy.ErrTraderNotFound
	default:
		return fmt.Errorf("failed to append payment: %w", err)
	}
}

// Collections returns the agent's actual paid records in [from, to), newest
// first, joined with the payer's business name.
func (d *queries) Collections(ctx context.Context, agent levy.AgentID, from, to time.Time) ([]levy.CollectionEntry, error) {
	rows, err := d.q.QueryContext(ctx, `
		SELECT `+paymentColumns+`, COALESCE(t.business_name, '')
		FROM levy_payments p
		LEFT JOIN traders t ON t.id = p.trader_id
		WHERE p.collected_by = ?
		  AND p.is_setup = 0 AND p.status = 'paid'
		  AND p.payment_date >= ? AND p.payment_date < ?
		ORDER BY p.payment_date DESC, p.id DESC`,
		agent, formatTime(from), formatTime(to),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query collections: %w", err)
	}
	defer rows.Close()

	var entries []levy.CollectionEntry
	for rows.Next() {
		var payer string
		rec, err := scanPayment(rows, &payer)
		if err != nil {
			return nil, err
		}
		entries = append(entries, levy.CollectionEntry{Record: rec, PayerName: payer})
	}
	return entries, rows.Err()
}

// =============================================================================
// AUDIT SINK (levy.AuditSink interface)
// =============================================================================

func (d *queries) Record(ctx context.Context, e levy.AuditEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := d.q.ExecContext(ctx, `
		INSERT INTO audit_events (id, activity, detail, actor_id, trader_id, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Activity, e.Detail, nullString(e.ActorID), nullString(string(e.TraderID)), formatTime(e.At),
	)
	if err != nil {
		return fmt.Errorf("failed to record audit event: %w", err)
	}
	return nil
}

// =============================================================================
// SCANNING
// =============================================================================

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTrader(row scanner) (levy.Trader, error) {
	var (
		t           levy.Trader
		caretakerID sql.NullString
		taxID       sql.NullString
		createdAt   string
	)
	if err := row.Scan(&t.ID, &t.BusinessName, &t.OccupancyType, &t.MarketID, &caretakerID, &taxID, &createdAt); err != nil {
		return t, err
	}
	t.CaretakerID = levy.CaretakerID(caretakerID.String)
	t.TaxID = taxID.String
	t.CreatedAt = parseTime(createdAt)
	return t, nil
}

const agentColumns = `id, name, market_id, caretaker_id, created_at`

func scanAgent(row scanner) (levy.Agent, error) {
	var (
		a           levy.Agent
		caretakerID sql.NullString
		createdAt   string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.MarketID, &caretakerID, &createdAt); err != nil {
		return a, err
	}
	a.CaretakerID = levy.CaretakerID(caretakerID.String)
	a.CreatedAt = parseTime(createdAt)
	return a, nil
}

func scanRate(row scanner) (levy.RateSetting, error) {
	var (
		r         levy.RateSetting
		createdBy sql.NullString
		createdAt string
	)
	if err := row.Scan(&r.ID, &r.MarketID, &r.OccupancyType, &r.Amount, &r.Period, &r.Active, &createdBy, &createdAt); err != nil {
		return r, err
	}
	r.CreatedBy = createdBy.String
	r.CreatedAt = parseTime(createdAt)
	return r, nil
}

// scanPayment reads paymentColumns followed by any extra destinations.
func scanPayment(row scanner, extra ...any) (levy.PaymentRecord, error) {
	var (
		rec            levy.PaymentRecord
		collectedBy    sql.NullString
		paymentDate    string
		dueDate        sql.NullString
		note           sql.NullString
		idempotencyKey sql.NullString
		windowKey      sql.NullString
		createdAt      string
	)
	dest := []any{
		&rec.ID, &rec.TraderID, &collectedBy, &rec.Amount, &rec.Period, &rec.OccupancyType,
		&rec.Method, &rec.Status, &paymentDate, &dueDate, &rec.IsSetup, &rec.Incentive, &note,
		&idempotencyKey, &windowKey, &createdAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return rec, fmt.Errorf("failed to scan payment: %w", err)
	}

	rec.CollectedBy = levy.AgentID(collectedBy.String)
	rec.PaymentDate = parseTime(paymentDate)
	if dueDate.Valid {
		if d, err := levy.ParseDate(dueDate.String); err == nil {
			rec.DueDate = &d
		}
	}
	rec.Note = note.String
	rec.IdempotencyKey = idempotencyKey.String
	rec.WindowKey = windowKey.String
	rec.CreatedAt = parseTime(createdAt)
	return rec, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed-width UTC so that string order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDate(d *levy.Date) sql.NullString {
	if d == nil || d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func isConstraintError(err error, code sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == code
	}
	return false
}

// isForeignKeyError matches both immediate FK failures and ON DELETE
// RESTRICT, which SQLite reports as a trigger constraint.
func isForeignKeyError(err error) bool {
	return isConstraintError(err, sqlite3.ErrConstraintForeignKey) ||
		isConstraintError(err, sqlite3.ErrConstraintTrigger)
}

func isUniqueOn(err error, column string) bool {
	return isConstraintError(err, sqlite3.ErrConstraintUnique) && strings.Contains(err.Error(), column)
}
