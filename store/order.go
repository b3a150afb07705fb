package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"optiflow/model"
)

// StatusPendingApproval is the status of every proposal: nothing is sent to
// a broker without a human.
const StatusPendingApproval = "pending_approval"

var ErrNotFound = errors.New("store: not found")

// OrderRecord is one proposed order as it was produced by a run.
type OrderRecord struct {
	ID         int64       `json:"id"`
	RunID      string      `json:"run_id"`
	Symbol     string      `json:"symbol"`
	Strategy   string      `json:"strategy"`
	Status     string      `json:"status"`
	EntrySpot  float64     `json:"entry_spot"`
	IV         float64     `json:"iv"`
	CallStrike int         `json:"call_strike"`
	PutStrike  int         `json:"put_strike"`
	Legs       []model.Leg `json:"legs"`
	RiskStatus string      `json:"risk_status"`
	RiskReason string      `json:"risk_reason"`
	CreatedAt  time.Time   `json:"created_at"`
}

// NewOrderRecord flattens a run's order and market snapshot.
func NewOrderRecord(runID string, order *model.Order, md model.MarketData, status model.RiskStatus, reason string) *OrderRecord {
	rec := &OrderRecord{
		RunID:      runID,
		Symbol:     md.Symbol,
		Status:     StatusPendingApproval,
		EntrySpot:  md.SpotPrice,
		IV:         md.IV,
		RiskStatus: string(status),
		RiskReason: reason,
	}
	if order != nil {
		rec.Strategy = string(order.Strategy)
		rec.Legs = append([]model.Leg(nil), order.Legs...)
		if l, ok := order.Leg(model.Call); ok {
			rec.CallStrike = l.Strike
		}
		if l, ok := order.Leg(model.Put); ok {
			rec.PutStrike = l.Strike
		}
	}
	return rec
}

type OrderStore struct {
	db *sql.DB
}

func (s *OrderStore) initTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS order_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			symbol TEXT NOT NULL,
			strategy TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending_approval',
			entry_spot REAL NOT NULL DEFAULT 0,
			iv REAL NOT NULL DEFAULT 0,
			call_strike INTEGER NOT NULL DEFAULT 0,
			put_strike INTEGER NOT NULL DEFAULT 0,
			legs TEXT NOT NULL DEFAULT '[]',
			risk_status TEXT NOT NULL DEFAULT '',
			risk_reason TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create order_history table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_order_history_symbol ON order_history(symbol, id DESC)`); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// Append inserts rec and sets its ID and CreatedAt.
func (s *OrderStore) Append(ctx context.Context, rec *OrderRecord) error {
	if rec.Status == "" {
		rec.Status = StatusPendingApproval
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	legs, err := json.Marshal(rec.Legs)
	if err != nil {
		return fmt.Errorf("failed to encode legs: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO order_history (
			run_id, symbol, strategy, status, entry_spot, iv,
			call_strike, put_strike, legs, risk_status, risk_reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.RunID, rec.Symbol, rec.Strategy, rec.Status, rec.EntrySpot, rec.IV,
		rec.CallStrike, rec.PutStrike, string(legs), rec.RiskStatus, rec.RiskReason,
		rec.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append order record: %w", err)
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

const orderColumns = `id, run_id, symbol, strategy, status, entry_spot, iv,
	call_strike, put_strike, legs, risk_status, risk_reason, created_at`

// List returns the newest records first. limit <= 0 means 50.
func (s *OrderStore) List(ctx context.Context, limit int) ([]*OrderRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM order_history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query order history: %w", err)
	}
	defer rows.Close()

	var out []*OrderRecord
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LatestApproved returns the most recent order for symbol that passed the
// risk gate; it is the reference position for the monitor.
func (s *OrderStore) LatestApproved(ctx context.Context, symbol string) (*OrderRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM order_history
		WHERE symbol = ? AND risk_status = ? ORDER BY id DESC LIMIT 1`, symbol, string(model.RiskApproved))
	rec, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(sc scanner) (*OrderRecord, error) {
	var rec OrderRecord
	var legs, createdAt string
	err := sc.Scan(
		&rec.ID, &rec.RunID, &rec.Symbol, &rec.Strategy, &rec.Status, &rec.EntrySpot, &rec.IV,
		&rec.CallStrike, &rec.PutStrike, &legs, &rec.RiskStatus, &rec.RiskReason, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(legs), &rec.Legs); err != nil {
		return nil, fmt.Errorf("failed to decode legs of order %d: %w", rec.ID, err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &rec, nil
}
