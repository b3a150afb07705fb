package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AdjustmentRecord notes that the monitor flagged a position.
type AdjustmentRecord struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	OrderID   int64     `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Spot      float64   `json:"spot"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

type AdjustmentStore struct {
	db *sql.DB
}

func (s *AdjustmentStore) initTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS adjustment_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			order_id INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			spot REAL NOT NULL,
			reason TEXT NOT NULL,
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create adjustment_history table: %w", err)
	}
	return nil
}

func (s *AdjustmentStore) Append(ctx context.Context, rec *AdjustmentRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO adjustment_history (run_id, order_id, symbol, spot, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.RunID, rec.OrderID, rec.Symbol, rec.Spot, rec.Reason, rec.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to append adjustment record: %w", err)
	}
	rec.ID, _ = res.LastInsertId()
	return nil
}

// List returns the newest adjustments first. limit <= 0 means 50.
func (s *AdjustmentStore) List(ctx context.Context, limit int) ([]*AdjustmentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, order_id, symbol, spot, reason, created_at
		FROM adjustment_history ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query adjustment history: %w", err)
	}
	defer rows.Close()

	var out []*AdjustmentRecord
	for rows.Next() {
		var rec AdjustmentRecord
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.RunID, &rec.OrderID, &rec.Symbol, &rec.Spot, &rec.Reason, &createdAt); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, &rec)
	}
	return out, rows.Err()
}
