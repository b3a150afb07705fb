package pipeline

import (
	"context"
	"fmt"

	"optiflow/store"
)

// OrderAppender is the write side of the order history.
type OrderAppender interface {
	Append(ctx context.Context, rec *store.OrderRecord) error
}

// Record appends the run's order to the history as pending approval. Runs
// that produced no order are not recorded and yield a nil record.
func Record(ctx context.Context, history OrderAppender, out *Outcome) (*store.OrderRecord, error) {
	order := OrderOf(out.State)
	if order == nil {
		return nil, nil
	}
	md, _ := MarketDataOf(out.State)
	status, reason, _ := RiskOf(out.State)

	rec := store.NewOrderRecord(out.RunID, order, md, status, reason)
	if err := history.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("record run %s: %w", out.RunID, err)
	}
	return rec, nil
}
