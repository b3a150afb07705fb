// Package monitor decides whether the current position needs adjusting.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"optiflow/logger"
	"optiflow/model"
	"optiflow/store"
)

// DefaultMoveThreshold flags a position once spot has moved more than 1%
// from the entry spot.
const DefaultMoveThreshold = 0.01

// History is the read side of the order history.
type History interface {
	LatestApproved(ctx context.Context, symbol string) (*store.OrderRecord, error)
}

// Recorder persists flagged adjustments. Optional.
type Recorder interface {
	Append(ctx context.Context, rec *store.AdjustmentRecord) error
}

type Assessment struct {
	Needed  bool
	Reason  string
	OrderID int64
}

type PositionMonitor struct {
	history   History
	recorder  Recorder
	threshold float64
}

// New returns a monitor. A nil history means there are never open positions.
// threshold <= 0 selects DefaultMoveThreshold.
func New(history History, recorder Recorder, threshold float64) *PositionMonitor {
	if threshold <= 0 {
		threshold = DefaultMoveThreshold
	}
	return &PositionMonitor{history: history, recorder: recorder, threshold: threshold}
}

// Check compares the live market against the latest approved proposal for
// the same symbol.
func (m *PositionMonitor) Check(ctx context.Context, runID string, md model.MarketData) (Assessment, error) {
	if m.history == nil {
		return Assessment{Reason: "no history"}, nil
	}

	pos, err := m.history.LatestApproved(ctx, md.Symbol)
	if errors.Is(err, store.ErrNotFound) {
		return Assessment{Reason: "no active position"}, nil
	}
	if err != nil {
		return Assessment{}, fmt.Errorf("monitor: load position: %w", err)
	}

	a := assess(pos, md.SpotPrice, m.threshold)
	if !a.Needed {
		return a, nil
	}

	logger.WithFields(logrus.Fields{
		"symbol":   md.Symbol,
		"order_id": pos.ID,
		"spot":     md.SpotPrice,
	}).Warnf("position needs adjustment: %s", a.Reason)

	if m.recorder != nil {
		rec := &store.AdjustmentRecord{RunID: runID, OrderID: pos.ID, Symbol: md.Symbol, Spot: md.SpotPrice, Reason: a.Reason}
		if err := m.recorder.Append(ctx, rec); err != nil {
			return a, fmt.Errorf("monitor: record adjustment: %w", err)
		}
	}
	return a, nil
}

func assess(pos *store.OrderRecord, spot, threshold float64) Assessment {
	a := Assessment{OrderID: pos.ID, Reason: "within limits"}

	// A straddle sells both legs at the same strike, so only the move rule applies.
	if pos.CallStrike > 0 && pos.PutStrike > 0 && pos.CallStrike != pos.PutStrike {
		switch {
		case spot >= float64(pos.CallStrike):
			a.Needed = true
			a.Reason = fmt.Sprintf("spot %.2f breached short call %d", spot, pos.CallStrike)
			return a
		case spot <= float64(pos.PutStrike):
			a.Needed = true
			a.Reason = fmt.Sprintf("spot %.2f breached short put %d", spot, pos.PutStrike)
			return a
		}
	}

	if pos.EntrySpot > 0 {
		move := math.Abs(spot-pos.EntrySpot) / pos.EntrySpot
		if move > threshold {
			a.Needed = true
			a.Reason = fmt.Sprintf("spot moved %.2f%% from entry %.2f", move*100, pos.EntrySpot)
		}
	}
	return a
}
