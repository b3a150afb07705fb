// Package market fetches observations of the underlying index: spot, the
// volatility index used as IV, and the near-the-money option chain.
package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"optiflow/model"
)

var ErrNoData = errors.New("market: no data")

// Source is the market data collaborator of the scanner.
type Source interface {
	FetchSpot(ctx context.Context) (float64, error)
	FetchVolatilityIndex(ctx context.Context) (float64, error)
	FetchOptionChain(ctx context.Context, symbol string) (*model.OptionChain, error)
}

// StaticSource serves fixed values. Zero values and a nil chain are reported
// as ErrNoData, like an empty reply from a live feed.
type StaticSource struct {
	Spot  float64
	VIX   float64
	Chain *model.OptionChain
}

func (s StaticSource) FetchSpot(ctx context.Context) (float64, error) {
	if s.Spot <= 0 {
		return 0, fmt.Errorf("spot: %w", ErrNoData)
	}
	return s.Spot, nil
}

func (s StaticSource) FetchVolatilityIndex(ctx context.Context) (float64, error) {
	if s.VIX <= 0 {
		return 0, fmt.Errorf("volatility index: %w", ErrNoData)
	}
	return s.VIX, nil
}

func (s StaticSource) FetchOptionChain(ctx context.Context, symbol string) (*model.OptionChain, error) {
	if s.Chain == nil {
		return nil, fmt.Errorf("option chain %s: %w", symbol, ErrNoData)
	}
	return s.Chain, nil
}

// ExpiryLayout is the date format of exchange expiry labels, e.g. 29-Feb-2024.
const ExpiryLayout = "02-Jan-2006"

// ParseExpiry parses an exchange expiry label.
func ParseExpiry(expiry string) (time.Time, error) {
	t, err := time.Parse(ExpiryLayout, strings.TrimSpace(expiry))
	if err != nil {
		return time.Time{}, fmt.Errorf("market: bad expiry %q: %w", expiry, err)
	}
	return t, nil
}

// DaysToExpiry counts calendar days from now's date to the expiry date. An
// expiry in the past yields 0.
func DaysToExpiry(expiry time.Time, now time.Time) int {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	ey, em, ed := expiry.Date()
	exp := time.Date(ey, em, ed, 0, 0, 0, 0, time.UTC)

	days := int(exp.Sub(today).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// OptionSymbol builds the trading symbol of a contract, e.g.
// NIFTY24FEB22400CE.
func OptionSymbol(underlying string, expiry time.Time, strike int, typ model.OptionType) string {
	return fmt.Sprintf("%s%s%s%d%s",
		strings.ToUpper(underlying),
		expiry.Format("06"),
		strings.ToUpper(expiry.Format("Jan")),
		strike,
		typ,
	)
}
