// Package quant computes the expected move of the underlying and the option
// strikes derived from it. All functions are pure.
package quant

import (
	"math"
)

// StrikeBase is the strike interval of the index options.
const StrikeBase = 50

const daysPerYear = 365.0

// StrikePlan is the outcome of StrangleStrikes.
type StrikePlan struct {
	RangePoints    float64 `json:"range_points"`
	SigmaMult      float64 `json:"sigma_mult"`
	UpperBoundRaw  float64 `json:"upper_bound_raw"`
	LowerBoundRaw  float64 `json:"lower_bound_raw"`
	SellCallStrike int     `json:"sell_call_strike"`
	SellPutStrike  int     `json:"sell_put_strike"`
}

// ExpectedRange is the one-sigma move until expiry:
//
//	spot * (iv/100) * sqrt(days/365)
//
// iv is an annualized percentage (15 means 15%).
func ExpectedRange(spot, iv float64, daysToExpiry int) (float64, error) {
	if !finite(spot) || spot <= 0 {
		return 0, domainf("ExpectedRange", "spot must be positive, got %v", spot)
	}
	if !finite(iv) || iv < 0 {
		return 0, domainf("ExpectedRange", "iv must be a non-negative percentage, got %v", iv)
	}
	if daysToExpiry < 0 {
		return 0, domainf("ExpectedRange", "days to expiry must not be negative, got %d", daysToExpiry)
	}
	return spot * (iv / 100) * math.Sqrt(float64(daysToExpiry)/daysPerYear), nil
}

// RoundToBase rounds value to the nearest multiple of base. Ties on the
// quotient round half to even: RoundToBase(22025, 50) == 22000 and
// RoundToBase(22075, 50) == 22100.
func RoundToBase(value float64, base int) (int, error) {
	if base <= 0 {
		return 0, domainf("RoundToBase", "base must be a positive integer, got %d", base)
	}
	if !finite(value) {
		return 0, domainf("RoundToBase", "value must be finite, got %v", value)
	}
	b := float64(base)
	r := math.RoundToEven(value/b) * b
	// float64(math.MaxInt) rounds up to 2^63, which is already out of range.
	if r >= float64(math.MaxInt) || r < float64(math.MinInt) {
		return 0, domainf("RoundToBase", "%v does not fit in an int", value)
	}
	return int(r), nil
}

// StrangleStrikes places the short call and put sigmaMult expected ranges away
// from spot. sigmaMult is not clamped. RangePoints is the scaled move, not the
// one-sigma range.
func StrangleStrikes(spot, iv float64, days int, sigmaMult float64) (StrikePlan, error) {
	if !finite(sigmaMult) || sigmaMult <= 0 {
		return StrikePlan{}, domainf("StrangleStrikes", "sigma multiplier must be positive, got %v", sigmaMult)
	}
	oneSigma, err := ExpectedRange(spot, iv, days)
	if err != nil {
		return StrikePlan{}, err
	}
	adjustment := oneSigma * sigmaMult
	upper := spot + adjustment
	lower := spot - adjustment

	call, err := RoundToBase(upper, StrikeBase)
	if err != nil {
		return StrikePlan{}, err
	}
	put, err := RoundToBase(lower, StrikeBase)
	if err != nil {
		return StrikePlan{}, err
	}

	return StrikePlan{
		RangePoints:    round2(adjustment),
		SigmaMult:      sigmaMult,
		UpperBoundRaw:  round2(upper),
		LowerBoundRaw:  round2(lower),
		SellCallStrike: call,
		SellPutStrike:  put,
	}, nil
}

// ATMStrike is the strike nearest to spot.
func ATMStrike(spot float64) (int, error) {
	if !finite(spot) || spot <= 0 {
		return 0, domainf("ATMStrike", "spot must be positive, got %v", spot)
	}
	return RoundToBase(spot, StrikeBase)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
