// Package model holds the value types carried in the pipeline's state document.
// Everything here is passed by value between nodes and must not be mutated once
// it has been placed in a state snapshot.
package model

import (
	"fmt"
	"strings"
)

// Strategy is the trade shape proposed by the strategist.
type Strategy string

const (
	StrategyStrangle Strategy = "Strangle"
	StrategyStraddle Strategy = "Straddle"
)

// ParseStrategy accepts "Strangle", "short strangle", "STRADDLE" and similar.
func ParseStrategy(s string) (Strategy, bool) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "short ")
	switch name {
	case "strangle":
		return StrategyStrangle, true
	case "straddle":
		return StrategyStraddle, true
	}
	return "", false
}

// OptionType is the right of an option leg.
type OptionType string

const (
	Call OptionType = "CE"
	Put  OptionType = "PE"
)

// Sentiment is the research step's read on near-term volatility.
type Sentiment string

const (
	SentimentCalm     Sentiment = "calm"
	SentimentNeutral  Sentiment = "neutral"
	SentimentVolatile Sentiment = "volatile"
)

// ParseSentiment maps free-form labels onto the three buckets; unknown is neutral.
func ParseSentiment(s string) Sentiment {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "calm", "low", "range-bound", "range_bound":
		return SentimentCalm
	case "volatile", "high", "high_volatility", "high-volatility":
		return SentimentVolatile
	}
	return SentimentNeutral
}

// ChainRow is one strike of a filtered option chain.
type ChainRow struct {
	Strike float64 `json:"strike"`
	CEIV   float64 `json:"ce_iv"`
	PEIV   float64 `json:"pe_iv"`
	CEOI   float64 `json:"ce_oi"`
	PEOI   float64 `json:"pe_oi"`
	CELTP  float64 `json:"ce_ltp"`
	PELTP  float64 `json:"pe_ltp"`
}

// OptionChain is the near-the-money slice of the current expiry.
type OptionChain struct {
	Symbol    string     `json:"symbol"`
	Expiry    string     `json:"expiry"`
	SpotPrice float64    `json:"spot_price"`
	Rows      []ChainRow `json:"chain"`
}

// Empty reports whether the chain carries no strikes.
func (c *OptionChain) Empty() bool {
	return c == nil || len(c.Rows) == 0
}

// MarketData is the scanner's observation of the underlying.
type MarketData struct {
	Symbol       string       `json:"symbol"`
	SpotPrice    float64      `json:"spot_price"`
	IV           float64      `json:"iv"`
	DaysToExpiry int          `json:"days_to_expiry"`
	OptionChain  *OptionChain `json:"option_chain,omitempty"`
}

// Validate rejects observations no downstream step can price.
func (m MarketData) Validate() error {
	if m.SpotPrice <= 0 {
		return fmt.Errorf("spot price must be positive, got %v", m.SpotPrice)
	}
	if m.IV < 0 {
		return fmt.Errorf("iv must not be negative, got %v", m.IV)
	}
	if m.DaysToExpiry < 0 {
		return fmt.Errorf("days to expiry must not be negative, got %d", m.DaysToExpiry)
	}
	return nil
}

// StrategyDecision is the strategist's output.
type StrategyDecision struct {
	Strategy        Strategy  `json:"strategy"`
	SigmaMult       float64   `json:"sigma_mult"`
	Rationale       string    `json:"rationale"`
	Constraints     string    `json:"constraints"`
	MarketSentiment Sentiment `json:"market_sentiment,omitempty"`
	LLMAnalysis     string    `json:"llm_analysis,omitempty"`
}

// Leg is one option of a candidate order.
type Leg struct {
	Type   OptionType `json:"type"`
	Strike int        `json:"strike"`
	Symbol string     `json:"symbol"`
	Qty    int        `json:"qty"`
}

// StrikeAnalysis records how the strikes were derived.
type StrikeAnalysis struct {
	RangePoints    float64 `json:"range_points,omitempty"`
	SigmaMult      float64 `json:"sigma_mult"`
	UpperBoundRaw  float64 `json:"upper_bound_raw,omitempty"`
	LowerBoundRaw  float64 `json:"lower_bound_raw,omitempty"`
	SellCallStrike int     `json:"sell_call_strike"`
	SellPutStrike  int     `json:"sell_put_strike"`
}

// Action is the order side. Only short premium is produced.
type Action string

const ActionSell Action = "SELL"

// Order is the candidate trade handed to the risk gate and, later, to a human.
type Order struct {
	Action   Action         `json:"action"`
	Strategy Strategy       `json:"strategy"`
	Legs     []Leg          `json:"legs"`
	Analysis StrikeAnalysis `json:"analysis"`
}

// Empty reports whether there is nothing to evaluate.
func (o *Order) Empty() bool {
	return o == nil || len(o.Legs) == 0
}

// Leg returns the first leg of the given type.
func (o *Order) Leg(t OptionType) (Leg, bool) {
	if o == nil {
		return Leg{}, false
	}
	for _, l := range o.Legs {
		if l.Type == t {
			return l, true
		}
	}
	return Leg{}, false
}

// RiskStatus is the gate's verdict recorded in the state.
type RiskStatus string

const (
	RiskApproved RiskStatus = "approved"
	RiskRejected RiskStatus = "rejected"
)

// Research is the context-research step's output.
type Research struct {
	Summary   string    `json:"summary"`
	Sentiment Sentiment `json:"sentiment"`
}
