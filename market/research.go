package market

import (
	"context"
	"fmt"

	"optiflow/model"
)

// Researcher supplies qualitative context for the strategist.
type Researcher interface {
	Research(ctx context.Context, md model.MarketData) (model.Research, error)
}

// DefaultResearchSummary stands in until a search provider is configured.
const DefaultResearchSummary = "Web Search Results: " +
	"1. Analysts predict range-bound movement ahead of Fed meeting. " +
	"2. India VIX has cooled down slightly. " +
	"3. FIIs have been net sellers."

// StaticResearcher always returns the same research.
type StaticResearcher struct {
	Summary   string
	Sentiment model.Sentiment
}

func NewStaticResearcher() StaticResearcher {
	return StaticResearcher{Summary: DefaultResearchSummary, Sentiment: model.SentimentCalm}
}

func (r StaticResearcher) Research(ctx context.Context, _ model.MarketData) (model.Research, error) {
	s := r.Sentiment
	if s == "" {
		s = model.SentimentNeutral
	}
	return model.Research{Summary: r.Summary, Sentiment: s}, nil
}

// VolatilityResearcher classifies sentiment from the IV level: below Calm is
// calm, at or above Volatile is volatile, anything else neutral.
type VolatilityResearcher struct {
	Calm     float64
	Volatile float64
}

func (r VolatilityResearcher) Research(ctx context.Context, md model.MarketData) (model.Research, error) {
	if r.Calm <= 0 || r.Volatile <= r.Calm {
		return model.Research{}, fmt.Errorf("market: bad volatility thresholds calm=%v volatile=%v", r.Calm, r.Volatile)
	}
	sentiment := model.SentimentNeutral
	switch {
	case md.IV < r.Calm:
		sentiment = model.SentimentCalm
	case md.IV >= r.Volatile:
		sentiment = model.SentimentVolatile
	}
	return model.Research{
		Summary:   fmt.Sprintf("%s volatility index at %.2f reads %s", md.Symbol, md.IV, sentiment),
		Sentiment: sentiment,
	}, nil
}
