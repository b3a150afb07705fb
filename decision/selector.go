package decision

import (
	"fmt"
	"math"
	"strings"

	"optiflow/model"
)

const DefaultSigmaMult = 1.0

// Inputs is what the strategist knows about the market when it decides.
type Inputs struct {
	MarketData model.MarketData
	Sentiment  model.Sentiment
	Research   string
}

// Recommendation is the raw outcome of asking the oracle. Err is set when the
// call itself failed.
type Recommendation struct {
	Reply string
	Err   error
}

// Override is a caller's explicit choice. It beats any recommendation.
type Override struct {
	Strategy  string
	SigmaMult float64
}

// Present reports whether a strategy was named.
func (o Override) Present() bool {
	return strings.TrimSpace(o.Strategy) != ""
}

// SelectStrategy decides the trade shape. It performs no I/O: the oracle has
// already been asked (or not) and its reply is passed in rec.
func SelectStrategy(in Inputs, rec *Recommendation, ov Override) model.StrategyDecision {
	sentiment := in.Sentiment
	if sentiment == "" {
		sentiment = model.SentimentNeutral
	}

	if ov.Present() {
		d := fromOverride(ov)
		d.MarketSentiment = sentiment
		return d
	}

	d, analysis := fromRecommendation(in, rec)
	// A fallback is always a 1.0 sigma Strangle.
	if s, ok := validSigma(ov.SigmaMult); ok && !analysis.fallback {
		d.SigmaMult = s
		d.Rationale += fmt.Sprintf(" (sigma multiplier overridden to %g)", s)
	}
	d.Constraints = RulesFor(d.Strategy)
	if analysis.extra != "" {
		d.Constraints += "\n\nAdditional constraints: " + analysis.extra
	}
	d.MarketSentiment = sentiment
	d.LLMAnalysis = analysis.text
	return d
}

func fromOverride(ov Override) model.StrategyDecision {
	strategy, ok := model.ParseStrategy(ov.Strategy)
	rationale := "manual override"
	if !ok {
		strategy = model.StrategyStrangle
		rationale = fmt.Sprintf("manual override %q not recognised; defaulting to Strangle", ov.Strategy)
	}
	sigma := DefaultSigmaMult
	if s, ok := validSigma(ov.SigmaMult); ok {
		sigma = s
	}
	return model.StrategyDecision{
		Strategy:    strategy,
		SigmaMult:   sigma,
		Rationale:   rationale,
		Constraints: RulesFor(strategy),
		LLMAnalysis: "manual override; recommendation not consulted",
	}
}

type oracleAnalysis struct {
	text     string
	extra    string
	fallback bool
}

func fromRecommendation(in Inputs, rec *Recommendation) (model.StrategyDecision, oracleAnalysis) {
	fallback := func(reason string, text string) (model.StrategyDecision, oracleAnalysis) {
		return model.StrategyDecision{
			Strategy:  model.StrategyStrangle,
			SigmaMult: DefaultSigmaMult,
			Rationale: fmt.Sprintf("defaulting to Strangle: %s; IV is %.2f%%", reason, in.MarketData.IV),
		}, oracleAnalysis{text: text, fallback: true}
	}

	switch {
	case rec == nil:
		return fallback("no recommendation available", "")
	case rec.Err != nil:
		return fallback(fmt.Sprintf("recommendation unavailable (%v)", rec.Err), "")
	}

	c, err := ParseContract(rec.Reply)
	if err != nil {
		return fallback(fmt.Sprintf("recommendation unparseable (%v)", err), rec.Reply)
	}
	if c.Failed() {
		reason := strings.TrimSpace(c.Error)
		if reason == "" {
			reason = "no reason given"
		}
		return fallback("recommendation reported failure: "+reason, rec.Reply)
	}

	var notes []string
	strategy, ok := model.ParseStrategy(c.Strategy)
	if !ok {
		strategy = model.StrategyStrangle
		notes = append(notes, fmt.Sprintf("unknown strategy %q, using Strangle", c.Strategy))
	}

	sigma := DefaultSigmaMult
	if c.SigmaMult != nil {
		if s, ok := validSigma(*c.SigmaMult); ok {
			sigma = s
		} else {
			notes = append(notes, fmt.Sprintf("sigma_mult %v ignored, using %g", *c.SigmaMult, DefaultSigmaMult))
		}
	}

	rationale := strings.TrimSpace(c.Rationale)
	if rationale == "" {
		rationale = "no rationale given"
	}
	if len(notes) > 0 {
		rationale += " [" + strings.Join(notes, "; ") + "]"
	}

	return model.StrategyDecision{
		Strategy:  strategy,
		SigmaMult: sigma,
		Rationale: rationale,
	}, oracleAnalysis{text: rec.Reply, extra: strings.TrimSpace(c.Constraints)}
}

func validSigma(v float64) (float64, bool) {
	if v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v) {
		return v, true
	}
	return 0, false
}
