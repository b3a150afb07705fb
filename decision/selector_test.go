package decision

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"optiflow/model"
)

func inputs() Inputs {
	return Inputs{
		MarketData: model.MarketData{Symbol: "NIFTY", SpotPrice: 22000, IV: 15, DaysToExpiry: 5},
		Sentiment:  model.SentimentCalm,
	}
}

func TestSelectStrategyOverrideWins(t *testing.T) {
	rec := &Recommendation{Reply: `{"schema_version":"1","strategy":"Strangle","sigma_mult":2}`}

	d := SelectStrategy(inputs(), rec, Override{Strategy: "Short Straddle"})
	assert.Equal(t, model.StrategyStraddle, d.Strategy)
	assert.Equal(t, 1.0, d.SigmaMult)
	assert.Equal(t, "manual override", d.Rationale)
	assert.Equal(t, StraddleRules, d.Constraints)
	assert.Equal(t, model.SentimentCalm, d.MarketSentiment)
	assert.NotContains(t, d.LLMAnalysis, "Strangle")

	d = SelectStrategy(inputs(), nil, Override{Strategy: "Strangle", SigmaMult: 1.5})
	assert.Equal(t, model.StrategyStrangle, d.Strategy)
	assert.Equal(t, 1.5, d.SigmaMult)
}

func TestSelectStrategyUnknownOverride(t *testing.T) {
	d := SelectStrategy(inputs(), nil, Override{Strategy: "Iron Condor"})
	assert.Equal(t, model.StrategyStrangle, d.Strategy)
	assert.Contains(t, d.Rationale, `"Iron Condor" not recognised`)
	assert.Equal(t, StrangleRules, d.Constraints)
}

func TestSelectStrategyFromRecommendation(t *testing.T) {
	tests := []struct {
		name      string
		rec       *Recommendation
		strategy  model.Strategy
		sigma     float64
		rationale string
	}{
		{
			name:      "straddle",
			rec:       &Recommendation{Reply: `<decision>{"schema_version":"1","strategy":"Straddle","rationale":"IV crush expected","status":"ok"}</decision>`},
			strategy:  model.StrategyStraddle,
			sigma:     1.0,
			rationale: "IV crush expected",
		},
		{
			name:      "strangle with sigma",
			rec:       &Recommendation{Reply: `{"schema_version":"1","strategy":"short strangle","sigma_mult":1.5,"rationale":"range bound"}`},
			strategy:  model.StrategyStrangle,
			sigma:     1.5,
			rationale: "range bound",
		},
		{
			name:      "unknown strategy",
			rec:       &Recommendation{Reply: `{"schema_version":"1","strategy":"Butterfly","rationale":"x"}`},
			strategy:  model.StrategyStrangle,
			sigma:     1.0,
			rationale: `unknown strategy "Butterfly"`,
		},
		{
			name:      "negative sigma",
			rec:       &Recommendation{Reply: `{"schema_version":"1","strategy":"Strangle","sigma_mult":-1,"rationale":"x"}`},
			strategy:  model.StrategyStrangle,
			sigma:     1.0,
			rationale: "sigma_mult -1 ignored",
		},
		{
			name:      "zero sigma",
			rec:       &Recommendation{Reply: `{"schema_version":"1","strategy":"Straddle","sigma_mult":0}`},
			strategy:  model.StrategyStraddle,
			sigma:     1.0,
			rationale: "no rationale given",
		},
		{
			name:      "no oracle",
			rec:       nil,
			strategy:  model.StrategyStrangle,
			sigma:     1.0,
			rationale: "defaulting to Strangle: no recommendation available; IV is 15.00%",
		},
		{
			name:      "oracle error",
			rec:       &Recommendation{Err: errors.New("timeout")},
			strategy:  model.StrategyStrangle,
			sigma:     1.0,
			rationale: "recommendation unavailable (timeout)",
		},
		{
			name:      "prose only",
			rec:       &Recommendation{Reply: "Straddle looks attractive today."},
			strategy:  model.StrategyStrangle,
			sigma:     1.0,
			rationale: "recommendation unparseable",
		},
		{
			name:      "declared failure",
			rec:       &Recommendation{Reply: `{"schema_version":"1","strategy":"Straddle","status":"error","error":"stale data"}`},
			strategy:  model.StrategyStrangle,
			sigma:     1.0,
			rationale: "recommendation reported failure: stale data",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := SelectStrategy(inputs(), tt.rec, Override{})
			assert.Equal(t, tt.strategy, d.Strategy)
			assert.Equal(t, tt.sigma, d.SigmaMult)
			assert.Contains(t, d.Rationale, tt.rationale)
			assert.Equal(t, RulesFor(tt.strategy), d.Constraints)
			assert.Equal(t, model.SentimentCalm, d.MarketSentiment)
		})
	}
}

func TestSelectStrategyKeepsRawReplyAndConstraints(t *testing.T) {
	reply := `{"schema_version":"1","strategy":"Strangle","rationale":"r","constraints":"no entries after 2pm"}`
	d := SelectStrategy(inputs(), &Recommendation{Reply: reply}, Override{})
	assert.Equal(t, reply, d.LLMAnalysis)
	assert.Contains(t, d.Constraints, StrangleRules)
	assert.Contains(t, d.Constraints, "no entries after 2pm")
}

func TestSelectStrategySigmaOnlyOverride(t *testing.T) {
	rec := &Recommendation{Reply: `{"schema_version":"1","strategy":"Strangle","sigma_mult":1.5,"rationale":"r"}`}
	d := SelectStrategy(inputs(), rec, Override{SigmaMult: 0.5})
	assert.Equal(t, model.StrategyStrangle, d.Strategy)
	assert.Equal(t, 0.5, d.SigmaMult)
	assert.Contains(t, d.Rationale, "overridden")
}

func TestSelectStrategySigmaOnlyOverrideIgnoredOnFallback(t *testing.T) {
	recs := map[string]*Recommendation{
		"none":        nil,
		"failed":      {Err: errors.New("timeout")},
		"unparseable": {Reply: "sell some strangles"},
		"reported":    {Reply: `{"schema_version":"1","error":"no data"}`},
	}
	for name, rec := range recs {
		t.Run(name, func(t *testing.T) {
			d := SelectStrategy(inputs(), rec, Override{SigmaMult: 0.5})
			assert.Equal(t, model.StrategyStrangle, d.Strategy)
			assert.Equal(t, DefaultSigmaMult, d.SigmaMult)
			assert.Contains(t, d.Rationale, "defaulting to Strangle")
			assert.NotContains(t, d.Rationale, "overridden")
		})
	}
}

func TestSelectStrategyDefaultsSentiment(t *testing.T) {
	in := inputs()
	in.Sentiment = ""
	d := SelectStrategy(in, nil, Override{})
	assert.Equal(t, model.SentimentNeutral, d.MarketSentiment)
}
