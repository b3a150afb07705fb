package decision

import "optiflow/model"

// StrangleRules is the house playbook for short strangles.
const StrangleRules = `Short Strangle rules and constraints
1. Market conditions: implied volatility should be above the 50th percentile. Avoid entering before major events (earnings, policy announcements). Do not trade before 9:30 AM.
2. Strike selection: sell the call and the put at 15-20 delta, ideally outside the 1 standard deviation range.
3. Management: exit if the loss exceeds 2x the credit received. Adjust strikes if spot breaches a breakeven. Take profit at 50% of max profit.`

// StraddleRules is the house playbook for short straddles.
const StraddleRules = `Short Straddle rules and constraints
1. Market conditions: prefer low and stable implied volatility with no scheduled events before expiry.
2. Strike selection: sell the call and the put at the at-the-money strike.
3. Management: exit if the loss exceeds 1.5x the credit received. Adjust when spot moves more than 1% from entry. Take profit at 30% of max profit.`

// RulesFor returns the playbook attached to a decision.
func RulesFor(s model.Strategy) string {
	if s == model.StrategyStraddle {
		return StraddleRules
	}
	return StrangleRules
}
