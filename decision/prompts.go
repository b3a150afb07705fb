package decision

import (
	"fmt"
	"strings"

	"optiflow/model"
)

type promptData struct {
	SchemaVersion string
}

// StrategistPrompts builds the system and user prompt for a recommendation.
func (pm *PromptManager) StrategistPrompts(in Inputs) (system, user string, err error) {
	system, err = pm.Render(TemplateStrategist, promptData{SchemaVersion: SchemaVersion})
	if err != nil {
		return "", "", err
	}

	md := in.MarketData
	var sb strings.Builder
	fmt.Fprintf(&sb, "Underlying: %s\n", md.Symbol)
	fmt.Fprintf(&sb, "Spot: %.2f\n", md.SpotPrice)
	fmt.Fprintf(&sb, "Market IV: %.2f%%\n", md.IV)
	fmt.Fprintf(&sb, "Days to expiry: %d\n", md.DaysToExpiry)
	if !md.OptionChain.Empty() {
		fmt.Fprintf(&sb, "Option chain (%s, %d strikes near the money):\n", md.OptionChain.Expiry, len(md.OptionChain.Rows))
		for _, r := range md.OptionChain.Rows {
			fmt.Fprintf(&sb, "  %.0f  CE iv %.2f oi %.0f | PE iv %.2f oi %.0f\n", r.Strike, r.CEIV, r.CEOI, r.PEIV, r.PEOI)
		}
	}
	fmt.Fprintf(&sb, "Sentiment: %s\n", orNeutral(in.Sentiment))
	if in.Research != "" {
		fmt.Fprintf(&sb, "Research: %s\n", in.Research)
	}
	fmt.Fprintf(&sb, "\nStrangle rules:\n%s\n\nStraddle rules:\n%s\n\n", StrangleRules, StraddleRules)
	sb.WriteString("Recommend the best strategy.")
	return system, sb.String(), nil
}

// RiskAuditPrompts builds the system and user prompt for a second opinion on
// an order.
func (pm *PromptManager) RiskAuditPrompts(order *model.Order, md model.MarketData, sentiment model.Sentiment) (system, user string, err error) {
	system, err = pm.Render(TemplateRiskAuditor, promptData{SchemaVersion: SchemaVersion})
	if err != nil {
		return "", "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Underlying: %s spot %.2f, IV %.2f%%, %d days to expiry, sentiment %s\n",
		md.Symbol, md.SpotPrice, md.IV, md.DaysToExpiry, orNeutral(sentiment))
	if order != nil {
		fmt.Fprintf(&sb, "Order: %s %s\n", order.Action, order.Strategy)
		for _, l := range order.Legs {
			fmt.Fprintf(&sb, "  %s %d %s x%d\n", l.Type, l.Strike, l.Symbol, l.Qty)
		}
		if order.Analysis.RangePoints > 0 {
			fmt.Fprintf(&sb, "Expected move: %.2f points at %.2f sigma\n", order.Analysis.RangePoints, order.Analysis.SigmaMult)
		}
	}
	sb.WriteString("\nApprove or reject this order.")
	return system, sb.String(), nil
}

func orNeutral(s model.Sentiment) model.Sentiment {
	if s == "" {
		return model.SentimentNeutral
	}
	return s
}
