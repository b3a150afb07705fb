package pipeline

import (
	"optiflow/graph"
	"optiflow/model"
)

// Fields of the state document.
const (
	FieldRunID            = "run_id"
	FieldMarketData       = "market_data"
	FieldResearchData     = "research_data"
	FieldMarketSentiment  = "market_sentiment"
	FieldAdjustmentNeeded = "adjustment_needed"
	FieldUserStrategy     = "user_selected_strategy"
	FieldSigmaOverride    = "sigma_mult_override"
	FieldStrategyDecision = "strategy_decision"
	FieldFinalOrder       = "final_order"
	FieldRiskStatus       = "risk_status"
	FieldRiskReason       = "risk_reason"
	FieldError            = graph.ErrorKey
)

func RunIDOf(s graph.State) string {
	v, _ := s[FieldRunID].(string)
	return v
}

func MarketDataOf(s graph.State) (model.MarketData, bool) {
	switch v := s[FieldMarketData].(type) {
	case model.MarketData:
		return v, true
	case *model.MarketData:
		if v != nil {
			return *v, true
		}
	}
	return model.MarketData{}, false
}

// SentimentOf returns the research sentiment, neutral when unset.
func SentimentOf(s graph.State) model.Sentiment {
	switch v := s[FieldMarketSentiment].(type) {
	case model.Sentiment:
		if v != "" {
			return v
		}
	case string:
		return model.ParseSentiment(v)
	}
	return model.SentimentNeutral
}

func ResearchOf(s graph.State) string {
	v, _ := s[FieldResearchData].(string)
	return v
}

func AdjustmentNeeded(s graph.State) bool {
	v, _ := s[FieldAdjustmentNeeded].(bool)
	return v
}

func DecisionOf(s graph.State) (model.StrategyDecision, bool) {
	switch v := s[FieldStrategyDecision].(type) {
	case model.StrategyDecision:
		return v, true
	case *model.StrategyDecision:
		if v != nil {
			return *v, true
		}
	}
	return model.StrategyDecision{}, false
}

// OrderOf returns a copy of the final order, or nil when none was built.
func OrderOf(s graph.State) *model.Order {
	switch v := s[FieldFinalOrder].(type) {
	case model.Order:
		return &v
	case *model.Order:
		if v != nil {
			o := *v
			return &o
		}
	}
	return nil
}

// RiskOf returns the gate verdict. ok is false while the gate has not run.
func RiskOf(s graph.State) (status model.RiskStatus, reason string, ok bool) {
	switch v := s[FieldRiskStatus].(type) {
	case model.RiskStatus:
		status, ok = v, v != ""
	case string:
		status, ok = model.RiskStatus(v), v != ""
	}
	reason, _ = s[FieldRiskReason].(string)
	return status, reason, ok
}

// overrideOf reads the caller's strategy choice from the initial state.
func overrideOf(s graph.State) (strategy string, sigma float64) {
	strategy, _ = s[FieldUserStrategy].(string)
	switch v := s[FieldSigmaOverride].(type) {
	case float64:
		sigma = v
	case int:
		sigma = float64(v)
	}
	return strategy, sigma
}
