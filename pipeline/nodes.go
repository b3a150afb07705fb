package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"optiflow/decision"
	"optiflow/graph"
	"optiflow/logger"
	"optiflow/market"
	"optiflow/model"
	"optiflow/quant"
	"optiflow/risk"
)

// scanMarket observes the underlying. Each value the source cannot provide
// falls back to its default; only data no step could price is an error.
func (p *Pipeline) scanMarket(ctx context.Context, s graph.State) (graph.State, error) {
	md := model.MarketData{
		Symbol:       p.opts.Symbol,
		SpotPrice:    p.opts.Defaults.Spot,
		IV:           p.opts.Defaults.IV,
		DaysToExpiry: p.opts.Defaults.DaysToExpiry,
	}

	var (
		spot, vix float64
		chain     *model.OptionChain
		spotErr   error
		vixErr    error
		chainErr  error
	)
	var eg errgroup.Group
	eg.Go(func() error {
		spot, spotErr = p.deps.Source.FetchSpot(ctx)
		return nil
	})
	eg.Go(func() error {
		vix, vixErr = p.deps.Source.FetchVolatilityIndex(ctx)
		return nil
	})
	eg.Go(func() error {
		chain, chainErr = p.deps.Source.FetchOptionChain(ctx, p.opts.Symbol)
		return nil
	})
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if spotErr != nil || !(spot > 0) {
		logger.Warnf("spot unavailable, using default %.2f: %v", md.SpotPrice, spotErr)
	} else {
		md.SpotPrice = spot
	}
	if vixErr != nil || !(vix > 0) {
		logger.Warnf("volatility index unavailable, using default %.2f: %v", md.IV, vixErr)
	} else {
		md.IV = vix
	}
	if chainErr != nil || chain.Empty() {
		logger.Warnf("option chain unavailable for %s: %v", p.opts.Symbol, chainErr)
	} else {
		md.OptionChain = chain
		if expiry, err := market.ParseExpiry(chain.Expiry); err == nil {
			md.DaysToExpiry = market.DaysToExpiry(expiry, p.now())
		}
	}

	if err := md.Validate(); err != nil {
		return graph.State{
			FieldMarketData: md,
			FieldError:      "invalid market data: " + err.Error(),
		}, nil
	}
	logger.Infof("%s spot %.2f, iv %.2f, %d days to expiry", md.Symbol, md.SpotPrice, md.IV, md.DaysToExpiry)
	return graph.State{FieldMarketData: md}, nil
}

// monitorPosition never fails the run: a broken history is logged and read
// as "no adjustment".
func (p *Pipeline) monitorPosition(ctx context.Context, s graph.State) (graph.State, error) {
	needed := false
	md, ok := MarketDataOf(s)
	if p.deps.Monitor != nil && ok {
		a, err := p.deps.Monitor.Check(ctx, RunIDOf(s), md)
		if err != nil {
			logger.Warnf("position monitor failed: %v", err)
		}
		needed = a.Needed
	}
	return graph.State{FieldAdjustmentNeeded: needed}, nil
}

func (p *Pipeline) research(ctx context.Context, s graph.State) (graph.State, error) {
	md, _ := MarketDataOf(s)
	r, err := p.deps.Researcher.Research(ctx, md)
	if err != nil {
		logger.Warnf("research unavailable, assuming neutral sentiment: %v", err)
		return graph.State{
			FieldResearchData:    "",
			FieldMarketSentiment: model.SentimentNeutral,
		}, nil
	}
	sentiment := r.Sentiment
	if sentiment == "" {
		sentiment = model.SentimentNeutral
	}
	return graph.State{
		FieldResearchData:    r.Summary,
		FieldMarketSentiment: sentiment,
	}, nil
}

func (p *Pipeline) strategize(ctx context.Context, s graph.State) (graph.State, error) {
	md, ok := MarketDataOf(s)
	if !ok {
		return graph.State{FieldError: "strategist: no market data"}, nil
	}
	in := decision.Inputs{MarketData: md, Sentiment: SentimentOf(s), Research: ResearchOf(s)}

	ov := decision.Override{Strategy: p.opts.StrategyOverride, SigmaMult: p.opts.SigmaOverride}
	if name, sigma := overrideOf(s); name != "" || sigma > 0 {
		if name != "" {
			ov.Strategy = name
		}
		if sigma > 0 {
			ov.SigmaMult = sigma
		}
	}

	var rec *decision.Recommendation
	if !ov.Present() && p.deps.Oracle != nil {
		rec = p.recommend(ctx, in)
	}

	d := decision.SelectStrategy(in, rec, ov)
	logger.Infof("strategy %s at %.2f sigma: %s", d.Strategy, d.SigmaMult, d.Rationale)
	return graph.State{FieldStrategyDecision: d}, nil
}

func (p *Pipeline) recommend(ctx context.Context, in decision.Inputs) *decision.Recommendation {
	system, user, err := p.deps.Prompts.StrategistPrompts(in)
	if err != nil {
		return &decision.Recommendation{Err: fmt.Errorf("render prompt: %w", err)}
	}
	reply, err := p.deps.Oracle.CallWithMessages(ctx, system, user)
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveOracleCall(purposeStrategist, err)
	}
	return &decision.Recommendation{Reply: reply, Err: err}
}

// execute turns the decision into a short order: ATM on both legs for a
// straddle, sigma-placed strikes for a strangle.
func (p *Pipeline) execute(ctx context.Context, s graph.State) (graph.State, error) {
	md, ok := MarketDataOf(s)
	if !ok {
		return graph.State{FieldError: "executor: no market data"}, nil
	}
	d, ok := DecisionOf(s)
	if !ok {
		return graph.State{FieldError: "executor: no strategy decision"}, nil
	}

	analysis, err := strikesFor(d, md)
	if err != nil {
		var de *quant.DomainError
		if errors.As(err, &de) {
			return graph.State{FieldError: "strike selection failed: " + de.Error()}, nil
		}
		return nil, err
	}

	expiry := p.now()
	if md.OptionChain != nil {
		if t, err := market.ParseExpiry(md.OptionChain.Expiry); err == nil {
			expiry = t
		}
	}
	order := model.Order{
		Action:   model.ActionSell,
		Strategy: d.Strategy,
		Legs: []model.Leg{
			p.leg(md.Symbol, expiry, analysis.SellCallStrike, model.Call),
			p.leg(md.Symbol, expiry, analysis.SellPutStrike, model.Put),
		},
		Analysis: analysis,
	}
	logger.Infof("order: SELL %s %s / %s", order.Strategy, order.Legs[0].Symbol, order.Legs[1].Symbol)
	return graph.State{FieldFinalOrder: order}, nil
}

func strikesFor(d model.StrategyDecision, md model.MarketData) (model.StrikeAnalysis, error) {
	if d.Strategy == model.StrategyStraddle {
		atm, err := quant.ATMStrike(md.SpotPrice)
		if err != nil {
			return model.StrikeAnalysis{}, err
		}
		return model.StrikeAnalysis{SigmaMult: d.SigmaMult, SellCallStrike: atm, SellPutStrike: atm}, nil
	}

	plan, err := quant.StrangleStrikes(md.SpotPrice, md.IV, md.DaysToExpiry, d.SigmaMult)
	if err != nil {
		return model.StrikeAnalysis{}, err
	}
	return model.StrikeAnalysis{
		RangePoints:    plan.RangePoints,
		SigmaMult:      plan.SigmaMult,
		UpperBoundRaw:  plan.UpperBoundRaw,
		LowerBoundRaw:  plan.LowerBoundRaw,
		SellCallStrike: plan.SellCallStrike,
		SellPutStrike:  plan.SellPutStrike,
	}, nil
}

func (p *Pipeline) leg(symbol string, expiry time.Time, strike int, typ model.OptionType) model.Leg {
	return model.Leg{
		Type:   typ,
		Strike: strike,
		Symbol: market.OptionSymbol(symbol, expiry, strike, typ),
		Qty:    p.opts.LotSize,
	}
}

// manageRisk applies the local rules and, when they pass and the audit is
// enabled, asks the oracle for a second opinion.
func (p *Pipeline) manageRisk(ctx context.Context, s graph.State) (graph.State, error) {
	md, _ := MarketDataOf(s)
	order := OrderOf(s)
	sentiment := SentimentOf(s)

	verdict := p.deps.Gate.CheckLocal(order, md, sentiment)
	if verdict.Approved && p.opts.ConsultRiskOracle && p.deps.Oracle != nil {
		verdict = p.deps.Gate.Evaluate(order, md, sentiment, p.audit(ctx, order, md, sentiment))
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveVerdict(verdict.Approved, verdict.Reason)
	}

	logger.Infof("risk %s: %s", verdict.Status(), verdict.Reason)
	return graph.State{
		FieldRiskStatus: verdict.Status(),
		FieldRiskReason: verdict.Reason,
	}, nil
}

func (p *Pipeline) audit(ctx context.Context, order *model.Order, md model.MarketData, sentiment model.Sentiment) *risk.Opinion {
	system, user, err := p.deps.Prompts.RiskAuditPrompts(order, md, sentiment)
	if err != nil {
		return &risk.Opinion{Err: fmt.Errorf("render prompt: %w", err)}
	}
	reply, err := p.deps.Oracle.CallWithMessages(ctx, system, user)
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveOracleCall(purposeRiskAudit, err)
	}
	return &risk.Opinion{Reply: reply, Err: err}
}
