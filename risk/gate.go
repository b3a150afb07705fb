// Package risk decides whether a candidate order may be proposed.
//
// The local rules always run. An optional second opinion from the oracle can
// only tighten the verdict: it may reject an order the rules approved, never
// approve one they rejected. If an opinion was requested but is missing or
// malformed, the order is rejected.
package risk

import (
	"fmt"
	"strings"

	"optiflow/decision"
	"optiflow/model"
)

const DefaultMinIV = 11.0

// Reasons reported in Verdict.Reason.
const (
	ReasonNoOrder          = "no order"
	ReasonLowIV            = "low IV"
	ReasonVolatileStrangle = "volatile sentiment vs strangle"
	ReasonFailSafe         = "oracle unavailable — fail-safe reject"
	ReasonApproved         = "all checks passed"
)

type Verdict struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

// Status maps the verdict onto the state's risk_status values.
func (v Verdict) Status() model.RiskStatus {
	if v.Approved {
		return model.RiskApproved
	}
	return model.RiskRejected
}

func approve() Verdict             { return Verdict{Approved: true, Reason: ReasonApproved} }
func reject(reason string) Verdict { return Verdict{Approved: false, Reason: reason} }

// Input is what a rule looks at.
type Input struct {
	Order     *model.Order
	Market    model.MarketData
	Sentiment model.Sentiment
}

// Rule returns a rejection reason, or "" to let the order through.
type Rule interface {
	Check(in Input) string
}

type RuleFunc func(in Input) string

func (f RuleFunc) Check(in Input) string { return f(in) }

// Gate runs its rules in order and stops at the first rejection.
type Gate struct {
	MinIV float64
	rules []Rule
}

// NewGate returns a gate with the standard rules. minIV <= 0 selects
// DefaultMinIV. Extra rules run after the standard ones.
func NewGate(minIV float64, extra ...Rule) *Gate {
	if minIV <= 0 {
		minIV = DefaultMinIV
	}
	g := &Gate{MinIV: minIV}
	g.rules = append([]Rule{
		RuleFunc(requireOrder),
		RuleFunc(g.requireIV),
		RuleFunc(noStrangleIntoVolatility),
	}, extra...)
	return g
}

func requireOrder(in Input) string {
	if in.Order.Empty() {
		return ReasonNoOrder
	}
	return ""
}

func (g *Gate) requireIV(in Input) string {
	if in.Market.IV < g.MinIV {
		return ReasonLowIV
	}
	return ""
}

func noStrangleIntoVolatility(in Input) string {
	if in.Sentiment == model.SentimentVolatile && in.Order.Strategy == model.StrategyStrangle {
		return ReasonVolatileStrangle
	}
	return ""
}

// CheckLocal applies the rules without consulting the oracle.
func (g *Gate) CheckLocal(order *model.Order, md model.MarketData, sentiment model.Sentiment) Verdict {
	in := Input{Order: order, Market: md, Sentiment: sentiment}
	for _, r := range g.rules {
		if r == nil {
			continue
		}
		if reason := r.Check(in); reason != "" {
			return reject(reason)
		}
	}
	return approve()
}

// Evaluate combines the local rules with an optional oracle opinion. A nil
// opinion means no oracle is configured.
func (g *Gate) Evaluate(order *model.Order, md model.MarketData, sentiment model.Sentiment, opinion *Opinion) Verdict {
	local := g.CheckLocal(order, md, sentiment)
	if !local.Approved || opinion == nil {
		return local
	}

	if opinion.Err != nil {
		return reject(ReasonFailSafe)
	}
	audit, err := ParseAudit(opinion.Reply)
	if err != nil {
		return reject(ReasonFailSafe)
	}
	if audit.Verdict == VerdictReject {
		reason := strings.TrimSpace(audit.Reason)
		if reason == "" {
			reason = "rejected by risk auditor"
		}
		return reject(reason)
	}
	return local
}

// Opinion is the raw outcome of asking the oracle for a second opinion.
type Opinion struct {
	Reply string
	Err   error
}

const (
	VerdictApprove = "approve"
	VerdictReject  = "reject"
)

// Audit is the structured reply of the risk auditor prompt.
type Audit struct {
	SchemaVersion string `json:"schema_version"`
	Verdict       string `json:"verdict"`
	Reason        string `json:"reason"`
}

// ParseAudit decodes and validates an auditor reply.
func ParseAudit(reply string) (*Audit, error) {
	var a Audit
	if err := decision.DecodeReply(reply, &a); err != nil {
		return nil, err
	}
	if a.SchemaVersion != decision.SchemaVersion {
		return nil, fmt.Errorf("%w %q", decision.ErrUnsupportedSchema, a.SchemaVersion)
	}
	a.Verdict = strings.ToLower(strings.TrimSpace(a.Verdict))
	if a.Verdict != VerdictApprove && a.Verdict != VerdictReject {
		return nil, fmt.Errorf("unknown verdict %q", a.Verdict)
	}
	return &a, nil
}
