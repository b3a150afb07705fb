package quant

import (
	"sort"

	"optiflow/model"
)

// DefaultChainWindow keeps strikes within 2% of spot.
const DefaultChainWindow = 0.02

// ChainQuote is one strike/expiry record as delivered by the exchange feed.
type ChainQuote struct {
	Strike float64
	Expiry string
	CE     *LegQuote
	PE     *LegQuote
}

// LegQuote is the per-side quote of a ChainQuote.
type LegQuote struct {
	ImpliedVolatility float64
	OpenInterest      float64
	LastPrice         float64
}

// FilterChain keeps the first (current) expiry and the strikes within
// spot*(1±window), sorted by strike. An empty expiry list yields nil.
func FilterChain(symbol string, spot float64, expiries []string, quotes []ChainQuote, window float64) *model.OptionChain {
	if len(expiries) == 0 || spot <= 0 {
		return nil
	}
	if window <= 0 {
		window = DefaultChainWindow
	}
	current := expiries[0]
	lo, hi := spot*(1-window), spot*(1+window)

	rows := make([]model.ChainRow, 0)
	for _, q := range quotes {
		if q.Expiry != current || q.Strike < lo || q.Strike > hi {
			continue
		}
		row := model.ChainRow{Strike: q.Strike}
		if q.CE != nil {
			row.CEIV, row.CEOI, row.CELTP = q.CE.ImpliedVolatility, q.CE.OpenInterest, q.CE.LastPrice
		}
		if q.PE != nil {
			row.PEIV, row.PEOI, row.PELTP = q.PE.ImpliedVolatility, q.PE.OpenInterest, q.PE.LastPrice
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Strike < rows[j].Strike })

	return &model.OptionChain{
		Symbol:    symbol,
		Expiry:    current,
		SpotPrice: spot,
		Rows:      rows,
	}
}
