package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"optiflow/logger"
	"optiflow/model"
	"optiflow/quant"
)

const (
	DefaultChartURL       = "https://query1.finance.yahoo.com/v8/finance/chart"
	DefaultOptionChainURL = "https://www.nseindia.com/api/option-chain-indices"
	DefaultSpotTicker     = "^NSEI"
	DefaultVIXTicker      = "^INDIAVIX"
)

// HTTPConfig configures HTTPSource. Zero fields take the defaults above.
type HTTPConfig struct {
	ChartURL       string        `yaml:"chart_url"`
	OptionChainURL string        `yaml:"option_chain_url"`
	SpotTicker     string        `yaml:"spot_ticker"`
	VIXTicker      string        `yaml:"vix_ticker"`
	ChainWindow    float64       `yaml:"chain_window"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryWait      time.Duration `yaml:"retry_wait"`
}

func (c *HTTPConfig) setDefaults() {
	if c.ChartURL == "" {
		c.ChartURL = DefaultChartURL
	}
	if c.OptionChainURL == "" {
		c.OptionChainURL = DefaultOptionChainURL
	}
	if c.SpotTicker == "" {
		c.SpotTicker = DefaultSpotTicker
	}
	if c.VIXTicker == "" {
		c.VIXTicker = DefaultVIXTicker
	}
	if c.ChainWindow <= 0 {
		c.ChainWindow = quant.DefaultChainWindow
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryWait <= 0 {
		c.RetryWait = 2 * time.Second
	}
}

// HTTPSource reads spot and the volatility index from a chart API and the
// option chain from the exchange's option-chain API.
type HTTPSource struct {
	cfg    HTTPConfig
	client *http.Client
}

func NewHTTPSource(cfg HTTPConfig) *HTTPSource {
	cfg.setDefaults()
	return &HTTPSource{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (s *HTTPSource) FetchSpot(ctx context.Context) (float64, error) {
	return s.lastPrice(ctx, s.cfg.SpotTicker)
}

func (s *HTTPSource) FetchVolatilityIndex(ctx context.Context) (float64, error) {
	return s.lastPrice(ctx, s.cfg.VIXTicker)
}

func (s *HTTPSource) lastPrice(ctx context.Context, ticker string) (float64, error) {
	endpoint := fmt.Sprintf("%s/%s?interval=1d&range=1d", strings.TrimRight(s.cfg.ChartURL, "/"), url.PathEscape(ticker))

	var price float64
	err := s.withRetry(ctx, "chart "+ticker, func() error {
		var resp chartResponse
		if err := s.getJSON(ctx, endpoint, &resp); err != nil {
			return err
		}
		if e := resp.Chart.Error; e != nil {
			return fmt.Errorf("chart API error %s: %s", e.Code, e.Description)
		}
		if len(resp.Chart.Result) == 0 || resp.Chart.Result[0].Meta.RegularMarketPrice <= 0 {
			return fmt.Errorf("%s: %w", ticker, ErrNoData)
		}
		price = resp.Chart.Result[0].Meta.RegularMarketPrice
		return nil
	})
	return price, err
}

type chainLeg struct {
	ImpliedVolatility float64 `json:"impliedVolatility"`
	OpenInterest      float64 `json:"openInterest"`
	LastPrice         float64 `json:"lastPrice"`
}

type chainResponse struct {
	Records struct {
		ExpiryDates     []string `json:"expiryDates"`
		UnderlyingValue float64  `json:"underlyingValue"`
		Data            []struct {
			StrikePrice float64   `json:"strikePrice"`
			ExpiryDate  string    `json:"expiryDate"`
			CE          *chainLeg `json:"CE"`
			PE          *chainLeg `json:"PE"`
		} `json:"data"`
	} `json:"records"`
}

func (s *HTTPSource) FetchOptionChain(ctx context.Context, symbol string) (*model.OptionChain, error) {
	endpoint := s.cfg.OptionChainURL + "?symbol=" + url.QueryEscape(symbol)

	var chain *model.OptionChain
	err := s.withRetry(ctx, "option chain "+symbol, func() error {
		var resp chainResponse
		if err := s.getJSON(ctx, endpoint, &resp); err != nil {
			return err
		}
		rec := resp.Records
		if len(rec.ExpiryDates) == 0 || rec.UnderlyingValue <= 0 {
			return fmt.Errorf("option chain %s: %w", symbol, ErrNoData)
		}

		quotes := make([]quant.ChainQuote, 0, len(rec.Data))
		for _, d := range rec.Data {
			quotes = append(quotes, quant.ChainQuote{
				Strike: d.StrikePrice,
				Expiry: d.ExpiryDate,
				CE:     legQuote(d.CE),
				PE:     legQuote(d.PE),
			})
		}
		chain = quant.FilterChain(symbol, rec.UnderlyingValue, rec.ExpiryDates, quotes, s.cfg.ChainWindow)
		return nil
	})
	return chain, err
}

func legQuote(l *chainLeg) *quant.LegQuote {
	if l == nil {
		return nil
	}
	return &quant.LegQuote{
		ImpliedVolatility: l.ImpliedVolatility,
		OpenInterest:      l.OpenInterest,
		LastPrice:         l.LastPrice,
	}
}

func (s *HTTPSource) withRetry(ctx context.Context, what string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			logger.Warnf("retry %d/%d fetching %s", attempt, s.cfg.MaxRetries, what)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.cfg.RetryWait):
			}
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Infof("fetching %s succeeded on attempt %d", what, attempt)
			}
			return nil
		}
		lastErr = err
		logger.Warnf("fetching %s failed (attempt %d): %v", what, attempt, err)
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("market: all %d attempts to fetch %s failed: %w", s.cfg.MaxRetries, what, lastErr)
}

func (s *HTTPSource) getJSON(ctx context.Context, endpoint string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	// Both APIs refuse requests without a browser-like agent.
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) optiflow")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, snippet(body))
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func snippet(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
