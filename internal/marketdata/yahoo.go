package marketdata

import (
	"context"
	"fmt"
	"time"

	"trader-agent/internal/httpx"
	"trader-agent/internal/types"
)

// YahooProvider is the keyless fallback source backed by the Yahoo Finance
// chart API.
type YahooProvider struct {
	http *httpx.Client
}

var _ Provider = (*YahooProvider)(nil)

func NewYahooProvider() *YahooProvider {
	return &YahooProvider{
		http: httpx.NewClient(
			httpx.WithBaseURL("https://query1.finance.yahoo.com"),
			httpx.WithTimeout(10*time.Second),
		),
	}
}

func (p *YahooProvider) Name() string { return "yahoo" }

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (p *YahooProvider) fetchChart(ctx context.Context, symbol, interval, rng string) (*yahooChart, error) {
	path := fmt.Sprintf("/v8/finance/chart/%s?interval=%s&range=%s", symbol, interval, rng)
	resp, err := p.http.GET(ctx, path, httpx.YahooFinanceHeaders())
	if err != nil {
		return nil, fmt.Errorf("yahoo chart %s: %w", symbol, err)
	}

	var raw yahooChart
	if err := resp.ParseJSON(&raw); err != nil {
		return nil, fmt.Errorf("yahoo chart %s: %w", symbol, err)
	}
	if raw.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo chart %s: %s", symbol, raw.Chart.Error.Description)
	}
	if len(raw.Chart.Result) == 0 {
		return nil, fmt.Errorf("yahoo chart %s: empty result", symbol)
	}
	return &raw, nil
}

func (p *YahooProvider) Candles(ctx context.Context, symbol string, limit int) ([]types.Candle, error) {
	raw, err := p.fetchChart(ctx, symbol, "5m", "1d")
	if err != nil {
		return nil, err
	}

	res := raw.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("yahoo chart %s: no quote data", symbol)
	}
	q := res.Indicators.Quote[0]

	// The quote arrays run parallel to the timestamps but Yahoo sometimes
	// returns them shorter; index only as far as the shortest one.
	n := len(res.Timestamp)
	for _, l := range []int{len(q.Open), len(q.High), len(q.Low), len(q.Close), len(q.Volume)} {
		if l < n {
			n = l
		}
	}

	out := make([]types.Candle, 0, n)
	for i, ts := range res.Timestamp[:n] {
		if q.Close[i] == 0 {
			continue
		}
		out = append(out, types.Candle{
			Ts: ts, Open: q.Open[i], High: q.High[i], Low: q.Low[i], Close: q.Close[i], Vol: q.Volume[i],
		})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("yahoo chart %s: no usable candles", symbol)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (p *YahooProvider) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	raw, err := p.fetchChart(ctx, symbol, "1m", "1d")
	if err != nil {
		return 0, err
	}

	price := raw.Chart.Result[0].Meta.RegularMarketPrice
	if price <= 0 {
		return 0, fmt.Errorf("yahoo chart %s: no market price", symbol)
	}
	return price, nil
}
