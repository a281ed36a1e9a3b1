package marketdata

import (
	"context"
	"fmt"
	"time"

	"trader-agent/internal/httpx"
	"trader-agent/internal/types"
)

// AlpacaProvider reads bars and latest trades from the Alpaca data API.
type AlpacaProvider struct {
	http *httpx.Client
}

var _ Provider = (*AlpacaProvider)(nil)

func NewAlpacaProvider(apiKey, secretKey, dataBaseURL string) *AlpacaProvider {
	if dataBaseURL == "" {
		dataBaseURL = "https://data.alpaca.markets"
	}
	return &AlpacaProvider{
		http: httpx.NewClient(
			httpx.WithBaseURL(dataBaseURL),
			httpx.WithTimeout(10*time.Second),
			httpx.WithHeader("APCA-API-KEY-ID", apiKey),
			httpx.WithHeader("APCA-API-SECRET-KEY", secretKey),
		),
	}
}

func (p *AlpacaProvider) Name() string { return "alpaca" }

func (p *AlpacaProvider) Candles(ctx context.Context, symbol string, limit int) ([]types.Candle, error) {
	path := fmt.Sprintf("/v2/stocks/%s/bars?timeframe=5Min&limit=%d&feed=iex", symbol, limit)
	resp, err := p.http.GET(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("alpaca bars %s: %w", symbol, err)
	}

	var raw struct {
		Bars []struct {
			T time.Time `json:"t"`
			O float64   `json:"o"`
			H float64   `json:"h"`
			L float64   `json:"l"`
			C float64   `json:"c"`
			V float64   `json:"v"`
		} `json:"bars"`
	}
	if err := resp.ParseJSON(&raw); err != nil {
		return nil, fmt.Errorf("alpaca bars %s: %w", symbol, err)
	}
	if len(raw.Bars) == 0 {
		return nil, fmt.Errorf("alpaca bars %s: empty response", symbol)
	}

	out := make([]types.Candle, 0, len(raw.Bars))
	for _, b := range raw.Bars {
		out = append(out, types.Candle{
			Ts: b.T.Unix(), Open: b.O, High: b.H, Low: b.L, Close: b.C, Vol: b.V,
		})
	}
	return out, nil
}

func (p *AlpacaProvider) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	resp, err := p.http.GET(ctx, "/v2/stocks/"+symbol+"/trades/latest?feed=iex")
	if err != nil {
		return 0, fmt.Errorf("alpaca latest trade %s: %w", symbol, err)
	}

	var raw struct {
		Trade struct {
			Price float64 `json:"p"`
		} `json:"trade"`
	}
	if err := resp.ParseJSON(&raw); err != nil {
		return 0, fmt.Errorf("alpaca latest trade %s: %w", symbol, err)
	}
	if raw.Trade.Price <= 0 {
		return 0, fmt.Errorf("alpaca latest trade %s: no price", symbol)
	}
	return raw.Trade.Price, nil
}
