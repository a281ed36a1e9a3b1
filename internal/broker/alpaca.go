package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"trader-agent/internal/httpx"
	"trader-agent/internal/types"
)

// AlpacaParams configures the Alpaca paper/live trading client.
type AlpacaParams struct {
	APIKey      string
	SecretKey   string
	BaseURL     string // trading API, paper by default
	DataBaseURL string // market data API
}

// Alpaca implements Broker against the Alpaca REST API.
type Alpaca struct {
	trading *httpx.Client
	data    *httpx.Client
}

var _ Broker = (*Alpaca)(nil)

func NewAlpaca(p AlpacaParams) *Alpaca {
	if p.BaseURL == "" {
		p.BaseURL = "https://paper-api.alpaca.markets"
	}
	if p.DataBaseURL == "" {
		p.DataBaseURL = "https://data.alpaca.markets"
	}

	auth := func(base string) *httpx.Client {
		return httpx.NewClient(
			httpx.WithBaseURL(base),
			httpx.WithTimeout(10*time.Second),
			httpx.WithHeader("APCA-API-KEY-ID", p.APIKey),
			httpx.WithHeader("APCA-API-SECRET-KEY", p.SecretKey),
		)
	}
	return &Alpaca{trading: auth(p.BaseURL), data: auth(p.DataBaseURL)}
}

// Alpaca serializes numeric fields as strings.
func parseNum(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func (a *Alpaca) GetAccount(ctx context.Context) (types.Account, error) {
	resp, err := a.trading.GET(ctx, "/v2/account")
	if err != nil {
		return types.Account{}, fmt.Errorf("alpaca account: %w", err)
	}

	var raw struct {
		Equity      string `json:"equity"`
		Cash        string `json:"cash"`
		BuyingPower string `json:"buying_power"`
	}
	if err := resp.ParseJSON(&raw); err != nil {
		return types.Account{}, fmt.Errorf("alpaca account: %w", err)
	}
	return types.Account{
		Equity:      parseNum(raw.Equity),
		Cash:        parseNum(raw.Cash),
		BuyingPower: parseNum(raw.BuyingPower),
	}, nil
}

func (a *Alpaca) GetPositions(ctx context.Context) ([]types.Position, error) {
	resp, err := a.trading.GET(ctx, "/v2/positions")
	if err != nil {
		return nil, fmt.Errorf("alpaca positions: %w", err)
	}

	var raw []struct {
		Symbol   string `json:"symbol"`
		Qty      string `json:"qty"`
		AvgPrice string `json:"avg_entry_price"`
	}
	if err := resp.ParseJSON(&raw); err != nil {
		return nil, fmt.Errorf("alpaca positions: %w", err)
	}

	out := make([]types.Position, 0, len(raw))
	for _, p := range raw {
		out = append(out, types.Position{
			Symbol:   p.Symbol,
			Qty:      parseNum(p.Qty),
			AvgPrice: parseNum(p.AvgPrice),
		})
	}
	return out, nil
}

func (a *Alpaca) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	resp, err := a.data.GET(ctx, "/v2/stocks/"+symbol+"/trades/latest")
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

func (a *Alpaca) PlaceMarketOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	body := map[string]string{
		"symbol":        req.Symbol,
		"qty":           strconv.Itoa(req.Qty),
		"side":          strings.ToLower(string(req.Side)),
		"type":          "market",
		"time_in_force": "day",
	}

	resp, err := a.trading.POST(ctx, "/v2/orders", body)
	if err != nil {
		return types.OrderResp{}, fmt.Errorf("alpaca order %s %s: %w", req.Side, req.Symbol, err)
	}

	var raw struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := resp.ParseJSON(&raw); err != nil {
		return types.OrderResp{}, fmt.Errorf("alpaca order %s %s: %w", req.Side, req.Symbol, err)
	}
	return types.OrderResp{OrderID: raw.ID, Status: raw.Status}, nil
}
