package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"trader-agent/internal/types"
)

// DryRun simulates the broker for DRY_RUN mode: a paper account, an
// in-memory position book, and a random-walk price per symbol.
type DryRun struct {
	mu     sync.Mutex
	cash   float64
	prices map[string]float64
	pos    map[string]*types.Position
	seq    int
}

var _ Broker = (*DryRun)(nil)

func NewDryRun() *DryRun {
	return &DryRun{
		cash:   100_000,
		prices: make(map[string]float64),
		pos:    make(map[string]*types.Position),
	}
}

func (d *DryRun) price(symbol string) float64 {
	p, ok := d.prices[symbol]
	if !ok {
		p = 100 + rand.Float64()*400
	}
	p *= 1 + (rand.Float64()-0.5)*0.01
	d.prices[symbol] = p
	return p
}

func (d *DryRun) GetAccount(ctx context.Context) (types.Account, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	equity := d.cash
	for sym, p := range d.pos {
		equity += p.Qty * d.prices[sym]
	}
	return types.Account{Equity: equity, Cash: d.cash, BuyingPower: d.cash * 2}, nil
}

func (d *DryRun) GetPositions(ctx context.Context) ([]types.Position, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]types.Position, 0, len(d.pos))
	for _, p := range d.pos {
		out = append(out, *p)
	}
	return out, nil
}

func (d *DryRun) GetLatestPrice(ctx context.Context, symbol string) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.price(symbol), nil
}

func (d *DryRun) PlaceMarketOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	px := d.price(req.Symbol)
	qty := float64(req.Qty)

	switch req.Side {
	case types.Buy:
		cost := px * qty
		if cost > d.cash {
			return types.OrderResp{}, fmt.Errorf("dry-run: insufficient cash for %s x%d", req.Symbol, req.Qty)
		}
		d.cash -= cost
		p, ok := d.pos[req.Symbol]
		if !ok {
			p = &types.Position{Symbol: req.Symbol}
			d.pos[req.Symbol] = p
		}
		total := p.AvgPrice*p.Qty + px*qty
		p.Qty += qty
		p.AvgPrice = total / p.Qty
	case types.Sell:
		p, ok := d.pos[req.Symbol]
		if !ok || p.Qty < qty {
			return types.OrderResp{}, fmt.Errorf("dry-run: no position to sell %s x%d", req.Symbol, req.Qty)
		}
		d.cash += px * qty
		p.Qty -= qty
		if p.Qty <= 0 {
			delete(d.pos, req.Symbol)
		}
	default:
		return types.OrderResp{}, fmt.Errorf("dry-run: unsupported side %q", req.Side)
	}

	d.seq++
	return types.OrderResp{OrderID: fmt.Sprintf("dry-%06d", d.seq), Status: "filled"}, nil
}
