package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trader-agent/internal/cache"
	"trader-agent/internal/logger"
	"trader-agent/internal/ratelimit"
	"trader-agent/internal/types"
)

// Chain tries each provider in order, fronted by a TTL cache and gated by the
// per-provider rate limiter. A provider refused by the limiter or failing the
// call is skipped; when every provider is unavailable the chain serves the
// last cached value, stale included, before giving up.
type Chain struct {
	providers []Provider
	limiter   *ratelimit.Limiter
	cache     *cache.Cache

	candleTTL time.Duration
	priceTTL  time.Duration
}

func NewChain(providers []Provider, limiter *ratelimit.Limiter, c *cache.Cache, candleTTL, priceTTL time.Duration) *Chain {
	return &Chain{
		providers: providers,
		limiter:   limiter,
		cache:     c,
		candleTTL: candleTTL,
		priceTTL:  priceTTL,
	}
}

func (c *Chain) fetch(ctx context.Context, symbol string, call func(Provider) (any, error)) (any, error) {
	var errs []error
	for _, p := range c.providers {
		if !c.limiter.TryAcquire(p.Name()) {
			logger.Warn(ctx, "Provider rate limited, trying next", "provider", p.Name(), "symbol", symbol)
			errs = append(errs, fmt.Errorf("%s: rate limited", p.Name()))
			continue
		}
		v, err := call(p)
		if err != nil {
			logger.Warn(ctx, "Provider call failed, trying next", "provider", p.Name(), "symbol", symbol, "error", err)
			errs = append(errs, err)
			continue
		}
		return v, nil
	}
	return nil, errors.Join(errs...)
}

// Candles returns recent candles for symbol, cached per symbol.
func (c *Chain) Candles(ctx context.Context, symbol string, limit int) ([]types.Candle, error) {
	key := "candles_" + symbol
	v, err := c.cache.GetOrFetch(key, c.candleTTL, func() (any, error) {
		return c.fetch(ctx, symbol, func(p Provider) (any, error) {
			return p.Candles(ctx, symbol, limit)
		})
	})
	if err != nil {
		if sv, ok, stale := c.cache.GetStale(key); ok {
			logger.Warn(ctx, "All candle providers unavailable, serving cached data",
				"symbol", symbol, "stale", stale, "error", err)
			return sv.([]types.Candle), nil
		}
		return nil, fmt.Errorf("candles %s: all providers unavailable: %w", symbol, err)
	}
	return v.([]types.Candle), nil
}

// LatestPrice returns the most recent trade price for symbol, cached per
// symbol.
func (c *Chain) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	key := "price_" + symbol
	v, err := c.cache.GetOrFetch(key, c.priceTTL, func() (any, error) {
		return c.fetch(ctx, symbol, func(p Provider) (any, error) {
			return p.LatestPrice(ctx, symbol)
		})
	})
	if err != nil {
		if sv, ok, stale := c.cache.GetStale(key); ok {
			logger.Warn(ctx, "All price providers unavailable, serving cached data",
				"symbol", symbol, "stale", stale, "error", err)
			return sv.(float64), nil
		}
		return 0, fmt.Errorf("latest price %s: all providers unavailable: %w", symbol, err)
	}
	return v.(float64), nil
}
