package marketdata

import (
	"context"

	"trader-agent/internal/types"
)

// Provider is one interchangeable market data source in the fallback chain.
type Provider interface {
	Name() string
	Candles(ctx context.Context, symbol string, limit int) ([]types.Candle, error)
	LatestPrice(ctx context.Context, symbol string) (float64, error)
}
