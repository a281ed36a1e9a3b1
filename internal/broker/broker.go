package broker

import (
	"context"

	"trader-agent/internal/types"
)

// Broker is the minimal read/write contract against the order-placement
// collaborator. Account and position semantics beyond this are external.
type Broker interface {
	GetAccount(ctx context.Context) (types.Account, error)
	GetPositions(ctx context.Context) ([]types.Position, error)
	GetLatestPrice(ctx context.Context, symbol string) (float64, error)
	PlaceMarketOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error)
}
