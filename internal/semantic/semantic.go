package semantic

import (
	"context"
	"fmt"
	"time"

	"trader-agent/internal/httpx"
	"trader-agent/internal/types"
)

// Store is the query contract of the external semantic document store.
// Ingestion and the store itself live outside this process.
type Store interface {
	Query(ctx context.Context, collection, instrument string, topK int) ([]types.Document, error)
}

// Client queries a semantic store over HTTP.
type Client struct {
	http *httpx.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		http: httpx.NewClient(
			httpx.WithBaseURL(baseURL),
			httpx.WithTimeout(15*time.Second),
		),
	}
}

type queryRequest struct {
	Collection string `json:"collection"`
	Query      string `json:"query"`
	TopK       int    `json:"top_k"`
}

type queryResponse struct {
	Documents []types.Document `json:"documents"`
}

func (c *Client) Query(ctx context.Context, collection, instrument string, topK int) ([]types.Document, error) {
	resp, err := c.http.POST(ctx, "/query", queryRequest{
		Collection: collection,
		Query:      instrument,
		TopK:       topK,
	})
	if err != nil {
		return nil, fmt.Errorf("semantic query %s/%s: %w", collection, instrument, err)
	}

	var out queryResponse
	if err := resp.ParseJSON(&out); err != nil {
		return nil, fmt.Errorf("semantic query %s/%s: %w", collection, instrument, err)
	}
	return out.Documents, nil
}

// Noop is used when no semantic store is configured; retrieval stages then
// proceed with empty document sets.
type Noop struct{}

func (Noop) Query(ctx context.Context, collection, instrument string, topK int) ([]types.Document, error) {
	return nil, nil
}
