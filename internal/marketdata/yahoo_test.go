package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"trader-agent/internal/httpx"
)

func newYahooTestProvider(t *testing.T, body string) *YahooProvider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return &YahooProvider{http: httpx.NewClient(httpx.WithBaseURL(srv.URL))}
}

func TestYahooCandlesToleratesShortQuoteArrays(t *testing.T) {
	// low and volume are shorter than the timestamps.
	body := `{"chart":{"result":[{
		"meta":{"regularMarketPrice":101.5},
		"timestamp":[1700000000,1700000300,1700000600],
		"indicators":{"quote":[{
			"open":[1.0,2.0,3.0],
			"high":[1.1,2.1,3.1],
			"low":[0.9,1.9],
			"close":[1.05,2.05,3.05],
			"volume":[100]
		}]}}],"error":null}}`

	p := newYahooTestProvider(t, body)
	candles, err := p.Candles(context.Background(), "AAPL", 10)
	if err != nil {
		t.Fatalf("Candles: %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("candles = %d, want 1 (bounded by the shortest quote array)", len(candles))
	}
	if candles[0].Close != 1.05 || candles[0].Vol != 100 {
		t.Fatalf("candle = %+v, want close 1.05 vol 100", candles[0])
	}
}

func TestYahooCandlesSkipsZeroCloses(t *testing.T) {
	body := `{"chart":{"result":[{
		"meta":{"regularMarketPrice":101.5},
		"timestamp":[1700000000,1700000300],
		"indicators":{"quote":[{
			"open":[1.0,2.0],
			"high":[1.1,2.1],
			"low":[0.9,1.9],
			"close":[0,2.05],
			"volume":[100,200]
		}]}}],"error":null}}`

	p := newYahooTestProvider(t, body)
	candles, err := p.Candles(context.Background(), "AAPL", 10)
	if err != nil {
		t.Fatalf("Candles: %v", err)
	}
	if len(candles) != 1 || candles[0].Close != 2.05 {
		t.Fatalf("candles = %+v, want single candle with close 2.05", candles)
	}
}

func TestYahooLatestPrice(t *testing.T) {
	body := `{"chart":{"result":[{
		"meta":{"regularMarketPrice":101.5},
		"timestamp":[],
		"indicators":{"quote":[{}]}}],"error":null}}`

	p := newYahooTestProvider(t, body)
	price, err := p.LatestPrice(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("LatestPrice: %v", err)
	}
	if price != 101.5 {
		t.Fatalf("price = %v, want 101.5", price)
	}
}
