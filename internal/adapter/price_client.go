package adapter

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"time"
)

// PriceClient reads historical USD prices from a CoinGecko-compatible API
type PriceClient struct {
	http       *jsonClient
	vsCurrency string
}

// PriceClientConfig configures the price history client
type PriceClientConfig struct {
	BaseURL           string
	APIKey            string
	VsCurrency        string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// marketChartResponse is the subset of /coins/{id}/market_chart we use.
// Each entry is [timestamp_ms, price].
type marketChartResponse struct {
	Prices [][]float64 `json:"prices"`
}

// NewPriceClient creates a new price history client
func NewPriceClient(cfg PriceClientConfig) *PriceClient {
	c := newJSONClient("price_api", cfg.BaseURL, cfg.Timeout, cfg.RequestsPerSecond)
	if cfg.APIKey != "" {
		c.headers["x-cg-demo-api-key"] = cfg.APIKey
	}
	vs := cfg.VsCurrency
	if vs == "" {
		vs = "usd"
	}
	return &PriceClient{http: c, vsCurrency: vs}
}

// GetHistoricalPrices returns the price points of an asset over the last
// windowDays days, oldest first.
func (c *PriceClient) GetHistoricalPrices(ctx context.Context, priceID string, windowDays int) ([]float64, error) {
	query := url.Values{}
	query.Set("vs_currency", c.vsCurrency)
	query.Set("days", strconv.Itoa(windowDays))

	var resp marketChartResponse
	path := "/coins/" + url.PathEscape(priceID) + "/market_chart"
	if err := c.http.getJSON(ctx, path, query, &resp); err != nil {
		return nil, err
	}

	prices := make([]float64, 0, len(resp.Prices))
	for i, point := range resp.Prices {
		if len(point) < 2 {
			return nil, fmt.Errorf("malformed price point %d for %s", i, priceID)
		}
		prices = append(prices, point[1])
	}
	return prices, nil
}

// GetAveragePrice returns the arithmetic mean of the windowed price points
func (c *PriceClient) GetAveragePrice(ctx context.Context, priceID string, windowDays int) (float64, error) {
	prices, err := c.GetHistoricalPrices(ctx, priceID, windowDays)
	if err != nil {
		return 0, err
	}
	return Mean(prices)
}

// Mean returns the arithmetic mean of the values. It rejects empty input and
// non-finite results.
func Mean(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("no price points")
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	avg := sum / float64(len(values))
	if math.IsNaN(avg) || math.IsInf(avg, 0) {
		return 0, fmt.Errorf("average price is not finite")
	}
	return avg, nil
}
