package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

const (
	coingeckoAPIURL     = "https://api.coingecko.com/api/v3/simple/price"
	coingeckoTimeout    = 10 * time.Second
	coingeckoRetryDelay = 5 * time.Second
	coingeckoMaxRetries = 3
)

type CoinGeckoClient struct {
	httpClient *http.Client
	baseURL    string
	asset      string
	retryDelay time.Duration
}

// NewCoinGeckoClient queries the simple/price endpoint for asset (a CoinGecko
// id such as "ethereum"). An empty baseURL uses the public API.
func NewCoinGeckoClient(baseURL, asset string) *CoinGeckoClient {
	if baseURL == "" {
		baseURL = coingeckoAPIURL
	}
	if asset == "" {
		asset = "ethereum"
	}
	return &CoinGeckoClient{
		httpClient: &http.Client{
			Timeout: coingeckoTimeout,
		},
		baseURL:    baseURL,
		asset:      asset,
		retryDelay: coingeckoRetryDelay,
	}
}

type coingeckoResponse map[string]struct {
	USD decimal.Decimal `json:"usd"`
}

// FetchUSD returns the asset's current USD price.
func (c *CoinGeckoClient) FetchUSD(ctx context.Context) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("ids", c.asset)
	q.Set("vs_currencies", "usd")
	endpoint := c.baseURL + "?" + q.Encode()

	var lastErr error
	for attempt := 0; attempt < coingeckoMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return decimal.Zero, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return decimal.Zero, fmt.Errorf("create request to %s: %w", endpoint, err)
		}

		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request failed (attempt %d/%d): %w", attempt+1, coingeckoMaxRetries, err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			lastErr = fmt.Errorf("rate limited (attempt %d/%d)", attempt+1, coingeckoMaxRetries)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("unexpected status %d (attempt %d/%d): %s", resp.StatusCode, attempt+1, coingeckoMaxRetries, string(body))
			continue
		}

		var result coingeckoResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			resp.Body.Close()
			return decimal.Zero, fmt.Errorf("decode response: %w", err)
		}
		resp.Body.Close()

		price, ok := result[c.asset]
		if !ok || !price.USD.IsPositive() {
			return decimal.Zero, fmt.Errorf("no positive %s price from CoinGecko", c.asset)
		}

		return price.USD, nil
	}

	return decimal.Zero, fmt.Errorf("failed after %d attempts: %w", coingeckoMaxRetries, lastErr)
}
