package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/lumengrid/lumengrid/internal/cache"
)

const cacheKey = "price:coingecko:xlm-usd"

// CoinGecko fetches the XLM/USD spot price from the CoinGecko simple-price
// API. Responses are cached for TTL so a burst of agent evaluations does not
// hammer the upstream (which rate-limits unauthenticated callers).
type CoinGecko struct {
	BaseURL string
	HTTP    *http.Client
	Cache   cache.Store
	TTL     time.Duration
}

// NewCoinGecko creates a price feed with a read-through cache. A nil cache
// disables caching.
func NewCoinGecko(baseURL string, c cache.Store, ttl time.Duration) *CoinGecko {
	return &CoinGecko{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 8 * time.Second},
		Cache:   c,
		TTL:     ttl,
	}
}

type simplePrice struct {
	Stellar struct {
		USD *float64 `json:"usd"`
	} `json:"stellar"`
}

func (c *CoinGecko) Price(ctx context.Context) (float64, error) {
	if c.Cache != nil {
		if b, found, err := c.Cache.Get(ctx, cacheKey); err == nil && found {
			var cached float64
			if err := json.Unmarshal(b, &cached); err == nil {
				return cached, nil
			}
		}
	}

	base := c.BaseURL
	if base == "" {
		base = "https://api.coingecko.com"
	}
	u := base + "/api/v3/simple/price?ids=stellar&vs_currencies=usd"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: 8 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("price feed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("price feed: http %d", resp.StatusCode)
	}

	var out simplePrice
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return 0, fmt.Errorf("price feed decode: %w", err)
	}
	if out.Stellar.USD == nil || math.IsNaN(*out.Stellar.USD) || math.IsInf(*out.Stellar.USD, 0) {
		return 0, fmt.Errorf("price feed: invalid response")
	}
	price := *out.Stellar.USD

	if c.Cache != nil {
		ttl := c.TTL
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		if b, err := json.Marshal(price); err == nil {
			_ = c.Cache.Set(ctx, cacheKey, b, ttl)
		}
	}
	return price, nil
}
