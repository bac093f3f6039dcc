package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cardops/internal/core"

	"github.com/shopspring/decimal"
)

// priceTypes is the order in which printings are tried for a market price.
var priceTypes = []string{"normal", "holofoil", "reverseHolofoil", "unlimitedHolofoil"}

// Client reads TCGplayer market prices through the Pokémon TCG API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	retries int
	backoff time.Duration
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://api.pokemontcg.io/v2"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 2 * time.Minute},
		retries: 3,
		backoff: 5 * time.Second,
	}
}

// WithRetry overrides the retry count and base backoff.
func (c *Client) WithRetry(retries int, backoff time.Duration) *Client {
	c.retries = retries
	c.backoff = backoff
	return c
}

type priceBand struct {
	Low    decimal.NullDecimal `json:"low"`
	Mid    decimal.NullDecimal `json:"mid"`
	Market decimal.NullDecimal `json:"market"`
}

type cardResponse struct {
	Data struct {
		ID        string `json:"id"`
		TCGPlayer struct {
			Prices map[string]priceBand `json:"prices"`
		} `json:"tcgplayer"`
	} `json:"data"`
}

// MarketPriceUSD returns the first positive market, mid or low price across the
// known printings. It returns core.ErrNotFound for unknown cards and cards
// without a price.
func (c *Client) MarketPriceUSD(ctx context.Context, ref string) (decimal.Decimal, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.backoff * time.Duration(attempt)):
			case <-ctx.Done():
				return decimal.Zero, ctx.Err()
			}
		}
		price, retry, err := c.fetch(ctx, ref)
		if err == nil || !retry {
			return price, err
		}
		lastErr = err
	}
	return decimal.Zero, fmt.Errorf("market price for %s: %w", ref, lastErr)
}

func (c *Client) fetch(ctx context.Context, ref string) (decimal.Decimal, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/cards/"+url.PathEscape(ref), nil)
	if err != nil {
		return decimal.Zero, false, err
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return decimal.Zero, false, fmt.Errorf("card %s: %w", ref, core.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return decimal.Zero, true, fmt.Errorf("market api error %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return decimal.Zero, false, fmt.Errorf("market api error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed cardResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to decode market response: %w", err)
	}
	for _, pt := range priceTypes {
		band, ok := parsed.Data.TCGPlayer.Prices[pt]
		if !ok {
			continue
		}
		for _, p := range []decimal.NullDecimal{band.Market, band.Mid, band.Low} {
			if p.Valid && p.Decimal.IsPositive() {
				return p.Decimal, false, nil
			}
		}
	}
	return decimal.Zero, false, fmt.Errorf("no market price for %s: %w", ref, core.ErrNotFound)
}
