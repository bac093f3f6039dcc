package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Options configures a Shopify Admin REST client.
type Options struct {
	ShopURL       string
	AccessToken   string
	APIVersion    string
	LocationID    string
	RatePerSecond int
	Timeout       time.Duration
}

// Client talks to the Shopify Admin REST API. Variants are addressed by their
// Shopify variant id; the inventory item behind each is looked up once and cached.
type Client struct {
	baseURL    string
	token      string
	locationID int64
	http       *http.Client
	limiter    <-chan time.Time

	itemIDs sync.Map // variant id -> inventory item id
}

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.ShopURL) == "" || strings.TrimSpace(opts.AccessToken) == "" {
		return nil, errors.New("shopify shop url and access token are required")
	}
	location, err := strconv.ParseInt(opts.LocationID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid shopify location id %q: %w", opts.LocationID, err)
	}
	if opts.APIVersion == "" {
		opts.APIVersion = "2025-01"
	}
	rate := opts.RatePerSecond
	if rate <= 0 {
		rate = 2
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.ShopURL, "/") + "/admin/api/" + opts.APIVersion,
		token:      opts.AccessToken,
		locationID: location,
		http:       &http.Client{Timeout: timeout},
		limiter:    time.Tick(time.Second / time.Duration(rate)),
	}, nil
}

type variantResponse struct {
	Variant struct {
		ID              int64 `json:"id"`
		InventoryItemID int64 `json:"inventory_item_id"`
	} `json:"variant"`
}

type inventoryLevelsResponse struct {
	InventoryLevels []struct {
		InventoryItemID int64  `json:"inventory_item_id"`
		LocationID      int64  `json:"location_id"`
		Available       *int64 `json:"available"`
	} `json:"inventory_levels"`
}

// SetInventoryLevel sets the available quantity at the configured location.
func (c *Client) SetInventoryLevel(ctx context.Context, variantID string, quantity int64) error {
	itemID, err := c.inventoryItemID(ctx, variantID)
	if err != nil {
		return err
	}
	payload := map[string]int64{
		"location_id":       c.locationID,
		"inventory_item_id": itemID,
		"available":         quantity,
	}
	if err := c.do(ctx, http.MethodPost, "/inventory_levels/set.json", nil, payload, nil); err != nil {
		return fmt.Errorf("failed to set inventory level for variant %s: %w", variantID, err)
	}
	return nil
}

// InventoryLevel reads the available quantity at the configured location. A
// variant with no level there reports 0.
func (c *Client) InventoryLevel(ctx context.Context, variantID string) (int64, error) {
	itemID, err := c.inventoryItemID(ctx, variantID)
	if err != nil {
		return 0, err
	}
	params := url.Values{}
	params.Set("inventory_item_ids", strconv.FormatInt(itemID, 10))
	params.Set("location_ids", strconv.FormatInt(c.locationID, 10))

	var resp inventoryLevelsResponse
	if err := c.do(ctx, http.MethodGet, "/inventory_levels.json", params, nil, &resp); err != nil {
		return 0, fmt.Errorf("failed to read inventory level for variant %s: %w", variantID, err)
	}
	if len(resp.InventoryLevels) == 0 || resp.InventoryLevels[0].Available == nil {
		return 0, nil
	}
	return *resp.InventoryLevels[0].Available, nil
}

// SetPrice updates the variant's list price.
func (c *Client) SetPrice(ctx context.Context, variantID string, price decimal.Decimal) error {
	id, err := strconv.ParseInt(variantID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid shopify variant id %q: %w", variantID, err)
	}
	payload := map[string]any{
		"variant": map[string]any{"id": id, "price": price.StringFixed(2)},
	}
	if err := c.do(ctx, http.MethodPut, "/variants/"+variantID+".json", nil, payload, nil); err != nil {
		return fmt.Errorf("failed to set price for variant %s: %w", variantID, err)
	}
	return nil
}

func (c *Client) inventoryItemID(ctx context.Context, variantID string) (int64, error) {
	if v, ok := c.itemIDs.Load(variantID); ok {
		return v.(int64), nil
	}
	var resp variantResponse
	if err := c.do(ctx, http.MethodGet, "/variants/"+url.PathEscape(variantID)+".json", nil, nil, &resp); err != nil {
		return 0, fmt.Errorf("failed to look up variant %s: %w", variantID, err)
	}
	if resp.Variant.InventoryItemID == 0 {
		return 0, fmt.Errorf("variant %s has no inventory item", variantID)
	}
	c.itemIDs.Store(variantID, resp.Variant.InventoryItemID)
	return resp.Variant.InventoryItemID, nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	select {
	case <-c.limiter:
	case <-ctx.Done():
		return ctx.Err()
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-Shopify-Access-Token", c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("shopify api error %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode shopify response: %w", err)
		}
	}
	return nil
}
