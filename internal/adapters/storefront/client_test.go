package storefront_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"cardops/internal/adapters/storefront"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) *storefront.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := storefront.New(storefront.Options{
		ShopURL:       srv.URL,
		AccessToken:   "shpat_test",
		APIVersion:    "2025-01",
		LocationID:    "77",
		RatePerSecond: 1000,
	})
	require.NoError(t, err)
	return c
}

func TestSetInventoryLevel(t *testing.T) {
	var lookups int32
	var got map[string]int64
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/api/2025-01/variants/555.json", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&lookups, 1)
		assert.Equal(t, "shpat_test", r.Header.Get("X-Shopify-Access-Token"))
		w.Write([]byte(`{"variant":{"id":555,"inventory_item_id":9001}}`))
	})
	mux.HandleFunc("POST /admin/api/2025-01/inventory_levels/set.json", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"inventory_level":{}}`))
	})
	c := newTestClient(t, mux)

	require.NoError(t, c.SetInventoryLevel(context.Background(), "555", 12))
	require.NoError(t, c.SetInventoryLevel(context.Background(), "555", 13))

	assert.Equal(t, int32(1), atomic.LoadInt32(&lookups), "inventory item id is cached")
	assert.Equal(t, map[string]int64{"location_id": 77, "inventory_item_id": 9001, "available": 13}, got)
}

func TestInventoryLevel(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/api/2025-01/variants/555.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"variant":{"id":555,"inventory_item_id":9001}}`))
	})
	mux.HandleFunc("GET /admin/api/2025-01/inventory_levels.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "9001", r.URL.Query().Get("inventory_item_ids"))
		assert.Equal(t, "77", r.URL.Query().Get("location_ids"))
		w.Write([]byte(`{"inventory_levels":[{"inventory_item_id":9001,"location_id":77,"available":4}]}`))
	})
	c := newTestClient(t, mux)

	qty, err := c.InventoryLevel(context.Background(), "555")
	require.NoError(t, err)
	assert.Equal(t, int64(4), qty)
}

func TestSetPrice(t *testing.T) {
	var body struct {
		Variant struct {
			ID    int64  `json:"id"`
			Price string `json:"price"`
		} `json:"variant"`
	}
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /admin/api/2025-01/variants/555.json", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"variant":{}}`))
	})
	c := newTestClient(t, mux)

	require.NoError(t, c.SetPrice(context.Background(), "555", decimal.RequireFromString("24.5")))
	assert.Equal(t, int64(555), body.Variant.ID)
	assert.Equal(t, "24.50", body.Variant.Price)
}

func TestAPIErrorSurfaces(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/api/2025-01/variants/555.json", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":"Not Found"}`, http.StatusNotFound)
	})
	c := newTestClient(t, mux)

	err := c.SetInventoryLevel(context.Background(), "555", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := storefront.New(storefront.Options{ShopURL: "https://x", LocationID: "1"})
	assert.Error(t, err)
	_, err = storefront.New(storefront.Options{ShopURL: "https://x", AccessToken: "t", LocationID: "abc"})
	assert.Error(t, err)
}
