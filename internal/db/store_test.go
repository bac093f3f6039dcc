package db_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cardops/internal/core"
	"cardops/internal/lock"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// store is the surface both backends implement.
type store interface {
	core.CardCatalog
	core.TxRunner
	core.LedgerReader
	core.PriceStore
	UpsertCard(ctx context.Context, c core.PricedCard) (core.Card, error)
	UpsertVariant(ctx context.Context, v core.Variant) (core.Variant, error)
	GetVariant(ctx context.Context, id int64) (*core.Variant, error)
}

type seeded struct {
	charizard   core.Card
	charizardNM core.Variant
	charizardLP core.Variant
	pikachuNM   core.Variant
}

func seed(t *testing.T, s store) seeded {
	t.Helper()
	ctx := context.Background()

	charizard, err := s.UpsertCard(ctx, core.PricedCard{
		Card:      core.Card{Name: "Charizard VMAX", SetCode: "swsh1", Number: "142"},
		MarketRef: "swsh1-142",
	})
	require.NoError(t, err)
	pikachu, err := s.UpsertCard(ctx, core.PricedCard{Card: core.Card{Name: "Pikachu", SetCode: "swsh1", Number: "25"}})
	require.NoError(t, err)
	_, err = s.UpsertCard(ctx, core.PricedCard{Card: core.Card{Name: "Unlisted", SetCode: "swsh1", Number: "1"}})
	require.NoError(t, err)

	nm, err := s.UpsertVariant(ctx, core.Variant{CardID: charizard.ID, Condition: core.ConditionNM,
		SKU: "SWSH1-142-NM", ExternalID: "gid://shopify/ProductVariant/142", PriceCAD: decimal.RequireFromString("110.00")})
	require.NoError(t, err)
	lp, err := s.UpsertVariant(ctx, core.Variant{CardID: charizard.ID, Condition: core.ConditionLP,
		SKU: "SWSH1-142-LP", PriceCAD: decimal.RequireFromString("88.00")})
	require.NoError(t, err)
	pk, err := s.UpsertVariant(ctx, core.Variant{CardID: pikachu.ID, Condition: core.ConditionNM,
		SKU: "SWSH1-25-NM", PriceCAD: decimal.RequireFromString("0.50")})
	require.NoError(t, err)

	return seeded{charizard: charizard, charizardNM: nm, charizardLP: lp, pikachuNM: pk}
}

func runStoreSuite(t *testing.T, s store) {
	ctx := context.Background()
	d := seed(t, s)

	t.Run("catalog", func(t *testing.T) {
		c, err := s.FindCard(ctx, "swsh1", "142")
		require.NoError(t, err)
		assert.Equal(t, d.charizard.ID, c.ID)
		assert.Equal(t, "Charizard VMAX", c.Name)

		_, err = s.FindCard(ctx, "swsh1", "999")
		assert.ErrorIs(t, err, core.ErrNotFound)

		cards, err := s.SearchCardsByName(ctx, "swsh1", "Charizrd")
		require.NoError(t, err)
		assert.Len(t, cards, 3)

		v, err := s.FindVariant(ctx, d.charizard.ID, core.ConditionLP)
		require.NoError(t, err)
		assert.Equal(t, d.charizardLP.ID, v.ID)
		assert.Equal(t, "88.00", v.PriceCAD.StringFixed(2))

		_, err = s.FindVariant(ctx, d.charizard.ID, core.ConditionDMG)
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("upsert keeps identity", func(t *testing.T) {
		again, err := s.UpsertCard(ctx, core.PricedCard{
			Card:      core.Card{Name: "Charizard VMAX", SetCode: "swsh1", Number: "142"},
			MarketRef: "swsh1-142",
		})
		require.NoError(t, err)
		assert.Equal(t, d.charizard.ID, again.ID)
	})

	t.Run("ledger persists under concurrency", func(t *testing.T) {
		ledger := core.NewLedger(s, lock.NewKeyed())
		_, err := ledger.Persist(ctx, d.charizardNM.ID, core.IncomingLot{
			Quantity: 2, UnitCost: decimal.RequireFromString("80.00"), Source: core.SourceBuylist, BatchID: "b-0",
		})
		require.NoError(t, err)

		var wg sync.WaitGroup
		for _, l := range []core.IncomingLot{
			{Quantity: 3, UnitCost: decimal.RequireFromString("90.00"), Source: core.SourceBuylist, BatchID: "b-1"},
			{Quantity: 5, UnitCost: decimal.RequireFromString("100.00"), Source: core.SourceWholesale, BatchID: "b-2"},
		} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := ledger.Persist(ctx, d.charizardNM.ID, l)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		v, err := s.GetVariant(ctx, d.charizardNM.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(10), v.InventoryQty)
		assert.Equal(t, "93.00", v.CostBasisAvg.StringFixed(2))
		assert.Equal(t, int64(10), v.TotalUnitsPurchased)

		txns, err := s.ListTransactions(ctx, d.charizardNM.ID, 10)
		require.NoError(t, err)
		require.Len(t, txns, 3)
		assert.Equal(t, "b-0", txns[2].BatchID, "oldest last")
		for _, txn := range txns {
			assert.Equal(t, core.TransactionAddition, txn.Type)
		}

		limited, err := s.ListTransactions(ctx, d.charizardNM.ID, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("failed transaction rolls back", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.WithinTx(ctx, func(tx core.Tx) error {
			if err := tx.UpdateVariantStock(ctx, d.pikachuNM.ID, core.VariantUpdate{
				Quantity: 99, CostBasisAvg: decimal.NewFromInt(1), TotalUnitsPurchased: 99,
			}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		v, err := s.GetVariant(ctx, d.pikachuNM.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), v.InventoryQty)
	})

	t.Run("negative stock is refused", func(t *testing.T) {
		err := s.WithinTx(ctx, func(tx core.Tx) error {
			return tx.UpdateVariantStock(ctx, d.pikachuNM.ID, core.VariantUpdate{Quantity: -1})
		})
		assert.Error(t, err)
	})

	t.Run("lock missing variant", func(t *testing.T) {
		err := s.WithinTx(ctx, func(tx core.Tx) error {
			_, err := tx.LockVariant(ctx, 987654)
			return err
		})
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("recent addition", func(t *testing.T) {
		prev, err := s.RecentAddition(ctx, d.charizardNM.ID, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, d.charizardNM.ID, prev.VariantID)

		_, err = s.RecentAddition(ctx, d.charizardNM.ID, time.Now().Add(time.Hour))
		assert.ErrorIs(t, err, core.ErrNotFound)

		_, err = s.RecentAddition(ctx, d.pikachuNM.ID, time.Now().Add(-time.Hour))
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("stock levels", func(t *testing.T) {
		all, err := s.ListVariants(ctx, core.StockFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		inStock, err := s.ListVariants(ctx, core.StockFilter{InStockOnly: true})
		require.NoError(t, err)
		require.Len(t, inStock, 1)
		assert.Equal(t, d.charizardNM.ID, inStock[0].VariantID)
		assert.Equal(t, "Charizard VMAX", inStock[0].CardName)
		assert.Equal(t, int64(10), inStock[0].OnHand)

		published, err := s.ListVariants(ctx, core.StockFilter{WithExternal: true})
		require.NoError(t, err)
		require.Len(t, published, 1)
		assert.Equal(t, "gid://shopify/ProductVariant/142", published[0].ExternalID)

		other, err := s.ListVariants(ctx, core.StockFilter{SetCode: "base1"})
		require.NoError(t, err)
		assert.Empty(t, other)

		_, err = s.ListTransactions(ctx, 987654, 10)
		assert.ErrorIs(t, err, core.ErrNotFound)
	})

	t.Run("prices", func(t *testing.T) {
		cards, err := s.ListPricedCards(ctx)
		require.NoError(t, err)
		require.Len(t, cards, 2, "cards without variants are not priced")
		assert.Equal(t, "swsh1-142", cards[0].MarketRef)

		err = s.UpdateVariantPrices(ctx, decimal.RequireFromString("94.50"), []core.PriceChange{
			{VariantID: d.charizardNM.ID, Old: decimal.RequireFromString("110.00"), New: decimal.RequireFromString("104.00")},
			{VariantID: d.charizardLP.ID, Old: decimal.RequireFromString("88.00"), New: decimal.RequireFromString("83.20")},
		})
		require.NoError(t, err)

		variants, err := s.ListCardVariants(ctx, d.charizard.ID)
		require.NoError(t, err)
		require.Len(t, variants, 2)
		assert.Equal(t, "104.00", variants[0].PriceCAD.StringFixed(2))
		assert.Equal(t, "83.20", variants[1].PriceCAD.StringFixed(2))
		assert.Equal(t, int64(10), variants[0].InventoryQty, "pricing never touches stock")
	})
}
