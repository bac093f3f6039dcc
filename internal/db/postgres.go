package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cardops/internal/core"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const variantColumns = `v.id, v.card_id, v.condition, v.sku, v.external_id, v.inventory_qty,
	v.cost_basis_avg, v.total_units_purchased, v.price_cad, v.updated_at`

// PostgresStore is the production store. It implements core.CardCatalog,
// core.TxRunner, core.LedgerReader and core.PriceStore.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func scanVariant(row pgx.Row) (*core.Variant, error) {
	var v core.Variant
	if err := row.Scan(&v.ID, &v.CardID, &v.Condition, &v.SKU, &v.ExternalID, &v.InventoryQty,
		&v.CostBasisAvg, &v.TotalUnitsPurchased, &v.PriceCAD, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

// ── Card catalog ──────────────────────────────────────────────────────────────

func (s *PostgresStore) FindCard(ctx context.Context, setCode, number string) (*core.Card, error) {
	var c core.Card
	err := s.pool.QueryRow(ctx,
		"SELECT id, name, set_code, number FROM cards WHERE set_code = $1 AND number = $2",
		setCode, number,
	).Scan(&c.ID, &c.Name, &c.SetCode, &c.Number)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find card: %w", err)
	}
	return &c, nil
}

// SearchCardsByName returns every card in the set; ranking by name happens in the matcher.
func (s *PostgresStore) SearchCardsByName(ctx context.Context, setCode, _ string) ([]core.Card, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id, name, set_code, number FROM cards WHERE set_code = $1 ORDER BY name, number",
		setCode)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var cards []core.Card
	for rows.Next() {
		var c core.Card
		if err := rows.Scan(&c.ID, &c.Name, &c.SetCode, &c.Number); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

func (s *PostgresStore) FindVariant(ctx context.Context, cardID int64, condition core.Condition) (*core.Variant, error) {
	v, err := scanVariant(s.pool.QueryRow(ctx,
		"SELECT "+variantColumns+" FROM variants v WHERE v.card_id = $1 AND v.condition = $2",
		cardID, condition))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find variant: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) GetVariant(ctx context.Context, id int64) (*core.Variant, error) {
	v, err := scanVariant(s.pool.QueryRow(ctx, "SELECT "+variantColumns+" FROM variants v WHERE v.id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get variant: %w", err)
	}
	return v, nil
}

// UpsertCard inserts or renames a card keyed by (set_code, number).
func (s *PostgresStore) UpsertCard(ctx context.Context, c core.PricedCard) (core.Card, error) {
	out := c.Card
	err := s.pool.QueryRow(ctx, `
		INSERT INTO cards (name, set_code, number, market_ref)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (set_code, number) DO UPDATE
		  SET name = EXCLUDED.name, market_ref = EXCLUDED.market_ref
		RETURNING id
	`, c.Name, c.SetCode, c.Number, c.MarketRef).Scan(&out.ID)
	if err != nil {
		return core.Card{}, fmt.Errorf("failed to upsert card: %w", err)
	}
	return out, nil
}

// UpsertVariant creates a variant or updates its SKU, external id and price.
// Stock and cost are never touched here; only the ledger writes them.
func (s *PostgresStore) UpsertVariant(ctx context.Context, v core.Variant) (core.Variant, error) {
	out, err := scanVariant(s.pool.QueryRow(ctx, `
		INSERT INTO variants AS v (card_id, condition, sku, external_id, price_cad)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (card_id, condition) DO UPDATE
		  SET sku = EXCLUDED.sku, external_id = EXCLUDED.external_id,
		      price_cad = EXCLUDED.price_cad, updated_at = now()
		RETURNING `+variantColumns,
		v.CardID, v.Condition, v.SKU, v.ExternalID, v.PriceCAD))
	if err != nil {
		return core.Variant{}, fmt.Errorf("failed to upsert variant: %w", err)
	}
	return *out, nil
}

// ── Ledger writes ─────────────────────────────────────────────────────────────

type pgTx struct {
	tx pgx.Tx
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx core.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *pgTx) LockVariant(ctx context.Context, variantID int64) (*core.Variant, error) {
	v, err := scanVariant(t.tx.QueryRow(ctx,
		"SELECT "+variantColumns+" FROM variants v WHERE v.id = $1 FOR UPDATE", variantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock variant: %w", err)
	}
	return v, nil
}

func (t *pgTx) UpdateVariantStock(ctx context.Context, variantID int64, u core.VariantUpdate) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE variants
		SET inventory_qty = $1, cost_basis_avg = $2, total_units_purchased = $3, updated_at = NOW()
		WHERE id = $4
	`, u.Quantity, u.CostBasisAvg, u.TotalUnitsPurchased, variantID)
	if err != nil {
		return fmt.Errorf("failed to update variant stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (t *pgTx) AppendTransaction(ctx context.Context, in core.InventoryTransaction) (core.InventoryTransaction, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO inventory_transactions
			(variant_id, transaction_type, quantity, unit_cost, source, note, batch_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, in.VariantID, in.Type, in.Quantity, in.UnitCost, in.Source, in.Note, in.BatchID, in.CreatedAt).Scan(&in.ID)
	if err != nil {
		return core.InventoryTransaction{}, fmt.Errorf("failed to insert inventory transaction: %w", err)
	}
	return in, nil
}

// ── Ledger reads ──────────────────────────────────────────────────────────────

func (s *PostgresStore) RecentAddition(ctx context.Context, variantID int64, since time.Time) (*core.InventoryTransaction, error) {
	var t core.InventoryTransaction
	err := s.pool.QueryRow(ctx, `
		SELECT id, variant_id, transaction_type, quantity, unit_cost, source, note, batch_id, created_at
		FROM inventory_transactions
		WHERE variant_id = $1 AND transaction_type = 'addition' AND created_at >= $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, variantID, since).Scan(&t.ID, &t.VariantID, &t.Type, &t.Quantity, &t.UnitCost, &t.Source, &t.Note, &t.BatchID, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query recent addition: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) ListVariants(ctx context.Context, filter core.StockFilter) ([]core.StockLevel, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT v.id, v.sku, c.name, c.set_code, c.number, v.condition,
		       v.inventory_qty, v.cost_basis_avg, v.total_units_purchased, v.price_cad, v.external_id
		FROM variants v
		JOIN cards c ON c.id = v.card_id
		WHERE ($1 = '' OR c.set_code = $1)
		  AND (NOT $2 OR v.inventory_qty > 0)
		  AND (NOT $3 OR v.external_id <> '')
		ORDER BY c.name, c.set_code, c.number, v.condition
	`, filter.SetCode, filter.InStockOnly, filter.WithExternal)
	if err != nil {
		return nil, fmt.Errorf("failed to query stock levels: %w", err)
	}
	defer rows.Close()

	var levels []core.StockLevel
	for rows.Next() {
		var sl core.StockLevel
		if err := rows.Scan(&sl.VariantID, &sl.SKU, &sl.CardName, &sl.SetCode, &sl.Number, &sl.Condition,
			&sl.OnHand, &sl.CostBasisAvg, &sl.TotalUnitsPurchased, &sl.PriceCAD, &sl.ExternalID); err != nil {
			return nil, fmt.Errorf("failed to scan stock level: %w", err)
		}
		levels = append(levels, sl)
	}
	return levels, rows.Err()
}

func (s *PostgresStore) ListTransactions(ctx context.Context, variantID int64, limit int) ([]core.InventoryTransaction, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM variants WHERE id = $1)", variantID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check variant: %w", err)
	}
	if !exists {
		return nil, core.ErrNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, variant_id, transaction_type, quantity, unit_cost, source, note, batch_id, created_at
		FROM inventory_transactions
		WHERE variant_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, variantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txns []core.InventoryTransaction
	for rows.Next() {
		var t core.InventoryTransaction
		if err := rows.Scan(&t.ID, &t.VariantID, &t.Type, &t.Quantity, &t.UnitCost, &t.Source, &t.Note, &t.BatchID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// ── Pricing ───────────────────────────────────────────────────────────────────

func (s *PostgresStore) ListPricedCards(ctx context.Context) ([]core.PricedCard, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.name, c.set_code, c.number, c.market_ref
		FROM cards c
		WHERE EXISTS (SELECT 1 FROM variants v WHERE v.card_id = c.id)
		ORDER BY c.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var cards []core.PricedCard
	for rows.Next() {
		var c core.PricedCard
		if err := rows.Scan(&c.ID, &c.Name, &c.SetCode, &c.Number, &c.MarketRef); err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

func (s *PostgresStore) ListCardVariants(ctx context.Context, cardID int64) ([]core.Variant, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT "+variantColumns+" FROM variants v WHERE v.card_id = $1 ORDER BY v.id", cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query variants: %w", err)
	}
	defer rows.Close()

	var variants []core.Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		variants = append(variants, *v)
	}
	return variants, rows.Err()
}

func (s *PostgresStore) UpdateVariantPrices(ctx context.Context, marketCAD decimal.Decimal, changes []core.PriceChange) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, c := range changes {
		if _, err := tx.Exec(ctx, `
			UPDATE variants
			SET price_cad = $1, market_price = $2, price_updated_at = NOW(), updated_at = NOW()
			WHERE id = $3
		`, c.New, marketCAD, c.VariantID); err != nil {
			return fmt.Errorf("failed to update price for variant %d: %w", c.VariantID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit price update: %w", err)
	}
	return nil
}
