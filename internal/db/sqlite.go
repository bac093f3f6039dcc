package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"cardops/internal/core"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

const sqliteSchemaVersion = 1

const sqliteVariantColumns = `id, card_id, condition, sku, external_id, inventory_qty,
	cost_basis_avg, total_units_purchased, price_cad, updated_at`

// SQLiteStore is the embedded store used for local runs and tests. It
// implements the same interfaces as PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens a SQLite database at path and applies the schema.
//
// The database is configured with:
//   - WAL mode so reads proceed during a write
//   - IMMEDIATE transactions, so a ledger write holds the write lock from its first read
//   - a single connection, since SQLite allows one writer
//   - foreign key enforcement
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set schema version: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteVariant(row rowScanner) (*core.Variant, error) {
	var v core.Variant
	if err := row.Scan(&v.ID, &v.CardID, &v.Condition, &v.SKU, &v.ExternalID, &v.InventoryQty,
		&v.CostBasisAvg, &v.TotalUnitsPurchased, &v.PriceCAD, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func scanSQLiteTransaction(row rowScanner) (core.InventoryTransaction, error) {
	var t core.InventoryTransaction
	err := row.Scan(&t.ID, &t.VariantID, &t.Type, &t.Quantity, &t.UnitCost, &t.Source, &t.Note, &t.BatchID, &t.CreatedAt)
	return t, err
}

// ── Card catalog ──────────────────────────────────────────────────────────────

func (s *SQLiteStore) FindCard(ctx context.Context, setCode, number string) (*core.Card, error) {
	var c core.Card
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, set_code, number FROM cards WHERE set_code = ? AND number = ?",
		setCode, number,
	).Scan(&c.ID, &c.Name, &c.SetCode, &c.Number)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find card: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) SearchCardsByName(ctx context.Context, setCode, _ string) ([]core.Card, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, set_code, number FROM cards WHERE set_code = ? ORDER BY name, number", setCode)
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

func (s *SQLiteStore) FindVariant(ctx context.Context, cardID int64, condition core.Condition) (*core.Variant, error) {
	v, err := scanSQLiteVariant(s.db.QueryRowContext(ctx,
		"SELECT "+sqliteVariantColumns+" FROM variants WHERE card_id = ? AND condition = ?", cardID, condition))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find variant: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) GetVariant(ctx context.Context, id int64) (*core.Variant, error) {
	v, err := scanSQLiteVariant(s.db.QueryRowContext(ctx,
		"SELECT "+sqliteVariantColumns+" FROM variants WHERE id = ?", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get variant: %w", err)
	}
	return v, nil
}

func (s *SQLiteStore) UpsertCard(ctx context.Context, c core.PricedCard) (core.Card, error) {
	out := c.Card
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO cards (name, set_code, number, market_ref)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (set_code, number) DO UPDATE
		  SET name = excluded.name, market_ref = excluded.market_ref
		RETURNING id
	`, c.Name, c.SetCode, c.Number, c.MarketRef).Scan(&out.ID)
	if err != nil {
		return core.Card{}, fmt.Errorf("failed to upsert card: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) UpsertVariant(ctx context.Context, v core.Variant) (core.Variant, error) {
	out, err := scanSQLiteVariant(s.db.QueryRowContext(ctx, `
		INSERT INTO variants (card_id, condition, sku, external_id, price_cad)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (card_id, condition) DO UPDATE
		  SET sku = excluded.sku, external_id = excluded.external_id,
		      price_cad = excluded.price_cad, updated_at = CURRENT_TIMESTAMP
		RETURNING `+sqliteVariantColumns,
		v.CardID, v.Condition, v.SKU, v.ExternalID, v.PriceCAD.StringFixed(2)))
	if err != nil {
		return core.Variant{}, fmt.Errorf("failed to upsert variant: %w", err)
	}
	return *out, nil
}

// ── Ledger writes ─────────────────────────────────────────────────────────────

type sqliteTx struct {
	tx *sql.Tx
}

func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(tx core.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LockVariant relies on the IMMEDIATE transaction already holding the write lock.
func (t *sqliteTx) LockVariant(ctx context.Context, variantID int64) (*core.Variant, error) {
	v, err := scanSQLiteVariant(t.tx.QueryRowContext(ctx,
		"SELECT "+sqliteVariantColumns+" FROM variants WHERE id = ?", variantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock variant: %w", err)
	}
	return v, nil
}

func (t *sqliteTx) UpdateVariantStock(ctx context.Context, variantID int64, u core.VariantUpdate) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE variants
		SET inventory_qty = ?, cost_basis_avg = ?, total_units_purchased = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, u.Quantity, u.CostBasisAvg.StringFixed(2), u.TotalUnitsPurchased, variantID)
	if err != nil {
		return fmt.Errorf("failed to update variant stock: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (t *sqliteTx) AppendTransaction(ctx context.Context, in core.InventoryTransaction) (core.InventoryTransaction, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO inventory_transactions
			(variant_id, transaction_type, quantity, unit_cost, source, note, batch_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, in.VariantID, in.Type, in.Quantity, in.UnitCost.StringFixed(2), in.Source, in.Note, in.BatchID, in.CreatedAt.UTC())
	if err != nil {
		return core.InventoryTransaction{}, fmt.Errorf("failed to insert inventory transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.InventoryTransaction{}, fmt.Errorf("failed to read transaction id: %w", err)
	}
	in.ID = id
	return in, nil
}

// ── Ledger reads ──────────────────────────────────────────────────────────────

func (s *SQLiteStore) RecentAddition(ctx context.Context, variantID int64, since time.Time) (*core.InventoryTransaction, error) {
	t, err := scanSQLiteTransaction(s.db.QueryRowContext(ctx, `
		SELECT id, variant_id, transaction_type, quantity, unit_cost, source, note, batch_id, created_at
		FROM inventory_transactions
		WHERE variant_id = ? AND transaction_type = 'addition' AND created_at >= ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, variantID, since.UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("failed to query recent addition: %w", err)
	}
	return &t, nil
}

func (s *SQLiteStore) ListVariants(ctx context.Context, filter core.StockFilter) ([]core.StockLevel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.sku, c.name, c.set_code, c.number, v.condition,
		       v.inventory_qty, v.cost_basis_avg, v.total_units_purchased, v.price_cad, v.external_id
		FROM variants v
		JOIN cards c ON c.id = v.card_id
		WHERE (?1 = '' OR c.set_code = ?1)
		  AND (NOT ?2 OR v.inventory_qty > 0)
		  AND (NOT ?3 OR v.external_id <> '')
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

func (s *SQLiteStore) ListTransactions(ctx context.Context, variantID int64, limit int) ([]core.InventoryTransaction, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM variants WHERE id = ?)", variantID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check variant: %w", err)
	}
	if !exists {
		return nil, core.ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, variant_id, transaction_type, quantity, unit_cost, source, note, batch_id, created_at
		FROM inventory_transactions
		WHERE variant_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, variantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txns []core.InventoryTransaction
	for rows.Next() {
		t, err := scanSQLiteTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// ── Pricing ───────────────────────────────────────────────────────────────────

func (s *SQLiteStore) ListPricedCards(ctx context.Context) ([]core.PricedCard, error) {
	rows, err := s.db.QueryContext(ctx, `
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

func (s *SQLiteStore) ListCardVariants(ctx context.Context, cardID int64) ([]core.Variant, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+sqliteVariantColumns+" FROM variants WHERE card_id = ? ORDER BY id", cardID)
	if err != nil {
		return nil, fmt.Errorf("failed to query variants: %w", err)
	}
	defer rows.Close()

	var variants []core.Variant
	for rows.Next() {
		v, err := scanSQLiteVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		variants = append(variants, *v)
	}
	return variants, rows.Err()
}

func (s *SQLiteStore) UpdateVariantPrices(ctx context.Context, marketCAD decimal.Decimal, changes []core.PriceChange) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range changes {
		if _, err := tx.ExecContext(ctx, `
			UPDATE variants
			SET price_cad = ?, market_price = ?, price_updated_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, c.New.StringFixed(2), marketCAD.StringFixed(2), c.VariantID); err != nil {
			return fmt.Errorf("failed to update price for variant %d: %w", c.VariantID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit price update: %w", err)
	}
	return nil
}
