package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Variant is a sellable (card, condition) unit tracked for stock and cost.
// ExternalID is the storefront's variant id; it is empty for variants that were
// never published.
type Variant struct {
	ID                  int64           `json:"id"`
	CardID              int64           `json:"card_id"`
	Condition           Condition       `json:"condition"`
	SKU                 string          `json:"sku"`
	ExternalID          string          `json:"external_id,omitempty"`
	InventoryQty        int64           `json:"inventory_qty"`
	CostBasisAvg        decimal.Decimal `json:"cost_basis_avg"`
	TotalUnitsPurchased int64           `json:"total_units_purchased"`
	PriceCAD            decimal.Decimal `json:"price_cad"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Snapshot returns the stock and cost fields the Cost Accountant works on.
func (v Variant) Snapshot() VariantSnapshot {
	return VariantSnapshot{
		Quantity:            v.InventoryQty,
		CostBasisAvg:        v.CostBasisAvg,
		TotalUnitsPurchased: v.TotalUnitsPurchased,
	}
}

// StockLevel is a read view of a variant joined with its card.
type StockLevel struct {
	VariantID           int64           `json:"variant_id"`
	SKU                 string          `json:"sku"`
	CardName            string          `json:"card_name"`
	SetCode             string          `json:"set_code"`
	Number              string          `json:"number"`
	Condition           Condition       `json:"condition"`
	OnHand              int64           `json:"on_hand"`
	CostBasisAvg        decimal.Decimal `json:"cost_basis_avg"` // weighted average purchase cost
	TotalUnitsPurchased int64           `json:"total_units_purchased"`
	PriceCAD            decimal.Decimal `json:"price_cad"`
	ExternalID          string          `json:"external_id,omitempty"`
}

// StockFilter narrows ListVariants. Zero values mean "no filter".
type StockFilter struct {
	SetCode      string
	InStockOnly  bool
	WithExternal bool
}
