package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// moneyPlaces is the scale stored money values are rounded to.
const moneyPlaces = 2

// VariantSnapshot is the stock and cost state of a variant as read from the store.
type VariantSnapshot struct {
	Quantity            int64           `json:"quantity"`
	CostBasisAvg        decimal.Decimal `json:"cost_basis_avg"`
	TotalUnitsPurchased int64           `json:"total_units_purchased"`
}

// VariantUpdate is the state a variant moves to after one lot. CostBasisAvg is
// kept at full precision until Rounded is called.
type VariantUpdate struct {
	Quantity            int64           `json:"quantity"`
	CostBasisAvg        decimal.Decimal `json:"cost_basis_avg"`
	TotalUnitsPurchased int64           `json:"total_units_purchased"`
}

// Rounded returns u with money rounded half-to-even to two places. Only the
// ledger calls it, immediately before writing.
func (u VariantUpdate) Rounded() VariantUpdate {
	u.CostBasisAvg = u.CostBasisAvg.RoundBank(moneyPlaces)
	return u
}

// ApplyLot computes the weighted average cost after adding lot to snap:
//
//	qty_new  = qty_old + qty_lot
//	cost_new = (cost_old*qty_old + cost_lot*qty_lot) / qty_new
//	lifetime = lifetime_old + qty_lot
//
// A non-positive lot quantity or negative unit cost is a precondition violation
// and returns ErrInvalidLot rather than being clamped.
func ApplyLot(snap VariantSnapshot, lot IncomingLot) (VariantUpdate, error) {
	if lot.Quantity <= 0 {
		return VariantUpdate{}, fmt.Errorf("%w: quantity must be > 0, got %d", ErrInvalidLot, lot.Quantity)
	}
	if lot.UnitCost.IsNegative() {
		return VariantUpdate{}, fmt.Errorf("%w: unit cost must be >= 0, got %s", ErrInvalidLot, lot.UnitCost)
	}
	if snap.Quantity < 0 || snap.CostBasisAvg.IsNegative() || snap.TotalUnitsPurchased < 0 {
		return VariantUpdate{}, fmt.Errorf("%w: qty=%d cost=%s lifetime=%d",
			ErrCorruptSnapshot, snap.Quantity, snap.CostBasisAvg, snap.TotalUnitsPurchased)
	}

	oldQty := decimal.NewFromInt(snap.Quantity)
	lotQty := decimal.NewFromInt(lot.Quantity)
	newQty := snap.Quantity + lot.Quantity

	var newCost decimal.Decimal
	if newQty != 0 {
		newCost = snap.CostBasisAvg.Mul(oldQty).
			Add(lot.UnitCost.Mul(lotQty)).
			Div(decimal.NewFromInt(newQty))
	}

	return VariantUpdate{
		Quantity:            newQty,
		CostBasisAvg:        newCost,
		TotalUnitsPurchased: snap.TotalUnitsPurchased + lot.Quantity,
	}, nil
}
