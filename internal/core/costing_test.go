package core_test

import (
	"testing"

	"cardops/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(qty int64, cost string, lifetime int64) core.VariantSnapshot {
	return core.VariantSnapshot{Quantity: qty, CostBasisAvg: dec(cost), TotalUnitsPurchased: lifetime}
}

func lot(qty int64, cost string) core.IncomingLot {
	return core.IncomingLot{Quantity: qty, UnitCost: dec(cost), Source: core.SourceBuylist}
}

func TestApplyLot(t *testing.T) {
	tests := []struct {
		name     string
		snap     core.VariantSnapshot
		lot      core.IncomingLot
		wantQty  int64
		wantCost string
		wantLife int64
	}{
		{"empty variant takes lot cost", snapshot(0, "0", 0), lot(2, "80.00"), 2, "80.00", 2},
		{"weighted average", snapshot(2, "80.00", 2), lot(3, "90.00"), 5, "86.00", 5},
		{"second lot", snapshot(5, "86.00", 5), lot(5, "100.00"), 10, "93.00", 10},
		{"free cards lower the average", snapshot(2, "80.00", 2), lot(2, "0"), 4, "40.00", 4},
		{"lifetime counts past sales", snapshot(1, "5.00", 9), lot(1, "7.00"), 2, "6.00", 10},
		{"repeating decimal rounds on persist", snapshot(1, "1.00", 1), lot(2, "0"), 3, "0.33", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := core.ApplyLot(tt.snap, tt.lot)
			require.NoError(t, err)
			r := u.Rounded()
			assert.Equal(t, tt.wantQty, r.Quantity)
			assert.True(t, dec(tt.wantCost).Equal(r.CostBasisAvg), "cost: want %s, got %s", tt.wantCost, r.CostBasisAvg)
			assert.Equal(t, tt.wantLife, r.TotalUnitsPurchased)
		})
	}
}

func TestApplyLot_KeepsFullPrecisionUntilRounded(t *testing.T) {
	u, err := core.ApplyLot(snapshot(1, "1.00", 1), lot(2, "0"))
	require.NoError(t, err)

	assert.True(t, u.CostBasisAvg.GreaterThan(dec("0.3333")))
	assert.True(t, u.CostBasisAvg.LessThan(dec("0.3334")))
	assert.Equal(t, "0.33", u.Rounded().CostBasisAvg.StringFixed(2))
}

func TestApplyLot_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		snap    core.VariantSnapshot
		lot     core.IncomingLot
		wantErr error
	}{
		{"zero quantity", snapshot(1, "1.00", 1), lot(0, "1.00"), core.ErrInvalidLot},
		{"negative quantity", snapshot(1, "1.00", 1), lot(-2, "1.00"), core.ErrInvalidLot},
		{"negative cost", snapshot(1, "1.00", 1), lot(1, "-0.01"), core.ErrInvalidLot},
		{"negative stock", snapshot(-1, "1.00", 1), lot(1, "1.00"), core.ErrCorruptSnapshot},
		{"negative cost basis", snapshot(1, "-1.00", 1), lot(1, "1.00"), core.ErrCorruptSnapshot},
		{"negative lifetime", snapshot(1, "1.00", -1), lot(1, "1.00"), core.ErrCorruptSnapshot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := core.ApplyLot(tt.snap, tt.lot)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestApplyLot_AverageStaysBetweenInputs(t *testing.T) {
	cases := []struct {
		snap core.VariantSnapshot
		lot  core.IncomingLot
	}{
		{snapshot(2, "80.00", 2), lot(3, "90.00")},
		{snapshot(7, "94.29", 7), lot(3, "90.00")},
		{snapshot(1, "0.25", 4), lot(100, "0.10")},
		{snapshot(40, "3.99", 40), lot(1, "250.00")},
	}
	for _, c := range cases {
		u, err := core.ApplyLot(c.snap, c.lot)
		require.NoError(t, err)
		lo := decimal.Min(c.snap.CostBasisAvg, c.lot.UnitCost)
		hi := decimal.Max(c.snap.CostBasisAvg, c.lot.UnitCost)
		assert.True(t, u.CostBasisAvg.GreaterThanOrEqual(lo), "%s below %s", u.CostBasisAvg, lo)
		assert.True(t, u.CostBasisAvg.LessThanOrEqual(hi), "%s above %s", u.CostBasisAvg, hi)
	}
}

func TestApplyLot_OrderDoesNotMatter(t *testing.T) {
	lots := []core.IncomingLot{lot(3, "90.00"), lot(5, "100.00"), lot(7, "12.34")}
	orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 2, 0}}

	var results []core.VariantUpdate
	for _, order := range orders {
		snap := snapshot(0, "0", 0)
		var u core.VariantUpdate
		for _, i := range order {
			var err error
			u, err = core.ApplyLot(snap, lots[i])
			require.NoError(t, err)
			snap = core.VariantSnapshot{Quantity: u.Quantity, CostBasisAvg: u.CostBasisAvg, TotalUnitsPurchased: u.TotalUnitsPurchased}
		}
		results = append(results, u.Rounded())
	}

	for _, r := range results {
		assert.Equal(t, int64(15), r.Quantity)
		assert.Equal(t, int64(15), r.TotalUnitsPurchased)
		assert.Equal(t, "57.09", r.CostBasisAvg.StringFixed(2))
	}
}

func TestVariantUpdate_RoundedIsHalfEven(t *testing.T) {
	assert.Equal(t, "93.00", core.VariantUpdate{CostBasisAvg: dec("93.005")}.Rounded().CostBasisAvg.StringFixed(2))
	assert.Equal(t, "93.02", core.VariantUpdate{CostBasisAvg: dec("93.015")}.Rounded().CostBasisAvg.StringFixed(2))
}
