package csvfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"cardops/internal/core"

	"github.com/shopspring/decimal"
)

// CatalogColumns is the layout of a catalog seed file: one row per variant.
var CatalogColumns = []string{"name", "set_code", "number", "market_ref", "condition", "sku", "external_id", "price_cad"}

// CatalogRow is one variant of a card to be upserted into the reference data.
type CatalogRow struct {
	Card    core.PricedCard
	Variant core.Variant
}

// ReadCatalog parses a catalog seed file. market_ref, external_id and
// price_cad may be empty.
func ReadCatalog(r io.Reader) ([]CatalogRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	first, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	header := make(Header, len(first))
	for i, c := range first {
		header[i] = normalizeColumn(c)
	}
	for _, c := range []string{"name", "set_code", "number", "condition", "sku"} {
		if header.Index(c) < 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, c)
		}
	}
	get := func(row []string, name string) string {
		i := header.Index(name)
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var out []CatalogRow
	for n := 1; ; n++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", n, err)
		}

		cond := core.Condition(get(row, "condition"))
		valid := false
		for _, c := range core.Conditions {
			if c == cond {
				valid = true
				break
			}
		}
		if !valid {
			return nil, fmt.Errorf("row %d: invalid condition %q", n, cond)
		}

		price := decimal.Zero
		if s := get(row, "price_cad"); s != "" {
			if price, err = decimal.NewFromString(s); err != nil {
				return nil, fmt.Errorf("row %d: invalid price_cad %q", n, s)
			}
		}

		out = append(out, CatalogRow{
			Card: core.PricedCard{
				Card: core.Card{
					Name:    get(row, "name"),
					SetCode: get(row, "set_code"),
					Number:  get(row, "number"),
				},
				MarketRef: get(row, "market_ref"),
			},
			Variant: core.Variant{
				Condition:  cond,
				SKU:        get(row, "sku"),
				ExternalID: get(row, "external_id"),
				PriceCAD:   price,
			},
		})
	}
	return out, nil
}
