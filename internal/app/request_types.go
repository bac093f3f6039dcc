package app

import (
	"io"

	"cardops/internal/core"
)

// IngestRequest is the input for a bulk upload.
type IngestRequest struct {
	Source io.Reader
	Name   string // file name, for logs only
}

// AddLotRequest is a single manual entry. Values are kept as text so they get
// exactly the same validation as a CSV row.
type AddLotRequest struct {
	CardName   string `json:"card_name"`
	SetCode    string `json:"set_code"`
	CardNumber string `json:"card_number"`
	Condition  string `json:"condition"`
	Quantity   string `json:"quantity"`
	UnitCost   string `json:"unit_cost"`
	Source     string `json:"source"`
	Notes      string `json:"notes"`
}

func (r AddLotRequest) raw() core.RawRecord {
	return core.RawRecord{
		Line:       1,
		CardName:   r.CardName,
		SetCode:    r.SetCode,
		CardNumber: r.CardNumber,
		Condition:  r.Condition,
		Quantity:   r.Quantity,
		UnitCost:   r.UnitCost,
		Source:     r.Source,
		Notes:      r.Notes,
	}
}

// StockRequest filters StockLevels.
type StockRequest struct {
	SetCode     string
	InStockOnly bool
}
