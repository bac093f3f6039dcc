package app

import (
	"cardops/internal/adapters/csvfile"
	"cardops/internal/core"
)

// IngestResult is returned by IngestCSV. Header is the upload's header row,
// needed to write the artifacts in the input schema.
type IngestResult struct {
	Report *core.BatchReport
	Header csvfile.Header
}

// AddLotResult is returned by AddLot.
type AddLotResult struct {
	Outcome core.Outcome
}

// StockResult is returned by StockLevels.
type StockResult struct {
	Levels     []core.StockLevel `json:"levels"`
	TotalUnits int64             `json:"total_units"`
}

// HistoryResult is returned by History.
type HistoryResult struct {
	VariantID    int64                       `json:"variant_id"`
	Transactions []core.InventoryTransaction `json:"transactions"`
}

// SeedResult is returned by SeedCatalog.
type SeedResult struct {
	Cards    int `json:"cards"`
	Variants int `json:"variants"`
}
