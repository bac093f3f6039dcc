package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// Condition is the grading of a physical card. Values are case-sensitive.
type Condition string

const (
	ConditionNM  Condition = "NM"
	ConditionLP  Condition = "LP"
	ConditionMP  Condition = "MP"
	ConditionHP  Condition = "HP"
	ConditionDMG Condition = "DMG"
)

// Conditions lists every accepted condition, best first.
var Conditions = []Condition{ConditionNM, ConditionLP, ConditionMP, ConditionHP, ConditionDMG}

// Source tags where an inventory lot came from.
type Source string

const (
	SourceBuylist   Source = "buylist"
	SourceWholesale Source = "wholesale"
	SourceOpening   Source = "opening"
	SourcePersonal  Source = "personal"
	SourceTrade     Source = "trade"
	SourceGift      Source = "gift"
	SourceReturn    Source = "return"
	SourceOther     Source = "other"
)

var Sources = []Source{
	SourceBuylist, SourceWholesale, SourceOpening, SourcePersonal,
	SourceTrade, SourceGift, SourceReturn, SourceOther,
}

// Card is the canonical identity of a printed card. Cards are reference data and
// are never mutated by the ingestion pipeline.
type Card struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	SetCode string `json:"set_code"`
	Number  string `json:"number"`
}

// RawRecord is one inventory row as it arrived, before validation.
// Cells holds the original CSV cells so the row can be re-exported unchanged;
// it is nil for records that did not come from a file.
type RawRecord struct {
	Line       int      `json:"line"`
	Cells      []string `json:"-"`
	CardName   string   `json:"card_name"`
	SetCode    string   `json:"set_code"`
	CardNumber string   `json:"card_number"`
	Condition  string   `json:"condition"`
	Quantity   string   `json:"quantity"`
	UnitCost   string   `json:"unit_cost"`
	Source     string   `json:"source"`
	Notes      string   `json:"notes"`
	// Text and ParseError are set instead of the fields above for a row the
	// CSV reader could not split into cells.
	Text       string `json:"text,omitempty"`
	ParseError string `json:"parse_error,omitempty"`
}

// ValidRecord is a RawRecord that passed every validation rule, with its
// fields parsed into domain types.
type ValidRecord struct {
	Raw        RawRecord
	CardName   string
	SetCode    string
	CardNumber string
	Condition  Condition
	Quantity   int64
	UnitCost   decimal.Decimal
	Source     Source
	Notes      string
}

// TransactionType tags an InventoryTransaction. Only additions are written by
// the ingestion pipeline.
type TransactionType string

const TransactionAddition TransactionType = "addition"

// IncomingLot is one inventory addition, created per input record and consumed
// immediately by the Ledger.
type IncomingLot struct {
	VariantID int64
	Quantity  int64
	UnitCost  decimal.Decimal
	Source    Source
	Note      string
	BatchID   string
}

// InventoryTransaction is the append-only audit row written for every persisted lot.
type InventoryTransaction struct {
	ID        int64           `json:"id"`
	VariantID int64           `json:"variant_id"`
	Type      TransactionType `json:"transaction_type"`
	Quantity  int64           `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	Source    Source          `json:"source"`
	Note      string          `json:"note"`
	BatchID   string          `json:"batch_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
