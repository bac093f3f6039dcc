package core

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// RejectionCode identifies why a record failed validation.
type RejectionCode string

const (
	CodeMalformedRow       RejectionCode = "malformed_row"
	CodeMissingField       RejectionCode = "missing_field"
	CodeQuantityNotInteger RejectionCode = "quantity_not_integer"
	CodeQuantityZero       RejectionCode = "quantity_zero"
	CodeQuantityNegative   RejectionCode = "quantity_negative"
	CodeUnitCostInvalid    RejectionCode = "unit_cost_invalid"
	CodeUnitCostNegative   RejectionCode = "unit_cost_negative"
	CodeConditionInvalid   RejectionCode = "condition_invalid"
	CodeSourceInvalid      RejectionCode = "source_invalid"
)

// Rejection is a structured validation failure: which field, what was received
// and what was expected. Hint is set when the received value is a known alias of
// a valid one; it is never applied automatically.
type Rejection struct {
	Code     RejectionCode `json:"code"`
	Field    string        `json:"field"`
	Received string        `json:"received"`
	Expected string        `json:"expected"`
	Hint     string        `json:"hint,omitempty"`
}

func (r Rejection) String() string {
	s := fmt.Sprintf("%s: expected %s, got %q", r.Field, r.Expected, r.Received)
	if r.Hint != "" {
		s += " (" + r.Hint + ")"
	}
	return s
}

const (
	conditionTag = "oneof=NM LP MP HP DMG"
	sourceTag    = "oneof=buylist wholesale opening personal trade gift return other"
)

var conditionAliases = map[string]Condition{
	"NEAR MINT":         ConditionNM,
	"NEARMINT":          ConditionNM,
	"MINT":              ConditionNM,
	"M":                 ConditionNM,
	"LIGHTLY PLAYED":    ConditionLP,
	"LIGHT PLAY":        ConditionLP,
	"MODERATELY PLAYED": ConditionMP,
	"MODERATE PLAY":     ConditionMP,
	"HEAVILY PLAYED":    ConditionHP,
	"HEAVY PLAY":        ConditionHP,
	"DAMAGED":           ConditionDMG,
	"DAMAGE":            ConditionDMG,
	"D":                 ConditionDMG,
}

var sourceAliases = map[string]Source{
	"buy":         SourceBuylist,
	"customer":    SourceBuylist,
	"purchase":    SourceBuylist,
	"bulk":        SourceWholesale,
	"distributor": SourceWholesale,
	"supplier":    SourceWholesale,
	"open":        SourceOpening,
	"pack":        SourceOpening,
	"booster":     SourceOpening,
	"pulled":      SourceOpening,
	"mine":        SourcePersonal,
	"collection":  SourcePersonal,
	"traded":      SourceTrade,
	"swap":        SourceTrade,
}

// Validator checks a single RawRecord against the static domain rules.
// It is safe for concurrent use.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{v: validator.New()}
}

// Validate normalizes and checks raw. Checks run in a fixed order and stop at
// the first failure. It has no side effects.
func (val *Validator) Validate(raw RawRecord) (ValidRecord, *Rejection) {
	if raw.ParseError != "" {
		return ValidRecord{}, &Rejection{
			Code:     CodeMalformedRow,
			Field:    "row",
			Received: raw.Text,
			Expected: "a well-formed CSV row (" + raw.ParseError + ")",
		}
	}

	fields := []struct {
		name  string
		value string
	}{
		{"card_name", raw.CardName},
		{"set_code", raw.SetCode},
		{"card_number", raw.CardNumber},
		{"condition", raw.Condition},
		{"quantity", raw.Quantity},
		{"unit_cost", raw.UnitCost},
		{"source", raw.Source},
	}
	for _, f := range fields {
		if err := val.v.Var(strings.TrimSpace(f.value), "required"); err != nil {
			return ValidRecord{}, &Rejection{
				Code:     CodeMissingField,
				Field:    f.name,
				Received: f.value,
				Expected: "a non-empty value",
			}
		}
	}

	qtyStr := strings.TrimSpace(raw.Quantity)
	qty, err := strconv.ParseInt(qtyStr, 10, 64)
	if err != nil {
		return ValidRecord{}, &Rejection{
			Code: CodeQuantityNotInteger, Field: "quantity", Received: raw.Quantity,
			Expected: "a whole number greater than 0",
		}
	}
	if qty == 0 {
		return ValidRecord{}, &Rejection{
			Code: CodeQuantityZero, Field: "quantity", Received: raw.Quantity,
			Expected: "quantity must be > 0",
		}
	}
	if qty < 0 {
		return ValidRecord{}, &Rejection{
			Code: CodeQuantityNegative, Field: "quantity", Received: raw.Quantity,
			Expected: "quantity must be > 0",
		}
	}

	cost, err := decimal.NewFromString(strings.TrimSpace(raw.UnitCost))
	if err != nil {
		return ValidRecord{}, &Rejection{
			Code: CodeUnitCostInvalid, Field: "unit_cost", Received: raw.UnitCost,
			Expected: "a decimal amount such as 12.50",
		}
	}
	if cost.IsNegative() {
		return ValidRecord{}, &Rejection{
			Code: CodeUnitCostNegative, Field: "unit_cost", Received: raw.UnitCost,
			Expected: "unit cost must be >= 0",
		}
	}

	condition := strings.TrimSpace(raw.Condition)
	if err := val.v.Var(condition, conditionTag); err != nil {
		rej := &Rejection{
			Code: CodeConditionInvalid, Field: "condition", Received: raw.Condition,
			Expected: "one of NM, LP, MP, HP, DMG",
		}
		if hint, ok := conditionHint(condition); ok {
			rej.Hint = fmt.Sprintf("did you mean %q?", hint)
		}
		return ValidRecord{}, rej
	}

	source := strings.TrimSpace(raw.Source)
	if err := val.v.Var(source, sourceTag); err != nil {
		rej := &Rejection{
			Code: CodeSourceInvalid, Field: "source", Received: raw.Source,
			Expected: "one of buylist, wholesale, opening, personal, trade, gift, return, other",
		}
		if hint, ok := sourceHint(source); ok {
			rej.Hint = fmt.Sprintf("did you mean %q?", hint)
		}
		return ValidRecord{}, rej
	}

	return ValidRecord{
		Raw:        raw,
		CardName:   strings.TrimSpace(raw.CardName),
		SetCode:    strings.TrimSpace(raw.SetCode),
		CardNumber: strings.TrimSpace(raw.CardNumber),
		Condition:  Condition(condition),
		Quantity:   qty,
		UnitCost:   cost,
		Source:     Source(source),
		Notes:      strings.TrimSpace(raw.Notes),
	}, nil
}

func conditionHint(s string) (Condition, bool) {
	upper := strings.ToUpper(s)
	for _, c := range Conditions {
		if string(c) == upper {
			return c, true
		}
	}
	c, ok := conditionAliases[upper]
	return c, ok
}

func sourceHint(s string) (Source, bool) {
	lower := strings.ToLower(s)
	for _, src := range Sources {
		if string(src) == lower {
			return src, true
		}
	}
	src, ok := sourceAliases[lower]
	return src, ok
}
