package app

import (
	"encoding/json"
	"reflect"

	"cardops/internal/core"

	"github.com/invopop/jsonschema"
	"github.com/shopspring/decimal"
)

var decimalType = reflect.TypeOf(decimal.Decimal{})

// SummarySchema returns the JSON Schema of core.BatchSummary, the contract
// handed to the reporting side. Money is encoded as a decimal string.
func SummarySchema() ([]byte, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == decimalType {
				return &jsonschema.Schema{Type: "string", Pattern: `^-?[0-9]+(\.[0-9]+)?$`}
			}
			return nil
		},
	}
	schema := reflector.Reflect(&core.BatchSummary{})
	schema.Title = "BatchSummary"
	return json.MarshalIndent(schema, "", "  ")
}
