// Package validation checks remote order documents before they enter the ledger.
package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// orderItemSchema pins down the minimum an order document must carry to be
// ingestible: the external id used as the deduplication key and the remote
// status. Everything else in the payload is opaque.
const orderItemSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["orderItemNumber", "status"],
	"properties": {
		"orderItemNumber": {"type": "string", "minLength": 1},
		"status": {"type": "string", "minLength": 1},
		"designs": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {"href": {"type": "string"}}
			}
		},
		"_links": {"type": "object"}
	}
}`

// PayloadValidator validates order documents against the ingestion schema.
type PayloadValidator struct {
	schema *jsonschema.Schema
}

// NewPayloadValidator compiles the ingestion schema.
func NewPayloadValidator() (*PayloadValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(orderItemSchema))
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("order-item.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	schema, err := c.Compile("order-item.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return &PayloadValidator{schema: schema}, nil
}

// Validate reports an error when the payload cannot be ingested.
func (v *PayloadValidator) Validate(payload json.RawMessage) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("parse payload: %w", err)
	}

	if err := v.schema.Validate(inst); err != nil {
		return fmt.Errorf("validate payload: %w", err)
	}

	return nil
}
