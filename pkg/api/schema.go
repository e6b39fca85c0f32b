package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const hexID = `{"type": "string", "pattern": "^[0-9a-fA-F]{64}$"}`

var setupSchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["counterparty"],
  "properties": {
    "counterparty": ` + hexID + `
  }
}`

var proposalSchemaJSON = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["event_mask"],
  "properties": {
    "protocol": ` + hexID + `,
    "term": ` + hexID + `,
    "alt_protocol": ` + hexID + `,
    "alt_term": ` + hexID + `,
    "parameters": {"type": "string", "pattern": "^([0-9a-fA-F]{2})*$"},
    "stake_amount": {"type": "integer"},
    "event_mask": {"type": "integer", "minimum": 0, "maximum": 4294967295},
    "expected_turn": {"type": "integer", "minimum": 1}
  }
}`

var (
	setupSchema    = mustCompile("setup", setupSchemaJSON)
	proposalSchema = mustCompile("proposal", proposalSchemaJSON)
)

func mustCompile(name, src string) *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://negotiator.tome.gg/schemas/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(src)); err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return c.MustCompile(url)
}

// validateBody checks raw JSON against schema.
func validateBody(schema *jsonschema.Schema, raw []byte) error {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return errors.New(leafMessage(ve))
		}
		return err
	}
	return nil
}

// leafMessage returns the first concrete cause of a validation error.
func leafMessage(ve *jsonschema.ValidationError) string {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("%s: %s", loc, ve.Message)
}
