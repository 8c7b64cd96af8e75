package repair

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const recordSchemaTemplate = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["reasoning", "score", %[1]q, "revision_notes"],
  "additionalProperties": false,
  "properties": {
    "reasoning": {"type": "string", "minLength": 1},
    "score": {"type": "integer", "minimum": 1, "maximum": 10},
    %[1]q: {"type": "boolean"},
    "revision_notes": {"type": "string", "minLength": 1}
  }
}`

var schemas = map[Category]*gojsonschema.Schema{
	Safety:   mustSchema(Safety),
	Clinical: mustSchema(Clinical),
}

func mustSchema(c Category) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(fmt.Sprintf(recordSchemaTemplate, c.gateKey())))
	if err != nil {
		panic(fmt.Sprintf("repair: invalid %s schema: %v", c, err))
	}
	return s
}

// ValidationError lists the schema violations of a record.
type ValidationError struct {
	Category Category
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s review failed validation: %s", e.Category, strings.Join(e.Problems, "; "))
}

// validate checks r against its category schema.
func validate(r Record) error {
	schema, ok := schemas[r.Category]
	if !ok {
		return &ValidationError{Category: r.Category, Problems: []string{"unknown category"}}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(r.document()))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}

	verr := &ValidationError{Category: r.Category}
	for _, e := range result.Errors() {
		verr.Problems = append(verr.Problems, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
	}
	return verr
}
