package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// FileSource reads rules from a YAML file on every Load.
type FileSource struct {
	Path string
}

func (f FileSource) Load(context.Context) (Values, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return Values{}, fmt.Errorf("read rules file: %w", err)
	}
	return ParseYAML(b)
}

// ParseYAML decodes and schema-checks a rules document.
func ParseYAML(b []byte) (Values, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return Values{}, fmt.Errorf("decode rules yaml: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if err := validateDocument(doc); err != nil {
		return Values{}, err
	}
	var v Values
	if err := yaml.Unmarshal(b, &v); err != nil {
		return Values{}, fmt.Errorf("decode rules yaml: %w", err)
	}
	return v, nil
}

func rulesSchema() map[string]any {
	posInt := map[string]any{"type": "integer", "minimum": 1}
	amount := map[string]any{"type": []any{"string", "number"}, "pattern": `^\d+(\.\d{1,2})?$`}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"min_amount":             amount,
			"validity_hours":         posInt,
			"visits_needed":          posInt,
			"discount_percent":       map[string]any{"type": "integer", "minimum": 1, "maximum": 100},
			"redemption_expiry_days": posInt,
			"period_days":            posInt,
			"period_policy":          map[string]any{"enum": []any{"roll_forward", "reset"}},
			"timezone":               map[string]any{"type": "string"},
			"stores": map[string]any{
				"type": "object",
				"additionalProperties": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties": map[string]any{
						"tax_id":      map[string]any{"type": "string"},
						"branch_name": map[string]any{"type": "string"},
						"min_amount":  amount,
					},
				},
			},
		},
	}
}

// validateDocument round-trips doc through JSON so the validator sees JSON types.
func validateDocument(doc map[string]any) error {
	schemaBytes, err := json.Marshal(rulesSchema())
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("rules.json", bytes.NewReader(schemaBytes)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("rules.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("rules document is not JSON-compatible: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("unmarshal rules: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("rules do not match schema: %w", err)
	}
	return nil
}
