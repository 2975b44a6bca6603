package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// receiptSchema is the target shape enforced on the model's output.
// minimum: 0 on every currency field makes negative amounts a validation
// failure rather than something to clamp.
const receiptSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["merchant", "transaction", "items"],
  "properties": {
    "merchant": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "name": {"type": "string"},
        "address": {"type": "string"},
        "phone": {"type": "string"}
      }
    },
    "transaction": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "date": {"type": "string"},
        "time": {"type": "string"},
        "subtotal": {"type": "number", "minimum": 0},
        "tax": {"type": "number", "minimum": 0},
        "total": {"type": "number", "minimum": 0},
        "payment_method": {"type": "string"}
      }
    },
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["description"],
        "properties": {
          "description": {"type": "string"},
          "quantity": {"type": "number", "minimum": 0},
          "unit_price": {"type": "number", "minimum": 0},
          "total_price": {"type": "number", "minimum": 0}
        }
      }
    }
  }
}`

// Validator checks LLM output against the receipt schema and produces the
// typed result.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the receipt schema
func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("receipt.json", bytes.NewReader([]byte(receiptSchema))); err != nil {
		return nil, fmt.Errorf("adding schema: %w", err)
	}
	schema, err := compiler.Compile("receipt.json")
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate parses the raw LLM text as JSON, normalizes it, validates it
// against the receipt schema, and returns the typed result. Any failure
// means the model's output was malformed.
func (v *Validator) Validate(rawLLMText string) (*ParsedReceipt, error) {
	text, err := extractJSON(rawLLMText)
	if err != nil {
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	normalize(doc)

	if err := v.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("output does not match receipt schema: %w", err)
	}

	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("re-encoding document: %w", err)
	}

	var receipt ParsedReceipt
	if err := json.Unmarshal(normalized, &receipt); err != nil {
		return nil, fmt.Errorf("decoding receipt: %w", err)
	}
	if receipt.Items == nil {
		receipt.Items = []LineItem{}
	}
	return &receipt, nil
}

// extractJSON strips markdown fences and any surrounding prose, slicing the
// text down to the outermost JSON object.
func extractJSON(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	end := strings.LastIndex(text, "}")
	if end == -1 || end < start {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[start : end+1], nil
}

// normalize applies the shape-level repair rules before schema validation:
// nulls are dropped (null means unknown, which the schema expresses by
// absence), numbers that arrived as strings are coerced, unknown keys are
// removed, and structural members are defaulted so a sparse-but-honest
// response still validates. Values stay otherwise untouched.
func normalize(doc map[string]any) {
	merchant := subObject(doc, "merchant")
	keepStrings(merchant, "name", "address", "phone")

	transaction := subObject(doc, "transaction")
	keepStrings(transaction, "date", "time", "payment_method")
	coerceNumbers(transaction, "subtotal", "tax", "total")
	dropUnknown(transaction, "date", "time", "subtotal", "tax", "total", "payment_method")
	dropUnknown(merchant, "name", "address", "phone")

	items, _ := doc["items"].([]any)
	normalized := make([]any, 0, len(items))
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		keepStrings(item, "description")
		coerceNumbers(item, "quantity", "unit_price", "total_price")
		if _, ok := item["quantity"]; !ok {
			item["quantity"] = 1.0
		}
		if _, ok := item["unit_price"]; !ok {
			item["unit_price"] = 0.0
		}
		if _, ok := item["total_price"]; !ok {
			item["total_price"] = 0.0
		}
		dropUnknown(item, "description", "quantity", "unit_price", "total_price")
		normalized = append(normalized, item)
	}
	doc["items"] = normalized

	dropUnknown(doc, "merchant", "transaction", "items")
}

// subObject returns doc[key] as a map, replacing it with an empty object if
// it is missing, null, or the wrong type.
func subObject(doc map[string]any, key string) map[string]any {
	if m, ok := doc[key].(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	doc[key] = m
	return m
}

// keepStrings drops the named keys unless they hold a non-empty string.
func keepStrings(m map[string]any, keys ...string) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		s, isString := v.(string)
		if !isString || strings.TrimSpace(s) == "" {
			delete(m, k)
		}
	}
}

// coerceNumbers converts string-encoded numbers in place and drops nulls
// and unparseable values. A present-but-garbage money field is treated as
// unknown rather than failing the document; negatives survive coercion and
// are rejected by the schema so extraction errors surface.
func coerceNumbers(m map[string]any, keys ...string) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			// already numeric
		case string:
			s := strings.TrimSpace(t)
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				m[k] = f
			} else {
				delete(m, k)
			}
		default:
			delete(m, k)
		}
	}
}

// dropUnknown removes keys outside the allowed set.
func dropUnknown(m map[string]any, allowed ...string) {
	set := make(map[string]struct{}, len(allowed))
	for _, k := range allowed {
		set[k] = struct{}{}
	}
	for k := range m {
		if _, ok := set[k]; !ok {
			delete(m, k)
		}
	}
}
