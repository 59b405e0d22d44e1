package metric

import (
	"encoding/json"
	"fmt"
	"math"
)

// validateJSON checks output against a structural subset of JSON Schema:
// type, required, properties, and items. That covers the constraint shapes
// the supported backends accept as decoding formats.
func validateJSON(output string, schema map[string]any) error {
	var value any
	if err := json.Unmarshal([]byte(output), &value); err != nil {
		return fmt.Errorf("output is not valid JSON: %w", err)
	}
	return validateValue(value, schema, "$")
}

func validateValue(value any, schema map[string]any, path string) error {
	if typ, ok := schema["type"].(string); ok {
		if err := checkType(value, typ, path); err != nil {
			return err
		}
	}

	obj, isObj := value.(map[string]any)
	if isObj {
		if required, ok := schema["required"].([]any); ok {
			for _, r := range required {
				name, ok := r.(string)
				if !ok {
					continue
				}
				if _, present := obj[name]; !present {
					return fmt.Errorf("%s: missing required property %q", path, name)
				}
			}
		}
		if props, ok := schema["properties"].(map[string]any); ok {
			for name, raw := range props {
				sub, ok := raw.(map[string]any)
				if !ok {
					continue
				}
				child, present := obj[name]
				if !present {
					continue
				}
				if err := validateValue(child, sub, path+"."+name); err != nil {
					return err
				}
			}
		}
	}

	if arr, isArr := value.([]any); isArr {
		if items, ok := schema["items"].(map[string]any); ok {
			for i, child := range arr {
				if err := validateValue(child, items, fmt.Sprintf("%s[%d]", path, i)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func checkType(value any, typ, path string) error {
	ok := false
	switch typ {
	case "object":
		_, ok = value.(map[string]any)
	case "array":
		_, ok = value.([]any)
	case "string":
		_, ok = value.(string)
	case "boolean":
		_, ok = value.(bool)
	case "number":
		_, ok = value.(float64)
	case "integer":
		f, isNum := value.(float64)
		ok = isNum && f == math.Trunc(f)
	case "null":
		ok = value == nil
	default:
		// Unknown type keyword: skip rather than reject valid output.
		return nil
	}
	if !ok {
		return fmt.Errorf("%s: expected %s, got %T", path, typ, value)
	}
	return nil
}
