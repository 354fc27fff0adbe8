package httpapi

import (
	"fmt"
	"regexp"

	"github.com/swisscatplus/glas/internal/workflow"
)

// validateArgs checks a decoded JSON args map against a workflow's argument
// schema: types (integer, float, string, boolean, array) and constraints
// (minimum, maximum, maxLength, pattern, maxItems). The core assumes
// pre-validated args; this is the boundary that guarantees that.
func validateArgs(specs []workflow.ArgSpec, args map[string]any) error {
	for _, spec := range specs {
		value, present := args[spec.Name]
		if !present {
			if spec.Required {
				return fmt.Errorf("missing required arg %q", spec.Name)
			}
			continue
		}
		if err := validateOne(spec, value); err != nil {
			return fmt.Errorf("arg %q: %w", spec.Name, err)
		}
	}
	return nil
}

func validateOne(spec workflow.ArgSpec, value any) error {
	switch spec.Type {
	case "integer":
		n, ok := asFloat(value)
		if !ok || n != float64(int64(n)) {
			return fmt.Errorf("expected integer, got %T", value)
		}
		return checkRange(spec, n)
	case "float":
		n, ok := asFloat(value)
		if !ok {
			return fmt.Errorf("expected float, got %T", value)
		}
		return checkRange(spec, n)
	case "string":
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		if spec.MaxLength != nil && len(str) > *spec.MaxLength {
			return fmt.Errorf("exceeds maxLength %d", *spec.MaxLength)
		}
		if spec.Pattern != "" {
			re, err := regexp.Compile(spec.Pattern)
			if err != nil {
				return fmt.Errorf("invalid pattern %q: %w", spec.Pattern, err)
			}
			if !re.MatchString(str) {
				return fmt.Errorf("does not match pattern %q", spec.Pattern)
			}
		}
		return nil
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
		return nil
	case "array":
		arr, ok := value.([]any)
		if !ok {
			return fmt.Errorf("expected array, got %T", value)
		}
		if spec.MaxItems != nil && len(arr) > *spec.MaxItems {
			return fmt.Errorf("exceeds maxItems %d", *spec.MaxItems)
		}
		return nil
	default:
		return fmt.Errorf("unknown arg type %q", spec.Type)
	}
}

func checkRange(spec workflow.ArgSpec, n float64) error {
	if spec.Minimum != nil && n < *spec.Minimum {
		return fmt.Errorf("below minimum %v", *spec.Minimum)
	}
	if spec.Maximum != nil && n > *spec.Maximum {
		return fmt.Errorf("above maximum %v", *spec.Maximum)
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
