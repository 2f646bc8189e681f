package service

import (
	"fmt"
	"sort"
	"strings"
)

// deepMerge overlays override onto base, recursing into nested objects.
// Non-object override values replace the base value wholesale, arrays
// included. Neither input is mutated.
func deepMerge(base, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(override))
	for key, value := range base {
		merged[key] = cloneValue(value)
	}
	for key, value := range override {
		baseChild, baseIsMap := merged[key].(map[string]any)
		overrideChild, overrideIsMap := value.(map[string]any)
		if baseIsMap && overrideIsMap {
			merged[key] = deepMerge(baseChild, overrideChild)
			continue
		}
		merged[key] = cloneValue(value)
	}
	return merged
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		clone := make(map[string]any, len(v))
		for key, child := range v {
			clone[key] = cloneValue(child)
		}
		return clone
	case []any:
		clone := make([]any, len(v))
		for i, child := range v {
			clone[i] = cloneValue(child)
		}
		return clone
	default:
		return v
	}
}

// subsetViolations lists the key paths in override that do not exist in base.
// Tenant overrides may restyle global tokens but never introduce new ones.
func subsetViolations(base, override map[string]any) []string {
	var violations []string
	collectViolations(base, override, "", &violations)
	sort.Strings(violations)
	return violations
}

func collectViolations(base, override map[string]any, prefix string, violations *[]string) {
	for key, value := range override {
		path := key
		if prefix != "" {
			path = fmt.Sprintf("%s.%s", prefix, key)
		}

		baseValue, exists := base[key]
		if !exists {
			*violations = append(*violations, path)
			continue
		}

		overrideChild, overrideIsMap := value.(map[string]any)
		if !overrideIsMap {
			continue
		}
		baseChild, baseIsMap := baseValue.(map[string]any)
		if !baseIsMap {
			// override nests where the global token is a leaf
			*violations = append(*violations, path)
			continue
		}
		collectViolations(baseChild, overrideChild, path, violations)
	}
}

func formatViolations(violations []string) string {
	return strings.Join(violations, ", ")
}
