package connector

import (
	"fmt"
	"strconv"
	"strings"
)

// SetPath writes value into target at a dot-separated path, creating
// intermediate maps as needed. "a.b.c" on an empty map yields
// {"a": {"b": {"c": value}}}.
func SetPath(target map[string]any, path string, value any) {
	segments := strings.Split(path, ".")
	current := target

	for _, segment := range segments[:len(segments)-1] {
		next, ok := current[segment].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[segment] = next
		}

		current = next
	}

	current[segments[len(segments)-1]] = value
}

// DeepCopyMap copies a JSON-shaped map so templates can be overlaid without
// mutating the stored definition.
func DeepCopyMap(source map[string]any) map[string]any {
	if source == nil {
		return nil
	}

	copied := make(map[string]any, len(source))
	for key, value := range source {
		copied[key] = deepCopyValue(value)
	}

	return copied
}

func deepCopyValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return DeepCopyMap(typed)
	case []any:
		copied := make([]any, len(typed))
		for i, item := range typed {
			copied[i] = deepCopyValue(item)
		}

		return copied
	default:
		return value
	}
}

// Stringify renders a parameter value for use in URLs and headers.
func Stringify(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(typed)
	default:
		return fmt.Sprintf("%v", typed)
	}
}
