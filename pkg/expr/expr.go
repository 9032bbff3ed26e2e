// Package expr resolves variable references against a mutable execution
// context: dotted paths, "{{path}}" templates, "@event." rewrites and
// {type: "variable"} reference objects.
package expr

import (
	"strconv"
	"strings"
)

// TempPrefix marks context keys that are never persisted back to durable
// workflow storage.
const TempPrefix = "$"

// NormalizePath strips a leading "@" and rewrites "@event." references onto
// the "trigger" sub-tree of the context.
func NormalizePath(path string) string {
	if !strings.HasPrefix(path, "@") {
		return path
	}

	path = path[1:]
	if path == "event" {
		return "trigger"
	}

	if after, ok := strings.CutPrefix(path, "event."); ok {
		return "trigger." + after
	}

	return path
}

// Resolve walks a dot-separated path through the context. Each segment
// indexes a map by key or a list by integer index. Any missing key, wrong
// container shape or out-of-range index yields nil, never an error:
// consumers treat nil as "unresolved".
func Resolve(path string, context map[string]any) any {
	path = NormalizePath(path)
	if path == "" {
		return nil
	}

	var current any = context

	for _, segment := range strings.Split(path, ".") {
		switch value := current.(type) {
		case map[string]any:
			next, ok := value[segment]
			if !ok {
				return nil
			}

			current = next
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(value) {
				return nil
			}

			current = value[index]
		default:
			return nil
		}
	}

	return current
}

// IsTemplate reports whether s is an exact "{{path}}" reference. A path
// embedded inside a larger string is not a template.
func IsTemplate(s string) bool {
	s = strings.TrimSpace(s)

	return strings.HasPrefix(s, "{{") && strings.HasSuffix(s, "}}") &&
		!strings.Contains(s[2:len(s)-2], "{{")
}

// TemplatePath extracts the inner path of an exact "{{path}}" reference.
func TemplatePath(s string) string {
	s = strings.TrimSpace(s)

	return strings.TrimSpace(s[2 : len(s)-2])
}

// ResolveTemplate resolves an exact "{{path}}" string to the raw context
// value, preserving its type. Any other string is returned unchanged.
func ResolveTemplate(s string, context map[string]any) any {
	if !IsTemplate(s) {
		return s
	}

	return Resolve(TemplatePath(s), context)
}

// ResolveRef resolves a parameter value that may be a reference object of
// the form {"type": "variable", "value": "@event.field"}, an exact
// "{{path}}" string, or a plain literal.
func ResolveRef(value any, context map[string]any) any {
	switch typed := value.(type) {
	case map[string]any:
		if typed["type"] == "variable" {
			ref, _ := typed["value"].(string)
			if IsTemplate(ref) {
				return Resolve(TemplatePath(ref), context)
			}

			return Resolve(ref, context)
		}

		resolved := make(map[string]any, len(typed))
		for key, nested := range typed {
			resolved[key] = ResolveRef(nested, context)
		}

		return resolved
	case []any:
		resolved := make([]any, len(typed))
		for i, nested := range typed {
			resolved[i] = ResolveRef(nested, context)
		}

		return resolved
	case string:
		return ResolveTemplate(typed, context)
	default:
		return value
	}
}
