package dsl

import (
	"strconv"
	"strings"

	"github.com/weftworks/weft/pkg/expr"
	"github.com/weftworks/weft/pkg/models"
)

// ApplyMappings applies response mappings against a response body, mutating
// the context and returning the persisted assignments. Targets:
// "@doc.field" broadcast-assigns to every entry of the context's documents
// list, "$name" updates the context only, a plain name does both. A missing
// source value is a no-op: the target is left untouched.
//
// The async completion hook reuses this to land deferred results in the
// originating context.
func ApplyMappings(mappings []models.ResponseMapping, body, context map[string]any) map[string]any {
	assignments := make(map[string]any)

	for _, mapping := range mappings {
		value := expr.Resolve(mapping.Source, body)
		if value == nil {
			continue
		}

		applyTarget(mapping.Target, value, context, assignments)
	}

	return assignments
}

func applyTarget(target string, value any, context, assignments map[string]any) {
	switch {
	case strings.HasPrefix(target, "@doc."):
		field := strings.TrimPrefix(target, "@doc.")

		documents, _ := context["documents"].([]any)
		for i, entry := range documents {
			document, ok := entry.(map[string]any)
			if !ok {
				continue
			}

			document[field] = value
			assignments[documentKey(i, field)] = value
		}
	case strings.HasPrefix(target, expr.TempPrefix):
		context[target] = value
	default:
		context[target] = value
		assignments[target] = value
	}
}

func documentKey(index int, field string) string {
	return "documents[" + strconv.Itoa(index) + "]." + field
}
