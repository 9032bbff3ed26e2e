package dsl

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/weftworks/weft/pkg/connector"
	"github.com/weftworks/weft/pkg/expr"
)

// ParseParams resolves and parses the raw `with { ... }` block of an action
// call. Resolution happens in three passes: "{{path}}" references are
// substituted textually with their JSON encoding, unquoted keys are
// normalized to quoted JSON keys, then the block is parsed as JSON and
// {type: "variable"} reference objects are resolved against the context.
func ParseParams(raw string, context map[string]any) (connector.CallParams, error) {
	if strings.TrimSpace(raw) == "" {
		return connector.CallParams{}, nil
	}

	text := substituteTemplates(raw, context)
	text = quoteKeys(text)

	var parsed map[string]any
	if err := json.Unmarshal([]byte("{"+text+"}"), &parsed); err != nil {
		return connector.CallParams{}, fmt.Errorf("malformed parameter block: %w", err)
	}

	params := connector.CallParams{}

	for key, value := range parsed {
		switch key {
		case "path_params":
			params.Path = resolveSection(value, context)
		case "query_params":
			params.Query = resolveSection(value, context)
		case "headers":
			params.Headers = resolveSection(value, context)
		case "body_params":
			params.Body = resolveSection(value, context)
		case "body", "request_body":
			params.RawBody = expr.ResolveRef(value, context)
		default:
			if params.Flat == nil {
				params.Flat = make(map[string]any)
			}

			params.Flat[key] = expr.ResolveRef(value, context)
		}
	}

	return params, nil
}

func resolveSection(value any, context map[string]any) map[string]any {
	section, ok := value.(map[string]any)
	if !ok {
		return nil
	}

	resolved := make(map[string]any, len(section))
	for name, entry := range section {
		resolved[name] = expr.ResolveRef(entry, context)
	}

	return resolved
}

// substituteTemplates replaces every "{{path}}" occurrence with the JSON
// encoding of its resolved value, so the block parses as JSON afterwards.
// Unresolved references encode as null.
func substituteTemplates(text string, context map[string]any) string {
	var out strings.Builder

	for {
		start := strings.Index(text, "{{")
		if start < 0 {
			out.WriteString(text)

			break
		}

		end := strings.Index(text[start:], "}}")
		if end < 0 {
			out.WriteString(text)

			break
		}

		end += start

		out.WriteString(text[:start])

		path := strings.TrimSpace(text[start+2 : end])
		value := expr.Resolve(path, context)

		encoded, err := json.Marshal(value)
		if err != nil {
			encoded = []byte("null")
		}

		out.Write(encoded)

		text = text[end+2:]
	}

	return out.String()
}

// quoteKeys normalizes unquoted object keys to quoted JSON keys. Keys may
// contain dots ("document.name") and the @/$ prefixes.
func quoteKeys(text string) string {
	var out strings.Builder

	runes := []rune(text)
	i := 0

	for i < len(runes) {
		r := runes[i]

		if r == '"' || r == '\'' {
			j := i + 1
			for j < len(runes) && runes[j] != r {
				j++
			}

			if j < len(runes) {
				j++
			}

			segment := string(runes[i:j])
			if r == '\'' {
				segment = `"` + strings.ReplaceAll(segment[1:len(segment)-1], `"`, `\"`) + `"`
			}

			out.WriteString(segment)
			i = j

			continue
		}

		if isKeyStart(r) {
			j := i
			for j < len(runes) && isKeyRune(runes[j]) {
				j++
			}

			k := j
			for k < len(runes) && unicode.IsSpace(runes[k]) {
				k++
			}

			word := string(runes[i:j])
			if k < len(runes) && runes[k] == ':' && !isJSONLiteral(word) {
				out.WriteString(`"` + word + `"`)
			} else {
				out.WriteString(word)
			}

			i = j

			continue
		}

		out.WriteRune(r)
		i++
	}

	return out.String()
}

func isKeyStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_' || r == '@' || r == '$'
}

func isKeyRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '@' || r == '$' || r == '-'
}

func isJSONLiteral(word string) bool {
	switch word {
	case "true", "false", "null":
		return true
	default:
		return false
	}
}
