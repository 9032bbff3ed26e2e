// Package criteria evaluates the restricted boolean expressions used as
// success/failure criteria for asynchronous actions. The language supports
// "&&", "||", "==", "!=", parentheses, the literals null/true/false, string
// and number literals, and dotted field access resolved against a response
// body. Nothing else is reachable: there is no function call syntax and no
// access outside the supplied body.
package criteria

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/weftworks/weft/pkg/expr"
)

// Evaluate parses and evaluates one criteria expression against the response
// body. Callers must treat a returned error as "criteria not met", never as
// a fatal condition.
func Evaluate(expression string, body map[string]any) (bool, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return false, fmt.Errorf("empty criteria expression")
	}

	p := &parser{tokens: lex(expression)}

	result, err := p.parseOr(body)
	if err != nil {
		return false, err
	}

	if !p.atEnd() {
		return false, fmt.Errorf("unexpected token %q in criteria", p.peek().text)
	}

	return result, nil
}

type tokenKind int

const (
	tokenField tokenKind = iota
	tokenString
	tokenNumber
	tokenOp // == != && ||
	tokenLParen
	tokenRParen
	tokenEOF
	tokenInvalid
)

type token struct {
	kind tokenKind
	text string
}

func lex(input string) []token {
	var tokens []token

	runes := []rune(input)
	i := 0

	for i < len(runes) {
		r := runes[i]

		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{tokenLParen, "("})
			i++
		case r == ')':
			tokens = append(tokens, token{tokenRParen, ")"})
			i++
		case r == '\'' || r == '"':
			quote := r
			j := i + 1
			for j < len(runes) && runes[j] != quote {
				j++
			}

			if j >= len(runes) {
				tokens = append(tokens, token{tokenInvalid, string(runes[i:])})
				i = len(runes)

				break
			}

			tokens = append(tokens, token{tokenString, string(runes[i+1 : j])})
			i = j + 1
		case strings.ContainsRune("=!&|", r):
			if i+1 < len(runes) {
				pair := string(runes[i : i+2])
				if pair == "==" || pair == "!=" || pair == "&&" || pair == "||" {
					tokens = append(tokens, token{tokenOp, pair})
					i += 2

					continue
				}
			}

			tokens = append(tokens, token{tokenInvalid, string(r)})
			i++
		case unicode.IsDigit(r) || r == '-':
			j := i + 1
			for j < len(runes) && (unicode.IsDigit(runes[j]) || runes[j] == '.') {
				j++
			}

			tokens = append(tokens, token{tokenNumber, string(runes[i:j])})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_' || runes[j] == '.') {
				j++
			}

			tokens = append(tokens, token{tokenField, string(runes[i:j])})
			i = j
		default:
			tokens = append(tokens, token{tokenInvalid, string(r)})
			i++
		}
	}

	return append(tokens, token{tokenEOF, ""})
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token { return p.tokens[p.pos] }

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}

	return t
}

func (p *parser) atEnd() bool { return p.peek().kind == tokenEOF }

func (p *parser) parseOr(body map[string]any) (bool, error) {
	left, err := p.parseAnd(body)
	if err != nil {
		return false, err
	}

	for p.peek().kind == tokenOp && p.peek().text == "||" {
		p.next()

		right, err := p.parseAnd(body)
		if err != nil {
			return false, err
		}

		left = left || right
	}

	return left, nil
}

func (p *parser) parseAnd(body map[string]any) (bool, error) {
	left, err := p.parseComparison(body)
	if err != nil {
		return false, err
	}

	for p.peek().kind == tokenOp && p.peek().text == "&&" {
		p.next()

		right, err := p.parseComparison(body)
		if err != nil {
			return false, err
		}

		left = left && right
	}

	return left, nil
}

func (p *parser) parseComparison(body map[string]any) (bool, error) {
	if p.peek().kind == tokenLParen {
		p.next()

		inner, err := p.parseOr(body)
		if err != nil {
			return false, err
		}

		if p.peek().kind != tokenRParen {
			return false, fmt.Errorf("missing closing parenthesis")
		}

		p.next()

		return inner, nil
	}

	left, err := p.parseOperand(body)
	if err != nil {
		return false, err
	}

	op := p.peek()
	if op.kind != tokenOp || (op.text != "==" && op.text != "!=") {
		return truthy(left), nil
	}

	p.next()

	right, err := p.parseOperand(body)
	if err != nil {
		return false, err
	}

	equal := valuesEqual(left, right)
	if op.text == "!=" {
		return !equal, nil
	}

	return equal, nil
}

func (p *parser) parseOperand(body map[string]any) (any, error) {
	t := p.next()

	switch t.kind {
	case tokenString:
		return t.text, nil
	case tokenNumber:
		n, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.text)
		}

		return n, nil
	case tokenField:
		switch t.text {
		case "null":
			return nil, nil
		case "true":
			return true, nil
		case "false":
			return false, nil
		default:
			return expr.Resolve(t.text, body), nil
		}
	default:
		return nil, fmt.Errorf("unexpected token %q in criteria", t.text)
	}
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case int:
		return v != 0
	default:
		return true
	}
}

// valuesEqual compares loosely across JSON number representations so that
// `attempts == 3` matches a decoded float64(3).
func valuesEqual(left, right any) bool {
	if ln, ok := toFloat(left); ok {
		if rn, ok := toFloat(right); ok {
			return ln == rn
		}
	}

	return reflect.DeepEqual(left, right)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
