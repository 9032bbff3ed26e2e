package dsl

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/weftworks/weft/pkg/models"
)

// Parse turns a rule definition into a statement list. Malformed statements
// are reported as errors and skipped; well-formed siblings still parse, so
// a partially broken rule can still apply its valid statements.
func Parse(rule string) ([]Statement, []string) {
	p := &parser{src: []rune(rule)}

	var statements []Statement

	for {
		p.skipSpace()

		if p.atEnd() {
			break
		}

		if statement, ok := p.parseStatement(); ok {
			statements = append(statements, statement)
		}
	}

	return statements, p.errs
}

type parser struct {
	src  []rune
	pos  int
	errs []string
}

func (p *parser) parseStatement() (Statement, bool) {
	switch word := p.peekWord(); word {
	case "for":
		return p.parseFor()
	case "if":
		return p.parseIf()
	case "assign":
		return p.parseAssign()
	case "error":
		return p.parseError()
	case "call":
		return p.parseCall()
	default:
		line := p.skipLine()
		p.errorf("unrecognized statement: %q", line)

		return nil, false
	}
}

func (p *parser) parseFor() (Statement, bool) {
	p.readWord() // for

	if !p.expect('(') {
		p.skipLine()

		return nil, false
	}

	p.skipSpace()
	loopVar := p.readTarget()

	p.skipSpace()

	if p.readWord() != "in" {
		p.errorf("for loop: expected 'in' after loop variable %q", loopVar)
		p.skipBalanced('(', ')')
		p.skipBlock()

		return nil, false
	}

	collection := strings.TrimSpace(p.readUntil(')'))
	if !p.expect(')') {
		return nil, false
	}

	body, ok := p.parseBody()
	if !ok {
		return nil, false
	}

	if loopVar == "" || collection == "" {
		p.errorf("for loop: missing loop variable or collection")

		return nil, false
	}

	return ForLoop{Var: loopVar, Collection: collection, Body: body}, true
}

func (p *parser) parseIf() (Statement, bool) {
	p.readWord() // if

	p.skipSpace()

	if !p.expect('(') {
		p.skipLine()

		return nil, false
	}

	condText := strings.TrimSpace(p.readBalanced('(', ')'))

	cond, err := parseCondition(condText)
	if err != nil {
		p.errorf("if block: %v", err)
		p.skipBlock()

		return nil, false
	}

	body, ok := p.parseBody()
	if !ok {
		return nil, false
	}

	return IfBlock{Cond: cond, Body: body}, true
}

func (p *parser) parseAssign() (Statement, bool) {
	p.readWord() // assign

	p.skipSpace()
	target := p.readTarget()
	p.skipSpace()

	if !p.expect('=') {
		p.skipLine()

		return nil, false
	}

	exprText := strings.TrimSpace(p.readExpr())
	if target == "" || exprText == "" {
		p.errorf("assign: missing target or expression")

		return nil, false
	}

	return Assign{Target: target, Expr: exprText}, true
}

func (p *parser) parseError() (Statement, bool) {
	p.readWord() // error

	p.skipSpace()

	message, ok := p.readQuoted()
	if !ok {
		p.errorf("error statement: expected quoted message")
		p.skipLine()

		return nil, false
	}

	return ErrorStmt{Message: message}, true
}

func (p *parser) parseCall() (Statement, bool) {
	p.readWord() // call

	if !p.expectWord("action") {
		p.skipLine()

		return nil, false
	}

	actionName, ok := p.readQuotedAfterSpace()
	if !ok {
		p.errorf("call: expected quoted action name")
		p.skipLine()

		return nil, false
	}

	if !p.expectWord("from") || !p.expectWord("connector") {
		p.skipLine()

		return nil, false
	}

	connectorName, ok := p.readQuotedAfterSpace()
	if !ok {
		p.errorf("call: expected quoted connector name")
		p.skipLine()

		return nil, false
	}

	call := ActionCall{ActionName: actionName, ConnectorName: connectorName}

	p.skipSpace()

	if p.peekWord() == "with" {
		p.readWord()
		p.skipSpace()

		if !p.expect('{') {
			p.skipLine()

			return nil, false
		}

		call.RawParams = strings.TrimSpace(p.readBalanced('{', '}'))
	}

	p.skipSpace()

	if p.peekWord() == "map" {
		p.readWord()

		if !p.expectWord("response") {
			p.skipLine()

			return nil, false
		}

		p.skipSpace()

		if !p.expect('{') {
			p.skipLine()

			return nil, false
		}

		raw := p.readBalanced('{', '}')

		mappings, err := parseMappings(raw)
		if err != nil {
			p.errorf("call: %v", err)

			return nil, false
		}

		call.Mappings = mappings
	}

	return call, true
}

// parseBody reads the { ... } body of a for/if statement. Control flow does
// not nest: a for or if inside a body is a parse error and the construct is
// skipped.
func (p *parser) parseBody() ([]Statement, bool) {
	p.skipSpace()

	if !p.expect('{') {
		return nil, false
	}

	var body []Statement

	for {
		p.skipSpace()

		if p.atEnd() {
			p.errorf("unterminated block")

			return nil, false
		}

		if p.peek() == '}' {
			p.pos++

			return body, true
		}

		switch word := p.peekWord(); word {
		case "assign":
			if statement, ok := p.parseAssign(); ok {
				body = append(body, statement)
			}
		case "error":
			if statement, ok := p.parseError(); ok {
				body = append(body, statement)
			}
		case "for", "if":
			p.errorf("nested control flow is not supported (%s inside a block)", word)
			p.skipNestedConstruct()
		default:
			line := p.skipLineInBlock()
			p.errorf("unrecognized statement in block: %q", line)
		}
	}
}

func parseCondition(text string) (Condition, error) {
	if inner, ok := strings.CutPrefix(text, "is_null("); ok {
		inner = strings.TrimSuffix(inner, ")")

		return Condition{Left: strings.TrimSpace(inner), Op: "is_null"}, nil
	}

	for _, op := range []string{"==", "!=", "<=", ">=", "<", ">"} {
		if index := indexOutsideQuotes(text, op); index >= 0 {
			left := strings.TrimSpace(text[:index])
			right := strings.TrimSpace(text[index+len(op):])

			if left == "" || right == "" {
				return Condition{}, fmt.Errorf("incomplete condition %q", text)
			}

			return Condition{Left: left, Op: op, Right: right}, nil
		}
	}

	return Condition{}, fmt.Errorf("no comparison operator in condition %q", text)
}

// parseMappings parses a `"source.path" to target, ...` block.
func parseMappings(raw string) ([]models.ResponseMapping, error) {
	var mappings []models.ResponseMapping

	for _, part := range splitOutsideQuotes(raw, ',') {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		mp := &parser{src: []rune(part)}

		source, ok := mp.readQuoted()
		if !ok {
			return nil, fmt.Errorf("mapping %q: expected quoted source path", part)
		}

		if !mp.expectWord("to") {
			return nil, fmt.Errorf("mapping %q: expected 'to'", part)
		}

		mp.skipSpace()

		target, quoted := mp.readQuoted()
		if !quoted {
			target = strings.TrimSpace(string(mp.src[mp.pos:]))
		}

		if target == "" {
			return nil, fmt.Errorf("mapping %q: missing target", part)
		}

		mappings = append(mappings, models.ResponseMapping{Source: source, Target: target})
	}

	return mappings, nil
}

// scanner primitives

func (p *parser) atEnd() bool { return p.pos >= len(p.src) }

func (p *parser) peek() rune {
	if p.atEnd() {
		return 0
	}

	return p.src[p.pos]
}

func (p *parser) errorf(format string, args ...any) {
	p.errs = append(p.errs, fmt.Sprintf(format, args...))
}

// skipSpace consumes whitespace and // comments.
func (p *parser) skipSpace() {
	for !p.atEnd() {
		r := p.src[p.pos]

		switch {
		case unicode.IsSpace(r):
			p.pos++
		case r == '/' && p.pos+1 < len(p.src) && p.src[p.pos+1] == '/':
			for !p.atEnd() && p.src[p.pos] != '\n' {
				p.pos++
			}
		default:
			return
		}
	}
}

func (p *parser) peekWord() string {
	save := p.pos
	word := p.readWord()
	p.pos = save

	return word
}

func (p *parser) readWord() string {
	p.skipSpace()

	start := p.pos
	for !p.atEnd() && (unicode.IsLetter(p.src[p.pos]) || p.src[p.pos] == '_') {
		p.pos++
	}

	return string(p.src[start:p.pos])
}

// readTarget reads an assignment target or loop variable: letters, digits,
// underscores, dots and the @/$ prefixes.
func (p *parser) readTarget() string {
	start := p.pos

	for !p.atEnd() {
		r := p.src[p.pos]
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '@' || r == '$' {
			p.pos++

			continue
		}

		break
	}

	return string(p.src[start:p.pos])
}

func (p *parser) expect(r rune) bool {
	p.skipSpace()

	if p.peek() != r {
		p.errorf("expected %q at offset %d", string(r), p.pos)

		return false
	}

	p.pos++

	return true
}

func (p *parser) expectWord(word string) bool {
	if got := p.readWord(); got != word {
		p.errorf("expected %q, got %q", word, got)

		return false
	}

	return true
}

func (p *parser) readQuoted() (string, bool) {
	p.skipSpace()

	quote := p.peek()
	if quote != '"' && quote != '\'' {
		return "", false
	}

	p.pos++
	start := p.pos

	for !p.atEnd() && p.src[p.pos] != quote {
		p.pos++
	}

	if p.atEnd() {
		return "", false
	}

	value := string(p.src[start:p.pos])
	p.pos++

	return value, true
}

func (p *parser) readQuotedAfterSpace() (string, bool) {
	p.skipSpace()

	return p.readQuoted()
}

// readUntil reads up to (not including) the stop rune, skipping over quoted
// strings.
func (p *parser) readUntil(stop rune) string {
	start := p.pos

	for !p.atEnd() {
		r := p.src[p.pos]
		if r == stop {
			break
		}

		if r == '"' || r == '\'' {
			p.skipQuoted(r)

			continue
		}

		if r == '{' && p.nextIs('{') {
			p.skipTemplate()

			continue
		}

		p.pos++
	}

	return string(p.src[start:p.pos])
}

// readBalanced assumes the opening rune was already consumed and reads up to
// the matching closing rune, honoring nesting and quoted strings. The
// closing rune is consumed but not returned.
func (p *parser) readBalanced(open, close rune) string {
	start := p.pos
	depth := 1

	for !p.atEnd() {
		r := p.src[p.pos]

		switch {
		case r == '"' || r == '\'':
			p.skipQuoted(r)

			continue
		case r == open:
			depth++
		case r == close:
			depth--
			if depth == 0 {
				value := string(p.src[start:p.pos])
				p.pos++

				return value
			}
		}

		p.pos++
	}

	p.errorf("unterminated %q block", string(open))

	return string(p.src[start:])
}

func (p *parser) nextIs(r rune) bool {
	return p.pos+1 < len(p.src) && p.src[p.pos+1] == r
}

// skipTemplate consumes a {{...}} span whole, so the closing braces of a
// template never terminate the surrounding expression.
func (p *parser) skipTemplate() {
	p.pos += 2 // {{

	for !p.atEnd() {
		if p.src[p.pos] == '}' && p.nextIs('}') {
			p.pos += 2

			return
		}

		p.pos++
	}
}

func (p *parser) skipQuoted(quote rune) {
	p.pos++ // opening quote
	for !p.atEnd() && p.src[p.pos] != quote {
		p.pos++
	}

	if !p.atEnd() {
		p.pos++ // closing quote
	}
}

// readExpr reads an expression to the end of the line (or a top-level
// semicolon), honoring parentheses and quotes so concat(a, b) stays whole.
func (p *parser) readExpr() string {
	start := p.pos
	depth := 0

	for !p.atEnd() {
		r := p.src[p.pos]

		switch {
		case r == '"' || r == '\'':
			p.skipQuoted(r)

			continue
		case r == '{' && p.nextIs('{'):
			p.skipTemplate()

			continue
		case r == '(':
			depth++
		case r == ')':
			if depth == 0 {
				return string(p.src[start:p.pos])
			}

			depth--
		case r == '\n' && depth == 0:
			return string(p.src[start:p.pos])
		case r == ';' && depth == 0:
			value := string(p.src[start:p.pos])
			p.pos++

			return value
		case r == '}' && depth == 0:
			return string(p.src[start:p.pos])
		}

		p.pos++
	}

	return string(p.src[start:])
}

func (p *parser) skipLine() string {
	start := p.pos
	for !p.atEnd() && p.src[p.pos] != '\n' {
		p.pos++
	}

	return strings.TrimSpace(string(p.src[start:p.pos]))
}

func (p *parser) skipLineInBlock() string {
	start := p.pos

	for !p.atEnd() && p.src[p.pos] != '\n' && p.src[p.pos] != '}' {
		p.pos++
	}

	return strings.TrimSpace(string(p.src[start:p.pos]))
}

// skipBalanced consumes an optional open..close group used for error
// recovery.
func (p *parser) skipBalanced(open, close rune) {
	p.skipSpace()

	if p.peek() != open {
		return
	}

	p.pos++
	p.readBalanced(open, close)
}

func (p *parser) skipBlock() {
	p.skipBalanced('{', '}')
}

// skipNestedConstruct consumes a disallowed nested for/if so parsing can
// resume after it.
func (p *parser) skipNestedConstruct() {
	p.readWord()
	p.skipBalanced('(', ')')
	p.skipBlock()
}

func indexOutsideQuotes(text, needle string) int {
	inQuote := rune(0)

	for i := 0; i+len(needle) <= len(text); i++ {
		r := rune(text[i])

		if inQuote != 0 {
			if r == inQuote {
				inQuote = 0
			}

			continue
		}

		if r == '"' || r == '\'' {
			inQuote = r

			continue
		}

		if text[i:i+len(needle)] == needle {
			return i
		}
	}

	return -1
}

func splitOutsideQuotes(text string, sep rune) []string {
	var parts []string

	inQuote := rune(0)
	start := 0

	for i, r := range text {
		if inQuote != 0 {
			if r == inQuote {
				inQuote = 0
			}

			continue
		}

		switch r {
		case '"', '\'':
			inQuote = r
		case sep:
			parts = append(parts, text[start:i])
			start = i + 1
		}
	}

	return append(parts, text[start:])
}
