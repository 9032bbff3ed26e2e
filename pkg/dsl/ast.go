// Package dsl parses and executes connector rule definitions: a restricted
// scripting language with FOR loops, IF blocks, assignments, error
// signaling and one action-call construct. Parsing produces an explicit
// statement AST; execution runs against a mutable context and yields a
// RuleExecutionResult.
package dsl

import "github.com/weftworks/weft/pkg/models"

// Statement is one parsed rule statement.
type Statement interface {
	stmt()
}

// Assign sets a context variable: `assign name = expression`. Targets
// starting with "$" are temporary (context-only); inside a document loop
// the target "@doc.field" mutates the current document entry.
type Assign struct {
	Target string
	Expr   string
}

// ErrorStmt appends a message to the rule's errors: `error "message"`.
type ErrorStmt struct {
	Message string
}

// Condition is a single binary comparison or null check. Op is one of
// ==, !=, <, >, <=, >= or "is_null" (Right unused).
type Condition struct {
	Left  string
	Op    string
	Right string
}

// IfBlock executes its body when the condition holds:
// `if (a == b) { ... }`. No else branch; branching lives in the flow graph.
type IfBlock struct {
	Cond Condition
	Body []Statement
}

// ForLoop iterates a collection: `for (v in {{items}}) { ... }`. The loop
// variable is bound per iteration only. Control flow does not nest: the
// body holds assignments and error statements.
type ForLoop struct {
	Var        string
	Collection string
	Body       []Statement
}

// ActionCall invokes a connector action:
// `call action "A" from connector "C" with { ... } map response { ... }`.
// RawParams keeps the parameter block verbatim; it is resolved against the
// context at execution time.
type ActionCall struct {
	ActionName    string
	ConnectorName string
	RawParams     string
	Mappings      []models.ResponseMapping
}

func (Assign) stmt()     {}
func (ErrorStmt) stmt()  {}
func (IfBlock) stmt()    {}
func (ForLoop) stmt()    {}
func (ActionCall) stmt() {}
