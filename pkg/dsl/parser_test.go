package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftworks/weft/pkg/models"
)

func TestParseAssignAndError(t *testing.T) {
	statements, errs := Parse(`
		// set up defaults
		assign status = "pending"
		assign $attempt = 1
		error "document missing"
	`)
	require.Empty(t, errs)
	require.Len(t, statements, 3)

	assert.Equal(t, Assign{Target: "status", Expr: `"pending"`}, statements[0])
	assert.Equal(t, Assign{Target: "$attempt", Expr: "1"}, statements[1])
	assert.Equal(t, ErrorStmt{Message: "document missing"}, statements[2])
}

func TestParseAssignTemplateExpression(t *testing.T) {
	statements, errs := Parse(`
		assign name = {{customer.name}}
		assign greeting = concat("hi ", {{customer.name}})
	`)
	require.Empty(t, errs)
	require.Len(t, statements, 2)

	assert.Equal(t, Assign{Target: "name", Expr: "{{customer.name}}"}, statements[0])
	assert.Equal(t, Assign{Target: "greeting", Expr: `concat("hi ", {{customer.name}})`}, statements[1])
}

func TestParseAssignTemplateExpressionInBlock(t *testing.T) {
	statements, errs := Parse(`
		if ({{status}} == "open") {
			assign owner = {{customer.owner}}
		}
	`)
	require.Empty(t, errs)
	require.Len(t, statements, 1)

	block := statements[0].(IfBlock)
	require.Len(t, block.Body, 1)
	assert.Equal(t, Assign{Target: "owner", Expr: "{{customer.owner}}"}, block.Body[0])
}

func TestParseForLoop(t *testing.T) {
	statements, errs := Parse(`
		for (@doc in {{documents}}) {
			assign @doc.checked = true
			error "flagged"
		}
	`)
	require.Empty(t, errs)
	require.Len(t, statements, 1)

	loop, ok := statements[0].(ForLoop)
	require.True(t, ok)
	assert.Equal(t, "@doc", loop.Var)
	assert.Equal(t, "{{documents}}", loop.Collection)
	require.Len(t, loop.Body, 2)
	assert.Equal(t, Assign{Target: "@doc.checked", Expr: "true"}, loop.Body[0])
}

func TestParseIfBlock(t *testing.T) {
	statements, errs := Parse(`
		if ({{status}} == "open") {
			assign next = "close"
		}
		if (is_null({{owner}})) {
			error "no owner"
		}
	`)
	require.Empty(t, errs)
	require.Len(t, statements, 2)

	first := statements[0].(IfBlock)
	assert.Equal(t, Condition{Left: "{{status}}", Op: "==", Right: `"open"`}, first.Cond)

	second := statements[1].(IfBlock)
	assert.Equal(t, Condition{Left: "{{owner}}", Op: "is_null"}, second.Cond)
}

func TestParseActionCall(t *testing.T) {
	statements, errs := Parse(`
		call action "Get Document" from connector "X" with {
			"documentId": {{irn}},
			headers: { "X-Trace": "abc" }
		} map response {
			"data.document.name" to @doc.document_name,
			"data.document.id" to $docId,
			"data.status" to doc_status
		}
	`)
	require.Empty(t, errs)
	require.Len(t, statements, 1)

	call, ok := statements[0].(ActionCall)
	require.True(t, ok)
	assert.Equal(t, "Get Document", call.ActionName)
	assert.Equal(t, "X", call.ConnectorName)
	assert.Contains(t, call.RawParams, `"documentId": {{irn}}`)
	assert.Equal(t, []models.ResponseMapping{
		{Source: "data.document.name", Target: "@doc.document_name"},
		{Source: "data.document.id", Target: "$docId"},
		{Source: "data.status", Target: "doc_status"},
	}, call.Mappings)
}

func TestParseRejectsNestedControlFlow(t *testing.T) {
	statements, errs := Parse(`
		for (item in {{items}}) {
			if (item == 1) {
				assign x = 1
			}
			assign seen = true
		}
	`)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "nested control flow is not supported")

	// The surrounding loop still parses and keeps its valid statements.
	require.Len(t, statements, 1)
	loop := statements[0].(ForLoop)
	require.Len(t, loop.Body, 1)
	assert.Equal(t, Assign{Target: "seen", Expr: "true"}, loop.Body[0])
}

func TestParseUnrecognizedStatement(t *testing.T) {
	statements, errs := Parse(`
		frobnicate the document
		assign ok = true
	`)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "unrecognized statement")
	require.Len(t, statements, 1)
	assert.Equal(t, Assign{Target: "ok", Expr: "true"}, statements[0])
}
