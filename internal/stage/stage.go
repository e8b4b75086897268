// Package stage holds the wire contracts of the four compilation stages and
// the errors produced while exchanging artifacts with them.
//
// The contract table is the only place that knows which field a stage reads
// and which field it writes. The coordinator and the single-stage runner both
// consult it; neither hardcodes a field name.
package stage

import (
	"fmt"
	"strings"
)

// Name identifies a compilation stage.
type Name string

const (
	// Lex is lexical analysis.
	Lex Name = "lex"
	// Parse builds the AST from tokens.
	Parse Name = "parse"
	// Semantic checks and annotates the AST.
	Semantic Name = "semantic"
	// Codegen produces the target program text.
	Codegen Name = "codegen"
	// Unified names the single endpoint that performs all four stages at once.
	// It is not part of the contract table.
	Unified Name = "compile"
)

// Field is a JSON member name carried in a stage request or response.
type Field string

const (
	// FieldCode carries source text into lex and generated code out of codegen.
	FieldCode Field = "code"
	// FieldTokens carries the token stream.
	FieldTokens Field = "tokens"
	// FieldAST carries the parsed tree.
	FieldAST Field = "ast"
	// FieldCheckedAST carries the checked tree.
	FieldCheckedAST Field = "checked_ast"
)

// Contract describes one row of the stage table.
type Contract struct {
	Stage  Name
	Input  Field
	Output Field
	Path   string
}

// UnifiedPath is the route of the unified compile endpoint.
const UnifiedPath = "/compile"

var contracts = [...]Contract{
	{Stage: Lex, Input: FieldCode, Output: FieldTokens, Path: "/lex"},
	{Stage: Parse, Input: FieldTokens, Output: FieldAST, Path: "/parse"},
	{Stage: Semantic, Input: FieldAST, Output: FieldCheckedAST, Path: "/semantic"},
	{Stage: Codegen, Input: FieldCheckedAST, Output: FieldCode, Path: "/codegen"},
}

// Contracts returns the stage table in execution order.
// The returned slice is a copy.
func Contracts() []Contract {
	out := make([]Contract, len(contracts))
	copy(out, contracts[:])
	return out
}

// Names returns stage names in execution order.
func Names() []Name {
	out := make([]Name, len(contracts))
	for i, c := range contracts {
		out[i] = c.Stage
	}
	return out
}

// Lookup returns the contract for name.
func Lookup(name Name) (Contract, bool) {
	for _, c := range contracts {
		if c.Stage == name {
			return c, true
		}
	}
	return Contract{}, false
}

// Index returns the position of name in the execution order, or -1.
func Index(name Name) int {
	for i, c := range contracts {
		if c.Stage == name {
			return i
		}
	}
	return -1
}

// ParseName converts user input into a stage name.
func ParseName(s string) (Name, error) {
	name := Name(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := Lookup(name); ok {
		return name, nil
	}
	return "", fmt.Errorf("unknown stage %q (expected: lex|parse|semantic|codegen)", s)
}

// UnifiedOutputs lists the members a unified response must carry.
func UnifiedOutputs() []Field {
	return []Field{FieldTokens, FieldAST, FieldCheckedAST, FieldCode}
}
