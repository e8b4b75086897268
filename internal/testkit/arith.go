package testkit

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"unicode"

	"kururi/internal/stage"
)

// ArithRoutes serves a tiny integer-expression compiler on all five routes.
// "1+1" lexes to ["1","+","1"], parses to {"op":"+","l":1,"r":1}, checks to
// the same tree with "type":"int" and generates "print(2)". Failures answer
// 400 with a service error document.
func ArithRoutes() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"/lex":      arithHandler(stage.FieldCode, stage.FieldTokens, arithLex),
		"/parse":    arithHandler(stage.FieldTokens, stage.FieldAST, arithParse),
		"/semantic": arithHandler(stage.FieldAST, stage.FieldCheckedAST, arithCheck),
		"/codegen":  arithHandler(stage.FieldCheckedAST, stage.FieldCode, arithGen),
		"/compile":  arithCompile,
	}
}

type arithError struct {
	kind string
	msg  string
}

func (e *arithError) Error() string { return e.msg }

type arithStep func(json.RawMessage) (any, error)

func arithHandler(in, out stage.Field, step arithStep) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := decodeRequest(w, r)
		if !ok {
			return
		}
		raw, ok := req[string(in)]
		if !ok {
			writeJSON(w, http.StatusBadRequest, stage.ServiceError{Message: fmt.Sprintf("missing field %q", in), Type: "internal_error"})
			return
		}
		v, err := step(raw)
		if err != nil {
			writeArithError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{string(out): v})
	}
}

func arithCompile(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	resp := make(map[string]any, 4)
	current := req[string(stage.FieldCode)]
	steps := []struct {
		out  stage.Field
		step arithStep
	}{
		{stage.FieldTokens, arithLex},
		{stage.FieldAST, arithParse},
		{stage.FieldCheckedAST, arithCheck},
		{stage.FieldCode, arithGen},
	}
	for _, s := range steps {
		v, err := s.step(current)
		if err != nil {
			writeArithError(w, err)
			return
		}
		resp[string(s.out)] = v
		current, err = json.Marshal(v)
		if err != nil {
			writeArithError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (map[string]json.RawMessage, bool) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	var req map[string]json.RawMessage
	if err := json.Unmarshal(data, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return req, true
}

func writeArithError(w http.ResponseWriter, err error) {
	kind := "internal_error"
	if ae, ok := err.(*arithError); ok {
		kind = ae.kind
	}
	writeJSON(w, http.StatusBadRequest, stage.ServiceError{
		Message:     err.Error(),
		Type:        kind,
		Suggestions: []string{"Check the syntax of your Kururi code"},
	})
}

func arithLex(raw json.RawMessage) (any, error) {
	var src string
	if err := json.Unmarshal(raw, &src); err != nil {
		return nil, &arithError{kind: "lexical_error", msg: "code must be a string"}
	}
	tokens := []string{}
	runes := []rune(src)
	for i := 0; i < len(runes); {
		ch := runes[i]
		switch {
		case unicode.IsSpace(ch):
			i++
		case unicode.IsDigit(ch):
			j := i
			for j < len(runes) && unicode.IsDigit(runes[j]) {
				j++
			}
			tokens = append(tokens, string(runes[i:j]))
			i = j
		case ch == '+' || ch == '-' || ch == '*':
			tokens = append(tokens, string(ch))
			i++
		default:
			return nil, &arithError{kind: "lexical_error", msg: fmt.Sprintf("Lexical analysis error: Unexpected character %q", ch)}
		}
	}
	return tokens, nil
}

type arithParser struct {
	tokens []string
	pos    int
}

func arithParse(raw json.RawMessage) (any, error) {
	var tokens []string
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, &arithError{kind: "parse_error", msg: "tokens must be an array of strings"}
	}
	p := &arithParser{tokens: tokens}
	node, err := p.expr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, &arithError{kind: "parse_error", msg: fmt.Sprintf("Parse error: Unexpected token %q", p.tokens[p.pos])}
	}
	return node, nil
}

func (p *arithParser) expr() (any, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for p.pos < len(p.tokens) && (p.tokens[p.pos] == "+" || p.tokens[p.pos] == "-") {
		op := p.tokens[p.pos]
		p.pos++
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = map[string]any{"op": op, "l": left, "r": right}
	}
	return left, nil
}

func (p *arithParser) term() (any, error) {
	left, err := p.number()
	if err != nil {
		return nil, err
	}
	for p.pos < len(p.tokens) && p.tokens[p.pos] == "*" {
		p.pos++
		right, err := p.number()
		if err != nil {
			return nil, err
		}
		left = map[string]any{"op": "*", "l": left, "r": right}
	}
	return left, nil
}

func (p *arithParser) number() (any, error) {
	if p.pos >= len(p.tokens) {
		return nil, &arithError{kind: "parse_error", msg: "Parse error: Unexpected end of input"}
	}
	tok := p.tokens[p.pos]
	n, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return nil, &arithError{kind: "parse_error", msg: fmt.Sprintf("Parse error: Unexpected token %q", tok)}
	}
	p.pos++
	return n, nil
}

func arithCheck(raw json.RawMessage) (any, error) {
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, &arithError{kind: "semantic_error", msg: "ast is not valid JSON"}
	}
	return annotate(tree)
}

func annotate(node any) (any, error) {
	switch n := node.(type) {
	case float64:
		return n, nil
	case map[string]any:
		op, _ := n["op"].(string)
		if op != "+" && op != "-" && op != "*" {
			return nil, &arithError{kind: "semantic_error", msg: fmt.Sprintf("Semantic analysis error: unknown operator %v", n["op"])}
		}
		l, err := annotate(n["l"])
		if err != nil {
			return nil, err
		}
		r, err := annotate(n["r"])
		if err != nil {
			return nil, err
		}
		return map[string]any{"op": op, "l": l, "r": r, "type": "int"}, nil
	default:
		return nil, &arithError{kind: "semantic_error", msg: fmt.Sprintf("Semantic analysis error: Type mismatch at %v", node)}
	}
}

func arithGen(raw json.RawMessage) (any, error) {
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, &arithError{kind: "codegen_error", msg: "checked_ast is not valid JSON"}
	}
	v, err := evaluate(tree)
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("print(%d)", v), nil
}

func evaluate(node any) (int64, error) {
	switch n := node.(type) {
	case float64:
		return int64(n), nil
	case map[string]any:
		if n["type"] != "int" {
			return 0, &arithError{kind: "codegen_error", msg: "Code generation error: unchecked node"}
		}
		l, err := evaluate(n["l"])
		if err != nil {
			return 0, err
		}
		r, err := evaluate(n["r"])
		if err != nil {
			return 0, err
		}
		switch n["op"] {
		case "+":
			return l + r, nil
		case "-":
			return l - r, nil
		case "*":
			return l * r, nil
		}
	}
	return 0, &arithError{kind: "codegen_error", msg: fmt.Sprintf("Code generation error: unexpected node %v", node)}
}
