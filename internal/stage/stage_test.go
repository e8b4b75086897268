package stage

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestContractsChainFields(t *testing.T) {
	table := Contracts()
	if len(table) != 4 {
		t.Fatalf("len(Contracts()) = %d, want 4", len(table))
	}
	if table[0].Input != FieldCode {
		t.Fatalf("first stage input = %q, want %q", table[0].Input, FieldCode)
	}
	for i := 1; i < len(table); i++ {
		if table[i].Input != table[i-1].Output {
			t.Fatalf("%s input %q does not match %s output %q", table[i].Stage, table[i].Input, table[i-1].Stage, table[i-1].Output)
		}
	}
	if last := table[len(table)-1]; last.Output != FieldCode {
		t.Fatalf("last stage output = %q, want %q", last.Output, FieldCode)
	}
}

func TestContractsOrderAndPaths(t *testing.T) {
	cases := []struct {
		name   Name
		input  Field
		output Field
		path   string
	}{
		{Lex, FieldCode, FieldTokens, "/lex"},
		{Parse, FieldTokens, FieldAST, "/parse"},
		{Semantic, FieldAST, FieldCheckedAST, "/semantic"},
		{Codegen, FieldCheckedAST, FieldCode, "/codegen"},
	}
	for i, tc := range cases {
		c, ok := Lookup(tc.name)
		if !ok {
			t.Fatalf("Lookup(%q) not found", tc.name)
		}
		if c.Input != tc.input || c.Output != tc.output || c.Path != tc.path {
			t.Fatalf("Lookup(%q) = %+v, want input=%q output=%q path=%q", tc.name, c, tc.input, tc.output, tc.path)
		}
		if got := Index(tc.name); got != i {
			t.Fatalf("Index(%q) = %d, want %d", tc.name, got, i)
		}
	}
	if _, ok := Lookup(Unified); ok {
		t.Fatalf("unified pseudo-stage must not be in the table")
	}
}

func TestContractsReturnsCopy(t *testing.T) {
	table := Contracts()
	table[0].Output = "mutated"
	c, _ := Lookup(Lex)
	if c.Output != FieldTokens {
		t.Fatalf("table mutated through Contracts(): %q", c.Output)
	}
}

func TestParseName(t *testing.T) {
	for _, in := range []string{"lex", " Parse ", "SEMANTIC", "codegen"} {
		if _, err := ParseName(in); err != nil {
			t.Fatalf("ParseName(%q) error: %v", in, err)
		}
	}
	for _, in := range []string{"", "compile", "link"} {
		if _, err := ParseName(in); err == nil {
			t.Fatalf("ParseName(%q) expected error", in)
		}
	}
}

func TestArtifactsPresence(t *testing.T) {
	a := Artifacts{
		FieldTokens:     json.RawMessage(`["1","+","1"]`),
		FieldAST:        json.RawMessage(`null`),
		FieldCheckedAST: json.RawMessage(`  `),
	}
	if !a.Has(FieldTokens) {
		t.Fatalf("tokens should be present")
	}
	if a.Has(FieldAST) {
		t.Fatalf("null ast should count as missing")
	}
	if a.Has(FieldCheckedAST) {
		t.Fatalf("blank checked_ast should count as missing")
	}
	if a.Has(FieldCode) {
		t.Fatalf("code should be missing")
	}
	var nilSet Artifacts
	if nilSet.Has(FieldCode) {
		t.Fatalf("nil set should have nothing")
	}
}

func TestSourceRoundTrip(t *testing.T) {
	src := "print(\"héllo\")\n\ttab"
	a, err := SourceArtifacts(src)
	if err != nil {
		t.Fatalf("SourceArtifacts: %v", err)
	}
	raw, ok := a.Get(FieldCode)
	if !ok {
		t.Fatalf("code missing")
	}
	got, err := DecodeCode(raw)
	if err != nil {
		t.Fatalf("DecodeCode: %v", err)
	}
	if got != src {
		t.Fatalf("DecodeCode = %q, want %q", got, src)
	}
	if _, err := DecodeCode(json.RawMessage(`{"x":1}`)); err == nil {
		t.Fatalf("DecodeCode(object) expected error")
	}
}

func TestEncodeSourceRejectsInvalidUTF8(t *testing.T) {
	for _, src := range []string{"x\xff", "\xc3", "ok\x80ok"} {
		raw, err := EncodeSource(src)
		if !errors.Is(err, ErrInvalidUTF8) {
			t.Fatalf("EncodeSource(%q) = %s, %v; want ErrInvalidUTF8", src, raw, err)
		}
		if _, err := SourceArtifacts(src); !errors.Is(err, ErrInvalidUTF8) {
			t.Fatalf("SourceArtifacts(%q) err = %v, want ErrInvalidUTF8", src, err)
		}
	}
}

func TestDecodeServiceError(t *testing.T) {
	body := []byte(`{"error":"Parse error: Unexpected token","error_type":"parse_error","details":"Error occurred during syntax analysis","suggestions":["Check the syntax near the highlighted token"]}`)
	se := DecodeServiceError(body)
	if se == nil {
		t.Fatalf("DecodeServiceError returned nil")
	}
	if se.Type != "parse_error" || len(se.Suggestions) != 1 {
		t.Fatalf("DecodeServiceError = %+v", se)
	}
	if DecodeServiceError([]byte("Bad Gateway")) != nil {
		t.Fatalf("plain text body should not decode")
	}
	if DecodeServiceError([]byte(`{"tokens":[]}`)) != nil {
		t.Fatalf("unrelated object should not decode")
	}
}

func TestFailedStage(t *testing.T) {
	base := &TransportError{Stage: Semantic, URL: "http://x/semantic", Err: errors.New("connection refused")}
	wrapped := fmt.Errorf("run: %w", base)
	name, ok := FailedStage(wrapped)
	if !ok || name != Semantic {
		t.Fatalf("FailedStage = %q, %v; want semantic, true", name, ok)
	}
	if _, ok := FailedStage(errors.New("plain")); ok {
		t.Fatalf("plain error should not name a stage")
	}
	var te *TransportError
	if !errors.As(wrapped, &te) {
		t.Fatalf("errors.As did not find TransportError")
	}
}

func TestErrorMessages(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&InvalidStageRequestError{Stage: Parse, Missing: FieldTokens}, `parse: missing required artifact "tokens"`},
		{&MalformedResponseError{Stage: Lex, URL: "u", Field: FieldTokens}, `lex: response from u is missing "tokens"`},
		{&StageRejectedError{Stage: Codegen, Status: 400, Body: []byte("bad")}, "codegen: stage rejected request with status 400: bad"},
		{&StageRejectedError{Stage: Codegen, Status: 400, Service: &ServiceError{Message: "Code generation error: x"}}, "codegen: stage rejected request with status 400: Code generation error: x"},
	}
	for _, tc := range cases {
		if got := tc.err.Error(); got != tc.want {
			t.Fatalf("Error() = %q, want %q", got, tc.want)
		}
	}
}
