package buildpipeline

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"kururi/internal/config"
	"kururi/internal/stage"
	"kururi/internal/testkit"
)

func TestUnifiedSingleCall(t *testing.T) {
	srv := arithServer(t, nil)
	coord := newCoordinator(t, config.ModeUnified, srv, nil)

	res, err := coord.Compile(context.Background(), &CompileRequest{Source: "1+1"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if res.Code != "print(2)" {
		t.Fatalf("Code = %q, want print(2)", res.Code)
	}
	if diff := cmp.Diff([]string{"/compile"}, srv.Paths()); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
	body := srv.Calls()[0].Body
	if len(body) != 1 || string(body["code"]) != `"1+1"` {
		t.Fatalf("request body = %v, want only code", body)
	}
	for _, f := range []stage.Field{stage.FieldTokens, stage.FieldAST, stage.FieldCheckedAST} {
		if !res.Artifacts.Has(f) {
			t.Fatalf("artifacts missing %s", f)
		}
	}
	if res.Artifacts.Has(stage.FieldCode) {
		t.Fatalf("generated code leaked into artifacts")
	}
	if !res.Timings.Has(stage.Unified) {
		t.Fatalf("timings missing unified entry")
	}
}

func TestUnifiedPartialResponse(t *testing.T) {
	cases := []struct {
		name string
		body string
		want stage.Field
	}{
		{"no checked_ast", `{"tokens":[],"ast":{},"code":"x"}`, stage.FieldCheckedAST},
		{"no code", `{"tokens":[],"ast":{},"checked_ast":{}}`, stage.FieldCode},
		{"null code", `{"tokens":[],"ast":{},"checked_ast":{},"code":null}`, stage.FieldCode},
		{"empty", `{}`, stage.FieldTokens},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := arithServer(t, map[string]http.HandlerFunc{
				"/compile": testkit.Raw(http.StatusOK, tc.body),
			})
			coord := newCoordinator(t, config.ModeUnified, srv, nil)

			res, err := coord.Compile(context.Background(), &CompileRequest{Source: "1+1"})
			var malformed *stage.MalformedResponseError
			if !errors.As(err, &malformed) {
				t.Fatalf("err = %v, want MalformedResponseError", err)
			}
			if malformed.Stage != stage.Unified || malformed.Field != tc.want {
				t.Fatalf("malformed = %s/%s, want compile/%s", malformed.Stage, malformed.Field, tc.want)
			}
			if res.Code != "" || res.Artifacts != nil {
				t.Fatalf("partial result leaked: %+v", res)
			}
		})
	}
}

func TestUnifiedRejected(t *testing.T) {
	srv := arithServer(t, nil)
	coord := newCoordinator(t, config.ModeUnified, srv, nil)

	_, err := coord.RunPipeline(context.Background(), "1+")
	var rejected *stage.StageRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("err = %v, want StageRejectedError", err)
	}
	if rejected.Stage != stage.Unified {
		t.Fatalf("stage = %q, want compile", rejected.Stage)
	}
	if rejected.Service == nil || rejected.Service.Type != "parse_error" {
		t.Fatalf("service error = %+v, want parse_error", rejected.Service)
	}
}

func TestUnifiedProgressAndLogs(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	srv := arithServer(t, nil)
	coord := newCoordinator(t, config.ModeUnified, srv, zap.New(core))
	sink := &RecordingSink{}

	if _, err := coord.Compile(context.Background(), &CompileRequest{Source: "1+1", Progress: sink}); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := []progressStep{
		{stage.Unified, StatusQueued},
		{stage.Unified, StatusWorking},
		{stage.Unified, StatusDone},
	}
	if diff := cmp.Diff(want, steps(sink.Events())); diff != "" {
		t.Fatalf("progress mismatch (-want +got):\n%s", diff)
	}

	results := logs.FilterMessage("pipeline results").All()
	if len(results) != 1 {
		t.Fatalf("got %d result entries, want 1", len(results))
	}
	fields := results[0].ContextMap()
	if fields["code"] != "print(2)" {
		t.Fatalf("logged code = %v, want print(2)", fields["code"])
	}
	if fields["tokens"] != `["1","+","1"]` {
		t.Fatalf("logged tokens = %v", fields["tokens"])
	}
}
