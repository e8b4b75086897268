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
	"kururi/internal/transport"
)

func TestModesProduceSameCode(t *testing.T) {
	srv := arithServer(t, nil)
	unified := newCoordinator(t, config.ModeUnified, srv, nil)
	decomposed := newCoordinator(t, config.ModeDecomposed, srv, nil)

	cases := []struct {
		src  string
		want string
	}{
		{"1+1", "print(2)"},
		{"2*3+4", "print(10)"},
		{"7", "print(7)"},
		{" 10 - 4 * 2 ", "print(2)"},
	}
	for _, tc := range cases {
		u, err := unified.RunPipeline(context.Background(), tc.src)
		if err != nil {
			t.Fatalf("unified RunPipeline(%q): %v", tc.src, err)
		}
		d, err := decomposed.RunPipeline(context.Background(), tc.src)
		if err != nil {
			t.Fatalf("decomposed RunPipeline(%q): %v", tc.src, err)
		}
		if u != d {
			t.Fatalf("modes disagree on %q: unified %q, decomposed %q", tc.src, u, d)
		}
		if d != tc.want {
			t.Fatalf("RunPipeline(%q) = %q, want %q", tc.src, d, tc.want)
		}
	}
}

func TestDecomposedCallOrder(t *testing.T) {
	srv := arithServer(t, nil)
	coord := newCoordinator(t, config.ModeDecomposed, srv, nil)

	if _, err := coord.RunPipeline(context.Background(), "1+1"); err != nil {
		t.Fatalf("RunPipeline: %v", err)
	}
	want := []string{"/lex", "/parse", "/semantic", "/codegen"}
	if diff := cmp.Diff(want, srv.Paths()); diff != "" {
		t.Fatalf("call order mismatch (-want +got):\n%s", diff)
	}

	calls := srv.Calls()
	wantFields := []string{"code", "tokens", "ast", "checked_ast"}
	for i, call := range calls {
		if len(call.Body) != 1 {
			t.Fatalf("%s body has %d members, want 1", call.Path, len(call.Body))
		}
		if _, ok := call.Body[wantFields[i]]; !ok {
			t.Fatalf("%s body lacks %q: %v", call.Path, wantFields[i], call.Body)
		}
	}
	if got := string(calls[1].Body["tokens"]); got != `["1","+","1"]` {
		t.Fatalf("parse input = %s, want lex output", got)
	}
}

func TestDecomposedStopsAtRejectedStage(t *testing.T) {
	paths := []string{"/lex", "/parse", "/semantic", "/codegen"}
	for k, name := range stage.Names() {
		t.Run(string(name), func(t *testing.T) {
			srv := arithServer(t, map[string]http.HandlerFunc{
				paths[k]: testkit.Reject(http.StatusBadRequest, string(name)+"_error", "rejected by "+string(name)),
			})
			coord := newCoordinator(t, config.ModeDecomposed, srv, nil)

			res, err := coord.Compile(context.Background(), &CompileRequest{Source: "1+1"})
			var rejected *stage.StageRejectedError
			if !errors.As(err, &rejected) {
				t.Fatalf("err = %v, want StageRejectedError", err)
			}
			if rejected.Stage != name {
				t.Fatalf("rejected stage = %q, want %q", rejected.Stage, name)
			}
			if rejected.Status != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rejected.Status)
			}
			if rejected.Service == nil || rejected.Service.Message != "rejected by "+string(name) {
				t.Fatalf("service error = %+v", rejected.Service)
			}
			if diff := cmp.Diff(paths[:k+1], srv.Paths()); diff != "" {
				t.Fatalf("calls mismatch (-want +got):\n%s", diff)
			}
			if res.Code != "" || res.Artifacts != nil || res.Timings.Total() != 0 {
				t.Fatalf("failed run returned partial result %+v", res)
			}
		})
	}
}

func TestDecomposedTransportErrorNamesStage(t *testing.T) {
	srv := arithServer(t, nil)
	endpoints := sameEndpoints(srv.URL)
	endpoints.Semantic = testkit.RefusedURL()
	coord, err := NewDecomposed(Options{
		Endpoints: endpoints,
		Sender:    transport.New(transport.Options{HTTPClient: srv.Client()}),
	})
	if err != nil {
		t.Fatalf("NewDecomposed: %v", err)
	}

	_, err = coord.RunPipeline(context.Background(), "1+1")
	var terr *stage.TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want TransportError", err)
	}
	if terr.Stage != stage.Semantic {
		t.Fatalf("stage = %q, want semantic", terr.Stage)
	}
	if got, ok := stage.FailedStage(err); !ok || got != stage.Semantic {
		t.Fatalf("FailedStage = %q, %v", got, ok)
	}
	if diff := cmp.Diff([]string{"/lex", "/parse"}, srv.Paths()); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestDecomposedMissingOutput(t *testing.T) {
	srv := arithServer(t, map[string]http.HandlerFunc{
		"/parse": testkit.JSON(http.StatusOK, map[string]any{"tree": 1}),
	})
	coord := newCoordinator(t, config.ModeDecomposed, srv, nil)

	_, err := coord.RunPipeline(context.Background(), "1+1")
	var malformed *stage.MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want MalformedResponseError", err)
	}
	if malformed.Stage != stage.Parse || malformed.Field != stage.FieldAST {
		t.Fatalf("malformed = %s/%s, want parse/ast", malformed.Stage, malformed.Field)
	}
	if diff := cmp.Diff([]string{"/lex", "/parse"}, srv.Paths()); diff != "" {
		t.Fatalf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestDecomposedNullOutputIsMissing(t *testing.T) {
	srv := arithServer(t, map[string]http.HandlerFunc{
		"/lex": testkit.Raw(http.StatusOK, `{"tokens":null}`),
	})
	coord := newCoordinator(t, config.ModeDecomposed, srv, nil)

	_, err := coord.RunPipeline(context.Background(), "1+1")
	var malformed *stage.MalformedResponseError
	if !errors.As(err, &malformed) || malformed.Field != stage.FieldTokens {
		t.Fatalf("err = %v, want MalformedResponseError for tokens", err)
	}
}

func TestDecomposedCodeMustBeString(t *testing.T) {
	srv := arithServer(t, map[string]http.HandlerFunc{
		"/codegen": testkit.Reply(stage.FieldCode, 42),
	})
	coord := newCoordinator(t, config.ModeDecomposed, srv, nil)

	_, err := coord.RunPipeline(context.Background(), "1+1")
	var malformed *stage.MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("err = %v, want MalformedResponseError", err)
	}
	if malformed.Stage != stage.Codegen || malformed.Reason == "" {
		t.Fatalf("malformed = %+v, want codegen with reason", malformed)
	}
}

func TestDecomposedArtifactsAndTimings(t *testing.T) {
	srv := arithServer(t, nil)
	coord := newCoordinator(t, config.ModeDecomposed, srv, nil)

	res, err := coord.Compile(context.Background(), &CompileRequest{Source: "1+1"})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if res.Code != "print(2)" {
		t.Fatalf("Code = %q, want print(2)", res.Code)
	}
	want := map[stage.Field]string{
		stage.FieldTokens:     `["1","+","1"]`,
		stage.FieldAST:        `{"l":1,"op":"+","r":1}`,
		stage.FieldCheckedAST: `{"l":1,"op":"+","r":1,"type":"int"}`,
	}
	got := make(map[stage.Field]string, len(res.Artifacts))
	for f, raw := range res.Artifacts {
		got[f] = string(raw)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("artifacts mismatch (-want +got):\n%s", diff)
	}
	for _, name := range stage.Names() {
		if !res.Timings.Has(name) {
			t.Fatalf("timings missing %s", name)
		}
	}
	if res.Timings.Has(stage.Unified) {
		t.Fatalf("decomposed run recorded a unified timing")
	}
}

type progressStep struct {
	Stage  stage.Name
	Status Status
}

func steps(events []Event) []progressStep {
	out := make([]progressStep, len(events))
	for i, e := range events {
		out[i] = progressStep{Stage: e.Stage, Status: e.Status}
	}
	return out
}

func TestDecomposedProgressEvents(t *testing.T) {
	srv := arithServer(t, nil)
	coord := newCoordinator(t, config.ModeDecomposed, srv, nil)
	sink := &RecordingSink{}

	if _, err := coord.Compile(context.Background(), &CompileRequest{Source: "1+1", File: "a.kr", Progress: sink}); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := []progressStep{
		{stage.Lex, StatusQueued},
		{stage.Parse, StatusQueued},
		{stage.Semantic, StatusQueued},
		{stage.Codegen, StatusQueued},
		{stage.Lex, StatusWorking},
		{stage.Lex, StatusDone},
		{stage.Parse, StatusWorking},
		{stage.Parse, StatusDone},
		{stage.Semantic, StatusWorking},
		{stage.Semantic, StatusDone},
		{stage.Codegen, StatusWorking},
		{stage.Codegen, StatusDone},
	}
	events := sink.Events()
	if diff := cmp.Diff(want, steps(events)); diff != "" {
		t.Fatalf("progress mismatch (-want +got):\n%s", diff)
	}
	for _, e := range events {
		if e.File != "a.kr" {
			t.Fatalf("event file = %q, want a.kr", e.File)
		}
	}
}

func TestDecomposedProgressOnFailure(t *testing.T) {
	srv := arithServer(t, nil)
	coord := newCoordinator(t, config.ModeDecomposed, srv, nil)
	sink := &RecordingSink{}

	_, err := coord.Compile(context.Background(), &CompileRequest{Source: "1+", Progress: sink})
	if err == nil {
		t.Fatalf("expected parse failure")
	}
	events := sink.Events()
	last := events[len(events)-1]
	if last.Stage != stage.Parse || last.Status != StatusError || last.Err == nil {
		t.Fatalf("last event = %+v, want parse error", last)
	}
	for _, e := range events {
		if e.Stage == stage.Semantic && e.Status != StatusQueued {
			t.Fatalf("semantic progressed past queued: %+v", e)
		}
	}
}

func TestDecomposedCanceledContext(t *testing.T) {
	srv := arithServer(t, nil)
	coord := newCoordinator(t, config.ModeDecomposed, srv, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := coord.RunPipeline(ctx, "1+1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if got, ok := stage.FailedStage(err); !ok || got != stage.Lex {
		t.Fatalf("FailedStage = %q, %v, want lex", got, ok)
	}
	if n := len(srv.Calls()); n != 0 {
		t.Fatalf("server saw %d calls, want 0", n)
	}
}

func TestDecomposedLogsAbort(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	srv := arithServer(t, nil)
	coord := newCoordinator(t, config.ModeDecomposed, srv, zap.New(core))

	if _, err := coord.Compile(context.Background(), &CompileRequest{Source: "1 $ 1", File: "bad.kr"}); err == nil {
		t.Fatalf("expected lexical failure")
	}
	aborted := logs.FilterMessage("pipeline aborted").All()
	if len(aborted) != 1 {
		t.Fatalf("got %d abort entries, want 1", len(aborted))
	}
	entry := aborted[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("abort level = %s, want warn", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["stage"] != "lex" || fields["file"] != "bad.kr" {
		t.Fatalf("abort fields = %v", fields)
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	sender := &countingSender{}
	if _, err := New(Options{Mode: "pipelined", Endpoints: sameEndpoints("http://x"), Sender: sender}); err == nil {
		t.Fatalf("expected unsupported mode error")
	}
	if _, err := New(Options{Mode: config.ModeDecomposed, Endpoints: sameEndpoints("http://x")}); err == nil {
		t.Fatalf("expected missing sender error")
	}
	endpoints := sameEndpoints("http://x")
	endpoints.Codegen = ""
	if _, err := New(Options{Mode: config.ModeDecomposed, Endpoints: endpoints, Sender: sender}); err == nil {
		t.Fatalf("expected missing codegen endpoint error")
	}
	if _, err := New(Options{Mode: config.ModeUnified, Endpoints: config.Endpoints{}, Sender: sender}); err == nil {
		t.Fatalf("expected missing compile endpoint error")
	}
	coord, err := New(Options{Mode: config.ModeUnified, Endpoints: endpoints, Sender: sender})
	if err != nil {
		t.Fatalf("unified ignores stage endpoints: %v", err)
	}
	if coord.Mode() != config.ModeUnified {
		t.Fatalf("Mode = %q, want unified", coord.Mode())
	}
}
