// Package buildpipeline drives source text through the stage services.
//
// A Coordinator is picked once from configuration: Unified sends the source
// to the single /compile endpoint, Decomposed chains the four stage endpoints
// in table order. Both either return the complete generated code or fail as a
// whole; no partial result leaves a failed run.
package buildpipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"kururi/internal/config"
	"kururi/internal/stage"
	"kururi/internal/trace"
	"kururi/internal/transport"
)

// Coordinator runs whole pipelines.
type Coordinator interface {
	// Mode reports the topology this coordinator drives.
	Mode() config.Mode
	// RunPipeline compiles source and returns the generated code.
	RunPipeline(ctx context.Context, source string) (string, error)
	// Compile is RunPipeline with progress reporting, timings and the
	// intermediate artifacts.
	Compile(ctx context.Context, req *CompileRequest) (CompileResult, error)
}

// CompileRequest configures one run.
type CompileRequest struct {
	Source string
	// File labels the run in progress events and traces.
	File     string
	Progress ProgressSink
}

// CompileResult captures the artifacts of a successful run.
type CompileResult struct {
	Code string
	// Artifacts holds tokens, ast and checked_ast as received.
	Artifacts stage.Artifacts
	Timings   Timings
}

// Options configures a coordinator.
type Options struct {
	Mode      config.Mode
	Endpoints config.Endpoints
	Sender    transport.Sender
	Logger    *zap.Logger
}

// New returns the coordinator for opts.Mode.
func New(opts Options) (Coordinator, error) {
	switch opts.Mode {
	case config.ModeUnified:
		return NewUnified(opts)
	case config.ModeDecomposed:
		return NewDecomposed(opts)
	default:
		return nil, fmt.Errorf("unsupported pipeline mode %q", opts.Mode)
	}
}

func loggerOrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

func runLabel(req *CompileRequest) string {
	if req.File != "" {
		return "run:" + req.File
	}
	return "run"
}

// callStage issues the request for contract c and returns its output value.
func callStage(ctx context.Context, sender transport.Sender, c stage.Contract, ep transport.Endpoint, input json.RawMessage) (json.RawMessage, error) {
	payload := map[stage.Field]json.RawMessage{c.Input: input}
	if err := ctx.Err(); err != nil {
		body, _ := json.Marshal(payload)
		return nil, &stage.TransportError{Stage: c.Stage, URL: ep.URL, Payload: body, Err: err}
	}

	span := trace.Begin(trace.FromContext(ctx), trace.ScopeStage, string(c.Stage), trace.ParentSpan(ctx))
	resp, err := sender.Send(trace.WithSpan(ctx, span.ID()), ep, payload)
	if err != nil {
		span.WithExtra("error", err.Error()).End("failed")
		return nil, err
	}
	span.WithExtra("status", fmt.Sprint(resp.Status))

	out, ok := resp.Field(c.Output)
	if !ok {
		body, _ := json.Marshal(payload)
		err := &stage.MalformedResponseError{
			Stage:   c.Stage,
			URL:     ep.URL,
			Payload: body,
			Field:   c.Output,
			Body:    resp.Body,
		}
		span.WithExtra("error", err.Error()).End("malformed")
		return nil, err
	}
	span.End("ok")
	return out, nil
}
