package buildpipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"kururi/internal/config"
	"kururi/internal/stage"
	"kururi/internal/transport"
)

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Endpoints config.Endpoints
	Sender    transport.Sender
	Logger    *zap.Logger
}

// Runner invokes a single stage in isolation. It always targets the
// per-stage endpoints; a unified deployment cannot start mid-pipeline.
// A Runner holds no per-call state.
type Runner struct {
	endpoints config.Endpoints
	sender    transport.Sender
	log       *zap.Logger
}

// NewRunner returns a Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Sender == nil {
		return nil, fmt.Errorf("missing stage sender")
	}
	return &Runner{
		endpoints: opts.Endpoints,
		sender:    opts.Sender,
		log:       loggerOrNop(opts.Logger).Named("runner"),
	}, nil
}

// RunStage sends the one request stage name needs, taking its input from
// available, and returns the stage output unmodified.
//
// An unknown stage, a missing or malformed input artifact or an unconfigured
// endpoint is reported as *stage.InvalidStageRequestError before any network call.
func (r *Runner) RunStage(ctx context.Context, name stage.Name, available stage.Artifacts) (json.RawMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	c, ok := stage.Lookup(name)
	if !ok {
		return nil, &stage.InvalidStageRequestError{
			Stage:  name,
			Reason: "unknown stage (expected lex, parse, semantic or codegen)",
		}
	}
	input, ok := available.Get(c.Input)
	if !ok {
		return nil, &stage.InvalidStageRequestError{Stage: name, Missing: c.Input}
	}
	if !json.Valid(input) {
		return nil, &stage.InvalidStageRequestError{
			Stage:  name,
			Reason: fmt.Sprintf("artifact %q is not valid JSON", c.Input),
		}
	}
	base := r.endpoints.Base(name)
	if base == "" {
		return nil, &stage.InvalidStageRequestError{
			Stage:  name,
			Reason: "no endpoint configured for this stage",
		}
	}

	ep := transport.Endpoint{Stage: name, URL: transport.JoinURL(base, c.Path)}
	r.log.Debug("running single stage",
		zap.String("stage", string(name)),
		zap.String("input", string(c.Input)),
		zap.String("url", ep.URL))
	return callStage(ctx, r.sender, c, ep, input)
}
