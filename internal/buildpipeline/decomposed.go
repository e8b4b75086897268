package buildpipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kururi/internal/config"
	"kururi/internal/stage"
	"kururi/internal/trace"
	"kururi/internal/transport"
)

type boundStage struct {
	contract stage.Contract
	endpoint transport.Endpoint
}

// Decomposed chains the four stage services.
type Decomposed struct {
	sender transport.Sender
	log    *zap.Logger
	stages []boundStage
}

// NewDecomposed binds every contract to its configured endpoint.
func NewDecomposed(opts Options) (*Decomposed, error) {
	if opts.Sender == nil {
		return nil, fmt.Errorf("missing stage sender")
	}
	stages, err := bindStages(opts.Endpoints)
	if err != nil {
		return nil, err
	}
	return &Decomposed{
		sender: opts.Sender,
		log:    loggerOrNop(opts.Logger).Named("pipeline"),
		stages: stages,
	}, nil
}

func bindStages(endpoints config.Endpoints) ([]boundStage, error) {
	contracts := stage.Contracts()
	out := make([]boundStage, 0, len(contracts))
	for _, c := range contracts {
		base := endpoints.Base(c.Stage)
		if base == "" {
			return nil, fmt.Errorf("no endpoint configured for stage %q", c.Stage)
		}
		out = append(out, boundStage{
			contract: c,
			endpoint: transport.Endpoint{Stage: c.Stage, URL: transport.JoinURL(base, c.Path)},
		})
	}
	return out, nil
}

// Mode implements Coordinator.
func (d *Decomposed) Mode() config.Mode { return config.ModeDecomposed }

// RunPipeline implements Coordinator.
func (d *Decomposed) RunPipeline(ctx context.Context, source string) (string, error) {
	res, err := d.Compile(ctx, &CompileRequest{Source: source})
	if err != nil {
		return "", err
	}
	return res.Code, nil
}

// Compile runs lex, parse, semantic and codegen in order. Each stage starts
// only after the previous response has been received and validated.
func (d *Decomposed) Compile(ctx context.Context, req *CompileRequest) (CompileResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req == nil {
		return CompileResult{}, fmt.Errorf("missing compile request")
	}

	current, err := stage.EncodeSource(req.Source)
	if err != nil {
		return CompileResult{}, err
	}

	runSpan := trace.Begin(trace.FromContext(ctx), trace.ScopeRun, runLabel(req), trace.ParentSpan(ctx))
	ctx = trace.WithSpan(ctx, runSpan.ID())

	emitQueued(req.Progress, req.File, stage.Names())

	var (
		timings Timings
		code    string
	)
	artifacts := make(stage.Artifacts, len(d.stages)-1)
	for _, s := range d.stages {
		c := s.contract
		emitStage(req.Progress, req.File, c.Stage, StatusWorking, nil, 0)
		start := time.Now()

		out, err := callStage(ctx, d.sender, c, s.endpoint, current)
		if err == nil && c.Output == stage.FieldCode {
			code, err = decodeGenerated(c, s.endpoint, current, out)
		}
		elapsed := time.Since(start)
		if err != nil {
			emitStage(req.Progress, req.File, c.Stage, StatusError, err, elapsed)
			d.log.Warn("pipeline aborted",
				zap.String("file", req.File),
				zap.String("stage", string(c.Stage)),
				zap.Error(err))
			runSpan.WithExtra("failed_stage", string(c.Stage)).End("failed")
			return CompileResult{}, err
		}

		timings.Set(c.Stage, elapsed)
		emitStage(req.Progress, req.File, c.Stage, StatusDone, nil, elapsed)
		if c.Output != stage.FieldCode {
			artifacts[c.Output] = out
		}
		current = out
	}

	runSpan.End("ok")
	return CompileResult{Code: code, Artifacts: artifacts, Timings: timings}, nil
}

// decodeGenerated unwraps the final `code` member into a string.
func decodeGenerated(c stage.Contract, ep transport.Endpoint, input, out json.RawMessage) (string, error) {
	code, err := stage.DecodeCode(out)
	if err != nil {
		payload, _ := json.Marshal(map[stage.Field]json.RawMessage{c.Input: input})
		return "", &stage.MalformedResponseError{
			Stage:   c.Stage,
			URL:     ep.URL,
			Payload: payload,
			Field:   stage.FieldCode,
			Body:    out,
			Reason:  err.Error(),
		}
	}
	return code, nil
}
