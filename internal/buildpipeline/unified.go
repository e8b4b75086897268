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

// Unified sends the whole pipeline to one /compile endpoint.
type Unified struct {
	sender   transport.Sender
	log      *zap.Logger
	endpoint transport.Endpoint
}

// NewUnified binds the unified endpoint.
func NewUnified(opts Options) (*Unified, error) {
	if opts.Sender == nil {
		return nil, fmt.Errorf("missing stage sender")
	}
	base := opts.Endpoints.Base(stage.Unified)
	if base == "" {
		return nil, fmt.Errorf("no endpoint configured for unified compile")
	}
	return &Unified{
		sender:   opts.Sender,
		log:      loggerOrNop(opts.Logger).Named("pipeline"),
		endpoint: transport.Endpoint{Stage: stage.Unified, URL: transport.JoinURL(base, stage.UnifiedPath)},
	}, nil
}

// Mode implements Coordinator.
func (u *Unified) Mode() config.Mode { return config.ModeUnified }

// RunPipeline implements Coordinator.
func (u *Unified) RunPipeline(ctx context.Context, source string) (string, error) {
	res, err := u.Compile(ctx, &CompileRequest{Source: source})
	if err != nil {
		return "", err
	}
	return res.Code, nil
}

// Compile sends {code} to the unified endpoint. The response must carry
// tokens, ast, checked_ast and code; a missing member fails the run.
func (u *Unified) Compile(ctx context.Context, req *CompileRequest) (CompileResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req == nil {
		return CompileResult{}, fmt.Errorf("missing compile request")
	}

	src, err := stage.EncodeSource(req.Source)
	if err != nil {
		return CompileResult{}, err
	}
	payload := map[stage.Field]json.RawMessage{stage.FieldCode: src}

	runSpan := trace.Begin(trace.FromContext(ctx), trace.ScopeRun, runLabel(req), trace.ParentSpan(ctx))
	defer runSpan.End("")
	emitQueued(req.Progress, req.File, []stage.Name{stage.Unified})
	emitStage(req.Progress, req.File, stage.Unified, StatusWorking, nil, 0)

	start := time.Now()
	result, err := u.exchange(trace.WithSpan(ctx, runSpan.ID()), payload)
	elapsed := time.Since(start)
	if err != nil {
		emitStage(req.Progress, req.File, stage.Unified, StatusError, err, elapsed)
		runSpan.WithExtra("error", err.Error())
		u.log.Warn("pipeline aborted",
			zap.String("file", req.File),
			zap.String("stage", string(stage.Unified)),
			zap.Error(err))
		return CompileResult{}, err
	}
	result.Timings.Set(stage.Unified, elapsed)
	emitStage(req.Progress, req.File, stage.Unified, StatusDone, nil, elapsed)
	return result, nil
}

func (u *Unified) exchange(ctx context.Context, payload map[stage.Field]json.RawMessage) (CompileResult, error) {
	span := trace.Begin(trace.FromContext(ctx), trace.ScopeStage, string(stage.Unified), trace.ParentSpan(ctx))
	defer span.End("")

	resp, err := u.sender.Send(trace.WithSpan(ctx, span.ID()), u.endpoint, payload)
	if err != nil {
		return CompileResult{}, err
	}
	body, _ := json.Marshal(payload)

	artifacts := make(stage.Artifacts, 3)
	for _, field := range stage.UnifiedOutputs() {
		raw, ok := resp.Field(field)
		if !ok {
			return CompileResult{}, &stage.MalformedResponseError{
				Stage:   stage.Unified,
				URL:     u.endpoint.URL,
				Payload: body,
				Field:   field,
				Body:    resp.Body,
			}
		}
		if field != stage.FieldCode {
			artifacts[field] = raw
		}
	}

	codeRaw, _ := resp.Field(stage.FieldCode)
	code, err := stage.DecodeCode(codeRaw)
	if err != nil {
		return CompileResult{}, &stage.MalformedResponseError{
			Stage:   stage.Unified,
			URL:     u.endpoint.URL,
			Payload: body,
			Field:   stage.FieldCode,
			Body:    resp.Body,
			Reason:  err.Error(),
		}
	}

	u.log.Info("pipeline results",
		zap.ByteString("tokens", artifacts[stage.FieldTokens]),
		zap.ByteString("ast", artifacts[stage.FieldAST]),
		zap.ByteString("checked_ast", artifacts[stage.FieldCheckedAST]),
		zap.String("code", code))

	return CompileResult{Code: code, Artifacts: artifacts}, nil
}
