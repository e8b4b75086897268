// Package trace records where a pipeline run spends its time.
//
// Enable it from the command line:
//
//	kururi --trace=- --trace-level=stage in.kururi out.py
//
// # Tracers
//
//   - Nop: disabled tracing, no allocation on the hot path
//   - StreamTracer: writes each event as it happens (stderr or file)
//   - RingTracer: keeps the last N events for a dump after a failure
//   - MultiTracer: fans events out to several tracers
//
// # Levels and scopes
//
// A run span (ScopeRun) wraps one full pipeline invocation, a stage span
// (ScopeStage) wraps one stage call, and exchange events (ScopeExchange) carry
// request and response details. LevelRun shows runs only, LevelStage adds
// stages, LevelDebug shows everything.
//
// # Context
//
//	ctx = trace.WithTracer(ctx, tracer)
//	span := trace.Begin(trace.FromContext(ctx), trace.ScopeStage, "lex", parentID)
//	defer span.End("")
package trace
