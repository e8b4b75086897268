package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kururi/internal/trace"
)

// setupTracing reads the trace flags, attaches a tracer to the command
// context and returns the cleanup that flushes it.
func (a *app) setupTracing(cmd *cobra.Command) (func(), error) {
	flags := cmd.Root().PersistentFlags()

	output, err := flags.GetString("trace")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace flag: %w", err)
	}
	levelStr, err := flags.GetString("trace-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-level flag: %w", err)
	}
	modeStr, err := flags.GetString("trace-mode")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-mode flag: %w", err)
	}
	ringSize, err := flags.GetInt("trace-ring-size")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-ring-size flag: %w", err)
	}
	interval, err := flags.GetDuration("trace-heartbeat")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-heartbeat flag: %w", err)
	}

	level, err := trace.ParseLevel(levelStr)
	if err != nil {
		return nil, err
	}
	// A trace path without a level means "trace the stages".
	if level == trace.LevelOff && output != "" {
		level = trace.LevelStage
	}
	if level == trace.LevelOff {
		a.tracer = trace.Nop
		cmd.SetContext(trace.WithTracer(cmd.Context(), trace.Nop))
		return func() {}, nil
	}

	mode, err := trace.ParseMode(modeStr)
	if err != nil {
		return nil, err
	}
	cfg := trace.Config{
		Level:      level,
		Mode:       mode,
		OutputPath: output,
		RingSize:   ringSize,
		Heartbeat:  interval,
	}
	if output == "" || output == "-" {
		cfg.Output = a.stderr
	}
	tracer, err := trace.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	a.tracer = tracer
	cmd.SetContext(trace.WithTracer(cmd.Context(), tracer))

	heartbeat := trace.StartHeartbeat(tracer, interval)
	return func() {
		heartbeat.Stop()
		if err := tracer.Flush(); err != nil {
			fmt.Fprintf(a.stderr, "trace: flush error: %v\n", err)
		}
		if err := tracer.Close(); err != nil {
			fmt.Fprintf(a.stderr, "trace: close error: %v\n", err)
		}
	}, nil
}

// dumpTrace writes the in-memory trace ring after a failed run. Stream and
// both modes have already written every event.
func (a *app) dumpTrace() {
	ring, ok := a.tracer.(*trace.RingTracer)
	if !ok {
		return
	}
	fmt.Fprintln(a.stderr, "trace: last events before failure")
	if err := ring.Dump(a.stderr, trace.FormatText); err != nil {
		fmt.Fprintf(a.stderr, "trace: dump error: %v\n", err)
	}
}
