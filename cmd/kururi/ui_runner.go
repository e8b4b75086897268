package main

import (
	"context"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"kururi/internal/buildpipeline"
	"kururi/internal/ui"
)

type compileOutcome struct {
	result buildpipeline.CompileResult
	err    error
}

type batchOutcome struct {
	results []buildpipeline.JobResult
	err     error
}

func runCompileWithUI(ctx context.Context, out io.Writer, coord buildpipeline.Coordinator, req *buildpipeline.CompileRequest) (buildpipeline.CompileResult, error) {
	if req == nil {
		return buildpipeline.CompileResult{}, fmt.Errorf("missing compile request")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := make(chan buildpipeline.Event, 256)
	outcomeCh := make(chan compileOutcome, 1)

	go func() {
		reqCopy := *req
		reqCopy.Progress = buildpipeline.ChannelSink{Ch: events}
		res, err := coord.Compile(ctx, &reqCopy)
		outcomeCh <- compileOutcome{result: res, err: err}
		close(events)
	}()

	uiErr := runProgram(out, "compile", []string{req.File}, events, cancel)
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.result, uiErr
	}
	return outcome.result, outcome.err
}

func runBatchWithUI(ctx context.Context, out io.Writer, coord buildpipeline.Coordinator, jobs []buildpipeline.Job, opts buildpipeline.BatchOptions) ([]buildpipeline.JobResult, error) {
	files := make([]string, len(jobs))
	for i, job := range jobs {
		files[i] = job.File
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	events := make(chan buildpipeline.Event, 256)
	outcomeCh := make(chan batchOutcome, 1)

	go func() {
		opts.Progress = buildpipeline.ChannelSink{Ch: events}
		results, err := buildpipeline.CompileAll(ctx, coord, jobs, opts)
		outcomeCh <- batchOutcome{results: results, err: err}
		close(events)
	}()

	uiErr := runProgram(out, "batch", files, events, cancel)
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.results, uiErr
	}
	return outcome.results, outcome.err
}

// runProgram shows the progress display until events closes or the user
// quits. A quit cancels the run.
func runProgram(out io.Writer, title string, files []string, events <-chan buildpipeline.Event, cancel context.CancelFunc) error {
	model := ui.NewProgressModel(title, files, events, cancel)
	program := tea.NewProgram(model, tea.WithOutput(out))
	_, err := program.Run()
	if err != nil {
		cancel()
	}
	// Keep the producer from blocking on a full channel.
	for range events {
	}
	return err
}
