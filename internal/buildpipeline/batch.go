package buildpipeline

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Job is one independent pipeline run in a batch.
type Job struct {
	File   string
	Source string
}

// JobResult is the outcome of a Job.
type JobResult struct {
	File   string
	Result CompileResult
	Err    error
}

// BatchOptions configures CompileAll.
type BatchOptions struct {
	// Jobs caps concurrent runs; zero or less means one.
	Jobs int
	// FailFast cancels the remaining runs after the first failure.
	FailFast bool
	Progress ProgressSink
}

// CompileAll runs every job through coord concurrently. Runs share nothing
// but the coordinator, which is safe for concurrent use. Results keep the
// order of jobs. The returned error joins every failed run.
func CompileAll(ctx context.Context, coord Coordinator, jobs []Job, opts BatchOptions) ([]JobResult, error) {
	if coord == nil {
		return nil, fmt.Errorf("missing coordinator")
	}
	limit := opts.Jobs
	if limit <= 0 {
		limit = 1
	}

	results := make([]JobResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			res, err := coord.Compile(gctx, &CompileRequest{
				Source:   job.Source,
				File:     job.File,
				Progress: opts.Progress,
			})
			if err != nil {
				err = fmt.Errorf("%s: %w", job.File, err)
			}
			results[i] = JobResult{File: job.File, Result: res, Err: err}
			if opts.FailFast {
				return err
			}
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return results, errors.Join(errs...)
}
