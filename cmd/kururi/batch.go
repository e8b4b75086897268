package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kururi/internal/buildpipeline"
	"kururi/internal/stage"
)

func newBatchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch --out-dir <dir> <input>...",
		Short: "Compile several independent sources concurrently",
		Args:  cobra.MinimumNArgs(1),
		RunE:  a.runBatch,
	}
	f := cmd.Flags()
	f.String("out-dir", "", "directory receiving one output file per input")
	f.String("ext", ".py", "extension of the generated files")
	f.Int("jobs", 0, "concurrent runs (default: [pipeline].jobs)")
	f.Bool("fail-fast", false, "cancel the remaining runs after the first failure")
	addProgressFlag(f)
	_ = cmd.MarkFlagRequired("out-dir")
	return cmd
}

func (a *app) runBatch(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	outDir, _ := flags.GetString("out-dir")
	ext, _ := flags.GetString("ext")
	failFast, _ := flags.GetBool("fail-fast")
	display := progressFlag(flags)
	jobsLimit, _ := flags.GetInt("jobs")
	if jobsLimit <= 0 {
		var err error
		if jobsLimit, err = a.cfg.JobLimit(); err != nil {
			return err
		}
	}

	jobs := make([]buildpipeline.Job, 0, len(args))
	for _, path := range args {
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		if !utf8.Valid(src) {
			return fmt.Errorf("%s: %w", path, stage.ErrInvalidUTF8)
		}
		jobs = append(jobs, buildpipeline.Job{File: path, Source: string(src)})
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}

	coord, err := a.coordinator()
	if err != nil {
		return err
	}
	opts := buildpipeline.BatchOptions{Jobs: jobsLimit, FailFast: failFast}
	var results []buildpipeline.JobResult
	if display.interactive(a.stdout) {
		results, err = runBatchWithUI(cmd.Context(), a.stdout, coord, jobs, opts)
	} else {
		results, err = buildpipeline.CompileAll(cmd.Context(), coord, jobs, opts)
	}
	if results == nil && err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			renderFailure(a.stderr, r.Err)
			continue
		}
		target := outputName(outDir, r.File, ext)
		if werr := os.WriteFile(target, []byte(r.Result.Code), 0o644); werr != nil {
			return fmt.Errorf("failed to write output: %w", werr)
		}
		fmt.Fprintf(a.stdout, "generated: %s\n", target)
	}
	a.log.Info("batch complete",
		zap.Int("inputs", len(jobs)),
		zap.Int("failed", failed),
		zap.Int("jobs", jobsLimit))
	if failed > 0 {
		return fmt.Errorf("%w: %d of %d inputs failed", errReported, failed, len(jobs))
	}
	return nil
}

// outputName maps an input path to <dir>/<base><ext>.
func outputName(dir, input, ext string) string {
	base := filepath.Base(input)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(dir, base+ext)
}
