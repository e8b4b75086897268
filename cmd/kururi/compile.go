package main

import (
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kururi/internal/buildpipeline"
	"kururi/internal/bundle"
	"kururi/internal/stage"
)

func (a *app) runCompile(cmd *cobra.Command, args []string) error {
	inPath, outPath := args[0], args[1]

	keep, _ := cmd.Flags().GetString("keep-artifacts")
	showTimings, _ := cmd.Flags().GetBool("timings")
	display := progressFlag(cmd.Flags())

	src, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	if !utf8.Valid(src) {
		return fmt.Errorf("%s: %w", inPath, stage.ErrInvalidUTF8)
	}
	coord, err := a.coordinator()
	if err != nil {
		return err
	}

	req := &buildpipeline.CompileRequest{Source: string(src), File: inPath}
	var res buildpipeline.CompileResult
	if display.interactive(a.stdout) {
		res, err = runCompileWithUI(cmd.Context(), a.stdout, coord, req)
	} else {
		res, err = coord.Compile(cmd.Context(), req)
	}
	if err != nil {
		renderFailure(a.stderr, err)
		return errReported
	}

	if err := os.WriteFile(outPath, []byte(res.Code), 0o644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	a.log.Info("pipeline complete",
		zap.String("input", inPath),
		zap.String("output", outPath),
		zap.String("mode", string(coord.Mode())),
		zap.Duration("elapsed", res.Timings.Total()))

	if keep != "" {
		if err := saveArtifacts(keep, string(src), res); err != nil {
			return err
		}
	}
	if showTimings {
		printStageTimings(a.stderr, res.Timings)
	}
	fmt.Fprintf(a.stdout, "generated: %s\n", outPath)
	return nil
}

// saveArtifacts writes the source and every intermediate of res to a bundle
// that `kururi stage --bundle` can resume from.
func saveArtifacts(path, source string, res buildpipeline.CompileResult) error {
	artifacts := res.Artifacts.Clone()
	raw, err := stage.EncodeSource(source)
	if err != nil {
		return err
	}
	artifacts[stage.FieldCode] = raw
	if err := bundle.Save(path, bundle.FromArtifacts(artifacts)); err != nil {
		return fmt.Errorf("failed to save artifacts: %w", err)
	}
	return nil
}
