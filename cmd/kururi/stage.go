package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kururi/internal/buildpipeline"
	"kururi/internal/bundle"
	"kururi/internal/stage"
)

// artifactFlags maps input flags to the artifact they carry.
var artifactFlags = []struct {
	flag  string
	field stage.Field
}{
	{"tokens", stage.FieldTokens},
	{"ast", stage.FieldAST},
	{"checked-ast", stage.FieldCheckedAST},
}

func newStageCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stage <lex|parse|semantic|codegen>",
		Short: "Run one compilation stage in isolation",
		Long: `stage sends a single request to one stage service and prints the artifact it
returns. Inputs come from a bundle saved by --keep-artifacts or --update-bundle,
from --source, or from JSON files given with --tokens, --ast and --checked-ast.`,
		Args: cobra.ExactArgs(1),
		RunE: a.runStage,
	}
	f := cmd.Flags()
	f.String("bundle", "", "artifact bundle to read inputs from")
	f.Bool("update-bundle", false, "store the stage output back into --bundle")
	f.String("source", "", "source file supplying the code artifact")
	for _, af := range artifactFlags {
		f.String(af.flag, "", fmt.Sprintf("JSON file supplying the %s artifact", af.field))
	}
	f.String("out", "", "write the output artifact to this file instead of stdout")
	return cmd
}

func (a *app) runStage(cmd *cobra.Command, args []string) error {
	name, err := stage.ParseName(args[0])
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	bundlePath, _ := flags.GetString("bundle")
	update, _ := flags.GetBool("update-bundle")
	outPath, _ := flags.GetString("out")
	if update && bundlePath == "" {
		return fmt.Errorf("--update-bundle requires --bundle")
	}

	b := bundle.FromArtifacts(nil)
	if bundlePath != "" {
		loaded, ok, err := bundle.Load(bundlePath)
		if err != nil {
			return err
		}
		if ok {
			b = loaded
		} else if !update {
			return fmt.Errorf("bundle %s does not exist", bundlePath)
		}
	}
	if err := collectInputs(cmd, b); err != nil {
		return err
	}

	sender, err := a.sender()
	if err != nil {
		return err
	}
	runner, err := buildpipeline.NewRunner(buildpipeline.RunnerOptions{
		Endpoints: a.cfg.Endpoints,
		Sender:    sender,
		Logger:    a.log,
	})
	if err != nil {
		return err
	}
	out, err := runner.RunStage(cmd.Context(), name, b.Artifacts())
	if err != nil {
		renderFailure(a.stderr, err)
		return errReported
	}

	if outPath != "" {
		if err := os.WriteFile(outPath, out, 0o644); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	} else {
		fmt.Fprintf(a.stdout, "%s\n", out)
	}

	if update {
		if err := b.PutOutput(name, out); err != nil {
			return err
		}
		if err := bundle.Save(bundlePath, b); err != nil {
			return fmt.Errorf("failed to update bundle: %w", err)
		}
	}
	return nil
}

// collectInputs overlays artifacts given on the command line onto b.
func collectInputs(cmd *cobra.Command, b *bundle.Bundle) error {
	flags := cmd.Flags()
	if path, _ := flags.GetString("source"); path != "" {
		src, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read source: %w", err)
		}
		raw, err := stage.EncodeSource(string(src))
		if err != nil {
			return err
		}
		b.Put(stage.FieldCode, raw)
	}
	for _, af := range artifactFlags {
		path, _ := flags.GetString(af.flag)
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("--%s: %w", af.flag, err)
		}
		if !json.Valid(data) {
			return fmt.Errorf("--%s: %s is not valid JSON", af.flag, path)
		}
		b.Put(af.field, json.RawMessage(data))
	}
	return nil
}
