package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"kururi/internal/buildpipeline"
	"kururi/internal/config"
	"kururi/internal/trace"
	"kururi/internal/transport"
)

// app carries the state shared by every command after PersistentPreRunE.
type app struct {
	stdout io.Writer
	stderr io.Writer

	cfg    config.Config
	log    *zap.Logger
	tracer trace.Tracer

	traceCleanup func()
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	flags := cmd.Root().PersistentFlags()

	colorMode, _ := flags.GetString("color")
	if err := applyColorMode(colorMode, a.stderr); err != nil {
		return err
	}

	level, _ := flags.GetString("log-level")
	format, _ := flags.GetString("log-format")
	logger, err := newLogger(level, format, a.stderr)
	if err != nil {
		return err
	}
	a.log = logger

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log.Debug("configuration resolved",
		zap.String("path", cfg.Path),
		zap.String("mode", string(cfg.Pipeline.Mode)),
		zap.Duration("timeout", cfg.Pipeline.Timeout.Duration))

	cleanup, err := a.setupTracing(cmd)
	if err != nil {
		return err
	}
	a.traceCleanup = cleanup
	return nil
}

func (a *app) close() {
	if a.traceCleanup != nil {
		a.traceCleanup()
		a.traceCleanup = nil
	}
	if a.log != nil {
		// Sync on a terminal stderr reports EINVAL.
		_ = a.log.Sync()
	}
}

// loadConfig resolves kururi.toml and applies the flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Root().PersistentFlags()
	path, _ := flags.GetString("config")
	cfg, err := config.Resolve(path, ".")
	if err != nil {
		return config.Config{}, err
	}
	if flags.Changed("mode") {
		raw, _ := flags.GetString("mode")
		mode, err := config.ParseMode(raw)
		if err != nil {
			return config.Config{}, fmt.Errorf("--mode: %w", err)
		}
		cfg.Pipeline.Mode = mode
	}
	if flags.Changed("timeout") {
		timeout, _ := flags.GetDuration("timeout")
		cfg.Pipeline.Timeout = config.Duration{Duration: timeout}
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(level, format string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	var encoder zapcore.Encoder
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	case "console":
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	default:
		return nil, fmt.Errorf("--log-format: unsupported format %q (expected json|console)", format)
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(w), lvl)
	return zap.New(core).Named("kururi"), nil
}

func applyColorMode(mode string, w io.Writer) error {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "auto":
		color.NoColor = os.Getenv("NO_COLOR") != "" || !isTerminal(w)
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		return fmt.Errorf("invalid --color value %q (expected auto|on|off)", mode)
	}
	return nil
}

func (a *app) sender() (*transport.Client, error) {
	limit, err := a.cfg.BodyLimit()
	if err != nil {
		return nil, err
	}
	return transport.New(transport.Options{
		Timeout:      a.cfg.Pipeline.Timeout.Duration,
		Logger:       a.log,
		LogBodyLimit: limit,
	}), nil
}

func (a *app) coordinator() (buildpipeline.Coordinator, error) {
	sender, err := a.sender()
	if err != nil {
		return nil, err
	}
	return buildpipeline.New(buildpipeline.Options{
		Mode:      a.cfg.Pipeline.Mode,
		Endpoints: a.cfg.Endpoints,
		Sender:    sender,
		Logger:    a.log,
	})
}
