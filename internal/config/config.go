// Package config loads the deployment description of the stage services.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fortio.org/safecast"
	"github.com/BurntSushi/toml"

	"kururi/internal/stage"
)

// FileName is the manifest looked up from the working directory upwards.
const FileName = "kururi.toml"

// EnvConfig names an explicit manifest path.
const EnvConfig = "KURURI_CONFIG"

// Mode selects the deployment topology.
type Mode string

const (
	// ModeUnified sends the whole pipeline to one /compile endpoint.
	ModeUnified Mode = "unified"
	// ModeDecomposed calls one endpoint per stage.
	ModeDecomposed Mode = "decomposed"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeUnified:
		return ModeUnified, nil
	case ModeDecomposed:
		return ModeDecomposed, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected unified|decomposed)", s)
	}
}

// Endpoints holds the base address of every stage service.
// It is passed by value and never mutated after Load.
type Endpoints struct {
	Compile  string `toml:"compile"`
	Lex      string `toml:"lex"`
	Parse    string `toml:"parse"`
	Semantic string `toml:"semantic"`
	Codegen  string `toml:"codegen"`
}

// Base returns the base address configured for name.
func (e Endpoints) Base(name stage.Name) string {
	switch name {
	case stage.Unified:
		return e.Compile
	case stage.Lex:
		return e.Lex
	case stage.Parse:
		return e.Parse
	case stage.Semantic:
		return e.Semantic
	case stage.Codegen:
		return e.Codegen
	default:
		return ""
	}
}

// Duration decodes TOML strings such as "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Pipeline holds run settings.
type Pipeline struct {
	Mode         Mode     `toml:"mode"`
	Timeout      Duration `toml:"timeout"`
	LogBodyLimit int64    `toml:"log_body_limit"`
	Jobs         int64    `toml:"jobs"`
}

// Config is the decoded manifest.
type Config struct {
	// Path is the file the config came from; empty for defaults.
	Path      string    `toml:"-"`
	Pipeline  Pipeline  `toml:"pipeline"`
	Endpoints Endpoints `toml:"endpoints"`
}

// Default mirrors the stock deployment: one compiler service on 8080 and the
// split services on 5000-5003.
func Default() Config {
	return Config{
		Pipeline: Pipeline{
			Mode:         ModeUnified,
			Timeout:      Duration{30 * time.Second},
			LogBodyLimit: 4096,
			Jobs:         4,
		},
		Endpoints: Endpoints{
			Compile:  "http://localhost:8080",
			Lex:      "http://localhost:5000",
			Parse:    "http://localhost:5001",
			Semantic: "http://localhost:5002",
			Codegen:  "http://localhost:5003",
		},
	}
}

// BodyLimit returns the log clip size as an int.
func (c Config) BodyLimit() (int, error) {
	n, err := safecast.Conv[int](c.Pipeline.LogBodyLimit)
	if err != nil {
		return 0, fmt.Errorf("log_body_limit out of range: %w", err)
	}
	return n, nil
}

// JobLimit returns the batch concurrency as an int.
func (c Config) JobLimit() (int, error) {
	n, err := safecast.Conv[int](c.Pipeline.Jobs)
	if err != nil {
		return 0, fmt.Errorf("jobs out of range: %w", err)
	}
	return n, nil
}

// Find walks from startDir to the filesystem root looking for FileName.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Resolve picks the manifest: explicit path, then $KURURI_CONFIG, then the
// nearest kururi.toml. Without any, it returns Default.
func Resolve(explicit, startDir string) (Config, error) {
	path := explicit
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		found, ok, err := Find(startDir)
		if err != nil {
			return Config{}, err
		}
		if !ok {
			return Default(), nil
		}
		path = found
	}
	return Load(path)
}

// Load decodes path over the defaults and validates the result.
// Keys absent from the file keep their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if meta.IsDefined("pipeline", "mode") {
		mode, err := ParseMode(string(cfg.Pipeline.Mode))
		if err != nil {
			return Config{}, fmt.Errorf("%s: [pipeline].mode: %w", path, err)
		}
		cfg.Pipeline.Mode = mode
	}
	cfg.Path = path
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the settings the selected mode depends on.
func (c Config) Validate() error {
	if _, err := ParseMode(string(c.Pipeline.Mode)); err != nil {
		return fmt.Errorf("[pipeline].mode: %w", err)
	}
	if c.Pipeline.Timeout.Duration <= 0 {
		return fmt.Errorf("[pipeline].timeout must be positive")
	}
	if c.Pipeline.LogBodyLimit <= 0 {
		return fmt.Errorf("[pipeline].log_body_limit must be positive")
	}
	if c.Pipeline.Jobs <= 0 {
		return fmt.Errorf("[pipeline].jobs must be positive")
	}
	required := []stage.Name{stage.Unified}
	if c.Pipeline.Mode == ModeDecomposed {
		required = stage.Names()
	}
	for _, name := range required {
		if err := checkURL(name, c.Endpoints.Base(name)); err != nil {
			return err
		}
	}
	return nil
}

func checkURL(name stage.Name, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("[endpoints].%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("[endpoints].%s: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("[endpoints].%s: scheme must be http or https, got %q", name, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("[endpoints].%s: missing host", name)
	}
	return nil
}
