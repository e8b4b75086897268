package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"kururi/internal/stage"
)

func writeManifest(t *testing.T, dir, data string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write %s: %v", FileName, err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate(): %v", err)
	}
	if cfg.Pipeline.Mode != ModeUnified {
		t.Fatalf("default mode = %q, want unified", cfg.Pipeline.Mode)
	}
	if cfg.Endpoints.Base(stage.Lex) != "http://localhost:5000" {
		t.Fatalf("default lex = %q", cfg.Endpoints.Base(stage.Lex))
	}
}

func TestLoadDecomposed(t *testing.T) {
	path := writeManifest(t, t.TempDir(), `# test manifest
[pipeline]
mode = "decomposed"
timeout = "5s"
jobs = 2

[endpoints]
lex = "http://lexer:5000"
parse = "http://parser:5001"
semantic = "http://semantic:5002"
codegen = "http://codegen:5003"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.Mode != ModeDecomposed {
		t.Fatalf("mode = %q, want decomposed", cfg.Pipeline.Mode)
	}
	if cfg.Pipeline.Timeout.Duration != 5*time.Second {
		t.Fatalf("timeout = %v, want 5s", cfg.Pipeline.Timeout.Duration)
	}
	if cfg.Pipeline.LogBodyLimit != 4096 {
		t.Fatalf("log_body_limit = %d, want default 4096", cfg.Pipeline.LogBodyLimit)
	}
	if got := cfg.Endpoints.Base(stage.Semantic); got != "http://semantic:5002" {
		t.Fatalf("semantic = %q", got)
	}
	if cfg.Path != path {
		t.Fatalf("Path = %q, want %q", cfg.Path, path)
	}
	jobs, err := cfg.JobLimit()
	if err != nil || jobs != 2 {
		t.Fatalf("JobLimit() = %d, %v; want 2", jobs, err)
	}
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name string
		data string
		want string
	}{
		{"bad mode", "[pipeline]\nmode = \"hybrid\"\n", "[pipeline].mode"},
		{"bad timeout", "[pipeline]\ntimeout = \"soon\"\n", "failed to parse TOML"},
		{"zero timeout", "[pipeline]\ntimeout = \"0s\"\n", "timeout must be positive"},
		{"unknown key", "[pipeline]\nretries = 3\n", "unknown keys: pipeline.retries"},
		{"bad scheme", "[endpoints]\ncompile = \"ftp://x\"\n", "scheme must be http or https"},
		{"missing stage", "[pipeline]\nmode = \"decomposed\"\n[endpoints]\nparse = \"\"\n", "[endpoints].parse is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeManifest(t, t.TempDir(), tc.data)
			_, err := Load(path)
			if err == nil {
				t.Fatalf("Load expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Load error = %q, want it to contain %q", err, tc.want)
			}
		})
	}
}

func TestUnifiedIgnoresStageEndpoints(t *testing.T) {
	path := writeManifest(t, t.TempDir(), "[pipeline]\nmode = \"unified\"\n[endpoints]\nlex = \"\"\n")
	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
}

func TestFindWalksUp(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[pipeline]\nmode = \"unified\"\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path, ok, err := Find(nested)
	if err != nil || !ok {
		t.Fatalf("Find = %q, %v, %v", path, ok, err)
	}
	if filepath.Dir(path) != root {
		t.Fatalf("Find = %q, want file in %q", path, root)
	}
}

func TestResolvePrefersEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeManifest(t, dir, "[pipeline]\nmode = \"decomposed\"\n")
	t.Setenv(EnvConfig, path)
	cfg, err := Resolve("", t.TempDir())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Pipeline.Mode != ModeDecomposed {
		t.Fatalf("mode = %q, want decomposed from env manifest", cfg.Pipeline.Mode)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"unified": ModeUnified, " Decomposed ": ModeDecomposed} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseMode(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseMode("both"); err == nil {
		t.Fatalf("ParseMode(both) expected error")
	}
}
